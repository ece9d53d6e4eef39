package runmodel

// TaskCategory is the closed set of Phase work categories known to the
// core (§4.2). New categories require a ruleset migration; StrategyEngine
// refuses to compile a RunStrategy for an unknown category.
type TaskCategory string

const (
	CategoryFeatureScaffolding   TaskCategory = "feature_scaffolding"
	CategoryFeatureEnhancement   TaskCategory = "feature_enhancement"
	CategoryRefactorOptimization TaskCategory = "refactor_optimization"
	CategoryTestScaffolding      TaskCategory = "test_scaffolding"
	CategoryTestEnhancement      TaskCategory = "test_enhancement"
	CategoryDocsCreation         TaskCategory = "docs_creation"
	CategoryDocsEnhancement      TaskCategory = "docs_enhancement"
	CategoryBugfixTargeted       TaskCategory = "bugfix_targeted"
	CategoryBugfixExploratory    TaskCategory = "bugfix_exploratory"
	CategorySecurityHardening    TaskCategory = "security_hardening"
	CategoryConfigInfra          TaskCategory = "config_infra"
	CategoryDebtCleanup          TaskCategory = "debt_cleanup"

	// HIGH_RISK categories (§4.2): force strict CI, tighter attempt caps,
	// Auditor-preferred patch decisions.
	CategoryExternalFeatureReuse TaskCategory = "external_feature_reuse"
	CategorySchemaContractChange TaskCategory = "schema_contract_change"
	CategoryCrossCuttingRefactor TaskCategory = "cross_cutting_refactor"
	CategoryIndexRegistryChange  TaskCategory = "index_registry_change"
	CategoryBulkMultiFileOp      TaskCategory = "bulk_multi_file_operation"
	CategorySecurityAuthChange   TaskCategory = "security_auth_change"
)

// AllCategories returns every known task_category.
func AllCategories() []TaskCategory {
	return []TaskCategory{
		CategoryFeatureScaffolding, CategoryFeatureEnhancement, CategoryRefactorOptimization,
		CategoryTestScaffolding, CategoryTestEnhancement, CategoryDocsCreation, CategoryDocsEnhancement,
		CategoryBugfixTargeted, CategoryBugfixExploratory, CategorySecurityHardening, CategoryConfigInfra,
		CategoryExternalFeatureReuse, CategorySchemaContractChange, CategoryCrossCuttingRefactor,
		CategoryIndexRegistryChange, CategoryBulkMultiFileOp, CategorySecurityAuthChange,
		CategoryDebtCleanup,
	}
}

// IsValidCategory reports whether c is a member of the closed task_category set.
func IsValidCategory(c TaskCategory) bool {
	for _, known := range AllCategories() {
		if known == c {
			return true
		}
	}
	return false
}

// highRiskCategories is the set forced into stricter policy by StrategyEngine.
var highRiskCategories = map[TaskCategory]bool{
	CategoryExternalFeatureReuse: true,
	CategorySchemaContractChange: true,
	CategoryCrossCuttingRefactor: true,
	CategoryIndexRegistryChange:  true,
	CategoryBulkMultiFileOp:      true,
	CategorySecurityAuthChange:   true,
}

// IsHighRisk reports whether c requires the HIGH_RISK policy overrides.
func (c TaskCategory) IsHighRisk() bool {
	return highRiskCategories[c]
}

// Complexity classifies a Phase's estimated difficulty.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// IsValidComplexity reports whether x is a recognized complexity value.
func IsValidComplexity(x Complexity) bool {
	switch x {
	case ComplexityLow, ComplexityMedium, ComplexityHigh:
		return true
	default:
		return false
	}
}

// BuilderMode describes how the Builder is expected to approach a Phase.
type BuilderMode string

const (
	BuilderModeCompose   BuilderMode = "compose"
	BuilderModeTransform BuilderMode = "transform"
	BuilderModeExtend    BuilderMode = "extend"
)

// SafetyProfile is the run-level dial that tightens tolerances, attempt
// caps, and aging (§3.1, §4.2).
type SafetyProfile string

const (
	SafetyNormal   SafetyProfile = "normal"
	SafetyCritical SafetyProfile = "safety_critical"
)

// IsValidSafetyProfile reports whether p is recognized.
func IsValidSafetyProfile(p SafetyProfile) bool {
	return p == SafetyNormal || p == SafetyCritical
}

// CIProfile selects the CI suite breadth CIGate runs (§4.7).
type CIProfile string

const (
	CIProfileNormal CIProfile = "normal"
	CIProfileStrict CIProfile = "strict"
)
