package runmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPhaseWithinBuilderAttempts(t *testing.T) {
	p := &Phase{PhaseBudgets: PhaseBudgets{MaxBuilderAttempts: 2}, BuilderAttempts: 1}
	assert.True(t, p.WithinBuilderAttempts())
	p.BuilderAttempts = 2
	assert.False(t, p.WithinBuilderAttempts())
}

func TestPhaseWithinTokenCapZeroCapIsImmediatelyExhausted(t *testing.T) {
	p := &Phase{PhaseBudgets: PhaseBudgets{TokenCap: 0}}
	assert.False(t, p.WithinTokenCap(1))
	assert.True(t, p.WithinTokenCap(0))
}

func TestIsValidCategoryClosedSet(t *testing.T) {
	assert.True(t, IsValidCategory(CategoryFeatureScaffolding))
	assert.True(t, IsValidCategory(CategorySchemaContractChange))
	assert.False(t, IsValidCategory(TaskCategory("made_up_category")))
}

func TestHighRiskCategories(t *testing.T) {
	assert.True(t, CategorySchemaContractChange.IsHighRisk())
	assert.True(t, CategorySecurityAuthChange.IsHighRisk())
	assert.False(t, CategoryDocsCreation.IsHighRisk())
}

func TestComputeTierTokenCap(t *testing.T) {
	assert.Equal(t, int64(900000), ComputeTierTokenCap([]int64{100000, 200000}))
	assert.Equal(t, int64(0), ComputeTierTokenCap(nil))
}
