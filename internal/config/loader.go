package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// LoadRuleset reads a ProjectRuleset from a YAML file at path, with
// AUTOPACK_-prefixed environment variable overrides bound the way the
// teacher's config loader binds env vars over layered YAML defaults.
func LoadRuleset(path string) (*ProjectRuleset, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("AUTOPACK")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read ruleset %s: %w", path, err)
	}

	var rs ProjectRuleset
	if err := v.Unmarshal(&rs); err != nil {
		return nil, fmt.Errorf("unmarshal ruleset %s: %w", path, err)
	}
	return &rs, nil
}

// ServerConfig is the Autopack ControlPlane process configuration (ambient
// stack concern: listen address, runs directory root, DB path).
type ServerConfig struct {
	ListenAddr        string `mapstructure:"listen_addr"`
	AutonomousRunsDir string `mapstructure:"autonomous_runs_dir"`
	ProjectDBPath     string `mapstructure:"project_db_path"`
	MetricsAddr       string `mapstructure:"metrics_addr"`

	// RulesetsDir holds one {project_id}.yaml ProjectRuleset file per
	// project, loaded lazily and cached by the RulesetProvider.
	RulesetsDir string `mapstructure:"rulesets_dir"`

	// ReposDir is the root under which each project's git checkout lives
	// at {repos_dir}/{project_id}.
	ReposDir   string `mapstructure:"repos_dir"`
	BaseBranch string `mapstructure:"base_branch"`

	// AgingSweepSchedule is a standard five-field cron expression for the
	// background ProjectIssueBacklog sweep (internal/aging).
	AgingSweepSchedule string `mapstructure:"aging_sweep_schedule"`
}

// DefaultServerConfig returns sensible defaults, mirroring the teacher's
// DefaultConfig() constructors used throughout the pack.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:         ":8090",
		AutonomousRunsDir:  ".autopack/runs",
		ProjectDBPath:      ".autopack/project.db",
		MetricsAddr:        ":9090",
		RulesetsDir:        ".autopack/rulesets",
		ReposDir:           ".autopack/repos",
		BaseBranch:         "main",
		AgingSweepSchedule: "0 * * * *",
	}
}

// LoadServerConfig reads ServerConfig from path (if non-empty) layered over
// defaults, with AUTOPACK_-prefixed env overrides.
func LoadServerConfig(path string) (ServerConfig, error) {
	v := viper.New()
	cfg := DefaultServerConfig()
	v.SetDefault("listen_addr", cfg.ListenAddr)
	v.SetDefault("autonomous_runs_dir", cfg.AutonomousRunsDir)
	v.SetDefault("project_db_path", cfg.ProjectDBPath)
	v.SetDefault("metrics_addr", cfg.MetricsAddr)
	v.SetDefault("rulesets_dir", cfg.RulesetsDir)
	v.SetDefault("repos_dir", cfg.ReposDir)
	v.SetDefault("base_branch", cfg.BaseBranch)
	v.SetDefault("aging_sweep_schedule", cfg.AgingSweepSchedule)
	v.SetEnvPrefix("AUTOPACK")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("read server config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal server config: %w", err)
	}
	return cfg, nil
}
