// Package config loads and validates the two configuration documents the
// auditor reads -- target configuration and audit configuration -- using
// viper for layered file/env loading and go-playground/validator for
// structural checks.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/sqlguardian/auditor/internal/classifier"
	"github.com/sqlguardian/auditor/internal/core"
)

// TargetConfig is one configured SQL Server instance.
type TargetConfig struct {
	ID             string        `mapstructure:"id" validate:"required"`
	DisplayName    string        `mapstructure:"display_name"`
	Server         string        `mapstructure:"server" validate:"required"`
	Instance       string        `mapstructure:"instance"`
	Port           *int          `mapstructure:"port"`
	Auth           core.AuthMode `mapstructure:"auth" validate:"required,oneof=integrated sql"`
	Username       string        `mapstructure:"username"`
	CredentialRef  string        `mapstructure:"credential_ref"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" validate:"required"`
	Enabled        bool          `mapstructure:"enabled"`
	Tags           []string      `mapstructure:"tags"`
}

// TargetList is the top-level document read by LoadTargets.
type TargetList struct {
	Targets []TargetConfig `mapstructure:"targets" validate:"required,dive"`
}

// PerformanceConfig bounds collector fan-out.
type PerformanceConfig struct {
	MaxParallelTasks          int `mapstructure:"max_parallel_tasks" validate:"required,min=1"`
	SQLCommandTimeoutSeconds  int `mapstructure:"sql_command_timeout_seconds" validate:"required,min=1"`
	PSRemotingTimeoutSeconds  int `mapstructure:"psremoting_timeout_seconds" validate:"min=0"`
}

// AuditConfig is the audit-wide document read by LoadAudit.
type AuditConfig struct {
	Organization     string                                 `mapstructure:"organization" validate:"required"`
	AuditYear        int                                     `mapstructure:"audit_year" validate:"required"`
	AuditDate        *time.Time                              `mapstructure:"audit_date"`
	ExpectedBuilds   map[string]string                       `mapstructure:"expected_builds"`
	SecuritySettings map[string]classifier.SecuritySetting   `mapstructure:"security_settings"`
	BackupThresholds map[string]classifier.BackupThreshold   `mapstructure:"backup_thresholds"`
	EssentialServices map[string]bool                       `mapstructure:"essential_services"`
	FeatureFlags     map[string]bool                         `mapstructure:"feature_flags"`
	Performance      PerformanceConfig                       `mapstructure:"performance" validate:"required"`
}

var validate = validator.New()

// LoadTargets reads and validates a target list from path (YAML or JSON,
// dispatched by viper on file extension).
func LoadTargets(path string) (TargetList, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return TargetList{}, fmt.Errorf("%w: read target config: %v", core.ErrConfigInvalid, err)
	}

	var list TargetList
	if err := v.Unmarshal(&list); err != nil {
		return TargetList{}, fmt.Errorf("%w: decode target config: %v", core.ErrConfigInvalid, err)
	}
	if err := validate.Struct(list); err != nil {
		return TargetList{}, fmt.Errorf("%w: %v", core.ErrConfigInvalid, err)
	}
	if err := checkUniqueTargetIDs(list.Targets); err != nil {
		return TargetList{}, err
	}
	return list, nil
}

// LoadAudit reads and validates the audit configuration from path.
func LoadAudit(path string) (AuditConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("performance.max_parallel_tasks", 5)
	v.SetDefault("performance.sql_command_timeout_seconds", 30)
	if err := v.ReadInConfig(); err != nil {
		return AuditConfig{}, fmt.Errorf("%w: read audit config: %v", core.ErrConfigInvalid, err)
	}

	var cfg AuditConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return AuditConfig{}, fmt.Errorf("%w: decode audit config: %v", core.ErrConfigInvalid, err)
	}
	if err := validate.Struct(cfg); err != nil {
		return AuditConfig{}, fmt.Errorf("%w: %v", core.ErrConfigInvalid, err)
	}
	return cfg, nil
}

func checkUniqueTargetIDs(targets []TargetConfig) error {
	seen := make(map[string]bool, len(targets))
	for _, t := range targets {
		if seen[t.ID] {
			return fmt.Errorf("%w: duplicate target id %q", core.ErrConfigInvalid, t.ID)
		}
		seen[t.ID] = true
	}
	return nil
}

// RuleConfig builds a classifier.RuleConfig from the loaded audit
// configuration, the one place audit_config's data-driven rule fields are
// turned into the classifier's pure input type.
func (c AuditConfig) RuleConfig() classifier.RuleConfig {
	return classifier.RuleConfig{
		ExpectedBuilds:    c.ExpectedBuilds,
		SecuritySettings:  c.SecuritySettings,
		BackupThresholds:  c.BackupThresholds,
		EssentialServices: c.EssentialServices,
	}
}
