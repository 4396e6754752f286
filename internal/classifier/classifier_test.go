package classifier_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sqlguardian/auditor/internal/classifier"
	"github.com/sqlguardian/auditor/internal/core"
)

func TestClassify_SAAccount(t *testing.T) {
	cases := []struct {
		name   string
		facts  map[string]any
		status core.Status
	}{
		{"disabled is pass", map[string]any{"is_enabled": false, "current_name": "sa"}, core.StatusPass},
		{"enabled default name is fail", map[string]any{"is_enabled": true, "current_name": "sa"}, core.StatusFail},
		{"enabled renamed is warn", map[string]any{"is_enabled": true, "current_name": "sqladmin99"}, core.StatusWarn},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := classifier.Classify(classifier.RuleConfig{}, core.CollectedFinding{FindingType: core.FindingSAAccount, Facts: tc.facts})
			assert.Equal(t, tc.status, r.Status)
		})
	}
}

func TestClassify_Login_SystemLoginExcluded(t *testing.T) {
	r := classifier.Classify(classifier.RuleConfig{}, core.CollectedFinding{
		FindingType: core.FindingLogin,
		Facts:       map[string]any{"login_name": "##MS_PolicyEventProcessingLogin##"},
	})
	assert.Equal(t, core.StatusPass, r.Status)
}

func TestClassify_Login_SQLAuthWithoutCheckPolicyFails(t *testing.T) {
	r := classifier.Classify(classifier.RuleConfig{}, core.CollectedFinding{
		FindingType: core.FindingLogin,
		Facts:       map[string]any{"login_name": "appuser", "login_type": "SQL", "check_policy": false},
	})
	assert.Equal(t, core.StatusFail, r.Status)
	assert.Equal(t, core.RiskHigh, r.Risk)
}

func TestClassify_Config_DataDriven(t *testing.T) {
	cfg := classifier.RuleConfig{
		SecuritySettings: map[string]classifier.SecuritySetting{
			"xp_cmdshell": {Required: 0, Risk: core.RiskCritical},
		},
	}

	pass := classifier.Classify(cfg, core.CollectedFinding{
		FindingType: core.FindingConfig,
		Facts:       map[string]any{"setting": "xp_cmdshell", "current_value": 0},
	})
	assert.Equal(t, core.StatusPass, pass.Status)

	fail := classifier.Classify(cfg, core.CollectedFinding{
		FindingType: core.FindingConfig,
		Facts:       map[string]any{"setting": "xp_cmdshell", "current_value": 1},
	})
	assert.Equal(t, core.StatusFail, fail.Status)
	assert.Equal(t, core.RiskCritical, fail.Risk)

	undeclared := classifier.Classify(cfg, core.CollectedFinding{
		FindingType: core.FindingConfig,
		Facts:       map[string]any{"setting": "unknown_setting", "current_value": 1},
	})
	assert.Equal(t, core.StatusPass, undeclared.Status)
}

func TestClassify_Service_EssentialStoppedIsWarnNotFail(t *testing.T) {
	cfg := classifier.RuleConfig{EssentialServices: map[string]bool{"SQLSERVERAGENT": true}}
	r := classifier.Classify(cfg, core.CollectedFinding{
		FindingType: core.FindingService,
		Facts:       map[string]any{"service_name": "SQLSERVERAGENT", "is_running": false},
	})
	assert.Equal(t, core.StatusWarn, r.Status)
}

func TestClassify_Backup_ThresholdsFromConfig(t *testing.T) {
	cfg := classifier.RuleConfig{
		BackupThresholds: map[string]classifier.BackupThreshold{
			"FULL": {WarnDays: 1, FailDays: 2},
		},
	}
	r := classifier.Classify(cfg, core.CollectedFinding{
		FindingType: core.FindingBackup,
		Facts:       map[string]any{"database": "orders", "recovery_model": "FULL", "days_since_last_full": 3},
	})
	assert.Equal(t, core.StatusFail, r.Status)
}

func TestClassify_Database_SystemDatabaseExempt(t *testing.T) {
	r := classifier.Classify(classifier.RuleConfig{}, core.CollectedFinding{
		FindingType: core.FindingDatabase,
		Facts:       map[string]any{"database": "master", "trustworthy": true},
	})
	assert.Equal(t, core.StatusPass, r.Status)
}

func TestClassify_UnrecognizedFindingTypeWarnsInsteadOfPanicking(t *testing.T) {
	r := classifier.Classify(classifier.RuleConfig{}, core.CollectedFinding{FindingType: "not_a_real_type"})
	assert.Equal(t, core.StatusWarn, r.Status)
	assert.Contains(t, r.Description, "not_a_real_type")
}
