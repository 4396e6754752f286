// Package classifier implements a pure function per finding_type that
// maps collected facts to (status, risk, description, recommendation).
// Classifiers never read the store or the workbook -- every input they need
// arrives in the CollectedFinding and the RuleConfig passed to Classify.
package classifier

import (
	"fmt"

	"github.com/sqlguardian/auditor/internal/core"
)

// SecuritySetting is one sp_configure-style requirement declared by the
// audit configuration.
type SecuritySetting struct {
	Required any
	Risk     core.Risk
}

// BackupThreshold declares the days-since-last-full-backup limits for a
// recovery model.
type BackupThreshold struct {
	WarnDays int
	FailDays int
}

// RuleConfig carries every externally-configured value the checks need;
// it is built from the audit configuration once per run and passed to
// every Classify call. RuleConfig itself holds no mutable state.
type RuleConfig struct {
	ExpectedBuilds   map[string]string // version_family -> build
	SecuritySettings map[string]SecuritySetting
	BackupThresholds map[string]BackupThreshold // recovery_model -> thresholds
	EssentialServices map[string]bool           // service_name -> essential
}

// Result is the classifier's pure output for one collected row.
type Result struct {
	Status         core.Status
	Risk           core.Risk
	Description    string
	Recommendation string
}

// Classify dispatches on FindingType and applies the matching rule. An
// unrecognized FindingType is a programming error in the collector, not an
// operator-facing condition, so it returns a WARN result rather than
// panicking; the description names the unrecognized type.
func Classify(cfg RuleConfig, cf core.CollectedFinding) Result {
	switch cf.FindingType {
	case core.FindingInstanceInfo:
		return classifyInstanceInfo(cfg, cf.Facts)
	case core.FindingSAAccount:
		return classifySAAccount(cf.Facts)
	case core.FindingLogin:
		return classifyLogin(cf.Facts)
	case core.FindingServerRoleMember:
		return classifyServerRoleMember(cf.Facts)
	case core.FindingConfig:
		return classifyConfig(cfg, cf.Facts)
	case core.FindingService:
		return classifyService(cfg, cf.Facts)
	case core.FindingDatabase:
		return classifyDatabase(cf.Facts)
	case core.FindingDBUser:
		return classifyDBUser(cf.Facts)
	case core.FindingDBRoleMember:
		return classifyDBRoleMember(cf.Facts)
	case core.FindingOrphanedUser:
		return classifyOrphanedUser(cf.Facts)
	case core.FindingPermission:
		return classifyPermission(cf.Facts)
	case core.FindingLinkedServer:
		return classifyLinkedServer(cf.Facts)
	case core.FindingTrigger:
		return classifyTrigger(cf.Facts)
	case core.FindingBackup:
		return classifyBackup(cfg, cf.Facts)
	case core.FindingClientProtocol:
		return classifyClientProtocol(cf.Facts)
	case core.FindingEncryption:
		return classifyEncryption(cf.Facts)
	case core.FindingAuditSettings:
		return classifyAuditSettings(cf.Facts)
	default:
		return Result{
			Status:      core.StatusWarn,
			Risk:        core.RiskMedium,
			Description: fmt.Sprintf("unrecognized finding type %q", cf.FindingType),
		}
	}
}

// --- fact accessors -------------------------------------------------------

func str(facts map[string]any, key string) string {
	if v, ok := facts[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func boolean(facts map[string]any, key string) bool {
	if v, ok := facts[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

func integer(facts map[string]any, key string) int {
	switch v := facts[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
