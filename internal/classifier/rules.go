package classifier

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sqlguardian/auditor/internal/core"
)

// systemLoginPattern matches SQL Server's internal ##...## login names,
// which are excluded from discrepancy checks.
var systemLoginPattern = regexp.MustCompile(`^##.*##$`)

// --- sa_account ------------------------------------------------------------

func classifySAAccount(facts map[string]any) Result {
	enabled := boolean(facts, "is_enabled")
	name := str(facts, "current_name")

	if !enabled {
		return Result{Status: core.StatusPass, Risk: core.RiskInfo,
			Description: "principal id=1 is disabled"}
	}
	if strings.EqualFold(name, "sa") {
		return Result{Status: core.StatusFail, Risk: core.RiskCritical,
			Description:    "the built-in sa account is enabled under its default name",
			Recommendation: "disable the sa account or rename it and rotate its password"}
	}
	return Result{Status: core.StatusWarn, Risk: core.RiskMedium,
		Description:    fmt.Sprintf("principal id=1 is enabled, renamed to %q", name),
		Recommendation: "disable the renamed sa account unless break-glass access is required"}
}

// --- login -------------------------------------------------------------------

func classifyLogin(facts map[string]any) Result {
	loginName := str(facts, "login_name")
	if systemLoginPattern.MatchString(loginName) {
		return Result{Status: core.StatusPass, Risk: core.RiskInfo,
			Description: "system login excluded from discrepancy checks"}
	}

	isSQLAuth := str(facts, "login_type") == "SQL"
	checkPolicy := boolean(facts, "check_policy")
	if isSQLAuth && !checkPolicy {
		return Result{Status: core.StatusFail, Risk: core.RiskHigh,
			Description:    fmt.Sprintf("SQL login %q has CHECK_POLICY disabled", loginName),
			Recommendation: "enable CHECK_POLICY so the login is subject to the Windows password policy"}
	}

	defaultDB := strings.ToLower(str(facts, "default_database"))
	isSysadmin := boolean(facts, "is_sysadmin")
	if isSysadmin && defaultDB != "master" && defaultDB != "tempdb" {
		return Result{Status: core.StatusWarn, Risk: core.RiskMedium,
			Description:    fmt.Sprintf("sysadmin login %q has non-standard default database %q", loginName, defaultDB),
			Recommendation: "set the default database to master for sysadmin logins"}
	}

	return Result{Status: core.StatusPass, Risk: core.RiskInfo,
		Description: fmt.Sprintf("login %q has no discrepancy", loginName)}
}

// --- server_role_member ------------------------------------------------------

func classifyServerRoleMember(facts map[string]any) Result {
	role := str(facts, "role")
	member := str(facts, "member")

	if strings.EqualFold(role, "sysadmin") {
		if boolean(facts, "is_expected") {
			return Result{Status: core.StatusPass, Risk: core.RiskInfo,
				Description: fmt.Sprintf("%q is an expected sysadmin member", member)}
		}
		return Result{Status: core.StatusWarn, Risk: core.RiskHigh,
			Description:    fmt.Sprintf("%q is a member of sysadmin and not on the expected list", member),
			Recommendation: "confirm the need for sysadmin membership or remove it"}
	}

	if strings.EqualFold(member, "public") {
		return Result{Status: core.StatusFail, Risk: core.RiskHigh,
			Description:    fmt.Sprintf("public is a member of server role %q", role),
			Recommendation: "remove public from elevated fixed server roles"}
	}

	return Result{Status: core.StatusPass, Risk: core.RiskInfo,
		Description: fmt.Sprintf("%q membership in %q is expected", member, role)}
}

// --- config (parametrized by security_settings) -------------------------------
//
// Each entry in RuleConfig.SecuritySettings is itself a distinct security
// requirement (xp_cmdshell, clr_enabled, cross db ownership chaining,
// remote admin connections, ad hoc distributed queries, ...); the rule
// engine is data-driven rather than one function per setting so adding a
// requirement is a configuration change, not a code change.
func classifyConfig(cfg RuleConfig, facts map[string]any) Result {
	setting := str(facts, "setting")
	current := facts["current_value"]

	required, ok := cfg.SecuritySettings[setting]
	if !ok {
		return Result{Status: core.StatusPass, Risk: core.RiskInfo,
			Description: fmt.Sprintf("%s has no declared requirement", setting)}
	}

	if valuesEqual(current, required.Required) {
		return Result{Status: core.StatusPass, Risk: core.RiskInfo,
			Description: fmt.Sprintf("%s matches required value %v", setting, required.Required)}
	}

	status := core.StatusWarn
	if required.Risk == core.RiskCritical || required.Risk == core.RiskHigh {
		status = core.StatusFail
	}
	return Result{Status: status, Risk: required.Risk,
		Description:    fmt.Sprintf("%s is %v, required %v", setting, current, required.Required),
		Recommendation: fmt.Sprintf("set %s to %v via sp_configure", setting, required.Required)}
}

func valuesEqual(a, b any) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// --- service -------------------------------------------------------------
//
// The source mixes treatment of a stopped SQL Agent as either WARN or FAIL
// across SQL Server versions; this implementation follows the
// illustrative rule and treats it as WARN uniformly.
// A future version-aware rule should consult RuleConfig per version_family
// before promoting this to FAIL.
func classifyService(cfg RuleConfig, facts map[string]any) Result {
	name := str(facts, "service_name")
	running := boolean(facts, "is_running")
	essential := cfg.EssentialServices[name]

	if essential && !running {
		return Result{Status: core.StatusWarn, Risk: core.RiskMedium,
			Description:    fmt.Sprintf("essential service %q is stopped", name),
			Recommendation: "start the service and set it to automatic startup"}
	}
	if !essential && !running {
		return Result{Status: core.StatusPass, Risk: core.RiskInfo,
			Description: fmt.Sprintf("non-essential service %q is disabled", name)}
	}
	return Result{Status: core.StatusPass, Risk: core.RiskInfo,
		Description: fmt.Sprintf("service %q is running", name)}
}

// --- database ------------------------------------------------------------------

var systemDatabases = map[string]bool{"master": true, "model": true, "msdb": true, "tempdb": true}

func classifyDatabase(facts map[string]any) Result {
	db := str(facts, "database")
	if systemDatabases[strings.ToLower(db)] {
		return Result{Status: core.StatusPass, Risk: core.RiskInfo,
			Description: fmt.Sprintf("%s is a system database, exempt from database-level checks", db)}
	}

	if boolean(facts, "trustworthy") {
		return Result{Status: core.StatusFail, Risk: core.RiskCritical,
			Description:    fmt.Sprintf("database %q has TRUSTWORTHY ON", db),
			Recommendation: "set TRUSTWORTHY OFF unless a specific, documented feature requires it"}
	}
	if boolean(facts, "auto_close") {
		return Result{Status: core.StatusWarn, Risk: core.RiskLow,
			Description:    fmt.Sprintf("database %q has AUTO_CLOSE ON", db),
			Recommendation: "disable AUTO_CLOSE on production databases to avoid connection-storm latency"}
	}
	return Result{Status: core.StatusPass, Risk: core.RiskInfo,
		Description: fmt.Sprintf("database %q has no discrepancy", db)}
}

// --- db_user -----------------------------------------------------------------

func classifyDBUser(facts map[string]any) Result {
	db := str(facts, "database")
	user := str(facts, "user_name")
	if strings.EqualFold(user, "guest") {
		if db == "msdb" || db == "tempdb" {
			return Result{Status: core.StatusPass, Risk: core.RiskInfo,
				Description: fmt.Sprintf("guest is enabled in %s (expected)", db)}
		}
		if boolean(facts, "is_enabled") {
			return Result{Status: core.StatusFail, Risk: core.RiskHigh,
				Description:    fmt.Sprintf("guest user is enabled in database %q", db),
				Recommendation: "revoke CONNECT from guest in this database"}
		}
	}
	return Result{Status: core.StatusPass, Risk: core.RiskInfo,
		Description: fmt.Sprintf("user %q in %q has no discrepancy", user, db)}
}

// --- db_role_member -------------------------------------------------------------

func classifyDBRoleMember(facts map[string]any) Result {
	role := str(facts, "role")
	member := str(facts, "member")
	db := str(facts, "database")
	if strings.EqualFold(role, "db_owner") && !boolean(facts, "is_expected") {
		return Result{Status: core.StatusWarn, Risk: core.RiskMedium,
			Description:    fmt.Sprintf("%q is a db_owner member of %q and not on the expected list", member, db),
			Recommendation: "confirm the need for db_owner membership or remove it"}
	}
	return Result{Status: core.StatusPass, Risk: core.RiskInfo,
		Description: fmt.Sprintf("%q membership in %q/%q is expected", member, db, role)}
}

// --- orphaned_user ----------------------------------------------------------------

func classifyOrphanedUser(facts map[string]any) Result {
	user := str(facts, "user_name")
	db := str(facts, "database")
	return Result{Status: core.StatusWarn, Risk: core.RiskMedium,
		Description:    fmt.Sprintf("user %q in database %q has no matching login (orphaned)", user, db),
		Recommendation: "map the user to an existing login or drop it"}
}

// --- permission ---------------------------------------------------------------------

func classifyPermission(facts map[string]any) Result {
	grantee := str(facts, "grantee")
	permission := str(facts, "permission")
	scope := str(facts, "scope")

	if strings.EqualFold(grantee, "public") && boolean(facts, "is_sensitive_object") {
		return Result{Status: core.StatusFail, Risk: core.RiskHigh,
			Description:    fmt.Sprintf("public has been granted %s on a sensitive object (%s)", permission, scope),
			Recommendation: "revoke the grant from public and grant it to specific principals instead"}
	}
	if strings.EqualFold(permission, "CONTROL SERVER") && !boolean(facts, "is_expected") {
		return Result{Status: core.StatusFail, Risk: core.RiskCritical,
			Description:    fmt.Sprintf("%q was granted CONTROL SERVER directly and is not on the expected list", grantee),
			Recommendation: "revoke CONTROL SERVER and grant the minimal permission set required"}
	}
	return Result{Status: core.StatusPass, Risk: core.RiskInfo,
		Description: fmt.Sprintf("%s grant to %q has no discrepancy", permission, grantee)}
}

// --- linked_server --------------------------------------------------------------

func classifyLinkedServer(facts map[string]any) Result {
	name := str(facts, "linked_name")
	remoteLogin := strings.ToLower(str(facts, "remote_login"))
	impersonate := boolean(facts, "impersonate")
	rpcOut := boolean(facts, "rpc_out")

	if remoteLogin == "sa" || (impersonate && rpcOut) {
		return Result{Status: core.StatusFail, Risk: core.RiskHigh,
			Description:    fmt.Sprintf("linked server %q maps to sa or allows impersonation with RPC out enabled", name),
			Recommendation: "use a least-privilege mapped login and disable RPC out unless required"}
	}
	return Result{Status: core.StatusWarn, Risk: core.RiskLow,
		Description:    fmt.Sprintf("linked server %q exists", name),
		Recommendation: "confirm the linked server is still required"}
}

// --- trigger ----------------------------------------------------------------------

func classifyTrigger(facts map[string]any) Result {
	name := str(facts, "trigger_name")
	event := str(facts, "event")
	scope := str(facts, "scope")

	if strings.EqualFold(scope, "server") && !boolean(facts, "is_enabled") {
		return Result{Status: core.StatusWarn, Risk: core.RiskMedium,
			Description:    fmt.Sprintf("server-scoped DDL trigger %q (event %s) is disabled", name, event),
			Recommendation: "re-enable the audit trigger or document why it is intentionally off"}
	}
	return Result{Status: core.StatusPass, Risk: core.RiskInfo,
		Description: fmt.Sprintf("trigger %q is active", name)}
}

// --- backup -------------------------------------------------------------------------

func classifyBackup(cfg RuleConfig, facts map[string]any) Result {
	db := str(facts, "database")
	recoveryModel := str(facts, "recovery_model")
	daysSince := integer(facts, "days_since_last_full")

	threshold, ok := cfg.BackupThresholds[recoveryModel]
	if !ok {
		threshold = BackupThreshold{WarnDays: 3, FailDays: 7}
	}

	if daysSince > threshold.FailDays {
		return Result{Status: core.StatusFail, Risk: core.RiskHigh,
			Description:    fmt.Sprintf("database %q (%s) has not had a full backup in %d days", db, recoveryModel, daysSince),
			Recommendation: "run an immediate full backup and correct the backup schedule"}
	}
	if daysSince > threshold.WarnDays {
		return Result{Status: core.StatusWarn, Risk: core.RiskMedium,
			Description: fmt.Sprintf("database %q (%s) is %d days since its last full backup", db, recoveryModel, daysSince)}
	}
	return Result{Status: core.StatusPass, Risk: core.RiskInfo,
		Description: fmt.Sprintf("database %q backup schedule is current", db)}
}

// --- client_protocol ------------------------------------------------------------------

func classifyClientProtocol(facts map[string]any) Result {
	protocol := str(facts, "protocol")
	enabled := boolean(facts, "is_enabled")

	if strings.EqualFold(protocol, "Named Pipes") && enabled {
		return Result{Status: core.StatusWarn, Risk: core.RiskLow,
			Description:    "Named Pipes protocol is enabled",
			Recommendation: "disable Named Pipes unless local-to-cluster access requires it"}
	}
	if strings.EqualFold(protocol, "TCP/IP") && enabled && !boolean(facts, "force_encryption") {
		return Result{Status: core.StatusFail, Risk: core.RiskHigh,
			Description:    "TCP/IP is enabled without forced encryption",
			Recommendation: "enable Force Encryption for the TCP/IP protocol"}
	}
	return Result{Status: core.StatusPass, Risk: core.RiskInfo,
		Description: fmt.Sprintf("protocol %s has no discrepancy", protocol)}
}

// --- encryption --------------------------------------------------------------------

func classifyEncryption(facts map[string]any) Result {
	keyType := str(facts, "key_type")
	keyName := str(facts, "key_name")

	if strings.EqualFold(keyType, "database_encryption_key") && !boolean(facts, "is_enabled") {
		return Result{Status: core.StatusWarn, Risk: core.RiskMedium,
			Description:    fmt.Sprintf("transparent data encryption is not enabled (%s)", keyName),
			Recommendation: "enable TDE for databases holding sensitive data"}
	}
	if boolean(facts, "is_expiring_soon") {
		return Result{Status: core.StatusWarn, Risk: core.RiskMedium,
			Description:    fmt.Sprintf("%s %q is expiring soon", keyType, keyName),
			Recommendation: "rotate the key/certificate before expiry"}
	}
	return Result{Status: core.StatusPass, Risk: core.RiskInfo,
		Description: fmt.Sprintf("%s %q has no discrepancy", keyType, keyName)}
}

// --- audit_settings -----------------------------------------------------------------

func classifyAuditSettings(facts map[string]any) Result {
	setting := str(facts, "setting")
	if !boolean(facts, "is_enabled") {
		return Result{Status: core.StatusFail, Risk: core.RiskHigh,
			Description:    fmt.Sprintf("audit setting %q is not enabled", setting),
			Recommendation: "create and enable a server audit specification covering this requirement"}
	}
	return Result{Status: core.StatusPass, Risk: core.RiskInfo,
		Description: fmt.Sprintf("audit setting %q is enabled", setting)}
}

// --- instance_info --------------------------------------------------------------------

func classifyInstanceInfo(cfg RuleConfig, facts map[string]any) Result {
	versionFamily := str(facts, "version_family")
	build := str(facts, "build")

	expected, ok := cfg.ExpectedBuilds[versionFamily]
	if !ok {
		return Result{Status: core.StatusPass, Risk: core.RiskInfo,
			Description: fmt.Sprintf("no expected build declared for %s", versionFamily)}
	}
	if build != expected {
		return Result{Status: core.StatusWarn, Risk: core.RiskMedium,
			Description:    fmt.Sprintf("build %s lags the expected build %s for %s", build, expected, versionFamily),
			Recommendation: "apply the latest cumulative update / security patch"}
	}
	return Result{Status: core.StatusPass, Risk: core.RiskInfo,
		Description: fmt.Sprintf("build %s matches the expected build", build)}
}
