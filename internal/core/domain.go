// Package core defines the domain model shared by every component of the
// auditor: runs, servers, instances, findings, annotations and the
// append-only action log. Types here carry no behavior beyond small,
// side-effect-free helpers; the state machine, classifier and diff engine
// that operate on them live in their own packages.
package core

import "time"

// RunType distinguishes the three kinds of audit run in the lifecycle.
type RunType string

const (
	RunTypeBaseline RunType = "baseline"
	RunTypeSync     RunType = "sync"
	RunTypeFinalize RunType = "finalize"
)

// RunStatus tracks where a run is in its lifecycle.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusFinalized RunStatus = "finalized"
)

// AuditRun is a single baseline, sync or finalize execution.
type AuditRun struct {
	ID           int64
	Organization string
	AuditDate    time.Time
	StartedAt    time.Time
	CompletedAt  *time.Time
	Status       RunStatus
	RunType      RunType
	ParentRunID  *int64
	ConfigHash   string
	// ReportStale is set when the post-sync workbook regeneration failed;
	// it tells the next sync to regenerate unconditionally.
	ReportStale bool
}

// Server identifies a SQL Server host.
type Server struct {
	ID       int64
	Hostname string
}

// Instance identifies a named instance (or default instance) on a server.
// Port disambiguates default instances that share a hostname.
type Instance struct {
	ID           int64
	ServerID     int64
	InstanceName string // "DEFAULT" when this is the default instance
	Port         *int
}

// FindingType enumerates the kinds of row a collector can emit. The order
// here is also the canonical processing order used for stable diff/action
// log ordering.
type FindingType string

const (
	FindingInstanceInfo     FindingType = "instance_info"
	FindingSAAccount        FindingType = "sa_account"
	FindingLogin            FindingType = "login"
	FindingServerRoleMember FindingType = "server_role_member"
	FindingConfig           FindingType = "config"
	FindingService          FindingType = "service"
	FindingDatabase         FindingType = "database"
	FindingDBUser           FindingType = "db_user"
	FindingDBRoleMember     FindingType = "db_role_member"
	FindingOrphanedUser     FindingType = "orphaned_user"
	FindingPermission       FindingType = "permission"
	FindingLinkedServer     FindingType = "linked_server"
	FindingTrigger          FindingType = "trigger"
	FindingBackup           FindingType = "backup"
	FindingClientProtocol   FindingType = "client_protocol"
	FindingEncryption       FindingType = "encryption"
	FindingAuditSettings    FindingType = "audit_settings"
)

// FindingTypeOrder is the canonical processing order: findings for a
// given key are always processed in this order, then by composite key.
var FindingTypeOrder = []FindingType{
	FindingInstanceInfo,
	FindingSAAccount,
	FindingLogin,
	FindingServerRoleMember,
	FindingConfig,
	FindingService,
	FindingDatabase,
	FindingDBUser,
	FindingDBRoleMember,
	FindingOrphanedUser,
	FindingPermission,
	FindingLinkedServer,
	FindingTrigger,
	FindingBackup,
	FindingClientProtocol,
	FindingEncryption,
	FindingAuditSettings,
}

// Status is the outcome of a single check.
type Status string

const (
	StatusPass Status = "PASS"
	StatusFail Status = "FAIL"
	StatusWarn Status = "WARN"
)

// IsActive reports whether a status counts as an active (non-compliant) issue.
func (s Status) IsActive() bool {
	return s == StatusFail || s == StatusWarn
}

// Risk is the severity assigned to a finding by the classifier.
type Risk string

const (
	RiskCritical Risk = "critical"
	RiskHigh     Risk = "high"
	RiskMedium   Risk = "medium"
	RiskLow      Risk = "low"
	RiskInfo     Risk = "info"
)

// Finding is a single check outcome for one entity in one run. Findings are
// immutable once the run that produced them completes.
type Finding struct {
	RunID          int64
	InstanceID     int64
	FindingType    FindingType
	EntityKey      string
	RowUUID        string // empty when not yet assigned
	Status         Status
	Risk           Risk
	Description    string
	Recommendation string
	Details        []byte // opaque JSON, collector-defined
}

// ReviewStatus is the operator-facing classification of an annotation.
type ReviewStatus string

const (
	ReviewStatusNone        ReviewStatus = ""
	ReviewStatusException   ReviewStatus = "Exception"
	ReviewStatusNeedsReview ReviewStatus = "Needs Review"
	ReviewStatusReviewed    ReviewStatus = "Reviewed"
	ReviewStatusRejected    ReviewStatus = "Rejected"
)

// ValidReviewStatuses is the dropdown enumeration enforced by the workbook
// writer and by normalization on read.
var ValidReviewStatuses = map[ReviewStatus]bool{
	ReviewStatusNone:        true,
	ReviewStatusException:   true,
	ReviewStatusNeedsReview: true,
	ReviewStatusReviewed:    true,
	ReviewStatusRejected:    true,
}

// Annotation is operator input attached to a row, persisting across runs.
type Annotation struct {
	RowUUID      string // preferred match key; empty when unknown
	EntityType   FindingType
	EntityKey    string // fallback match key, normalized
	Notes        string
	Purpose      string
	Justification string
	ReviewStatus ReviewStatus
	LastReviewed *time.Time
	CreatedAt    time.Time
	ModifiedAt   time.Time
	ModifiedBy   string
}

// IsDocumentedException reports whether a FAIL/WARN row is a
// documented exception: it carries a non-empty justification or an
// explicit "Exception" review status. A justification on a PASS row is
// never an exception -- callers must check the finding's status first.
func (a *Annotation) IsDocumentedException() bool {
	if a == nil {
		return false
	}
	return trimmedNonEmpty(a.Justification) || a.ReviewStatus == ReviewStatusException
}

func trimmedNonEmpty(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return true
		}
	}
	return false
}

// ChangeType enumerates the transitions the state machine can emit.
type ChangeType string

const (
	ChangeNewIssue          ChangeType = "NEW_ISSUE"
	ChangeNoChange          ChangeType = "NO_CHANGE"
	ChangeFixed             ChangeType = "FIXED"
	ChangeRegression        ChangeType = "REGRESSION"
	ChangeExceptionAdded    ChangeType = "EXCEPTION_ADDED"
	ChangeExceptionRemoved  ChangeType = "EXCEPTION_REMOVED"
	ChangeExceptionUpdated  ChangeType = "EXCEPTION_UPDATED"
	ChangeStillFailing      ChangeType = "STILL_FAILING"
	ChangeUnknown           ChangeType = "UNKNOWN"
)

// ActionStatus is the open/closed/exception classification recorded
// alongside each action log entry.
type ActionStatus string

const (
	ActionOpen      ActionStatus = "open"
	ActionClosed    ActionStatus = "closed"
	ActionException ActionStatus = "exception"
)

// ActionLogEntry is one append-only history record.
type ActionLogEntry struct {
	ID               int64
	InitialRunID     int64
	SyncRunID        *int64
	EntityKey        string
	FindingType      FindingType
	ChangeType       ChangeType
	Status           ActionStatus
	ActionDate       time.Time
	UserDateOverride *time.Time
	Description      string
	Notes            string
}

// DisplayDate returns coalesce(user_date_override, action_date).
func (e *ActionLogEntry) DisplayDate() time.Time {
	if e.UserDateOverride != nil {
		return *e.UserDateOverride
	}
	return e.ActionDate
}
