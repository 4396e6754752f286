package core

import (
	"context"
	"time"
)

// Store is the durable store contract. Implementations must provide the
// uniqueness, ordering and atomicity guarantees documented on each method.
type Store interface {
	// BeginRun opens a new run. It fails with ErrRunAlreadyRunning if a
	// prior run for the same audit_date x organization is still running.
	BeginRun(ctx context.Context, organization string, auditDate time.Time, runType RunType, parentRunID *int64, configHash string) (int64, error)

	// CompleteRun marks a run completed or failed.
	CompleteRun(ctx context.Context, runID int64, status RunStatus) error

	// SaveFinding enforces unique (run_id, finding_type, entity_key);
	// ErrClassifierBug on a duplicate within the same run.
	SaveFinding(ctx context.Context, f Finding) error

	// GetFindings returns findings for a run in canonical order
	// (instance_id, finding_type, entity_key). findingType == "" means all
	// types.
	GetFindings(ctx context.Context, runID int64, findingType FindingType) ([]Finding, error)

	// UpsertAnnotation matches by RowUUID first, else by (EntityType,
	// EntityKey); preserves CreatedAt, updates ModifiedAt.
	UpsertAnnotation(ctx context.Context, a Annotation) (Annotation, error)

	// GetAnnotation looks up a single annotation by UUID (if non-empty) or
	// by (entityType, entityKey) fallback. Returns ErrNotFound if absent.
	GetAnnotation(ctx context.Context, rowUUID string, entityType FindingType, entityKey string) (Annotation, error)

	// ListAnnotations returns every annotation in the store, for workbook
	// regeneration and annotation-sync reconciliation.
	ListAnnotations(ctx context.Context) ([]Annotation, error)

	// AppendAction inserts an action log entry; returns false (not an
	// error) if the dedup key (initial_run_id, entity_key, change_type,
	// sync_run_id) already exists.
	AppendAction(ctx context.Context, e ActionLogEntry) (bool, error)

	// ListActions returns the full action log for a baseline run (all
	// syncs chained to it), ordered by ID (= processing order).
	ListActions(ctx context.Context, initialRunID int64) ([]ActionLogEntry, error)

	// UpdateActionNotes applies an operator edit (notes + date override)
	// to an existing action log entry, identified by ID. Never touches
	// ActionDate.
	UpdateActionNotes(ctx context.Context, id int64, notes string, dateOverride *time.Time) error

	// FinalizeRun sets status=finalized. Subsequent mutation attempts
	// against this run return ErrFinalized.
	FinalizeRun(ctx context.Context, runID int64) error

	// GetRun, LatestRun and LatestFinalized support the lifecycle
	// controller and CLI status/list commands.
	GetRun(ctx context.Context, runID int64) (AuditRun, error)
	LatestRun(ctx context.Context, organization string) (AuditRun, error)
	LatestBaseline(ctx context.Context, organization string, auditDate time.Time) (AuditRun, error)
	ListRuns(ctx context.Context, organization string) ([]AuditRun, error)
	MarkReportStale(ctx context.Context, runID int64, stale bool) error

	// ResolveServerInstance returns stable IDs for (hostname, instance,
	// port), creating rows if they do not already exist.
	ResolveServerInstance(ctx context.Context, hostname, instanceName string, port *int) (serverID int64, instanceID int64, err error)

	// GetInstance reverses ResolveServerInstance for report rendering: the
	// workbook writer needs the hostname/instance name behind an
	// instance_id, never the other way around.
	GetInstance(ctx context.Context, instanceID int64) (InstanceDetail, error)

	// ListInstances returns every known instance, for the Instances sheet,
	// which must list targets the auditor has ever seen, not only the ones
	// scanned in the current run.
	ListInstances(ctx context.Context) ([]InstanceDetail, error)

	Close() error
}

// InstanceDetail is the denormalized server+instance identity used when
// rendering reports; the store joins servers and instances internally so
// callers never need to.
type InstanceDetail struct {
	InstanceID   int64
	Hostname     string
	InstanceName string
	Port         *int
}

// CollectedFinding is what a SQL collector hands back for one entity before
// classification. The classifier turns this into a Finding.
type CollectedFinding struct {
	Instance    Instance
	FindingType FindingType
	KeyParts    []string // per-type composite-key parts
	Facts       map[string]any
}

// SQLCollector is the external collaborator contract: "how rows are
// collected" is explicitly out of scope for this module. Any
// implementation issuing T-SQL queries against a live instance satisfies
// this interface; the orchestrator only depends on the interface.
type SQLCollector interface {
	// Collect connects to a single target and returns every
	// CollectedFinding it gathered, or an error satisfying
	// errors.Is(err, ErrTargetUnreachable) if the target could not be
	// reached at all.
	Collect(ctx context.Context, target Target) ([]CollectedFinding, error)
}

// Target configures one SQL Server instance to audit. Credentials
// are referenced by ID, never carried as plaintext.
type Target struct {
	ID             string
	DisplayName    string
	Server         string
	Instance       string
	Port           *int
	Auth           AuthMode
	Username       string
	CredentialRef  string
	ConnectTimeout time.Duration
	Enabled        bool
	Tags           []string
}

// AuthMode is how a collector authenticates to a target.
type AuthMode string

const (
	AuthIntegrated AuthMode = "integrated"
	AuthSQL        AuthMode = "sql"
)

// CredentialResolver resolves a credential_ref into a usable secret. The
// real secret backend is out of scope for this module; this interface is
// the seam a collector uses to avoid ever seeing plaintext in the target
// list itself.
type CredentialResolver interface {
	Resolve(ctx context.Context, credentialRef string) (string, error)
}

// RemediationGenerator and OSPrep are named here only so the CLI surface's
// `remediate` and `prepare` commands have a stable seam to depend on;
// neither is implemented by this module, which stays out of script
// generation and remote-management setup.
type RemediationGenerator interface {
	Generate(ctx context.Context, findings []Finding) (script []byte, err error)
}

type OSPrep interface {
	Prepare(ctx context.Context, target Target) error
}
