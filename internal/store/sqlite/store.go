// Package sqlite implements core.Store against an embedded SQLite
// database: WAL mode, foreign keys on, a 0600 file mode and a goose-driven
// schema. It is the only Store implementation this module
// ships; the interface exists so the orchestrator and CLI never import
// database/sql directly.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sqlguardian/auditor/internal/core"
	"github.com/sqlguardian/auditor/internal/identity"
	"github.com/sqlguardian/auditor/internal/store"
	"github.com/sqlguardian/auditor/internal/store/migrations"
)

// Store is a thread-safe core.Store backed by one SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	path   string
	lock   *store.FileLock
	mu     sync.RWMutex
}

var _ core.Store = (*Store)(nil)
var _ identity.PersistedIndex = (*Store)(nil)

// Open creates or opens the store at path, running any pending migrations
// before returning. Parent directories are created with mode 0700; the
// database file itself is chmod'd 0600 since it may carry server names,
// login names and annotation text.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}
	if strings.Contains(path, "..") {
		return nil, fmt.Errorf("invalid path contains '..': %s", path)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	fileLock := store.NewFileLock(path + ".lock")
	if err := fileLock.TryLock(); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		fileLock.Unlock()
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		fileLock.Unlock()
		return nil, fmt.Errorf("sqlite ping: %w", err)
	}

	mgr, err := migrations.NewManager(db, logger)
	if err != nil {
		db.Close()
		fileLock.Unlock()
		return nil, err
	}
	if err := mgr.Up(ctx); err != nil {
		db.Close()
		fileLock.Unlock()
		return nil, fmt.Errorf("%w: %v", core.ErrStoreCorrupt, err)
	}

	if err := os.Chmod(path, 0o600); err != nil {
		logger.Warn("failed to restrict store file permissions", "path", path, "error", err)
	}

	return &Store{db: db, logger: logger, path: path, lock: fileLock}, nil
}

// Close closes the underlying connection and releases the store's
// advisory file lock. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	if s.lock != nil {
		s.lock.Unlock()
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// --- runs -------------------------------------------------------------

func (s *Store) BeginRun(ctx context.Context, organization string, auditDate time.Time, runType core.RunType, parentRunID *int64, configHash string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var running int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_runs WHERE organization = ? AND audit_date = ? AND status = 'running'`,
		organization, auditDate.UTC().Unix(),
	).Scan(&running)
	if err != nil {
		return 0, fmt.Errorf("check running run: %w", err)
	}
	if running > 0 {
		return 0, core.ErrRunAlreadyRunning
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_runs (organization, audit_date, started_at, status, run_type, parent_run_id, config_hash, report_stale)
		 VALUES (?, ?, ?, 'running', ?, ?, ?, 0)`,
		organization, auditDate.UTC().Unix(), time.Now().UTC().Unix(), string(runType), nullableInt64(parentRunID), configHash,
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) CompleteRun(ctx context.Context, runID int64, status core.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.rejectIfFinalized(ctx, runID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE audit_runs SET status = ?, completed_at = ? WHERE id = ?`,
		string(status), time.Now().UTC().Unix(), runID,
	)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

func (s *Store) FinalizeRun(ctx context.Context, runID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`UPDATE audit_runs SET status = 'finalized', completed_at = ? WHERE id = ?`,
		time.Now().UTC().Unix(), runID,
	)
	if err != nil {
		return fmt.Errorf("finalize run: %w", err)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, runID int64) (core.AuditRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanRun(s.db.QueryRowContext(ctx, runColumns+` FROM audit_runs WHERE id = ?`, runID))
}

func (s *Store) LatestRun(ctx context.Context, organization string) (core.AuditRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanRun(s.db.QueryRowContext(ctx,
		runColumns+` FROM audit_runs WHERE organization = ? ORDER BY id DESC LIMIT 1`, organization))
}

func (s *Store) LatestBaseline(ctx context.Context, organization string, auditDate time.Time) (core.AuditRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanRun(s.db.QueryRowContext(ctx,
		runColumns+` FROM audit_runs WHERE organization = ? AND audit_date = ? AND run_type = 'baseline' ORDER BY id DESC LIMIT 1`,
		organization, auditDate.UTC().Unix()))
}

func (s *Store) ListRuns(ctx context.Context, organization string) ([]core.AuditRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, runColumns+` FROM audit_runs WHERE organization = ? ORDER BY id`, organization)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []core.AuditRun
	for rows.Next() {
		r, err := scanRunRow(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *Store) MarkReportStale(ctx context.Context, runID int64, stale bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE audit_runs SET report_stale = ? WHERE id = ?`, boolToInt(stale), runID)
	if err != nil {
		return fmt.Errorf("mark report stale: %w", err)
	}
	return nil
}

const runColumns = `SELECT id, organization, audit_date, started_at, completed_at, status, run_type, parent_run_id, config_hash, report_stale`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanRun(row rowScanner) (core.AuditRun, error) {
	return scanRunRow(row)
}

func scanRunRow(row rowScanner) (core.AuditRun, error) {
	var r core.AuditRun
	var auditDate, startedAt int64
	var completedAt sql.NullInt64
	var parentRunID sql.NullInt64
	var reportStale int
	err := row.Scan(&r.ID, &r.Organization, &auditDate, &startedAt, &completedAt, &r.Status, &r.RunType, &parentRunID, &r.ConfigHash, &reportStale)
	if err == sql.ErrNoRows {
		return core.AuditRun{}, core.ErrNotFound
	}
	if err != nil {
		return core.AuditRun{}, fmt.Errorf("scan run: %w", err)
	}
	r.AuditDate = time.Unix(auditDate, 0).UTC()
	r.StartedAt = time.Unix(startedAt, 0).UTC()
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0).UTC()
		r.CompletedAt = &t
	}
	if parentRunID.Valid {
		id := parentRunID.Int64
		r.ParentRunID = &id
	}
	r.ReportStale = reportStale != 0
	return r, nil
}

func (s *Store) rejectIfFinalized(ctx context.Context, runID int64) error {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM audit_runs WHERE id = ?`, runID).Scan(&status)
	if err == sql.ErrNoRows {
		return core.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check run status: %w", err)
	}
	if status == string(core.RunStatusFinalized) {
		return core.ErrFinalized
	}
	return nil
}

// --- servers / instances -------------------------------------------------

func (s *Store) ResolveServerInstance(ctx context.Context, hostname, instanceName string, port *int) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var serverID int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM servers WHERE hostname = ?`, hostname).Scan(&serverID)
	if err == sql.ErrNoRows {
		res, insertErr := s.db.ExecContext(ctx, `INSERT INTO servers (hostname) VALUES (?)`, hostname)
		if insertErr != nil {
			return 0, 0, fmt.Errorf("insert server: %w", insertErr)
		}
		serverID, _ = res.LastInsertId()
	} else if err != nil {
		return 0, 0, fmt.Errorf("lookup server: %w", err)
	}

	var instanceID int64
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM instances WHERE server_id = ? AND instance_name = ? AND port IS ?`,
		serverID, instanceName, nullableInt(port),
	).Scan(&instanceID)
	if err == sql.ErrNoRows {
		res, insertErr := s.db.ExecContext(ctx,
			`INSERT INTO instances (server_id, instance_name, port) VALUES (?, ?, ?)`,
			serverID, instanceName, nullableInt(port),
		)
		if insertErr != nil {
			return 0, 0, fmt.Errorf("insert instance: %w", insertErr)
		}
		instanceID, _ = res.LastInsertId()
	} else if err != nil {
		return 0, 0, fmt.Errorf("lookup instance: %w", err)
	}

	return serverID, instanceID, nil
}

func (s *Store) GetInstance(ctx context.Context, instanceID int64) (core.InstanceDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return scanInstanceDetail(s.db.QueryRowContext(ctx, instanceDetailColumns+` WHERE i.id = ?`, instanceID))
}

func (s *Store) ListInstances(ctx context.Context) ([]core.InstanceDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, instanceDetailColumns+` ORDER BY srv.hostname, i.instance_name`)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	var out []core.InstanceDetail
	for rows.Next() {
		d, err := scanInstanceDetail(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

const instanceDetailColumns = `SELECT i.id, srv.hostname, i.instance_name, i.port FROM instances i JOIN servers srv ON srv.id = i.server_id`

func scanInstanceDetail(row rowScanner) (core.InstanceDetail, error) {
	var d core.InstanceDetail
	var port sql.NullInt64
	err := row.Scan(&d.InstanceID, &d.Hostname, &d.InstanceName, &port)
	if err == sql.ErrNoRows {
		return core.InstanceDetail{}, core.ErrNotFound
	}
	if err != nil {
		return core.InstanceDetail{}, fmt.Errorf("scan instance: %w", err)
	}
	if port.Valid {
		p := int(port.Int64)
		d.Port = &p
	}
	return d, nil
}

// --- helpers ---------------------------------------------------------------

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
