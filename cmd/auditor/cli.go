package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sqlguardian/auditor/internal/collectors"
	"github.com/sqlguardian/auditor/internal/config"
	"github.com/sqlguardian/auditor/internal/core"
	"github.com/sqlguardian/auditor/internal/credentials"
	"github.com/sqlguardian/auditor/internal/identity"
	"github.com/sqlguardian/auditor/internal/lifecycle"
	"github.com/sqlguardian/auditor/internal/orchestrator"
	"github.com/sqlguardian/auditor/internal/stats"
	"github.com/sqlguardian/auditor/internal/store/sqlite"
	"github.com/sqlguardian/auditor/pkg/logger"
)

// CLI wires every command's RunE against the packages in internal/: one
// struct, one constructor, one method per verb, each command opening its
// own store and collaborators rather than sharing package-level state.
type CLI struct{}

// NewCLI builds a CLI. It holds no state of its own -- every command opens
// and closes its own store and builds its own collaborators from flags, so
// two commands never share a stale connection.
func NewCLI() *CLI {
	return &CLI{}
}

// GetRootCommand assembles the full command tree.
func (c *CLI) GetRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "auditor",
		Short:         "SQL Server security compliance auditor",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("store", "./data/auditor.db", "path to the durable sqlite store")
	root.PersistentFlags().String("targets", "./config/targets.yaml", "path to the target list document")
	root.PersistentFlags().String("audit-config", "./config/audit.yaml", "path to the audit configuration document")
	root.PersistentFlags().String("report", "./reports/audit.xlsx", "path to the report workbook")
	root.PersistentFlags().String("log-level", "info", "debug, info, warn or error")
	root.PersistentFlags().String("log-format", "text", "text or json")
	root.PersistentFlags().String("cred-env-prefix", "", "environment variable prefix for credential_ref lookups")
	root.PersistentFlags().Int("identity-cache-size", 4096, "LRU size for composite-key identity resolution")

	root.AddCommand(
		c.auditCommand(),
		c.syncCommand(),
		c.finalizeCommand(),
		c.statusCommand(),
		c.listCommand(),
		c.reopenCommand(),
		c.configCommand(),
		c.prepareCommand(),
		c.remediateCommand(),
	)
	return root
}

// Execute runs the root command against os.Args.
func (c *CLI) Execute() error {
	return c.GetRootCommand().Execute()
}

func (c *CLI) auditCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Start a fresh baseline audit cycle",
		Long:  "Opens a baseline run, collects and classifies every enabled target, and writes the first report for a new compliance cycle. Use `sync` once a baseline already exists.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := loggerFromFlags(cmd)

			targets, audit, err := loadConfigs(cmd)
			if err != nil {
				return err
			}
			st, err := openStore(ctx, cmd, log)
			if err != nil {
				return err
			}
			defer st.Close()

			orch, err := buildOrchestrator(cmd, st, audit, log)
			if err != nil {
				return err
			}

			reportPath, _ := cmd.Flags().GetString("report")
			hash, err := computeConfigHash(targets, audit)
			if err != nil {
				return err
			}

			outcome, err := orch.RunBaseline(ctx, orchestrator.BaselineParams{
				Organization: audit.Organization,
				AuditDate:    auditDateOf(audit),
				ConfigHash:   hash,
				ReportPath:   reportPath,
				Targets:      enabledTargets(targets),
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "baseline run %d complete: %d findings, %d active issues, %d compliant\n",
				outcome.RunID, outcome.Stats.TotalFindings, outcome.Stats.ActiveIssues, outcome.Stats.Compliant)
			reportUnreachable(cmd, outcome.UnreachableTargets)
			if !outcome.ReportRegenerated {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: report was not written, run marked stale")
			}
			return nil
		},
	}
}

func (c *CLI) syncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run a sync pass against the current baseline",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := loggerFromFlags(cmd)

			targets, audit, err := loadConfigs(cmd)
			if err != nil {
				return err
			}
			st, err := openStore(ctx, cmd, log)
			if err != nil {
				return err
			}
			defer st.Close()

			ctrl := lifecycle.New(st, st)
			runType, baselineID, previousID, err := ctrl.NextRunType(ctx, audit.Organization)
			if err != nil {
				return err
			}
			if runType == core.RunTypeBaseline {
				return fmt.Errorf("%w: %s has no baseline yet, run `auditor audit` first", core.ErrInvalidTransition, audit.Organization)
			}

			orch, err := buildOrchestrator(cmd, st, audit, log)
			if err != nil {
				return err
			}

			reportPath, _ := cmd.Flags().GetString("report")
			hash, err := computeConfigHash(targets, audit)
			if err != nil {
				return err
			}

			outcome, err := orch.RunSync(ctx, orchestrator.SyncParams{
				Organization:  audit.Organization,
				AuditDate:     auditDateOf(audit),
				ConfigHash:    hash,
				BaselineRunID: baselineID,
				PreviousRunID: previousID,
				ReportPath:    reportPath,
				Targets:       enabledTargets(targets),
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "sync run %d complete: %d change(s) recorded, %d active issues\n",
				outcome.RunID, outcome.ChangesRecorded, outcome.Stats.ActiveIssues)
			reportUnreachable(cmd, outcome.UnreachableTargets)
			for _, w := range outcome.DateWarnings {
				fmt.Fprintf(cmd.ErrOrStderr(), "could not parse last_reviewed %q for %s\n", w.RawText, w.EntityKey)
			}
			if !outcome.ReportRegenerated {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: report was not written, run marked stale")
			}
			return nil
		},
	}
}

func (c *CLI) finalizeCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "finalize <run-id>",
		Short: "Finalize a completed sync run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			runID, err := parseRunID(args[0])
			if err != nil {
				return err
			}

			log := loggerFromFlags(cmd)
			st, err := openStore(ctx, cmd, log)
			if err != nil {
				return err
			}
			defer st.Close()

			reportPath, _ := cmd.Flags().GetString("report")
			ctrl := lifecycle.New(st, st)
			result, err := ctrl.Finalize(ctx, runID, reportPath, force)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "run %d finalized, report hash %s\n", result.RunID, result.WorkbookHash)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "finalize despite unresolved active issues")
	return cmd
}

func (c *CLI) reopenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reopen <run-id>",
		Short: "Reopen a finalized run for one more sync pass",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			runID, err := parseRunID(args[0])
			if err != nil {
				return err
			}

			log := loggerFromFlags(cmd)
			st, err := openStore(ctx, cmd, log)
			if err != nil {
				return err
			}
			defer st.Close()

			targets, audit, err := loadConfigs(cmd)
			if err != nil {
				return err
			}
			hash, err := computeConfigHash(targets, audit)
			if err != nil {
				return err
			}

			ctrl := lifecycle.New(st, st)
			result, err := ctrl.Reopen(ctx, runID, func(ctx context.Context, baselineRunID int64) (int64, error) {
				return st.BeginRun(ctx, audit.Organization, auditDateOf(audit), core.RunTypeSync, &baselineRunID, hash)
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "reopened as run %d, chained to baseline %d\n", result.NewRunID, result.BaselineRunID)
			return nil
		},
	}
}

func (c *CLI) statusCommand() *cobra.Command {
	var metricsFile string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print current stats and optionally write a Prometheus textfile",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := loggerFromFlags(cmd)

			_, audit, err := loadConfigs(cmd)
			if err != nil {
				return err
			}
			st, err := openStore(ctx, cmd, log)
			if err != nil {
				return err
			}
			defer st.Close()

			latest, err := st.LatestRun(ctx, audit.Organization)
			if err != nil {
				return fmt.Errorf("get latest run: %w", err)
			}
			baseline := latest.ID
			if latest.ParentRunID != nil {
				baseline = *latest.ParentRunID
			}
			s, err := stats.Calculate(ctx, st, baseline, latest.ID, nil)
			if err != nil {
				return fmt.Errorf("calculate stats: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "organization=%s run=%d type=%s status=%s\n", audit.Organization, latest.ID, latest.RunType, latest.Status)
			fmt.Fprintf(cmd.OutOrStdout(), "total=%d active=%d exceptions=%d compliant=%d\n", s.TotalFindings, s.ActiveIssues, s.DocumentedExceptions, s.Compliant)
			fmt.Fprintf(cmd.OutOrStdout(), "since baseline: fixed=%d regressions=%d new=%d\n", s.FixedSinceBaseline, s.RegressionsSinceBaseline, s.NewIssuesSinceBaseline)

			if metricsFile == "" {
				return nil
			}
			m := stats.NewMetrics(audit.Organization)
			m.Set(s)
			if err := m.WriteTextfile(metricsFile); err != nil {
				return fmt.Errorf("write metrics textfile: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "write a node_exporter textfile-collector file here")
	return cmd
}

func (c *CLI) listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every audit run for an organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := loggerFromFlags(cmd)

			_, audit, err := loadConfigs(cmd)
			if err != nil {
				return err
			}
			st, err := openStore(ctx, cmd, log)
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.ListRuns(ctx, audit.Organization)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
			for _, r := range runs {
				parent := "-"
				if r.ParentRunID != nil {
					parent = fmt.Sprintf("%d", *r.ParentRunID)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\t%s\tparent=%s\tstale=%v\n",
					r.ID, r.RunType, r.Status, r.AuditDate.Format("2006-01-02"), parent, r.ReportStale)
			}
			return nil
		},
	}
}

func (c *CLI) configCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration documents",
	}
	root.AddCommand(c.configInitCommand())
	return root
}

// configInitCommand writes starter target-list and audit-config documents
// so a new deployment has something to edit rather than hand-writing the
// mapstructure shape from scratch.
func (c *CLI) configInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write starter configuration documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			targetsPath, _ := cmd.Flags().GetString("targets")
			auditPath, _ := cmd.Flags().GetString("audit-config")

			if err := writeStarterYAML(targetsPath, starterTargets()); err != nil {
				return err
			}
			if err := writeStarterYAML(auditPath, starterAudit()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s and %s\n", targetsPath, auditPath)
			return nil
		},
	}
}

func (c *CLI) prepareCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "prepare",
		Short: "Prepare a target host for collection (not implemented)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("prepare is not implemented: no OS-prep implementation has been wired in")
		},
	}
}

func (c *CLI) remediateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remediate",
		Short: "Generate a remediation script (not implemented)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("remediate is not implemented: no remediation generator has been wired in")
		},
	}
}

func loggerFromFlags(cmd *cobra.Command) *slog.Logger {
	level, _ := cmd.Flags().GetString("log-level")
	format, _ := cmd.Flags().GetString("log-format")
	return logger.NewLogger(logger.Config{Level: level, Format: format, Output: "stderr"})
}

func loadConfigs(cmd *cobra.Command) (config.TargetList, config.AuditConfig, error) {
	targetsPath, _ := cmd.Flags().GetString("targets")
	auditPath, _ := cmd.Flags().GetString("audit-config")

	targets, err := config.LoadTargets(targetsPath)
	if err != nil {
		return config.TargetList{}, config.AuditConfig{}, err
	}
	audit, err := config.LoadAudit(auditPath)
	if err != nil {
		return config.TargetList{}, config.AuditConfig{}, err
	}
	return targets, audit, nil
}

func openStore(ctx context.Context, cmd *cobra.Command, log *slog.Logger) (*sqlite.Store, error) {
	path, _ := cmd.Flags().GetString("store")
	return sqlite.Open(ctx, path, log)
}

func buildOrchestrator(cmd *cobra.Command, st *sqlite.Store, audit config.AuditConfig, log *slog.Logger) (*orchestrator.Orchestrator, error) {
	cacheSize, _ := cmd.Flags().GetInt("identity-cache-size")
	resolver, err := identity.NewResolver(st, cacheSize)
	if err != nil {
		return nil, fmt.Errorf("build identity resolver: %w", err)
	}

	// The credential resolver is built here so the CredentialResolver seam
	// is exercised even though no in-tree SQLCollector calls it yet: the
	// real query layer is out of scope, but the indirection it depends on
	// is not.
	credPrefix, _ := cmd.Flags().GetString("cred-env-prefix")
	_ = credentials.NewFileResolver(credPrefix)

	collCfg := collectors.DefaultConfig()
	if audit.Performance.MaxParallelTasks > 0 {
		collCfg.MaxParallelTasks = audit.Performance.MaxParallelTasks
	}
	if audit.Performance.SQLCommandTimeoutSeconds > 0 {
		collCfg.QueryTimeout = time.Duration(audit.Performance.SQLCommandTimeoutSeconds) * time.Second
	}

	return orchestrator.New(st, resolver, audit.RuleConfig(), collectors.StubCollector{}, collCfg, log), nil
}

func enabledTargets(list config.TargetList) []core.Target {
	out := make([]core.Target, 0, len(list.Targets))
	for _, t := range list.Targets {
		if !t.Enabled {
			continue
		}
		out = append(out, core.Target{
			ID:             t.ID,
			DisplayName:    t.DisplayName,
			Server:         t.Server,
			Instance:       t.Instance,
			Port:           t.Port,
			Auth:           t.Auth,
			Username:       t.Username,
			CredentialRef:  t.CredentialRef,
			ConnectTimeout: t.ConnectTimeout,
			Enabled:        t.Enabled,
			Tags:           t.Tags,
		})
	}
	return out
}

func auditDateOf(audit config.AuditConfig) time.Time {
	if audit.AuditDate != nil {
		return *audit.AuditDate
	}
	return time.Date(audit.AuditYear, time.January, 1, 0, 0, 0, 0, time.UTC)
}

// computeConfigHash fingerprints the loaded configuration documents so
// AuditRun.ConfigHash records exactly what was in effect for a run,
// without the store ever parsing YAML itself.
func computeConfigHash(targets config.TargetList, audit config.AuditConfig) (string, error) {
	targetBytes, err := json.Marshal(targets)
	if err != nil {
		return "", fmt.Errorf("marshal target config: %w", err)
	}
	auditBytes, err := json.Marshal(audit)
	if err != nil {
		return "", fmt.Errorf("marshal audit config: %w", err)
	}
	sum := sha256.Sum256(append(targetBytes, auditBytes...))
	return hex.EncodeToString(sum[:]), nil
}

func parseRunID(s string) (int64, error) {
	var id int64
	if _, err := fmt.Sscanf(s, "%d", &id); err != nil {
		return 0, fmt.Errorf("%w: invalid run id %q", core.ErrConfigInvalid, s)
	}
	return id, nil
}

func reportUnreachable(cmd *cobra.Command, targets []core.Target) {
	if len(targets) == 0 {
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%d target(s) unreachable:\n", len(targets))
	for _, t := range targets {
		fmt.Fprintf(cmd.ErrOrStderr(), "  %s (%s)\n", t.ID, t.Server)
	}
}

func writeStarterYAML(path string, doc map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal starter config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func starterTargets() map[string]any {
	return map[string]any{
		"targets": []map[string]any{
			{
				"id":              "example-01",
				"display_name":    "Example SQL Server",
				"server":          "sql01.example.internal",
				"instance":        "DEFAULT",
				"auth":            "integrated",
				"credential_ref":  "",
				"connect_timeout": "30s",
				"enabled":         false,
				"tags":            []string{"prod"},
			},
		},
	}
}

func starterAudit() map[string]any {
	return map[string]any{
		"organization": "example-org",
		"audit_year":   time.Now().UTC().Year(),
		"expected_builds": map[string]string{
			"2019": "15.0.4298.1",
		},
		"security_settings": map[string]any{
			"xp_cmdshell": map[string]any{"required": "0", "risk": "critical"},
		},
		"backup_thresholds": map[string]any{
			"full": map[string]any{"warndays": 3, "faildays": 7},
		},
		"essential_services": map[string]any{
			"SQLSERVERAGENT": true,
		},
		"feature_flags": map[string]any{},
		"performance": map[string]any{
			"max_parallel_tasks":           5,
			"sql_command_timeout_seconds":  30,
			"psremoting_timeout_seconds":   60,
		},
	}
}
