// Package collectors supplies the bounded fan-out that drives whatever
// SQLCollector implementation is configured -- how rows are actually
// collected is an external concern. Runner owns the worker pool,
// per-target rate limiting, retry/backoff and timeout enforcement; it
// never issues a T-SQL query itself.
package collectors

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sqlguardian/auditor/internal/core"
)

// Config bounds the fan-out.
type Config struct {
	// MaxParallelTasks is the worker pool size (default 5).
	MaxParallelTasks int
	// PerTargetTimeout bounds each collection attempt against a single
	// target (default 120s); retries each get a fresh timeout.
	PerTargetTimeout time.Duration
	// QueryTimeout is the per-query budget (default 60s). Runner neither
	// enforces it nor passes it to the collector; only PerTargetTimeout is
	// applied.
	QueryTimeout time.Duration
	// MaxRetries is the number of additional attempts after the first
	// failure, with exponential backoff between them (default 2).
	MaxRetries int
	// BackoffBase is the initial backoff delay, doubled on each retry.
	BackoffBase time.Duration
	// RatePerSecond caps how many new target collections Runner starts per
	// second, independent of MaxParallelTasks -- this is the knob that
	// protects a SQL Server fleet from a collection burst, not just the
	// auditor's own memory/goroutine budget.
	RatePerSecond float64
}

// DefaultConfig returns the documented operational defaults.
func DefaultConfig() Config {
	return Config{
		MaxParallelTasks: 5,
		PerTargetTimeout: 120 * time.Second,
		QueryTimeout:     60 * time.Second,
		MaxRetries:       2,
		BackoffBase:      2 * time.Second,
		RatePerSecond:    5,
	}
}

// TargetResult is one target's outcome: either a set of collected findings
// or a recorded reason it could not be scanned.
type TargetResult struct {
	Target      core.Target
	Findings    []core.CollectedFinding
	Err         error
	Unreachable bool
}

// Run fans out Collect calls across targets with the bounds in cfg,
// merging every result back onto the caller's goroutine once all workers
// finish: results are merged back onto a single goroutine/thread that
// performs all classification. Run itself never classifies; it only
// gathers raw CollectedFinding slices and per-target outcomes.
func Run(ctx context.Context, cfg Config, collector core.SQLCollector, targets []core.Target, logger *slog.Logger) []TargetResult {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = withDefaults(cfg)

	limiter := rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.MaxParallelTasks)
	sem := make(chan struct{}, cfg.MaxParallelTasks)

	results := make([]TargetResult, len(targets))
	var wg sync.WaitGroup

	for i, target := range targets {
		if !target.Enabled {
			results[i] = TargetResult{Target: target, Unreachable: true, Err: core.ErrTargetUnreachable}
			continue
		}

		wg.Add(1)
		go func(i int, target core.Target) {
			defer wg.Done()

			if err := limiter.Wait(ctx); err != nil {
				results[i] = TargetResult{Target: target, Unreachable: true, Err: err}
				return
			}

			sem <- struct{}{}
			defer func() { <-sem }()

			results[i] = collectWithRetry(ctx, cfg, collector, target, logger)
		}(i, target)
	}

	wg.Wait()
	return results
}

func collectWithRetry(ctx context.Context, cfg Config, collector core.SQLCollector, target core.Target, logger *slog.Logger) TargetResult {
	backoff := cfg.BackoffBase
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, cfg.PerTargetTimeout)
		findings, err := collector.Collect(attemptCtx, target)
		cancel()

		if err == nil {
			return TargetResult{Target: target, Findings: findings}
		}
		lastErr = err

		if errors.Is(ctx.Err(), context.Canceled) {
			break
		}
		if attempt < cfg.MaxRetries {
			logger.Warn("target collection failed, retrying",
				"target", target.ID, "attempt", attempt+1, "error", err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				lastErr = ctx.Err()
				break
			}
			backoff *= 2
		}
	}

	return TargetResult{
		Target:      target,
		Unreachable: true,
		Err:         core.ErrTargetUnreachable,
	}.withCause(lastErr)
}

func (r TargetResult) withCause(cause error) TargetResult {
	if cause != nil {
		r.Err = errors.Join(core.ErrTargetUnreachable, cause)
	}
	return r
}

func withDefaults(cfg Config) Config {
	d := DefaultConfig()
	if cfg.MaxParallelTasks <= 0 {
		cfg.MaxParallelTasks = d.MaxParallelTasks
	}
	if cfg.PerTargetTimeout <= 0 {
		cfg.PerTargetTimeout = d.PerTargetTimeout
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = d.QueryTimeout
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = d.BackoffBase
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = d.RatePerSecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = d.MaxRetries
	}
	return cfg
}
