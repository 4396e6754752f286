package collectors_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlguardian/auditor/internal/collectors"
	"github.com/sqlguardian/auditor/internal/core"
)

type countingCollector struct {
	calls       atomic.Int32
	failUntil   int32
	alwaysFails bool
}

func (c *countingCollector) Collect(ctx context.Context, target core.Target) ([]core.CollectedFinding, error) {
	n := c.calls.Add(1)
	if c.alwaysFails {
		return nil, errors.New("connection refused")
	}
	if n <= c.failUntil {
		return nil, errors.New("transient timeout")
	}
	return []core.CollectedFinding{{FindingType: core.FindingSAAccount}}, nil
}

func TestRun_RetriesThenSucceeds(t *testing.T) {
	collector := &countingCollector{failUntil: 1}
	cfg := collectors.Config{
		MaxParallelTasks: 2,
		PerTargetTimeout: time.Second,
		MaxRetries:       2,
		BackoffBase:      time.Millisecond,
		RatePerSecond:    1000,
	}
	targets := []core.Target{{ID: "t1", Enabled: true}}

	results := collectors.Run(context.Background(), cfg, collector, targets, nil)
	require.Len(t, results, 1)
	assert.False(t, results[0].Unreachable)
	assert.Len(t, results[0].Findings, 1)
	assert.EqualValues(t, 2, collector.calls.Load())
}

func TestRun_ExhaustsRetriesAndReportsUnreachable(t *testing.T) {
	collector := &countingCollector{alwaysFails: true}
	cfg := collectors.Config{
		MaxParallelTasks: 2,
		PerTargetTimeout: time.Second,
		MaxRetries:       1,
		BackoffBase:      time.Millisecond,
		RatePerSecond:    1000,
	}
	targets := []core.Target{{ID: "t1", Enabled: true}}

	results := collectors.Run(context.Background(), cfg, collector, targets, nil)
	require.Len(t, results, 1)
	assert.True(t, results[0].Unreachable)
	assert.ErrorIs(t, results[0].Err, core.ErrTargetUnreachable)
	assert.EqualValues(t, 2, collector.calls.Load())
}

func TestRun_SkipsDisabledTargets(t *testing.T) {
	collector := &countingCollector{}
	targets := []core.Target{{ID: "t1", Enabled: false}}

	results := collectors.Run(context.Background(), collectors.DefaultConfig(), collector, targets, nil)
	require.Len(t, results, 1)
	assert.True(t, results[0].Unreachable)
	assert.EqualValues(t, 0, collector.calls.Load())
}

func TestRun_FansOutAcrossMultipleTargets(t *testing.T) {
	collector := &countingCollector{}
	targets := []core.Target{
		{ID: "t1", Enabled: true},
		{ID: "t2", Enabled: true},
		{ID: "t3", Enabled: true},
	}
	cfg := collectors.Config{
		MaxParallelTasks: 3,
		PerTargetTimeout: time.Second,
		RatePerSecond:    1000,
	}

	results := collectors.Run(context.Background(), cfg, collector, targets, nil)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.False(t, r.Unreachable)
	}
	assert.EqualValues(t, 3, collector.calls.Load())
}
