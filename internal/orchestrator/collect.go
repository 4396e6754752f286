package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sqlguardian/auditor/internal/classifier"
	"github.com/sqlguardian/auditor/internal/collectors"
	"github.com/sqlguardian/auditor/internal/core"
	"github.com/sqlguardian/auditor/internal/identity"
)

// collectAndClassify runs bounded fan-out collection across every
// configured target, followed by identity resolution, classification and
// persistence of each collected row. It returns the targets that could
// not be reached this run -- their prior findings and annotations are
// left untouched.
func (o *Orchestrator) collectAndClassify(ctx context.Context, p SyncParams, runID int64) ([]core.Target, error) {
	results := collectors.Run(ctx, o.CollectorConfig, o.Collector, p.Targets, o.Logger)

	var unreachable []core.Target
	now := time.Now().UTC()

	for _, result := range results {
		serverID, instanceID, err := o.Store.ResolveServerInstance(ctx, result.Target.Server, instanceNameOf(result.Target), result.Target.Port)
		if err != nil {
			return unreachable, fmt.Errorf("resolve server/instance for target %s: %w", result.Target.ID, err)
		}
		_ = serverID

		if result.Unreachable {
			o.Logger.Warn("target unreachable, prior findings preserved",
				"target", result.Target.ID, "error", result.Err)
			unreachable = append(unreachable, result.Target)
			continue
		}

		for _, cf := range result.Findings {
			compositeKey := identity.ComposeKey(cf.FindingType, cf.KeyParts...)
			rowUUID, err := o.Resolver.Resolve(ctx, p.Organization, "", cf.FindingType, compositeKey)
			if err != nil {
				return unreachable, fmt.Errorf("resolve identity for %s: %w", compositeKey, err)
			}
			if err := o.Store.RecordIdentity(ctx, rowUUID, cf.FindingType, compositeKey, p.Organization, now); err != nil {
				return unreachable, fmt.Errorf("record identity for %s: %w", compositeKey, err)
			}

			classified := classifier.Classify(o.RuleConfig, cf)
			details, err := json.Marshal(cf.Facts)
			if err != nil {
				return unreachable, fmt.Errorf("marshal facts for %s: %w", compositeKey, err)
			}

			finding := core.Finding{
				RunID:          runID,
				InstanceID:     instanceID,
				FindingType:    cf.FindingType,
				EntityKey:      compositeKey,
				RowUUID:        rowUUID,
				Status:         classified.Status,
				Risk:           classified.Risk,
				Description:    classified.Description,
				Recommendation: classified.Recommendation,
				Details:        details,
			}
			if err := o.Store.SaveFinding(ctx, finding); err != nil {
				return unreachable, fmt.Errorf("save finding %s: %w", compositeKey, err)
			}
		}
	}

	return unreachable, nil
}

func instanceNameOf(t core.Target) string {
	if t.Instance == "" {
		return "DEFAULT"
	}
	return t.Instance
}
