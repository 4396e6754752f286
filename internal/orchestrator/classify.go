package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sqlguardian/auditor/internal/actionlog"
	"github.com/sqlguardian/auditor/internal/core"
	"github.com/sqlguardian/auditor/internal/diff"
	"github.com/sqlguardian/auditor/internal/statemachine"
)

// classifyAndRecord diffs the current run against the prior known state
// (the previous sync if one exists, else the baseline), runs every
// transition through the state machine, and appends the transitions it
// says to log. Processing order follows FindingTypeOrder, then entity
// key, so the action log reads deterministically across runs.
func (o *Orchestrator) classifyAndRecord(ctx context.Context, p SyncParams, runID int64) (int, error) {
	priorRunID := p.BaselineRunID
	if p.PreviousRunID != nil {
		priorRunID = *p.PreviousRunID
	}

	prevFindings, err := o.Store.GetFindings(ctx, priorRunID, "")
	if err != nil {
		return 0, fmt.Errorf("get prior findings: %w", err)
	}
	currFindings, err := o.Store.GetFindings(ctx, runID, "")
	if err != nil {
		return 0, fmt.Errorf("get current findings: %w", err)
	}
	result := diff.Diff(prevFindings, currFindings)

	priorActions, err := o.Store.ListActions(ctx, p.BaselineRunID)
	if err != nil {
		return 0, fmt.Errorf("list prior actions: %w", err)
	}
	lastAction := indexLastActionByKey(priorActions)

	annotations, err := o.Store.ListAnnotations(ctx)
	if err != nil {
		return 0, fmt.Errorf("list annotations: %w", err)
	}
	annByKey := indexAnnotationsByKey(annotations)

	recorder := actionlog.NewRecorder(o.Store)
	changes := 0

	for _, kt := range orderedTransitions(result.Transitions) {
		in := statemachine.Input{
			OldStatus: kt.t.OldStatus,
			HadOld:    kt.t.HadOld,
			NewStatus: kt.t.NewStatus,
			HadNew:    kt.t.HadNew,
			Scanned:   result.InstanceScanned(kt.t.InstanceID),
		}

		ann, hasAnn := annByKey[string(kt.findingType)+"|"+kt.key]
		if hasAnn && kt.t.HadNew && kt.t.NewStatus.IsActive() {
			in.NewException = ann.IsDocumentedException()
		}

		prior := lastAction[kt.key]
		if prior != nil && prior.Status == core.ActionException {
			in.OldException = true
			if in.NewException {
				in.ExceptionTextChanged = strings.TrimSpace(prior.Description) != strings.TrimSpace(ann.Justification)
			}
		}

		out := statemachine.Classify(in)
		if !out.ShouldLog {
			continue
		}

		entry := core.ActionLogEntry{
			InitialRunID: p.BaselineRunID,
			SyncRunID:    &runID,
			EntityKey:    kt.key,
			FindingType:  kt.findingType,
			ChangeType:   out.ChangeType,
			Status:       actionStatusFor(out.ChangeType, in.NewException),
			Description:  descriptionFor(out.ChangeType, ann),
		}
		logged, err := recorder.Append(ctx, entry)
		if err != nil {
			return changes, fmt.Errorf("append action for %s: %w", kt.key, err)
		}
		if logged {
			changes++
		}
	}

	return changes, nil
}

type keyedTransition struct {
	key         string
	findingType core.FindingType
	t           diff.Transition
}

// orderedTransitions sorts transitions by canonical finding-type order, then
// by entity key, so iteration over the diff's map is deterministic.
func orderedTransitions(transitions map[string]diff.Transition) []keyedTransition {
	order := make(map[core.FindingType]int, len(core.FindingTypeOrder))
	for i, ft := range core.FindingTypeOrder {
		order[ft] = i
	}

	out := make([]keyedTransition, 0, len(transitions))
	for key, t := range transitions {
		out = append(out, keyedTransition{key: key, findingType: findingTypeOf(key), t: t})
	}
	sort.Slice(out, func(i, j int) bool {
		oi, oj := order[out[i].findingType], order[out[j].findingType]
		if oi != oj {
			return oi < oj
		}
		return out[i].key < out[j].key
	})
	return out
}

// findingTypeOf extracts the leading segment of a composite key, which
// identity.ComposeKey always sets to the finding type itself.
func findingTypeOf(compositeKey string) core.FindingType {
	if i := strings.IndexByte(compositeKey, '|'); i >= 0 {
		return core.FindingType(compositeKey[:i])
	}
	return core.FindingType(compositeKey)
}

func indexLastActionByKey(actions []core.ActionLogEntry) map[string]*core.ActionLogEntry {
	out := make(map[string]*core.ActionLogEntry, len(actions))
	for i := range actions {
		e := &actions[i]
		out[e.EntityKey] = e
	}
	return out
}

func indexAnnotationsByKey(annotations []core.Annotation) map[string]core.Annotation {
	out := make(map[string]core.Annotation, len(annotations))
	for _, a := range annotations {
		out[string(a.EntityType)+"|"+a.EntityKey] = a
	}
	return out
}

func actionStatusFor(ct core.ChangeType, newException bool) core.ActionStatus {
	switch ct {
	case core.ChangeFixed:
		return core.ActionClosed
	case core.ChangeExceptionAdded, core.ChangeExceptionUpdated:
		return core.ActionException
	case core.ChangeExceptionRemoved:
		return core.ActionOpen
	default:
		if newException {
			return core.ActionException
		}
		return core.ActionOpen
	}
}

func descriptionFor(ct core.ChangeType, ann core.Annotation) string {
	switch ct {
	case core.ChangeExceptionAdded, core.ChangeExceptionUpdated:
		return ann.Justification
	default:
		return ""
	}
}
