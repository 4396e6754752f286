// Package diff is a pure comparison of two finding sets keyed by entity
// key, producing per-entity status transitions plus the set of instances
// the current run actually scanned.
package diff

import "github.com/sqlguardian/auditor/internal/core"

// Transition is the old/new status pair for one entity key. HadOld/HadNew
// distinguish "this key was absent" from "this key was PASS" -- the state
// machine needs that distinction, not just a zero Status value.
type Transition struct {
	OldStatus core.Status
	HadOld    bool
	NewStatus core.Status
	HadNew    bool
	// InstanceID is the instance this key belongs to, taken from curr when
	// present and from prev otherwise, so callers can still answer
	// "was this key's instance scanned?" for a key that dropped out of curr.
	InstanceID int64
}

// Result is the output of Diff.
type Result struct {
	Transitions map[string]Transition
	// ScannedInstances is the set of instance IDs successfully collected
	// this run, derived entirely from curr. A key missing from curr is
	// only "fixed" or "removed" if its instance is in this set; otherwise
	// the instance simply wasn't reachable and the prior state must be
	// preserved (an UNKNOWN transition, not a fix or removal).
	ScannedInstances map[int64]bool
}

// Diff compares prev and curr: for each key in prev ∪ curr, emit a Transition.
func Diff(prev, curr []core.Finding) Result {
	transitions := make(map[string]Transition, len(prev)+len(curr))
	scanned := make(map[int64]bool, len(curr))

	for _, f := range prev {
		t := transitions[f.EntityKey]
		t.OldStatus = f.Status
		t.HadOld = true
		t.InstanceID = f.InstanceID
		transitions[f.EntityKey] = t
	}
	for _, f := range curr {
		scanned[f.InstanceID] = true
		t := transitions[f.EntityKey]
		t.NewStatus = f.Status
		t.HadNew = true
		t.InstanceID = f.InstanceID
		transitions[f.EntityKey] = t
	}

	return Result{Transitions: transitions, ScannedInstances: scanned}
}

// InstanceScanned reports whether instanceID was successfully collected in
// the run that produced this Result's curr set.
func (r Result) InstanceScanned(instanceID int64) bool {
	return r.ScannedInstances[instanceID]
}
