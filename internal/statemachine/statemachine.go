// Package statemachine implements the single authoritative function that
// turns an old/new status pair, exception flags and a scanned flag into
// a ChangeType, a should_log decision and a counted_as bucket.
package statemachine

import "github.com/sqlguardian/auditor/internal/core"

// CountedAs is the bucket a transition contributes to for stats purposes.
type CountedAs string

const (
	CountedActive     CountedAs = "active"
	CountedCompliant  CountedAs = "compliant"
	CountedException  CountedAs = "exception"
	CountedPreserve   CountedAs = "preserve_prior"
)

// Input bundles every fact the state machine needs. HadOld/HadNew mirror
// diff.Transition: "no finding" is distinct from "PASS".
type Input struct {
	OldStatus    core.Status
	HadOld       bool
	NewStatus    core.Status
	HadNew       bool
	OldException bool
	NewException bool
	// ExceptionTextChanged is true when both old and new carry an
	// exception and the justification/notes text differs (drives
	// EXCEPTION_UPDATED instead of STILL_FAILING).
	ExceptionTextChanged bool
	Scanned              bool
}

// Output is what Classify returns.
type Output struct {
	ChangeType core.ChangeType
	ShouldLog  bool
	CountedAs  CountedAs
}

// Classify implements the priority-ordered transition table. Row order doubles as
// priority order when more than one pattern could apply to the same
// transition in a single sync: FIXED > REGRESSION > EXCEPTION_ADDED >
// EXCEPTION_REMOVED > STILL_FAILING. Because each table row's guard is
// already mutually exclusive on (HadOld, HadNew, old/new status, exception
// flags), that priority falls out of evaluation order below rather than
// needing an explicit tie-break.
func Classify(in Input) Output {
	switch {
	case !in.HadOld && in.HadNew && in.NewStatus.IsActive() && in.Scanned:
		return Output{ChangeType: core.ChangeNewIssue, ShouldLog: true, CountedAs: CountedActive}

	case in.HadOld && in.OldStatus.IsActive() && in.HadNew && in.NewStatus == core.StatusPass && in.Scanned:
		return Output{ChangeType: core.ChangeFixed, ShouldLog: true, CountedAs: CountedCompliant}

	case in.HadOld && in.OldStatus == core.StatusPass && in.HadNew && in.NewStatus.IsActive() && in.Scanned:
		return Output{ChangeType: core.ChangeRegression, ShouldLog: true, CountedAs: CountedActive}

	case in.HadNew && in.NewStatus == core.StatusPass:
		return Output{ChangeType: core.ChangeNoChange, ShouldLog: false, CountedAs: CountedCompliant}

	case in.HadOld && in.OldStatus.IsActive() && in.HadNew && in.NewStatus.IsActive() && in.Scanned:
		switch {
		case !in.OldException && in.NewException:
			return Output{ChangeType: core.ChangeExceptionAdded, ShouldLog: true, CountedAs: CountedException}
		case in.OldException && !in.NewException:
			return Output{ChangeType: core.ChangeExceptionRemoved, ShouldLog: true, CountedAs: CountedActive}
		case in.OldException && in.NewException && in.ExceptionTextChanged:
			return Output{ChangeType: core.ChangeExceptionUpdated, ShouldLog: true, CountedAs: CountedException}
		default:
			counted := CountedActive
			if in.NewException {
				counted = CountedException
			}
			return Output{ChangeType: core.ChangeStillFailing, ShouldLog: false, CountedAs: counted}
		}

	case in.HadOld && in.OldStatus.IsActive() && !in.HadNew && !in.Scanned:
		return Output{ChangeType: core.ChangeUnknown, ShouldLog: false, CountedAs: CountedPreserve}

	default:
		return Output{ChangeType: core.ChangeUnknown, ShouldLog: false, CountedAs: CountedPreserve}
	}
}
