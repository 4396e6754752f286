package collectors

import (
	"context"
	"fmt"

	"github.com/sqlguardian/auditor/internal/core"
)

// StubCollector satisfies core.SQLCollector when no real query layer has
// been wired in. Collection itself is external to this module;
// StubCollector exists so the CLI and orchestrator have something concrete
// to depend on, and it is honest about its limits: every target reports
// unreachable rather than fabricating findings.
type StubCollector struct{}

var _ core.SQLCollector = StubCollector{}

func (StubCollector) Collect(ctx context.Context, target core.Target) ([]core.CollectedFinding, error) {
	return nil, fmt.Errorf("%w: no SQL collector configured for target %s", core.ErrTargetUnreachable, target.ID)
}
