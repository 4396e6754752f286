// Command auditor is the operator-facing entry point for the compliance
// auditor: it wires configuration, the durable store, the orchestrator and
// the lifecycle controller together behind a cobra command tree.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sqlguardian/auditor/internal/core"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli := NewCLI()
	err := cli.GetRootCommand().ExecuteContext(ctx)
	os.Exit(exitCode(err))
}

// exitCode maps a returned error to the process exit status. A nil error
// or a bare context.Canceled (operator interrupt) are the only
// non-failure paths.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		return 130
	case errors.Is(err, core.ErrConfigInvalid):
		return 2
	case errors.Is(err, core.ErrTargetUnreachable):
		return 3
	case errors.Is(err, core.ErrWorkbookLocked):
		return 4
	case errors.Is(err, core.ErrFinalizeRefused):
		return 5
	case errors.Is(err, core.ErrStoreLocked), errors.Is(err, core.ErrStoreCorrupt):
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	default:
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
}
