package envforge

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

////////////////////////////////////////////////////////////////////////////////
// Shared stage-action plumbing
////////////////////////////////////////////////////////////////////////////////

type stageOutcome struct {
	message   string
	artifacts []string
}

func newStageOutcome() stageOutcome {
	return stageOutcome{
		message:   "",
		artifacts: nil,
	}
}

func ensureContextAlive(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// runShellCmd executes one provisioning command, surfacing the tool's own
// diagnostic output on failure. No retry layer: a failing command fails the run.
func runShellCmd(ctx context.Context, dir string, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg != "" {
			return "", fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, msg)
		}
		return "", fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

func shellQuoteAll(args []string) string {
	quoted := make([]string, 0, len(args))
	for _, a := range args {
		if strings.ContainsAny(a, " \t\"'$`\\") {
			quoted = append(quoted, fmt.Sprintf("%q", a))
			continue
		}
		quoted = append(quoted, a)
	}
	return strings.Join(quoted, " ")
}
