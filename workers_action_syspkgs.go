package envforge

import (
	"context"
	"fmt"
	"strings"
	"time"
)

////////////////////////////////////////////////////////////////////////////////
// Stage 2: system package installation
////////////////////////////////////////////////////////////////////////////////

func sysPackagesWorkerActionWithMode(
	ctx context.Context,
	store *Store,
	workspace WorkspaceStore,
	msg ProvisionOpMsg,
	modeResolution executorModeResolution,
) (WorkerResultMsg, error) {
	stepStart := time.Now().UTC()
	res := newWorkerResultMsg("system package worker starting")
	_ = markRunStepStart(ctx, store, msg.RunID, workerNameSysProvisioner, stepStart, "install OS packages and tools")

	outcome, err := runSysPackageInstall(ctx, workspace, msg, modeResolution.mode)
	if err != nil {
		_ = markRunStepEnd(
			ctx,
			store,
			msg.RunID,
			workerNameSysProvisioner,
			time.Now().UTC(),
			"",
			err.Error(),
			outcome.artifacts,
		)
		return res, err
	}

	res.Message = outcome.message
	res.Artifacts = outcome.artifacts
	_ = markRunStepEnd(
		ctx,
		store,
		msg.RunID,
		workerNameSysProvisioner,
		time.Now().UTC(),
		res.Message,
		"",
		res.Artifacts,
	)
	return res, nil
}

// renderSysPackageScript re-expresses the OS-level installation step as a
// shell script. The package manager itself is an opaque external operation;
// the script records the exact commands the environment depends on.
func renderSysPackageScript(spec EnvironmentSpec) string {
	var b strings.Builder
	b.WriteString("#!/bin/sh\nset -eu\n\n")
	if len(spec.Packages.Apt) > 0 {
		b.WriteString("apt-get update\n")
		b.WriteString("apt-get install -y " + strings.Join(spec.Packages.Apt, " ") + "\n")
	}
	for _, tool := range spec.Packages.Tools {
		fmt.Fprintf(&b, "\n# tool: %s\n", tool.Name)
		b.WriteString(shellQuoteAll(tool.Command) + "\n")
	}
	return b.String()
}

func runSysPackageInstall(
	ctx context.Context,
	workspace WorkspaceStore,
	msg ProvisionOpMsg,
	mode executorMode,
) (stageOutcome, error) {
	spec := normalizeEnvironmentSpec(msg.Spec)
	script := renderSysPackageScript(spec)
	scriptPath, err := workspace.WriteExecutable("provision/install-syspkgs.sh", []byte(script))
	if err != nil {
		return newStageOutcome(), err
	}
	touched := []string{scriptPath}

	if mode == executorModePlan {
		planPath, planErr := workspace.WriteFile("provision/syspkgs-plan.json", mustJSON(map[string]any{
			"run_id":   msg.RunID,
			"mode":     string(mode),
			"apt":      spec.Packages.Apt,
			"tools":    toolNames(spec.Packages.Tools),
			"executed": false,
		}))
		if planErr != nil {
			return stageOutcome{message: "", artifacts: touched}, planErr
		}
		touched = append(touched, planPath)
		return stageOutcome{
			message:   fmt.Sprintf("system package install planned (%d apt packages)", len(spec.Packages.Apt)),
			artifacts: touched,
		}, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, installOpTimeout)
	defer cancel()
	if len(spec.Packages.Apt) > 0 {
		if _, err := runShellCmd(runCtx, "", "apt-get", "update"); err != nil {
			return stageOutcome{message: "", artifacts: touched}, err
		}
		installArgs := append([]string{"install", "-y"}, spec.Packages.Apt...)
		if _, err := runShellCmd(runCtx, "", "apt-get", installArgs...); err != nil {
			return stageOutcome{message: "", artifacts: touched}, err
		}
	}
	for _, tool := range spec.Packages.Tools {
		if len(tool.Command) == 0 {
			continue
		}
		if _, err := runShellCmd(runCtx, "", tool.Command[0], tool.Command[1:]...); err != nil {
			return stageOutcome{message: "", artifacts: touched}, fmt.Errorf("install tool %s: %w", tool.Name, err)
		}
	}
	return stageOutcome{
		message:   fmt.Sprintf("installed %d apt packages and %d tools", len(spec.Packages.Apt), len(spec.Packages.Tools)),
		artifacts: touched,
	}, nil
}

func toolNames(tools []ToolInstall) []string {
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	return names
}
