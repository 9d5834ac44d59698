package envforge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

////////////////////////////////////////////////////////////////////////////////
// Stage 4: interpreter dependency installation
////////////////////////////////////////////////////////////////////////////////

func depInstallerWorkerActionWithMode(
	ctx context.Context,
	store *Store,
	workspace WorkspaceStore,
	msg ProvisionOpMsg,
	modeResolution executorModeResolution,
) (WorkerResultMsg, error) {
	stepStart := time.Now().UTC()
	res := newWorkerResultMsg("dependency installer starting")
	_ = markRunStepStart(ctx, store, msg.RunID, workerNameDepInstaller, stepStart, "install interpreter dependencies")

	outcome, err := runDependencyInstall(ctx, workspace, msg, modeResolution.mode)
	if err != nil {
		_ = markRunStepEnd(
			ctx,
			store,
			msg.RunID,
			workerNameDepInstaller,
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
		workerNameDepInstaller,
		time.Now().UTC(),
		res.Message,
		"",
		res.Artifacts,
	)
	return res, nil
}

// dependencyManifestPath resolves the manifest file contributed by one of the
// acquired repositories. Acquisition of that repository happens in the
// previous stage; a missing manifest here is fatal.
func dependencyManifestPath(workspace WorkspaceStore, deps DependencyManifest) (string, error) {
	if deps.Repo == "" || deps.RelPath == "" {
		return "", nil
	}
	manifestPath := filepath.Join(workspace.RepoDir(deps.Repo), filepath.FromSlash(deps.RelPath))
	if _, err := os.Stat(manifestPath); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("dependency manifest %s missing from acquired repo %q", manifestPath, deps.Repo)
		}
		return "", err
	}
	return manifestPath, nil
}

func renderDependencyInstallScript(manifestPath string, extra []string) string {
	var b strings.Builder
	b.WriteString("#!/bin/sh\nset -eu\n\n")
	if manifestPath != "" {
		fmt.Fprintf(&b, "pip install -r %s\n", manifestPath)
	}
	for _, pkg := range extra {
		fmt.Fprintf(&b, "pip install %s\n", pkg)
	}
	return b.String()
}

func runDependencyInstall(
	ctx context.Context,
	workspace WorkspaceStore,
	msg ProvisionOpMsg,
	mode executorMode,
) (stageOutcome, error) {
	spec := normalizeEnvironmentSpec(msg.Spec)
	deps := spec.Dependencies
	if deps.Repo != "" {
		if _, ok := findRepository(spec, deps.Repo); !ok {
			return newStageOutcome(), fmt.Errorf("dependency manifest repo %q not declared in manifest", deps.Repo)
		}
	}
	manifestPath, err := dependencyManifestPath(workspace, deps)
	if err != nil {
		return newStageOutcome(), err
	}

	script := renderDependencyInstallScript(manifestPath, deps.Extra)
	scriptPath, err := workspace.WriteExecutable("provision/install-deps.sh", []byte(script))
	if err != nil {
		return newStageOutcome(), err
	}
	touched := []string{scriptPath}

	installed := false
	if mode == executorModeApply {
		runCtx, cancel := context.WithTimeout(ctx, installOpTimeout)
		defer cancel()
		if manifestPath != "" {
			if _, err := runShellCmd(runCtx, "", "pip", "install", "-r", manifestPath); err != nil {
				return stageOutcome{message: "", artifacts: touched}, err
			}
		}
		for _, pkg := range deps.Extra {
			if _, err := runShellCmd(runCtx, "", "pip", "install", pkg); err != nil {
				return stageOutcome{message: "", artifacts: touched}, err
			}
		}
		installed = true
	}

	recordPath, err := workspace.WriteFile("provision/deps.json", mustJSON(map[string]any{
		"run_id":        msg.RunID,
		"mode":          string(mode),
		"manifest_repo": deps.Repo,
		"manifest_path": manifestPath,
		"extra":         deps.Extra,
		"executed":      installed,
	}))
	if err != nil {
		return stageOutcome{message: "", artifacts: touched}, err
	}
	touched = append(touched, recordPath)

	message := "dependency install planned"
	if installed {
		message = "dependencies installed into interpreter environment"
	}
	return stageOutcome{
		message:   message,
		artifacts: touched,
	}, nil
}
