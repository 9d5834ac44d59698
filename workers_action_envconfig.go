package envforge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

////////////////////////////////////////////////////////////////////////////////
// Stage 5: environment configuration
////////////////////////////////////////////////////////////////////////////////

func envConfigurerWorkerAction(
	ctx context.Context,
	store *Store,
	workspace WorkspaceStore,
	msg ProvisionOpMsg,
) (WorkerResultMsg, error) {
	stepStart := time.Now().UTC()
	res := newWorkerResultMsg("environment configurer starting")
	_ = markRunStepStart(ctx, store, msg.RunID, workerNameEnvConfigurer, stepStart, "configure environment profile")

	outcome, err := runEnvConfiguration(ctx, workspace, msg)
	if err != nil {
		_ = markRunStepEnd(
			ctx,
			store,
			msg.RunID,
			workerNameEnvConfigurer,
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
		workerNameEnvConfigurer,
		time.Now().UTC(),
		res.Message,
		"",
		res.Artifacts,
	)
	return res, nil
}

func runEnvConfiguration(ctx context.Context, workspace WorkspaceStore, msg ProvisionOpMsg) (stageOutcome, error) {
	if err := ensureContextAlive(ctx); err != nil {
		return newStageOutcome(), err
	}
	spec := normalizeEnvironmentSpec(msg.Spec)
	if err := validateBuildParameters(msg.Params); err != nil {
		return newStageOutcome(), err
	}

	profile := buildEnvProfile(spec, msg.Params, workspace)

	if err := os.MkdirAll(msg.Params.BuildPath, dirModeShared); err != nil {
		return newStageOutcome(), fmt.Errorf("create build path %s: %w", msg.Params.BuildPath, err)
	}
	if cacheDir, ok := profile.Lookup(spec.CacheVar); ok && spec.CacheVar != "" {
		if err := os.MkdirAll(cacheDir, dirModeShared); err != nil {
			return newStageOutcome(), fmt.Errorf("create cache dir %s: %w", cacheDir, err)
		}
	}

	profilePath, err := workspace.WriteExecutable("provision/profile.sh", []byte(renderProfileScript(profile)))
	if err != nil {
		return newStageOutcome(), err
	}
	touched := []string{profilePath}

	envPath, err := workspace.WriteFile("provision/env.json", mustJSON(map[string]any{
		"run_id":     msg.RunID,
		"build_path": msg.Params.BuildPath,
		"entries":    profile.Entries(),
	}))
	if err != nil {
		return stageOutcome{message: "", artifacts: touched}, err
	}
	touched = append(touched, envPath)

	return stageOutcome{
		message:   fmt.Sprintf("environment profile configured (%d entries)", len(profile.Entries())),
		artifacts: touched,
	}, nil
}

// envConfigArtifactsPresent reports whether stage 5 left its artifacts in the
// workspace. Used by the final report to distinguish a skipped stage from a
// completed one.
func envConfigArtifactsPresent(workspace WorkspaceStore) bool {
	_, err := os.Stat(filepath.Join(workspace.Root(), "provision", "env.json"))
	return err == nil
}
