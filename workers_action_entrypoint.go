package envforge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

////////////////////////////////////////////////////////////////////////////////
// Stage 6: entrypoint handoff + image assembly
////////////////////////////////////////////////////////////////////////////////

func entrypointWorkerActionWithMode(
	ctx context.Context,
	store *Store,
	workspace WorkspaceStore,
	msg ProvisionOpMsg,
	modeResolution executorModeResolution,
) (WorkerResultMsg, error) {
	stepStart := time.Now().UTC()
	res := newWorkerResultMsg("entrypoint handoff starting")
	_ = markRunStepStart(ctx, store, msg.RunID, workerNameEntrypoint, stepStart, "install entrypoint and assemble image")

	outcome, err := runEntrypointHandoff(ctx, workspace, msg, modeResolution.mode)
	if err != nil {
		_ = markRunStepEnd(
			ctx,
			store,
			msg.RunID,
			workerNameEntrypoint,
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
		workerNameEntrypoint,
		time.Now().UTC(),
		res.Message,
		"",
		res.Artifacts,
	)
	_ = finalizeRun(ctx, store, msg.RunID, runStatusDone, "")
	return res, nil
}

func runEntrypointHandoff(
	ctx context.Context,
	workspace WorkspaceStore,
	msg ProvisionOpMsg,
	mode executorMode,
) (stageOutcome, error) {
	if err := ensureContextAlive(ctx); err != nil {
		return newStageOutcome(), err
	}
	spec := normalizeEnvironmentSpec(msg.Spec)

	// The script ships inside the toolchain repository acquired two stages
	// earlier; a missing script means the acquisition was incomplete.
	scriptBody, err := workspace.ReadFile(spec.Entrypoint.ScriptRelPath)
	if err != nil {
		return newStageOutcome(), fmt.Errorf("read entrypoint script %s: %w", spec.Entrypoint.ScriptRelPath, err)
	}

	scriptCopy, err := workspace.WriteExecutable("provision/entrypoint.sh", scriptBody)
	if err != nil {
		return newStageOutcome(), err
	}
	touched := make([]string, 0, touchedArtifactsCap)
	touched = append(touched, scriptCopy)

	dockerfileBody := []byte(renderDockerfile(spec, msg.Params))
	if err := validateDockerfile(dockerfileBody); err != nil {
		return stageOutcome{message: "", artifacts: touched}, err
	}
	dockerfilePath, err := workspace.WriteFile("provision/Dockerfile", dockerfileBody)
	if err != nil {
		return stageOutcome{message: "", artifacts: touched}, err
	}
	touched = append(touched, dockerfilePath)

	imageTag := fmt.Sprintf("%s:%s", spec.Name, shortID(msg.RunID))
	buildExecuted := false
	var buildMetadata map[string]any
	if mode == executorModeApply {
		if err := installEntrypointScript(spec.Entrypoint.InstallPath, scriptBody); err != nil {
			return stageOutcome{message: "", artifacts: touched}, err
		}
		var backend imageBuilderBackend = buildKitImageBuilderBackend{}
		buildRes, err := backend.build(ctx, imageBuildRequest{
			RunID:          msg.RunID,
			ImageTag:       imageTag,
			ContextDir:     workspace.Root(),
			DockerfileBody: dockerfileBody,
		})
		if err != nil {
			return stageOutcome{message: "", artifacts: touched}, err
		}
		buildExecuted = true
		buildMetadata = buildRes.metadata
		buildLog := appLoggerForProcess().Source(workerNameEntrypoint)
		buildLog.Infof("%s via %s: %s", buildRes.message, backend.name(), buildRes.summary)
		buildLog.Debugf("build log: %s", buildRes.logs)
	}

	recordPath, err := workspace.WriteFile("provision/entrypoint.json", mustJSON(map[string]any{
		"run_id":         msg.RunID,
		"mode":           string(mode),
		"script":         spec.Entrypoint.ScriptRelPath,
		"install_path":   spec.Entrypoint.InstallPath,
		"default_arg":    spec.Entrypoint.DefaultArg,
		"image_tag":      imageTag,
		"build_executed": buildExecuted,
		"build":          buildMetadata,
		"buildkit":       buildkitCompiledIn(),
	}))
	if err != nil {
		return stageOutcome{message: "", artifacts: touched}, err
	}
	touched = append(touched, recordPath)

	message := fmt.Sprintf("entrypoint staged, image %s planned", imageTag)
	if buildExecuted {
		message = fmt.Sprintf("entrypoint installed, image %s built", imageTag)
	}
	return stageOutcome{
		message:   message,
		artifacts: touched,
	}, nil
}

func installEntrypointScript(installPath string, body []byte) error {
	if err := os.MkdirAll(filepath.Dir(installPath), dirModeShared); err != nil {
		return fmt.Errorf("create entrypoint install dir: %w", err)
	}
	if err := os.WriteFile(installPath, body, fileModeEntrypoint); err != nil {
		return fmt.Errorf("install entrypoint script %s: %w", installPath, err)
	}
	return os.Chmod(installPath, fileModeEntrypoint)
}
