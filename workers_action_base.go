package envforge

import (
	"context"
	"fmt"
	"time"
)

////////////////////////////////////////////////////////////////////////////////
// Stage 1: base environment selection
////////////////////////////////////////////////////////////////////////////////

func baseResolverWorkerAction(
	ctx context.Context,
	store *Store,
	workspace WorkspaceStore,
	msg ProvisionOpMsg,
) (WorkerResultMsg, error) {
	stepStart := time.Now().UTC()
	res := newWorkerResultMsg("base resolver starting")
	_ = markRunStepStart(ctx, store, msg.RunID, workerNameBaseResolver, stepStart, "pin base image and build parameters")

	outcome, err := runBaseResolution(workspace, msg)
	if err != nil {
		_ = markRunStepEnd(
			ctx,
			store,
			msg.RunID,
			workerNameBaseResolver,
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
		workerNameBaseResolver,
		time.Now().UTC(),
		res.Message,
		"",
		res.Artifacts,
	)
	return res, nil
}

func runBaseResolution(workspace WorkspaceStore, msg ProvisionOpMsg) (stageOutcome, error) {
	spec := normalizeEnvironmentSpec(msg.Spec)
	if err := validateEnvironmentSpec(spec); err != nil {
		return newStageOutcome(), err
	}
	if err := validateBuildParameters(msg.Params); err != nil {
		return newStageOutcome(), err
	}

	basePath, err := workspace.WriteFile("provision/base-image.json", mustJSON(map[string]any{
		"run_id":         msg.RunID,
		"repository":     spec.Base.Repository,
		"tag":            spec.Base.Tag,
		"ref":            spec.Base.Ref(),
		"python_version": msg.Params.PythonVersion,
		"resolved_at":    time.Now().UTC().Format(time.RFC3339),
	}))
	if err != nil {
		return newStageOutcome(), err
	}
	return stageOutcome{
		message:   fmt.Sprintf("base image pinned to %s", spec.Base.Ref()),
		artifacts: []string{basePath},
	}, nil
}
