package envforge

import (
	"context"
	"time"
)

////////////////////////////////////////////////////////////////////////////////
// Run bookkeeping helpers
////////////////////////////////////////////////////////////////////////////////

func markRunStepStart(
	ctx context.Context,
	store *Store,
	runID, worker string,
	startedAt time.Time,
	msg string,
) error {
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	for i := len(run.Steps) - 1; i >= 0; i-- {
		if run.Steps[i].Worker == worker && run.Steps[i].EndedAt.IsZero() {
			return nil
		}
	}
	prevStatus := run.Status
	run.Status = runStatusRunning
	run.Steps = append(run.Steps, StepRecord{
		Worker:    worker,
		StartedAt: startedAt,
		EndedAt:   time.Time{},
		Message:   msg,
		Error:     "",
		Artifacts: nil,
	})
	putErr := store.PutRun(ctx, run)
	if putErr != nil {
		return putErr
	}

	if prevStatus != run.Status {
		emitRunStatus(store.runEvents, run, "run started")
	}
	emitRunStepStarted(store.runEvents, run, worker, len(run.Steps), msg)
	return nil
}

func markRunStepEnd(
	ctx context.Context,
	store *Store,
	runID, worker string,
	endedAt time.Time,
	message, stepErr string,
	artifacts []string,
) error {
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	prevStatus := run.Status
	prevError := run.Error
	stepIndex := 0
	var stepStartedAt time.Time
	// Find last step for worker that doesn't have EndedAt set.
	for i := len(run.Steps) - 1; i >= 0; i-- {
		if run.Steps[i].Worker == worker && run.Steps[i].EndedAt.IsZero() {
			run.Steps[i].EndedAt = endedAt
			if message != "" {
				run.Steps[i].Message = message
			}
			run.Steps[i].Error = stepErr
			run.Steps[i].Artifacts = artifacts
			stepIndex = i + 1
			stepStartedAt = run.Steps[i].StartedAt
			break
		}
	}
	if stepErr != "" {
		run.Status = runStatusError
		run.Error = stepErr
		run.Finished = time.Now().UTC()
	}
	putErr := store.PutRun(ctx, run)
	if putErr != nil {
		return putErr
	}

	if prevStatus != run.Status || prevError != run.Error {
		emitRunStatus(store.runEvents, run, "run status updated")
	}
	if stepIndex > 0 {
		emitRunStepEnded(
			store.runEvents,
			run,
			worker,
			stepIndex,
			message,
			stepErr,
			artifacts,
			stepStartedAt,
			endedAt,
		)
	}
	return nil
}

func finalizeRun(
	ctx context.Context,
	store *Store,
	runID, status, errMsg string,
) error {
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	prevStatus := run.Status
	prevError := run.Error
	run.Status = status
	run.Error = errMsg
	run.Finished = time.Now().UTC()
	putErr := store.PutRun(ctx, run)
	if putErr != nil {
		return putErr
	}

	if prevStatus != run.Status || prevError != run.Error {
		emitRunStatus(store.runEvents, run, "run finished")
	}
	return nil
}
