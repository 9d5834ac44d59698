package envforge

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

////////////////////////////////////////////////////////////////////////////////
// Entrypoint
////////////////////////////////////////////////////////////////////////////////

// Run executes one provisioning run end to end: resolve inputs, bring up the
// embedded bus, chain the stage workers, publish the operation and wait for
// the final stage. The process exits non-zero when the run finishes in error.
func Run() {
	mainLog := appLoggerForProcess().Source("main")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	modeResolution, err := resolveExecutorMode()
	if err != nil {
		mainLog.Fatalf("resolve executor mode: %v", err)
	}
	params, err := resolveBuildParameters()
	if err != nil {
		mainLog.Fatalf("resolve build parameters: %v", err)
	}
	spec, err := resolveEnvironmentSpec(params)
	if err != nil {
		mainLog.Fatalf("resolve environment manifest: %v", err)
	}
	pipeline := provisionPipeline()
	if err := validatePipeline(pipeline); err != nil {
		mainLog.Fatalf("pipeline graph: %v", err)
	}

	ns, natsURL, jsDir, err := startEmbeddedNATS()
	if err != nil {
		mainLog.Fatalf("start embedded nats: %v", err)
	}
	defer func() {
		ns.Shutdown()
		ns.WaitForShutdown()
		_ = os.RemoveAll(jsDir)
	}()

	nc, err := nats.Connect(natsURL, nats.Name("driver"))
	if err != nil {
		mainLog.Fatalf("connect nats: %v", err)
	}
	defer func() {
		if derr := nc.Drain(); derr != nil {
			mainLog.Warnf("nats drain error: %v", derr)
		}
	}()

	js, err := jetstream.New(nc)
	if err != nil {
		mainLog.Fatalf("jetstream: %v", err)
	}
	store, err := newStore(ctx, js)
	if err != nil {
		mainLog.Fatalf("store: %v", err)
	}
	runEvents := newRunEventHub(runEventsHistoryLimit)
	store.setRunEvents(runEvents)

	workspace := NewFSWorkspace(workspaceRoot())
	if _, err := workspace.EnsureRoot(); err != nil {
		mainLog.Fatalf("workspace root: %v", err)
	}

	if err := store.PutManifest(ctx, spec); err != nil {
		mainLog.Fatalf("store manifest: %v", err)
	}
	run := newProvisionRun(newID(), spec, params)
	if err := store.PutRun(ctx, run); err != nil {
		mainLog.Fatalf("store run: %v", err)
	}

	workers := []Worker{
		NewBaseResolverWorker(natsURL, workspace, runEvents),
		NewSysPackagesWorker(natsURL, workspace, runEvents, modeResolution),
		NewRepoFetcherWorker(natsURL, workspace, runEvents),
		NewDepInstallerWorker(natsURL, workspace, runEvents, modeResolution),
		NewEnvConfigurerWorker(natsURL, workspace, runEvents),
		NewEntrypointWorker(natsURL, workspace, runEvents, modeResolution),
	}
	for _, worker := range workers {
		if startErr := worker.Start(ctx); startErr != nil {
			mainLog.Fatalf("start worker: %v", startErr)
		}
	}

	waiters := newWaiterHub()
	finalSub, err := subscribeFinalResults(nc, waiters)
	if err != nil {
		mainLog.Fatalf("subscribe final: %v", err)
	}
	defer func() {
		if uerr := finalSub.Unsubscribe(); uerr != nil {
			mainLog.Warnf("final subscription unsubscribe error: %v", uerr)
		}
	}()
	if err := nc.Flush(); err != nil {
		mainLog.Fatalf("flush: %v", err)
	}

	go logRunEvents(ctx, runEvents, run.ID, mainLog)

	mainLog.Infof("NATS: %s", natsURL)
	mainLog.Infof("Workspace: %s", workspace.Root())
	mainLog.Infof("Executor mode: %s (from %s)", modeResolution.mode, modeResolution.source)
	mainLog.Infof("Stages: %v", pipelineStageOrder(pipeline))
	mainLog.Infof("Provisioning run=%s manifest=%s", shortID(run.ID), spec.Name)

	resultCh := waiters.register(run.ID)
	defer waiters.unregister(run.ID)

	opBody, err := json.Marshal(ProvisionOpMsg{
		RunID:  run.ID,
		Spec:   spec,
		Params: params,
		Err:    "",
		At:     time.Now().UTC(),
	})
	if err != nil {
		mainLog.Fatalf("marshal op: %v", err)
	}
	if err := nc.Publish(subjectProvisionStart, opBody); err != nil {
		mainLog.Fatalf("publish op: %v", err)
	}

	select {
	case res := <-resultCh:
		finished, getErr := store.GetRun(ctx, run.ID)
		if getErr != nil {
			mainLog.Fatalf("load finished run: %v", getErr)
		}
		storedSpec, specErr := store.GetManifest(ctx, spec.Name)
		if specErr != nil {
			mainLog.Warnf("load stored manifest: %v", specErr)
			storedSpec = spec
		}
		reportPath, reportErr := writeProvisionReport(workspace, finished, storedSpec, modeResolution)
		if reportErr != nil {
			mainLog.Warnf("write provision report: %v", reportErr)
		} else {
			mainLog.Infof("Report: %s", reportPath)
		}
		if res.Err != "" {
			mainLog.Fatalf("run=%s failed at %s: %s", shortID(run.ID), res.Worker, res.Err)
		}
		mainLog.Infof("run=%s done: %s", shortID(run.ID), res.Message)
		launchEntrypoint(ctx, mainLog, storedSpec, params, workspace, modeResolution)
	case <-time.After(provisionWaitTimeout):
		_ = finalizeRun(ctx, store, run.ID, runStatusError, "provisioning timed out")
		mainLog.Fatalf("run=%s timed out after %s", shortID(run.ID), provisionWaitTimeout)
	}
}

// logRunEvents mirrors the run's progress stream to the process log.
func logRunEvents(ctx context.Context, hub *runEventHub, runID string, log sourceLogger) {
	subID, history, ch := hub.subscribe(runID)
	defer hub.unsubscribe(runID, subID)
	emit := func(rec runEventRecord) {
		p := rec.Payload
		switch rec.Name {
		case runEventStarted:
			log.Debugf("step %d %s: %s", p.StepIndex, p.Worker, p.Message)
		case runEventEnded:
			if p.Error != "" {
				log.Warnf("step %d %s failed after %dms: %s", p.StepIndex, p.Worker, p.DurationMS, p.Error)
				return
			}
			log.Infof("step %d %s done in %dms (%d artifacts)", p.StepIndex, p.Worker, p.DurationMS, len(p.Artifacts))
		default:
			log.Debugf("run %s status=%s %s", shortID(p.RunID), p.Status, p.Message)
		}
	}
	for _, rec := range history {
		emit(rec)
	}
	for {
		select {
		case rec, ok := <-ch:
			if !ok {
				return
			}
			emit(rec)
		case <-ctx.Done():
			return
		}
	}
}

// launchEntrypoint hands the process over to the provisioned entrypoint. In
// plan mode the resolved invocation is only logged; in apply mode it runs
// with the run's environment profile and any extra CLI arguments replacing
// the manifest's default argument.
func launchEntrypoint(
	ctx context.Context,
	log sourceLogger,
	spec EnvironmentSpec,
	params BuildParameters,
	workspace WorkspaceStore,
	modeResolution executorModeResolution,
) {
	profile := buildEnvProfile(spec, params, workspace)
	launch := buildLaunchCommand(spec, profile, os.Environ(), os.Args[1:])
	if modeResolution.mode != executorModeApply {
		log.Infof("Entrypoint (plan): %s %s", launch.Path, strings.Join(launch.Args, " "))
		return
	}
	cmd := launch.Cmd(ctx)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		log.Fatalf("entrypoint %s: %v", launch.Path, err)
	}
}

// writeProvisionReport renders the human-facing summary artifact, including
// which repositories were acquired without an exact pin.
func writeProvisionReport(
	workspace WorkspaceStore,
	run ProvisionRun,
	spec EnvironmentSpec,
	modeResolution executorModeResolution,
) (string, error) {
	unpinned := []string{}
	for _, repo := range spec.Repositories {
		if !repo.Reproducible() {
			unpinned = append(unpinned, repo.Name)
		}
	}
	var artifacts []string
	for _, step := range run.Steps {
		artifacts = append(artifacts, step.Artifacts...)
	}
	files, err := workspace.ListFiles()
	if err != nil {
		return "", err
	}
	provisionFiles := []string{}
	for _, f := range files {
		if strings.HasPrefix(f, "provision/") {
			provisionFiles = append(provisionFiles, f)
		}
	}
	return workspace.WriteFile("provision/provision-report.json", mustJSON(map[string]any{
		"run":                  run,
		"manifest":             spec.Name,
		"mode":                 string(modeResolution.mode),
		"mode_source":          modeResolution.source,
		"buildkit_available":   buildkitCompiledIn(),
		"env_configured":       envConfigArtifactsPresent(workspace),
		"unpinned_repos":       unpinned,
		"reproducible":         len(unpinned) == 0,
		"artifacts":            uniqueSorted(artifacts),
		"provision_files":      provisionFiles,
		"workspace_file_count": len(files),
	}))
}
