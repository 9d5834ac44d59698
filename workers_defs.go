package envforge

import "context"

////////////////////////////////////////////////////////////////////////////////
// Workers (base -> syspkgs -> repos -> deps -> env -> entrypoint)
////////////////////////////////////////////////////////////////////////////////

const (
	workerNameBaseResolver   = "baseResolver"
	workerNameSysProvisioner = "sysProvisioner"
	workerNameRepoFetcher    = "repoFetcher"
	workerNameDepInstaller   = "depInstaller"
	workerNameEnvConfigurer  = "envConfigurer"
	workerNameEntrypoint     = "entrypoint"
)

type Worker interface {
	Start(ctx context.Context) error
}

type WorkerBase struct {
	name       string
	natsURL    string
	subjectIn  string
	subjectOut string
	workspace  WorkspaceStore
	runEvents  *runEventHub
}

func newWorkerBase(
	name, natsURL, subjectIn, subjectOut string,
	workspace WorkspaceStore,
	runEvents *runEventHub,
) WorkerBase {
	return WorkerBase{
		name:       name,
		natsURL:    natsURL,
		subjectIn:  subjectIn,
		subjectOut: subjectOut,
		workspace:  workspace,
		runEvents:  runEvents,
	}
}

type (
	BaseResolverWorker struct{ WorkerBase }
	SysPackagesWorker  struct {
		WorkerBase

		modeResolution executorModeResolution
	}
	RepoFetcherWorker  struct{ WorkerBase }
	DepInstallerWorker struct {
		WorkerBase

		modeResolution executorModeResolution
	}
	EnvConfigurerWorker struct{ WorkerBase }
	EntrypointWorker    struct {
		WorkerBase

		modeResolution executorModeResolution
	}
)

func NewBaseResolverWorker(
	natsURL string,
	workspace WorkspaceStore,
	runEvents *runEventHub,
) *BaseResolverWorker {
	return &BaseResolverWorker{
		WorkerBase: newWorkerBase(
			workerNameBaseResolver,
			natsURL,
			subjectProvisionStart,
			subjectBaseDone,
			workspace,
			runEvents,
		),
	}
}

func NewSysPackagesWorker(
	natsURL string,
	workspace WorkspaceStore,
	runEvents *runEventHub,
	modeResolution executorModeResolution,
) *SysPackagesWorker {
	return &SysPackagesWorker{
		WorkerBase: newWorkerBase(
			workerNameSysProvisioner,
			natsURL,
			subjectBaseDone,
			subjectSysPkgsDone,
			workspace,
			runEvents,
		),
		modeResolution: modeResolution,
	}
}

func NewRepoFetcherWorker(
	natsURL string,
	workspace WorkspaceStore,
	runEvents *runEventHub,
) *RepoFetcherWorker {
	return &RepoFetcherWorker{
		WorkerBase: newWorkerBase(
			workerNameRepoFetcher,
			natsURL,
			subjectSysPkgsDone,
			subjectReposDone,
			workspace,
			runEvents,
		),
	}
}

func NewDepInstallerWorker(
	natsURL string,
	workspace WorkspaceStore,
	runEvents *runEventHub,
	modeResolution executorModeResolution,
) *DepInstallerWorker {
	return &DepInstallerWorker{
		WorkerBase: newWorkerBase(
			workerNameDepInstaller,
			natsURL,
			subjectReposDone,
			subjectDepsDone,
			workspace,
			runEvents,
		),
		modeResolution: modeResolution,
	}
}

func NewEnvConfigurerWorker(
	natsURL string,
	workspace WorkspaceStore,
	runEvents *runEventHub,
) *EnvConfigurerWorker {
	return &EnvConfigurerWorker{
		WorkerBase: newWorkerBase(
			workerNameEnvConfigurer,
			natsURL,
			subjectDepsDone,
			subjectEnvDone,
			workspace,
			runEvents,
		),
	}
}

func NewEntrypointWorker(
	natsURL string,
	workspace WorkspaceStore,
	runEvents *runEventHub,
	modeResolution executorModeResolution,
) *EntrypointWorker {
	return &EntrypointWorker{
		WorkerBase: newWorkerBase(
			workerNameEntrypoint,
			natsURL,
			subjectEnvDone,
			subjectEntrypointDone,
			workspace,
			runEvents,
		),
		modeResolution: modeResolution,
	}
}

func (w *BaseResolverWorker) Start(ctx context.Context) error {
	return startWorker(
		ctx,
		w.name,
		w.natsURL,
		w.subjectIn,
		w.subjectOut,
		w.workspace,
		w.runEvents,
		baseResolverWorkerAction,
	)
}

func (w *SysPackagesWorker) Start(ctx context.Context) error {
	return startWorker(
		ctx,
		w.name,
		w.natsURL,
		w.subjectIn,
		w.subjectOut,
		w.workspace,
		w.runEvents,
		func(
			actionCtx context.Context,
			store *Store,
			workspace WorkspaceStore,
			msg ProvisionOpMsg,
		) (WorkerResultMsg, error) {
			return sysPackagesWorkerActionWithMode(actionCtx, store, workspace, msg, w.modeResolution)
		},
	)
}

func (w *RepoFetcherWorker) Start(ctx context.Context) error {
	return startWorker(
		ctx,
		w.name,
		w.natsURL,
		w.subjectIn,
		w.subjectOut,
		w.workspace,
		w.runEvents,
		repoFetcherWorkerAction,
	)
}

func (w *DepInstallerWorker) Start(ctx context.Context) error {
	return startWorker(
		ctx,
		w.name,
		w.natsURL,
		w.subjectIn,
		w.subjectOut,
		w.workspace,
		w.runEvents,
		func(
			actionCtx context.Context,
			store *Store,
			workspace WorkspaceStore,
			msg ProvisionOpMsg,
		) (WorkerResultMsg, error) {
			return depInstallerWorkerActionWithMode(actionCtx, store, workspace, msg, w.modeResolution)
		},
	)
}

func (w *EnvConfigurerWorker) Start(ctx context.Context) error {
	return startWorker(
		ctx,
		w.name,
		w.natsURL,
		w.subjectIn,
		w.subjectOut,
		w.workspace,
		w.runEvents,
		envConfigurerWorkerAction,
	)
}

func (w *EntrypointWorker) Start(ctx context.Context) error {
	return startWorker(
		ctx,
		w.name,
		w.natsURL,
		w.subjectIn,
		w.subjectOut,
		w.workspace,
		w.runEvents,
		func(
			actionCtx context.Context,
			store *Store,
			workspace WorkspaceStore,
			msg ProvisionOpMsg,
		) (WorkerResultMsg, error) {
			return entrypointWorkerActionWithMode(actionCtx, store, workspace, msg, w.modeResolution)
		},
	)
}

type workerFn func(ctx context.Context, store *Store, workspace WorkspaceStore, msg ProvisionOpMsg) (WorkerResultMsg, error)
