package envforge

import "fmt"

////////////////////////////////////////////////////////////////////////////////
// Pipeline graph: declared stage ordering, checked against the subject chain
////////////////////////////////////////////////////////////////////////////////

type pipelineStage struct {
	Worker     string
	SubjectIn  string
	SubjectOut string
	DependsOn  []string
}

// provisionPipeline declares the stage graph. The declaration mirrors the
// subject wiring exactly; validatePipeline rejects any drift between the two.
func provisionPipeline() []pipelineStage {
	return []pipelineStage{
		{
			Worker:     workerNameBaseResolver,
			SubjectIn:  subjectProvisionStart,
			SubjectOut: subjectBaseDone,
			DependsOn:  nil,
		},
		{
			Worker:     workerNameSysProvisioner,
			SubjectIn:  subjectBaseDone,
			SubjectOut: subjectSysPkgsDone,
			DependsOn:  []string{workerNameBaseResolver},
		},
		{
			Worker:     workerNameRepoFetcher,
			SubjectIn:  subjectSysPkgsDone,
			SubjectOut: subjectReposDone,
			DependsOn:  []string{workerNameSysProvisioner},
		},
		{
			Worker:     workerNameDepInstaller,
			SubjectIn:  subjectReposDone,
			SubjectOut: subjectDepsDone,
			DependsOn:  []string{workerNameRepoFetcher},
		},
		{
			Worker:     workerNameEnvConfigurer,
			SubjectIn:  subjectDepsDone,
			SubjectOut: subjectEnvDone,
			DependsOn:  []string{workerNameDepInstaller},
		},
		{
			Worker:     workerNameEntrypoint,
			SubjectIn:  subjectEnvDone,
			SubjectOut: subjectEntrypointDone,
			DependsOn:  []string{workerNameEnvConfigurer},
		},
	}
}

func validatePipeline(stages []pipelineStage) error {
	byWorker := map[string]pipelineStage{}
	for _, stage := range stages {
		if _, ok := byWorker[stage.Worker]; ok {
			return fmt.Errorf("duplicate pipeline stage %q", stage.Worker)
		}
		byWorker[stage.Worker] = stage
	}
	for _, stage := range stages {
		for _, dep := range stage.DependsOn {
			depStage, ok := byWorker[dep]
			if !ok {
				return fmt.Errorf("stage %q depends on unknown stage %q", stage.Worker, dep)
			}
			if depStage.SubjectOut != stage.SubjectIn {
				return fmt.Errorf(
					"stage %q consumes %q but dependency %q produces %q",
					stage.Worker,
					stage.SubjectIn,
					dep,
					depStage.SubjectOut,
				)
			}
		}
	}
	return checkPipelineAcyclic(stages, byWorker)
}

func checkPipelineAcyclic(stages []pipelineStage, byWorker map[string]pipelineStage) error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := map[string]int{}
	var visit func(worker string) error
	visit = func(worker string) error {
		switch state[worker] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("pipeline dependency cycle through %q", worker)
		}
		state[worker] = visiting
		for _, dep := range byWorker[worker].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[worker] = done
		return nil
	}
	for _, stage := range stages {
		if err := visit(stage.Worker); err != nil {
			return err
		}
	}
	return nil
}

// pipelineStageOrder returns worker names in execution order.
func pipelineStageOrder(stages []pipelineStage) []string {
	order := make([]string, 0, len(stages))
	for _, stage := range stages {
		order = append(order, stage.Worker)
	}
	return order
}
