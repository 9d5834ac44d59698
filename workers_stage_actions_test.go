//nolint:testpackage // Stage-action tests exercise unexported plan-mode helpers directly.
package envforge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func stageActionSpec() EnvironmentSpec {
	var spec EnvironmentSpec
	spec.Name = "toolchain-env"
	spec.Base.Repository = "pytorch/pytorch"
	spec.Base.Tag = "1.1.0-cuda10.0-cudnn7.5-devel"
	spec.Packages.Apt = []string{"git", "verilator"}
	spec.Packages.Tools = []ToolInstall{
		{
			Name:    "ssh-relax-host-key-checking",
			Command: []string{"sh", "-c", `echo "StrictHostKeyChecking no" >> /etc/ssh/ssh_config`},
		},
	}
	spec.Repositories = []RepositorySpec{
		{Name: "toolchain", URL: "https://example.invalid/toolchain.git", Branch: "master", Commit: ""},
	}
	spec.Dependencies.Repo = "toolchain"
	spec.Dependencies.RelPath = "requirements.txt"
	spec.Dependencies.Extra = []string{"pytest-dependency"}
	spec.PathAppends = []PathAppend{
		{Variable: "PYTHONPATH", Dir: "toolchain/src"},
	}
	spec.CacheVar = "VIVADO_IP_CACHE"
	spec.Entrypoint.ScriptRelPath = "toolchain/docker/entrypoint.sh"
	spec.Entrypoint.InstallPath = "/usr/local/bin/entrypoint.sh"
	return normalizeEnvironmentSpec(spec)
}

func stageActionMsg(t *testing.T) (ProvisionOpMsg, *FSWorkspace) {
	t.Helper()
	var msg ProvisionOpMsg
	msg.RunID = newID()
	msg.Spec = stageActionSpec()
	msg.Params.PythonVersion = "3.6"
	msg.Params.BuildPath = filepath.Join(t.TempDir(), "build")
	return msg, NewFSWorkspace(t.TempDir())
}

func TestStageActions_BaseResolutionWritesPinRecord(t *testing.T) {
	msg, ws := stageActionMsg(t)

	outcome, err := runBaseResolution(ws, msg)
	if err != nil {
		t.Fatalf("base resolution: %v", err)
	}
	if !strings.Contains(outcome.message, "pytorch/pytorch:1.1.0-cuda10.0-cudnn7.5-devel") {
		t.Fatalf("message must carry the pinned ref, got %q", outcome.message)
	}
	data, err := ws.ReadFile("provision/base-image.json")
	if err != nil {
		t.Fatalf("read pin record: %v", err)
	}
	if !strings.Contains(string(data), `"tag": "1.1.0-cuda10.0-cudnn7.5-devel"`) {
		t.Fatalf("pin record missing tag: %s", data)
	}
}

func TestStageActions_BaseResolutionRejectsInvalidSpec(t *testing.T) {
	msg, ws := stageActionMsg(t)
	msg.Spec.Base.Repository = ""

	if _, err := runBaseResolution(ws, msg); err == nil {
		t.Fatal("expected validation failure for missing base repository")
	}
}

func TestStageActions_SysPackagePlanRendersScript(t *testing.T) {
	msg, ws := stageActionMsg(t)

	outcome, err := runSysPackageInstall(context.Background(), ws, msg, executorModePlan)
	if err != nil {
		t.Fatalf("syspkg plan: %v", err)
	}
	if len(outcome.artifacts) != 2 {
		t.Fatalf("expected script and plan record, got %v", outcome.artifacts)
	}

	script, err := ws.ReadFile("provision/install-syspkgs.sh")
	if err != nil {
		t.Fatalf("read script: %v", err)
	}
	if !strings.Contains(string(script), "apt-get install -y git verilator") {
		t.Fatalf("script missing package install line:\n%s", script)
	}
	if !strings.Contains(string(script), "StrictHostKeyChecking no") {
		t.Fatalf("script missing tool command:\n%s", script)
	}

	plan, err := ws.ReadFile("provision/syspkgs-plan.json")
	if err != nil {
		t.Fatalf("read plan record: %v", err)
	}
	if !strings.Contains(string(plan), `"executed": false`) {
		t.Fatalf("plan record must not claim execution: %s", plan)
	}
}

func TestStageActions_DependencyInstallRequiresManifest(t *testing.T) {
	msg, ws := stageActionMsg(t)

	_, err := runDependencyInstall(context.Background(), ws, msg, executorModePlan)
	if err == nil {
		t.Fatal("expected missing manifest to be fatal")
	}
	if !strings.Contains(err.Error(), "missing from acquired repo") {
		t.Fatalf("unexpected missing-manifest error: %v", err)
	}
}

func TestStageActions_DependencyInstallPlan(t *testing.T) {
	msg, ws := stageActionMsg(t)
	if _, err := ws.WriteFile("toolchain/requirements.txt", []byte("numpy==1.16\n")); err != nil {
		t.Fatalf("seed manifest: %v", err)
	}

	outcome, err := runDependencyInstall(context.Background(), ws, msg, executorModePlan)
	if err != nil {
		t.Fatalf("dependency plan: %v", err)
	}
	if !strings.Contains(outcome.message, "planned") {
		t.Fatalf("plan mode must not claim installation, got %q", outcome.message)
	}

	script, err := ws.ReadFile("provision/install-deps.sh")
	if err != nil {
		t.Fatalf("read script: %v", err)
	}
	if !strings.Contains(string(script), "pip install -r ") ||
		!strings.Contains(string(script), "requirements.txt") {
		t.Fatalf("script missing manifest install:\n%s", script)
	}
	if !strings.Contains(string(script), "pip install pytest-dependency") {
		t.Fatalf("script missing extra package:\n%s", script)
	}
}

func TestStageActions_EnvConfigurationCreatesCacheDir(t *testing.T) {
	msg, ws := stageActionMsg(t)

	outcome, err := runEnvConfiguration(context.Background(), ws, msg)
	if err != nil {
		t.Fatalf("env configuration: %v", err)
	}
	if len(outcome.artifacts) != 2 {
		t.Fatalf("expected profile.sh and env.json, got %v", outcome.artifacts)
	}

	cacheDir := filepath.Join(msg.Params.BuildPath, "vivado_ip_cache")
	if _, err := os.Stat(cacheDir); err != nil {
		t.Fatalf("cache dir must exist after configuration: %v", err)
	}

	profile, err := ws.ReadFile("provision/profile.sh")
	if err != nil {
		t.Fatalf("read profile: %v", err)
	}
	if !strings.Contains(string(profile), `export PYTHONPATH="${PYTHONPATH:+$PYTHONPATH:}`) {
		t.Fatalf("profile must append, not replace, the search path:\n%s", profile)
	}
	if !envConfigArtifactsPresent(ws) {
		t.Fatal("expected env artifacts to be detectable")
	}
}

func TestStageActions_EntrypointHandoffPlan(t *testing.T) {
	msg, ws := stageActionMsg(t)
	script := "#!/bin/bash\nexec \"$@\"\n"
	if _, err := ws.WriteFile("toolchain/docker/entrypoint.sh", []byte(script)); err != nil {
		t.Fatalf("seed entrypoint script: %v", err)
	}

	outcome, err := runEntrypointHandoff(context.Background(), ws, msg, executorModePlan)
	if err != nil {
		t.Fatalf("entrypoint handoff: %v", err)
	}
	if !strings.Contains(outcome.message, "planned") {
		t.Fatalf("plan mode must not claim an image build, got %q", outcome.message)
	}

	staged := filepath.Join(ws.Root(), "provision", "entrypoint.sh")
	info, err := os.Stat(staged)
	if err != nil {
		t.Fatalf("stat staged entrypoint: %v", err)
	}
	if info.Mode().Perm() != 0o755 {
		t.Fatalf("entrypoint must be executable, got %v", info.Mode().Perm())
	}

	dockerfile, err := ws.ReadFile("provision/Dockerfile")
	if err != nil {
		t.Fatalf("read dockerfile: %v", err)
	}
	if err := validateDockerfile(dockerfile); err != nil {
		t.Fatalf("staged dockerfile must parse: %v", err)
	}
}

func TestStageActions_EntrypointHandoffFailsWithoutScript(t *testing.T) {
	msg, ws := stageActionMsg(t)

	_, err := runEntrypointHandoff(context.Background(), ws, msg, executorModePlan)
	if err == nil {
		t.Fatal("expected missing entrypoint script to be fatal")
	}
	if !strings.Contains(err.Error(), "entrypoint script") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStageActions_SkipResultCarriesUpstreamError(t *testing.T) {
	var op ProvisionOpMsg
	op.RunID = "run-skip"
	op.Err = "acquire toolchain: clone failed"

	res := skipWorkerResult(op, workerNameEnvConfigurer)
	if res.Err != op.Err {
		t.Fatalf("skip result must propagate the upstream error, got %q", res.Err)
	}
	if res.Worker != workerNameEnvConfigurer {
		t.Fatalf("unexpected worker %q", res.Worker)
	}
	if res.Message != "skipped due to upstream error" {
		t.Fatalf("unexpected message %q", res.Message)
	}
}
