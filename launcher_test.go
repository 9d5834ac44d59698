//nolint:exhaustruct // Fixtures only set fields relevant to each assertion.
package envforge_test

import (
	"context"
	"strings"
	"testing"

	envforge "github.com/open-dataflow/envforge"
)

func launcherFixture(t *testing.T) (envforge.EnvironmentSpec, envforge.EnvProfile) {
	t.Helper()
	spec := envforge.NormalizeEnvironmentSpecForTest(envforge.EnvironmentSpec{
		Name: "toolchain-env",
		Base: envforge.BaseImageSpec{Repository: "pytorch/pytorch", Tag: "1.1.0"},
		Repositories: []envforge.RepositorySpec{
			{Name: "toolchain", URL: "https://example.invalid/toolchain.git"},
		},
		PathAppends: []envforge.PathAppend{
			{Variable: "PYTHONPATH", Dir: "toolchain/src"},
		},
		CacheVar: "VIVADO_IP_CACHE",
		Entrypoint: envforge.EntrypointSpec{
			ScriptRelPath: "toolchain/docker/entrypoint.sh",
			InstallPath:   "/usr/local/bin/entrypoint.sh",
		},
	})
	profile := envforge.BuildEnvProfileForTest(
		spec,
		envforge.BuildParameters{PythonVersion: "3.6", BuildPath: "/data/build"},
		envforge.NewFSWorkspace(t.TempDir()),
	)
	return spec, profile
}

func TestLauncher_NoArgsRunsDefaultShell(t *testing.T) {
	spec, profile := launcherFixture(t)
	cmd := envforge.BuildLaunchCommandForTest(spec, profile, []string{"HOME=/home/dev"}, nil)

	if cmd.Path != "/usr/local/bin/entrypoint.sh" {
		t.Fatalf("launcher must always run the entrypoint, got %q", cmd.Path)
	}
	if len(cmd.Args) != 1 || cmd.Args[0] != "bash" {
		t.Fatalf("expected default arg bash, got %v", cmd.Args)
	}
}

func TestLauncher_CallerArgsReplaceOnlyDefault(t *testing.T) {
	spec, profile := launcherFixture(t)
	cmd := envforge.BuildLaunchCommandForTest(
		spec,
		profile,
		nil,
		[]string{"python", "run_tests.py"},
	)

	if cmd.Path != "/usr/local/bin/entrypoint.sh" {
		t.Fatalf("caller args must not replace the entrypoint, got %q", cmd.Path)
	}
	if len(cmd.Args) != 2 || cmd.Args[0] != "python" || cmd.Args[1] != "run_tests.py" {
		t.Fatalf("expected caller args verbatim, got %v", cmd.Args)
	}
}

func TestLauncher_CmdCarriesInvocation(t *testing.T) {
	spec, profile := launcherFixture(t)
	launch := envforge.BuildLaunchCommandForTest(
		spec,
		profile,
		[]string{"HOME=/home/dev"},
		[]string{"python", "run_tests.py"},
	)

	cmd := launch.Cmd(context.Background())
	if !strings.HasSuffix(cmd.Path, "/usr/local/bin/entrypoint.sh") {
		t.Fatalf("exec path must be the entrypoint, got %q", cmd.Path)
	}
	if len(cmd.Args) != 3 || cmd.Args[1] != "python" || cmd.Args[2] != "run_tests.py" {
		t.Fatalf("exec args must follow argv convention, got %v", cmd.Args)
	}
	if len(cmd.Env) != len(launch.Env) {
		t.Fatalf("exec env must match the resolved launch env, got %d vs %d entries", len(cmd.Env), len(launch.Env))
	}
}

func TestLauncher_EnvComesFromProfile(t *testing.T) {
	spec, profile := launcherFixture(t)
	cmd := envforge.BuildLaunchCommandForTest(spec, profile, []string{"HOME=/home/dev"}, nil)

	var sawHome, sawPythonPath, sawCache bool
	for _, kv := range cmd.Env {
		switch {
		case kv == "HOME=/home/dev":
			sawHome = true
		case strings.HasPrefix(kv, "PYTHONPATH="):
			sawPythonPath = true
		case strings.HasPrefix(kv, "VIVADO_IP_CACHE="):
			sawCache = true
		}
	}
	if !sawHome || !sawPythonPath || !sawCache {
		t.Fatalf(
			"launcher env must merge profile over base (home=%t pythonpath=%t cache=%t): %v",
			sawHome, sawPythonPath, sawCache, cmd.Env,
		)
	}
}
