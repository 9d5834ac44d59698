package envforge

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

////////////////////////////////////////////////////////////////////////////////
// Runtime defaults and tunables
////////////////////////////////////////////////////////////////////////////////

type executorMode string

const (
	// Caller-supplied build parameters.
	buildPathEnv       = "ENVFORGE_BUILD_PATH"
	pythonVersionEnv   = "ENVFORGE_PYTHON_VERSION"
	toolchainBranchEnv = "ENVFORGE_TOOLCHAIN_BRANCH"
	toolchainCommitEnv = "ENVFORGE_TOOLCHAIN_COMMIT"

	// Where the provisioner acquires repos and writes artifacts.
	workspaceRootEnv     = "ENVFORGE_WORKSPACE_ROOT"
	defaultWorkspaceRoot = "./workspace"

	// plan renders the exact commands each stage would run; apply executes them.
	executorModeEnv = "ENVFORGE_EXECUTOR_MODE"

	executorModePlan  executorMode = "plan"
	executorModeApply executorMode = "apply"

	defaultPythonVersion = "3.6"

	defaultKVManifestHistory = 10
	defaultKVRunHistory      = 50
	defaultStartupWait       = 10 * time.Second
	provisionWaitTimeout     = 30 * time.Minute
	cloneOpTimeout           = 10 * time.Minute
	gitReadTimeout           = 10 * time.Second
	installOpTimeout         = 20 * time.Minute

	shortIDLength       = 12
	touchedArtifactsCap = 8

	runEventsHistoryLimit = 256

	fileModePrivate    os.FileMode = 0o600
	fileModeEntrypoint os.FileMode = 0o755
	dirModePrivateRead os.FileMode = 0o750
	dirModeShared      os.FileMode = 0o755
)

func workspaceRoot() string {
	raw := strings.TrimSpace(os.Getenv(workspaceRootEnv))
	if raw == "" {
		return defaultWorkspaceRoot
	}
	return raw
}

type executorModeResolution struct {
	mode   executorMode
	source string
}

func parseExecutorMode(raw string) (executorMode, error) {
	switch executorMode(strings.ToLower(strings.TrimSpace(raw))) {
	case executorModePlan:
		return executorModePlan, nil
	case executorModeApply:
		return executorModeApply, nil
	default:
		return "", fmt.Errorf(
			"invalid executor mode %q: must be %q or %q",
			raw,
			executorModePlan,
			executorModeApply,
		)
	}
}

func resolveExecutorMode() (executorModeResolution, error) {
	raw := strings.TrimSpace(os.Getenv(executorModeEnv))
	if raw == "" {
		return executorModeResolution{
			mode:   executorModePlan,
			source: "default",
		}, nil
	}
	mode, err := parseExecutorMode(raw)
	if err != nil {
		return executorModeResolution{}, err
	}
	return executorModeResolution{
		mode:   mode,
		source: executorModeEnv,
	}, nil
}

// resolveBuildParameters reads the caller-supplied inputs. The build path has no
// default: a run that would later derive cache directories from an unset path
// must fail here, before any stage executes.
func resolveBuildParameters() (BuildParameters, error) {
	params := BuildParameters{
		PythonVersion:   strings.TrimSpace(os.Getenv(pythonVersionEnv)),
		BuildPath:       strings.TrimSpace(os.Getenv(buildPathEnv)),
		ToolchainBranch: strings.TrimSpace(os.Getenv(toolchainBranchEnv)),
		ToolchainCommit: strings.TrimSpace(os.Getenv(toolchainCommitEnv)),
	}
	if params.PythonVersion == "" {
		params.PythonVersion = defaultPythonVersion
	}
	if params.BuildPath == "" {
		return BuildParameters{}, fmt.Errorf("%s must be set", buildPathEnv)
	}
	if !filepath.IsAbs(params.BuildPath) {
		abs, err := filepath.Abs(params.BuildPath)
		if err != nil {
			return BuildParameters{}, fmt.Errorf("resolve build path: %w", err)
		}
		params.BuildPath = abs
	}
	return params, nil
}
