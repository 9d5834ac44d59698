//nolint:testpackage // External tests call these wrappers; bridge must access unexported internals.
package envforge

import "context"

const (
	ManifestAPIVersionForTest = manifestAPIVersion
	ManifestKindForTest       = manifestKind
)

func NormalizeEnvironmentSpecForTest(in EnvironmentSpec) EnvironmentSpec {
	return normalizeEnvironmentSpec(in)
}

func ValidateEnvironmentSpecForTest(spec EnvironmentSpec) error {
	return validateEnvironmentSpec(spec)
}

func ValidateBuildParametersForTest(params BuildParameters) error {
	return validateBuildParameters(params)
}

func ParseEnvironmentSpecYAMLForTest(data []byte) (EnvironmentSpec, error) {
	return parseEnvironmentSpecYAML(data)
}

func RenderEnvironmentSpecYAMLForTest(spec EnvironmentSpec) ([]byte, error) {
	return renderEnvironmentSpecYAML(spec)
}

func DefaultEnvironmentSpecForTest() EnvironmentSpec {
	return defaultEnvironmentSpec()
}

func ApplyBuildParametersForTest(spec EnvironmentSpec, params BuildParameters) EnvironmentSpec {
	return applyBuildParameters(spec, params)
}

func ToolchainRepoNameForTest() string {
	return toolchainRepoName
}

func BuildEnvProfileForTest(
	spec EnvironmentSpec,
	params BuildParameters,
	workspace WorkspaceStore,
) EnvProfile {
	return buildEnvProfile(spec, params, workspace)
}

func RenderProfileScriptForTest(p EnvProfile) string {
	return renderProfileScript(p)
}

func RenderDockerfileForTest(spec EnvironmentSpec, params BuildParameters) string {
	return renderDockerfile(spec, params)
}

func ValidateDockerfileForTest(data []byte) error {
	return validateDockerfile(data)
}

func BuildLaunchCommandForTest(
	spec EnvironmentSpec,
	profile EnvProfile,
	baseEnv []string,
	callerArgs []string,
) LaunchCommand {
	return buildLaunchCommand(spec, profile, baseEnv, callerArgs)
}

func AcquireRepositoryForTest(ctx context.Context, repoSpec RepositorySpec, dest string) (string, error) {
	return acquireRepository(ctx, repoSpec, dest)
}

func GitHeadDetailsForTest(ctx context.Context, dir string) (string, string, error) {
	return gitHeadDetails(ctx, dir)
}

func ValidateProvisionPipelineForTest() error {
	return validatePipeline(provisionPipeline())
}

func PipelineStageOrderForTest() []string {
	return pipelineStageOrder(provisionPipeline())
}

func ParseExecutorModeForTest(raw string) (string, error) {
	mode, err := parseExecutorMode(raw)
	return string(mode), err
}

func ResolveBuildParametersForTest() (BuildParameters, error) {
	return resolveBuildParameters()
}

type WaiterHubForTest struct {
	hub *waiterHub
}

func NewWaiterHubForTest() *WaiterHubForTest {
	return &WaiterHubForTest{
		hub: newWaiterHub(),
	}
}

func (h *WaiterHubForTest) Register(runID string) <-chan WorkerResultMsg {
	return h.hub.register(runID)
}

func (h *WaiterHubForTest) Unregister(runID string) {
	h.hub.unregister(runID)
}

func (h *WaiterHubForTest) Deliver(runID string, msg WorkerResultMsg) {
	h.hub.deliver(runID, msg)
}
