package envforge

import (
	"bytes"
	"fmt"
	"path"
	"strings"

	dockerfileparser "github.com/moby/buildkit/frontend/dockerfile/parser"
)

////////////////////////////////////////////////////////////////////////////////
// Container image rendering: a Dockerfile equivalent to the provisioned
// environment, rebuilt from the manifest rather than from the host workspace
// state.
////////////////////////////////////////////////////////////////////////////////

// containerWorkspaceDir is where the acquired repositories land inside the
// image. Host-side workspace paths never leak into the Dockerfile.
const containerWorkspaceDir = "/workspace"

// containerEnvProfile mirrors buildEnvProfile with in-container paths.
func containerEnvProfile(spec EnvironmentSpec, params BuildParameters) EnvProfile {
	entries := make([]EnvEntry, 0, len(spec.EnvVars)+len(spec.PathAppends)+2)
	for _, v := range spec.EnvVars {
		entries = append(entries, EnvEntry{
			Name:   v.Name,
			Value:  v.Value,
			Append: false,
		})
	}
	for _, pa := range spec.PathAppends {
		entries = append(entries, EnvEntry{
			Name:   pa.Variable,
			Value:  path.Join(containerWorkspaceDir, pa.Dir),
			Append: true,
		})
	}
	if spec.BoardFilesVar != "" && spec.BoardFilesDir != "" {
		entries = append(entries, EnvEntry{
			Name:   spec.BoardFilesVar,
			Value:  path.Join(containerWorkspaceDir, spec.BoardFilesDir),
			Append: false,
		})
	}
	if spec.CacheVar != "" {
		entries = append(entries, EnvEntry{
			Name:   spec.CacheVar,
			Value:  path.Join(params.BuildPath, spec.CacheSubdir),
			Append: false,
		})
	}
	return EnvProfile{entries: entries}
}

func renderDockerfile(spec EnvironmentSpec, params BuildParameters) string {
	var b strings.Builder
	b.WriteString("# syntax=docker/dockerfile:1\n")
	fmt.Fprintf(&b, "FROM %s\n\n", spec.Base.Ref())

	if len(spec.Packages.Apt) > 0 {
		fmt.Fprintf(&b, "RUN apt-get update && apt-get install -y %s\n", strings.Join(spec.Packages.Apt, " "))
	}
	for _, tool := range spec.Packages.Tools {
		fmt.Fprintf(&b, "RUN %s\n", shellQuoteAll(tool.Command))
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "WORKDIR %s\n", containerWorkspaceDir)
	fmt.Fprintf(&b, "COPY . %s\n\n", containerWorkspaceDir)

	deps := spec.Dependencies
	if deps.Repo != "" && deps.RelPath != "" {
		fmt.Fprintf(&b, "RUN pip install -r %s\n", path.Join(containerWorkspaceDir, deps.Repo, deps.RelPath))
	}
	for _, pkg := range deps.Extra {
		fmt.Fprintf(&b, "RUN pip install %s\n", pkg)
	}
	b.WriteString("\n")

	profile := containerEnvProfile(spec, params)
	for _, name := range profile.variableNames() {
		value, _ := profile.mergeVar(name, "")
		if profile.firstEntryAppends(name) {
			fmt.Fprintf(&b, "ENV %s=\"${%s:+$%s:}%s\"\n", name, name, name, value)
			continue
		}
		fmt.Fprintf(&b, "ENV %s=\"%s\"\n", name, value)
	}
	fmt.Fprintf(&b, "ENV PYTHON_VERSION=\"%s\"\n\n", params.PythonVersion)

	ep := spec.Entrypoint
	fmt.Fprintf(&b, "RUN install -m 0755 %s %s\n", path.Join(containerWorkspaceDir, ep.ScriptRelPath), ep.InstallPath)
	fmt.Fprintf(&b, "ENTRYPOINT [%q]\n", ep.InstallPath)
	fmt.Fprintf(&b, "CMD [%q]\n", ep.DefaultArg)
	return b.String()
}

// validateDockerfile parses the rendered file with the buildkit frontend
// parser and rejects anything that does not start with a FROM instruction.
func validateDockerfile(data []byte) error {
	parsed, err := dockerfileparser.Parse(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("parse dockerfile: %w", err)
	}
	if parsed.AST == nil || len(parsed.AST.Children) == 0 {
		return fmt.Errorf("dockerfile has no instructions")
	}
	if !strings.EqualFold(parsed.AST.Children[0].Value, "from") {
		return fmt.Errorf("dockerfile must start with FROM, got %s", parsed.AST.Children[0].Value)
	}
	return nil
}
