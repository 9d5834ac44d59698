package envforge

import (
	"fmt"
	"os"
	"strings"

	kyaml "sigs.k8s.io/kustomize/kyaml/yaml"
)

////////////////////////////////////////////////////////////////////////////////
// Environment manifests: YAML loading + the built-in dataflow toolchain set
////////////////////////////////////////////////////////////////////////////////

const manifestPathEnv = "ENVFORGE_MANIFEST"

func parseEnvironmentSpecYAML(data []byte) (EnvironmentSpec, error) {
	var spec EnvironmentSpec
	if err := kyaml.Unmarshal(data, &spec); err != nil {
		return EnvironmentSpec{}, fmt.Errorf("parse environment manifest: %w", err)
	}
	spec = normalizeEnvironmentSpec(spec)
	if err := validateEnvironmentSpec(spec); err != nil {
		return EnvironmentSpec{}, fmt.Errorf("validate environment manifest: %w", err)
	}
	return spec, nil
}

func readEnvironmentSpecFile(path string) (EnvironmentSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return EnvironmentSpec{}, fmt.Errorf("read environment manifest %s: %w", path, err)
	}
	return parseEnvironmentSpecYAML(data)
}

func renderEnvironmentSpecYAML(spec EnvironmentSpec) ([]byte, error) {
	data, err := kyaml.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("render environment manifest: %w", err)
	}
	return data, nil
}

// resolveEnvironmentSpec selects the manifest for a run: an explicit YAML file
// when the caller names one, the built-in toolchain manifest otherwise. The
// toolchain source repository is always re-pinned from the build parameters.
func resolveEnvironmentSpec(params BuildParameters) (EnvironmentSpec, error) {
	path := strings.TrimSpace(os.Getenv(manifestPathEnv))
	var spec EnvironmentSpec
	var err error
	if path == "" {
		spec = defaultEnvironmentSpec()
	} else {
		spec, err = readEnvironmentSpecFile(path)
		if err != nil {
			return EnvironmentSpec{}, err
		}
	}
	spec = applyBuildParameters(spec, params)
	spec = normalizeEnvironmentSpec(spec)
	if err := validateEnvironmentSpec(spec); err != nil {
		return EnvironmentSpec{}, fmt.Errorf("validate environment manifest: %w", err)
	}
	return spec, nil
}

func applyBuildParameters(spec EnvironmentSpec, params BuildParameters) EnvironmentSpec {
	for i, repo := range spec.Repositories {
		if repo.Name != toolchainRepoName {
			continue
		}
		if params.ToolchainBranch != "" {
			repo.Branch = params.ToolchainBranch
		}
		if params.ToolchainCommit != "" {
			repo.Commit = params.ToolchainCommit
		}
		spec.Repositories[i] = repo
	}
	return spec
}

const toolchainRepoName = "finn"

// defaultEnvironmentSpec is the built-in manifest for the FINN dataflow
// compiler workspace. Pins are exact commits wherever a repository feeds
// reproducible builds; branch-only entries are the deprecated form and are
// flagged in the run report.
func defaultEnvironmentSpec() EnvironmentSpec {
	return EnvironmentSpec{
		APIVersion: manifestAPIVersion,
		Kind:       manifestKind,
		Name:       "finn-dev",
		Base: BaseImageSpec{
			Repository: "pytorch/pytorch",
			Tag:        "1.1.0-cuda10.0-cudnn7.5-devel",
		},
		Packages: PackageSet{
			Apt: []string{
				"build-essential",
				"git",
				"rsync",
				"sshpass",
				"verilator",
				"zsh",
			},
			Tools: []ToolInstall{
				{
					Name:    "sshd-relax-host-key-checking",
					Command: []string{"sh", "-c", `echo "StrictHostKeyChecking no" >> /etc/ssh/ssh_config`},
				},
			},
		},
		Repositories: []RepositorySpec{
			{
				Name:   toolchainRepoName,
				URL:    "https://github.com/Xilinx/finn.git",
				Branch: "dev",
			},
			{
				Name:   "brevitas",
				URL:    "https://github.com/Xilinx/brevitas.git",
				Commit: "989cdfdba4700fdd900ba0b25a820591d561c21a",
			},
			{
				Name:   "brevitas_cnv_lfc",
				URL:    "https://github.com/maltanar/brevitas_cnv_lfc.git",
				Branch: "master",
			},
			{
				Name:   "cnpy",
				URL:    "https://github.com/rogersce/cnpy.git",
				Commit: "4e8810b1a8637695171ed346ce68f6984e585ef4",
			},
			{
				Name:   "finn-hlslib",
				URL:    "https://github.com/Xilinx/finn-hlslib.git",
				Commit: "b139bf051ac8f8e0a3625509247f714127cf3317",
			},
			{
				Name:   "pyverilator",
				URL:    "https://github.com/maltanar/pyverilator.git",
				Commit: "307fc5c82db748620836307a2002fdc9fe170226",
			},
			{
				Name:   "PYNQ-HelloWorld",
				URL:    "https://github.com/maltanar/PYNQ-HelloWorld.git",
				Branch: "board_update",
			},
		},
		Dependencies: DependencyManifest{
			Repo:    toolchainRepoName,
			RelPath: "requirements.txt",
			Extra:   []string{"pytest-dependency"},
		},
		PathAppends: []PathAppend{
			{Variable: "PYTHONPATH", Dir: "finn/src"},
			{Variable: "PYTHONPATH", Dir: "brevitas_cnv_lfc/training_scripts"},
			{Variable: "PYTHONPATH", Dir: "brevitas"},
			{Variable: "PYTHONPATH", Dir: "pyverilator"},
		},
		EnvVars:       nil,
		BoardFilesVar: "PYNQSHELL_PATH",
		BoardFilesDir: "PYNQ-HelloWorld/boards",
		CacheVar:      "VIVADO_IP_CACHE",
		CacheSubdir:   "vivado_ip_cache",
		Entrypoint: EntrypointSpec{
			ScriptRelPath: "finn/docker/finn_entrypoint.sh",
			InstallPath:   "/usr/local/bin/finn_entrypoint.sh",
			DefaultArg:    "bash",
		},
	}
}
