package envforge

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

////////////////////////////////////////////////////////////////////////////////
// Domain model: environment manifests + provisioning runs
////////////////////////////////////////////////////////////////////////////////

// BuildParameters are the caller-supplied inputs that parameterize a run.
// BuildPath has no default and must be resolved before the first stage runs.
type BuildParameters struct {
	PythonVersion   string `json:"python_version" yaml:"pythonVersion"`
	BuildPath       string `json:"build_path" yaml:"buildPath"`
	ToolchainBranch string `json:"toolchain_branch,omitempty" yaml:"toolchainBranch,omitempty"`
	ToolchainCommit string `json:"toolchain_commit,omitempty" yaml:"toolchainCommit,omitempty"`
}

type BaseImageSpec struct {
	Repository string `json:"repository" yaml:"repository"`
	Tag        string `json:"tag" yaml:"tag"`
}

func (b BaseImageSpec) Ref() string {
	return b.Repository + ":" + b.Tag
}

// RepositorySpec pins one auxiliary source repository. When Commit is set the
// acquired working tree is detached at exactly that revision, regardless of
// what the branch tip resolves to at run time. A spec without a commit is the
// deprecated, non-reproducible form: it is still acquired, but the run report
// flags it.
type RepositorySpec struct {
	Name   string `json:"name" yaml:"name"`
	URL    string `json:"url" yaml:"url"`
	Branch string `json:"branch,omitempty" yaml:"branch,omitempty"`
	Commit string `json:"commit,omitempty" yaml:"commit,omitempty"`
}

func (r RepositorySpec) Reproducible() bool {
	return r.Commit != ""
}

type ToolInstall struct {
	Name    string   `json:"name" yaml:"name"`
	Command []string `json:"command" yaml:"command"`
}

type PackageSet struct {
	Apt   []string      `json:"apt,omitempty" yaml:"apt,omitempty"`
	Tools []ToolInstall `json:"tools,omitempty" yaml:"tools,omitempty"`
}

// DependencyManifest names the interpreter-level package manifest contributed
// by one of the acquired repositories, plus ad-hoc extra packages.
type DependencyManifest struct {
	Repo    string   `json:"repo" yaml:"repo"`
	RelPath string   `json:"rel_path" yaml:"relPath"`
	Extra   []string `json:"extra,omitempty" yaml:"extra,omitempty"`
}

type EnvVarSpec struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// PathAppend contributes one directory to an append-only search-path variable.
// Entries are appended in manifest order and never replace pre-existing ones.
type PathAppend struct {
	Variable string `json:"variable" yaml:"variable"`
	Dir      string `json:"dir" yaml:"dir"`
}

type EntrypointSpec struct {
	ScriptRelPath string `json:"script_rel_path" yaml:"scriptRelPath"`
	InstallPath   string `json:"install_path" yaml:"installPath"`
	DefaultArg    string `json:"default_arg" yaml:"defaultArg"`
}

type EnvironmentSpec struct {
	APIVersion    string             `json:"apiVersion" yaml:"apiVersion"`
	Kind          string             `json:"kind" yaml:"kind"`
	Name          string             `json:"name" yaml:"name"`
	Base          BaseImageSpec      `json:"base" yaml:"base"`
	Packages      PackageSet         `json:"packages" yaml:"packages"`
	Repositories  []RepositorySpec   `json:"repositories" yaml:"repositories"`
	Dependencies  DependencyManifest `json:"dependencies" yaml:"dependencies"`
	PathAppends   []PathAppend       `json:"path_appends,omitempty" yaml:"pathAppends,omitempty"`
	EnvVars       []EnvVarSpec       `json:"env_vars,omitempty" yaml:"envVars,omitempty"`
	BoardFilesVar string             `json:"board_files_var,omitempty" yaml:"boardFilesVar,omitempty"`
	BoardFilesDir string             `json:"board_files_dir,omitempty" yaml:"boardFilesDir,omitempty"`
	CacheVar      string             `json:"cache_var,omitempty" yaml:"cacheVar,omitempty"`
	CacheSubdir   string             `json:"cache_subdir,omitempty" yaml:"cacheSubdir,omitempty"`
	Entrypoint    EntrypointSpec     `json:"entrypoint" yaml:"entrypoint"`
}

type StepRecord struct {
	Worker    string    `json:"worker"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	Artifacts []string  `json:"artifacts,omitempty"` // relative paths
}

type ProvisionRun struct {
	ID        string          `json:"id"`
	Manifest  string          `json:"manifest"`
	Params    BuildParameters `json:"params"`
	Requested time.Time       `json:"requested"`
	Finished  time.Time       `json:"finished"`
	Status    string          `json:"status"` // queued|running|done|error
	Error     string          `json:"error,omitempty"`
	Steps     []StepRecord    `json:"steps"`
}

var (
	manifestNameRe = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)
	repoNameRe     = regexp.MustCompile(`^[A-Za-z0-9]([-_.A-Za-z0-9]*[A-Za-z0-9])?$`)
	commitHashRe   = regexp.MustCompile(`^[0-9a-f]{7,40}$`)
	envVarNameRe   = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)
	imageTagRe     = regexp.MustCompile(`^[A-Za-z0-9_][-.A-Za-z0-9_]*$`)
	pythonVerRe    = regexp.MustCompile(`^[0-9]+\.[0-9]+(\.[0-9]+)?$`)
)

const (
	manifestAPIVersion = "envforge.dev/v1"
	manifestKind       = "Environment"
)

func normalizeEnvironmentSpec(in EnvironmentSpec) EnvironmentSpec {
	spec := in
	spec.APIVersion = strings.TrimSpace(spec.APIVersion)
	if spec.APIVersion == "" {
		spec.APIVersion = manifestAPIVersion
	}
	spec.Kind = strings.TrimSpace(spec.Kind)
	if spec.Kind == "" {
		spec.Kind = manifestKind
	}
	spec.Name = strings.TrimSpace(spec.Name)
	spec.Base.Repository = strings.TrimSpace(spec.Base.Repository)
	spec.Base.Tag = strings.TrimSpace(spec.Base.Tag)

	apt := make([]string, 0, len(spec.Packages.Apt))
	seen := map[string]struct{}{}
	for _, p := range spec.Packages.Apt {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		apt = append(apt, p)
	}
	spec.Packages.Apt = apt

	for i, repo := range spec.Repositories {
		repo.Name = strings.TrimSpace(repo.Name)
		repo.URL = strings.TrimSpace(repo.URL)
		repo.Branch = strings.TrimSpace(repo.Branch)
		repo.Commit = strings.ToLower(strings.TrimSpace(repo.Commit))
		spec.Repositories[i] = repo
	}

	spec.Dependencies.Repo = strings.TrimSpace(spec.Dependencies.Repo)
	spec.Dependencies.RelPath = strings.TrimSpace(spec.Dependencies.RelPath)

	if spec.CacheSubdir == "" {
		spec.CacheSubdir = "vivado_ip_cache"
	}
	if spec.Entrypoint.DefaultArg == "" {
		spec.Entrypoint.DefaultArg = "bash"
	}
	return spec
}

func validateEnvironmentSpec(spec EnvironmentSpec) error {
	if err := validateManifestCore(spec); err != nil {
		return err
	}
	if err := validateRepositories(spec.Repositories); err != nil {
		return err
	}
	if err := validateDependencies(spec); err != nil {
		return err
	}
	if err := validatePathAppends(spec); err != nil {
		return err
	}
	return validateEnvVars(spec.EnvVars)
}

func validateManifestCore(spec EnvironmentSpec) error {
	if spec.APIVersion != manifestAPIVersion {
		return fmt.Errorf("apiVersion must be %q", manifestAPIVersion)
	}
	if spec.Kind != manifestKind {
		return fmt.Errorf("kind must be %q", manifestKind)
	}
	if len(spec.Name) < 1 || len(spec.Name) > 63 || !manifestNameRe.MatchString(spec.Name) {
		return fmt.Errorf("name must match %s", manifestNameRe.String())
	}
	if spec.Base.Repository == "" {
		return errors.New("base.repository must be set")
	}
	if !imageTagRe.MatchString(spec.Base.Tag) {
		return fmt.Errorf("base.tag must match %s: exact pins only", imageTagRe.String())
	}
	if spec.Entrypoint.ScriptRelPath == "" || spec.Entrypoint.InstallPath == "" {
		return errors.New("entrypoint script and install path must be set")
	}
	return nil
}

func validateRepositories(repos []RepositorySpec) error {
	if len(repos) == 0 {
		return errors.New("repositories must include at least one repository")
	}
	seen := map[string]struct{}{}
	for _, repo := range repos {
		if !repoNameRe.MatchString(repo.Name) {
			return fmt.Errorf("invalid repository name %q", repo.Name)
		}
		if _, ok := seen[repo.Name]; ok {
			return fmt.Errorf("duplicate repository name %q", repo.Name)
		}
		seen[repo.Name] = struct{}{}
		if repo.URL == "" {
			return fmt.Errorf("repository %q missing url", repo.Name)
		}
		if repo.Commit != "" && !commitHashRe.MatchString(repo.Commit) {
			return fmt.Errorf("repository %q pinned commit %q is not a commit hash", repo.Name, repo.Commit)
		}
	}
	return nil
}

// validateDependencies makes the ordering dependency between repository
// acquisition and dependency installation explicit: the manifest-owning repo
// must be one of the acquired repositories.
func validateDependencies(spec EnvironmentSpec) error {
	deps := spec.Dependencies
	if deps.Repo == "" && deps.RelPath == "" && len(deps.Extra) == 0 {
		return nil
	}
	if deps.Repo == "" || deps.RelPath == "" {
		return errors.New("dependencies require both repo and rel_path")
	}
	if path.IsAbs(deps.RelPath) || strings.HasPrefix(path.Clean(deps.RelPath), "..") {
		return fmt.Errorf("dependencies.rel_path %q must stay inside the repo", deps.RelPath)
	}
	if !repoOwned(spec.Repositories, deps.Repo) {
		return fmt.Errorf("dependencies.repo %q is not an acquired repository", deps.Repo)
	}
	return nil
}

func validatePathAppends(spec EnvironmentSpec) error {
	for _, appendEntry := range spec.PathAppends {
		if !envVarNameRe.MatchString(appendEntry.Variable) {
			return fmt.Errorf("invalid search-path variable %q", appendEntry.Variable)
		}
		if strings.TrimSpace(appendEntry.Dir) == "" {
			return fmt.Errorf("search-path append for %q has empty dir", appendEntry.Variable)
		}
	}
	if spec.BoardFilesVar != "" && !envVarNameRe.MatchString(spec.BoardFilesVar) {
		return fmt.Errorf("invalid board-files variable %q", spec.BoardFilesVar)
	}
	if spec.CacheVar != "" && !envVarNameRe.MatchString(spec.CacheVar) {
		return fmt.Errorf("invalid cache variable %q", spec.CacheVar)
	}
	return nil
}

func validateEnvVars(vars []EnvVarSpec) error {
	for _, v := range vars {
		if !envVarNameRe.MatchString(v.Name) {
			return fmt.Errorf("invalid environment variable name %q", v.Name)
		}
	}
	return nil
}

func validateBuildParameters(params BuildParameters) error {
	if !pythonVerRe.MatchString(params.PythonVersion) {
		return fmt.Errorf("python version %q must match %s", params.PythonVersion, pythonVerRe.String())
	}
	if strings.TrimSpace(params.BuildPath) == "" {
		return errors.New("build path must be set")
	}
	if params.ToolchainCommit != "" && !commitHashRe.MatchString(params.ToolchainCommit) {
		return fmt.Errorf("toolchain commit %q is not a commit hash", params.ToolchainCommit)
	}
	return nil
}

func repoOwned(repos []RepositorySpec, name string) bool {
	for _, repo := range repos {
		if repo.Name == name {
			return true
		}
	}
	return false
}

func findRepository(spec EnvironmentSpec, name string) (RepositorySpec, bool) {
	for _, repo := range spec.Repositories {
		if repo.Name == name {
			return repo, true
		}
	}
	return RepositorySpec{}, false
}
