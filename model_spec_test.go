//nolint:exhaustruct // EnvironmentSpec fixtures only set fields relevant to each test assertion.
package envforge_test

import (
	"strings"
	"testing"

	envforge "github.com/open-dataflow/envforge"
)

func minimalSpecFixture() envforge.EnvironmentSpec {
	return envforge.EnvironmentSpec{
		Name: "toolchain-env",
		Base: envforge.BaseImageSpec{
			Repository: "pytorch/pytorch",
			Tag:        "1.1.0-cuda10.0-cudnn7.5-devel",
		},
		Repositories: []envforge.RepositorySpec{
			{Name: "toolchain", URL: "https://example.invalid/toolchain.git", Branch: "dev"},
		},
		Entrypoint: envforge.EntrypointSpec{
			ScriptRelPath: "toolchain/docker/entrypoint.sh",
			InstallPath:   "/usr/local/bin/entrypoint.sh",
		},
	}
}

func TestModel_NormalizeEnvironmentSpecDefaults(t *testing.T) {
	spec := envforge.NormalizeEnvironmentSpecForTest(minimalSpecFixture())

	if spec.APIVersion != envforge.ManifestAPIVersionForTest {
		t.Fatalf("expected apiVersion %q, got %q", envforge.ManifestAPIVersionForTest, spec.APIVersion)
	}
	if spec.Kind != envforge.ManifestKindForTest {
		t.Fatalf("expected kind %q, got %q", envforge.ManifestKindForTest, spec.Kind)
	}
	if spec.CacheSubdir != "vivado_ip_cache" {
		t.Fatalf("expected default cache subdir, got %q", spec.CacheSubdir)
	}
	if spec.Entrypoint.DefaultArg != "bash" {
		t.Fatalf("expected default entrypoint arg bash, got %q", spec.Entrypoint.DefaultArg)
	}
}

func TestModel_NormalizeDedupesAptPackages(t *testing.T) {
	fixture := minimalSpecFixture()
	fixture.Packages.Apt = []string{"git", " verilator ", "git", "", "zsh"}
	spec := envforge.NormalizeEnvironmentSpecForTest(fixture)

	if got := len(spec.Packages.Apt); got != 3 {
		t.Fatalf("expected 3 deduped packages, got %d: %v", got, spec.Packages.Apt)
	}
	if spec.Packages.Apt[1] != "verilator" {
		t.Fatalf("expected trimmed package name, got %q", spec.Packages.Apt[1])
	}
}

func TestModel_ValidateRejectsBadPinnedCommit(t *testing.T) {
	fixture := minimalSpecFixture()
	fixture.Repositories = append(fixture.Repositories, envforge.RepositorySpec{
		Name:   "brevitas",
		URL:    "https://example.invalid/brevitas.git",
		Commit: "not-a-hash",
	})
	err := envforge.ValidateEnvironmentSpecForTest(envforge.NormalizeEnvironmentSpecForTest(fixture))
	if err == nil {
		t.Fatal("expected pinned commit validation error")
	}
	if !strings.Contains(err.Error(), "commit") {
		t.Fatalf("expected commit error, got %v", err)
	}
}

func TestModel_ValidateRejectsDependencyRepoNotAcquired(t *testing.T) {
	fixture := minimalSpecFixture()
	fixture.Dependencies = envforge.DependencyManifest{
		Repo:    "stray",
		RelPath: "requirements.txt",
	}
	err := envforge.ValidateEnvironmentSpecForTest(envforge.NormalizeEnvironmentSpecForTest(fixture))
	if err == nil {
		t.Fatal("expected dependency repo validation error")
	}
	if !strings.Contains(err.Error(), "not an acquired repository") {
		t.Fatalf("expected acquired-repository error, got %v", err)
	}
}

func TestModel_ValidateRejectsEscapingDependencyPath(t *testing.T) {
	fixture := minimalSpecFixture()
	fixture.Dependencies = envforge.DependencyManifest{
		Repo:    "toolchain",
		RelPath: "../outside/requirements.txt",
	}
	err := envforge.ValidateEnvironmentSpecForTest(envforge.NormalizeEnvironmentSpecForTest(fixture))
	if err == nil {
		t.Fatal("expected rel_path validation error")
	}
	if !strings.Contains(err.Error(), "inside the repo") {
		t.Fatalf("expected rel_path containment error, got %v", err)
	}
}

func TestModel_ValidateRejectsMissingBaseTag(t *testing.T) {
	fixture := minimalSpecFixture()
	fixture.Base.Tag = ""
	err := envforge.ValidateEnvironmentSpecForTest(envforge.NormalizeEnvironmentSpecForTest(fixture))
	if err == nil {
		t.Fatal("expected base tag validation error")
	}
	if !strings.Contains(err.Error(), "exact pins only") {
		t.Fatalf("expected exact-pin error, got %v", err)
	}
}

func TestModel_ValidateBuildParameters(t *testing.T) {
	err := envforge.ValidateBuildParametersForTest(envforge.BuildParameters{
		PythonVersion: "3.6",
		BuildPath:     "/data/build",
	})
	if err != nil {
		t.Fatalf("expected valid parameters, got %v", err)
	}

	err = envforge.ValidateBuildParametersForTest(envforge.BuildParameters{
		PythonVersion: "3.6",
		BuildPath:     "",
	})
	if err == nil {
		t.Fatal("expected missing build path error")
	}

	err = envforge.ValidateBuildParametersForTest(envforge.BuildParameters{
		PythonVersion: "python3",
		BuildPath:     "/data/build",
	})
	if err == nil {
		t.Fatal("expected python version format error")
	}
}

func TestModel_RepositoryReproducible(t *testing.T) {
	pinned := envforge.RepositorySpec{
		Name:   "brevitas",
		URL:    "https://example.invalid/brevitas.git",
		Commit: "989cdfdba4700fdd900ba0b25a820591d561c21a",
	}
	if !pinned.Reproducible() {
		t.Fatal("expected pinned repository to be reproducible")
	}
	branchOnly := envforge.RepositorySpec{
		Name:   "toolchain",
		URL:    "https://example.invalid/toolchain.git",
		Branch: "dev",
	}
	if branchOnly.Reproducible() {
		t.Fatal("expected branch-only repository to be flagged non-reproducible")
	}
}
