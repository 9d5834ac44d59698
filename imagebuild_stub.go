//go:build !buildkit

package envforge

import (
	"context"
	"fmt"
)

type buildKitImageBuilderBackend struct{}

func buildkitCompiledIn() bool {
	return false
}

func (buildKitImageBuilderBackend) name() string {
	return "buildkit"
}

func (buildKitImageBuilderBackend) build(
	ctx context.Context,
	req imageBuildRequest,
) (imageBuildResult, error) {
	if err := ensureContextAlive(ctx); err != nil {
		return imageBuildResult{}, err
	}
	buildErr := fmt.Errorf(
		"image build unavailable: binary was built without BuildKit support (set %s=plan or rebuild with -tags buildkit)",
		executorModeEnv,
	)
	return imageBuildResult{
		message: "buildkit image build unavailable",
		summary: buildErr.Error(),
		metadata: map[string]any{
			"strategy":       "buildkit",
			"context_dir":    req.ContextDir,
			"image_tag":      req.ImageTag,
			"build_executed": false,
		},
		logs: "BuildKit backend is disabled in this binary",
	}, buildErr
}
