package envforge

import "context"

////////////////////////////////////////////////////////////////////////////////
// Image build backend
////////////////////////////////////////////////////////////////////////////////

type imageBuildRequest struct {
	RunID          string
	ImageTag       string
	ContextDir     string
	DockerfileBody []byte
}

type imageBuildResult struct {
	message  string
	summary  string
	metadata map[string]any
	logs     string
}

type imageBuilderBackend interface {
	name() string
	build(ctx context.Context, req imageBuildRequest) (imageBuildResult, error)
}
