package envforge

import (
	"context"
	"os/exec"
)

////////////////////////////////////////////////////////////////////////////////
// Direct launch: running the provisioned entrypoint without a container
////////////////////////////////////////////////////////////////////////////////

// LaunchCommand is the fully resolved invocation of a provisioned
// environment's entrypoint. The environment always comes from the run's
// profile merged over the caller's; nothing is applied ambiently.
type LaunchCommand struct {
	Path string
	Args []string
	Env  []string
}

// buildLaunchCommand mirrors the image's ENTRYPOINT/CMD contract for direct
// execution: no caller args means the entrypoint runs with the manifest's
// default argument; caller args replace only that default, never the
// entrypoint itself.
func buildLaunchCommand(
	spec EnvironmentSpec,
	profile EnvProfile,
	baseEnv []string,
	callerArgs []string,
) LaunchCommand {
	args := callerArgs
	if len(args) == 0 {
		args = []string{spec.Entrypoint.DefaultArg}
	}
	return LaunchCommand{
		Path: spec.Entrypoint.InstallPath,
		Args: args,
		Env:  profile.Environ(baseEnv),
	}
}

func (c LaunchCommand) Cmd(ctx context.Context) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Env = c.Env
	return cmd
}
