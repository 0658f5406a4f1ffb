package build

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/arpa-simc/monci/pkg/container"
)

// runHooks runs each configured post-build action in order (spec.md
// §4.7 "Post-build hooks"): "@shell" drops into an interactive root
// shell inside the container, "@linger" keeps the container alive past
// Close, anything else is a host shell command run with the MONCIC_*
// environment variables set. A hook's own failure is logged to stderr
// and does not stop the remaining hooks from running.
func runHooks(ctx context.Context, hooks []string, st *State, c container.Container) {
	for _, hook := range hooks {
		if err := runHook(ctx, hook, st, c); err != nil {
			fmt.Fprintf(os.Stderr, "monci: build hook %q failed: %v\n", hook, err)
		}
	}
}

func runHook(ctx context.Context, hook string, st *State, c container.Container) error {
	switch hook {
	case "@shell":
		rc := container.DefaultRunConfig()
		rc.User = &container.UserConfig{Name: "root"}
		return c.RunShell(ctx, rc)
	case "@linger":
		c.SetLinger(true)
		return nil
	default:
		cmd := exec.CommandContext(ctx, "sh", "-c", hook)
		cmd.Env = append(os.Environ(), hookEnv(st, c)...)
		cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
		return cmd.Run()
	}
}

// hookEnv builds the MONCIC_* environment variables spec.md §4.7
// documents for post-build host hooks.
func hookEnv(st *State, c container.Container) []string {
	successStr := "0"
	if st.Results.Success {
		successStr = "1"
	}
	return []string{
		"MONCIC_ARTIFACTS_DIR=" + st.Config.ArtifactsDir,
		"MONCIC_CONTAINER_NAME=" + "build-" + st.Results.Name,
		"MONCIC_IMAGE=" + st.Image,
		"MONCIC_CONTAINER_ROOT=" + c.GetRoot(),
		"MONCIC_PACKAGE_NAME=" + st.Results.Name,
		"MONCIC_RESULT=" + successStr,
		"MONCIC_SOURCE=" + localDir(st.Source),
	}
}
