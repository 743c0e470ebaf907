package render

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/p-arndt/texcompile/internal/docker"
)

// CommandRunner is the abstraction over "invoke an external binary and
// wait for it to exit" that the compile loop and rasterizer are written
// against — spec.md §2 already calls the compiler and rasterizer "opaque
// command runners"; this formalizes that as a Go interface so the
// Renderer is unaware of whether a command runs on the host or inside a
// throwaway container.
type CommandRunner interface {
	Run(ctx context.Context, dir, name string, args ...string) error
}

// LocalRunner shells out on the host via os/exec. Stdout/stderr are
// discarded (spec.md §4.6: "Subprocess stdout is discarded") and a
// nonzero exit status is not treated as an error — success is judged
// solely by the product/log files left behind.
type LocalRunner struct{}

func (LocalRunner) Run(ctx context.Context, dir, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	// Run, not Output: we don't want stdout/stderr captured at all, matching
	// the Python original's subprocess.DEVNULL redirection.
	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			// Exit status is intentionally ignored; typesetting toolchains
			// often exit nonzero on output that was still produced.
			return nil
		}
		return fmt.Errorf("render: exec %s: %w", name, err)
	}
	return nil
}

// ContainerRunner runs the same command inside an ephemeral, resource
// limited container, bind-mounting dir at /work — the opt-in sandboxed
// backend selected by sandbox.enabled (RENDER_SANDBOX_ENABLED), adapted from the teacher's
// CreateContainer/ExecRunner/RemoveContainer trio down to a one-shot
// invocation per compile attempt.
type ContainerRunner struct {
	Client *docker.Client
	Image  string
	Limits docker.Limits
}

func (c *ContainerRunner) Run(ctx context.Context, dir, name string, args ...string) error {
	cmd := append([]string{name}, args...)
	err := c.Client.Run(ctx, docker.RunOpts{
		Image:   c.Image,
		HostDir: dir,
		Cmd:     cmd,
		Limits:  c.Limits,
	})
	if err != nil {
		return fmt.Errorf("render: container exec %s: %w", name, err)
	}
	return nil
}
