// Package docker provides an ephemeral, resource-limited container runner
// used as the optional sandboxed backend for invoking the compiler and
// rasterizer binaries, adapted from the teacher's long-lived sandbox
// container lifecycle (internal/docker/client.go in the teacher repo) down
// to a simpler one-shot "bind-mount a directory, run one command, remove
// the container" shape — there is no persistent runner process here, just a
// single batch invocation per compile attempt.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	units "github.com/docker/go-units"

	"github.com/google/uuid"
)

const labelPrefix = "texcompile."

// Client wraps the Docker engine API client.
type Client struct {
	docker *client.Client
}

// New connects to the Docker daemon using the standard environment
// variables (DOCKER_HOST etc.), matching the teacher's client construction.
func New() (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Client{docker: cli}, nil
}

func (c *Client) Close() error {
	return c.docker.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.docker.Ping(ctx)
	return err
}

// Limits mirrors the teacher's config.Defaults resource-limit shape.
type Limits struct {
	CPULimit    float64
	MemLimitMB  int
	PidsLimit   int
	NetworkMode string
}

// RunOpts describes a single batch invocation to run inside a throwaway
// container.
type RunOpts struct {
	Image   string
	HostDir string // bind-mounted read-write at /work
	Cmd     []string
	Limits  Limits
}

// Run creates a container, binds HostDir at /work with Cmd as its
// entrypoint override, waits for it to exit, and always removes it. Only an
// error (container failed to start, or the Docker API itself errored) is
// returned — a nonzero exit status from Cmd is not surfaced as an error, so
// that callers can apply the same "stdout discarded, exit status ignored"
// policy the core compile loop uses for the local runner.
func (c *Client) Run(ctx context.Context, opts RunOpts) error {
	name := "texcompile-" + uuid.New().String()[:8]

	resources := container.Resources{
		NanoCPUs:  int64(opts.Limits.CPULimit * 1e9),
		Memory:    int64(opts.Limits.MemLimitMB) * 1024 * 1024,
		PidsLimit: int64Ptr(int64(opts.Limits.PidsLimit)),
	}

	hostCfg := &container.HostConfig{
		Resources:   resources,
		AutoRemove:  false,
		SecurityOpt: []string{"no-new-privileges"},
		CapDrop:     []string{"ALL"},
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: opts.HostDir,
				Target: "/work",
			},
			{
				Type:   mount.TypeTmpfs,
				Target: "/tmp",
				TmpfsOptions: &mount.TmpfsOptions{
					SizeBytes: 256 * units.MiB,
				},
			},
		},
	}
	if opts.Limits.NetworkMode == "none" || opts.Limits.NetworkMode == "" {
		hostCfg.NetworkMode = "none"
	} else {
		hostCfg.NetworkMode = container.NetworkMode(opts.Limits.NetworkMode)
	}

	containerCfg := &container.Config{
		Image:      opts.Image,
		Labels:     map[string]string{labelPrefix + "managed": "true"},
		Tty:        false,
		WorkingDir: "/work",
		Entrypoint: []string{},
		Cmd:        opts.Cmd,
	}

	resp, err := c.docker.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, name)
	if err != nil {
		return fmt.Errorf("container create: %w", err)
	}
	defer c.docker.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})

	if err := c.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("container start: %w", err)
	}

	waitCh, errCh := c.docker.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("container wait: %w", err)
		}
	case <-waitCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	// Drain logs and discard, same "stdout discarded" policy as the local
	// runner (the compile result is judged purely by the product/log files
	// left on HostDir, not by exit status or captured output).
	out, err := c.docker.ContainerLogs(ctx, resp.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err == nil {
		defer out.Close()
		var sink bytes.Buffer
		_, _ = stdcopy.StdCopy(io.Discard, &sink, out)
	}

	return nil
}

func int64Ptr(v int64) *int64 {
	return &v
}
