// Package dockerclient is the containerizer's Docker client abstraction:
// a small interface over {run, stop, rm, ps, inspect, pull, logs, wait} so
// the lifecycle engine can be tested against a deterministic double, and a
// concrete CLIClient that shells out to the `docker` binary the way the
// rest of this corpus's Docker-driving tools do (os/exec, not the
// containerd API — the spec fixes the Docker CLI as the transport).
package dockerclient

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	units "github.com/docker/go-units"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/cuemby/dockerizer/pkg/log"
)

// Mount is a bind-mount description, shaped like specs.Mount so the
// sandbox/launcher code that builds it looks the same whether the mount
// ends up rendered as an OCI spec (as in a containerd-backed runtime) or,
// here, as a `-v host:container[:ro]` Docker CLI flag.
type Mount = specs.Mount

// RunOptions describes a `docker run` invocation.
type RunOptions struct {
	Name       string
	Image      string
	Command    []string
	Env        []string // "KEY=VALUE" pairs
	Mounts     []Mount
	CPUShares  int64 // 0 = unset
	MemBytes   int64 // 0 = unset
	Parameters []string // raw passthrough flags, e.g. "--privileged"
	Detach     bool
}

// Inspection is the subset of `docker inspect` this containerizer reads.
type Inspection struct {
	Pid     int
	Running bool
}

// PsEntry is one row of `docker ps --all`.
type PsEntry struct {
	Name string
}

// Client is the polymorphic Docker client surface the lifecycle engine,
// resource updater and usage probe depend on.
type Client interface {
	Pull(ctx context.Context, image string) error
	Run(ctx context.Context, opts RunOptions) error
	Inspect(ctx context.Context, name string) (Inspection, error)
	Stop(ctx context.Context, name string, timeout time.Duration) error
	Rm(ctx context.Context, name string, force bool) error
	Ps(ctx context.Context, namePrefix string) ([]PsEntry, error)
	Logs(ctx context.Context, name string, stdout, stderr io.Writer) error
	Wait(ctx context.Context, name string) (exitCode int, err error)
}

// CLIClient implements Client by invoking the docker binary.
type CLIClient struct {
	binary string
}

// New returns a CLIClient invoking the given docker binary path (empty
// defaults to "docker" resolved via $PATH).
func New(binary string) *CLIClient {
	if binary == "" {
		binary = "docker"
	}
	return &CLIClient{binary: binary}
}

func (c *CLIClient) command(ctx context.Context, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, c.binary, args...)
}

// Pull runs `docker pull <image>`.
func (c *CLIClient) Pull(ctx context.Context, image string) error {
	logger := log.WithComponent("dockerclient")
	logger.Debug().Str("image", image).Msg("pulling image")

	cmd := c.command(ctx, "pull", image)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("docker pull %s: %w (output: %s)", image, err, truncate(out))
	}
	return nil
}

// Run runs `docker run -d --name=<name> [-v ...] [--cpu-shares ...]
// [--memory ...] [-e ...] [params...] <image> <command...>`.
func (c *CLIClient) Run(ctx context.Context, opts RunOptions) error {
	args := []string{"run"}
	if opts.Detach {
		args = append(args, "-d")
	}
	args = append(args, "--name", opts.Name)

	for _, m := range opts.Mounts {
		spec := m.Source + ":" + m.Destination
		if len(m.Options) > 0 {
			spec += ":" + strings.Join(m.Options, ",")
		}
		args = append(args, "-v", spec)
	}

	if opts.CPUShares > 0 {
		args = append(args, "--cpu-shares", strconv.FormatInt(opts.CPUShares, 10))
	}
	if opts.MemBytes > 0 {
		args = append(args, "--memory", units.BytesSize(float64(opts.MemBytes)))
	}
	for _, e := range opts.Env {
		args = append(args, "-e", e)
	}
	args = append(args, opts.Parameters...)
	args = append(args, opts.Image)
	args = append(args, opts.Command...)

	logger := log.WithComponent("dockerclient")
	logger.Debug().Str("name", opts.Name).Str("image", opts.Image).Msg("docker run")

	cmd := c.command(ctx, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("docker run %s: %w (output: %s)", opts.Name, err, truncate(out))
	}
	return nil
}

// Inspect runs `docker inspect --format {{.State.Pid}}|{{.State.Running}} <name>`.
func (c *CLIClient) Inspect(ctx context.Context, name string) (Inspection, error) {
	format := "{{.State.Pid}}|{{.State.Running}}"
	cmd := c.command(ctx, "inspect", "--format", format, name)
	out, err := cmd.Output()
	if err != nil {
		return Inspection{}, fmt.Errorf("docker inspect %s: %w", name, err)
	}

	fields := strings.SplitN(strings.TrimSpace(string(out)), "|", 2)
	if len(fields) != 2 {
		return Inspection{}, fmt.Errorf("docker inspect %s: unexpected output %q", name, out)
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return Inspection{}, fmt.Errorf("docker inspect %s: parse pid: %w", name, err)
	}
	return Inspection{Pid: pid, Running: fields[1] == "true"}, nil
}

// Stop runs `docker stop --time=<seconds> <name>`.
func (c *CLIClient) Stop(ctx context.Context, name string, timeout time.Duration) error {
	seconds := int(timeout / time.Second)
	cmd := c.command(ctx, "stop", "--time", strconv.Itoa(seconds), name)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("docker stop %s: %w (output: %s)", name, err, truncate(out))
	}
	return nil
}

// Rm runs `docker rm [--force] <name>`.
func (c *CLIClient) Rm(ctx context.Context, name string, force bool) error {
	args := []string{"rm"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, name)

	cmd := c.command(ctx, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("docker rm %s: %w (output: %s)", name, err, truncate(out))
	}
	return nil
}

// Ps runs `docker ps --all --filter name=<namePrefix> --format {{.Names}}`.
func (c *CLIClient) Ps(ctx context.Context, namePrefix string) ([]PsEntry, error) {
	cmd := c.command(ctx, "ps", "--all", "--filter", "name="+namePrefix, "--format", "{{.Names}}")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("docker ps --filter name=%s: %w", namePrefix, err)
	}

	var entries []PsEntry
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name == "" {
			continue
		}
		entries = append(entries, PsEntry{Name: name})
	}
	return entries, nil
}

// Logs runs `docker logs <name>`, copying stdout/stderr to the given writers.
func (c *CLIClient) Logs(ctx context.Context, name string, stdout, stderr io.Writer) error {
	cmd := c.command(ctx, "logs", name)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("docker logs %s: %w", name, err)
	}
	return nil
}

// Wait runs `docker wait <name>`, blocking until the container exits and
// returning its exit code.
func (c *CLIClient) Wait(ctx context.Context, name string) (int, error) {
	cmd := c.command(ctx, "wait", name)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("docker wait %s: %w", name, err)
	}
	code, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 0, fmt.Errorf("docker wait %s: parse exit code: %w", name, err)
	}
	return code, nil
}

func truncate(b []byte) string {
	const max = 2048
	if len(b) > max {
		return string(b[:max]) + "...(truncated)"
	}
	return string(b)
}
