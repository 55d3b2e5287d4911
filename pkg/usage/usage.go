// Package usage implements the Usage Probe (§4.8): resolve a container's
// pid, run an external usage helper against it, and overlay the
// last-applied resource allocation onto the helper's raw statistics.
package usage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/cuemby/dockerizer/pkg/log"
)

// Statistics is what the external usage helper reports for a pid, plus
// the resource-limit fields this probe overlays from the caller's
// last-applied allocation before returning.
type Statistics struct {
	Pid             int     `json:"pid"`
	CPUsLimit       float64 `json:"cpus_limit"`
	MemLimitBytes   int64   `json:"mem_limit_bytes"`
	CPUTimeSecs     float64 `json:"cpu_time_secs"`
	MemRSSBytes     int64   `json:"mem_rss_bytes"`
	IncludeChildren bool    `json:"include_children"`
}

// Helper runs the external usage-measurement command against a pid and
// parses its JSON-on-stdout output. The default, HelperCommand, shells
// out to an external binary; it is swappable for tests.
type Helper interface {
	Usage(ctx context.Context, pid int, includeChildren, includeStatistics bool) (Statistics, error)
}

// HelperCommand invokes an external binary as the usage helper, passing
// pid and flags as arguments and parsing a JSON Statistics object from
// its stdout. Timeout bounds a single invocation.
type HelperCommand struct {
	Path    string
	Timeout time.Duration
}

// NewHelperCommand returns a HelperCommand invoking path with a default
// 10 second timeout.
func NewHelperCommand(path string) *HelperCommand {
	return &HelperCommand{Path: path, Timeout: 10 * time.Second}
}

func (h *HelperCommand) Usage(ctx context.Context, pid int, includeChildren, includeStatistics bool) (Statistics, error) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{fmt.Sprintf("--pid=%d", pid)}
	if includeChildren {
		args = append(args, "--include-children")
	}
	if includeStatistics {
		args = append(args, "--include-statistics")
	}

	cmd := exec.CommandContext(execCtx, h.Path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Statistics{}, fmt.Errorf("usage helper %s: %w (stderr: %s)", h.Path, err, stderr.String())
	}

	var stats Statistics
	if err := json.Unmarshal(stdout.Bytes(), &stats); err != nil {
		return Statistics{}, fmt.Errorf("usage helper %s: parse output: %w", h.Path, err)
	}
	return stats, nil
}

// PidResolver resolves a container's init pid, from cache if known or via
// a fresh docker inspect otherwise. The lifecycle engine implements it
// with a small adapter around its Container record (containerPidResolver
// in pkg/containerizer); it is an interface here only so this package
// doesn't import pkg/types for a single int field.
type PidResolver interface {
	ResolvePid(ctx context.Context) (int, error)
}

// Limits is the last-applied resource allocation the probe overlays onto
// the helper's raw statistics.
type Limits struct {
	CPUs     float64
	MemBytes int64
}

// Probe queries pid via resolver, asks helper for usage statistics with
// includeChildren and includeStatistics both set, and overlays limits's
// CPUsLimit/MemLimitBytes fields (the helper has no way to know the
// allocation the engine applied, so the probe supplies it).
func Probe(ctx context.Context, resolver PidResolver, helper Helper, limits Limits) (Statistics, error) {
	logger := log.WithComponent("usage")

	pid, err := resolver.ResolvePid(ctx)
	if err != nil {
		return Statistics{}, fmt.Errorf("resolve pid: %w", err)
	}

	stats, err := helper.Usage(ctx, pid, true, true)
	if err != nil {
		return Statistics{}, fmt.Errorf("usage probe for pid %d: %w", pid, err)
	}

	stats.Pid = pid
	stats.CPUsLimit = limits.CPUs
	stats.MemLimitBytes = limits.MemBytes

	logger.Debug().Int("pid", pid).Float64("cpu_time_secs", stats.CPUTimeSecs).
		Int64("mem_rss_bytes", stats.MemRSSBytes).Msg("usage probed")

	return stats, nil
}
