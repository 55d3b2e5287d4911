// Package cgroup implements the Resource Updater's cgroup v1 plumbing:
// discovering the cpu and memory hierarchies for a pid and writing
// cpu.shares / memory.soft_limit_in_bytes / memory.limit_in_bytes.
//
// Hierarchy discovery is memoised process-globally behind a once-style
// accessor, matching the single module-level piece of mutable state the
// design calls for; everything else here is stateless given a pid.
package cgroup

import (
	"context"
	"fmt"
	"sync"

	"github.com/containerd/cgroups"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog"

	"github.com/cuemby/dockerizer/pkg/log"
	"github.com/cuemby/dockerizer/pkg/metrics"
)

const (
	// CPUSharesPerCPU is the cpu.shares granted per requested CPU core.
	CPUSharesPerCPU = 1024
	// MinCPUShares is the floor below which cpu.shares is never set.
	MinCPUShares = 10
	// MinMemoryBytes is the floor below which a memory limit is never set.
	MinMemoryBytes = 32 * 1024 * 1024
)

var (
	hierarchyOnce sync.Once
	cpuHierarchy  cgroups.Hierarchy
	memHierarchy  cgroups.Hierarchy
)

// hierarchies returns the memoised per-subsystem hierarchies used to
// locate a pid's cpu and memory cgroups.
func hierarchies() (cpu, mem cgroups.Hierarchy) {
	hierarchyOnce.Do(func() {
		cpuHierarchy = cgroups.SingleSubsystem(cgroups.V1, cgroups.Cpu)
		memHierarchy = cgroups.SingleSubsystem(cgroups.V1, cgroups.Memory)
	})
	return cpuHierarchy, memHierarchy
}

// Request is a resource allocation to apply to a pid's cgroups.
type Request struct {
	CPUs     float64
	MemBytes int64
}

// Update applies Request to pid's cpu and memory cgroups independently:
// a pid not a member of one subsystem only skips that subsystem's write,
// it does not fail the whole update. Memory hard-limit reductions are
// never applied while the limit still exceeds the requested value — only
// increases and the always-written soft limit take effect, per the
// "memory hard limits can only rise" rule.
func Update(_ context.Context, pid int, req Request) error {
	logger := log.WithComponent("cgroup")
	cpuH, memH := hierarchies()

	if req.CPUs > 0 {
		if err := updateCPU(cpuH, pid, req.CPUs, logger); err != nil {
			return fmt.Errorf("update cpu cgroup for pid %d: %w", pid, err)
		}
	}
	if req.MemBytes > 0 {
		if err := updateMemory(memH, pid, req.MemBytes, logger); err != nil {
			return fmt.Errorf("update memory cgroup for pid %d: %w", pid, err)
		}
	}
	return nil
}

func updateCPU(hierarchy cgroups.Hierarchy, pid int, cpus float64, logger zerolog.Logger) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.CgroupWriteDuration, "cpu")

	cg, err := cgroups.Load(hierarchy, cgroups.PidPath(pid))
	if err != nil {
		logger.Warn().Int("pid", pid).Err(err).Msg("pid is not a member of the cpu cgroup, skipping")
		return nil
	}

	shares := computeShares(cpus)
	return cg.Update(&specs.LinuxResources{
		CPU: &specs.LinuxCPU{Shares: &shares},
	})
}

// computeShares maps a CPU allocation to a cpu.shares value, floored at
// MinCPUShares so a fractional-core request never starves completely.
func computeShares(cpus float64) uint64 {
	shares := uint64(CPUSharesPerCPU * cpus)
	if shares < MinCPUShares {
		shares = MinCPUShares
	}
	return shares
}

func updateMemory(hierarchy cgroups.Hierarchy, pid int, requested int64, logger zerolog.Logger) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.CgroupWriteDuration, "memory")

	cg, err := cgroups.Load(hierarchy, cgroups.PidPath(pid))
	if err != nil {
		logger.Warn().Int("pid", pid).Err(err).Msg("pid is not a member of the memory cgroup, skipping")
		return nil
	}

	limit := computeMemoryLimit(requested)

	resources := &specs.LinuxResources{
		Memory: &specs.LinuxMemory{Reservation: &limit},
	}

	if stat, err := cg.Stat(); err == nil && stat.Memory != nil && stat.Memory.Usage != nil {
		current := int64(stat.Memory.Usage.Limit)
		if limit > current {
			hard := limit
			resources.Memory.Limit = &hard
		}
	} else {
		// Current hard limit unknown; set it since raising from an
		// unknown baseline can never violate the no-reduction rule.
		hard := limit
		resources.Memory.Limit = &hard
	}

	return cg.Update(resources)
}

// computeMemoryLimit floors a requested byte allocation at MinMemoryBytes.
func computeMemoryLimit(requested int64) int64 {
	if requested < MinMemoryBytes {
		return MinMemoryBytes
	}
	return requested
}
