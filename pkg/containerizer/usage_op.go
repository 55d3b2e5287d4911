package containerizer

import (
	"context"
	"fmt"

	"github.com/cuemby/dockerizer/pkg/metrics"
	"github.com/cuemby/dockerizer/pkg/types"
	"github.com/cuemby/dockerizer/pkg/usage"
)

// containerPidResolver adapts the engine's pid cache-or-inspect lookup to
// usage.PidResolver, so pkg/usage never needs to see pkg/containerizer's
// internals.
type containerPidResolver struct {
	c         *Containerizer
	container *types.Container
	name      string
}

func (r containerPidResolver) ResolvePid(ctx context.Context) (int, error) {
	pid, err := r.c.resolvePid(ctx, r.container, r.name)
	if err != nil {
		return 0, err
	}
	if pid == 0 {
		return 0, fmt.Errorf("pid not yet known for %s", r.container.ID)
	}
	return pid, nil
}

// Usage implements §4.4's usage operation and §4.8's probe: fails on an
// unknown or DESTROYING container, returns empty statistics when
// nested-in-Docker (cgroup-style per-task stats don't apply to the
// agent's own container in that mode).
func (c *Containerizer) Usage(ctx context.Context, id types.ContainerID, helper usage.Helper) (usage.Statistics, error) {
	var container *types.Container
	var name string
	c.dispatch(ctx, func() {
		cont, ok := c.registry.Lookup(id)
		if !ok || cont.State == types.StateDestroying {
			return
		}
		container = cont
		name = containerDockerName(cont)
	})
	if container == nil {
		return usage.Statistics{}, &UnknownContainerError{ID: id}
	}

	if c.cfg.nestedInDocker() {
		return usage.Statistics{}, nil
	}

	var resources types.Resources
	c.dispatch(ctx, func() {
		if cont, ok := c.registry.Lookup(id); ok {
			resources = cont.Resources
		}
	})

	timer := metrics.NewTimer()
	resolver := containerPidResolver{c: c, container: container, name: name}
	stats, err := usage.Probe(ctx, resolver, helper, usage.Limits{CPUs: resources.CPUs, MemBytes: resources.MemBytes})
	timer.ObserveDuration(metrics.UsageProbeDuration)
	if err != nil {
		return usage.Statistics{}, fmt.Errorf("usage probe for %s: %w", id, err)
	}
	return stats, nil
}
