package containerizer

import (
	"context"
	"fmt"

	"github.com/cuemby/dockerizer/pkg/cgroup"
	"github.com/cuemby/dockerizer/pkg/metrics"
	"github.com/cuemby/dockerizer/pkg/namecodec"
	"github.com/cuemby/dockerizer/pkg/types"
)

// Update implements §4.4's update and the short-circuit conditions of
// §4.7: a no-op on an unknown container, a DESTROYING one, an identical
// allocation, or a nested-in-Docker configuration (cgroups belong to the
// agent's own container in that mode, not to the task's).
func (c *Containerizer) Update(ctx context.Context, id types.ContainerID, resources types.Resources) error {
	if c.cfg.nestedInDocker() {
		return nil
	}
	if resources.IsZero() {
		return nil
	}

	var (
		container *types.Container
		name      string
	)
	c.dispatch(ctx, func() {
		cont, ok := c.registry.Lookup(id)
		if !ok || cont.State == types.StateDestroying {
			return
		}
		if cont.Resources.Equal(resources) {
			return
		}
		container = cont
		name = containerDockerName(cont)
	})
	if container == nil {
		return nil
	}

	pid, err := c.resolvePid(ctx, container, name)
	if err != nil {
		return fmt.Errorf("resolve pid for update: %w", err)
	}
	if pid == 0 {
		// Pid still unknown (container not yet reporting one): per §4.7
		// step 2, this is a no-op, not a failure.
		return nil
	}

	if err := cgroup.Update(ctx, pid, cgroup.Request{CPUs: resources.CPUs, MemBytes: resources.MemBytes}); err != nil {
		metrics.ResourceUpdatesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("update cgroups for %s: %w", id, err)
	}
	metrics.ResourceUpdatesTotal.WithLabelValues("ok").Inc()

	c.dispatch(ctx, func() {
		if cont, ok := c.registry.Lookup(id); ok {
			cont.Resources = resources
		}
	})
	return nil
}

// resolvePid returns container's cached pid, or inspects and caches it.
func (c *Containerizer) resolvePid(ctx context.Context, container *types.Container, name string) (int, error) {
	var cached int
	c.dispatch(ctx, func() {
		if container.Pid != nil {
			cached = *container.Pid
		}
	})
	if cached != 0 {
		return cached, nil
	}

	insp, err := c.docker.Inspect(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("docker inspect %s: %w", name, err)
	}
	if insp.Pid == 0 {
		return 0, nil
	}

	c.dispatch(ctx, func() {
		if cont, ok := c.registry.Lookup(container.ID); ok {
			pid := insp.Pid
			cont.Pid = &pid
		}
	})
	return insp.Pid, nil
}

func containerDockerName(c *types.Container) string {
	return namecodec.Make(c.SlaveID, c.ID)
}
