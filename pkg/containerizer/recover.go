package containerizer

import (
	"context"

	"github.com/cuemby/dockerizer/pkg/log"
	"github.com/cuemby/dockerizer/pkg/metrics"
	"github.com/cuemby/dockerizer/pkg/recoverer"
	"github.com/cuemby/dockerizer/pkg/types"
)

// RecoverResult reports what recover() did, for the caller to log or
// surface over the operator CLI.
type RecoverResult struct {
	Reattached []types.ContainerID
	Orphaned   []string
}

// Recover implements §4.9: reconcile persisted executor runs (the
// caller-supplied agent state plus this process's own recovery journal)
// against live `docker ps` output, reattach reapers where possible, and
// sweep unclaimed Mesos containers when the engine is configured with
// DockerKillOrphans.
func (c *Containerizer) Recover(ctx context.Context, state recoverer.SlaveState) (RecoverResult, error) {
	logger := log.WithComponent("containerizer")

	if state.SlaveID == "" {
		state.SlaveID = c.cfg.SlaveID
	}

	result, err := c.recoverer.Recover(ctx, state, c.cfg.DockerKillOrphans, c.cfg.DockerStopTimeout)
	if err != nil {
		return RecoverResult{}, err
	}

	out := RecoverResult{Orphaned: result.Orphaned}

	for _, reattach := range result.Reattached {
		reattach := reattach
		var dup bool
		c.dispatch(ctx, func() {
			if c.registry.Contains(reattach.ID) {
				dup = true
				return
			}
			container := c.buildReattachedContainer(reattach, state.SlaveID)
			c.registry.Insert(container)
		})
		if dup {
			metrics.RecoveredContainersTotal.WithLabelValues("duplicate").Inc()
			logger.Warn().Str("container_id", string(reattach.ID)).Msg("recover: already registered, skipping reattachment")
			continue
		}

		out.Reattached = append(out.Reattached, reattach.ID)
		c.armRecoveredReaper(reattach)
		metrics.RecoveredContainersTotal.WithLabelValues("reattached").Inc()
		logger.Info().Str("container_id", string(reattach.ID)).Msg("recover: reattached")
	}
	metrics.RecoveredContainersTotal.WithLabelValues("orphaned").Add(float64(len(out.Orphaned)))

	return out, nil
}

// buildReattachedContainer reconstructs a Container record for a
// reattached executor. When the caller supplied agent-side executor
// state it is used directly; otherwise (a journal-only reattachment)
// only identity and pid are known, which is enough to observe the
// executor's eventual exit and tear it down, per §4.9's contract that
// recovery need not rebuild the full original launch request.
func (c *Containerizer) buildReattachedContainer(r recoverer.Reattachment, slaveID string) *types.Container {
	var container *types.Container
	if r.Executor != nil {
		container = types.NewContainer(r.ID, r.Executor.ExecutorInfo, r.Executor.Directory)
		container.TaskInfo = r.Executor.TaskInfo
		container.User = r.Executor.User
		container.SlavePID = r.Executor.SlavePID
		container.Checkpoint = r.Executor.Checkpoint
		container.Resources = r.Executor.Resources
	} else {
		container = types.NewContainer(r.ID, types.ExecutorInfo{IsDockerType: true}, "")
	}
	container.SlaveID = slaveID
	container.State = types.StateRunning
	if r.Pid != 0 {
		pid := r.Pid
		container.ExecutorPid = &pid
	}
	return container
}

// armRecoveredReaper mirrors armReaper (launch.go) for a reattached
// container: once Notify fires, record the status and run the normal
// reaper-driven teardown.
func (c *Containerizer) armRecoveredReaper(r recoverer.Reattachment) {
	go func() {
		notification, ok := <-r.Notify
		if !ok {
			return
		}
		c.dispatch(context.Background(), func() {
			if cont, ok := c.registry.Lookup(r.ID); ok {
				cont.SetStatus(types.ExitStatus{Pid: notification.Pid, Status: notification.Status})
			}
		})
		<-c.Destroy(context.Background(), r.ID, false)
	}()
}
