package containerizer

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/cuemby/dockerizer/pkg/log"
	"github.com/cuemby/dockerizer/pkg/metrics"
	"github.com/cuemby/dockerizer/pkg/namecodec"
	"github.com/cuemby/dockerizer/pkg/types"
)

// Destroy implements §4.4's destroy and the teardown sequence of
// "Destruction detail": idempotent, and the returned channel closes once
// termination has been set (or immediately, if the container was already
// unknown — destroy on an unknown container is defined as a no-op, not
// an error, so that a racing launch-failure path and an agent-initiated
// destroy never need to coordinate). The Termination message is derived
// entirely from the container's pre-transition state and killed, per
// "Destruction detail"'s §4.4 messages — callers (the reaper, recover,
// and dockerizerctl's CLI) have no way to override it.
func (c *Containerizer) Destroy(ctx context.Context, id types.ContainerID, killed bool) <-chan struct{} {
	return c.destroy(ctx, id, killed, nil)
}

// destroyFailed tears a container down following a genuine launch-pipeline
// failure (fetch/pull/run/launch-executor error) rather than an
// agent-initiated or reaper-initiated destroy. Per §7 ("onFailed calls
// destroy(killed=true)... Termination is set with the originating error's
// message"), cause's message is what gets recorded, not a state-derived
// canonical one — this is the one destroy path where the caller
// legitimately owns the message.
func (c *Containerizer) destroyFailed(ctx context.Context, id types.ContainerID, cause error) <-chan struct{} {
	return c.destroy(ctx, id, true, cause)
}

func (c *Containerizer) destroy(ctx context.Context, id types.ContainerID, killed bool, cause error) <-chan struct{} {
	done := make(chan struct{})

	var (
		container *types.Container
		slaveID   string
		preState  types.State
		neverRan  bool
	)
	c.dispatch(ctx, func() {
		cont, ok := c.registry.Lookup(id)
		if !ok {
			return
		}
		if cont.State == types.StateDestroying {
			container = nil
			return
		}
		preState = cont.State
		neverRan = cont.State == types.StateFetching || cont.State == types.StatePulling
		cont.State = types.StateDestroying
		container = cont
		slaveID = cont.SlaveID
	})

	if container == nil {
		close(done)
		return done
	}

	metrics.ContainersActive.WithLabelValues(string(preState)).Dec()
	metrics.ContainersActive.WithLabelValues(string(types.StateDestroying)).Inc()

	go c.teardown(ctx, id, slaveID, container, killed, cause, preState, neverRan, done)
	return done
}

// destroyMessage derives the Termination message per §4.4/§7: cause's
// message when destroy is reporting a genuine pipeline failure, otherwise
// the canonical text for the state destroy caught the container in.
func destroyMessage(cause error, preState types.State, neverRan bool, killed bool) string {
	if cause != nil {
		return cause.Error()
	}
	if neverRan {
		switch preState {
		case types.StatePulling:
			return "Container destroyed while pulling image"
		default:
			return "Container destroyed while fetching"
		}
	}
	if killed {
		return "Container killed"
	}
	return "Container terminated"
}

// teardown runs "Destruction detail"'s numbered sequence. neverRan is
// true when destroy caught the container still in FETCHING/PULLING (or a
// failed docker run never produced a live container): per the "docker
// run failure path" rule, stopping is skipped entirely and termination
// is set straight from the derived message.
func (c *Containerizer) teardown(ctx context.Context, id types.ContainerID, slaveID string, container *types.Container, killed bool, cause error, preState types.State, neverRan bool, done chan<- struct{}) {
	logger := log.WithContainerID(string(id))
	name := namecodec.Make(slaveID, id)
	helperName := namecodec.MakeExecutorHelper(slaveID, id)
	message := destroyMessage(cause, preState, neverRan, killed)
	timer := metrics.NewTimer()
	killedLabel := fmt.Sprintf("%t", killed)

	if neverRan {
		// §5: "cancellation of the fetcher goes through the fetcher's
		// kill(containerId)" — discard any in-flight fetch rather than
		// letting the launch goroutine merely lose the stillRegistered
		// race after the download finishes on its own.
		if preState == types.StateFetching {
			c.fetcher.Kill(id)
		}
		container.SetTermination(types.Termination{Killed: killed, Message: message})
		c.dispatch(context.Background(), func() { c.registry.Remove(id) })
		metrics.ContainersActive.WithLabelValues(string(types.StateDestroying)).Dec()
		if c.journal != nil {
			_ = c.journal.MarkCompleted(id)
		}
		metrics.DestroysTotal.WithLabelValues(killedLabel).Inc()
		timer.ObserveDuration(metrics.DestroyDuration)
		logger.Info().Bool("killed", killed).Str("message", message).Msg("destroy: torn down before docker run, skipping stop")
		close(done)
		return
	}

	// Step 1: stop the executor-helper container unconditionally. Only
	// meaningful for the nested-in-Docker launch path; a no-op (ignored
	// error) otherwise, since the helper may legitimately be gone or
	// never have existed as a container.
	_ = c.docker.Stop(ctx, helperName, 0)

	// Step 2: SIGTERM the executor pid, if any. Only that one process is
	// signalled; its child processes are not. A container torn down before RUNNING (still FETCHING/PULLING) never
	// had an executor pid, so there is nothing to signal or wait for in
	// steps 2-3.
	reachedRunning := container.ExecutorPid != nil
	if reachedRunning {
		if proc, err := os.FindProcess(*container.ExecutorPid); err == nil {
			_ = proc.Signal(syscall.SIGTERM)
		}
	}

	// Step 3: wait for the reaper's status promise, which fires once the
	// signalled (or already-exited) process is observed gone.
	var exitStatus *int
	if reachedRunning {
		st := <-container.StatusCh()
		code := st.Status
		exitStatus = &code
	}

	// Step 4: stop the primary container with the configured grace
	// period.
	stopErr := c.docker.Stop(ctx, name, c.cfg.DockerStopTimeout)

	var termination types.Termination
	if stopErr != nil {
		logger.Warn().Err(stopErr).Msg("docker stop failed during teardown; termination reported as failed")
		termination = types.Termination{Killed: killed, Message: fmt.Sprintf("stop failed: %v", stopErr)}
	} else {
		// Step 5: on stop success, report the derived message alongside
		// whatever exit status step 3 observed.
		termination = types.Termination{Killed: killed, Status: exitStatus, Message: message}
	}

	container.SetTermination(termination)

	c.dispatch(context.Background(), func() {
		c.registry.Remove(id)
	})
	metrics.ContainersActive.WithLabelValues(string(types.StateDestroying)).Dec()
	if c.journal != nil {
		_ = c.journal.MarkCompleted(id)
	}

	// Step 6: schedule the delayed forced removal of both containers.
	go func() {
		time.Sleep(c.cfg.DockerRemoveDelay)
		rmCtx := context.Background()
		_ = c.docker.Rm(rmCtx, name, true)
		_ = c.docker.Rm(rmCtx, helperName, true)
	}()

	metrics.DestroysTotal.WithLabelValues(killedLabel).Inc()
	timer.ObserveDuration(metrics.DestroyDuration)
	logger.Info().Bool("killed", killed).Str("message", message).Msg("destroy: teardown complete")
	close(done)
}
