package containerizer

import (
	"context"
	"fmt"

	"github.com/cuemby/dockerizer/pkg/dockerclient"
	"github.com/cuemby/dockerizer/pkg/log"
	"github.com/cuemby/dockerizer/pkg/metrics"
	"github.com/cuemby/dockerizer/pkg/namecodec"
	"github.com/cuemby/dockerizer/pkg/recoverjournal"
	"github.com/cuemby/dockerizer/pkg/sandbox"
	"github.com/cuemby/dockerizer/pkg/types"
)

// LaunchRequest is everything launch() needs, mirroring the Container
// record fields a successful launch populates (§3).
type LaunchRequest struct {
	ID           types.ContainerID
	TaskInfo     *types.TaskInfo
	ExecutorInfo types.ExecutorInfo
	Directory    string
	User         string
	SlaveID      string
	SlavePID     string
	Checkpoint   bool

	// FetchURIs are artifacts the fetcher downloads into Directory before
	// the image pull begins.
	FetchURIs []string
}

// LaunchResult is what the returned channel yields exactly once.
type LaunchResult struct {
	OK  bool
	Err error
}

// DuplicateContainerError is returned when launch names an already
// registered ContainerID.
type DuplicateContainerError struct {
	ID types.ContainerID
}

func (e *DuplicateContainerError) Error() string {
	return "container already exists: " + string(e.ID)
}

// Launch implements §4.4's launch operation. It returns false (no error)
// immediately when req does not name a Docker container type, per the
// "fall through to another containerizer" contract; otherwise the
// returned channel resolves once the executor's reaper-wait has been
// armed, or fails and tears the container down.
func (c *Containerizer) Launch(ctx context.Context, req LaunchRequest) <-chan LaunchResult {
	result := make(chan LaunchResult, 1)

	if !req.ExecutorInfo.IsDockerType {
		result <- LaunchResult{OK: false}
		return result
	}

	go c.launchAsync(ctx, req, result)
	return result
}

func (c *Containerizer) launchAsync(ctx context.Context, req LaunchRequest, result chan<- LaunchResult) {
	logger := log.WithContainerID(string(req.ID))
	timer := metrics.NewTimer()

	var dup bool
	c.dispatch(ctx, func() { dup = c.registry.Contains(req.ID) })
	if dup {
		metrics.LaunchesTotal.WithLabelValues("error").Inc()
		result <- LaunchResult{Err: &DuplicateContainerError{ID: req.ID}}
		return
	}

	prep, err := sandbox.Prepare(c.cfg.WorkDir, req.SlaveID, req.ID, req.Directory, req.User)
	if err != nil {
		metrics.LaunchesTotal.WithLabelValues("error").Inc()
		result <- LaunchResult{Err: fmt.Errorf("prepare sandbox: %w", err)}
		return
	}

	container := types.NewContainer(req.ID, req.ExecutorInfo, prep.Directory)
	container.Symlinked = prep.Symlinked
	container.TaskInfo = req.TaskInfo
	container.User = req.User
	container.SlaveID = req.SlaveID
	container.SlavePID = req.SlavePID
	container.Checkpoint = req.Checkpoint

	var inserted bool
	c.dispatch(ctx, func() {
		if c.registry.Contains(req.ID) {
			return
		}
		c.registry.Insert(container)
		inserted = true
	})
	if !inserted {
		metrics.LaunchesTotal.WithLabelValues("error").Inc()
		result <- LaunchResult{Err: &DuplicateContainerError{ID: req.ID}}
		return
	}
	metrics.ContainersActive.WithLabelValues(string(types.StateFetching)).Inc()

	logger.Info().Str("directory", container.Directory).Msg("launch: container registered, entering FETCHING")

	if err := c.fetcher.Fetch(ctx, req.ID, req.FetchURIs, container.Directory); err != nil {
		if !c.stillRegistered(ctx, req.ID) {
			c.finishFailedLaunch(ctx, req.ID, "Container was destroyed while fetching", result)
			return
		}
		c.onLaunchFailed(ctx, req.ID, fmt.Errorf("fetch artifacts: %w", err), result)
		return
	}

	if !c.stillRegistered(ctx, req.ID) {
		c.finishFailedLaunch(ctx, req.ID, "Container was destroyed while fetching", result)
		return
	}

	c.dispatch(ctx, func() {
		if cont, ok := c.registry.Lookup(req.ID); ok {
			cont.State = types.StatePulling
		}
	})
	metrics.ContainersActive.WithLabelValues(string(types.StateFetching)).Dec()
	metrics.ContainersActive.WithLabelValues(string(types.StatePulling)).Inc()

	image := req.ExecutorInfo.Container.Image
	pullTimer := metrics.NewTimer()
	pullErr := c.docker.Pull(ctx, image)
	pullTimer.ObserveDuration(metrics.PullDuration)
	if pullErr != nil {
		metrics.PullsTotal.WithLabelValues("error").Inc()
		if !c.stillRegistered(ctx, req.ID) {
			c.finishFailedLaunch(ctx, req.ID, "Container was destroyed while pulling image", result)
			return
		}
		c.onLaunchFailed(ctx, req.ID, fmt.Errorf("pull image %s: %w", image, pullErr), result)
		return
	}
	metrics.PullsTotal.WithLabelValues("ok").Inc()

	if !c.stillRegistered(ctx, req.ID) {
		c.finishFailedLaunch(ctx, req.ID, "Container was destroyed while pulling image", result)
		return
	}

	name := namecodec.Make(req.SlaveID, req.ID)
	runOpts := buildRunOptions(name, req.ExecutorInfo, container)
	if err := c.docker.Run(ctx, runOpts); err != nil {
		c.onLaunchFailed(ctx, req.ID, fmt.Errorf("docker run: %w", err), result)
		return
	}

	if !c.stillRegistered(ctx, req.ID) {
		// destroy raced a run that actually succeeded; tear the live
		// container down rather than leak it.
		_ = c.docker.Stop(ctx, name, c.cfg.DockerStopTimeout)
		_ = c.docker.Rm(ctx, name, true)
		metrics.LaunchesTotal.WithLabelValues("error").Inc()
		result <- LaunchResult{Err: fmt.Errorf("container %s destroyed while running docker run", req.ID)}
		return
	}

	c.dispatch(ctx, func() {
		if cont, ok := c.registry.Lookup(req.ID); ok {
			cont.State = types.StateRunning
		}
	})
	metrics.ContainersActive.WithLabelValues(string(types.StatePulling)).Dec()
	metrics.ContainersActive.WithLabelValues(string(types.StateRunning)).Inc()

	executorPid, helperName, err := c.launcher.Launch(ctx, req, container, name)
	if err != nil {
		c.onLaunchFailed(ctx, req.ID, fmt.Errorf("launch executor: %w", err), result)
		return
	}

	if !c.stillRegistered(ctx, req.ID) {
		metrics.LaunchesTotal.WithLabelValues("error").Inc()
		result <- LaunchResult{Err: fmt.Errorf("container %s destroyed while starting executor", req.ID)}
		return
	}

	c.dispatch(ctx, func() {
		if cont, ok := c.registry.Lookup(req.ID); ok {
			pid := executorPid
			cont.ExecutorPid = &pid
		}
	})

	if container.Checkpoint && c.journal != nil {
		_ = c.journal.Checkpoint(recoverjournal.Run{
			ContainerID:        req.ID,
			ForkedPid:          executorPid,
			ExecutorHelperName: helperName,
		})
	}

	c.armReaper(ctx, req.ID, executorPid)

	metrics.LaunchesTotal.WithLabelValues("ok").Inc()
	timer.ObserveDuration(metrics.LaunchDuration)
	logger.Info().Int("executor_pid", executorPid).Msg("launch: executor reap armed, launch complete")
	result <- LaunchResult{OK: true}
}

// stillRegistered reports whether id is present in the registry right
// now and not already DESTROYING, via the engine's serial context. Every
// continuation in the launch chain calls this after an await, so a
// concurrent destroy is observed even before it removes the entry.
func (c *Containerizer) stillRegistered(ctx context.Context, id types.ContainerID) bool {
	var present bool
	c.dispatch(ctx, func() {
		cont, ok := c.registry.Lookup(id)
		present = ok && cont.State != types.StateDestroying
	})
	return present
}

// onLaunchFailed implements the "onFailed calls destroy(killed=true)"
// propagation policy (§7) for failures that happen while the container
// is still registered.
func (c *Containerizer) onLaunchFailed(ctx context.Context, id types.ContainerID, cause error, result chan<- LaunchResult) {
	log.WithContainerID(string(id)).Error().Err(cause).Msg("launch failed, destroying")
	metrics.LaunchesTotal.WithLabelValues("error").Inc()
	<-c.destroyFailed(ctx, id, cause)
	result <- LaunchResult{Err: cause}
}

// finishFailedLaunch handles the "destroy already removed the container"
// race: the registry entry (and its termination promise) is gone, so
// there is nothing left to fulfil; just report the failure upward.
func (c *Containerizer) finishFailedLaunch(_ context.Context, id types.ContainerID, message string, result chan<- LaunchResult) {
	metrics.LaunchesTotal.WithLabelValues("error").Inc()
	log.WithContainerID(string(id)).Warn().Str("message", message).Msg("launch race lost to concurrent destroy")
	result <- LaunchResult{Err: fmt.Errorf("%s", message)}
}

func buildRunOptions(name string, executor types.ExecutorInfo, container *types.Container) dockerclient.RunOptions {
	env := make([]string, 0, len(executor.Env))
	for k, v := range executor.Env {
		env = append(env, k+"="+v)
	}

	mounts := []dockerclient.Mount{
		{Source: container.Directory, Destination: container.Directory},
	}

	opts := dockerclient.RunOptions{
		Name:       name,
		Image:      executor.Container.Image,
		Command:    executor.Container.Command,
		Env:        env,
		Mounts:     mounts,
		Parameters: executor.Container.Parameters,
		Detach:     true,
	}
	if executor.Container.Privileged {
		opts.Parameters = append(opts.Parameters, "--privileged")
	}
	if !container.Resources.IsZero() {
		opts.CPUShares = int64(container.Resources.CPUs * 1024)
		opts.MemBytes = container.Resources.MemBytes
	}
	return opts
}

// armReaper registers pid with the reaper and, once it resolves, runs
// destroy(killed=false) so the normal teardown sequence executes (§4.6).
func (c *Containerizer) armReaper(ctx context.Context, id types.ContainerID, pid int) {
	ch := c.reaper.Monitor(ctx, pid)
	go func() {
		notification, ok := <-ch
		if !ok {
			return
		}
		c.dispatch(context.Background(), func() {
			if cont, ok := c.registry.Lookup(id); ok {
				cont.SetStatus(types.ExitStatus{Pid: notification.Pid, Status: notification.Status})
			}
		})
		<-c.Destroy(context.Background(), id, false)
	}()
}
