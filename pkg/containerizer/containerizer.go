// Package containerizer implements the Lifecycle Engine (§4.4) and
// Executor Launcher (§4.5): the Docker-backed containerizer's core state
// machine. A Containerizer runs its command loop on a single goroutine —
// every public operation dispatches a closure onto that goroutine rather
// than mutating the registry directly, so the registry and each
// Container's mutable fields never need locks.
package containerizer

import (
	"context"
	"time"

	"github.com/cuemby/dockerizer/pkg/dockerclient"
	"github.com/cuemby/dockerizer/pkg/fetcher"
	"github.com/cuemby/dockerizer/pkg/log"
	"github.com/cuemby/dockerizer/pkg/metrics"
	"github.com/cuemby/dockerizer/pkg/reaper"
	"github.com/cuemby/dockerizer/pkg/recoverer"
	"github.com/cuemby/dockerizer/pkg/recoverjournal"
	"github.com/cuemby/dockerizer/pkg/registry"
	"github.com/cuemby/dockerizer/pkg/types"
)

// metricsReconcileInterval is how often Run recomputes ContainersActive
// from the registry directly, as a safety net against any drift the
// incremental Inc/Dec calls scattered across launch/destroy might
// accumulate.
const metricsReconcileInterval = 30 * time.Second

// Config carries every Docker-containerizer flag named in §6.
type Config struct {
	Docker                 string
	DockerStopTimeout      time.Duration
	DockerRemoveDelay      time.Duration
	DockerKillOrphans      bool
	DockerMesosImage       string
	DockerSocket           string
	DockerSandboxDirectory string
	WorkDir                string
	LauncherDir            string
	RecoveryTimeout        time.Duration
	SlaveID                string
	SlavePID               string
}

// nestedInDocker reports whether the executor helper itself runs inside
// a Docker container, per §4.5's "Nested-in-Docker" variant.
func (c Config) nestedInDocker() bool {
	return c.DockerMesosImage != ""
}

// Containerizer is the Lifecycle Engine. Construct with New and start its
// command loop with Run before issuing any operation.
type Containerizer struct {
	cfg      Config
	docker   dockerclient.Client
	fetcher  fetcher.Fetcher
	reaper   reaper.Reaper
	launcher Launcher
	journal  *recoverjournal.Journal

	registry  *registry.Registry
	recoverer *recoverer.Recoverer
	cmds      chan func()
}

// New constructs a Containerizer using the real Executor Launcher. Run
// must be called (typically in its own goroutine) before any public
// method is used.
func New(cfg Config, docker dockerclient.Client, f fetcher.Fetcher, r reaper.Reaper, journal *recoverjournal.Journal) *Containerizer {
	return NewWithLauncher(cfg, docker, f, r, journal, newExecLauncher(cfg, docker, r))
}

// NewWithLauncher is New with an injectable Launcher, used by tests to
// avoid forking real processes or invoking a real docker binary.
func NewWithLauncher(cfg Config, docker dockerclient.Client, f fetcher.Fetcher, r reaper.Reaper, journal *recoverjournal.Journal, launcher Launcher) *Containerizer {
	return &Containerizer{
		cfg:       cfg,
		docker:    docker,
		fetcher:   f,
		reaper:    r,
		launcher:  launcher,
		journal:   journal,
		registry:  registry.New(),
		recoverer: recoverer.New(docker, r, journal),
		cmds:      make(chan func()),
	}
}

// Run executes the command loop until ctx is cancelled. It must run on
// its own goroutine; every public method blocks until Run is consuming
// from the command channel.
func (c *Containerizer) Run(ctx context.Context) {
	logger := log.WithComponent("containerizer")
	logger.Info().Msg("lifecycle engine command loop starting")

	ticker := time.NewTicker(metricsReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("lifecycle engine command loop stopping")
			return
		case fn := <-c.cmds:
			fn()
		case <-ticker.C:
			c.reconcileMetrics()
		}
	}
}

// reconcileMetrics recomputes dockerizer_containers_active directly from
// the registry. It must only run on the command-loop goroutine (it calls
// registry.Snapshot without going through dispatch), which Run guarantees
// since it is only ever invoked from within Run's own select loop.
func (c *Containerizer) reconcileMetrics() {
	counts := make(map[types.State]int)
	for _, container := range c.registry.Snapshot() {
		counts[container.State]++
	}
	for _, state := range []types.State{types.StateFetching, types.StatePulling, types.StateRunning, types.StateDestroying} {
		metrics.ContainersActive.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}

// dispatch submits fn to the command loop and blocks until it has run.
// Every registry read or write must happen inside fn, never outside it.
func (c *Containerizer) dispatch(ctx context.Context, fn func()) bool {
	done := make(chan struct{})
	wrapped := func() {
		fn()
		close(done)
	}
	select {
	case c.cmds <- wrapped:
	case <-ctx.Done():
		return false
	}
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// Containers returns a snapshot of currently registered ContainerIDs.
func (c *Containerizer) Containers(ctx context.Context) ([]types.ContainerID, error) {
	var ids []types.ContainerID
	ok := c.dispatch(ctx, func() {
		ids = c.registry.Keys()
	})
	if !ok {
		return nil, ctx.Err()
	}
	return ids, nil
}

// Wait returns containerId's termination promise; it fails if the
// container is unknown at call time. If the container later completes,
// the returned channel yields its Termination exactly once.
func (c *Containerizer) Wait(ctx context.Context, id types.ContainerID) (<-chan types.Termination, error) {
	var (
		ch    <-chan types.Termination
		found bool
	)
	ok := c.dispatch(ctx, func() {
		container, ok := c.registry.Lookup(id)
		if !ok {
			return
		}
		found = true
		ch = container.TerminationCh()
	})
	if !ok {
		return nil, ctx.Err()
	}
	if !found {
		return nil, &UnknownContainerError{ID: id}
	}
	return ch, nil
}

// UnknownContainerError is returned for operations naming a ContainerID
// not currently present in the registry.
type UnknownContainerError struct {
	ID types.ContainerID
}

func (e *UnknownContainerError) Error() string {
	return "unknown container: " + string(e.ID)
}
