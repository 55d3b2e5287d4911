// Package recoverer implements the Recoverer (§4.9): on agent restart,
// reconcile persisted per-executor run records against live `docker ps`
// output, reattach reapers where possible, and sweep unclaimed Mesos
// containers when orphan killing is requested.
//
// It consumes two sources of persisted state, merged by ContainerID: a
// caller-supplied SlaveState (the agent's own frameworks→executors→runs
// snapshot, when the caller has one) and this repo's own
// pkg/recoverjournal checkpoint, which fills in for containers the agent
// snapshot omits or for which the containerizer process itself was
// restarted without ever repopulating the in-memory registry.
package recoverer

import (
	"context"
	"os"
	"syscall"
	"time"

	"github.com/cuemby/dockerizer/pkg/dockerclient"
	"github.com/cuemby/dockerizer/pkg/log"
	"github.com/cuemby/dockerizer/pkg/namecodec"
	"github.com/cuemby/dockerizer/pkg/reaper"
	"github.com/cuemby/dockerizer/pkg/recoverjournal"
	"github.com/cuemby/dockerizer/pkg/types"
)

// ExecutorState is the subset of agent-side executor state needed to
// reconstruct a Container record for a reattached container. It is nil
// on a PersistedRun sourced only from the recovery journal, which does
// not carry enough information to rebuild a full record beyond identity
// and pid.
type ExecutorState struct {
	ExecutorInfo types.ExecutorInfo
	TaskInfo     *types.TaskInfo
	Directory    string
	User         string
	SlavePID     string
	Checkpoint   bool
	Resources    types.Resources
}

// PersistedRun is one executor's latest recorded run, whichever source it
// came from.
type PersistedRun struct {
	ContainerID types.ContainerID
	ForkedPid   int
	Completed   bool
	HelperName  string
	Executor    *ExecutorState
}

// SlaveState is the optional agent-side persisted state input named in
// §4.9: frameworks → executors → runs, pre-filtered by the caller to each
// executor's latest run.
type SlaveState struct {
	SlaveID string
	Runs    []PersistedRun
}

// Reattachment is one container recover() decided to reattach to.
type Reattachment struct {
	ID         types.ContainerID
	Name       string
	HelperName string
	Pid        int // resolved pid, 0 when reattached via the docker-wait fallback
	Executor   *ExecutorState
	Notify     <-chan reaper.ExitNotification
}

// Result is the outcome of a single Recover call.
type Result struct {
	Reattached []Reattachment
	Orphaned   []string // docker container names stopped as unclaimed
}

// DuplicatePidError is returned when two persisted runs claim the same
// live pid; recover() fails as a whole rather than guess which owns it.
type DuplicatePidError struct {
	Pid    int
	First  types.ContainerID
	Second types.ContainerID
}

func (e *DuplicatePidError) Error() string {
	return "recover: duplicate pid claim"
}

// Recoverer reconciles persisted run records with live Docker state.
type Recoverer struct {
	docker  dockerclient.Client
	reaper  reaper.Reaper
	journal *recoverjournal.Journal // optional
}

// New returns a Recoverer. journal may be nil when no local checkpoint
// store is configured, in which case only the caller-supplied SlaveState
// is consulted.
func New(docker dockerclient.Client, r reaper.Reaper, journal *recoverjournal.Journal) *Recoverer {
	return &Recoverer{docker: docker, reaper: r, journal: journal}
}

// Recover implements §4.9's reconciliation. stopTimeout is the grace
// period passed to the orphan-sweep `docker stop`.
func (rc *Recoverer) Recover(ctx context.Context, state SlaveState, killOrphans bool, stopTimeout time.Duration) (Result, error) {
	logger := log.WithComponent("recoverer")

	runs, err := rc.mergedRuns(state)
	if err != nil {
		return Result{}, err
	}

	entries, err := rc.docker.Ps(ctx, namecodec.Prefix(state.SlaveID))
	if err != nil {
		return Result{}, err
	}

	primaryLive, helperLive := partition(entries)

	var result Result
	claimedPids := make(map[int]types.ContainerID)
	claimedIDs := make(map[types.ContainerID]bool)

	for _, run := range runs {
		if run.ForkedPid == 0 {
			logger.Debug().Str("container_id", string(run.ContainerID)).Msg("recover: skipping run with no forked pid")
			continue
		}
		if run.Completed {
			continue
		}

		name, isLive := primaryLive[run.ContainerID]
		if !isLive {
			continue
		}

		if processAlive(run.ForkedPid) {
			if prior, dup := claimedPids[run.ForkedPid]; dup {
				return Result{}, &DuplicatePidError{Pid: run.ForkedPid, First: prior, Second: run.ContainerID}
			}
			claimedPids[run.ForkedPid] = run.ContainerID
			claimedIDs[run.ContainerID] = true

			result.Reattached = append(result.Reattached, Reattachment{
				ID:       run.ContainerID,
				Name:     name,
				Pid:      run.ForkedPid,
				Executor: run.Executor,
				Notify:   rc.reaper.Monitor(ctx, run.ForkedPid),
			})
			logger.Info().Str("container_id", string(run.ContainerID)).Int("pid", run.ForkedPid).Msg("recover: reattached by forked pid")
			continue
		}

		helperName, helperLiveOK := helperLive[run.ContainerID]
		if !helperLiveOK {
			logger.Warn().Str("container_id", string(run.ContainerID)).Msg("recover: forked pid dead and no live executor helper; cannot reattach")
			continue
		}

		claimedIDs[run.ContainerID] = true
		result.Reattached = append(result.Reattached, Reattachment{
			ID:         run.ContainerID,
			Name:       name,
			HelperName: helperName,
			Executor:   run.Executor,
			Notify:     waitViaDockerWait(ctx, rc.docker, helperName),
		})
		logger.Info().Str("container_id", string(run.ContainerID)).Str("helper", helperName).Msg("recover: forked pid dead, reattached via docker wait on executor helper")
	}

	if killOrphans {
		for id, name := range primaryLive {
			if claimedIDs[id] {
				continue
			}
			result.Orphaned = append(result.Orphaned, name)
			if err := rc.docker.Stop(ctx, name, stopTimeout); err != nil {
				logger.Warn().Err(err).Str("container", name).Msg("recover: failed to stop orphan")
			}
		}
		for id, name := range helperLive {
			if claimedIDs[id] {
				continue
			}
			result.Orphaned = append(result.Orphaned, name)
			if err := rc.docker.Stop(ctx, name, stopTimeout); err != nil {
				logger.Warn().Err(err).Str("container", name).Msg("recover: failed to stop orphan helper")
			}
		}
	}

	return result, nil
}

// mergedRuns combines the caller-supplied SlaveState with this process's
// own recovery journal, the caller's runs taking precedence when both
// name the same ContainerID.
func (rc *Recoverer) mergedRuns(state SlaveState) ([]PersistedRun, error) {
	byID := make(map[types.ContainerID]PersistedRun, len(state.Runs))
	for _, r := range state.Runs {
		byID[r.ContainerID] = r
	}

	if rc.journal != nil {
		journaled, err := rc.journal.All()
		if err != nil {
			return nil, err
		}
		for id, run := range journaled {
			if _, already := byID[id]; already {
				continue
			}
			byID[id] = PersistedRun{
				ContainerID: id,
				ForkedPid:   run.ForkedPid,
				Completed:   run.Completed,
				HelperName:  run.ExecutorHelperName,
			}
		}
	}

	runs := make([]PersistedRun, 0, len(byID))
	for _, r := range byID {
		runs = append(runs, r)
	}
	return runs, nil
}

// partition splits live Mesos-named containers into primary (task/executor
// container) and executor-helper sets, keyed by ContainerID. Non-Mesos
// names are ignored entirely, per §4.1.
func partition(entries []dockerclient.PsEntry) (primary, helper map[types.ContainerID]string) {
	primary = make(map[types.ContainerID]string)
	helper = make(map[types.ContainerID]string)
	for _, e := range entries {
		id, isHelper, ok := namecodec.Parse(e.Name)
		if !ok {
			continue
		}
		if isHelper {
			helper[id] = e.Name
		} else {
			primary[id] = e.Name
		}
	}
	return primary, helper
}

// processAlive reports whether pid refers to a live process, by probing
// it with signal 0.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// waitViaDockerWait spawns a `docker wait` against helperName and reports
// its completion as an ExitNotification, standing in for a reaper
// monitoring a pid this process never forked — used when the agent
// itself ran containerized and lost track of its local helper pid across
// a restart.
func waitViaDockerWait(ctx context.Context, docker dockerclient.Client, helperName string) <-chan reaper.ExitNotification {
	ch := make(chan reaper.ExitNotification, 1)
	go func() {
		code, err := docker.Wait(ctx, helperName)
		status := code
		if err != nil {
			status = -1
		}
		ch <- reaper.ExitNotification{Status: status}
	}()
	return ch
}
