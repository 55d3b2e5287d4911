// Package types defines the core data model shared across the containerizer:
// the Container record, its identifiers, resource shapes, and the
// termination/result types that flow out of the lifecycle engine.
package types

import (
	"time"
)

// ContainerID is an opaque, caller-minted identifier. Uniqueness is the
// caller's responsibility; the containerizer never generates one itself.
type ContainerID string

// State is the position of a Container in the lifecycle state machine.
// Transitions are monotonic forward except that FETCHING and PULLING may
// jump directly to DESTROYING when a destroy races the launch pipeline.
type State string

const (
	StateFetching   State = "FETCHING"
	StatePulling    State = "PULLING"
	StateRunning    State = "RUNNING"
	StateDestroying State = "DESTROYING"
)

// Resources is the resource allocation last applied (or requested) for a
// container: CPU in fractional cores, memory in bytes.
type Resources struct {
	CPUs     float64
	MemBytes int64
}

// Equal reports whether two allocations are identical, used by update() to
// short-circuit no-op resource changes.
func (r Resources) Equal(o Resources) bool {
	return r.CPUs == o.CPUs && r.MemBytes == o.MemBytes
}

// IsZero reports whether neither CPU nor memory is set.
func (r Resources) IsZero() bool {
	return r.CPUs == 0 && r.MemBytes == 0
}

// TaskInfo carries the subset of a Mesos-style task description relevant to
// a container that wraps a single task. Present only when the container is
// task-scoped rather than a bare executor.
type TaskInfo struct {
	TaskID string
	Name   string
}

// ContainerInfo describes the Docker-specific portion of an executor: the
// image to run, the command, and any extra parameters the launcher should
// forward to `docker run`.
type ContainerInfo struct {
	Image      string
	Command    []string
	Env        map[string]string
	Parameters []string // raw --opt=value passthrough to docker run
	Privileged bool
}

// ExecutorInfo carries everything needed to run the executor: the image and
// command (via ContainerInfo), the framework/executor identity passed to the
// helper, and any non-container resource requirements.
type ExecutorInfo struct {
	FrameworkID  string
	ExecutorID   string
	Command      []string
	Env          map[string]string
	Container    ContainerInfo
	IsDockerType bool // false => caller should fall through to another containerizer
}

// Termination is the single-assignment result delivered by wait() and set
// exactly once, at the end of destruction.
type Termination struct {
	Killed  bool
	Status  *int // process exit status, when known
	Message string
}

// Container is the per-container record owned exclusively by the registry;
// every field is mutated only from within the Lifecycle Engine's serial
// execution context (see pkg/containerizer).
type Container struct {
	ID    ContainerID
	State State

	TaskInfo     *TaskInfo
	ExecutorInfo ExecutorInfo

	Directory string // effective sandbox path (possibly a symlink target)
	Symlinked bool   // true iff the original directory contained a colon
	User      string // run-as user for sandbox ownership, "" if unset

	SlaveID  string
	SlavePID string

	Checkpoint bool // whether to persist the forked pid

	Resources Resources

	Pid         *int // container init pid, once known
	ExecutorPid *int // pid the reaper watches: forked helper, docker-wait process when nested, or reattached pid on recovery

	CreatedAt time.Time

	// Completion signalling. Each is fulfilled at most once; callers
	// observe them through channels rather than polling a field.
	status      chan ExitStatus
	statusOnce  chan struct{}
	termination chan Termination
	termOnce    chan struct{}
}

// ExitStatus is what the reaper delivers when the monitored pid exits.
type ExitStatus struct {
	Pid    int
	Status int
}

// NewContainer constructs a Container record with its completion channels
// ready to receive a single value.
func NewContainer(id ContainerID, executor ExecutorInfo, directory string) *Container {
	return &Container{
		ID:           id,
		State:        StateFetching,
		ExecutorInfo: executor,
		Directory:    directory,
		CreatedAt:    time.Now(),
		status:       make(chan ExitStatus, 1),
		statusOnce:   make(chan struct{}, 1),
		termination:  make(chan Termination, 1),
		termOnce:     make(chan struct{}, 1),
	}
}

// SetStatus fulfils the status promise exactly once; subsequent calls are
// no-ops. Returns false if status was already set.
func (c *Container) SetStatus(s ExitStatus) bool {
	select {
	case c.statusOnce <- struct{}{}:
		c.status <- s
		return true
	default:
		return false
	}
}

// StatusCh returns the channel that yields the exit status once the reaper
// has observed it.
func (c *Container) StatusCh() <-chan ExitStatus {
	return c.status
}

// SetTermination fulfils the termination promise exactly once; subsequent
// calls are no-ops. Returns false if termination was already set.
func (c *Container) SetTermination(t Termination) bool {
	select {
	case c.termOnce <- struct{}{}:
		c.termination <- t
		return true
	default:
		return false
	}
}

// TerminationCh returns the channel that yields the Termination message
// once destruction has completed.
func (c *Container) TerminationCh() <-chan Termination {
	return c.termination
}
