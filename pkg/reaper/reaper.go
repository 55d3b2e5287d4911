// Package reaper is the external reaper-service contract (§4.6): register
// a pid, be notified when it exits. The real Mesos agent reaper is a
// single process-wide waitpid dispatcher; here we provide a concrete
// in-process implementation good enough to drive and test the lifecycle
// engine's "arm a reaper, destroy on exit" wiring.
package reaper

import (
	"context"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/cuemby/dockerizer/pkg/log"
)

// ExitNotification is delivered when a monitored pid exits.
type ExitNotification struct {
	Pid    int
	Status int
}

// Reaper monitors pids and notifies callers on exit.
type Reaper interface {
	// Monitor arms monitoring of pid and returns a channel that receives
	// exactly one ExitNotification when the process exits, or is closed
	// without a value if ctx is cancelled first.
	Monitor(ctx context.Context, pid int) <-chan ExitNotification
}

// Notifier is implemented by a Reaper that can be told a pid's real exit
// status directly, bypassing its poll loop. The launcher uses this for
// pids it forked itself and can (*os/exec.Cmd).Wait() on, so their
// Termination.Status reflects the process's actual exit code rather than
// a polled approximation.
type Notifier interface {
	Notify(pid, status int)
}

type pending struct {
	ch   chan ExitNotification
	stop chan struct{}
}

// ProcessReaper is the production Reaper. For pids the caller forked
// itself (the local executor helper, or the `docker wait` stand-in
// process of the nested-in-Docker variant), the launcher calls Notify
// once its own Wait() returns, delivering the real exit status. For pids
// this process never forked — reattached on recover() — there is no
// Wait() to call, so Monitor falls back to signal-0 polling and reports
// an unknown (-1) status, since POSIX gives no other way to learn a
// foreign process's exit code after the fact.
type ProcessReaper struct {
	interval time.Duration

	mu      sync.Mutex
	pending map[int]*pending
	early   map[int]ExitNotification
}

// New returns a ProcessReaper polling every interval (a sensible default
// is used when interval <= 0).
func New(interval time.Duration) *ProcessReaper {
	if interval <= 0 {
		interval = time.Second
	}
	return &ProcessReaper{
		interval: interval,
		pending:  make(map[int]*pending),
		early:    make(map[int]ExitNotification),
	}
}

func (r *ProcessReaper) Monitor(ctx context.Context, pid int) <-chan ExitNotification {
	ch := make(chan ExitNotification, 1)
	logger := log.WithComponent("reaper")

	r.mu.Lock()
	if n, ok := r.early[pid]; ok {
		delete(r.early, pid)
		r.mu.Unlock()
		ch <- n
		return ch
	}
	stop := make(chan struct{})
	r.pending[pid] = &pending{ch: ch, stop: stop}
	r.mu.Unlock()

	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				r.mu.Lock()
				_, stillPending := r.pending[pid]
				delete(r.pending, pid)
				r.mu.Unlock()
				if stillPending {
					close(ch)
				}
				return
			case <-stop:
				return
			case <-ticker.C:
				if !processAlive(pid) {
					logger.Debug().Int("pid", pid).Msg("reaped pid via poll, exit status unknown")
					r.fulfil(pid, ExitNotification{Pid: pid, Status: -1})
					return
				}
			}
		}
	}()

	return ch
}

// Notify delivers pid's real exit status, fulfilling a pending Monitor
// call or, if Monitor has not been called yet, recording it for the
// Monitor call that is about to race it.
func (r *ProcessReaper) Notify(pid, status int) {
	r.fulfil(pid, ExitNotification{Pid: pid, Status: status})
}

func (r *ProcessReaper) fulfil(pid int, n ExitNotification) {
	r.mu.Lock()
	p, ok := r.pending[pid]
	if ok {
		delete(r.pending, pid)
	} else {
		r.early[pid] = n
	}
	r.mu.Unlock()

	if ok {
		close(p.stop)
		p.ch <- n
	}
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}
