// Package reapertest provides a deterministic reaper.Reaper double whose
// tests can fire an exit notification for a specific pid on demand.
package reapertest

import (
	"context"
	"sync"

	"github.com/cuemby/dockerizer/pkg/reaper"
)

// Fake is a programmable reaper.Reaper double. Call Notify to simulate
// the monitored pid exiting.
type Fake struct {
	mu       sync.Mutex
	channels map[int]chan reaper.ExitNotification
}

func New() *Fake {
	return &Fake{channels: make(map[int]chan reaper.ExitNotification)}
}

func (f *Fake) Monitor(_ context.Context, pid int) <-chan reaper.ExitNotification {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[pid]
	if !ok {
		ch = make(chan reaper.ExitNotification, 1)
		f.channels[pid] = ch
	}
	return ch
}

// Notify delivers an exit notification for pid, arming Monitor's channel
// first if nothing has called Monitor(pid) yet.
func (f *Fake) Notify(pid int, status int) {
	f.mu.Lock()
	ch, ok := f.channels[pid]
	if !ok {
		ch = make(chan reaper.ExitNotification, 1)
		f.channels[pid] = ch
	}
	f.mu.Unlock()
	ch <- reaper.ExitNotification{Pid: pid, Status: status}
}

var _ reaper.Reaper = (*Fake)(nil)
