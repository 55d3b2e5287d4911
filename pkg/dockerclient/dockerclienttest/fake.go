// Package dockerclienttest provides a deterministic in-memory double of
// dockerclient.Client for exercising the lifecycle engine, resource
// updater and usage probe without a real Docker daemon.
package dockerclienttest

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cuemby/dockerizer/pkg/dockerclient"
)

// Fake is a programmable dockerclient.Client double.
type Fake struct {
	mu sync.Mutex

	PullErr error
	RunErr  error
	StopErr error
	RmErr   error
	PsErr   error
	WaitErr error

	Inspections map[string]dockerclient.Inspection
	InspectErr  error

	PsEntries []dockerclient.PsEntry

	// WaitExitCodes, keyed by container name, is returned by Wait; if
	// absent Wait blocks until the context is cancelled.
	WaitExitCodes map[string]int

	Pulled  []string
	Ran     []dockerclient.RunOptions
	Stopped []string
	Removed []string
}

// New returns an empty, all-succeeding Fake.
func New() *Fake {
	return &Fake{
		Inspections:   make(map[string]dockerclient.Inspection),
		WaitExitCodes: make(map[string]int),
	}
}

func (f *Fake) Pull(_ context.Context, image string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Pulled = append(f.Pulled, image)
	return f.PullErr
}

func (f *Fake) Run(_ context.Context, opts dockerclient.RunOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Ran = append(f.Ran, opts)
	return f.RunErr
}

func (f *Fake) Inspect(_ context.Context, name string) (dockerclient.Inspection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.InspectErr != nil {
		return dockerclient.Inspection{}, f.InspectErr
	}
	insp, ok := f.Inspections[name]
	if !ok {
		return dockerclient.Inspection{}, fmt.Errorf("no such container: %s", name)
	}
	return insp, nil
}

func (f *Fake) Stop(_ context.Context, name string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Stopped = append(f.Stopped, name)
	return f.StopErr
}

func (f *Fake) Rm(_ context.Context, name string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Removed = append(f.Removed, name)
	return f.RmErr
}

func (f *Fake) Ps(_ context.Context, _ string) ([]dockerclient.PsEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.PsEntries, f.PsErr
}

func (f *Fake) Logs(_ context.Context, _ string, _, _ io.Writer) error {
	return nil
}

func (f *Fake) Wait(ctx context.Context, name string) (int, error) {
	if f.WaitErr != nil {
		return 0, f.WaitErr
	}
	f.mu.Lock()
	code, ok := f.WaitExitCodes[name]
	f.mu.Unlock()
	if ok {
		return code, nil
	}
	<-ctx.Done()
	return 0, ctx.Err()
}

var _ dockerclient.Client = (*Fake)(nil)
