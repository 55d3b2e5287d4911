// Package fetchertest provides a deterministic fetcher.Fetcher double.
package fetchertest

import (
	"context"
	"sync"

	"github.com/cuemby/dockerizer/pkg/fetcher"
	"github.com/cuemby/dockerizer/pkg/types"
)

// Fake is a programmable fetcher.Fetcher double.
type Fake struct {
	mu sync.Mutex

	Err error

	// Block, when non-nil, makes Fetch wait on it (or a Kill for the
	// same id, or ctx cancellation) before returning — lets a test
	// simulate a destroy racing an in-flight fetch.
	Block chan struct{}

	Fetched    []types.ContainerID
	Killed     []types.ContainerID
	didUnblock bool
}

func New() *Fake {
	return &Fake{}
}

func (f *Fake) Fetch(ctx context.Context, id types.ContainerID, _ []string, _ string) error {
	f.mu.Lock()
	f.Fetched = append(f.Fetched, id)
	block := f.Block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return f.Err
}

func (f *Fake) Kill(id types.ContainerID) {
	f.mu.Lock()
	f.Killed = append(f.Killed, id)
	block := f.Block
	unblock := !f.didUnblock
	f.didUnblock = true
	f.mu.Unlock()
	if block != nil && unblock {
		close(block)
	}
}

var _ fetcher.Fetcher = (*Fake)(nil)
