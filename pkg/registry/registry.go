// Package registry holds the in-memory map from ContainerID to Container.
// It never writes a Container's State field; the lifecycle engine does, from
// its serial execution context, and callers outside it must not.
package registry

import (
	"github.com/cuemby/dockerizer/pkg/types"
)

// Registry is not safe for concurrent mutation from multiple goroutines —
// by design it is only ever touched from the lifecycle engine's single
// command-loop goroutine (see pkg/containerizer). Snapshot returns a
// point-in-time copy of the entries; its caller, the engine's periodic
// metrics reconciliation, also runs on that goroutine.
type Registry struct {
	containers map[types.ContainerID]*types.Container
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{containers: make(map[types.ContainerID]*types.Container)}
}

// Insert adds c under its own ID. It does not check for an existing entry;
// callers (the engine) are expected to have already rejected duplicates.
func (r *Registry) Insert(c *types.Container) {
	r.containers[c.ID] = c
}

// Lookup returns the container for id, or nil, ok=false if absent.
func (r *Registry) Lookup(id types.ContainerID) (*types.Container, bool) {
	c, ok := r.containers[id]
	return c, ok
}

// Contains reports whether id is currently registered.
func (r *Registry) Contains(id types.ContainerID) bool {
	_, ok := r.containers[id]
	return ok
}

// Remove deletes id from the registry. It is a no-op if id is absent.
func (r *Registry) Remove(id types.ContainerID) {
	delete(r.containers, id)
}

// Keys returns a snapshot slice of all currently registered IDs.
func (r *Registry) Keys() []types.ContainerID {
	ids := make([]types.ContainerID, 0, len(r.containers))
	for id := range r.containers {
		ids = append(ids, id)
	}
	return ids
}

// Snapshot returns a shallow copy of the id-to-Container map, for a caller
// (e.g. a periodic metrics collector) that needs a point-in-time view
// without holding a reference into the registry's own backing map. The
// Container pointers themselves are still only safe to read from the
// engine's command-loop goroutine; Snapshot copies the map, not the
// containers it points to.
func (r *Registry) Snapshot() map[types.ContainerID]*types.Container {
	out := make(map[types.ContainerID]*types.Container, len(r.containers))
	for id, c := range r.containers {
		out[id] = c
	}
	return out
}

// Len returns the number of registered containers.
func (r *Registry) Len() int {
	return len(r.containers)
}
