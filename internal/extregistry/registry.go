// Package extregistry tracks which extensions are loaded in a session. The
// coordinator treats extensions as opaque identities; manifest parsing and
// packaging live elsewhere.
package extregistry

import (
	"sort"
	"sync"

	"github.com/dgnsrekt/crx_host/internal/types"
)

// Registry is the per-session set of loaded extensions. Implements the
// router's ExtensionSource.
type Registry struct {
	mu       sync.Mutex
	exts     map[types.ExtensionID]*types.Extension
	onUnload []func(types.ExtensionID)
}

func New() *Registry {
	return &Registry{exts: make(map[types.ExtensionID]*types.Extension)}
}

// OnUnload registers fn to run whenever an extension is removed. The router
// hooks this to sweep that extension's listeners.
func (r *Registry) OnUnload(fn func(types.ExtensionID)) {
	r.mu.Lock()
	r.onUnload = append(r.onUnload, fn)
	r.mu.Unlock()
}

// Add loads (or reloads) an extension. Idempotent by ID.
func (r *Registry) Add(ext types.Extension) {
	r.mu.Lock()
	e := ext
	r.exts[ext.ID] = &e
	r.mu.Unlock()
}

// Remove unloads an extension and fires the unload hooks. No-op for an
// unknown ID.
func (r *Registry) Remove(id types.ExtensionID) {
	r.mu.Lock()
	_, ok := r.exts[id]
	delete(r.exts, id)
	hooks := make([]func(types.ExtensionID), len(r.onUnload))
	copy(hooks, r.onUnload)
	r.mu.Unlock()
	if !ok {
		return
	}
	for _, fn := range hooks {
		fn(id)
	}
}

// Lookup resolves an extension identity.
func (r *Registry) Lookup(id types.ExtensionID) (*types.Extension, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ext, ok := r.exts[id]
	return ext, ok
}

// List returns loaded extensions sorted by ID.
func (r *Registry) List() []types.Extension {
	r.mu.Lock()
	out := make([]types.Extension, 0, len(r.exts))
	for _, e := range r.exts {
		out = append(out, *e)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
