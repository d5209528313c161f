// Package changes turns store mutations into extension events. Tab and
// window detail changes are diff-gated: a fresh snapshot is compared
// field-by-field against the last broadcast one and an event goes out only
// when a watched field differs, carrying the changed-field delta plus the
// full new snapshot. Burst-prone aggregate state uses the Coalescer instead.
package changes

import (
	"sync"

	"github.com/dgnsrekt/crx_host/internal/store"
	"github.com/dgnsrekt/crx_host/internal/types"
)

// Event names pushed through the router's listener registry.
const (
	EventTabCreated   = "tabs.onCreated"
	EventTabRemoved   = "tabs.onRemoved"
	EventTabActivated = "tabs.onActivated"
	EventTabUpdated   = "tabs.onUpdated"

	EventWindowCreated = "windows.onCreated"
	EventWindowRemoved = "windows.onRemoved"
	EventWindowUpdated = "windows.onUpdated"
)

// Broadcaster is the slice of the router the notifier needs.
type Broadcaster interface {
	BroadcastEvent(event string, args ...any)
}

// Notifier implements store.Observer and owns the detail-snapshot caches
// used for diffing. One notifier per session, attached at session setup.
type Notifier struct {
	store *store.Store
	bc    Broadcaster

	mu       sync.Mutex
	tabSnaps map[types.TabID]types.TabDetails
	winSnaps map[types.WindowID]types.WindowDetails
}

func NewNotifier(st *store.Store, bc Broadcaster) *Notifier {
	return &Notifier{
		store:    st,
		bc:       bc,
		tabSnaps: make(map[types.TabID]types.TabDetails),
		winSnaps: make(map[types.WindowID]types.WindowDetails),
	}
}

// TabAdded primes the snapshot cache and announces the tab.
func (n *Notifier) TabAdded(tab store.Tab) {
	details, ok := n.store.TabDetails(tab.ID())
	if !ok {
		return
	}
	n.mu.Lock()
	n.tabSnaps[tab.ID()] = details
	n.mu.Unlock()
	n.bc.BroadcastEvent(EventTabCreated, details)
}

// TabRemoved drops the cache entry and announces the removal.
func (n *Notifier) TabRemoved(id types.TabID) {
	n.mu.Lock()
	delete(n.tabSnaps, id)
	n.mu.Unlock()
	n.bc.BroadcastEvent(EventTabRemoved, id)
}

// TabActivated announces the activation. Active-flag changes are not part
// of the watched diff set; this event is the only activation signal.
func (n *Notifier) TabActivated(tab store.Tab, win store.Window) {
	n.bc.BroadcastEvent(EventTabActivated, map[string]any{
		"tabId":    tab.ID(),
		"windowId": win.ID(),
	})
}

// WindowAdded primes the window cache and announces the window.
func (n *Notifier) WindowAdded(win store.Window) {
	details, ok := n.store.WindowDetails(win.ID())
	if !ok {
		return
	}
	n.mu.Lock()
	n.winSnaps[win.ID()] = details
	n.mu.Unlock()
	n.bc.BroadcastEvent(EventWindowCreated, details)
}

// WindowRemoved clears the window cache and announces the removal. Called
// by the API layer after the store confirms removal; the store itself emits
// nothing for window removal.
func (n *Notifier) WindowRemoved(id types.WindowID) {
	n.mu.Lock()
	delete(n.winSnaps, id)
	n.mu.Unlock()
	n.bc.BroadcastEvent(EventWindowRemoved, id)
}

// TabUpdated is the mutation-triggering signal for tab details. Recomputes
// the snapshot, diffs the watched fields against the cached one, and
// broadcasts only when something changed. The no-diff case is silent.
func (n *Notifier) TabUpdated(id types.TabID) {
	fresh, ok := n.store.TabDetails(id)
	if !ok {
		return
	}

	n.mu.Lock()
	prev, had := n.tabSnaps[id]
	n.tabSnaps[id] = fresh
	n.mu.Unlock()
	if !had {
		// First read establishes the baseline without emitting.
		return
	}

	delta := diffTabDetails(prev, fresh)
	if len(delta) == 0 {
		return
	}
	n.bc.BroadcastEvent(EventTabUpdated, id, delta, fresh)
}

// WindowUpdated mirrors TabUpdated for window snapshots.
func (n *Notifier) WindowUpdated(id types.WindowID) {
	fresh, ok := n.store.WindowDetails(id)
	if !ok {
		return
	}

	n.mu.Lock()
	prev, had := n.winSnaps[id]
	n.winSnaps[id] = fresh
	n.mu.Unlock()
	if !had {
		return
	}

	delta := diffWindowDetails(prev, fresh)
	if len(delta) == 0 {
		return
	}
	n.bc.BroadcastEvent(EventWindowUpdated, id, delta, fresh)
}

// diffTabDetails compares the fixed watched-field set. The mute comparison
// is on the nested muted flag, not container identity.
func diffTabDetails(prev, fresh types.TabDetails) map[string]any {
	delta := make(map[string]any)
	if prev.Status != fresh.Status {
		delta["status"] = fresh.Status
	}
	if prev.URL != fresh.URL {
		delta["url"] = fresh.URL
	}
	if prev.Title != fresh.Title {
		delta["title"] = fresh.Title
	}
	if prev.FavIconURL != fresh.FavIconURL {
		delta["favIconUrl"] = fresh.FavIconURL
	}
	if prev.Pinned != fresh.Pinned {
		delta["pinned"] = fresh.Pinned
	}
	if prev.Audible != fresh.Audible {
		delta["audible"] = fresh.Audible
	}
	if prev.Discarded != fresh.Discarded {
		delta["discarded"] = fresh.Discarded
	}
	if prev.AutoDiscardable != fresh.AutoDiscardable {
		delta["autoDiscardable"] = fresh.AutoDiscardable
	}
	if prev.MutedInfo.Muted != fresh.MutedInfo.Muted {
		delta["mutedInfo"] = fresh.MutedInfo
	}
	return delta
}

func diffWindowDetails(prev, fresh types.WindowDetails) map[string]any {
	delta := make(map[string]any)
	if prev.State != fresh.State {
		delta["state"] = fresh.State
	}
	if prev.Focused != fresh.Focused {
		delta["focused"] = fresh.Focused
	}
	return delta
}
