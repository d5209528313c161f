// Package store owns the authoritative sets of tracked windows and tabs for
// one isolated session: the tab→window and window→active-tab relations and
// the lookups the extension APIs are built on. Relations are plain id
// references with no ownership; the store indexes surfaces while they exist
// but does not keep them alive. Lifecycle changes flow to registered
// observers, never through implicit event names.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/dgnsrekt/crx_host/internal/router"
	"github.com/dgnsrekt/crx_host/internal/types"
)

// Tab is a content-surface handle supplied by the platform adapter.
type Tab interface {
	ID() types.TabID
	Live() bool
}

// Window is a native window handle supplied by the platform adapter.
type Window interface {
	ID() types.WindowID
	Live() bool
}

// Observer receives store lifecycle signals. Callbacks run outside the
// store's lock, after the mutation is visible.
type Observer interface {
	TabAdded(tab Tab)
	TabRemoved(id types.TabID)
	TabActivated(tab Tab, win Window)
	WindowAdded(win Window)
}

// Store tracks windows and tabs for one session.
type Store struct {
	session types.SessionID
	adapter Adapter

	mu          sync.Mutex
	tabs        map[types.TabID]Tab
	windows     map[types.WindowID]Window
	tabWindow   map[types.TabID]types.WindowID
	activeTab   map[types.WindowID]types.TabID
	lastFocused types.WindowID
	observers   []Observer
}

// New creates a store for session. The adapter's functions are all
// optional; missing create functions make CreateTab/CreateWindow fail fast.
func New(session types.SessionID, adapter Adapter) *Store {
	return &Store{
		session:   session,
		adapter:   adapter,
		tabs:      make(map[types.TabID]Tab),
		windows:   make(map[types.WindowID]Window),
		tabWindow: make(map[types.TabID]types.WindowID),
		activeTab: make(map[types.WindowID]types.TabID),
	}
}

func (s *Store) SessionID() types.SessionID { return s.session }

// AddObserver registers o for lifecycle signals. Registration happens at
// session setup, before any mutation.
func (s *Store) AddObserver(o Observer) {
	s.mu.Lock()
	s.observers = append(s.observers, o)
	s.mu.Unlock()
}

func (s *Store) snapshotObservers() []Observer {
	obs := make([]Observer, len(s.observers))
	copy(obs, s.observers)
	return obs
}

// AddWindow starts tracking win. Idempotent by ID; the first window added
// becomes the last-focused default.
func (s *Store) AddWindow(win Window) {
	if win == nil || !win.Live() {
		slog.Debug("add-window on dead target", "session", s.session)
		return
	}
	s.mu.Lock()
	if _, ok := s.windows[win.ID()]; ok {
		s.mu.Unlock()
		return
	}
	s.windows[win.ID()] = win
	if len(s.windows) == 1 {
		s.lastFocused = win.ID()
	}
	obs := s.snapshotObservers()
	s.mu.Unlock()

	slog.Debug("window tracked", "session", s.session, "window", win.ID())
	for _, o := range obs {
		o.WindowAdded(win)
	}
}

// RemoveWindow stops tracking win and delegates resource teardown to the
// adapter if one is configured. Idempotent; emits no lifecycle signal. The
// API layer confirms removal through the returned error and emits its own
// event. The store performs no cross-entity cascade: tabs still referencing
// the window are the caller's responsibility.
func (s *Store) RemoveWindow(ctx context.Context, id types.WindowID) error {
	s.mu.Lock()
	win, ok := s.windows[id]
	if ok {
		s.untrackWindowLocked(id)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}

	if s.adapter.RemoveWindow != nil {
		if err := s.adapter.RemoveWindow(ctx, win); err != nil {
			return fmt.Errorf("remove window %d: %w", id, err)
		}
	}
	slog.Debug("window removed", "session", s.session, "window", id)
	return nil
}

// untrackWindowLocked drops the window from every relation. Caller holds mu.
func (s *Store) untrackWindowLocked(id types.WindowID) {
	delete(s.windows, id)
	delete(s.activeTab, id)
	if s.lastFocused == id {
		s.lastFocused = 0
		// Any remaining window becomes the focus fallback; lowest ID for
		// deterministic behavior.
		ids := make([]types.WindowID, 0, len(s.windows))
		for wid := range s.windows {
			ids = append(ids, wid)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		if len(ids) > 0 {
			s.lastFocused = ids[0]
		}
	}
}

// AddTab starts tracking tab under win, implicitly tracking win if needed.
// Idempotent by tab ID. The first tab of a window becomes its active tab.
func (s *Store) AddTab(tab Tab, win Window) {
	if tab == nil || !tab.Live() || win == nil || !win.Live() {
		slog.Debug("add-tab on dead target", "session", s.session)
		return
	}
	s.AddWindow(win)

	s.mu.Lock()
	if _, ok := s.tabs[tab.ID()]; ok {
		s.mu.Unlock()
		return
	}
	s.tabs[tab.ID()] = tab
	s.tabWindow[tab.ID()] = win.ID()
	if _, ok := s.activeTab[win.ID()]; !ok {
		s.activeTab[win.ID()] = tab.ID()
	}
	obs := s.snapshotObservers()
	s.mu.Unlock()

	slog.Debug("tab tracked", "session", s.session, "tab", tab.ID(), "window", win.ID())
	for _, o := range obs {
		o.TabAdded(tab)
	}
}

// RemoveTab stops tracking the tab. Idempotent. When the removed tab was
// the active tab of a window that still has tracked tabs, the lowest
// remaining tab ID is promoted so the window never sits without an active
// tab. When the owning window has no tracked tabs left it is dropped from
// the tracked set, not destroyed; destruction policy belongs to the
// platform adapter's caller.
func (s *Store) RemoveTab(id types.TabID) {
	s.mu.Lock()
	_, ok := s.tabs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	winID, hadWindow := s.tabWindow[id]
	delete(s.tabs, id)
	delete(s.tabWindow, id)

	windowDropped := false
	var promotedTab Tab
	var promotedWin Window
	if hadWindow {
		remaining := s.tabIDsInWindowLocked(winID)
		if s.activeTab[winID] == id {
			delete(s.activeTab, winID)
			if len(remaining) > 0 {
				next := remaining[0]
				for _, tid := range remaining[1:] {
					if tid < next {
						next = tid
					}
				}
				s.activeTab[winID] = next
				promotedTab = s.tabs[next]
				promotedWin = s.windows[winID]
			}
		}
		if len(remaining) == 0 {
			if _, tracked := s.windows[winID]; tracked {
				s.untrackWindowLocked(winID)
				windowDropped = true
			}
		}
	}
	obs := s.snapshotObservers()
	s.mu.Unlock()

	slog.Debug("tab untracked", "session", s.session, "tab", id, "window_dropped", windowDropped)
	for _, o := range obs {
		o.TabRemoved(id)
	}
	if promotedTab != nil && promotedWin != nil {
		slog.Debug("active tab promoted", "session", s.session, "tab", promotedTab.ID(), "window", winID)
		for _, o := range obs {
			o.TabActivated(promotedTab, promotedWin)
		}
	}
}

// SetActiveTab makes the tab the active tab of its owning window. Fails if
// the tab has no owning window. Signals observers and invokes the adapter's
// select hook only when the active tab actually changed.
func (s *Store) SetActiveTab(ctx context.Context, id types.TabID) error {
	s.mu.Lock()
	tab, ok := s.tabs[id]
	if !ok {
		s.mu.Unlock()
		return router.NewError(router.CodeNoParentWindow, fmt.Sprintf("tab %d is not tracked", id), nil)
	}
	winID, ok := s.tabWindow[id]
	if !ok {
		s.mu.Unlock()
		return router.NewError(router.CodeNoParentWindow, fmt.Sprintf("tab %d has no owning window", id), nil)
	}
	win, ok := s.windows[winID]
	if !ok {
		s.mu.Unlock()
		return router.NewError(router.CodeNoParentWindow, fmt.Sprintf("window %d of tab %d is not tracked", winID, id), nil)
	}
	if s.activeTab[winID] == id {
		s.mu.Unlock()
		return nil
	}
	s.activeTab[winID] = id
	obs := s.snapshotObservers()
	s.mu.Unlock()

	if s.adapter.SelectTab != nil {
		if err := s.adapter.SelectTab(ctx, tab, win); err != nil {
			slog.Warn("select hook failed", "session", s.session, "tab", id, "error", err)
		}
	}
	for _, o := range obs {
		o.TabActivated(tab, win)
	}
	return nil
}

func (s *Store) tabIDsInWindowLocked(winID types.WindowID) []types.TabID {
	var ids []types.TabID
	for tid, wid := range s.tabWindow {
		if wid == winID {
			ids = append(ids, tid)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// TabByID looks up a tracked tab.
func (s *Store) TabByID(id types.TabID) (Tab, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tab, ok := s.tabs[id]
	return tab, ok
}

// WindowByID looks up a tracked window.
func (s *Store) WindowByID(id types.WindowID) (Window, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	win, ok := s.windows[id]
	return win, ok
}

// LastFocusedWindow returns the last-focused tracked window.
func (s *Store) LastFocusedWindow() (Window, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	win, ok := s.windows[s.lastFocused]
	return win, ok
}

// SetLastFocused records focus. No-op for untracked windows.
func (s *Store) SetLastFocused(id types.WindowID) {
	s.mu.Lock()
	if _, ok := s.windows[id]; ok {
		s.lastFocused = id
	}
	s.mu.Unlock()
}

// ActiveTab returns the active tab of the given window.
func (s *Store) ActiveTab(winID types.WindowID) (Tab, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tid, ok := s.activeTab[winID]
	if !ok {
		return nil, false
	}
	tab, ok := s.tabs[tid]
	return tab, ok
}

// ActiveTabOfCurrentWindow returns the active tab of the last-focused
// window.
func (s *Store) ActiveTabOfCurrentWindow() (Tab, bool) {
	s.mu.Lock()
	tid, ok := s.activeTab[s.lastFocused]
	tab := s.tabs[tid]
	s.mu.Unlock()
	if !ok || tab == nil {
		return nil, false
	}
	return tab, true
}

// TabIDs returns all tracked tab ids, sorted.
func (s *Store) TabIDs() []types.TabID {
	s.mu.Lock()
	ids := make([]types.TabID, 0, len(s.tabs))
	for id := range s.tabs {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// WindowIDs returns all tracked window ids, sorted.
func (s *Store) WindowIDs() []types.WindowID {
	s.mu.Lock()
	ids := make([]types.WindowID, 0, len(s.windows))
	for id := range s.windows {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// TabIDsInWindow derives the window's tab set by scanning the tab→window
// relation. O(tracked count) is fine at expected cardinalities.
func (s *Store) TabIDsInWindow(winID types.WindowID) []types.TabID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tabIDsInWindowLocked(winID)
}

// TabDetails builds a fresh observable snapshot for the tab: base fields
// from the store relations, platform fields via the adapter's assign hook.
func (s *Store) TabDetails(id types.TabID) (types.TabDetails, bool) {
	s.mu.Lock()
	tab, ok := s.tabs[id]
	if !ok {
		s.mu.Unlock()
		return types.TabDetails{}, false
	}
	winID := s.tabWindow[id]
	active := s.activeTab[winID] == id
	s.mu.Unlock()

	if !tab.Live() {
		slog.Debug("tab details on dead target", "session", s.session, "tab", id)
		return types.TabDetails{}, false
	}

	details := types.TabDetails{
		ID:              id,
		WindowID:        winID,
		Active:          active,
		Status:          "complete",
		AutoDiscardable: true,
	}
	if s.adapter.AssignTabDetails != nil {
		s.adapter.AssignTabDetails(&details, tab)
	}
	return details, true
}

// WindowDetails builds a fresh observable snapshot for the window.
func (s *Store) WindowDetails(id types.WindowID) (types.WindowDetails, bool) {
	s.mu.Lock()
	win, ok := s.windows[id]
	if !ok {
		s.mu.Unlock()
		return types.WindowDetails{}, false
	}
	focused := s.lastFocused == id
	tabIDs := s.tabIDsInWindowLocked(id)
	s.mu.Unlock()

	if !win.Live() {
		slog.Debug("window details on dead target", "session", s.session, "window", id)
		return types.WindowDetails{}, false
	}

	details := types.WindowDetails{
		ID:      id,
		Focused: focused,
		State:   "normal",
		Type:    "normal",
		TabIDs:  tabIDs,
	}
	if s.adapter.AssignWindowDetails != nil {
		s.adapter.AssignWindowDetails(&details, win)
	}
	return details, true
}

// CreateTab asks the platform adapter for a new content surface and tracks
// it. Fails fast when no adapter create function is configured; validates
// the adapter's return shape before trusting it.
func (s *Store) CreateTab(ctx context.Context, details CreateTabDetails) (Tab, error) {
	if s.adapter.CreateTab == nil {
		return nil, router.NewError(router.CodeNotImplemented, "no createTab adapter configured", nil)
	}
	tab, win, err := s.adapter.CreateTab(ctx, details)
	if err != nil {
		return nil, fmt.Errorf("adapter createTab: %w", err)
	}
	if tab == nil || !tab.Live() || win == nil || !win.Live() {
		return nil, router.NewError(router.CodeInvalidAdapterResult, "createTab adapter returned a dead or missing surface", nil)
	}
	s.AddTab(tab, win)
	return tab, nil
}

// CreateWindow asks the platform adapter for a new native window and tracks
// it, along with the initial tab when the adapter opened one.
func (s *Store) CreateWindow(ctx context.Context, details CreateWindowDetails) (Window, error) {
	if s.adapter.CreateWindow == nil {
		return nil, router.NewError(router.CodeNotImplemented, "no createWindow adapter configured", nil)
	}
	win, tab, err := s.adapter.CreateWindow(ctx, details)
	if err != nil {
		return nil, fmt.Errorf("adapter createWindow: %w", err)
	}
	if win == nil || !win.Live() {
		return nil, router.NewError(router.CodeInvalidAdapterResult, "createWindow adapter returned a dead or missing window", nil)
	}
	if tab != nil {
		if !tab.Live() {
			return nil, router.NewError(router.CodeInvalidAdapterResult, "createWindow adapter returned a dead initial tab", nil)
		}
		s.AddTab(tab, win)
	} else {
		s.AddWindow(win)
	}
	return win, nil
}

// DestroyTab asks the adapter to tear the surface down, then untracks it.
// Destruction without an adapter is just untracking.
func (s *Store) DestroyTab(ctx context.Context, id types.TabID) error {
	s.mu.Lock()
	tab, ok := s.tabs[id]
	winID := s.tabWindow[id]
	win := s.windows[winID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	if s.adapter.RemoveTab != nil && tab.Live() {
		if err := s.adapter.RemoveTab(ctx, tab, win); err != nil {
			return fmt.Errorf("adapter removeTab: %w", err)
		}
	}
	s.RemoveTab(id)
	return nil
}
