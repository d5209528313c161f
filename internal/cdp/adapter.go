// Package cdp implements the store's platform adapter against a running
// Chromium over the DevTools protocol. Tabs map to page targets. CDP has no
// window primitive, so windows are coordinator-level groupings: created and
// removed locally, live until removed.
package cdp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/dgnsrekt/crx_host/internal/store"
	"github.com/dgnsrekt/crx_host/internal/types"
)

// Adapter owns the CDP connection and the live tab/window surfaces.
type Adapter struct {
	cdpURL      string
	evalTimeout time.Duration

	allocCtx    context.Context
	allocCancel context.CancelFunc

	mu         sync.Mutex
	tabs       map[types.TabID]*tabSurface
	windows    map[types.WindowID]*windowSurface
	nextTabID  atomic.Int64
	nextWinID  atomic.Int64
	onTabEvent func(types.TabID)
}

type tabSurface struct {
	id       types.TabID
	targetID target.ID
	ctx      context.Context
	cancel   context.CancelFunc
	closed   atomic.Bool
}

func (t *tabSurface) ID() types.TabID { return t.id }
func (t *tabSurface) Live() bool      { return !t.closed.Load() }

type windowSurface struct {
	id     types.WindowID
	closed atomic.Bool
}

func (w *windowSurface) ID() types.WindowID { return w.id }
func (w *windowSurface) Live() bool         { return !w.closed.Load() }

// NewAdapter prepares an adapter for the browser at cdpURL.
func NewAdapter(cdpURL string, evalTimeout time.Duration) *Adapter {
	return &Adapter{
		cdpURL:      cdpURL,
		evalTimeout: evalTimeout,
		tabs:        make(map[types.TabID]*tabSurface),
		windows:     make(map[types.WindowID]*windowSurface),
	}
}

// Connect establishes the remote allocator and verifies the browser is
// reachable.
func (a *Adapter) Connect(_ context.Context) error {
	slog.Info("connecting to browser", "url", a.cdpURL)
	a.allocCtx, a.allocCancel = chromedp.NewRemoteAllocator(context.Background(), a.cdpURL)

	probeCtx, probeCancel := chromedp.NewContext(a.allocCtx)
	defer probeCancel()
	if err := chromedp.Run(probeCtx); err != nil {
		return fmt.Errorf("connect to browser: %w", err)
	}
	return nil
}

// Close cancels every tab context and drops the allocator.
func (a *Adapter) Close() {
	a.mu.Lock()
	for _, t := range a.tabs {
		t.closed.Store(true)
		t.cancel()
	}
	a.tabs = make(map[types.TabID]*tabSurface)
	a.mu.Unlock()
	if a.allocCancel != nil {
		a.allocCancel()
	}
}

// SetTabEventHook registers fn to run when a tab navigates. Used to trigger
// the diff-gated update path.
func (a *Adapter) SetTabEventHook(fn func(types.TabID)) {
	a.mu.Lock()
	a.onTabEvent = fn
	a.mu.Unlock()
}

// StoreAdapter exposes the platform hooks in the store's shape.
func (a *Adapter) StoreAdapter() store.Adapter {
	return store.Adapter{
		CreateTab:        a.createTab,
		RemoveTab:        a.removeTab,
		SelectTab:        a.selectTab,
		CreateWindow:     a.createWindow,
		RemoveWindow:     a.removeWindow,
		AssignTabDetails: a.assignTabDetails,
	}
}

func (a *Adapter) createTab(_ context.Context, details store.CreateTabDetails) (store.Tab, store.Window, error) {
	if a.allocCtx == nil {
		return nil, nil, fmt.Errorf("adapter not connected")
	}

	win := a.resolveWindow(details.WindowID)

	tabCtx, tabCancel := chromedp.NewContext(a.allocCtx)
	url := details.URL
	if url == "" {
		url = "about:blank"
	}
	runCtx, runCancel := context.WithTimeout(tabCtx, a.evalTimeout)
	defer runCancel()
	if err := chromedp.Run(runCtx, chromedp.Navigate(url)); err != nil {
		tabCancel()
		return nil, nil, fmt.Errorf("create tab: %w", err)
	}

	tgt := chromedp.FromContext(tabCtx).Target
	tab := &tabSurface{
		id:       types.TabID(a.nextTabID.Add(1)),
		targetID: tgt.TargetID,
		ctx:      tabCtx,
		cancel:   tabCancel,
	}
	a.mu.Lock()
	a.tabs[tab.id] = tab
	a.mu.Unlock()

	chromedp.ListenTarget(tabCtx, a.tabEventHandler(tab))
	slog.Info("tab created", "tab", tab.id, "target_id", tab.targetID, "url", url, "window", win.id)
	return tab, win, nil
}

// tabEventHandler flags navigation so the notifier can re-diff the tab, and
// tears the surface down when the target goes away.
func (a *Adapter) tabEventHandler(tab *tabSurface) func(ev any) {
	return func(ev any) {
		switch e := ev.(type) {
		case *page.EventFrameNavigated:
			if e.Frame.ParentID == "" {
				a.fireTabEvent(tab.id)
			}
		case *page.EventNavigatedWithinDocument:
			a.fireTabEvent(tab.id)
		case *target.EventTargetDestroyed:
			if e.TargetID == tab.targetID {
				tab.closed.Store(true)
				a.fireTabEvent(tab.id)
			}
		}
	}
}

func (a *Adapter) fireTabEvent(id types.TabID) {
	a.mu.Lock()
	fn := a.onTabEvent
	a.mu.Unlock()
	if fn != nil {
		fn(id)
	}
}

func (a *Adapter) removeTab(_ context.Context, tab store.Tab, _ store.Window) error {
	a.mu.Lock()
	t, ok := a.tabs[tab.ID()]
	delete(a.tabs, tab.ID())
	a.mu.Unlock()
	if !ok {
		return nil
	}
	t.closed.Store(true)
	t.cancel()
	slog.Info("tab removed", "tab", t.id, "target_id", t.targetID)
	return nil
}

func (a *Adapter) selectTab(_ context.Context, tab store.Tab, _ store.Window) error {
	a.mu.Lock()
	t, ok := a.tabs[tab.ID()]
	a.mu.Unlock()
	if !ok || !t.Live() {
		slog.Debug("select on dead tab", "tab", tab.ID())
		return nil
	}
	runCtx, cancel := context.WithTimeout(t.ctx, a.evalTimeout)
	defer cancel()
	if err := chromedp.Run(runCtx, page.BringToFront()); err != nil {
		return fmt.Errorf("bring to front: %w", err)
	}
	return nil
}

func (a *Adapter) resolveWindow(id types.WindowID) *windowSurface {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id != 0 {
		if win, ok := a.windows[id]; ok && win.Live() {
			return win
		}
	}
	// Fall back to any live window, else mint the default one.
	for _, win := range a.windows {
		if win.Live() {
			return win
		}
	}
	win := &windowSurface{id: types.WindowID(a.nextWinID.Add(1))}
	a.windows[win.id] = win
	return win
}

func (a *Adapter) createWindow(ctx context.Context, details store.CreateWindowDetails) (store.Window, store.Tab, error) {
	win := &windowSurface{id: types.WindowID(a.nextWinID.Add(1))}
	a.mu.Lock()
	a.windows[win.id] = win
	a.mu.Unlock()
	slog.Info("window created", "window", win.id)

	if details.URL != "" {
		tab, _, err := a.createTab(ctx, store.CreateTabDetails{URL: details.URL, WindowID: win.id})
		if err != nil {
			return nil, nil, err
		}
		return win, tab, nil
	}
	return win, nil, nil
}

func (a *Adapter) removeWindow(_ context.Context, win store.Window) error {
	a.mu.Lock()
	w, ok := a.windows[win.ID()]
	delete(a.windows, win.ID())
	a.mu.Unlock()
	if ok {
		w.closed.Store(true)
		slog.Info("window removed", "window", w.id)
	}
	return nil
}

// assignTabDetails fills platform fields into an outgoing snapshot. Dead
// targets keep the base details untouched.
func (a *Adapter) assignTabDetails(details *types.TabDetails, tab store.Tab) {
	a.mu.Lock()
	t, ok := a.tabs[tab.ID()]
	a.mu.Unlock()
	if !ok || !t.Live() {
		return
	}

	runCtx, cancel := context.WithTimeout(t.ctx, a.evalTimeout)
	defer cancel()
	var url, title string
	if err := chromedp.Run(runCtx, chromedp.Location(&url), chromedp.Title(&title)); err != nil {
		slog.Debug("tab details fetch failed", "tab", tab.ID(), "error", err)
		return
	}
	details.URL = url
	details.Title = title
	details.Status = "complete"
}
