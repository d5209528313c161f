package extapi

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/dgnsrekt/crx_host/internal/changes"
	"github.com/dgnsrekt/crx_host/internal/extregistry"
	"github.com/dgnsrekt/crx_host/internal/router"
	"github.com/dgnsrekt/crx_host/internal/store"
	"github.com/dgnsrekt/crx_host/internal/types"
)

type fakeTab struct {
	id   types.TabID
	dead bool
}

func (t *fakeTab) ID() types.TabID { return t.id }
func (t *fakeTab) Live() bool      { return !t.dead }

type fakeWindow struct{ id types.WindowID }

func (w *fakeWindow) ID() types.WindowID { return w.id }
func (w *fakeWindow) Live() bool         { return true }

// env is a fully wired single-session fixture: registry, router, store,
// notifier, and the tab/windows surfaces registered.
type env struct {
	registry *extregistry.Registry
	router   *router.Router
	store    *store.Store
	notifier *changes.Notifier

	urls map[types.TabID]string
}

func newEnv(t *testing.T, adapter store.Adapter) *env {
	t.Helper()
	e := &env{urls: make(map[types.TabID]string)}
	if adapter.AssignTabDetails == nil {
		adapter.AssignTabDetails = func(d *types.TabDetails, tab store.Tab) {
			d.URL = e.urls[tab.ID()]
		}
	}
	e.registry = extregistry.New()
	e.registry.Add(types.Extension{ID: "ext-a"})
	e.router = router.New("persist:default", e.registry)
	e.registry.OnUnload(e.router.RemoveExtension)
	e.store = store.New("persist:default", adapter)
	e.notifier = changes.NewNotifier(e.store, e.router)
	e.store.AddObserver(e.notifier)
	RegisterTabs(e.router, e.store, e.notifier)
	RegisterWindows(e.router, e.store, e.notifier)
	return e
}

func (e *env) dispatch(t *testing.T, verb router.Verb, args string) (any, error) {
	t.Helper()
	var raw json.RawMessage
	if args != "" {
		raw = json.RawMessage(args)
	}
	return e.router.Dispatch(context.Background(), nil, "ext-a", verb, raw)
}

func (e *env) addTab(id types.TabID, winID types.WindowID, url string) {
	e.urls[id] = url
	e.store.AddTab(&fakeTab{id: id}, &fakeWindow{id: winID})
}

func TestTabsQueryFilters(t *testing.T) {
	e := newEnv(t, store.Adapter{})
	e.addTab(10, 1, "https://example.com/a")
	e.addTab(11, 1, "https://example.com/b")
	e.addTab(20, 2, "https://other.net/")

	t.Run("no filter returns all", func(t *testing.T) {
		result, err := e.dispatch(t, VerbTabsQuery, "")
		if err != nil {
			t.Fatalf("dispatch error = %v", err)
		}
		if got := len(result.([]types.TabDetails)); got != 3 {
			t.Fatalf("tabs = %d; want 3", got)
		}
	})

	t.Run("url glob", func(t *testing.T) {
		result, err := e.dispatch(t, VerbTabsQuery, `{"url":"https://example.com/*"}`)
		if err != nil {
			t.Fatalf("dispatch error = %v", err)
		}
		tabs := result.([]types.TabDetails)
		if len(tabs) != 2 {
			t.Fatalf("tabs = %v; want the two example.com tabs", tabs)
		}
	})

	t.Run("bad glob rejected", func(t *testing.T) {
		_, err := e.dispatch(t, VerbTabsQuery, `{"url":"https://[unterminated"}`)
		if got, want := router.ErrorCode(err), router.CodeValidation; got != want {
			t.Fatalf("code = %q; want %q", got, want)
		}
	})

	t.Run("active filter", func(t *testing.T) {
		result, err := e.dispatch(t, VerbTabsQuery, `{"active":true}`)
		if err != nil {
			t.Fatalf("dispatch error = %v", err)
		}
		tabs := result.([]types.TabDetails)
		// First tab per window is active: 10 and 20.
		if len(tabs) != 2 {
			t.Fatalf("active tabs = %v; want 2", tabs)
		}
	})

	t.Run("windowId filter", func(t *testing.T) {
		result, err := e.dispatch(t, VerbTabsQuery, `{"windowId":2}`)
		if err != nil {
			t.Fatalf("dispatch error = %v", err)
		}
		tabs := result.([]types.TabDetails)
		if len(tabs) != 1 || tabs[0].ID != 20 {
			t.Fatalf("tabs = %v; want [20]", tabs)
		}
	})

	t.Run("currentWindow filter", func(t *testing.T) {
		e.store.SetLastFocused(2)
		result, err := e.dispatch(t, VerbTabsQuery, `{"currentWindow":true}`)
		if err != nil {
			t.Fatalf("dispatch error = %v", err)
		}
		tabs := result.([]types.TabDetails)
		if len(tabs) != 1 || tabs[0].WindowID != 2 {
			t.Fatalf("tabs = %v; want window 2 only", tabs)
		}
	})
}

func TestTabsGetUnknownIsNull(t *testing.T) {
	e := newEnv(t, store.Adapter{})
	result, err := e.dispatch(t, VerbTabsGet, `{"tabId":404}`)
	if err != nil {
		t.Fatalf("dispatch error = %v", err)
	}
	if result != nil {
		t.Fatalf("result = %v; want nil", result)
	}
}

func TestTabsGetCurrent(t *testing.T) {
	e := newEnv(t, store.Adapter{})
	e.addTab(10, 1, "https://a/")
	e.addTab(20, 2, "https://b/")
	e.store.SetLastFocused(2)

	result, err := e.dispatch(t, VerbTabsGetCurrent, "")
	if err != nil {
		t.Fatalf("dispatch error = %v", err)
	}
	details := result.(types.TabDetails)
	if details.ID != 20 {
		t.Fatalf("current tab = %d; want 20", details.ID)
	}
}

func TestTabsCreateWithoutAdapter(t *testing.T) {
	e := newEnv(t, store.Adapter{})
	_, err := e.dispatch(t, VerbTabsCreate, `{"url":"https://a/"}`)
	if got, want := router.ErrorCode(err), router.CodeNotImplemented; got != want {
		t.Fatalf("code = %q; want %q", got, want)
	}
}

func TestTabsCreateTracksAndReturnsDetails(t *testing.T) {
	e := newEnv(t, store.Adapter{
		CreateTab: func(_ context.Context, d store.CreateTabDetails) (store.Tab, store.Window, error) {
			return &fakeTab{id: 10}, &fakeWindow{id: 1}, nil
		},
	})
	e.urls[10] = "https://a/"

	result, err := e.dispatch(t, VerbTabsCreate, `{"url":"https://a/"}`)
	if err != nil {
		t.Fatalf("dispatch error = %v", err)
	}
	details := result.(types.TabDetails)
	if details.ID != 10 || details.WindowID != 1 {
		t.Fatalf("details = %+v", details)
	}
}

func TestTabsUpdateActivates(t *testing.T) {
	e := newEnv(t, store.Adapter{})
	e.addTab(10, 1, "https://a/")
	e.addTab(11, 1, "https://b/")

	if _, err := e.dispatch(t, VerbTabsUpdate, `{"tabId":11,"active":true}`); err != nil {
		t.Fatalf("dispatch error = %v", err)
	}
	active, ok := e.store.ActiveTab(1)
	if !ok || active.ID() != 11 {
		t.Fatalf("active = %v, %v; want 11", active, ok)
	}

	_, err := e.dispatch(t, VerbTabsUpdate, `{"tabId":404,"active":true}`)
	if got, want := router.ErrorCode(err), router.CodeNoParentWindow; got != want {
		t.Fatalf("code = %q; want %q", got, want)
	}
}

func TestTabsRemoveDestroys(t *testing.T) {
	removed := 0
	e := newEnv(t, store.Adapter{
		RemoveTab: func(context.Context, store.Tab, store.Window) error {
			removed++
			return nil
		},
	})
	e.addTab(10, 1, "https://a/")

	if _, err := e.dispatch(t, VerbTabsRemove, `{"tabId":10}`); err != nil {
		t.Fatalf("dispatch error = %v", err)
	}
	if removed != 1 {
		t.Fatalf("adapter removals = %d; want 1", removed)
	}
	if _, ok := e.store.TabByID(10); ok {
		t.Fatal("removed tab still tracked")
	}
}

func TestWindowsSurface(t *testing.T) {
	e := newEnv(t, store.Adapter{})
	e.addTab(10, 1, "https://a/")
	e.addTab(20, 2, "https://b/")

	result, err := e.dispatch(t, VerbWindowsGetAll, "")
	if err != nil {
		t.Fatalf("dispatch error = %v", err)
	}
	if got := len(result.([]types.WindowDetails)); got != 2 {
		t.Fatalf("windows = %d; want 2", got)
	}

	result, err = e.dispatch(t, VerbWindowsGetLastFocused, "")
	if err != nil {
		t.Fatalf("dispatch error = %v", err)
	}
	if got := result.(types.WindowDetails).ID; got != 1 {
		t.Fatalf("last focused = %d; want 1", got)
	}

	if _, err := e.dispatch(t, VerbWindowsRemove, `{"windowId":2}`); err != nil {
		t.Fatalf("dispatch error = %v", err)
	}
	if got := len(e.store.WindowIDs()); got != 1 {
		t.Fatalf("windows = %d; want 1", got)
	}
}
