package coordinator

import (
	"context"
	"testing"

	"github.com/dgnsrekt/crx_host/internal/router"
	"github.com/dgnsrekt/crx_host/internal/store"
	"github.com/dgnsrekt/crx_host/internal/types"
)

type fakeTab struct{ id types.TabID }

func (t fakeTab) ID() types.TabID { return t.id }
func (t fakeTab) Live() bool      { return true }

type fakeWindow struct{ id types.WindowID }

func (w fakeWindow) ID() types.WindowID { return w.id }
func (w fakeWindow) Live() bool         { return true }

func TestSessionWiring(t *testing.T) {
	c := New(Options{})

	r := c.Session("persist:default")
	if r == nil {
		t.Fatal("no router built")
	}

	// The extension API surfaces registered their verbs.
	verbs := make(map[router.Verb]bool)
	for _, v := range r.Verbs() {
		verbs[v] = true
	}
	for _, want := range []router.Verb{"tabs.query", "windows.getAll", "browserAction.setTitle", "notifications.create"} {
		if !verbs[want] {
			t.Fatalf("verb %q not registered; have %v", want, r.Verbs())
		}
	}

	// Same session, same wiring.
	if c.Session("persist:default") != r {
		t.Fatal("session rebuilt on second access")
	}

	if _, ok := c.SessionStore("persist:default"); !ok {
		t.Fatal("no store for built session")
	}
	if _, ok := c.SessionStore("persist:ghost"); ok {
		t.Fatal("store reported for unbuilt session")
	}
}

func TestInvokeThroughAdminSurface(t *testing.T) {
	c := New(Options{})
	c.Session("persist:default")

	reg, ok := c.SessionRegistry("persist:default")
	if !ok {
		t.Fatal("no registry")
	}
	reg.Add(types.Extension{ID: "ext-a"})

	st, _ := c.SessionStore("persist:default")
	st.AddTab(fakeTab{id: 10}, fakeWindow{id: 1})

	result, err := c.Invoke(context.Background(), "persist:default", "ext-a", "tabs.get", []byte(`{"tabId":10}`))
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	details, ok := result.(types.TabDetails)
	if !ok || details.ID != 10 {
		t.Fatalf("result = %v", result)
	}
}

func TestExtensionUnloadSweepsListeners(t *testing.T) {
	c := New(Options{})
	r := c.Session("persist:default")
	reg, _ := c.SessionRegistry("persist:default")
	reg.Add(types.Extension{ID: "ext-a"})

	host := &stubHost{id: "h1", session: "persist:default"}
	if err := r.AddListener(host, "ext-a", "tabs.onCreated"); err != nil {
		t.Fatalf("AddListener() error = %v", err)
	}

	reg.Remove("ext-a")
	if got := len(r.Listeners()); got != 0 {
		t.Fatalf("listeners after unload = %d; want 0", got)
	}
}

func TestNotifyTabUpdatedRoutesToOwningSession(t *testing.T) {
	urls := map[types.TabID]string{10: "https://a/"}
	c := New(Options{Adapter: store.Adapter{
		AssignTabDetails: func(d *types.TabDetails, tab store.Tab) {
			d.URL = urls[tab.ID()]
		},
	}})
	r := c.Session("persist:default")
	c.Session("persist:other")

	var updates int
	r.SetEventTap(func(event string, _ types.ExtensionID, _ []any) {
		if event == "tabs.onUpdated" {
			updates++
		}
	})

	st, _ := c.SessionStore("persist:default")
	st.AddTab(fakeTab{id: 10}, fakeWindow{id: 1})

	// Unchanged details stay silent.
	c.NotifyTabUpdated(10)
	if updates != 0 {
		t.Fatalf("updates = %d; want 0", updates)
	}

	urls[10] = "https://b/"
	c.NotifyTabUpdated(10)
	if updates != 1 {
		t.Fatalf("updates = %d; want 1", updates)
	}

	// Unknown ids are ignored everywhere.
	c.NotifyTabUpdated(999)
}

func TestRemoveSession(t *testing.T) {
	c := New(Options{})
	c.Session("persist:default")
	c.RemoveSession("persist:default")

	if got := len(c.Sessions()); got != 0 {
		t.Fatalf("sessions = %d; want 0", got)
	}
	if _, ok := c.SessionStore("persist:default"); ok {
		t.Fatal("store survived session removal")
	}
}

type stubHost struct {
	id      string
	session types.SessionID
}

func (h *stubHost) ID() string               { return h.id }
func (h *stubHost) Session() types.SessionID { return h.session }
func (h *stubHost) Live() bool               { return true }
func (h *stubHost) Send(string, []any) error { return nil }
func (h *stubHost) OnTerminate(func())       {}
