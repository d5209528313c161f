package router

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/dgnsrekt/crx_host/internal/types"
)

type sentEvent struct {
	event string
	args  []any
}

type fakeHost struct {
	id      string
	session types.SessionID

	mu   sync.Mutex
	dead bool
	sent []sentEvent
	term []func()
}

func newFakeHost(id string, session types.SessionID) *fakeHost {
	return &fakeHost{id: id, session: session}
}

func (h *fakeHost) ID() string { return h.id }

func (h *fakeHost) Session() types.SessionID { return h.session }

func (h *fakeHost) Live() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.dead
}

func (h *fakeHost) Send(event string, args []any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, sentEvent{event: event, args: args})
	return nil
}

func (h *fakeHost) OnTerminate(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.term = append(h.term, fn)
}

func (h *fakeHost) terminate() {
	h.mu.Lock()
	h.dead = true
	fns := h.term
	h.term = nil
	h.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (h *fakeHost) events() []sentEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]sentEvent, len(h.sent))
	copy(out, h.sent)
	return out
}

type fakeExtensions map[types.ExtensionID]*types.Extension

func (f fakeExtensions) Lookup(id types.ExtensionID) (*types.Extension, bool) {
	ext, ok := f[id]
	return ext, ok
}

func loadedExtensions(ids ...types.ExtensionID) fakeExtensions {
	out := make(fakeExtensions, len(ids))
	for _, id := range ids {
		out[id] = &types.Extension{ID: id}
	}
	return out
}

func TestDispatchUnknownVerb(t *testing.T) {
	r := New("persist:default", loadedExtensions("ext-a"))
	caller := newFakeHost("h1", "persist:default")

	_, err := r.Dispatch(context.Background(), caller, "ext-a", "tabs.nope", nil)
	if got, want := ErrorCode(err), CodeUnknownVerb; got != want {
		t.Fatalf("code = %q; want %q", got, want)
	}
}

func TestDispatchCrossSessionPolicy(t *testing.T) {
	r := New("persist:default", loadedExtensions("ext-a"))
	r.RegisterHandler("tabs.query", func(context.Context, Call, json.RawMessage) (any, error) {
		return "ok", nil
	})
	r.RegisterHandler("system.ping", func(context.Context, Call, json.RawMessage) (any, error) {
		return "pong", nil
	}, Policy{AllowsCrossSessionCall: true})

	remote := newFakeHost("h-remote", "persist:other")

	t.Run("denied by default", func(t *testing.T) {
		_, err := r.Dispatch(context.Background(), remote, "ext-a", "tabs.query", nil)
		if got, want := ErrorCode(err), CodeCrossSessionNotAllowed; got != want {
			t.Fatalf("code = %q; want %q", got, want)
		}
	})

	t.Run("allowed when policy opts in", func(t *testing.T) {
		result, err := r.Dispatch(context.Background(), remote, "", "system.ping", nil)
		if err != nil {
			t.Fatalf("Dispatch() error = %v", err)
		}
		if got, want := result, "pong"; got != want {
			t.Fatalf("result = %v; want %v", got, want)
		}
	})
}

func TestDispatchRequiresExtensionContext(t *testing.T) {
	r := New("persist:default", loadedExtensions("ext-a"))
	r.RegisterHandler("tabs.query", func(_ context.Context, call Call, _ json.RawMessage) (any, error) {
		return call.Extension.ID, nil
	})
	caller := newFakeHost("h1", "persist:default")

	if _, err := r.Dispatch(context.Background(), caller, "ext-missing", "tabs.query", nil); ErrorCode(err) != CodeUnknownExtensionContext {
		t.Fatalf("code = %q; want %q", ErrorCode(err), CodeUnknownExtensionContext)
	}

	result, err := r.Dispatch(context.Background(), caller, "ext-a", "tabs.query", nil)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if got, want := result, types.ExtensionID("ext-a"); got != want {
		t.Fatalf("result = %v; want %v", got, want)
	}
}

func TestDispatchRecoversHandlerPanic(t *testing.T) {
	r := New("persist:default", loadedExtensions("ext-a"))
	r.RegisterHandler("tabs.boom", func(context.Context, Call, json.RawMessage) (any, error) {
		panic("kaboom")
	})
	caller := newFakeHost("h1", "persist:default")

	result, err := r.Dispatch(context.Background(), caller, "ext-a", "tabs.boom", nil)
	if result != nil {
		t.Fatalf("result = %v; want nil", result)
	}
	if got, want := ErrorCode(err), CodeHandlerFailure; got != want {
		t.Fatalf("code = %q; want %q", got, want)
	}
}

func TestAddListenerUnknownExtension(t *testing.T) {
	r := New("persist:default", loadedExtensions("ext-a"))
	host := newFakeHost("h1", "persist:default")

	err := r.AddListener(host, "ext-missing", "tabs.onCreated")
	if got, want := ErrorCode(err), CodeUnknownExtension; got != want {
		t.Fatalf("code = %q; want %q", got, want)
	}
	if got := len(r.Listeners()); got != 0 {
		t.Fatalf("listeners = %d; want 0", got)
	}
}

func TestAddListenerDedupes(t *testing.T) {
	r := New("persist:default", loadedExtensions("ext-a"))
	host := newFakeHost("h1", "persist:default")

	for i := 0; i < 3; i++ {
		if err := r.AddListener(host, "ext-a", "tabs.onCreated"); err != nil {
			t.Fatalf("AddListener() error = %v", err)
		}
	}
	if got := len(r.Listeners()); got != 1 {
		t.Fatalf("listeners = %d; want 1", got)
	}

	r.BroadcastEvent("tabs.onCreated", 7)
	if got := len(host.events()); got != 1 {
		t.Fatalf("deliveries = %d; want 1", got)
	}
}

func TestRemoveListenerKeepsOthers(t *testing.T) {
	r := New("persist:default", loadedExtensions("ext-a", "ext-b"))
	host := newFakeHost("h1", "persist:default")

	if err := r.AddListener(host, "ext-a", "tabs.onCreated"); err != nil {
		t.Fatalf("AddListener() error = %v", err)
	}
	if err := r.AddListener(host, "ext-b", "tabs.onCreated"); err != nil {
		t.Fatalf("AddListener() error = %v", err)
	}

	r.RemoveListener(host, "ext-a", "tabs.onCreated")

	remaining := r.Listeners()
	if got := len(remaining); got != 1 {
		t.Fatalf("listeners = %d; want 1", got)
	}
	if got, want := remaining[0].ExtensionID, types.ExtensionID("ext-b"); got != want {
		t.Fatalf("remaining extension = %q; want %q", got, want)
	}

	// Removing an absent entry is a logged no-op.
	r.RemoveListener(host, "ext-a", "tabs.onCreated")
}

func TestHostTerminationSweepsOnlyThatHost(t *testing.T) {
	r := New("persist:default", loadedExtensions("ext-a"))
	doomed := newFakeHost("h-doomed", "persist:default")
	survivor := newFakeHost("h-survivor", "persist:default")

	for _, event := range []string{"tabs.onCreated", "tabs.onRemoved", "windows.onCreated"} {
		if err := r.AddListener(doomed, "ext-a", event); err != nil {
			t.Fatalf("AddListener(%s) error = %v", event, err)
		}
	}
	if err := r.AddListener(survivor, "ext-a", "tabs.onCreated"); err != nil {
		t.Fatalf("AddListener() error = %v", err)
	}

	doomed.terminate()

	for _, info := range r.Listeners() {
		if info.HostID == "h-doomed" {
			t.Fatalf("entry for terminated host survived: %+v", info)
		}
	}
	if got := len(r.Listeners()); got != 1 {
		t.Fatalf("listeners = %d; want 1", got)
	}

	r.BroadcastEvent("tabs.onCreated")
	if got := len(survivor.events()); got != 1 {
		t.Fatalf("survivor deliveries = %d; want 1", got)
	}
}

func TestTerminationCleanupArmsOncePerHost(t *testing.T) {
	r := New("persist:default", loadedExtensions("ext-a", "ext-b"))
	host := newFakeHost("h1", "persist:default")

	if err := r.AddListener(host, "ext-a", "tabs.onCreated"); err != nil {
		t.Fatalf("AddListener() error = %v", err)
	}
	if err := r.AddListener(host, "ext-b", "tabs.onRemoved"); err != nil {
		t.Fatalf("AddListener() error = %v", err)
	}

	host.mu.Lock()
	armed := len(host.term)
	host.mu.Unlock()
	if armed != 1 {
		t.Fatalf("termination callbacks = %d; want 1", armed)
	}
}

func TestRemoveExtensionSweepsAllEvents(t *testing.T) {
	r := New("persist:default", loadedExtensions("ext-a", "ext-b"))
	host := newFakeHost("h1", "persist:default")

	if err := r.AddListener(host, "ext-a", "tabs.onCreated"); err != nil {
		t.Fatalf("AddListener() error = %v", err)
	}
	if err := r.AddListener(host, "ext-a", "tabs.onRemoved"); err != nil {
		t.Fatalf("AddListener() error = %v", err)
	}
	if err := r.AddListener(host, "ext-b", "tabs.onCreated"); err != nil {
		t.Fatalf("AddListener() error = %v", err)
	}

	r.RemoveExtension("ext-a")

	remaining := r.Listeners()
	if got := len(remaining); got != 1 {
		t.Fatalf("listeners = %d; want 1", got)
	}
	if got, want := remaining[0].ExtensionID, types.ExtensionID("ext-b"); got != want {
		t.Fatalf("remaining extension = %q; want %q", got, want)
	}
}

func TestSendEventExtensionFilter(t *testing.T) {
	r := New("persist:default", loadedExtensions("ext-a", "ext-b"))
	hostA := newFakeHost("h-a", "persist:default")
	hostB := newFakeHost("h-b", "persist:default")

	if err := r.AddListener(hostA, "ext-a", "browserAction.onUpdated"); err != nil {
		t.Fatalf("AddListener() error = %v", err)
	}
	if err := r.AddListener(hostB, "ext-b", "browserAction.onUpdated"); err != nil {
		t.Fatalf("AddListener() error = %v", err)
	}

	r.SendEvent("ext-a", "browserAction.onUpdated", "payload")

	if got := len(hostA.events()); got != 1 {
		t.Fatalf("ext-a deliveries = %d; want 1", got)
	}
	if got := len(hostB.events()); got != 0 {
		t.Fatalf("ext-b deliveries = %d; want 0", got)
	}

	r.BroadcastEvent("browserAction.onUpdated", "payload")
	if got := len(hostB.events()); got != 1 {
		t.Fatalf("ext-b deliveries after broadcast = %d; want 1", got)
	}
}

func TestSendEventSkipsDeadHosts(t *testing.T) {
	r := New("persist:default", loadedExtensions("ext-a"))
	live := newFakeHost("h-live", "persist:default")
	dead := newFakeHost("h-dead", "persist:default")

	if err := r.AddListener(live, "ext-a", "tabs.onUpdated"); err != nil {
		t.Fatalf("AddListener() error = %v", err)
	}
	if err := r.AddListener(dead, "ext-a", "tabs.onUpdated"); err != nil {
		t.Fatalf("AddListener() error = %v", err)
	}
	dead.mu.Lock()
	dead.dead = true
	dead.mu.Unlock()

	r.BroadcastEvent("tabs.onUpdated", 1)

	if got := len(live.events()); got != 1 {
		t.Fatalf("live deliveries = %d; want 1", got)
	}
	if got := len(dead.events()); got != 0 {
		t.Fatalf("dead deliveries = %d; want 0", got)
	}
}

type orderHost struct {
	*fakeHost
	order *[]string
}

func (h orderHost) Send(event string, args []any) error {
	*h.order = append(*h.order, h.id)
	return h.fakeHost.Send(event, args)
}

func TestSendEventRegistrationOrder(t *testing.T) {
	r := New("persist:default", loadedExtensions("ext-a"))

	var order []string
	for i := 0; i < 4; i++ {
		h := orderHost{fakeHost: newFakeHost(fmt.Sprintf("h-%d", i), "persist:default"), order: &order}
		if err := r.AddListener(h, "ext-a", "tabs.onCreated"); err != nil {
			t.Fatalf("AddListener() error = %v", err)
		}
	}

	r.BroadcastEvent("tabs.onCreated")

	want := []string{"h-0", "h-1", "h-2", "h-3"}
	if len(order) != len(want) {
		t.Fatalf("deliveries = %v; want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("deliveries = %v; want %v", order, want)
		}
	}
}

func TestEventTapSeesEveryBroadcast(t *testing.T) {
	r := New("persist:default", loadedExtensions("ext-a"))

	var tapped []string
	r.SetEventTap(func(event string, _ types.ExtensionID, _ []any) {
		tapped = append(tapped, event)
	})

	// No listeners registered; the tap still observes the event.
	r.BroadcastEvent("tabs.onCreated", 1)
	r.SendEvent("ext-a", "tabs.onRemoved", 1)

	if got, want := len(tapped), 2; got != want {
		t.Fatalf("tapped = %d; want %d", got, want)
	}
	if tapped[0] != "tabs.onCreated" || tapped[1] != "tabs.onRemoved" {
		t.Fatalf("tapped = %v", tapped)
	}
}
