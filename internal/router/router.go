// Package router implements the per-session message router and the
// process-wide routing delegate. A router owns a verb/handler table with
// authorization policy and a multiplexed event-listener registry; the
// delegate demultiplexes transport messages to the router owning the
// sender's session.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgnsrekt/crx_host/internal/types"
)

// Verb names a remote operation. Verbs are typed constants contributed by
// consumer packages at startup; re-registration overwrites silently, so verb
// names must not be duplicated across subsystems.
type Verb string

// Host is the addressable transport endpoint a call or subscription comes
// from. Listener delivery and liveness checks are keyed on it.
type Host interface {
	ID() string
	Session() types.SessionID
	Live() bool
	// Send pushes an event frame to the host. Errors are delivery
	// diagnostics, never fatal to the fan-out.
	Send(event string, args []any) error
	// OnTerminate arms fn to run exactly once when the host's liveness
	// ends. Cleanup is synchronous with the termination signal.
	OnTerminate(fn func())
}

// Policy controls who may invoke a handler.
type Policy struct {
	// RequiresExtensionContext rejects calls that do not resolve to a
	// loaded extension in the router's session.
	RequiresExtensionContext bool
	// AllowsCrossSessionCall permits callers whose session differs from
	// the router's session (remote invokes).
	AllowsCrossSessionCall bool
}

// DefaultPolicy applies when a handler is registered without one.
var DefaultPolicy = Policy{RequiresExtensionContext: true, AllowsCrossSessionCall: false}

// Call carries the caller identity into a handler.
type Call struct {
	Caller    Host
	Extension *types.Extension // nil when the policy does not require one
}

// HandlerFunc executes a verb. Args arrive as raw JSON; the handler decodes
// its own typed argument struct. Failures are returned, never panicked
// across the dispatch boundary.
type HandlerFunc func(ctx context.Context, call Call, args json.RawMessage) (any, error)

// ExtensionSource resolves extension identities within one session.
type ExtensionSource interface {
	Lookup(id types.ExtensionID) (*types.Extension, bool)
}

type handler struct {
	fn     HandlerFunc
	policy Policy
}

type listener struct {
	host Host
	ext  types.ExtensionID
}

// EventTap observes every event the router sends, regardless of listener
// membership. Used by the admin event stream.
type EventTap func(event string, ext types.ExtensionID, args []any)

// Router routes invokes and events for one isolated session. All fields are
// guarded by mu; event fan-out happens over a snapshot taken under the lock
// so concurrent add/remove never reorders an in-flight delivery.
type Router struct {
	session    types.SessionID
	extensions ExtensionSource

	mu        sync.Mutex
	handlers  map[Verb]handler
	listeners map[string][]listener // event name → registration order
	armed     map[string]bool       // host ID → termination cleanup armed
	tap       EventTap
}

// New creates a router for the given session. extensions may be nil, in
// which case every extension lookup fails.
func New(session types.SessionID, extensions ExtensionSource) *Router {
	return &Router{
		session:    session,
		extensions: extensions,
		handlers:   make(map[Verb]handler),
		listeners:  make(map[string][]listener),
		armed:      make(map[string]bool),
	}
}

func (r *Router) SessionID() types.SessionID { return r.session }

// SetEventTap installs the broadcast observer. One tap per router.
func (r *Router) SetEventTap(tap EventTap) {
	r.mu.Lock()
	r.tap = tap
	r.mu.Unlock()
}

// RegisterHandler installs fn for verb. Idempotent; last registration wins.
func (r *Router) RegisterHandler(verb Verb, fn HandlerFunc, policy ...Policy) {
	p := DefaultPolicy
	if len(policy) > 0 {
		p = policy[0]
	}
	r.mu.Lock()
	if _, exists := r.handlers[verb]; exists {
		slog.Debug("handler re-registered", "session", r.session, "verb", verb)
	}
	r.handlers[verb] = handler{fn: fn, policy: p}
	r.mu.Unlock()
}

// Verbs returns the registered verb names, for the admin API.
func (r *Router) Verbs() []Verb {
	r.mu.Lock()
	defer r.mu.Unlock()
	verbs := make([]Verb, 0, len(r.handlers))
	for v := range r.handlers {
		verbs = append(verbs, v)
	}
	return verbs
}

// Dispatch invokes the handler registered for verb on behalf of caller.
// extID may be empty for trusted/remote invokes. Policy checks run before
// the handler; handler failures and panics are returned as errors, never
// propagated as crashes.
func (r *Router) Dispatch(ctx context.Context, caller Host, extID types.ExtensionID, verb Verb, args json.RawMessage) (result any, err error) {
	r.mu.Lock()
	h, ok := r.handlers[verb]
	r.mu.Unlock()
	if !ok {
		return nil, NewError(CodeUnknownVerb, fmt.Sprintf("no handler for verb %q", verb), nil)
	}

	if caller != nil && caller.Session() != r.session && !h.policy.AllowsCrossSessionCall {
		return nil, NewError(CodeCrossSessionNotAllowed,
			fmt.Sprintf("verb %q does not allow calls from session %q", verb, caller.Session()), nil)
	}

	call := Call{Caller: caller}
	if extID != "" && r.extensions != nil {
		if ext, found := r.extensions.Lookup(extID); found {
			call.Extension = ext
		}
	}
	if h.policy.RequiresExtensionContext && call.Extension == nil {
		return nil, NewError(CodeUnknownExtensionContext,
			fmt.Sprintf("verb %q requires a loaded extension, got %q", verb, extID), nil)
	}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("handler panic", "session", r.session, "verb", verb, "panic", rec)
			result = nil
			err = NewError(CodeHandlerFailure, fmt.Sprintf("handler for %q panicked: %v", verb, rec), nil)
		}
	}()
	return h.fn(ctx, call, args)
}

// AddListener subscribes (host, extID) to event. Registration is idempotent:
// duplicate (host, extension, event) triples collapse to one entry. Fails if
// the extension is not currently loaded in the session. The first
// registration for a host arms a one-shot cleanup bound to that host's
// termination.
func (r *Router) AddListener(host Host, extID types.ExtensionID, event string) error {
	if r.extensions == nil {
		return NewError(CodeUnknownExtension, fmt.Sprintf("extension %q is not loaded", extID), nil)
	}
	if _, ok := r.extensions.Lookup(extID); !ok {
		return NewError(CodeUnknownExtension, fmt.Sprintf("extension %q is not loaded", extID), nil)
	}

	r.mu.Lock()
	for _, l := range r.listeners[event] {
		if l.host.ID() == host.ID() && l.ext == extID {
			r.mu.Unlock()
			return nil
		}
	}
	r.listeners[event] = append(r.listeners[event], listener{host: host, ext: extID})
	arm := !r.armed[host.ID()]
	if arm {
		r.armed[host.ID()] = true
	}
	r.mu.Unlock()

	if arm {
		host.OnTerminate(func() { r.RemoveHost(host.ID()) })
	}
	return nil
}

// RemoveListener drops the matching entry. Absence is reported, not fatal.
func (r *Router) RemoveListener(host Host, extID types.ExtensionID, event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.listeners[event]
	for i, l := range entries {
		if l.host.ID() == host.ID() && l.ext == extID {
			r.listeners[event] = append(entries[:i:i], entries[i+1:]...)
			if len(r.listeners[event]) == 0 {
				delete(r.listeners, event)
			}
			return
		}
	}
	slog.Debug("remove-listener miss", "session", r.session, "event", event, "extension", extID, "host", host.ID())
}

// RemoveHost sweeps every listener entry referencing hostID across all
// events. Runs once per host, synchronously with its termination signal.
func (r *Router) RemoveHost(hostID string) {
	r.mu.Lock()
	removed := 0
	for event, entries := range r.listeners {
		kept := entries[:0]
		for _, l := range entries {
			if l.host.ID() == hostID {
				removed++
				continue
			}
			kept = append(kept, l)
		}
		if len(kept) == 0 {
			delete(r.listeners, event)
		} else {
			r.listeners[event] = kept
		}
	}
	delete(r.armed, hostID)
	r.mu.Unlock()
	if removed > 0 {
		slog.Debug("host listeners removed", "session", r.session, "host", hostID, "count", removed)
	}
}

// RemoveExtension sweeps every listener entry for extID across all events.
// Called when an extension unloads.
func (r *Router) RemoveExtension(extID types.ExtensionID) {
	r.mu.Lock()
	removed := 0
	for event, entries := range r.listeners {
		kept := entries[:0]
		for _, l := range entries {
			if l.ext == extID {
				removed++
				continue
			}
			kept = append(kept, l)
		}
		if len(kept) == 0 {
			delete(r.listeners, event)
		} else {
			r.listeners[event] = kept
		}
	}
	r.mu.Unlock()
	if removed > 0 {
		slog.Debug("extension listeners removed", "session", r.session, "extension", extID, "count", removed)
	}
}

// SendEvent delivers event to matching listeners in registration order. A
// non-empty extID filters delivery to that extension's listeners. Dead hosts
// are skipped with a diagnostic log; delivery errors never abort the
// remaining fan-out. Zero matches is a documented no-op.
func (r *Router) SendEvent(extID types.ExtensionID, event string, args ...any) {
	r.mu.Lock()
	entries := r.listeners[event]
	snapshot := make([]listener, len(entries))
	copy(snapshot, entries)
	tap := r.tap
	r.mu.Unlock()

	if tap != nil {
		tap(event, extID, args)
	}

	for _, l := range snapshot {
		if extID != "" && l.ext != extID {
			continue
		}
		if !l.host.Live() {
			slog.Debug("skipping dead listener host", "session", r.session, "event", event, "host", l.host.ID())
			continue
		}
		if err := l.host.Send(event, args); err != nil {
			slog.Debug("event delivery failed", "session", r.session, "event", event, "host", l.host.ID(), "error", err)
		}
	}
}

// BroadcastEvent delivers event to every listener regardless of extension.
func (r *Router) BroadcastEvent(event string, args ...any) {
	r.SendEvent("", event, args...)
}

// ListenerInfo is an observable view of one registry entry.
type ListenerInfo struct {
	Event       string            `json:"event"`
	HostID      string            `json:"host_id"`
	ExtensionID types.ExtensionID `json:"extension_id"`
}

// Listeners returns a snapshot of the registry, for the admin API and tests.
func (r *Router) Listeners() []ListenerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ListenerInfo
	for event, entries := range r.listeners {
		for _, l := range entries {
			out = append(out, ListenerInfo{Event: event, HostID: l.host.ID(), ExtensionID: l.ext})
		}
	}
	return out
}
