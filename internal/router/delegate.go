package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/dgnsrekt/crx_host/internal/types"
)

// Factory builds a fully wired router for a session the first time that
// session is seen: listener registry, handler registrations, event tap.
type Factory func(session types.SessionID) *Router

// Delegate is the process-wide demultiplexer. It owns the session→router
// mapping and forwards transport entry points to the owning router. Exactly
// one Delegate exists per process; it is constructed at startup and injected
// wherever routing is needed.
type Delegate struct {
	factory Factory

	mu      sync.Mutex
	routers map[types.SessionID]*Router
}

// NewDelegate creates the delegate. factory may be nil, in which case
// sessions must be registered explicitly via Router.
func NewDelegate(factory Factory) *Delegate {
	return &Delegate{
		factory: factory,
		routers: make(map[types.SessionID]*Router),
	}
}

// Router returns the router for session, creating it lazily through the
// factory. The router lives for the session's lifetime and never migrates.
func (d *Delegate) Router(session types.SessionID) *Router {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.routers[session]; ok {
		return r
	}
	var r *Router
	if d.factory != nil {
		r = d.factory(session)
	} else {
		r = New(session, nil)
	}
	d.routers[session] = r
	slog.Info("session router created", "session", session)
	return r
}

// lookup returns the router for session without creating one.
func (d *Delegate) lookup(session types.SessionID) *Router {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.routers[session]
}

// resolveTarget maps a remote-invoke session selector to a concrete
// session. The SelfSession sentinel (or an empty selector) targets the
// caller's own session.
func resolveTarget(caller Host, selector types.SessionID) types.SessionID {
	if selector == "" || selector == types.SelfSession {
		if caller != nil {
			return caller.Session()
		}
	}
	return selector
}

// callerSession is the session of caller, or the zero session for a nil
// caller, which never matches a registered router.
func callerSession(caller Host) types.SessionID {
	if caller == nil {
		return ""
	}
	return caller.Session()
}

// InvokeLocal dispatches verb on the caller's own session. If no router is
// registered the call resolves to a nil result rather than an error.
func (d *Delegate) InvokeLocal(ctx context.Context, caller Host, extID types.ExtensionID, verb Verb, args json.RawMessage) (any, error) {
	session := callerSession(caller)
	r := d.lookup(session)
	if r == nil {
		slog.Debug("invoke on unrouted session", "session", session, "verb", verb)
		return nil, nil
	}
	return r.Dispatch(ctx, caller, extID, verb, args)
}

// InvokeRemote dispatches verb on the session named by selector, with no
// extension identity attached.
func (d *Delegate) InvokeRemote(ctx context.Context, caller Host, selector types.SessionID, verb Verb, args json.RawMessage) (any, error) {
	target := resolveTarget(caller, selector)
	r := d.lookup(target)
	if r == nil {
		slog.Debug("remote invoke on unrouted session", "session", target, "verb", verb)
		return nil, nil
	}
	return r.Dispatch(ctx, caller, "", verb, args)
}

// AddListener forwards a subscription to the caller's session router.
func (d *Delegate) AddListener(caller Host, extID types.ExtensionID, event string) error {
	session := callerSession(caller)
	r := d.lookup(session)
	if r == nil {
		slog.Debug("add-listener on unrouted session", "session", session, "event", event)
		return nil
	}
	return r.AddListener(caller, extID, event)
}

// RemoveListener forwards an unsubscription to the caller's session router.
func (d *Delegate) RemoveListener(caller Host, extID types.ExtensionID, event string) {
	r := d.lookup(callerSession(caller))
	if r == nil {
		return
	}
	r.RemoveListener(caller, extID, event)
}

// RemoveSession tears down the session's router mapping. Handler tables are
// only ever discarded this way, never per-call.
func (d *Delegate) RemoveSession(session types.SessionID) {
	d.mu.Lock()
	_, ok := d.routers[session]
	delete(d.routers, session)
	d.mu.Unlock()
	if ok {
		slog.Info("session router removed", "session", session)
	}
}

// Sessions lists the sessions with a live router, sorted for stable output.
func (d *Delegate) Sessions() []types.SessionID {
	d.mu.Lock()
	out := make([]types.SessionID, 0, len(d.routers))
	for s := range d.routers {
		out = append(out, s)
	}
	d.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
