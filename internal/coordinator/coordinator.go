// Package coordinator bootstraps one fully wired session on first use: the
// router, the store, the extension registry, the change notifier, and the
// extension API surfaces, all bound together. It also gives the admin API a
// way to reach per-session state.
package coordinator

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/dgnsrekt/crx_host/internal/changes"
	"github.com/dgnsrekt/crx_host/internal/extapi"
	"github.com/dgnsrekt/crx_host/internal/extregistry"
	"github.com/dgnsrekt/crx_host/internal/relay"
	"github.com/dgnsrekt/crx_host/internal/router"
	"github.com/dgnsrekt/crx_host/internal/store"
	"github.com/dgnsrekt/crx_host/internal/types"
)

// Options carries the cross-session collaborators every session shares.
type Options struct {
	// Adapter is the platform adapter handed to every session store. Zero
	// value means create operations fail NOT_IMPLEMENTED.
	Adapter store.Adapter
	// Broker taps every router broadcast for the admin SSE stream. May be
	// nil.
	Broker *relay.Broker
	// NotifyEndpoint is the ntfy-style endpoint notifications.create posts
	// to. May be empty.
	NotifyEndpoint string
	// NotifyClient overrides the HTTP client used for notifications.
	NotifyClient *http.Client
	// Schedule defers coalesced flushes; nil selects goroutine scheduling.
	Schedule func(func())
}

type session struct {
	router   *router.Router
	store    *store.Store
	registry *extregistry.Registry
	notifier *changes.Notifier
}

// Coordinator owns the per-session wiring. One instance per process,
// injected into the delegate as its router factory.
type Coordinator struct {
	opts Options

	mu       sync.Mutex
	sessions map[types.SessionID]*session
	delegate *router.Delegate
}

// New builds the coordinator and its delegate.
func New(opts Options) *Coordinator {
	c := &Coordinator{
		opts:     opts,
		sessions: make(map[types.SessionID]*session),
	}
	c.delegate = router.NewDelegate(c.buildSession)
	return c
}

// Delegate returns the process-wide routing delegate.
func (c *Coordinator) Delegate() *router.Delegate { return c.delegate }

// buildSession is the delegate's router factory. Runs once per session.
func (c *Coordinator) buildSession(sid types.SessionID) *router.Router {
	registry := extregistry.New()
	r := router.New(sid, registry)
	registry.OnUnload(r.RemoveExtension)

	st := store.New(sid, c.opts.Adapter)
	notifier := changes.NewNotifier(st, r)
	st.AddObserver(notifier)

	extapi.RegisterTabs(r, st, notifier)
	extapi.RegisterWindows(r, st, notifier)
	extapi.RegisterActions(r, c.opts.Schedule)
	extapi.RegisterNotifications(r, c.opts.NotifyEndpoint, c.opts.NotifyClient)

	if c.opts.Broker != nil {
		r.SetEventTap(c.opts.Broker.Tap(sid))
	}

	c.mu.Lock()
	c.sessions[sid] = &session{router: r, store: st, registry: registry, notifier: notifier}
	c.mu.Unlock()
	return r
}

func (c *Coordinator) lookup(sid types.SessionID) (*session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sid]
	return s, ok
}

// Session ensures sid exists and returns its router.
func (c *Coordinator) Session(sid types.SessionID) *router.Router {
	return c.delegate.Router(sid)
}

// Sessions lists known sessions.
func (c *Coordinator) Sessions() []types.SessionID {
	return c.delegate.Sessions()
}

// SessionStore returns the store owned by sid.
func (c *Coordinator) SessionStore(sid types.SessionID) (*store.Store, bool) {
	s, ok := c.lookup(sid)
	if !ok {
		return nil, false
	}
	return s.store, true
}

// SessionRegistry returns the extension registry owned by sid.
func (c *Coordinator) SessionRegistry(sid types.SessionID) (*extregistry.Registry, bool) {
	s, ok := c.lookup(sid)
	if !ok {
		return nil, false
	}
	return s.registry, true
}

// SessionNotifier returns the change notifier owned by sid.
func (c *Coordinator) SessionNotifier(sid types.SessionID) (*changes.Notifier, bool) {
	s, ok := c.lookup(sid)
	if !ok {
		return nil, false
	}
	return s.notifier, true
}

// SessionListeners returns the listener registry snapshot for sid.
func (c *Coordinator) SessionListeners(sid types.SessionID) ([]router.ListenerInfo, bool) {
	s, ok := c.lookup(sid)
	if !ok {
		return nil, false
	}
	return s.router.Listeners(), true
}

// Invoke dispatches a verb on sid's router on behalf of the admin surface.
// No caller host is attached, so cross-session policy does not apply; extID
// may be empty for verbs that do not require an extension context.
func (c *Coordinator) Invoke(ctx context.Context, sid types.SessionID, extID types.ExtensionID, verb router.Verb, args json.RawMessage) (any, error) {
	r := c.delegate.Router(sid)
	return r.Dispatch(ctx, nil, extID, verb, args)
}

// NotifyTabUpdated routes a platform-level tab change to whichever session
// tracks the tab. Dead tabs are dropped from their store instead.
func (c *Coordinator) NotifyTabUpdated(id types.TabID) {
	c.mu.Lock()
	sessions := make([]*session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	for _, s := range sessions {
		tab, ok := s.store.TabByID(id)
		if !ok {
			continue
		}
		if !tab.Live() {
			s.store.RemoveTab(id)
			continue
		}
		s.notifier.TabUpdated(id)
	}
}

// RemoveSession tears down sid: delegate mapping, session wiring.
func (c *Coordinator) RemoveSession(sid types.SessionID) {
	c.delegate.RemoveSession(sid)
	c.mu.Lock()
	delete(c.sessions, sid)
	c.mu.Unlock()
}
