package extapi

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/dgnsrekt/crx_host/internal/changes"
	"github.com/dgnsrekt/crx_host/internal/router"
	"github.com/dgnsrekt/crx_host/internal/types"
)

const (
	VerbActionSetTitle     router.Verb = "browserAction.setTitle"
	VerbActionGetTitle     router.Verb = "browserAction.getTitle"
	VerbActionSetBadgeText router.Verb = "browserAction.setBadgeText"
	VerbActionGetBadgeText router.Verb = "browserAction.getBadgeText"
	VerbActionSetPopup     router.Verb = "browserAction.setPopup"
	VerbActionGetPopup     router.Verb = "browserAction.getPopup"
	VerbActionEnable       router.Verb = "browserAction.enable"
	VerbActionDisable      router.Verb = "browserAction.disable"

	EventActionUpdated = "browserAction.onUpdated"
)

// ActionState is one extension's browser-action presentation for one tab
// (tab 0 holds the extension-global state).
type ActionState struct {
	Title      string `json:"title,omitempty"`
	BadgeText  string `json:"badgeText,omitempty"`
	BadgeColor string `json:"badgeColor,omitempty"`
	Popup      string `json:"popup,omitempty"`
	Disabled   bool   `json:"disabled,omitempty"`
}

// ActionAPI holds browser-action state and pushes coalesced updates: a
// burst of state writes within one batch produces a single onUpdated
// broadcast to all current observers.
type ActionAPI struct {
	mu     sync.Mutex
	states map[types.ExtensionID]map[types.TabID]*ActionState

	coalescer *changes.Coalescer
}

// RegisterActions wires the browserAction verbs into r. schedule defers the
// coalesced flush; nil selects goroutine scheduling.
func RegisterActions(r *router.Router, schedule func(func())) *ActionAPI {
	api := &ActionAPI{states: make(map[types.ExtensionID]map[types.TabID]*ActionState)}
	api.coalescer = changes.NewCoalescer(func() {
		r.BroadcastEvent(EventActionUpdated, api.Snapshot())
	}, schedule)

	r.RegisterHandler(VerbActionSetTitle, api.setField(func(s *ActionState, v string) { s.Title = v }))
	r.RegisterHandler(VerbActionGetTitle, api.getField(func(s *ActionState) any { return s.Title }))
	r.RegisterHandler(VerbActionSetBadgeText, api.setField(func(s *ActionState, v string) { s.BadgeText = v }))
	r.RegisterHandler(VerbActionGetBadgeText, api.getField(func(s *ActionState) any { return s.BadgeText }))
	r.RegisterHandler(VerbActionSetPopup, api.setField(func(s *ActionState, v string) { s.Popup = v }))
	r.RegisterHandler(VerbActionGetPopup, api.getField(func(s *ActionState) any { return s.Popup }))
	r.RegisterHandler(VerbActionEnable, api.setEnabled(true))
	r.RegisterHandler(VerbActionDisable, api.setEnabled(false))
	return api
}

type actionArgs struct {
	TabID types.TabID `json:"tabId,omitempty"`
	Value string      `json:"value,omitempty"`
}

func (a *ActionAPI) stateFor(ext types.ExtensionID, tab types.TabID) *ActionState {
	tabs, ok := a.states[ext]
	if !ok {
		tabs = make(map[types.TabID]*ActionState)
		a.states[ext] = tabs
	}
	st, ok := tabs[tab]
	if !ok {
		st = &ActionState{}
		tabs[tab] = st
	}
	return st
}

func (a *ActionAPI) setField(assign func(*ActionState, string)) router.HandlerFunc {
	return func(_ context.Context, call router.Call, raw json.RawMessage) (any, error) {
		var args actionArgs
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, router.NewError(router.CodeValidation, "bad browserAction args", err)
			}
		}
		a.mu.Lock()
		assign(a.stateFor(call.Extension.ID, args.TabID), args.Value)
		a.mu.Unlock()
		a.coalescer.Trigger()
		return nil, nil
	}
}

func (a *ActionAPI) getField(read func(*ActionState) any) router.HandlerFunc {
	return func(_ context.Context, call router.Call, raw json.RawMessage) (any, error) {
		var args actionArgs
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, router.NewError(router.CodeValidation, "bad browserAction args", err)
			}
		}
		a.mu.Lock()
		defer a.mu.Unlock()
		return read(a.stateFor(call.Extension.ID, args.TabID)), nil
	}
}

func (a *ActionAPI) setEnabled(enabled bool) router.HandlerFunc {
	return func(_ context.Context, call router.Call, raw json.RawMessage) (any, error) {
		var args actionArgs
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, router.NewError(router.CodeValidation, "bad browserAction args", err)
			}
		}
		a.mu.Lock()
		a.stateFor(call.Extension.ID, args.TabID).Disabled = !enabled
		a.mu.Unlock()
		a.coalescer.Trigger()
		return nil, nil
	}
}

// Snapshot returns a deep copy of all action state, keyed by extension then
// tab id.
func (a *ActionAPI) Snapshot() map[types.ExtensionID]map[types.TabID]ActionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[types.ExtensionID]map[types.TabID]ActionState, len(a.states))
	for ext, tabs := range a.states {
		cp := make(map[types.TabID]ActionState, len(tabs))
		for id, st := range tabs {
			cp[id] = *st
		}
		out[ext] = cp
	}
	return out
}
