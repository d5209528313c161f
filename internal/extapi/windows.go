package extapi

import (
	"context"
	"encoding/json"

	"github.com/dgnsrekt/crx_host/internal/changes"
	"github.com/dgnsrekt/crx_host/internal/router"
	"github.com/dgnsrekt/crx_host/internal/store"
	"github.com/dgnsrekt/crx_host/internal/types"
)

const (
	VerbWindowsGet            router.Verb = "windows.get"
	VerbWindowsGetAll         router.Verb = "windows.getAll"
	VerbWindowsGetLastFocused router.Verb = "windows.getLastFocused"
	VerbWindowsCreate         router.Verb = "windows.create"
	VerbWindowsRemove         router.Verb = "windows.remove"
)

// WindowsAPI exposes the chrome.windows-style verb surface.
type WindowsAPI struct {
	store    *store.Store
	notifier *changes.Notifier
}

// RegisterWindows wires the windows verbs into r.
func RegisterWindows(r *router.Router, st *store.Store, n *changes.Notifier) *WindowsAPI {
	api := &WindowsAPI{store: st, notifier: n}
	r.RegisterHandler(VerbWindowsGet, api.get)
	r.RegisterHandler(VerbWindowsGetAll, api.getAll)
	r.RegisterHandler(VerbWindowsGetLastFocused, api.getLastFocused)
	r.RegisterHandler(VerbWindowsCreate, api.create)
	r.RegisterHandler(VerbWindowsRemove, api.remove)
	return api
}

type windowIDArgs struct {
	WindowID types.WindowID `json:"windowId"`
}

func (a *WindowsAPI) get(_ context.Context, _ router.Call, raw json.RawMessage) (any, error) {
	var args windowIDArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, router.NewError(router.CodeValidation, "bad windows.get args", err)
	}
	details, ok := a.store.WindowDetails(args.WindowID)
	if !ok {
		return nil, nil
	}
	return details, nil
}

func (a *WindowsAPI) getAll(_ context.Context, _ router.Call, _ json.RawMessage) (any, error) {
	results := []types.WindowDetails{}
	for _, id := range a.store.WindowIDs() {
		if details, ok := a.store.WindowDetails(id); ok {
			results = append(results, details)
		}
	}
	return results, nil
}

func (a *WindowsAPI) getLastFocused(_ context.Context, _ router.Call, _ json.RawMessage) (any, error) {
	win, ok := a.store.LastFocusedWindow()
	if !ok {
		return nil, nil
	}
	details, ok := a.store.WindowDetails(win.ID())
	if !ok {
		return nil, nil
	}
	return details, nil
}

func (a *WindowsAPI) create(ctx context.Context, _ router.Call, raw json.RawMessage) (any, error) {
	var details store.CreateWindowDetails
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &details); err != nil {
			return nil, router.NewError(router.CodeValidation, "bad windows.create args", err)
		}
	}
	win, err := a.store.CreateWindow(ctx, details)
	if err != nil {
		return nil, err
	}
	out, _ := a.store.WindowDetails(win.ID())
	return out, nil
}

// remove tears the window down through the store and emits onRemoved only
// after removal is confirmed. The store performs no tab cascade; a
// well-behaved caller removes the window's tabs first.
func (a *WindowsAPI) remove(ctx context.Context, _ router.Call, raw json.RawMessage) (any, error) {
	var args windowIDArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, router.NewError(router.CodeValidation, "bad windows.remove args", err)
	}
	if err := a.store.RemoveWindow(ctx, args.WindowID); err != nil {
		return nil, err
	}
	a.notifier.WindowRemoved(args.WindowID)
	return nil, nil
}
