// Package extapi contains the extension-facing API surfaces. Each surface
// is a consumer of the core: it contributes its verbs to the session router
// at startup and reads or mutates the store through its documented methods.
package extapi

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gobwas/glob"

	"github.com/dgnsrekt/crx_host/internal/changes"
	"github.com/dgnsrekt/crx_host/internal/router"
	"github.com/dgnsrekt/crx_host/internal/store"
	"github.com/dgnsrekt/crx_host/internal/types"
)

const (
	VerbTabsQuery      router.Verb = "tabs.query"
	VerbTabsGet        router.Verb = "tabs.get"
	VerbTabsGetCurrent router.Verb = "tabs.getCurrent"
	VerbTabsCreate     router.Verb = "tabs.create"
	VerbTabsRemove     router.Verb = "tabs.remove"
	VerbTabsUpdate     router.Verb = "tabs.update"
)

// TabsAPI exposes the chrome.tabs-style verb surface.
type TabsAPI struct {
	store    *store.Store
	notifier *changes.Notifier
}

// RegisterTabs wires the tabs verbs into r.
func RegisterTabs(r *router.Router, st *store.Store, n *changes.Notifier) *TabsAPI {
	api := &TabsAPI{store: st, notifier: n}
	r.RegisterHandler(VerbTabsQuery, api.query)
	r.RegisterHandler(VerbTabsGet, api.get)
	r.RegisterHandler(VerbTabsGetCurrent, api.getCurrent)
	r.RegisterHandler(VerbTabsCreate, api.create)
	r.RegisterHandler(VerbTabsRemove, api.remove)
	r.RegisterHandler(VerbTabsUpdate, api.update)
	return api
}

type tabsQueryArgs struct {
	URL           string          `json:"url,omitempty"`
	Active        *bool           `json:"active,omitempty"`
	WindowID      *types.WindowID `json:"windowId,omitempty"`
	CurrentWindow *bool           `json:"currentWindow,omitempty"`
}

func (a *TabsAPI) query(_ context.Context, _ router.Call, raw json.RawMessage) (any, error) {
	var args tabsQueryArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, router.NewError(router.CodeValidation, "bad tabs.query args", err)
		}
	}

	var urlMatch glob.Glob
	if args.URL != "" {
		g, err := glob.Compile(args.URL)
		if err != nil {
			return nil, router.NewError(router.CodeValidation, fmt.Sprintf("bad url pattern %q", args.URL), err)
		}
		urlMatch = g
	}

	currentWin := types.WindowID(0)
	if args.CurrentWindow != nil && *args.CurrentWindow {
		win, ok := a.store.LastFocusedWindow()
		if !ok {
			return []types.TabDetails{}, nil
		}
		currentWin = win.ID()
	}

	results := []types.TabDetails{}
	for _, id := range a.store.TabIDs() {
		details, ok := a.store.TabDetails(id)
		if !ok {
			continue
		}
		if urlMatch != nil && !urlMatch.Match(details.URL) {
			continue
		}
		if args.Active != nil && details.Active != *args.Active {
			continue
		}
		if args.WindowID != nil && details.WindowID != *args.WindowID {
			continue
		}
		if currentWin != 0 && details.WindowID != currentWin {
			continue
		}
		results = append(results, details)
	}
	return results, nil
}

type tabIDArgs struct {
	TabID types.TabID `json:"tabId"`
}

func (a *TabsAPI) get(_ context.Context, _ router.Call, raw json.RawMessage) (any, error) {
	var args tabIDArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, router.NewError(router.CodeValidation, "bad tabs.get args", err)
	}
	details, ok := a.store.TabDetails(args.TabID)
	if !ok {
		return nil, nil
	}
	return details, nil
}

func (a *TabsAPI) getCurrent(_ context.Context, _ router.Call, _ json.RawMessage) (any, error) {
	tab, ok := a.store.ActiveTabOfCurrentWindow()
	if !ok {
		return nil, nil
	}
	details, ok := a.store.TabDetails(tab.ID())
	if !ok {
		return nil, nil
	}
	return details, nil
}

func (a *TabsAPI) create(ctx context.Context, _ router.Call, raw json.RawMessage) (any, error) {
	var details store.CreateTabDetails
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &details); err != nil {
			return nil, router.NewError(router.CodeValidation, "bad tabs.create args", err)
		}
	}
	tab, err := a.store.CreateTab(ctx, details)
	if err != nil {
		return nil, err
	}
	out, _ := a.store.TabDetails(tab.ID())
	return out, nil
}

func (a *TabsAPI) remove(ctx context.Context, _ router.Call, raw json.RawMessage) (any, error) {
	var args tabIDArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, router.NewError(router.CodeValidation, "bad tabs.remove args", err)
	}
	return nil, a.store.DestroyTab(ctx, args.TabID)
}

type tabsUpdateArgs struct {
	TabID  types.TabID `json:"tabId"`
	Active *bool       `json:"active,omitempty"`
}

// update applies mutable tab properties. Activation goes through the store;
// platform-side detail changes surface through the diff-gated notifier.
func (a *TabsAPI) update(ctx context.Context, _ router.Call, raw json.RawMessage) (any, error) {
	var args tabsUpdateArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, router.NewError(router.CodeValidation, "bad tabs.update args", err)
	}
	if args.Active != nil && *args.Active {
		if err := a.store.SetActiveTab(ctx, args.TabID); err != nil {
			return nil, err
		}
	}
	a.notifier.TabUpdated(args.TabID)
	details, ok := a.store.TabDetails(args.TabID)
	if !ok {
		return nil, nil
	}
	return details, nil
}
