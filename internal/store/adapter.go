package store

import (
	"context"

	"github.com/dgnsrekt/crx_host/internal/types"
)

// CreateTabDetails carries the caller-supplied shape for a new tab.
type CreateTabDetails struct {
	URL      string         `json:"url,omitempty"`
	WindowID types.WindowID `json:"windowId,omitempty"`
	Active   bool           `json:"active,omitempty"`
	Pinned   bool           `json:"pinned,omitempty"`
}

// CreateWindowDetails carries the caller-supplied shape for a new window.
type CreateWindowDetails struct {
	URL     string `json:"url,omitempty"`
	Type    string `json:"type,omitempty"`
	Focused bool   `json:"focused,omitempty"`
}

// Adapter is the external platform collaborator providing concrete
// creation, removal, and selection of native window/tab resources. Every
// function is optional: a nil CreateTab/CreateWindow makes the matching
// store operation fail with NOT_IMPLEMENTED rather than silently degrade;
// the remaining hooks are skipped when absent.
type Adapter struct {
	CreateTab    func(ctx context.Context, details CreateTabDetails) (Tab, Window, error)
	RemoveTab    func(ctx context.Context, tab Tab, win Window) error
	SelectTab    func(ctx context.Context, tab Tab, win Window) error
	// CreateWindow returns the new window and, when the details carry a
	// URL, the initial tab opened in it (nil otherwise).
	CreateWindow func(ctx context.Context, details CreateWindowDetails) (Window, Tab, error)
	RemoveWindow func(ctx context.Context, win Window) error

	// AssignTabDetails mutates an outgoing tab snapshot with platform
	// fields (url, title, status, mute state) before it is cached or sent.
	AssignTabDetails func(details *types.TabDetails, tab Tab)
	// AssignWindowDetails does the same for window snapshots.
	AssignWindowDetails func(details *types.WindowDetails, win Window)
}
