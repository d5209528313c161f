package types

// MutedInfo mirrors the chrome.tabs muted state container. Diffing compares
// the nested Muted flag, not container identity.
type MutedInfo struct {
	Muted  bool   `json:"muted"`
	Reason string `json:"reason,omitempty"`
}

// TabDetails is the observable snapshot of a tracked tab. Field names follow
// the chrome.tabs.Tab wire shape because extension contexts consume these
// verbatim.
type TabDetails struct {
	ID              TabID     `json:"id"`
	WindowID        WindowID  `json:"windowId"`
	Active          bool      `json:"active"`
	Status          string    `json:"status,omitempty"`
	URL             string    `json:"url,omitempty"`
	Title           string    `json:"title,omitempty"`
	FavIconURL      string    `json:"favIconUrl,omitempty"`
	Pinned          bool      `json:"pinned"`
	Audible         bool      `json:"audible"`
	Discarded       bool      `json:"discarded"`
	AutoDiscardable bool      `json:"autoDiscardable"`
	MutedInfo       MutedInfo `json:"mutedInfo"`
}

// WindowDetails is the observable snapshot of a tracked window.
type WindowDetails struct {
	ID      WindowID `json:"id"`
	Focused bool     `json:"focused"`
	State   string   `json:"state,omitempty"`
	Type    string   `json:"type,omitempty"`
	TabIDs  []TabID  `json:"tabIds,omitempty"`
}
