package types

// SessionID identifies an isolated session. Each session owns one router,
// one store, and one listener registry; corresponds to a partitioned
// browsing profile (e.g. "persist:default").
type SessionID string

// SelfSession is the remote-invoke selector meaning "the caller's own
// session".
const SelfSession SessionID = "self"

// ExtensionID identifies a loaded extension within a session.
type ExtensionID string

// TabID is a stable integer handle for a tracked tab. IDs are assigned by
// the platform adapter (or the store's fallback counter) and never reused
// within a process.
type TabID int

// WindowID is a stable integer handle for a tracked window.
type WindowID int

// Extension describes an extension loaded into a session. The coordinator
// does not parse manifests; Name falls back to the directory name.
type Extension struct {
	ID   ExtensionID `json:"id"`
	Name string      `json:"name,omitempty"`
	Path string      `json:"path,omitempty"`
}
