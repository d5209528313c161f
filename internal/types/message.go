package types

import "encoding/json"

// Op is a transport-level message kind. The verb set is fixed; this is not
// a general RPC surface.
type Op string

const (
	OpLocalInvoke    Op = "local-invoke"
	OpRemoteInvoke   Op = "remote-invoke"
	OpAddListener    Op = "add-listener"
	OpRemoveListener Op = "remove-listener"
	OpPushEvent      Op = "push-event"
	OpResult         Op = "result"
	OpError          Op = "error"
)

// Envelope is the single wire shape for all transport messages. Invokes
// carry a correlation ID; listener ops are fire-and-forget (ID zero).
type Envelope struct {
	Op          Op              `json:"op"`
	ID          int64           `json:"id,omitempty"`
	ExtensionID string          `json:"extension_id,omitempty"`
	Session     string          `json:"session,omitempty"`
	Verb        string          `json:"verb,omitempty"`
	Event       string          `json:"event,omitempty"`
	Args        json.RawMessage `json:"args,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Code        string          `json:"code,omitempty"`
	Message     string          `json:"message,omitempty"`
}
