package transport

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/gobwas/ws/wsutil"

	"github.com/dgnsrekt/crx_host/internal/types"
)

// host is one connected extension context endpoint. It implements
// router.Host: identity, session, liveness, push-event delivery, and the
// one-shot termination hook listener cleanup is bound to.
type host struct {
	id      string
	session types.SessionID
	conn    net.Conn

	writeMu sync.Mutex
	closed  atomic.Bool

	termMu  sync.Mutex
	termFns []func()
}

func (h *host) ID() string               { return h.id }
func (h *host) Session() types.SessionID { return h.session }
func (h *host) Live() bool               { return !h.closed.Load() }

// Send pushes a push-event frame to the context.
func (h *host) Send(event string, args []any) error {
	if !h.Live() {
		return fmt.Errorf("host %s is closed", h.id)
	}
	payload, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal event args: %w", err)
	}
	return h.write(types.Envelope{Op: types.OpPushEvent, Event: event, Args: payload})
}

func (h *host) write(env types.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return wsutil.WriteServerText(h.conn, data)
}

// OnTerminate arms fn to run when the connection ends. If the host already
// terminated, fn runs immediately so cleanup stays synchronous with the
// termination signal either way.
func (h *host) OnTerminate(fn func()) {
	h.termMu.Lock()
	if h.closed.Load() {
		h.termMu.Unlock()
		fn()
		return
	}
	h.termFns = append(h.termFns, fn)
	h.termMu.Unlock()
}

// terminate flips liveness and runs the armed hooks exactly once.
func (h *host) terminate() {
	if h.closed.Swap(true) {
		return
	}
	_ = h.conn.Close()

	h.termMu.Lock()
	fns := h.termFns
	h.termFns = nil
	h.termMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
