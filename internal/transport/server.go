// Package transport carries the coordinator's wire protocol: one WebSocket
// connection per extension context, a single JSON envelope shape, four
// context→coordinator ops and push-event back. Invokes are correlated by
// envelope ID; listener ops are fire-and-forget.
package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/dgnsrekt/crx_host/internal/router"
	"github.com/dgnsrekt/crx_host/internal/types"
)

// Server upgrades extension-context connections and feeds their messages to
// the routing delegate.
type Server struct {
	delegate *router.Delegate
}

func NewServer(delegate *router.Delegate) *Server {
	return &Server{delegate: delegate}
}

// Handler returns the HTTP handler performing the WebSocket upgrade. The
// context's session arrives as the "session" query parameter.
func (s *Server) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := r.URL.Query().Get("session")
		if session == "" {
			http.Error(w, "missing session parameter", http.StatusBadRequest)
			return
		}

		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}

		h := &host{
			id:      uuid.NewString(),
			session: types.SessionID(session),
			conn:    conn,
		}
		slog.Info("context connected", "host", h.id, "session", h.session, "remote", r.RemoteAddr)
		go s.readLoop(h)
	}
}

// readLoop processes incoming envelopes until the connection ends, then
// fires the host's termination hooks so listener cleanup runs synchronously.
func (s *Server) readLoop(h *host) {
	defer func() {
		h.terminate()
		slog.Info("context disconnected", "host", h.id, "session", h.session)
	}()

	for {
		data, err := wsutil.ReadClientText(h.conn)
		if err != nil {
			slog.Debug("transport read loop exit", "host", h.id, "error", err)
			return
		}

		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Debug("malformed envelope dropped", "host", h.id, "error", err)
			continue
		}
		s.handle(h, env)
	}
}

func (s *Server) handle(h *host, env types.Envelope) {
	switch env.Op {
	case types.OpLocalInvoke:
		go s.invoke(h, env, func(ctx context.Context) (any, error) {
			return s.delegate.InvokeLocal(ctx, h, types.ExtensionID(env.ExtensionID), router.Verb(env.Verb), env.Args)
		})
	case types.OpRemoteInvoke:
		go s.invoke(h, env, func(ctx context.Context) (any, error) {
			return s.delegate.InvokeRemote(ctx, h, types.SessionID(env.Session), router.Verb(env.Verb), env.Args)
		})
	case types.OpAddListener:
		if err := s.delegate.AddListener(h, types.ExtensionID(env.ExtensionID), env.Event); err != nil {
			slog.Debug("add-listener rejected", "host", h.id, "event", env.Event, "error", err)
		}
	case types.OpRemoveListener:
		s.delegate.RemoveListener(h, types.ExtensionID(env.ExtensionID), env.Event)
	default:
		slog.Debug("unknown op dropped", "host", h.id, "op", env.Op)
	}
}

// invoke runs a dispatch and writes the correlated result or error frame.
// Handler failures come back as rejected results; they never tear down the
// connection or the coordinator.
func (s *Server) invoke(h *host, env types.Envelope, run func(context.Context) (any, error)) {
	result, err := run(context.Background())
	if err != nil {
		code := router.ErrorCode(err)
		if code == "" {
			code = router.CodeHandlerFailure
		}
		if werr := h.write(types.Envelope{Op: types.OpError, ID: env.ID, Code: code, Message: err.Error()}); werr != nil {
			slog.Debug("error reply failed", "host", h.id, "error", werr)
		}
		return
	}

	payload, err := json.Marshal(result)
	if err != nil {
		_ = h.write(types.Envelope{Op: types.OpError, ID: env.ID, Code: router.CodeHandlerFailure, Message: "unencodable result"})
		return
	}
	if werr := h.write(types.Envelope{Op: types.OpResult, ID: env.ID, Result: payload}); werr != nil {
		slog.Debug("result reply failed", "host", h.id, "error", werr)
	}
}
