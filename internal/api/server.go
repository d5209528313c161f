// Package api is the coordinator's operator-facing HTTP surface: session,
// tab, window, and listener inspection, trusted verb invocation, extension
// load/unload, and an SSE tap of all router broadcasts.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/crx_host/internal/extregistry"
	"github.com/dgnsrekt/crx_host/internal/relay"
	"github.com/dgnsrekt/crx_host/internal/router"
	"github.com/dgnsrekt/crx_host/internal/store"
	"github.com/dgnsrekt/crx_host/internal/types"
)

// Service is the slice of the coordinator the admin API consumes.
type Service interface {
	Sessions() []types.SessionID
	Session(sid types.SessionID) *router.Router
	SessionStore(sid types.SessionID) (*store.Store, bool)
	SessionRegistry(sid types.SessionID) (*extregistry.Registry, bool)
	SessionListeners(sid types.SessionID) ([]router.ListenerInfo, bool)
	Invoke(ctx context.Context, sid types.SessionID, extID types.ExtensionID, verb router.Verb, args json.RawMessage) (any, error)
	RemoveSession(sid types.SessionID)
}

// NewServer builds the admin HTTP handler. broker may be nil to disable the
// SSE event tap.
func NewServer(svc Service, broker *relay.Broker) http.Handler {
	mux := chi.NewMux()
	mux.Use(middleware.RequestID)
	mux.Use(requestLogger)
	mux.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Extension Host Coordinator API", "1.0.0")
	api := humachi.New(mux, cfg)

	registerSessionHandlers(api, svc)
	registerStateHandlers(api, svc)
	registerExtensionHandlers(api, svc)

	if broker != nil {
		mux.Get("/api/events", relay.SSEHandler(broker))
	}

	return mux
}

type sessionInput struct {
	Session string `path:"session" doc:"Isolated session id, e.g. persist:default"`
}

func registerSessionHandlers(api huma.API, svc Service) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/api/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})

	type sessionsOutput struct {
		Body struct {
			Sessions []types.SessionID `json:"sessions"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-sessions", Method: http.MethodGet, Path: "/api/sessions", Summary: "List sessions with a live router", Tags: []string{"Sessions"}},
		func(ctx context.Context, input *struct{}) (*sessionsOutput, error) {
			out := &sessionsOutput{}
			out.Body.Sessions = svc.Sessions()
			return out, nil
		})

	type createSessionOutput struct {
		Body struct {
			Session types.SessionID `json:"session"`
			Verbs   []router.Verb   `json:"verbs"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "create-session", Method: http.MethodPut, Path: "/api/sessions/{session}", Summary: "Ensure a session router exists", Tags: []string{"Sessions"}},
		func(ctx context.Context, input *sessionInput) (*createSessionOutput, error) {
			r := svc.Session(types.SessionID(input.Session))
			out := &createSessionOutput{}
			out.Body.Session = r.SessionID()
			out.Body.Verbs = r.Verbs()
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "remove-session", Method: http.MethodDelete, Path: "/api/sessions/{session}", Summary: "Tear a session down", Tags: []string{"Sessions"}},
		func(ctx context.Context, input *sessionInput) (*struct{}, error) {
			svc.RemoveSession(types.SessionID(input.Session))
			return &struct{}{}, nil
		})

	type invokeInput struct {
		Session string `path:"session"`
		Body    struct {
			ExtensionID string          `json:"extension_id,omitempty"`
			Verb        string          `json:"verb"`
			Args        json.RawMessage `json:"args,omitempty"`
		}
	}
	type invokeOutput struct {
		Body struct {
			Result any `json:"result"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "invoke-verb", Method: http.MethodPost, Path: "/api/sessions/{session}/invoke", Summary: "Invoke a verb on a session router", Tags: []string{"Sessions"}},
		func(ctx context.Context, input *invokeInput) (*invokeOutput, error) {
			result, err := svc.Invoke(ctx, types.SessionID(input.Session), types.ExtensionID(input.Body.ExtensionID), router.Verb(input.Body.Verb), input.Body.Args)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &invokeOutput{}
			out.Body.Result = result
			return out, nil
		})
}

func registerStateHandlers(api huma.API, svc Service) {
	type tabsOutput struct {
		Body struct {
			Tabs []types.TabDetails `json:"tabs"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-tabs", Method: http.MethodGet, Path: "/api/sessions/{session}/tabs", Summary: "List tracked tabs", Tags: []string{"State"}},
		func(ctx context.Context, input *sessionInput) (*tabsOutput, error) {
			st, ok := svc.SessionStore(types.SessionID(input.Session))
			if !ok {
				return nil, huma.Error404NotFound(fmt.Sprintf("session %q not found", input.Session))
			}
			out := &tabsOutput{}
			out.Body.Tabs = []types.TabDetails{}
			for _, id := range st.TabIDs() {
				if details, ok := st.TabDetails(id); ok {
					out.Body.Tabs = append(out.Body.Tabs, details)
				}
			}
			return out, nil
		})

	type windowsOutput struct {
		Body struct {
			Windows []types.WindowDetails `json:"windows"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-windows", Method: http.MethodGet, Path: "/api/sessions/{session}/windows", Summary: "List tracked windows", Tags: []string{"State"}},
		func(ctx context.Context, input *sessionInput) (*windowsOutput, error) {
			st, ok := svc.SessionStore(types.SessionID(input.Session))
			if !ok {
				return nil, huma.Error404NotFound(fmt.Sprintf("session %q not found", input.Session))
			}
			out := &windowsOutput{}
			out.Body.Windows = []types.WindowDetails{}
			for _, id := range st.WindowIDs() {
				if details, ok := st.WindowDetails(id); ok {
					out.Body.Windows = append(out.Body.Windows, details)
				}
			}
			return out, nil
		})

	type listenersOutput struct {
		Body struct {
			Listeners []router.ListenerInfo `json:"listeners"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-listeners", Method: http.MethodGet, Path: "/api/sessions/{session}/listeners", Summary: "List event listener registrations", Tags: []string{"State"}},
		func(ctx context.Context, input *sessionInput) (*listenersOutput, error) {
			listeners, ok := svc.SessionListeners(types.SessionID(input.Session))
			if !ok {
				return nil, huma.Error404NotFound(fmt.Sprintf("session %q not found", input.Session))
			}
			out := &listenersOutput{}
			out.Body.Listeners = listeners
			if out.Body.Listeners == nil {
				out.Body.Listeners = []router.ListenerInfo{}
			}
			return out, nil
		})
}

func registerExtensionHandlers(api huma.API, svc Service) {
	type extensionsOutput struct {
		Body struct {
			Extensions []types.Extension `json:"extensions"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-extensions", Method: http.MethodGet, Path: "/api/sessions/{session}/extensions", Summary: "List loaded extensions", Tags: []string{"Extensions"}},
		func(ctx context.Context, input *sessionInput) (*extensionsOutput, error) {
			reg, ok := svc.SessionRegistry(types.SessionID(input.Session))
			if !ok {
				return nil, huma.Error404NotFound(fmt.Sprintf("session %q not found", input.Session))
			}
			out := &extensionsOutput{}
			out.Body.Extensions = reg.List()
			return out, nil
		})

	type loadExtensionInput struct {
		Session string `path:"session"`
		Body    struct {
			ID   string `json:"id"`
			Name string `json:"name,omitempty"`
			Path string `json:"path,omitempty"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "load-extension", Method: http.MethodPost, Path: "/api/sessions/{session}/extensions", Summary: "Load an extension into a session", Tags: []string{"Extensions"}},
		func(ctx context.Context, input *loadExtensionInput) (*struct{}, error) {
			if input.Body.ID == "" {
				return nil, huma.Error400BadRequest("extension id is required")
			}
			svc.Session(types.SessionID(input.Session))
			reg, _ := svc.SessionRegistry(types.SessionID(input.Session))
			reg.Add(types.Extension{
				ID:   types.ExtensionID(input.Body.ID),
				Name: input.Body.Name,
				Path: input.Body.Path,
			})
			return &struct{}{}, nil
		})

	type unloadExtensionInput struct {
		Session     string `path:"session"`
		ExtensionID string `path:"extension_id"`
	}
	huma.Register(api, huma.Operation{OperationID: "unload-extension", Method: http.MethodDelete, Path: "/api/sessions/{session}/extensions/{extension_id}", Summary: "Unload an extension and sweep its listeners", Tags: []string{"Extensions"}},
		func(ctx context.Context, input *unloadExtensionInput) (*struct{}, error) {
			reg, ok := svc.SessionRegistry(types.SessionID(input.Session))
			if !ok {
				return nil, huma.Error404NotFound(fmt.Sprintf("session %q not found", input.Session))
			}
			reg.Remove(types.ExtensionID(input.ExtensionID))
			return &struct{}{}, nil
		})
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *router.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case router.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case router.CodeUnknownVerb, router.CodeUnknownExtension, router.CodeUnknownExtensionContext, router.CodeNoParentWindow:
			return huma.Error404NotFound(coded.Message)
		case router.CodeCrossSessionNotAllowed:
			return huma.Error403Forbidden(coded.Message)
		case router.CodeNotImplemented:
			return huma.Error501NotImplemented(coded.Message)
		case router.CodeInvalidAdapterResult:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
