package extapi

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/dgnsrekt/crx_host/internal/store"
	"github.com/dgnsrekt/crx_host/internal/types"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func TestNotificationsCreatePostsTitleAndMessage(t *testing.T) {
	var receivedBody string
	var receivedContentType string
	client := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			receivedContentType = r.Header.Get("Content-Type")
			rawBody, err := io.ReadAll(r.Body)
			if err != nil {
				t.Fatalf("read body: %v", err)
			}
			receivedBody = string(rawBody)
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader("ok")),
				Header:     make(http.Header),
			}, nil
		}),
	}

	e := newEnv(t, store.Adapter{})
	RegisterNotifications(e.router, "http://example.com/notifications", client)

	result, err := e.dispatch(t, VerbNotificationsCreate, `{"title":"Build done","message":"all green"}`)
	if err != nil {
		t.Fatalf("dispatch error = %v", err)
	}
	if id, ok := result.(string); !ok || id == "" {
		t.Fatalf("result = %v; want a notification id", result)
	}
	if got, want := receivedBody, "Build done\nall green"; got != want {
		t.Fatalf("body = %q; want %q", got, want)
	}
	if got, want := receivedContentType, "text/plain"; got != want {
		t.Fatalf("content-type = %q; want %q", got, want)
	}
}

func TestNotificationsCreateWithoutEndpoint(t *testing.T) {
	e := newEnv(t, store.Adapter{})
	RegisterNotifications(e.router, "", nil)

	result, err := e.dispatch(t, VerbNotificationsCreate, `{"message":"dropped"}`)
	if err != nil {
		t.Fatalf("dispatch error = %v", err)
	}
	if id, ok := result.(string); !ok || id == "" {
		t.Fatalf("result = %v; want a notification id", result)
	}
}

func TestNotificationsCreateServerError(t *testing.T) {
	client := &http.Client{
		Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusInternalServerError,
				Body:       io.NopCloser(strings.NewReader("boom")),
				Header:     make(http.Header),
			}, nil
		}),
	}

	e := newEnv(t, store.Adapter{})
	RegisterNotifications(e.router, "http://example.com/notifications", client)

	if _, err := e.dispatch(t, VerbNotificationsCreate, `{"message":"x"}`); err == nil {
		t.Fatal("expected error for failing endpoint")
	}
}

func TestNotificationsClearEmitsOnClosed(t *testing.T) {
	e := newEnv(t, store.Adapter{})
	RegisterNotifications(e.router, "", nil)

	var events []string
	e.router.SetEventTap(func(event string, _ types.ExtensionID, _ []any) {
		events = append(events, event)
	})

	result, err := e.dispatch(t, VerbNotificationsClear, `{"id":"n-1"}`)
	if err != nil {
		t.Fatalf("dispatch error = %v", err)
	}
	if cleared, ok := result.(bool); !ok || !cleared {
		t.Fatalf("result = %v; want true", result)
	}
	if len(events) != 1 || events[0] != EventNotificationClosed {
		t.Fatalf("events = %v; want [%s]", events, EventNotificationClosed)
	}
}
