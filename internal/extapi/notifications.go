package extapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/dgnsrekt/crx_host/internal/router"
)

const (
	VerbNotificationsCreate router.Verb = "notifications.create"
	VerbNotificationsClear  router.Verb = "notifications.clear"

	EventNotificationClosed = "notifications.onClosed"
)

// NotificationsAPI forwards extension notifications to an ntfy-style HTTP
// endpoint. An empty endpoint makes create a logged no-op that still
// returns an id, so extensions keep working without a notifier configured.
type NotificationsAPI struct {
	endpoint string
	client   *http.Client
	r        *router.Router
}

// RegisterNotifications wires the notifications verbs into r.
func RegisterNotifications(r *router.Router, endpoint string, client *http.Client) *NotificationsAPI {
	api := &NotificationsAPI{endpoint: endpoint, client: client, r: r}
	r.RegisterHandler(VerbNotificationsCreate, api.create)
	r.RegisterHandler(VerbNotificationsClear, api.clear)
	return api
}

type notifyCreateArgs struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

func (a *NotificationsAPI) create(ctx context.Context, call router.Call, raw json.RawMessage) (any, error) {
	var args notifyCreateArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, router.NewError(router.CodeValidation, "bad notifications.create args", err)
	}

	id := uuid.NewString()
	if a.endpoint == "" {
		slog.Debug("notification dropped, no endpoint configured", "extension", call.Extension.ID, "title", args.Title)
		return id, nil
	}

	body := args.Message
	if args.Title != "" {
		body = args.Title + "\n" + args.Message
	}
	if err := a.post(ctx, body); err != nil {
		return nil, fmt.Errorf("notification delivery: %w", err)
	}
	return id, nil
}

type notifyClearArgs struct {
	ID string `json:"id"`
}

func (a *NotificationsAPI) clear(_ context.Context, call router.Call, raw json.RawMessage) (any, error) {
	var args notifyClearArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, router.NewError(router.CodeValidation, "bad notifications.clear args", err)
	}
	a.r.SendEvent(call.Extension.ID, EventNotificationClosed, args.ID, false)
	return true, nil
}

func (a *NotificationsAPI) post(ctx context.Context, message string) error {
	c := a.client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint failed: status=%d", resp.StatusCode)
	}
	return nil
}
