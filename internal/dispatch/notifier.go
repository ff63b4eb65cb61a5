// Package dispatch hands notification requests to delivery channels. The
// actual push/email/SMS mechanics live in an external dispatcher; we only
// emit the request.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/job-dispatch/internal/models"
	"github.com/example/job-dispatch/internal/observability"
	"github.com/example/job-dispatch/internal/retry"
)

type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// HTTPNotifier posts notification requests to the external dispatcher with
// bounded retries; 4xx responses are permanent and never retried.
type HTTPNotifier struct {
	Endpoint string
	Key      string // optional bearer token
	Client   *http.Client
}

func NewHTTPNotifier(endpoint, key string) *HTTPNotifier {
	return &HTTPNotifier{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (h *HTTPNotifier) Notify(ctx context.Context, n models.Notification) error {
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	err = retry.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.Endpoint, bytes.NewReader(b))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if h.Key != "" {
			req.Header.Set("Authorization", "Bearer "+h.Key)
		}
		resp, err := h.Client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return retry.Permanent(fmt.Errorf("dispatcher rejected notification: status %d", resp.StatusCode))
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("dispatcher status %d", resp.StatusCode)
		}
		return nil
	})
	if err == nil {
		observability.NotificationsTotal.WithLabelValues(n.Type).Inc()
	}
	return err
}

// WSFirstNotifier tries the recipient's live websocket session before
// falling back to the HTTP dispatcher.
type WSFirstNotifier struct {
	WS       *WSRegistry
	Fallback Notifier
}

func (w *WSFirstNotifier) Notify(ctx context.Context, n models.Notification) error {
	if w.WS != nil {
		if err := w.WS.Send(n.RecipientID, n); err == nil {
			observability.NotificationsTotal.WithLabelValues(n.Type).Inc()
			return nil
		}
	}
	if w.Fallback == nil {
		return ErrNoSession
	}
	return w.Fallback.Notify(ctx, n)
}
