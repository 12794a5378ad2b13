// Package notify delivers reminder texts to requesters. Delivery is best
// effort: the caller has already claimed the reminder and does not retry.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	applog "rentdesk/internal/log"
)

type Message struct {
	RentalID    int64  `json:"rental_id"`
	RequesterID int64  `json:"requester_id"`
	Kind        string `json:"kind"`
	Text        string `json:"text"`
	RunID       string `json:"run_id,omitempty"`
}

type Notifier interface {
	Send(ctx context.Context, m Message) error
}

// LogNotifier writes the message to the application log. Used when no
// outbound endpoint is configured.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, m Message) error {
	applog.Info(nil, "notify.send", map[string]any{
		"rental_id": m.RentalID, "requester_id": m.RequesterID, "kind": m.Kind, "text": m.Text,
	})
	return nil
}

var ErrDelivery = errors.New("notify: delivery failed")

// WebhookNotifier POSTs the message as JSON to URL.
type WebhookNotifier struct {
	URL     string
	Timeout time.Duration
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{URL: url, Timeout: 5 * time.Second}
}

func (w *WebhookNotifier) Send(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(m)
	if err != nil {
		return err
	}
	timeout := w.Timeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}

	a := fiber.Post(w.URL).
		ContentType(fiber.MIMEApplicationJSON).
		Body(body).
		Timeout(timeout)
	code, resp, errs := a.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", ErrDelivery, errors.Join(errs...))
	}
	if code < 200 || code >= 300 {
		return fmt.Errorf("%w: status %d: %s", ErrDelivery, code, truncate(resp, 200))
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}
