package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hw3579/trading-bot/internal/model"
)

// WebhookEvent is the JSON body posted for every alert. Signal alerts carry
// the full signal plus a flattened summary for receivers that only read the
// top level.
type WebhookEvent struct {
	Event   string     `json:"event"` // signal | alert
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	SentAt  time.Time  `json:"sent_at"`

	Target     string           `json:"target,omitempty"`
	Kind       model.SignalKind `json:"kind,omitempty"`
	Price      string           `json:"price,omitempty"`
	Support    string           `json:"support,omitempty"`
	Resistance string           `json:"resistance,omitempty"`
	Signal     *model.Signal    `json:"signal,omitempty"`
}

// NewWebhookEvent builds the posted body for a.
func NewWebhookEvent(a Alert, now time.Time) WebhookEvent {
	ev := WebhookEvent{
		Event:   "alert",
		Level:   a.Level,
		Title:   a.Title,
		Message: a.Message,
		SentAt:  now.UTC(),
	}
	sig := a.Signal
	if sig == nil {
		return ev
	}
	ev.Event = "signal"
	ev.Target = sig.Target().Key()
	ev.Kind = sig.Kind
	ev.Price = FormatPrice(sig.Price)
	ev.Signal = sig
	if sr := sig.Context; sr != nil {
		if s := sr.NearestSupport; s != nil {
			ev.Support = FormatPrice(s.Price)
		}
		if r := sr.NearestResistance; r != nil {
			ev.Resistance = FormatPrice(r.Price)
		}
	}
	return ev
}

// WebhookNotifier posts WebhookEvents to an HTTP endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
	now    func() time.Time
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(NewWebhookEvent(alert, w.now()))
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("webhook: status %d", resp.StatusCode)
	}
	return nil
}
