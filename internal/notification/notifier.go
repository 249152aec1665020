// Package notification delivers signal and health alerts to external
// channels (log, Telegram, webhooks).
package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hw3579/trading-bot/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertError    AlertLevel = "ERROR"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel    `json:"level"`
	Title   string        `json:"title"`
	Message string        `json:"message"`
	Signal  *model.Signal `json:"signal,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier is a simple notifier that logs alerts (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, strings.ReplaceAll(alert.Message, "\n", " | "))
	return nil
}

// Multi sends every alert to all of its notifiers and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SignalAlert renders a signal as a multi-line alert:
//
//	🟢 BUY
//	BTC-USDT (15m)
//	64,250.1000
//	OKX
//	12:15:30
func SignalAlert(sig *model.Signal) Alert {
	icon := "🟢"
	if sig.Kind == model.KindSell {
		icon = "🔴"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", icon, sig.Kind)
	fmt.Fprintf(&b, "%s (%s)\n", sig.Symbol, sig.Timeframe)
	fmt.Fprintf(&b, "%s\n", FormatPrice(sig.Price))
	fmt.Fprintf(&b, "%s\n", strings.ToUpper(sig.Source))
	b.WriteString(sig.GeneratedAt.UTC().Format(time.TimeOnly))
	if sr := sig.Context; sr != nil {
		if s := sr.NearestSupport; s != nil {
			fmt.Fprintf(&b, "\nS %s (x%d)", FormatPrice(s.Price), s.Confluence)
		}
		if r := sr.NearestResistance; r != nil {
			fmt.Fprintf(&b, "\nR %s (x%d)", FormatPrice(r.Price), r.Confluence)
		}
	}
	return Alert{
		Level:   AlertWarning,
		Title:   fmt.Sprintf("%s %s %s", sig.Kind, sig.Symbol, sig.Timeframe),
		Message: b.String(),
		Signal:  sig,
	}
}

// ErrorAlert reports a failing target.
func ErrorAlert(target string, err error) Alert {
	return Alert{
		Level:   AlertError,
		Title:   "❌ " + target,
		Message: err.Error(),
	}
}

// WarningAlert wraps a free-form warning.
func WarningAlert(msg string) Alert {
	return Alert{Level: AlertWarning, Title: "⚠️ warning", Message: msg}
}

// CriticalAlert reports a process-wide failure.
func CriticalAlert(msg string) Alert {
	return Alert{Level: AlertCritical, Title: "🚨 critical", Message: msg}
}

// InfoAlert wraps a free-form informational message.
func InfoAlert(msg string) Alert {
	return Alert{Level: AlertInfo, Title: "info", Message: msg}
}

// FormatPrice renders p with four decimals and thousands separators.
func FormatPrice(p float64) string {
	s := decimal.NewFromFloat(p).StringFixed(4)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}
