package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

const telegramAPI = "https://api.telegram.org"

// TelegramNotifier sends alerts via Telegram Bot API to one or more chats.
type TelegramNotifier struct {
	botToken string
	chatIDs  []string
	baseURL  string
	client   *http.Client
}

// NewTelegramNotifier creates a Telegram notifier.
// botToken: Bot API token from @BotFather
// chatIDs: Target chat/group/channel IDs
func NewTelegramNotifier(botToken string, chatIDs ...string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatIDs:  chatIDs,
		baseURL:  telegramAPI,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// WithBaseURL points the notifier at a different Bot API host.
func (t *TelegramNotifier) WithBaseURL(u string) *TelegramNotifier {
	t.baseURL = strings.TrimRight(u, "/")
	return t
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	emoji := "ℹ️"
	switch alert.Level {
	case AlertWarning:
		emoji = "⚠️"
	case AlertError:
		emoji = "❌"
	case AlertCritical:
		emoji = "🚨"
	}

	var text string
	if alert.Signal != nil {
		// Signal messages carry their own icon line.
		text = escapeMarkdown(alert.Message)
	} else {
		text = fmt.Sprintf("%s *%s*\n\n%s", emoji, escapeMarkdown(alert.Title), escapeMarkdown(alert.Message))
	}

	var errs []error
	for _, chatID := range t.chatIDs {
		if err := t.send(ctx, chatID, text); err != nil {
			errs = append(errs, fmt.Errorf("chat %s: %w", chatID, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	log.Printf("[telegram] sent alert to %d chats: %s", len(t.chatIDs), alert.Title)
	return nil
}

func (t *TelegramNotifier) send(ctx context.Context, chatID, text string) error {
	body, _ := json.Marshal(map[string]interface{}{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "MarkdownV2",
	})

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// escapeMarkdown escapes special characters for Telegram MarkdownV2.
func escapeMarkdown(s string) string {
	const specials = "_*[]()~`>#+-=|{}.!\\"
	var buf bytes.Buffer
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(specials, s[i]) >= 0 {
			buf.WriteByte('\\')
		}
		buf.WriteByte(s[i])
	}
	return buf.String()
}
