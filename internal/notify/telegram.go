package notify

import (
	"context"
	"net/http"
	"strings"
)

const (
	telegramAPI      = "https://api.telegram.org"
	telegramMaxChars = 4096
)

// TelegramSender posts through the Bot API sendMessage method.
type TelegramSender struct {
	baseURL string
	token   string
	chatID  string
	client  *http.Client
}

func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		baseURL: telegramAPI,
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: webhookTimeout},
	}
}

// Send posts the title in bold above the message using legacy Markdown.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	text := "*" + escapeMarkdown(title) + "*\n" + escapeMarkdown(message)
	return postJSON(ctx, t.client, "telegram", t.baseURL+"/bot"+t.token+"/sendMessage", map[string]string{
		"chat_id":    t.chatID,
		"text":       truncate(text, telegramMaxChars),
		"parse_mode": "Markdown",
	})
}

func (t *TelegramSender) Name() string { return "telegram" }

// escapeMarkdown escapes the legacy Markdown control characters. Reason codes
// such as STOP_BREACH would otherwise open an italic span.
func escapeMarkdown(s string) string {
	return strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[").Replace(s)
}
