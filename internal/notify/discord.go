package notify

import (
	"context"
	"net/http"
)

// Discord rejects message content longer than this many characters.
const discordMaxContent = 2000

// DiscordSender posts to a channel webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, client: &http.Client{Timeout: webhookTimeout}}
}

// Send posts the title in bold above the message, truncated to the content
// limit. Mentions are suppressed so symbols like @ES never ping anyone.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	return postJSON(ctx, d.client, "discord", d.webhookURL, map[string]any{
		"content":          truncate("**"+title+"**\n"+message, discordMaxContent),
		"allowed_mentions": map[string]any{"parse": []string{}},
	})
}

func (d *DiscordSender) Name() string { return "discord" }
