// Package notify posts lifecycle-event notifications (cold starts, reaps,
// failures) to Slack.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	goslack "github.com/slack-go/slack"
)

// Notifier posts cold-start and reap notifications to a configured channel.
type Notifier struct {
	client  *goslack.Client
	channel string
	logger  *slog.Logger
}

// New creates a Notifier. If botToken is empty, the notifier is a no-op.
func New(botToken, channel string, logger *slog.Logger) *Notifier {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &Notifier{client: client, channel: channel, logger: logger}
}

// IsEnabled reports whether the notifier has a usable Slack client.
func (n *Notifier) IsEnabled() bool {
	return n.client != nil && n.channel != ""
}

// ColdStartReady notifies that a model finished cold-starting successfully.
func (n *Notifier) ColdStartReady(ctx context.Context, model string) {
	n.post(ctx, fmt.Sprintf(":rocket: *%s* is ready", model), coldStartBlocks(model, "ready", ""))
}

// ColdStartFailed notifies that a model's cold-start failed.
func (n *Notifier) ColdStartFailed(ctx context.Context, model string, reason string) {
	n.post(ctx, fmt.Sprintf(":x: *%s* failed to start: %s", model, reason), coldStartBlocks(model, "failed", reason))
}

// Reaped notifies that an idle instance was reaped.
func (n *Notifier) Reaped(ctx context.Context, model, instanceID string) {
	n.post(ctx, fmt.Sprintf(":zzz: *%s* reaped after idling (%s)", model, instanceID), coldStartBlocks(model, "reaped", instanceID))
}

func (n *Notifier) post(ctx context.Context, fallback string, blocks []goslack.Block) {
	if !n.IsEnabled() {
		n.logger.Debug("notifier disabled, skipping message", "text", fallback)
		return
	}

	opts := []goslack.MsgOption{
		goslack.MsgOptionBlocks(blocks...),
		goslack.MsgOptionText(fallback, false),
	}
	if _, _, err := n.client.PostMessageContext(ctx, n.channel, opts...); err != nil {
		n.logger.Warn("posting to slack failed", "error", err)
	}
}

func coldStartBlocks(model, status, detail string) []goslack.Block {
	emoji := map[string]string{"ready": ":rocket:", "failed": ":x:", "reaped": ":zzz:"}[status]
	header := goslack.NewHeaderBlock(
		goslack.NewTextBlockObject(goslack.PlainTextType, fmt.Sprintf("%s %s: %s", emoji, model, status), true, false),
	)
	blocks := []goslack.Block{header}
	if detail != "" {
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, detail, false, false), nil, nil,
		))
	}
	return blocks
}
