package health

import (
	"context"
	"fmt"
	"log/slog"

	goslack "github.com/slack-go/slack"
)

// SlackNotifier posts an ops-visibility message when a provider's health
// status transitions. It participates in no routing or validation decision;
// it is observability only.
type SlackNotifier struct {
	client  *goslack.Client
	channel string
	logger  *slog.Logger
}

// NewSlackNotifier creates a SlackNotifier. If botToken is empty, the
// notifier is a noop — NotifyTransition becomes a no-op rather than an
// error, matching the rest of the ambient stack's feature-gating.
func NewSlackNotifier(botToken, channel string, logger *slog.Logger) *SlackNotifier {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &SlackNotifier{client: client, channel: channel, logger: logger}
}

// IsEnabled reports whether the notifier has a usable Slack client.
func (n *SlackNotifier) IsEnabled() bool {
	return n.client != nil && n.channel != ""
}

// NotifyTransition implements TransitionNotifier.
func (n *SlackNotifier) NotifyTransition(providerID string, from, to Status) {
	if !n.IsEnabled() {
		return
	}

	text := fmt.Sprintf("%s provider %q: %s -> %s", transitionEmoji(to), providerID, from, to)
	ctx := context.Background()
	if _, _, err := n.client.PostMessageContext(ctx, n.channel, goslack.MsgOptionText(text, false)); err != nil && n.logger != nil {
		n.logger.Warn("posting health transition to slack", "provider", providerID, "error", err)
	}
}

func transitionEmoji(to Status) string {
	switch to {
	case Green:
		return ":large_green_circle:"
	case Yellow:
		return ":large_yellow_circle:"
	default:
		return ":red_circle:"
	}
}
