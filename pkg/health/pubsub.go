package health

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// transitionChannel is the Redis pub/sub channel health transitions are
// published on, for fan-out across multiple mediator instances.
const transitionChannel = "tsamediator:health:transition"

// transitionEvent is the wire shape published to transitionChannel.
type transitionEvent struct {
	ProviderID string `json:"provider_id"`
	From       Status `json:"from"`
	To         Status `json:"to"`
}

// RedisNotifier publishes health transitions to Redis so that other
// mediator instances (or external dashboards) can observe them without
// polling each instance's in-memory Monitor.
type RedisNotifier struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewRedisNotifier creates a RedisNotifier.
func NewRedisNotifier(rdb *redis.Client, logger *slog.Logger) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, logger: logger}
}

// NotifyTransition implements TransitionNotifier.
func (n *RedisNotifier) NotifyTransition(providerID string, from, to Status) {
	payload, err := json.Marshal(transitionEvent{ProviderID: providerID, From: from, To: to})
	if err != nil {
		return
	}
	if err := n.rdb.Publish(context.Background(), transitionChannel, payload).Err(); err != nil && n.logger != nil {
		n.logger.Warn("publishing health transition", "provider", providerID, "error", err)
	}
}

// MultiNotifier fans a single transition out to several notifiers, so the
// Slack and Redis notifiers can both be attached to one Monitor.
type MultiNotifier struct {
	notifiers []TransitionNotifier
}

// NewMultiNotifier builds a MultiNotifier from the given notifiers, skipping
// any nil entries so callers can pass feature-gated notifiers unconditionally.
func NewMultiNotifier(notifiers ...TransitionNotifier) *MultiNotifier {
	m := &MultiNotifier{}
	for _, n := range notifiers {
		if n != nil {
			m.notifiers = append(m.notifiers, n)
		}
	}
	return m
}

// NotifyTransition implements TransitionNotifier.
func (m *MultiNotifier) NotifyTransition(providerID string, from, to Status) {
	for _, n := range m.notifiers {
		n.NotifyTransition(providerID, from, to)
	}
}
