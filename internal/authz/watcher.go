package authz

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultWatchChannel carries "<namespace>|<instance>" payloads.
const DefaultWatchChannel = "authz.policy.saved"

// Watcher publishes a message whenever this process commits a snapshot and
// listens for commits from other processes. It never reloads on its own: a
// received message only marks the enforcer stale, leaving the refresh to
// callers that need freshness.
type Watcher struct {
	client   *redis.Client
	channel  string
	instance string
	logger   *slog.Logger
}

// NewWatcher returns a Watcher on channel (DefaultWatchChannel when empty).
func NewWatcher(client *redis.Client, channel string, logger *slog.Logger) *Watcher {
	if channel == "" {
		channel = DefaultWatchChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{client: client, channel: channel, instance: uuid.NewString(), logger: logger}
}

// Notify implements Notifier.
func (w *Watcher) Notify(ctx context.Context, namespace string) error {
	if w == nil || w.client == nil {
		return nil
	}
	return w.client.Publish(ctx, w.channel, namespace+"|"+w.instance).Err()
}

// Listen subscribes to the channel and calls onChange for every commit to
// namespace made by another instance. It returns once the subscription is
// confirmed; delivery continues until ctx is cancelled.
func (w *Watcher) Listen(ctx context.Context, namespace string, onChange func()) error {
	if w == nil || w.client == nil {
		return nil
	}
	pubsub := w.client.Subscribe(ctx, w.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				ns, instance, _ := strings.Cut(msg.Payload, "|")
				if ns != namespace || instance == w.instance {
					continue
				}
				w.logger.Debug("policy snapshot changed elsewhere", slog.String("namespace", ns), slog.String("instance", instance))
				onChange()
			}
		}
	}()
	return nil
}

var _ Notifier = (*Watcher)(nil)
