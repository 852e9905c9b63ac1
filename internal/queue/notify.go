package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/callcoach/internal/cache"
)

const publishTimeout = 2 * time.Second

// Publisher sends a message on a channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload string) error
}

// Subscriber delivers channel messages until ctx ends.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler func(payload string)) error
}

// RedisWaker wakes the local pool and tells every other process to wake theirs.
// A lost message only delays pickup until the next poll tick.
type RedisWaker struct {
	pub    Publisher
	local  Waker
	logger *slog.Logger
}

func NewRedisWaker(pub Publisher, local Waker, logger *slog.Logger) *RedisWaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisWaker{pub: pub, local: local, logger: logger}
}

// Wake returns immediately; the publish runs in the background.
func (w *RedisWaker) Wake() {
	if w.local != nil {
		w.local.Wake()
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := w.pub.Publish(ctx, cache.WakeChannel, "wake"); err != nil {
			w.logger.Warn("publishing queue wake failed", "error", err)
		}
	}()
}

// ListenForWakes wakes local for every message on the wake channel. It blocks until ctx is done.
func ListenForWakes(ctx context.Context, sub Subscriber, local Waker) error {
	return sub.Subscribe(ctx, cache.WakeChannel, func(string) { local.Wake() })
}
