// Package notify delivers best-effort push notifications over a Redis list.
// Callers never block: messages are buffered in-process and dropped with a
// metric when the buffer is full or Redis is unreachable.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/helmwind/browserpilot/internal/domain/session/model"
	"github.com/helmwind/browserpilot/internal/log"
	"github.com/helmwind/browserpilot/internal/metrics"
)

// Message is the queued payload.
type Message struct {
	Tenant  model.TenantID  `json:"tenant_id"`
	Profile model.ProfileID `json:"profile_id,omitempty"`
	Title   string          `json:"title"`
	Body    string          `json:"body"`
	SentAt  time.Time       `json:"sent_at"`
}

// RedisDispatcher pushes messages onto a Redis list consumed by the
// notification delivery service.
type RedisDispatcher struct {
	client *redis.Client
	queue  string
	buf    chan Message
	done   chan struct{}
	logger zerolog.Logger
}

// NewRedisDispatcher connects to addr and starts the delivery worker.
func NewRedisDispatcher(addr, queue string, bufferSize int) *RedisDispatcher {
	d := &RedisDispatcher{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		queue:  queue,
		buf:    make(chan Message, bufferSize),
		done:   make(chan struct{}),
		logger: log.WithComponent("notify"),
	}
	go d.deliver()
	return d
}

// Push implements ports.NotificationDispatcher. It never blocks.
func (d *RedisDispatcher) Push(_ context.Context, tenant model.TenantID, profile model.ProfileID, title, body string) error {
	msg := Message{Tenant: tenant, Profile: profile, Title: title, Body: body, SentAt: time.Now()}
	select {
	case d.buf <- msg:
		return nil
	default:
		metrics.NotificationsDropped.Inc()
		d.logger.Warn().
			Int64(log.FieldTenantID, int64(tenant)).
			Msg("notification buffer full, dropping")
		return nil
	}
}

func (d *RedisDispatcher) deliver() {
	for {
		select {
		case <-d.done:
			return
		case msg := <-d.buf:
			payload, err := json.Marshal(msg)
			if err != nil {
				d.logger.Error().Err(err).Msg("encode notification")
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			err = d.client.LPush(ctx, d.queue, payload).Err()
			cancel()
			if err != nil {
				metrics.NotificationsDropped.Inc()
				d.logger.Warn().Err(err).Msg("notification push failed")
			}
		}
	}
}

// Close stops the worker and closes the connection.
func (d *RedisDispatcher) Close() error {
	close(d.done)
	return d.client.Close()
}

// Nop discards all notifications; used when no Redis address is configured.
type Nop struct{}

// Push implements ports.NotificationDispatcher.
func (Nop) Push(context.Context, model.TenantID, model.ProfileID, string, string) error {
	return nil
}
