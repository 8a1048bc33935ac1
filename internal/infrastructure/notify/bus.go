package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"duetrec/internal/core/domain"
	"duetrec/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Event carries a notice between service instances.
type Event struct {
	InstanceID string        `json:"instance_id"`
	Timestamp  time.Time     `json:"timestamp"`
	Notice     domain.Notice `json:"notice"`
}

// RedisBus relays notices to other instances over Redis pub/sub, so a
// subscriber connected to any instance sees every notice of its duet.
type RedisBus struct {
	client     *redis.Client
	instanceID string
	channel    string
	logger     *zap.SugaredLogger

	mu     sync.Mutex
	pubsub *redis.PubSub
}

var _ ports.Notifier = (*RedisBus)(nil)

func NewRedisBus(client *redis.Client, channel, instanceID string, logger *zap.SugaredLogger) *RedisBus {
	return &RedisBus{
		client:     client,
		instanceID: instanceID,
		channel:    channel,
		logger:     logger,
	}
}

// Publish publishes a notice to the bus
func (b *RedisBus) Publish(ctx context.Context, notice domain.Notice) error {
	data, err := b.encode(notice)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish notice: %w", err)
	}

	b.logger.Debugw("published notice",
		"duet_id", notice.DuetID,
		"title", notice.Title,
	)
	return nil
}

// Notify publishes and logs failures; notices are best effort.
func (b *RedisBus) Notify(ctx context.Context, notice domain.Notice) {
	if err := b.Publish(ctx, notice); err != nil {
		b.logger.Warnw("failed to relay notice", "duet_id", notice.DuetID, "error", err)
	}
}

func (b *RedisBus) encode(notice domain.Notice) ([]byte, error) {
	data, err := json.Marshal(Event{
		InstanceID: b.instanceID,
		Timestamp:  time.Now(),
		Notice:     notice,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal notice: %w", err)
	}
	return data, nil
}

// decode returns the notice of a foreign event. Events published by this
// instance were already delivered locally.
func (b *RedisBus) decode(payload string) (domain.Notice, bool) {
	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		b.logger.Warnw("failed to unmarshal notice event", "error", err)
		return domain.Notice{}, false
	}
	if event.InstanceID == b.instanceID {
		return domain.Notice{}, false
	}
	return event.Notice, true
}

// Subscribe hands notices from other instances to handler until ctx ends.
func (b *RedisBus) Subscribe(ctx context.Context, handler func(domain.Notice)) error {
	b.mu.Lock()
	if b.pubsub != nil {
		b.mu.Unlock()
		return fmt.Errorf("already subscribed")
	}
	pubsub := b.client.Subscribe(ctx, b.channel)
	b.pubsub = pubsub
	b.mu.Unlock()
	defer b.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if notice, ok := b.decode(msg.Payload); ok {
				handler(notice)
			}
		}
	}
}

// Close closes the subscription
func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubsub == nil {
		return nil
	}
	err := b.pubsub.Close()
	b.pubsub = nil
	return err
}
