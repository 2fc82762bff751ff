package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/IIoT-Solutions-SA/p2p-messaging/internal/models"
)

// messageSentChannel is the pub/sub channel the platform's notification
// fan-out subscribes to.
const messageSentChannel = "messaging.events.message_sent"

// RedisStore handles Redis operations: event publishing and the counters
// backing the rate limiter.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client exposes the underlying client for the rate limiter middleware.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// MessageSentEvent is the payload published on every successful send.
type MessageSentEvent struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	RecipientID    string    `json:"recipient_id"`
	ContentType    string    `json:"content_type"`
	SentAt         time.Time `json:"sent_at"`
}

// PublishMessageSent emits a message.sent event. Delivery of the event is
// best effort; the ledger write has already committed.
func (s *RedisStore) PublishMessageSent(ctx context.Context, msg *models.Message) error {
	event := MessageSentEvent{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID.String(),
		SenderID:       msg.SenderID.String(),
		RecipientID:    msg.RecipientID.String(),
		ContentType:    msg.ContentType,
		SentAt:         msg.CreatedAt,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, messageSentChannel, data).Err()
}
