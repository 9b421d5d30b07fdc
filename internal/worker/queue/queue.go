// Package queue hands closed sessions to the post-session processor.
// Dispatch is fire-and-forget: the caller never sees the processing result.
package queue

import (
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/chatrelay/internal/config"
)

// TopicSessionClosed carries one message per closed session.
const TopicSessionClosed = "chatrelay.session.closed"

// Job is the payload of a TopicSessionClosed message.
type Job struct {
	SessionID string `json:"session_id"`
}

// Backend is a publisher/subscriber pair for the session-closed topic.
type Backend struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
	closers    []func() error
}

// NewMemoryBackend creates an in-process backend.
func NewMemoryBackend(logger watermill.LoggerAdapter) *Backend {
	ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, logger)
	return &Backend{
		Publisher:  ch,
		Subscriber: ch,
		closers:    []func() error{ch.Close},
	}
}

// NewRedisBackend creates a backend over Redis Streams. Every worker process
// joins the same consumer group so each session is processed once.
func NewRedisBackend(addr, group string, logger watermill.LoggerAdapter) (*Backend, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	marshaller := redisstream.DefaultMarshallerUnmarshaller{}

	pub, err := redisstream.NewPublisher(redisstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaller,
	}, logger)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis publisher: %w", err)
	}

	sub, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaller,
		ConsumerGroup: group,
		Consumer:      "chatrelay-" + uuid.NewString()[:8],
	}, logger)
	if err != nil {
		_ = pub.Close()
		_ = client.Close()
		return nil, fmt.Errorf("redis subscriber: %w", err)
	}

	return &Backend{
		Publisher:  pub,
		Subscriber: sub,
		closers:    []func() error{sub.Close, pub.Close, client.Close},
	}, nil
}

// NewBackend creates the backend selected by cfg.
func NewBackend(cfg *config.Config) (*Backend, error) {
	logger := NewLogger(log.Logger)
	switch cfg.Queue {
	case config.QueueMemory, "":
		return NewMemoryBackend(logger), nil
	case config.QueueRedis:
		return NewRedisBackend(cfg.RedisAddr, cfg.RedisGroup, logger)
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue)
	}
}

// Close releases the backend's resources.
func (b *Backend) Close() error {
	var errs []error
	for _, c := range b.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Queue publishes closed sessions.
type Queue struct {
	publisher message.Publisher
}

// NewQueue creates a dispatcher over publisher.
func NewQueue(publisher message.Publisher) *Queue {
	return &Queue{publisher: publisher}
}

// Dispatch enqueues sessionID for post-processing. Failures are logged.
func (q *Queue) Dispatch(sessionID string) {
	payload, err := json.Marshal(Job{SessionID: sessionID})
	if err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("Failed to encode post-processing job")
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("session_id", sessionID)

	if err := q.publisher.Publish(TopicSessionClosed, msg); err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("Failed to dispatch session for post-processing")
		return
	}
	log.Debug().Str("sessionId", sessionID).Str("messageId", msg.UUID).Msg("Session dispatched for post-processing")
}
