package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// DefaultJobTimeout bounds a single post-processing run.
const DefaultJobTimeout = 2 * time.Minute

// HandlerFunc processes one closed session.
type HandlerFunc func(ctx context.Context, sessionID string) error

// Worker consumes TopicSessionClosed and runs the handler with bounded
// concurrency.
type Worker struct {
	subscriber message.Subscriber
	handler    HandlerFunc
	sem        *semaphore.Weighted
	jobTimeout time.Duration

	loop     sync.WaitGroup
	inflight sync.WaitGroup
}

// NewWorker creates a worker running at most concurrency handlers at once.
func NewWorker(subscriber message.Subscriber, handler HandlerFunc, concurrency int) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		subscriber: subscriber,
		handler:    handler,
		sem:        semaphore.NewWeighted(int64(concurrency)),
		jobTimeout: DefaultJobTimeout,
	}
}

// SetJobTimeout overrides DefaultJobTimeout.
func (w *Worker) SetJobTimeout(d time.Duration) {
	if d > 0 {
		w.jobTimeout = d
	}
}

// Start subscribes before returning, so messages published afterwards are
// not missed, and consumes until ctx is done.
func (w *Worker) Start(ctx context.Context) error {
	messages, err := w.subscriber.Subscribe(ctx, TopicSessionClosed)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicSessionClosed, err)
	}

	w.loop.Add(1)
	go func() {
		defer w.loop.Done()
		w.consume(ctx, messages)
	}()

	log.Info().Str("topic", TopicSessionClosed).Msg("Post-processing worker started")
	return nil
}

// Wait blocks until the consume loop has stopped and every accepted job has finished.
func (w *Worker) Wait() {
	w.loop.Wait()
	w.inflight.Wait()
}

func (w *Worker) consume(ctx context.Context, messages <-chan *message.Message) {
	for msg := range messages {
		var job Job
		if err := json.Unmarshal(msg.Payload, &job); err != nil || job.SessionID == "" {
			log.Warn().Err(err).Str("messageId", msg.UUID).Msg("Dropping malformed post-processing job")
			msg.Ack()
			continue
		}

		if err := w.sem.Acquire(ctx, 1); err != nil {
			msg.Nack()
			return
		}
		// Accepted jobs are acked right away: processing records its own
		// failures and a redelivery would not change the outcome.
		msg.Ack()

		w.inflight.Add(1)
		go func(sessionID string) {
			defer w.inflight.Done()
			defer w.sem.Release(1)
			w.run(ctx, sessionID)
		}(job.SessionID)
	}
}

func (w *Worker) run(parent context.Context, sessionID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), w.jobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("sessionId", sessionID).Msg("Post-processing panicked")
		}
	}()

	if err := w.handler(ctx, sessionID); err != nil {
		log.Warn().Err(err).Str("sessionId", sessionID).Msg("Post-processing failed")
	}
}
