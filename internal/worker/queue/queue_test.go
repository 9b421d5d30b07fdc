package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/chatrelay/internal/config"
)

// QueueSuite runs the dispatcher and worker over the in-memory backend.
type QueueSuite struct {
	suite.Suite
	backend *Backend
	ctx     context.Context
	cancel  context.CancelFunc
}

func (s *QueueSuite) SetupTest() {
	s.backend = NewMemoryBackend(NewLogger(zerolog.Nop()))
	s.ctx, s.cancel = context.WithCancel(context.Background())
}

func (s *QueueSuite) TearDownTest() {
	s.cancel()
	s.NoError(s.backend.Close())
}

func TestQueueSuite(t *testing.T) {
	suite.Run(t, new(QueueSuite))
}

type recorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *recorder) handle(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, sessionID)
	return nil
}

func (r *recorder) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func (s *QueueSuite) TestDispatchReachesHandler() {
	rec := &recorder{}
	worker := NewWorker(s.backend.Subscriber, rec.handle, 2)
	s.Require().NoError(worker.Start(s.ctx))

	q := NewQueue(s.backend.Publisher)
	q.Dispatch("s-1")
	q.Dispatch("s-2")
	q.Dispatch("s-3")

	s.Eventually(func() bool { return len(rec.IDs()) == 3 }, 2*time.Second, 10*time.Millisecond)
	s.ElementsMatch([]string{"s-1", "s-2", "s-3"}, rec.IDs())

	s.cancel()
	worker.Wait()
}

func (s *QueueSuite) TestConcurrencyIsBounded() {
	var (
		current atomic.Int32
		peak    atomic.Int32
		done    atomic.Int32
	)
	release := make(chan struct{})
	handler := func(ctx context.Context, _ string) error {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		current.Add(-1)
		done.Add(1)
		return nil
	}

	worker := NewWorker(s.backend.Subscriber, handler, 2)
	s.Require().NoError(worker.Start(s.ctx))

	q := NewQueue(s.backend.Publisher)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		q.Dispatch(id)
	}

	s.Eventually(func() bool { return current.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	s.Equal(int32(2), current.Load())

	close(release)
	s.Eventually(func() bool { return done.Load() == 5 }, 2*time.Second, 10*time.Millisecond)
	s.Equal(int32(2), peak.Load())
}

func (s *QueueSuite) TestHandlerFailureDoesNotStopWorker() {
	var calls atomic.Int32
	handler := func(context.Context, string) error {
		if calls.Add(1) == 1 {
			return errors.New("summarizer down")
		}
		return nil
	}
	worker := NewWorker(s.backend.Subscriber, handler, 1)
	s.Require().NoError(worker.Start(s.ctx))

	q := NewQueue(s.backend.Publisher)
	q.Dispatch("first")
	q.Dispatch("second")

	s.Eventually(func() bool { return calls.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func (s *QueueSuite) TestHandlerPanicIsContained() {
	rec := &recorder{}
	var first atomic.Bool
	handler := func(ctx context.Context, id string) error {
		if first.CompareAndSwap(false, true) {
			panic("boom")
		}
		return rec.handle(ctx, id)
	}
	worker := NewWorker(s.backend.Subscriber, handler, 1)
	s.Require().NoError(worker.Start(s.ctx))

	q := NewQueue(s.backend.Publisher)
	q.Dispatch("panics")
	q.Dispatch("survives")

	s.Eventually(func() bool { return len(rec.IDs()) == 1 }, 2*time.Second, 10*time.Millisecond)
	s.Equal([]string{"survives"}, rec.IDs())
}

func (s *QueueSuite) TestMalformedPayloadSkipped() {
	rec := &recorder{}
	worker := NewWorker(s.backend.Subscriber, rec.handle, 1)
	s.Require().NoError(worker.Start(s.ctx))

	s.Require().NoError(s.backend.Publisher.Publish(TopicSessionClosed,
		message.NewMessage(watermill.NewUUID(), []byte("not json")),
		message.NewMessage(watermill.NewUUID(), []byte(`{"session_id":""}`)),
	))
	NewQueue(s.backend.Publisher).Dispatch("valid")

	s.Eventually(func() bool { return len(rec.IDs()) == 1 }, 2*time.Second, 10*time.Millisecond)
	s.Equal([]string{"valid"}, rec.IDs())
}

func (s *QueueSuite) TestJobContextOutlivesWorkerContext() {
	started := make(chan struct{})
	result := make(chan error, 1)
	handler := func(ctx context.Context, _ string) error {
		close(started)
		time.Sleep(30 * time.Millisecond)
		result <- ctx.Err()
		return nil
	}
	worker := NewWorker(s.backend.Subscriber, handler, 1)
	s.Require().NoError(worker.Start(s.ctx))

	NewQueue(s.backend.Publisher).Dispatch("slow")
	<-started
	s.cancel()
	worker.Wait()

	s.NoError(<-result)
}

func TestNewBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Queue = config.QueueMemory
	b, err := NewBackend(cfg)
	require.NoError(t, err)
	assert.NotNil(t, b.Publisher)
	assert.NoError(t, b.Close())

	cfg.Queue = "kafka"
	_, err = NewBackend(cfg)
	assert.Error(t, err)

	cfg.Queue = config.QueueRedis
	cfg.RedisAddr = ""
	_, err = NewBackend(cfg)
	assert.Error(t, err)
}

func TestLoggerAdapter(t *testing.T) {
	var buf safeBuffer
	logger := NewLogger(zerolog.New(&buf).Level(zerolog.TraceLevel))

	logger.With(watermill.LogFields{"topic": "t"}).Info("subscribed", watermill.LogFields{"consumer": "c1"})
	logger.Error("publish failed", errors.New("conn refused"), nil)

	out := buf.String()
	assert.Contains(t, out, `"topic":"t"`)
	assert.Contains(t, out, `"consumer":"c1"`)
	assert.Contains(t, out, `"component":"queue"`)
	assert.Contains(t, out, `"error":"conn refused"`)
}

type safeBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
