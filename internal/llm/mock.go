package llm

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/thebtf/chatrelay/pkg/models"
)

// Mock is an offline provider that echoes the last user message back in
// word-sized chunks. It also serves as a summarizer.
type Mock struct {
	// Reply overrides the generated reply when set.
	Reply func(messages []models.Message) string
	// StreamErr is returned from StreamCompletion when set.
	StreamErr error
	// FailAfter makes Recv fail after this many tokens when > 0.
	FailAfter int
	// SummaryErr is returned from Summarize when set.
	SummaryErr error
	// ChunkDelay is slept between chunks, honoring context cancellation.
	ChunkDelay time.Duration
	// RecordCalls keeps every conversation for Calls. Leave it off when the
	// mock serves real traffic.
	RecordCalls bool

	mu    sync.Mutex
	calls [][]models.Message
}

var (
	_ CompletionProvider = (*Mock)(nil)
	_ Summarizer         = (*Mock)(nil)
)

// NewMock creates a mock provider with default behavior.
func NewMock() *Mock {
	return &Mock{}
}

// Name returns the provider name.
func (m *Mock) Name() string { return "mock" }

// Calls returns copies of the conversations passed to StreamCompletion while
// RecordCalls was set.
func (m *Mock) Calls() [][]models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]models.Message, len(m.calls))
	for i, c := range m.calls {
		out[i] = append([]models.Message(nil), c...)
	}
	return out
}

// StreamCompletion returns the mock reply split into chunks.
func (m *Mock) StreamCompletion(ctx context.Context, messages []models.Message) (TokenStream, error) {
	if m.RecordCalls {
		m.mu.Lock()
		m.calls = append(m.calls, append([]models.Message(nil), messages...))
		m.mu.Unlock()
	}

	if m.StreamErr != nil {
		return nil, providerError(m.Name(), "stream completion", m.StreamErr)
	}

	reply := m.reply(messages)
	return &mockStream{
		ctx:       ctx,
		chunks:    SplitIntoChunks(reply),
		failAfter: m.FailAfter,
		delay:     m.ChunkDelay,
	}, nil
}

// Summarize returns a deterministic summary derived from the prompt.
func (m *Mock) Summarize(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if m.SummaryErr != nil {
		return "", providerError(m.Name(), "summarize", m.SummaryErr)
	}
	if err := ctx.Err(); err != nil {
		return "", providerError(m.Name(), "summarize", err)
	}
	lines := 0
	for _, line := range strings.Split(prompt, "\n") {
		if strings.HasPrefix(line, "[") {
			lines++
		}
	}
	return fmt.Sprintf("Overview: a conversation of %d messages. Topics: general questions. Tools: none recorded. Sentiment: neutral.", lines), nil
}

func (m *Mock) reply(messages []models.Message) string {
	if m.Reply != nil {
		return m.Reply(messages)
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			return "You said: " + messages[i].Content
		}
	}
	return "Hello! How can I help you today?"
}

// SplitIntoChunks splits text into word-sized chunks, keeping the separating
// spaces so that concatenating the chunks reproduces text exactly.
func SplitIntoChunks(text string) []string {
	if text == "" {
		return nil
	}
	var (
		chunks []string
		start  int
	)
	for i := 1; i < len(text); i++ {
		if text[i] == ' ' && text[i-1] != ' ' {
			chunks = append(chunks, text[start:i])
			start = i
		}
	}
	return append(chunks, text[start:])
}

type mockStream struct {
	ctx       context.Context
	chunks    []string
	pos       int
	failAfter int
	delay     time.Duration
	closed    bool
}

func (s *mockStream) Recv() (string, error) {
	if s.closed {
		return "", io.EOF
	}
	if err := s.ctx.Err(); err != nil {
		return "", providerError("mock", "recv", err)
	}
	if s.failAfter > 0 && s.pos >= s.failAfter {
		return "", providerError("mock", "recv", fmt.Errorf("stream interrupted after %d tokens", s.pos))
	}
	if s.pos >= len(s.chunks) {
		return "", io.EOF
	}
	if s.delay > 0 {
		select {
		case <-s.ctx.Done():
			return "", providerError("mock", "recv", s.ctx.Err())
		case <-time.After(s.delay):
		}
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *mockStream) Close() error {
	s.closed = true
	return nil
}
