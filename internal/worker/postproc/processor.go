// Package postproc summarizes sessions after they close and builds the
// read-only analytics reports over the session ledger.
package postproc

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/chatrelay/internal/ledger"
	"github.com/thebtf/chatrelay/internal/llm"
	"github.com/thebtf/chatrelay/internal/telemetry"
	"github.com/thebtf/chatrelay/internal/worker/sse"
	"github.com/thebtf/chatrelay/pkg/models"
)

// Defaults for a Processor.
const (
	DefaultGracePeriod = time.Second
	DefaultMaxTokens   = 500
	DefaultTokenBudget = 6000
)

var errSessionNotFound = errors.New("session not found")

// Notifier receives lifecycle notifications.
type Notifier interface {
	Notify(event sse.LifecycleEvent)
}

// Processor runs post-session summarization.
type Processor struct {
	ledger     *ledger.Ledger
	summarizer llm.Summarizer
	notifier   Notifier
	metrics    *telemetry.Metrics
	counter    TokenCounter
	grace      time.Duration
	maxTokens  int
	budget     int
}

// Option configures a Processor.
type Option func(*Processor)

// WithGracePeriod sets how long Process waits before reading the session back.
func WithGracePeriod(d time.Duration) Option {
	return func(p *Processor) { p.grace = d }
}

// WithMaxTokens sets the summary length limit passed to the summarizer.
func WithMaxTokens(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.maxTokens = n
		}
	}
}

// WithTokenBudget sets the transcript token budget. Zero disables trimming.
func WithTokenBudget(n int) Option {
	return func(p *Processor) { p.budget = n }
}

// WithTokenCounter replaces the tokenizer.
func WithTokenCounter(c TokenCounter) Option {
	return func(p *Processor) { p.counter = c }
}

// WithNotifier sets the lifecycle notification sink.
func WithNotifier(n Notifier) Option {
	return func(p *Processor) { p.notifier = n }
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// New creates a processor.
func New(l *ledger.Ledger, summarizer llm.Summarizer, opts ...Option) *Processor {
	p := &Processor{
		ledger:     l,
		summarizer: summarizer,
		grace:      DefaultGracePeriod,
		maxTokens:  DefaultMaxTokens,
		budget:     DefaultTokenBudget,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.counter == nil {
		p.counter = NewTokenCounter()
	}
	return p
}

// Process summarizes a closed session and records the outcome as an event.
// A missing session is not an error. Any other failure is recorded as a
// post_processing_error event and returned.
func (p *Processor) Process(ctx context.Context, sessionID string) error {
	start := time.Now()
	log.Info().Str("sessionId", sessionID).Msg("Starting post-session processing")

	if p.grace > 0 {
		timer := time.NewTimer(p.grace)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	err := p.process(ctx, sessionID)
	switch {
	case err == nil:
		p.metrics.PostprocRun(ctx, telemetry.OutcomeSummarized, time.Since(start))
		return nil
	case errors.Is(err, errSessionNotFound):
		log.Warn().Str("sessionId", sessionID).Msg("Session not found, skipping post-processing")
		p.metrics.PostprocRun(ctx, telemetry.OutcomeSkipped, time.Since(start))
		return nil
	default:
		log.Error().Err(err).Str("sessionId", sessionID).Msg("Post-session processing failed")
		_, _ = p.ledger.LogEvent(ctx, sessionID, models.EventPostProcessingError, map[string]any{"error": err.Error()}, nil)
		p.notify(sse.EventPostProcessingFailed, sessionID, "", err.Error())
		p.metrics.PostprocRun(ctx, telemetry.OutcomeFailed, time.Since(start))
		return err
	}
}

func (p *Processor) process(ctx context.Context, sessionID string) error {
	session, err := p.ledger.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return errSessionNotFound
	}

	var (
		summary          string
		generated        bool
		transcriptTokens int
	)

	conversation := p.ledger.GetConversation(ctx, sessionID)
	if len(conversation) == 0 {
		log.Info().Str("sessionId", sessionID).Msg("No conversation history")
		summary = NoConversationSummary
	} else {
		summary, generated, transcriptTokens = p.summarize(ctx, session, conversation)
	}

	if _, err := p.ledger.UpdateSummary(ctx, sessionID, summary); err != nil {
		return fmt.Errorf("update summary: %w", err)
	}

	stats := p.ledger.GetStatistics(ctx, sessionID)
	_, _ = p.ledger.LogEvent(ctx, sessionID, models.EventPostProcessingComplete, map[string]any{
		"summary_generated": generated,
		"summary_length":    utf8.RuneCountInString(summary),
		"statistics":        stats.AsMap(),
		"transcript_tokens": transcriptTokens,
	}, nil)

	log.Info().
		Str("sessionId", sessionID).
		Int("userMessages", stats.UserMessages).
		Int("assistantResponses", stats.AssistantResponses).
		Int("functionCalls", stats.FunctionCalls).
		Int("summaryLength", utf8.RuneCountInString(summary)).
		Msg("Post-session processing complete")

	p.notify(sse.EventSessionSummarized, sessionID, string(models.SessionStatusSummarized), "")
	return nil
}

// summarize asks the summarizer once. A provider failure becomes the summary text.
func (p *Processor) summarize(ctx context.Context, session *models.Session, conversation []models.Message) (string, bool, int) {
	transcript, tokens, omitted := fitTranscript(transcriptLines(conversation), p.budget, p.counter)
	if omitted > 0 {
		log.Debug().
			Str("sessionId", session.SessionID).
			Int("omitted", omitted).
			Int("budget", p.budget).
			Msg("Transcript trimmed to token budget")
	}

	summary, err := p.summarizer.Summarize(ctx, BuildSummaryPrompt(session, transcript), p.maxTokens)
	if err != nil {
		log.Warn().Err(err).Str("sessionId", session.SessionID).Msg("Summary generation failed")
		return fmt.Sprintf("Error generating summary: %v", err), false, tokens
	}
	return summary, true, tokens
}

func (p *Processor) notify(eventType, sessionID, status, detail string) {
	if p.notifier == nil {
		return
	}
	p.notifier.Notify(sse.LifecycleEvent{
		At:        time.Now().UTC(),
		Type:      eventType,
		SessionID: sessionID,
		Status:    status,
		Detail:    detail,
	})
}
