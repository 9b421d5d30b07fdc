// Package llm provides the hosted language-model collaborators used by
// chatrelay: a streaming completion provider for the live relay and a batch
// summarizer for post-session processing.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/thebtf/chatrelay/pkg/models"
)

// ErrProvider matches any *ProviderError.
var ErrProvider = errors.New("model provider failed")

// ProviderError reports a failed completion or summarization call.
type ProviderError struct {
	Err      error
	Provider string
	Op       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool { return target == ErrProvider }

func providerError(provider, op string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Op: op, Err: err}
}

// TokenStream is a lazy sequence of generated text fragments.
// Recv returns io.EOF once the stream is exhausted.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

// CompletionProvider streams a reply to an ordered conversation.
type CompletionProvider interface {
	Name() string
	StreamCompletion(ctx context.Context, messages []models.Message) (TokenStream, error)
}

// Summarizer produces one text response for a single prompt.
type Summarizer interface {
	Name() string
	Summarize(ctx context.Context, prompt string, maxTokens int) (string, error)
}
