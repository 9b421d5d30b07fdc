package llm

import (
	"context"
	"errors"
	"io"
	"iter"
	"strings"

	"google.golang.org/genai"

	"github.com/thebtf/chatrelay/pkg/models"
)

// Gemini implements CompletionProvider and Summarizer over the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

var (
	_ CompletionProvider = (*Gemini)(nil)
	_ Summarizer         = (*Gemini)(nil)
)

// NewGemini creates a Gemini-backed provider.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, providerError("gemini", "new client", err)
	}
	return &Gemini{client: client, model: model}, nil
}

// Name returns the provider name.
func (g *Gemini) Name() string { return "gemini" }

// StreamCompletion starts a streaming generation. System messages are merged
// into the system instruction; Gemini has no system role in contents.
func (g *Gemini) StreamCompletion(ctx context.Context, messages []models.Message) (TokenStream, error) {
	contents, system := toGeminiContents(messages)
	if len(contents) == 0 {
		return nil, providerError(g.Name(), "stream completion", errors.New("no user or assistant messages"))
	}

	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	seq := g.client.Models.GenerateContentStream(ctx, g.model, contents, config)
	return newGeminiStream(seq), nil
}

// Summarize runs a single non-streaming generation.
func (g *Gemini) Summarize(ctx context.Context, prompt string, maxTokens int) (string, error) {
	config := &genai.GenerateContentConfig{}
	if maxTokens > 0 {
		config.MaxOutputTokens = int32(maxTokens)
	}
	contents := []*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: prompt}}}}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", providerError(g.Name(), "summarize", err)
	}
	return resp.Text(), nil
}

// toGeminiContents converts the conversation and returns the joined system text.
func toGeminiContents(messages []models.Message) ([]*genai.Content, string) {
	var (
		contents []*genai.Content
		system   []string
	)
	for _, m := range messages {
		switch m.Role {
		case models.RoleSystem:
			system = append(system, m.Content)
		case models.RoleAssistant:
			contents = append(contents, &genai.Content{Role: "model", Parts: []*genai.Part{{Text: m.Content}}})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: m.Content}}})
		}
	}
	return contents, strings.Join(system, "\n")
}

type geminiStream struct {
	next func() (*genai.GenerateContentResponse, error, bool)
	stop func()
	done bool
}

func newGeminiStream(seq iter.Seq2[*genai.GenerateContentResponse, error]) *geminiStream {
	next, stop := iter.Pull2(seq)
	return &geminiStream{next: next, stop: stop}
}

func (s *geminiStream) Recv() (string, error) {
	for {
		if s.done {
			return "", io.EOF
		}
		resp, err, ok := s.next()
		if !ok {
			s.done = true
			return "", io.EOF
		}
		if err != nil {
			s.done = true
			return "", providerError("gemini", "recv", err)
		}
		if resp == nil {
			continue
		}
		if text := resp.Text(); text != "" {
			return text, nil
		}
	}
}

func (s *geminiStream) Close() error {
	s.done = true
	s.stop()
	return nil
}
