package llm

import (
	"context"
	"errors"
	"io"

	"github.com/sashabaranov/go-openai"

	"github.com/thebtf/chatrelay/pkg/models"
)

// OpenAI implements CompletionProvider and Summarizer over the OpenAI chat API.
type OpenAI struct {
	client *openai.Client
	model  string
}

var (
	_ CompletionProvider = (*OpenAI)(nil)
	_ Summarizer         = (*OpenAI)(nil)
)

// NewOpenAI creates an OpenAI-backed provider. An empty baseURL uses the public API.
func NewOpenAI(apiKey, baseURL, model string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// Name returns the provider name.
func (o *OpenAI) Name() string { return "openai" }

// StreamCompletion starts a streaming chat completion.
func (o *OpenAI) StreamCompletion(ctx context.Context, messages []models.Message) (TokenStream, error) {
	stream, err := o.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: toOpenAIMessages(messages),
		Stream:   true,
	})
	if err != nil {
		return nil, providerError(o.Name(), "stream completion", err)
	}
	return &openAIStream{stream: stream}, nil
}

// Summarize runs a single non-streaming completion.
func (o *OpenAI) Summarize(ctx context.Context, prompt string, maxTokens int) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     o.model,
		MaxTokens: maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", providerError(o.Name(), "summarize", err)
	}
	if len(resp.Choices) == 0 {
		return "", providerError(o.Name(), "summarize", errors.New("empty response"))
	}
	return resp.Choices[0].Message.Content, nil
}

func toOpenAIMessages(messages []models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case models.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		case models.RoleSystem:
			role = openai.ChatMessageRoleSystem
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

type openAIStream struct {
	stream *openai.ChatCompletionStream
}

// Recv skips chunks that carry no content (role headers, finish markers).
func (s *openAIStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", providerError("openai", "recv", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if token := resp.Choices[0].Delta.Content; token != "" {
			return token, nil
		}
	}
}

func (s *openAIStream) Close() error {
	return s.stream.Close()
}
