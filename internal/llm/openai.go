package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/rcliao/chat-memory/internal/model"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAIBackend streams completions from any OpenAI-compatible chat
// endpoint (OpenAI, vLLM, Ollama, text-generation-inference).
type OpenAIBackend struct {
	client *openai.Client
	model  string
}

// NewOpenAIBackend creates a backend. An empty baseURL uses api.openai.com.
func NewOpenAIBackend(baseURL, apiKey, modelName string) *OpenAIBackend {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if modelName == "" {
		modelName = DefaultOpenAIModel
	}
	return &OpenAIBackend{
		client: openai.NewClientWithConfig(cfg),
		model:  modelName,
	}
}

func (b *OpenAIBackend) Stream(ctx context.Context, req Request) (Stream, error) {
	stream, err := b.client.CreateChatCompletionStream(ctx, b.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("%w: openai: %w", model.ErrBackendStream, err)
	}
	return &openaiStream{stream: stream}, nil
}

// openAIMaxTemperature is the highest temperature the chat API accepts.
const openAIMaxTemperature = 2.0

func (b *OpenAIBackend) buildRequest(req Request) openai.ChatCompletionRequest {
	modelName := req.Model
	if modelName == "" {
		modelName = b.model
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	return openai.ChatCompletionRequest{
		Model:       modelName,
		Messages:    messages,
		MaxTokens:   req.Params.MaxTokens,
		Temperature: float32(min(req.Params.Temperature, openAIMaxTemperature)),
		TopP:        float32(req.Params.TopP),
		Stream:      true,
	}
}

type openaiStream struct {
	stream   *openai.ChatCompletionStream
	fragment string
	err      error
	done     bool
}

func (s *openaiStream) Next() bool {
	for !s.done {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			s.done = true
			return false
		}
		if err != nil {
			s.err = fmt.Errorf("%w: openai: %w", model.ErrBackendStream, err)
			s.done = true
			return false
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
			continue
		}
		s.fragment = resp.Choices[0].Delta.Content
		return true
	}
	return false
}

func (s *openaiStream) Fragment() string { return s.fragment }

func (s *openaiStream) Err() error { return s.err }

func (s *openaiStream) Close() error {
	s.done = true
	s.stream.Close()
	return nil
}
