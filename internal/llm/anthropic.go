package llm

import (
	"context"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/rcliao/chat-memory/internal/model"
)

// DefaultAnthropicModel is used when no model is configured.
const DefaultAnthropicModel = "claude-3-5-haiku-latest"

// AnthropicBackend streams completions from the Anthropic Messages API.
type AnthropicBackend struct {
	client anthropic.Client
	model  string
}

// NewAnthropicBackend creates a backend. An empty apiKey falls back to
// ANTHROPIC_API_KEY; an empty baseURL uses the public endpoint.
func NewAnthropicBackend(apiKey, baseURL, modelName string) *AnthropicBackend {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if modelName == "" {
		modelName = DefaultAnthropicModel
	}
	return &AnthropicBackend{
		client: anthropic.NewClient(opts...),
		model:  modelName,
	}
}

func (b *AnthropicBackend) Stream(ctx context.Context, req Request) (Stream, error) {
	params := b.buildParams(req)
	return &anthropicStream{stream: b.client.Messages.NewStreaming(ctx, params)}, nil
}

func (b *AnthropicBackend) buildParams(req Request) anthropic.MessageNewParams {
	var system []string
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case model.RoleSystem:
			system = append(system, m.Content)
		case model.RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case model.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	modelName := req.Model
	if modelName == "" {
		modelName = b.model
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelName),
		Messages:  messages,
		MaxTokens: int64(req.Params.MaxTokens),
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{
			{Text: strings.Join(system, "\n\n")},
		}
	}

	// The Messages API accepts temperature in [0, 1].
	temp := req.Params.Temperature
	if temp > 1 {
		temp = 1
	}
	if temp > 0 {
		params.Temperature = param.NewOpt(temp)
	}
	if req.Params.TopP > 0 {
		params.TopP = param.NewOpt(req.Params.TopP)
	}
	return params
}

type anthropicStream struct {
	stream   *ssestream.Stream[anthropic.MessageStreamEventUnion]
	fragment string
}

func (s *anthropicStream) Next() bool {
	for s.stream.Next() {
		event := s.stream.Current()
		if event.Type == "content_block_delta" && event.Delta.Type == "text_delta" {
			s.fragment = event.Delta.Text
			return true
		}
	}
	return false
}

func (s *anthropicStream) Fragment() string { return s.fragment }

func (s *anthropicStream) Err() error {
	if err := s.stream.Err(); err != nil {
		return fmt.Errorf("%w: anthropic: %w", model.ErrBackendStream, err)
	}
	return nil
}

func (s *anthropicStream) Close() error { return s.stream.Close() }
