// Package llm defines the streaming inference backend used to answer a turn.
package llm

import (
	"context"
	"fmt"

	"github.com/rcliao/chat-memory/internal/model"
)

// Message is one role-tagged prompt entry.
type Message struct {
	Role    model.Role `json:"role"`
	Content string     `json:"content"`
}

// Generation parameter defaults and bounds.
const (
	DefaultMaxTokens   = 512
	DefaultTemperature = 0.7
	DefaultTopP        = 0.95

	MinMaxTokens   = 1
	MaxMaxTokens   = 2048
	MinTemperature = 0.1
	MaxTemperature = 4.0
	MinTopP        = 0.1
	MaxTopP        = 1.0
)

// Params are the generation parameters sent with every request.
type Params struct {
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
	TopP        float64 `json:"top_p" yaml:"top_p"`
}

// DefaultParams returns the default generation parameters.
func DefaultParams() Params {
	return Params{
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
		TopP:        DefaultTopP,
	}
}

// Validate reports the first parameter outside its allowed range.
func (p Params) Validate() error {
	if p.MaxTokens < MinMaxTokens || p.MaxTokens > MaxMaxTokens {
		return fmt.Errorf("max_tokens must be in [%d, %d], got %d", MinMaxTokens, MaxMaxTokens, p.MaxTokens)
	}
	if p.Temperature < MinTemperature || p.Temperature > MaxTemperature {
		return fmt.Errorf("temperature must be in [%.1f, %.1f], got %g", MinTemperature, MaxTemperature, p.Temperature)
	}
	if p.TopP < MinTopP || p.TopP > MaxTopP {
		return fmt.Errorf("top_p must be in [%.1f, %.1f], got %g", MinTopP, MaxTopP, p.TopP)
	}
	return nil
}

// Request is one completion request.
type Request struct {
	Model    string    `json:"model,omitempty"`
	Messages []Message `json:"messages"`
	Params   Params    `json:"params"`
}

// Stream is a pull-based sequence of response fragments. Call Next until it
// returns false, then check Err. Close releases the underlying connection
// and may be called at any point.
type Stream interface {
	Next() bool
	Fragment() string
	Err() error
	Close() error
}

// Backend opens response streams.
type Backend interface {
	Stream(ctx context.Context, req Request) (Stream, error)
}

// Config selects and parameterizes a backend.
type Config struct {
	Provider string // "mock" | "anthropic" | "openai"
	Model    string
	URL      string
	APIKey   string
}

// New builds the configured backend.
func New(cfg Config) (Backend, error) {
	switch cfg.Provider {
	case "", "mock":
		return NewEchoBackend(), nil
	case "anthropic":
		return NewAnthropicBackend(cfg.APIKey, cfg.URL, cfg.Model), nil
	case "openai":
		return NewOpenAIBackend(cfg.URL, cfg.APIKey, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown backend provider %q (expected mock|anthropic|openai)", cfg.Provider)
	}
}
