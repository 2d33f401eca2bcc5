// Package store provides the conversation history interface with SQLite
// and PostgreSQL implementations.
package store

import (
	"context"
	"fmt"

	"github.com/rcliao/chat-memory/internal/model"
)

// History is an append-only, per-user ordered log of messages.
type History interface {
	// Append records one message. The store assigns CreatedAt and, when
	// the message has none, its ID. It returns the stored message.
	Append(ctx context.Context, msg model.Message) (model.Message, error)

	// Load returns a user's messages ordered by CreatedAt ascending.
	// An unknown user yields an empty slice.
	Load(ctx context.Context, userID string) ([]model.Message, error)

	// Stats returns storage statistics.
	Stats(ctx context.Context) (*Stats, error)

	// Close closes the store.
	Close() error
}

func validateMessage(msg model.Message) error {
	switch msg.Role {
	case model.RoleUser, model.RoleAssistant:
		return nil
	default:
		return fmt.Errorf("invalid role %q (expected user or assistant)", msg.Role)
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", model.ErrStoreUnavailable, op, err)
}
