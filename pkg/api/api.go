package api

import (
	"context"

	"sigil/pkg/state"
)

// ContextStore defines the interface for loading and persisting
// per-conversation state. Implementations must return deep copies from
// Load so callers can mutate freely before Save.
type ContextStore interface {
	// Load returns the context for chatID, creating and persisting a
	// default one if the conversation has never been seen.
	Load(ctx context.Context, chatID string) (*state.ConversationContext, error)
	// Save writes the context through every tier. A durable-tier
	// failure is returned; cache-tier failures are absorbed.
	Save(ctx context.Context, cc *state.ConversationContext) error
	// Invalidate evicts chatID from the cache tiers without touching
	// the durable copy.
	Invalidate(ctx context.Context, chatID string) error
}

// Sender delivers outbound messages to a conversation.
type Sender interface {
	Send(ctx context.Context, recipient, message string) error
}
