package store

import (
	"context"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	jsoniter "github.com/json-iterator/go"

	"sigil/pkg/state"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Cache is the warm tier: a shared key-value cache that survives
// process restarts but may be unavailable. Get reports a miss with
// found=false and a nil error.
type Cache interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Durable is the cold tier: the store of record. A write that fails
// here is a real failure.
type Durable interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	Close() error
}

// Store layers three tiers of conversation state: an in-process LRU,
// a shared cache and a durable backend. Reads fall through the tiers
// and refill the ones above; writes go through all of them. The hot
// tier only ever holds copies, so callers own what Load returns.
type Store struct {
	hot  *lru.Cache[string, *state.ConversationContext]
	warm Cache
	cold Durable
}

// New builds a tiered store. warm may be nil when no shared cache is
// configured; cold is required.
func New(hotSize int, warm Cache, cold Durable) (*Store, error) {
	if cold == nil {
		return nil, fmt.Errorf("store: durable tier is required")
	}
	hot, err := lru.New[string, *state.ConversationContext](hotSize)
	if err != nil {
		return nil, fmt.Errorf("store: create hot cache: %w", err)
	}
	return &Store{hot: hot, warm: warm, cold: cold}, nil
}

func contextKey(chatID string) string {
	return "context:" + chatID
}

// Load returns the conversation context for chatID, reading through
// hot, warm and cold in that order. A chat that exists nowhere gets a
// default context which is persisted durably before it is returned, so
// two loads of a fresh chat agree.
func (s *Store) Load(ctx context.Context, chatID string) (*state.ConversationContext, error) {
	if cc, ok := s.hot.Get(chatID); ok {
		return cc.Clone(), nil
	}

	key := contextKey(chatID)

	if s.warm != nil {
		raw, found, err := s.warm.Get(ctx, key)
		if err != nil {
			slog.WarnContext(ctx, "Warm tier read failed, falling through", "chat_id", chatID, "error", err)
		} else if found {
			cc := &state.ConversationContext{}
			if err := json.UnmarshalFromString(raw, cc); err != nil {
				slog.WarnContext(ctx, "Warm tier entry corrupt, treating as miss", "chat_id", chatID, "error", err)
			} else {
				s.hot.Add(chatID, cc.Clone())
				return cc, nil
			}
		}
	}

	raw, found, err := s.cold.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("store: durable read for %s: %w", chatID, err)
	}
	if found {
		cc := &state.ConversationContext{}
		if err := json.UnmarshalFromString(raw, cc); err != nil {
			return nil, fmt.Errorf("store: corrupt durable entry for %s: %w", chatID, err)
		}
		s.refill(ctx, key, raw, cc)
		return cc, nil
	}

	cc := state.NewConversationContext(chatID)
	if err := s.Save(ctx, cc); err != nil {
		return nil, err
	}
	return cc, nil
}

// refill pushes a cold hit back into the tiers above it.
func (s *Store) refill(ctx context.Context, key, raw string, cc *state.ConversationContext) {
	if s.warm != nil {
		if err := s.warm.Set(ctx, key, raw); err != nil {
			slog.WarnContext(ctx, "Warm tier refill failed", "key", key, "error", err)
		}
	}
	s.hot.Add(cc.ChatID, cc.Clone())
}

// Save writes cc through every tier. The durable write must succeed;
// a warm write failure is logged and absorbed so a cache outage never
// loses state.
func (s *Store) Save(ctx context.Context, cc *state.ConversationContext) error {
	raw, err := json.MarshalToString(cc)
	if err != nil {
		return fmt.Errorf("store: marshal context for %s: %w", cc.ChatID, err)
	}

	key := contextKey(cc.ChatID)
	if err := s.cold.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("store: durable write for %s: %w", cc.ChatID, err)
	}

	if s.warm != nil {
		if err := s.warm.Set(ctx, key, raw); err != nil {
			slog.WarnContext(ctx, "Warm tier write failed", "chat_id", cc.ChatID, "error", err)
		}
	}

	s.hot.Add(cc.ChatID, cc.Clone())
	return nil
}

// Invalidate drops chatID from the hot and warm tiers. The durable
// copy is untouched, so the next Load rebuilds the caches from it.
func (s *Store) Invalidate(ctx context.Context, chatID string) error {
	s.hot.Remove(chatID)
	if s.warm != nil {
		if err := s.warm.Delete(ctx, contextKey(chatID)); err != nil {
			slog.WarnContext(ctx, "Warm tier delete failed", "chat_id", chatID, "error", err)
		}
	}
	return nil
}

// Close releases the durable backend.
func (s *Store) Close() error {
	return s.cold.Close()
}
