package filter

import (
	"context"
	"log/slog"
	"sync"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Inbound is a message that survived intake filtering, normalized for
// the rest of the pipeline.
type Inbound struct {
	Source     string // sender's number
	SourceName string
	GroupID    string // empty for direct messages
	Text       string
	Timestamp  int64
	SelfNote   bool // true for the bot's own note-to-self messages
}

// ConversationKey returns the identifier state is keyed on: the group
// for group chats, otherwise the sender.
func (m *Inbound) ConversationKey() string {
	if m.GroupID != "" {
		return m.GroupID
	}
	return m.Source
}

const seenTimestampLimit = 256

// Filter classifies raw receive notifications into actionable inbound
// messages, dropping receipts, typing indicators, empty payloads and
// echoes of the bot's own sends.
type Filter struct {
	botNumber string
	selfSent  *SelfSentSet

	mu      sync.Mutex
	seen    map[int64]struct{}
	seenOrder []int64
}

// New builds a filter for the account identified by botNumber.
// selfSent is shared with whoever sends messages on the bot's behalf.
func New(botNumber string, selfSent *SelfSentSet) *Filter {
	return &Filter{
		botNumber: botNumber,
		selfSent:  selfSent,
		seen:      make(map[int64]struct{}),
	}
}

// Classify parses one raw notification and decides whether it is
// actionable. The second return is false for everything that should be
// silently dropped; malformed payloads are logged and dropped rather
// than propagated.
func (f *Filter) Classify(ctx context.Context, raw []byte) (*Inbound, bool) {
	var note receiveNotification
	if err := json.Unmarshal(raw, &note); err != nil {
		slog.WarnContext(ctx, "Dropping malformed envelope", "error", err, "bytes", len(raw))
		return nil, false
	}
	env := &note.Envelope

	switch {
	case env.ReceiptMessage != nil, env.TypingMessage != nil:
		return nil, false
	case env.SyncMessage != nil:
		return f.classifySync(ctx, env)
	case env.DataMessage != nil:
		return f.classifyData(ctx, env)
	}
	return nil, false
}

func (f *Filter) classifyData(ctx context.Context, env *Envelope) (*Inbound, bool) {
	dm := env.DataMessage
	if dm.Message == "" {
		return nil, false
	}

	// A note-to-self can surface both as a sync and as a data message
	// with the same timestamp; whichever arrives second is an echo.
	if env.SourceNumber == f.botNumber && f.alreadySeen(dm.Timestamp) {
		slog.DebugContext(ctx, "Dropping duplicate self message", "timestamp", dm.Timestamp)
		return nil, false
	}

	in := &Inbound{
		Source:     env.SourceNumber,
		SourceName: env.SourceName,
		Text:       dm.Message,
		Timestamp:  dm.Timestamp,
		SelfNote:   env.SourceNumber == f.botNumber,
	}
	if dm.GroupInfo != nil {
		in.GroupID = dm.GroupInfo.GroupID
	}
	return in, true
}

func (f *Filter) classifySync(ctx context.Context, env *Envelope) (*Inbound, bool) {
	sent := env.SyncMessage.SentMessage
	if sent == nil || sent.Message == "" {
		return nil, false
	}

	// Only note-to-self syncs matter; syncs of messages the account
	// sent to other people are not input.
	if sent.GroupInfo != nil || sent.Destination != f.botNumber {
		return nil, false
	}

	if f.alreadySeen(sent.Timestamp) {
		return nil, false
	}

	// Replies the bot itself delivered come back as sync messages too;
	// treating those as input would loop forever.
	if f.selfSent.Consume(sent.Message) {
		slog.DebugContext(ctx, "Dropping echo of own reply", "timestamp", sent.Timestamp)
		return nil, false
	}

	return &Inbound{
		Source:     f.botNumber,
		SourceName: env.SourceName,
		Text:       sent.Message,
		Timestamp:  sent.Timestamp,
		SelfNote:   true,
	}, true
}

// alreadySeen records ts and reports whether it had been recorded
// before. The window is bounded so the set cannot grow without limit.
func (f *Filter) alreadySeen(ts int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.seen[ts]; ok {
		return true
	}
	f.seen[ts] = struct{}{}
	f.seenOrder = append(f.seenOrder, ts)
	if len(f.seenOrder) > seenTimestampLimit {
		delete(f.seen, f.seenOrder[0])
		f.seenOrder = f.seenOrder[1:]
	}
	return false
}
