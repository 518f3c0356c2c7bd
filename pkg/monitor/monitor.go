package monitor

import "time"

// MessageEvent is one message crossing the pipeline, for live display.
type MessageEvent struct {
	Timestamp time.Time
	Role      string // "user" or "assistant"
	ChatID    string
	Sender    string
	Text      string
}

// Monitor receives pipeline traffic for display.
type Monitor interface {
	Start() error
	Stop() error
	OnMessage(ev MessageEvent)
}
