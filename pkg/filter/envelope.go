package filter

// Envelope mirrors the envelope object emitted by signal-cli's JSON-RPC
// receive notifications. Only the fields the filter inspects are mapped.
type Envelope struct {
	Source         string          `json:"source"`
	SourceNumber   string          `json:"sourceNumber"`
	SourceName     string          `json:"sourceName"`
	Timestamp      int64           `json:"timestamp"`
	DataMessage    *DataMessage    `json:"dataMessage,omitempty"`
	SyncMessage    *SyncMessage    `json:"syncMessage,omitempty"`
	ReceiptMessage *ReceiptMessage `json:"receiptMessage,omitempty"`
	TypingMessage  *TypingMessage  `json:"typingMessage,omitempty"`
}

// DataMessage is a regular incoming chat message.
type DataMessage struct {
	Timestamp int64      `json:"timestamp"`
	Message   string     `json:"message"`
	GroupInfo *GroupInfo `json:"groupInfo,omitempty"`
}

// SyncMessage mirrors messages the account sent from another device.
type SyncMessage struct {
	SentMessage *SentMessage `json:"sentMessage,omitempty"`
}

// SentMessage is the payload of a sync for an outbound message.
type SentMessage struct {
	Destination string     `json:"destination"`
	Timestamp   int64      `json:"timestamp"`
	Message     string     `json:"message"`
	GroupInfo   *GroupInfo `json:"groupInfo,omitempty"`
}

// ReceiptMessage is a delivery or read receipt.
type ReceiptMessage struct {
	When   int64  `json:"when"`
	IsRead bool   `json:"isRead"`
	Type   string `json:"type"`
}

// TypingMessage is a typing indicator.
type TypingMessage struct {
	Action    string `json:"action"`
	Timestamp int64  `json:"timestamp"`
}

// GroupInfo identifies the group a message belongs to.
type GroupInfo struct {
	GroupID string `json:"groupId"`
	Type    string `json:"type"`
}

type receiveNotification struct {
	Envelope Envelope `json:"envelope"`
}
