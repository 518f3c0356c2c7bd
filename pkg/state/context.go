package state

// Mode controls how a conversation reacts to incoming messages.
type Mode string

const (
	// ModeAI answers every user message.
	ModeAI Mode = "ai"
	// ModeMention answers only when the bot is mentioned by name.
	ModeMention Mode = "mention"
	// ModeQuiet suppresses all automatic replies.
	ModeQuiet Mode = "quiet"
)

// ValidMode reports whether s names a known interaction mode.
func ValidMode(s string) bool {
	switch Mode(s) {
	case ModeAI, ModeMention, ModeQuiet:
		return true
	}
	return false
}

const (
	RoleUser  = "user"
	RoleModel = "model"
	RoleTool  = "tool"
)

// FunctionCall records a tool invocation requested by the model.
type FunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// FunctionResponse records the observation returned to the model for a
// previously requested tool invocation.
type FunctionResponse struct {
	Name     string `json:"name"`
	Response string `json:"response"`
}

// Part is a single content unit inside a history entry. Exactly one
// field is set.
type Part struct {
	Text             string            `json:"text,omitempty"`
	FunctionCall     *FunctionCall     `json:"function_call,omitempty"`
	FunctionResponse *FunctionResponse `json:"function_response,omitempty"`
}

// HistoryEntry is one turn of the conversation transcript.
type HistoryEntry struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// NewTextEntry builds a plain text history entry.
func NewTextEntry(role, text string) HistoryEntry {
	return HistoryEntry{Role: role, Parts: []Part{{Text: text}}}
}

// NewFunctionCallEntry builds a model turn that requests a tool.
func NewFunctionCallEntry(name string, args map[string]any) HistoryEntry {
	return HistoryEntry{
		Role:  RoleModel,
		Parts: []Part{{FunctionCall: &FunctionCall{Name: name, Args: args}}},
	}
}

// NewFunctionResponseEntry builds a tool turn carrying the observation
// for the named tool.
func NewFunctionResponseEntry(name, observation string) HistoryEntry {
	return HistoryEntry{
		Role:  RoleTool,
		Parts: []Part{{FunctionResponse: &FunctionResponse{Name: name, Response: observation}}},
	}
}

// ConversationContext is the per-conversation state: interaction mode,
// pinned note, task list and the rolling message history. Instances are
// owned by one goroutine at a time; the store hands out deep copies.
type ConversationContext struct {
	ChatID      string         `json:"chat_id"`
	Mode        Mode           `json:"mode"`
	PinnedNote  string         `json:"pinned_note,omitempty"`
	Tasks       []string       `json:"tasks,omitempty"`
	History     []HistoryEntry `json:"history"`
	Initialized bool           `json:"initialized"`
}

// NewConversationContext returns the default context for a chat that
// has never been seen before.
func NewConversationContext(chatID string) *ConversationContext {
	return &ConversationContext{
		ChatID:  chatID,
		Mode:    ModeAI,
		History: []HistoryEntry{},
	}
}

// Append adds entries to the history and trims from the front so the
// transcript never exceeds window entries. A tool observation must stay
// adjacent to the model turn that requested it, so trimming also drops
// any tool entries left stranded at the head.
func (c *ConversationContext) Append(window int, entries ...HistoryEntry) {
	c.History = append(c.History, entries...)
	if window <= 0 {
		return
	}
	if over := len(c.History) - window; over > 0 {
		c.History = c.History[over:]
	}
	for len(c.History) > 0 && c.History[0].Role == RoleTool {
		c.History = c.History[1:]
	}
}

// Clone returns a deep copy. Mutating the copy never affects the
// original, including nested tool call arguments.
func (c *ConversationContext) Clone() *ConversationContext {
	if c == nil {
		return nil
	}
	cp := &ConversationContext{
		ChatID:      c.ChatID,
		Mode:        c.Mode,
		PinnedNote:  c.PinnedNote,
		Initialized: c.Initialized,
	}
	if c.Tasks != nil {
		cp.Tasks = make([]string, len(c.Tasks))
		copy(cp.Tasks, c.Tasks)
	}
	cp.History = make([]HistoryEntry, len(c.History))
	for i, e := range c.History {
		cp.History[i] = cloneEntry(e)
	}
	return cp
}

func cloneEntry(e HistoryEntry) HistoryEntry {
	out := HistoryEntry{Role: e.Role, Parts: make([]Part, len(e.Parts))}
	for i, p := range e.Parts {
		cp := Part{Text: p.Text}
		if p.FunctionCall != nil {
			fc := &FunctionCall{Name: p.FunctionCall.Name}
			if p.FunctionCall.Args != nil {
				fc.Args = make(map[string]any, len(p.FunctionCall.Args))
				for k, v := range p.FunctionCall.Args {
					fc.Args[k] = v
				}
			}
			cp.FunctionCall = fc
		}
		if p.FunctionResponse != nil {
			fr := *p.FunctionResponse
			cp.FunctionResponse = &fr
		}
		out.Parts[i] = cp
	}
	return out
}
