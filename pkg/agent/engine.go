package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"sigil/pkg/api"
	"sigil/pkg/config"
	"sigil/pkg/filter"
	"sigil/pkg/llm"
	"sigil/pkg/state"
	"sigil/pkg/tools"
)

// User-facing notices for degraded outcomes. Every failure path ends
// in one short reply, never silence and never a stack trace.
const (
	noAnswerReply      = "I couldn't reach a conclusion this time. Please try rephrasing."
	aiUnavailableReply = "The AI is unavailable right now. Please try again later."
	failureReply       = "Something went wrong while processing your message."
)

// Outcome is the result of handling one inbound message. Silent means
// the message was legitimately ignored (interaction gate); an empty
// reply never leaves the engine otherwise.
type Outcome struct {
	Reply  string
	Silent bool
}

// Engine runs the bounded reasoning loop: model call, tool dispatch,
// observation feedback, until the model produces a final answer or the
// step budget runs out.
type Engine struct {
	client   llm.Client
	registry *tools.Registry
	store    api.ContextStore
	selfSent *filter.SelfSentSet
	appCfg   *config.Config
	sysCfg   *config.SystemConfigRef
}

// New wires up an engine.
func New(client llm.Client, registry *tools.Registry, store api.ContextStore,
	selfSent *filter.SelfSentSet, appCfg *config.Config, sysCfg *config.SystemConfigRef) *Engine {
	return &Engine{
		client:   client,
		registry: registry,
		store:    store,
		selfSent: selfSent,
		appCfg:   appCfg,
		sysCfg:   sysCfg,
	}
}

// HandleMessage is the entry point for one filtered inbound message.
// It applies the interaction gate, routes bang commands, and otherwise
// runs the reasoning loop.
func (e *Engine) HandleMessage(ctx context.Context, in *filter.Inbound) (Outcome, error) {
	key := in.ConversationKey()
	cc, err := e.store.Load(ctx, key)
	if err != nil {
		return Outcome{}, err
	}

	text := strings.TrimSpace(in.Text)
	group := in.GroupID != ""

	// Group chats start gated: the bot stays silent until mentioned,
	// so adding it to a group does not flood the room.
	if !cc.Initialized {
		if group {
			cc.Mode = state.ModeMention
		}
		cc.Initialized = true
	}

	if group && cc.Mode == state.ModeMention {
		rest, mentioned := cutMention(text, "@"+e.appCfg.BotName)
		if !mentioned {
			if err := e.store.Save(ctx, cc); err != nil {
				return Outcome{}, err
			}
			return Outcome{Silent: true}, nil
		}
		text = rest
	}

	isCommand := strings.HasPrefix(text, "!")

	// Quiet mode drops everything except commands, which must stay
	// reachable or the mode could never be switched back.
	if cc.Mode == state.ModeQuiet && !isCommand {
		if err := e.store.Save(ctx, cc); err != nil {
			return Outcome{}, err
		}
		return Outcome{Silent: true}, nil
	}

	if isCommand {
		return e.runCommand(ctx, cc, text)
	}

	reply, err := e.Execute(ctx, cc, text)
	if err != nil {
		return Outcome{}, err
	}
	if reply == "" {
		reply = noAnswerReply
	}
	return Outcome{Reply: reply}, nil
}

func (e *Engine) runCommand(ctx context.Context, cc *state.ConversationContext, text string) (Outcome, error) {
	switch r := tools.RunCommand(ctx, e.registry, cc, text).(type) {
	case tools.TextResult:
		if err := e.store.Save(ctx, cc); err != nil {
			return Outcome{}, err
		}
		return Outcome{Reply: r.Text}, nil
	case tools.ErrorResult:
		return Outcome{Reply: r.Message}, nil
	}
	return Outcome{Reply: failureReply}, nil
}

// Execute runs the reasoning loop for one user message. It returns the
// formatted final answer; an empty string means the step budget was
// exhausted without a conclusion, which callers must treat as a normal
// if degraded outcome.
func (e *Engine) Execute(ctx context.Context, cc *state.ConversationContext, text string) (string, error) {
	sys := e.sysCfg.Load()
	window := sys.HistoryWindow
	maxSteps := sys.MaxSteps
	cc.Append(window, state.NewTextEntry(state.RoleUser, text))

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(sys.LLMTimeoutMs)*time.Millisecond)
	defer cancel()

	prompt := text
	for step := 0; step < maxSteps; step++ {
		history := cc.History
		if prompt != "" && len(history) > 0 {
			// The fresh prompt travels separately on the first call;
			// don't send the same text twice.
			history = history[:len(history)-1]
		}

		resp, err := e.client.Generate(runCtx, &llm.Request{
			System:  e.systemPrompt(cc),
			Prompt:  prompt,
			History: history,
			Tools:   e.registry.Schemas(),
		})
		if err != nil {
			slog.ErrorContext(ctx, "Model call failed", "chat_id", cc.ChatID, "step", step, "error", err)
			if serr := e.store.Save(ctx, cc); serr != nil {
				return "", serr
			}
			return aiUnavailableReply, nil
		}

		if resp.ToolCall != nil {
			tc := resp.ToolCall
			cc.Append(window, state.NewFunctionCallEntry(tc.Name, tc.Args))
			obs := e.registry.Dispatch(ctx, cc, tc.Name, tc.Args)
			cc.Append(window, state.NewFunctionResponseEntry(tc.Name, obs))
			prompt = ""
			continue
		}

		cc.Append(window, state.NewTextEntry(state.RoleModel, resp.Text))
		if err := e.store.Save(ctx, cc); err != nil {
			return "", err
		}
		return FormatForSignal(resp.Text), nil
	}

	slog.WarnContext(ctx, "Step budget exhausted without an answer",
		"chat_id", cc.ChatID, "max_steps", maxSteps)
	if err := e.store.Save(ctx, cc); err != nil {
		return "", err
	}
	return "", nil
}

// systemPrompt assembles the instruction for the model, folding in the
// conversation's pinned note when present.
func (e *Engine) systemPrompt(cc *state.ConversationContext) string {
	prompt := e.appCfg.SystemPrompt
	if cc.PinnedNote != "" {
		prompt += "\n\nPinned note for this conversation: " + cc.PinnedNote
	}
	return prompt
}

// RegisterReply records a reply that is about to be sent to the bot's
// own number, so its sync echo is not mistaken for a new self-note.
func (e *Engine) RegisterReply(in *filter.Inbound, reply string) {
	if in.SelfNote {
		e.selfSent.Add(reply)
	}
}

// cutMention strips a case-insensitive mention prefix. Lowercasing can
// change a rune's byte length, so the match runs over runes instead of
// slicing the original text by the mention's byte count.
func cutMention(text, mention string) (string, bool) {
	runes := []rune(text)
	n := utf8.RuneCountInString(mention)
	if len(runes) < n || !strings.EqualFold(string(runes[:n]), mention) {
		return "", false
	}
	return strings.TrimSpace(string(runes[n:])), true
}
