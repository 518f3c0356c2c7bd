package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigil/pkg/config"
	"sigil/pkg/filter"
	"sigil/pkg/llm"
	"sigil/pkg/state"
	"sigil/pkg/tools"
)

// scriptedClient replays canned responses in order.
type scriptedClient struct {
	responses []*llm.Response
	err       error
	calls     int
	requests  []*llm.Request
}

func (s *scriptedClient) Generate(_ context.Context, req *llm.Request) (*llm.Response, error) {
	s.calls++
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	idx := s.calls - 1
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return s.responses[idx], nil
}

func (s *scriptedClient) Provider() string                { return "scripted" }
func (s *scriptedClient) IsTransientError(err error) bool { return false }

type memStore struct {
	mu       sync.Mutex
	m        map[string]*state.ConversationContext
	saves    int
	saveErr  error
	invalids []string
}

func newMemStore() *memStore {
	return &memStore{m: make(map[string]*state.ConversationContext)}
}

func (s *memStore) Load(_ context.Context, chatID string) (*state.ConversationContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cc, ok := s.m[chatID]; ok {
		return cc.Clone(), nil
	}
	cc := state.NewConversationContext(chatID)
	s.m[chatID] = cc.Clone()
	return cc, nil
}

func (s *memStore) Save(ctx context.Context, cc *state.ConversationContext) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.m[cc.ChatID] = cc.Clone()
	return nil
}

func (s *memStore) Invalidate(_ context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalids = append(s.invalids, chatID)
	return nil
}

func (s *memStore) get(chatID string) *state.ConversationContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[chatID]
}

func (s *memStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *memStore) put(cc *state.ConversationContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[cc.ChatID] = cc
}

func newTestEngine(t *testing.T, client llm.Client, st *memStore) (*Engine, *tools.Registry, *filter.SelfSentSet) {
	t.Helper()
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(tools.NewTaskTool()))
	require.NoError(t, reg.Register(tools.NewConfigTool()))
	selfSent := filter.NewSelfSentSet()
	appCfg := &config.Config{SystemPrompt: "You are a helpful assistant.", BotName: "sigil"}
	return New(client, reg, st, selfSent, appCfg, config.NewSystemConfigRef(config.DefaultSystemConfig())), reg, selfSent
}

func userMsg(text string) *filter.Inbound {
	return &filter.Inbound{Source: "+15550001111", Text: text, Timestamp: 1}
}

func TestHandleMessageDirectAnswer(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{{Text: "Hi there!"}}}
	st := newMemStore()
	engine, _, _ := newTestEngine(t, client, st)

	out, err := engine.HandleMessage(context.Background(), userMsg("hello"))
	require.NoError(t, err)
	assert.Equal(t, "Hi there!", out.Reply)
	assert.False(t, out.Silent)

	// Transcript persisted with both turns.
	cc := st.get("+15550001111")
	require.Len(t, cc.History, 2)
	assert.Equal(t, state.RoleUser, cc.History[0].Role)
	assert.Equal(t, state.RoleModel, cc.History[1].Role)
}

func TestToolObservationFlowsBackToModel(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{
		{ToolCall: &llm.ToolCall{Name: "task", Args: map[string]any{"sub_command": "list"}}},
		{Text: "You have no to-dos."},
	}}
	st := newMemStore()
	engine, _, _ := newTestEngine(t, client, st)

	out, err := engine.HandleMessage(context.Background(), userMsg("what's on my list?"))
	require.NoError(t, err)
	assert.Equal(t, "You have no to-dos.", out.Reply)
	assert.Equal(t, 2, client.calls)

	// The second call must carry the observation in its history.
	second := client.requests[1]
	assert.Empty(t, second.Prompt, "prompt must be empty after the first iteration")
	var sawObservation bool
	for _, e := range second.History {
		for _, p := range e.Parts {
			if p.FunctionResponse != nil && p.FunctionResponse.Response == "No to-dos." {
				sawObservation = true
			}
		}
	}
	assert.True(t, sawObservation)
}

func TestSearchObservationProducesFinalAnswer(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{
		{ToolCall: &llm.ToolCall{Name: "web_search", Args: map[string]any{"query": "weather"}}},
		{Text: "It's sunny."},
	}}
	st := newMemStore()
	engine, reg, _ := newTestEngine(t, client, st)
	require.NoError(t, reg.Register(tools.Descriptor{
		Name:        "web_search",
		Description: "Search the web.",
		Schema: tools.Schema{
			Properties: []tools.Property{{Name: "query", Type: "string", Description: "Search query."}},
			Required:   []string{"query"},
		},
		Execute: func(context.Context, *state.ConversationContext, map[string]any) (string, error) {
			return "sunny", nil
		},
	}))

	out, err := engine.HandleMessage(context.Background(), userMsg("what's the weather?"))
	require.NoError(t, err)
	assert.Equal(t, "It's sunny.", out.Reply)

	var obs string
	for _, e := range client.requests[1].History {
		for _, p := range e.Parts {
			if p.FunctionResponse != nil {
				obs = p.FunctionResponse.Response
			}
		}
	}
	assert.Equal(t, "sunny", obs)
}

func TestStepBudgetExhaustion(t *testing.T) {
	// The model never concludes: every call asks for another tool.
	client := &scriptedClient{responses: []*llm.Response{
		{ToolCall: &llm.ToolCall{Name: "task", Args: map[string]any{"sub_command": "list"}}},
	}}
	st := newMemStore()
	engine, _, _ := newTestEngine(t, client, st)

	out, err := engine.HandleMessage(context.Background(), userMsg("loop forever"))
	require.NoError(t, err)
	assert.Equal(t, noAnswerReply, out.Reply)
	assert.Equal(t, config.DefaultSystemConfig().MaxSteps, client.calls)

	// The partial transcript still gets persisted.
	assert.NotEmpty(t, st.get("+15550001111").History)
}

func TestUnknownToolObservationKeepsLoopAlive(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{
		{ToolCall: &llm.ToolCall{Name: "no_such_tool", Args: nil}},
		{Text: "Sorry, I can't do that."},
	}}
	st := newMemStore()
	engine, _, _ := newTestEngine(t, client, st)

	out, err := engine.HandleMessage(context.Background(), userMsg("do the thing"))
	require.NoError(t, err)
	assert.Equal(t, "Sorry, I can't do that.", out.Reply)

	second := client.requests[1]
	var obs string
	for _, e := range second.History {
		for _, p := range e.Parts {
			if p.FunctionResponse != nil {
				obs = p.FunctionResponse.Response
			}
		}
	}
	assert.Equal(t, "Error: Unknown tool 'no_such_tool'", obs)
}

func TestModelFailureYieldsUnavailableNotice(t *testing.T) {
	client := &scriptedClient{err: errors.New("all providers failed")}
	st := newMemStore()
	engine, _, _ := newTestEngine(t, client, st)

	out, err := engine.HandleMessage(context.Background(), userMsg("hello"))
	require.NoError(t, err)
	assert.Equal(t, aiUnavailableReply, out.Reply)
}

func TestBangCommandBypassesModel(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{{Text: "should not be called"}}}
	st := newMemStore()
	engine, _, _ := newTestEngine(t, client, st)

	out, err := engine.HandleMessage(context.Background(), userMsg("!task add buy milk"))
	require.NoError(t, err)
	assert.Equal(t, "Added to-do: buy milk", out.Reply)
	assert.Zero(t, client.calls)
	assert.Equal(t, []string{"buy milk"}, st.get("+15550001111").Tasks)
}

func TestCommandErrorDoesNotPersist(t *testing.T) {
	client := &scriptedClient{}
	st := newMemStore()
	engine, _, _ := newTestEngine(t, client, st)

	out, err := engine.HandleMessage(context.Background(), userMsg("!task"))
	require.NoError(t, err)
	assert.Contains(t, out.Reply, "sub_command")
	assert.Zero(t, st.saveCount())
}

func TestSaveFailurePropagates(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{{Text: "hi"}}}
	st := newMemStore()
	st.saveErr = errors.New("disk full")
	engine, _, _ := newTestEngine(t, client, st)

	_, err := engine.HandleMessage(context.Background(), userMsg("hello"))
	require.Error(t, err)
}

func TestGroupFirstContactDefaultsToMentionGate(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{{Text: "hi group"}}}
	st := newMemStore()
	engine, _, _ := newTestEngine(t, client, st)

	in := &filter.Inbound{Source: "+15550001111", GroupID: "grp-1", Text: "hello everyone"}
	out, err := engine.HandleMessage(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, out.Silent, "unmentioned group chatter must be ignored")
	assert.Zero(t, client.calls)

	cc := st.get("grp-1")
	require.NotNil(t, cc)
	assert.True(t, cc.Initialized)
	assert.Equal(t, state.ModeMention, cc.Mode)
}

func TestMentionUnlocksGatedGroup(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{{Text: "hello!"}}}
	st := newMemStore()
	engine, _, _ := newTestEngine(t, client, st)
	ctx := context.Background()

	in := &filter.Inbound{Source: "+15550001111", GroupID: "grp-2", Text: "hey"}
	_, err := engine.HandleMessage(ctx, in)
	require.NoError(t, err)

	in2 := &filter.Inbound{Source: "+15550001111", GroupID: "grp-2", Text: "@Sigil what's up?"}
	out, err := engine.HandleMessage(ctx, in2)
	require.NoError(t, err)
	assert.False(t, out.Silent)
	assert.Equal(t, "hello!", out.Reply)

	// The mention prefix is stripped before the model sees the text.
	assert.Equal(t, "what's up?", client.requests[0].Prompt)
}

func TestQuietModeStillAllowsCommands(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{{Text: "nope"}}}
	st := newMemStore()
	engine, _, _ := newTestEngine(t, client, st)
	ctx := context.Background()

	cc := state.NewConversationContext("+15550001111")
	cc.Mode = state.ModeQuiet
	cc.Initialized = true
	st.put(cc)

	out, err := engine.HandleMessage(ctx, userMsg("are you there?"))
	require.NoError(t, err)
	assert.True(t, out.Silent)
	assert.Zero(t, client.calls)

	out, err = engine.HandleMessage(ctx, userMsg("!config mode ai"))
	require.NoError(t, err)
	assert.Equal(t, "Mode set to ai.", out.Reply)
	assert.Equal(t, state.ModeAI, st.get("+15550001111").Mode)
}

func TestRegisterReplyOnlyForSelfNotes(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{{Text: "noted"}}}
	st := newMemStore()
	engine, _, selfSent := newTestEngine(t, client, st)

	engine.RegisterReply(&filter.Inbound{Source: "+15550009999", SelfNote: true}, "noted")
	assert.True(t, selfSent.Consume("noted"))

	engine.RegisterReply(&filter.Inbound{Source: "+15550001111"}, "noted")
	assert.False(t, selfSent.Consume("noted"))
}

func TestMentionStripHandlesMultibyteBotName(t *testing.T) {
	// U+212A (Kelvin sign) lowercases to a shorter byte sequence, so a
	// byte-length strip would cut into the rune after the mention.
	client := &scriptedClient{responses: []*llm.Response{{Text: "ok"}}}
	st := newMemStore()
	engine, _, _ := newTestEngine(t, client, st)
	engine.appCfg.BotName = "KBot"

	cc := state.NewConversationContext("grp-k")
	cc.Mode = state.ModeMention
	cc.Initialized = true
	st.put(cc)

	in := &filter.Inbound{Source: "+15550001111", GroupID: "grp-k", Text: "@kbot ñandú?"}
	out, err := engine.HandleMessage(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, out.Silent)
	assert.Equal(t, "ñandú?", client.requests[0].Prompt)
}

func TestSystemConfigReloadAppliesToNextMessage(t *testing.T) {
	// The model never concludes, so the step budget caps the calls.
	client := &scriptedClient{responses: []*llm.Response{
		{ToolCall: &llm.ToolCall{Name: "task", Args: map[string]any{"sub_command": "list"}}},
	}}
	st := newMemStore()
	engine, _, _ := newTestEngine(t, client, st)

	next := config.DefaultSystemConfig()
	next.MaxSteps = 3
	engine.sysCfg.Store(next)

	out, err := engine.HandleMessage(context.Background(), userMsg("loop"))
	require.NoError(t, err)
	assert.Equal(t, noAnswerReply, out.Reply)
	assert.Equal(t, 3, client.calls)
}

// concurrentClient is safe for parallel Generate calls.
type concurrentClient struct {
	calls int32
}

func (c *concurrentClient) Generate(context.Context, *llm.Request) (*llm.Response, error) {
	atomic.AddInt32(&c.calls, 1)
	return &llm.Response{Text: "ok"}, nil
}

func (c *concurrentClient) Provider() string            { return "concurrent" }
func (c *concurrentClient) IsTransientError(error) bool { return false }

func TestSystemConfigHotSwapDuringHandling(t *testing.T) {
	client := &concurrentClient{}
	st := newMemStore()
	engine, _, _ := newTestEngine(t, client, st)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				next := config.DefaultSystemConfig()
				next.MaxSteps = 5
				engine.sysCfg.Store(next)
			}
		}
	}()

	for i := 0; i < 50; i++ {
		_, err := engine.HandleMessage(context.Background(),
			&filter.Inbound{Source: fmt.Sprintf("+1555000%04d", i), Text: "hi"})
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()
}

func TestSystemPromptCarriesPinnedNote(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{{Text: "ok"}}}
	st := newMemStore()
	engine, _, _ := newTestEngine(t, client, st)

	cc := state.NewConversationContext("+15550001111")
	cc.PinnedNote = "prefers short answers"
	cc.Initialized = true
	st.put(cc)

	_, err := engine.HandleMessage(context.Background(), userMsg("hello"))
	require.NoError(t, err)
	assert.Contains(t, client.requests[0].System, "prefers short answers")
}
