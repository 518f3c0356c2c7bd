package agent

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigil/pkg/filter"
	"sigil/pkg/llm"
	"sigil/pkg/monitor"
)

type recordingSender struct {
	mu    sync.Mutex
	sends []sentReply
}

type sentReply struct {
	recipient string
	message   string
}

func (r *recordingSender) Send(_ context.Context, recipient, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends = append(r.sends, sentReply{recipient: recipient, message: message})
	return nil
}

func (r *recordingSender) all() []sentReply {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]sentReply, len(r.sends))
	copy(out, r.sends)
	return out
}

func TestPoolProcessesAndSends(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{{Text: "hello back"}}}
	engine, _, _ := newTestEngine(t, client, newMemStore())
	sender := &recordingSender{}
	pool := NewPool(engine, sender, nil, 2, 8)
	pool.Start(context.Background())

	require.True(t, pool.Enqueue(userMsg("hi")))
	pool.Stop()

	sends := sender.all()
	require.Len(t, sends, 1)
	assert.Equal(t, "+15550001111", sends[0].recipient)
	assert.Equal(t, "hello back", sends[0].message)
}

func TestPoolSendsFailureNoticeOnEngineError(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{{Text: "ok"}}}
	st := newMemStore()
	st.saveErr = assert.AnError
	engine, _, _ := newTestEngine(t, client, st)
	sender := &recordingSender{}
	pool := NewPool(engine, sender, nil, 1, 8)
	pool.Start(context.Background())

	require.True(t, pool.Enqueue(userMsg("hi")))
	pool.Stop()

	sends := sender.all()
	require.Len(t, sends, 1)
	assert.Equal(t, failureReply, sends[0].message)
}

func TestPoolDropsOnOverflowAndAfterStop(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{{Text: "ok"}}}
	engine, _, _ := newTestEngine(t, client, newMemStore())
	pool := NewPool(engine, &recordingSender{}, nil, 1, 1)

	// Workers not started, so the single buffered slot fills up.
	assert.True(t, pool.Enqueue(userMsg("first")))
	assert.False(t, pool.Enqueue(userMsg("second")))

	pool.Start(context.Background())
	pool.Stop()
	assert.False(t, pool.Enqueue(userMsg("after stop")))
}

func TestPoolRegistersSelfNoteReplies(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{{Text: "noted"}}}
	engine, _, selfSent := newTestEngine(t, client, newMemStore())
	sender := &recordingSender{}
	pool := NewPool(engine, sender, nil, 1, 8)
	pool.Start(context.Background())

	require.True(t, pool.Enqueue(&filter.Inbound{Source: "+15550009999", Text: "remember this", SelfNote: true}))
	pool.Stop()

	require.Len(t, sender.all(), 1)
	assert.True(t, selfSent.Consume("noted"), "the outgoing reply must be registered for echo suppression")
}

// ctxAwareClient fails once its context is canceled and records the
// request ID each call carried.
type ctxAwareClient struct {
	mu         sync.Mutex
	requestIDs []string
}

func (c *ctxAwareClient) Generate(ctx context.Context, _ *llm.Request) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id, _ := ctx.Value(monitor.RequestIDKey).(string)
	c.mu.Lock()
	c.requestIDs = append(c.requestIDs, id)
	c.mu.Unlock()
	return &llm.Response{Text: "drained"}, nil
}

func (c *ctxAwareClient) Provider() string            { return "ctxaware" }
func (c *ctxAwareClient) IsTransientError(error) bool { return false }

func TestStopDrainsQueuedWorkWithLiveContext(t *testing.T) {
	client := &ctxAwareClient{}
	st := newMemStore()
	engine, _, _ := newTestEngine(t, client, st)
	sender := &recordingSender{}
	pool := NewPool(engine, sender, nil, 1, 8)

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, pool.Enqueue(userMsg("queued before shutdown")))
	pool.Start(ctx)

	// Shutdown order: the pool drains first, the process context dies
	// last, so the queued message still completes and persists.
	pool.Stop()
	cancel()

	sends := sender.all()
	require.Len(t, sends, 1)
	assert.Equal(t, "drained", sends[0].message)
	assert.Positive(t, st.saveCount())
}

func TestProcessAttachesRequestIDToContext(t *testing.T) {
	client := &ctxAwareClient{}
	engine, _, _ := newTestEngine(t, client, newMemStore())
	pool := NewPool(engine, &recordingSender{}, nil, 1, 8)
	pool.Start(context.Background())

	require.True(t, pool.Enqueue(userMsg("hi")))
	pool.Stop()

	require.Len(t, client.requestIDs, 1)
	assert.NotEmpty(t, client.requestIDs[0])
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()
	var active, maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("chat-1")
			defer unlock()
			n := atomic.AddInt32(&active, 1)
			for {
				cur := atomic.LoadInt32(&maxActive)
				if n <= cur || atomic.CompareAndSwapInt32(&maxActive, cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxActive))
}

func TestKeyedMutexAllowsDistinctKeysConcurrently(t *testing.T) {
	km := NewKeyedMutex()

	unlockA := km.Lock("chat-a")
	done := make(chan struct{})
	go func() {
		unlockB := km.Lock("chat-b")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key should not block")
	}
	unlockA()
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	km := NewKeyedMutex()
	unlock := km.Lock("chat-1")
	unlock()

	km.mu.Lock()
	defer km.mu.Unlock()
	assert.Empty(t, km.locks, "entries must be reclaimed once released")
}
