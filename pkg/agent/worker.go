package agent

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"sigil/pkg/api"
	"sigil/pkg/filter"
	"sigil/pkg/monitor"
)

// Pool feeds filtered inbound messages through the engine on a fixed
// number of workers. Messages for the same conversation are serialized
// by a keyed mutex; different conversations proceed in parallel.
type Pool struct {
	engine  *Engine
	sender  api.Sender
	monitor monitor.Monitor
	queue   chan *filter.Inbound
	locks   *KeyedMutex
	workers int
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewPool builds a pool. queueSize bounds the backlog; Enqueue reports
// overflow instead of blocking the receive loop.
func NewPool(engine *Engine, sender api.Sender, mon monitor.Monitor, workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Pool{
		engine:  engine,
		sender:  sender,
		monitor: mon,
		queue:   make(chan *filter.Inbound, queueSize),
		locks:   NewKeyedMutex(),
		workers: workers,
	}
}

// Start launches the workers. They run until Stop closes the queue.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			for in := range p.queue {
				p.process(ctx, id, in)
			}
		}(i)
	}
	slog.Info("Worker pool started", "workers", p.workers, "queue", cap(p.queue))
}

// Enqueue hands a message to the pool. It returns false when the
// backlog is full or the pool is stopping; the caller decides whether
// to drop or report.
func (p *Pool) Enqueue(in *filter.Inbound) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.queue <- in:
		return true
	default:
		return false
	}
}

// Stop closes the queue and waits for in-flight work to finish.
// Already-queued messages are drained, not dropped.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	slog.Info("Worker pool drained")
}

// typingSender is implemented by transports that can show a typing
// indicator while a reply is being produced.
type typingSender interface {
	StartTyping(ctx context.Context, recipient string) error
	StopTyping(ctx context.Context, recipient string) error
}

// receiptSender is implemented by transports that can mark inbound
// messages as read.
type receiptSender interface {
	SendReceipt(ctx context.Context, recipient string, timestamp int64) error
}

func (p *Pool) process(ctx context.Context, workerID int, in *filter.Inbound) {
	requestID := uuid.NewString()
	ctx = context.WithValue(ctx, monitor.RequestIDKey, requestID)
	key := in.ConversationKey()
	log := slog.With("request_id", requestID, "worker", workerID, "chat_id", key)

	unlock := p.locks.Lock(key)
	defer unlock()

	// Read receipts and typing indicators are best effort.
	if rs, ok := p.sender.(receiptSender); ok && !in.SelfNote && in.Timestamp > 0 {
		if err := rs.SendReceipt(ctx, in.Source, in.Timestamp); err != nil {
			log.Debug("Read receipt failed", "error", err)
		}
	}
	if ts, ok := p.sender.(typingSender); ok {
		if err := ts.StartTyping(ctx, key); err != nil {
			log.Debug("Typing indicator failed", "error", err)
		} else {
			defer func() {
				if err := ts.StopTyping(ctx, key); err != nil {
					log.Debug("Typing indicator failed", "error", err)
				}
			}()
		}
	}

	if p.monitor != nil {
		p.monitor.OnMessage(monitor.MessageEvent{
			Role: "user", ChatID: key, Sender: in.SourceName, Text: in.Text,
		})
	}

	outcome, err := p.engine.HandleMessage(ctx, in)
	if err != nil {
		log.Error("Message handling failed", "error", err)
		p.send(ctx, log, in, failureReply)
		return
	}
	if outcome.Silent {
		log.Debug("Message gated, no reply")
		return
	}

	if p.monitor != nil {
		p.monitor.OnMessage(monitor.MessageEvent{
			Role: "assistant", ChatID: key, Text: outcome.Reply,
		})
	}
	p.send(ctx, log, in, outcome.Reply)
}

func (p *Pool) send(ctx context.Context, log *slog.Logger, in *filter.Inbound, reply string) {
	if reply == "" {
		return
	}
	// Register before sending: the sync echo can arrive before Send
	// returns.
	p.engine.RegisterReply(in, reply)
	if err := p.sender.Send(ctx, in.ConversationKey(), reply); err != nil {
		log.Error("Failed to send reply", "error", err)
	}
}
