package messaging

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// defaultQueueBound caps the per-receiver queue for receivers without a
// registered handler. Overflow drops the oldest message first.
const defaultQueueBound = 128

// Handler consumes a delivered message. Returning means the message was
// accepted; processing may continue on the handler's own goroutine.
type Handler func(*Message) error

// Router delivers messages in-process: directly to registered handlers,
// or into a bounded per-receiver queue drained by explicit polls.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	queues   map[string][]*Message

	queueBound int
	logger     *zap.Logger

	delivered        atomic.Int64
	queued           atomic.Int64
	droppedExpired   atomic.Int64
	droppedOverflow  atomic.Int64
	deliveryFailures atomic.Int64
}

// RouterStatus is a counters snapshot.
type RouterStatus struct {
	Handlers         int   `json:"handlers"`
	QueuedMessages   int   `json:"queued_messages"`
	Delivered        int64 `json:"delivered"`
	Queued           int64 `json:"queued"`
	DroppedExpired   int64 `json:"dropped_expired"`
	DroppedOverflow  int64 `json:"dropped_overflow"`
	DeliveryFailures int64 `json:"delivery_failures"`
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithQueueBound overrides the per-receiver queue capacity.
func WithQueueBound(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.queueBound = n
		}
	}
}

// NewRouter creates a router.
func NewRouter(logger *zap.Logger, opts ...RouterOption) *Router {
	r := &Router{
		handlers:   make(map[string]Handler),
		queues:     make(map[string][]*Message),
		queueBound: defaultQueueBound,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterHandler installs the handler for a receiver id, replacing any
// previous one.
func (r *Router) RegisterHandler(receiverID string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[receiverID] = h
}

// UnregisterHandler removes a receiver's handler.
func (r *Router) UnregisterHandler(receiverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, receiverID)
}

// Send validates and delivers one message. With a registered handler the
// delivery is direct; otherwise the message is queued for a later Drain.
// Expired messages are never delivered.
func (r *Router) Send(msg *Message) error {
	if err := msg.Validate(); err != nil {
		if msg.Expired() {
			r.droppedExpired.Add(1)
		}
		return err
	}

	r.mu.RLock()
	h, ok := r.handlers[msg.Receiver]
	r.mu.RUnlock()

	if ok {
		if err := h(msg); err != nil {
			r.deliveryFailures.Add(1)
			return err
		}
		r.delivered.Add(1)
		return nil
	}

	r.mu.Lock()
	q := r.queues[msg.Receiver]
	if len(q) >= r.queueBound {
		q = q[1:]
		r.droppedOverflow.Add(1)
		r.logger.Warn("receiver queue overflow, dropping oldest",
			zap.String("receiver", msg.Receiver))
	}
	r.queues[msg.Receiver] = append(q, msg)
	r.mu.Unlock()

	r.queued.Add(1)
	return nil
}

// Broadcast delivers to every registered handler, excluding the sender,
// and returns the count delivered. A failing handler is counted and does
// not stop the rest.
func (r *Router) Broadcast(msg *Message) int {
	if err := msg.Validate(); err != nil {
		if msg.Expired() {
			r.droppedExpired.Add(1)
		}
		return 0
	}

	r.mu.RLock()
	targets := make(map[string]Handler, len(r.handlers))
	for id, h := range r.handlers {
		if id == msg.Sender {
			continue
		}
		targets[id] = h
	}
	r.mu.RUnlock()

	delivered := 0
	for id, h := range targets {
		if err := h(msg); err != nil {
			r.deliveryFailures.Add(1)
			r.logger.Debug("broadcast delivery failed",
				zap.String("receiver", id),
				zap.String("message_id", msg.ID),
				zap.Error(err))
			continue
		}
		delivered++
	}
	r.delivered.Add(int64(delivered))
	return delivered
}

// Drain removes and returns the receiver's queued messages. Messages
// that expired while queued are dropped here.
func (r *Router) Drain(receiverID string) []*Message {
	r.mu.Lock()
	q := r.queues[receiverID]
	delete(r.queues, receiverID)
	r.mu.Unlock()

	out := make([]*Message, 0, len(q))
	for _, msg := range q {
		if msg.Expired() {
			r.droppedExpired.Add(1)
			continue
		}
		out = append(out, msg)
	}
	return out
}

// Status returns a counters snapshot.
func (r *Router) Status() RouterStatus {
	r.mu.RLock()
	handlers := len(r.handlers)
	queuedNow := 0
	for _, q := range r.queues {
		queuedNow += len(q)
	}
	r.mu.RUnlock()

	return RouterStatus{
		Handlers:         handlers,
		QueuedMessages:   queuedNow,
		Delivered:        r.delivered.Load(),
		Queued:           r.queued.Load(),
		DroppedExpired:   r.droppedExpired.Load(),
		DroppedOverflow:  r.droppedOverflow.Load(),
		DeliveryFailures: r.deliveryFailures.Load(),
	}
}
