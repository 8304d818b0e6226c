package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/imboss96/storefront/internal/models"
)

const (
	defaultQueueSize = 256
	maxAttempts      = 3
)

// Dispatcher is a bounded in-process outbound email queue. Delivery is
// best-effort: each job is retried with backoff a few times, then
// dropped with a warning. Enqueueing never blocks the caller's flow
// beyond the channel send, and a full queue drops the job immediately.
type Dispatcher struct {
	relay     Relay
	storeName string
	logger    *slog.Logger
	delivered *prometheus.CounterVec

	queue   chan Message
	backoff time.Duration
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

type Option func(*Dispatcher)

func WithQueueSize(n int) Option {
	return func(d *Dispatcher) { d.queue = make(chan Message, n) }
}

func WithBackoff(b time.Duration) Option {
	return func(d *Dispatcher) { d.backoff = b }
}

func WithDeliveryCounter(c *prometheus.CounterVec) Option {
	return func(d *Dispatcher) { d.delivered = c }
}

func NewDispatcher(relay Relay, storeName string, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		relay:     relay,
		storeName: storeName,
		logger:    logger,
		queue:     make(chan Message, defaultQueueSize),
		backoff:   2 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for msg := range d.queue {
		d.deliver(msg)
	}
}

func (d *Dispatcher) deliver(msg Message) {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = d.relay.Send(ctx, msg)
		cancel()
		if err == nil {
			d.count("sent")
			return
		}
		if attempt < maxAttempts {
			time.Sleep(d.backoff * time.Duration(attempt))
		}
	}
	d.count("failed")
	d.logger.Warn("email delivery failed, dropping",
		"to", msg.To, "subject", msg.Subject, "error", err)
}

func (d *Dispatcher) count(result string) {
	if d.delivered != nil {
		d.delivered.WithLabelValues(result).Inc()
	}
}

// Enqueue queues a raw message. A full or closed queue drops it with a
// warning.
func (d *Dispatcher) Enqueue(msg Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.count("dropped")
		d.logger.Warn("email queue closed, dropping", "to", msg.To, "subject", msg.Subject)
		return
	}
	select {
	case d.queue <- msg:
	default:
		d.count("dropped")
		d.logger.Warn("email queue full, dropping", "to", msg.To, "subject", msg.Subject)
	}
}

// EnqueueOrderEvent renders and queues the email for one order event.
// Render failures are logged and swallowed; order flow never depends on
// email delivery.
func (d *Dispatcher) EnqueueOrderEvent(order *models.Order, event string) {
	msg, err := RenderOrderEmail(d.storeName, order, event)
	if err != nil {
		d.logger.Warn("email render failed", "order", order.ID, "event", event, "error", err)
		return
	}
	d.Enqueue(msg)
}

// Close stops intake and drains whatever is already queued. Enqueue
// after Close drops the message instead of panicking.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
