package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/imboss96/storefront/internal/models"
)

type fakeRelay struct {
	mu       sync.Mutex
	failures int
	sent     []Message
	attempts int
}

func (f *fakeRelay) Send(ctx context.Context, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.failures > 0 {
		f.failures--
		return errors.New("relay down")
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeRelay) snapshot() (int, []Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts, append([]Message(nil), f.sent...)
}

func newTestDispatcher(t *testing.T, relay Relay) *Dispatcher {
	t.Helper()
	d := NewDispatcher(relay, "Test Store", testLogger(), WithBackoff(time.Millisecond))
	t.Cleanup(d.Close)
	return d
}

func TestDispatcherDelivers(t *testing.T) {
	relay := &fakeRelay{}
	d := newTestDispatcher(t, relay)

	d.Enqueue(Message{To: "buyer@example.com", Subject: "hi"})
	d.Close()

	_, sent := relay.snapshot()
	require.Len(t, sent, 1)
	require.Equal(t, "buyer@example.com", sent[0].To)
}

func TestDispatcherRetriesThenSucceeds(t *testing.T) {
	relay := &fakeRelay{failures: 2}
	d := newTestDispatcher(t, relay)

	d.Enqueue(Message{To: "buyer@example.com", Subject: "hi"})
	d.Close()

	attempts, sent := relay.snapshot()
	require.Equal(t, 3, attempts)
	require.Len(t, sent, 1)
}

func TestDispatcherDropsAfterMaxAttempts(t *testing.T) {
	relay := &fakeRelay{failures: 10}
	d := newTestDispatcher(t, relay)

	d.Enqueue(Message{To: "buyer@example.com", Subject: "hi"})
	d.Close()

	attempts, sent := relay.snapshot()
	require.Equal(t, maxAttempts, attempts)
	require.Empty(t, sent)
}

func TestDispatcherEnqueueAfterClose(t *testing.T) {
	relay := &fakeRelay{}
	d := newTestDispatcher(t, relay)
	d.Close()

	// A late enqueue is dropped, never a panic.
	require.NotPanics(t, func() {
		d.Enqueue(Message{To: "buyer@example.com", Subject: "late"})
	})

	_, sent := relay.snapshot()
	require.Empty(t, sent)
}

func TestEnqueueOrderEvent(t *testing.T) {
	relay := &fakeRelay{}
	d := newTestDispatcher(t, relay)

	order := &models.Order{
		ID:        7,
		Reference: "ref-7",
		Email:     "buyer@example.com",
		FullName:  "Jane Buyer",
		Items: []models.OrderItem{
			{Name: "Widget", Price: 1000, Quantity: 2},
		},
		Subtotal:    2000,
		ShippingFee: 300,
		Total:       2300,
	}
	d.EnqueueOrderEvent(order, string(models.StatusShipped))
	d.Close()

	_, sent := relay.snapshot()
	require.Len(t, sent, 1)
	require.Equal(t, "buyer@example.com", sent[0].To)
	require.Equal(t, "Order #7 has shipped", sent[0].Subject)
	require.Contains(t, sent[0].HTML, "Widget")
	require.Contains(t, sent[0].HTML, "2300.00")
	require.Contains(t, sent[0].HTML, "ref-7")
}
