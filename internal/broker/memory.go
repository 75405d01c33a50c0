package broker

import (
	"context"
	"sync"
	"time"
)

// MemoryBroker is an in-process Broker test double: a buffered channel of
// envelopes standing in for a JetStream stream, grounded on the teacher's
// hand-rolled-deterministic-fake test style (test/e2e/mock_llm.go) rather
// than a generated mock. It satisfies the same at-least-once/ack contract
// as NATSBroker closely enough for producer/consumer unit tests: Nak
// re-queues at the tail, Ack discards.
type MemoryBroker struct {
	mu     sync.Mutex
	queue  []Envelope
	closed bool
}

// NewMemoryBroker returns an empty MemoryBroker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{}
}

func (b *MemoryBroker) Enqueue(ctx context.Context, env Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = append(b.queue, env)
	return nil
}

func (b *MemoryBroker) GetWithSignalCheck(ctx context.Context, timeout time.Duration, stop StopSignal, pollInterval time.Duration) (Delivery, error) {
	if pollInterval <= 0 {
		pollInterval = 50 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if stop != nil && stop.Stopped(ctx) {
			return nil, nil
		}

		b.mu.Lock()
		if len(b.queue) > 0 {
			env := b.queue[0]
			b.queue = b.queue[1:]
			b.mu.Unlock()
			return &memoryDelivery{broker: b, env: env}, nil
		}
		b.mu.Unlock()

		if time.Now().After(deadline) {
			return nil, nil
		}

		sleep := pollInterval
		if remaining := time.Until(deadline); remaining < sleep {
			sleep = remaining
		}
		if sleep <= 0 {
			return nil, nil
		}
		time.Sleep(sleep)
	}
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Len reports the number of envelopes currently queued, for test assertions.
func (b *MemoryBroker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

type memoryDelivery struct {
	broker *MemoryBroker
	env    Envelope
}

func (d *memoryDelivery) Envelope() Envelope { return d.env }

func (d *memoryDelivery) Ack(ctx context.Context) error { return nil }

// Nak re-queues the envelope at the tail, emulating JetStream redelivery
// without needing a delay timer for test purposes.
func (d *memoryDelivery) Nak(ctx context.Context) error {
	return d.broker.Enqueue(ctx, d.env)
}

func (d *memoryDelivery) InProgress() error { return nil }
