// Package broker defines the durable at-least-once task-delivery contract
// between the producer and consumer processes (spec.md §6 "Broker
// protocol"), plus a JetStream-backed implementation and an in-memory test
// double satisfying the same interface.
package broker

import (
	"context"
	"time"

	"github.com/codeready-toolchain/agentrunner/internal/taskkey"
)

// Envelope is the JSON broker message body: a TaskKey plus the identity and
// replay metadata the consumer needs to rebuild a Task (spec.md §3, §6).
type Envelope struct {
	TaskKey   taskkey.Key `json:"task_key"`
	UUID      string      `json:"uuid"`
	Requester string      `json:"requester"`
	IsResumed bool        `json:"is_resumed"`
}

// Delivery wraps one received Envelope with its broker-specific
// acknowledgment handle. The consumer acks only after the task's directory
// rename to its terminal home succeeds (spec.md §6: "ack on terminal
// transition only"), never on receipt.
type Delivery interface {
	Envelope() Envelope
	// Ack confirms successful terminal handling; the message will not be
	// redelivered.
	Ack(ctx context.Context) error
	// Nak requests redelivery, used when enqueue-adjacent bookkeeping (e.g.
	// tracker.Prepare) fails after delivery but before any task-owned state
	// was mutated.
	Nak(ctx context.Context) error
	// InProgress extends the delivery's visibility/ack-wait window so a
	// long-running coordinator session isn't redelivered out from under
	// itself. A no-op on implementations without a native renewal call.
	InProgress() error
}

// StopSignal is the narrow capability get_with_signal_check polls for
// early-exit, satisfied by *signalmgr.StopChecker in production and a
// plain func in tests.
type StopSignal interface {
	Stopped(ctx context.Context) bool
}

// Broker is the uniform capability surface the producer and consumer
// program against (spec.md §6: "durable queue of JSON envelopes ...
// at-least-once, single-in-flight per uuid"). Concrete implementations:
// NATSBroker (production, JetStream-backed) and MemoryBroker (tests).
type Broker interface {
	// Enqueue publishes one envelope. Per spec.md §4.1, the caller must
	// have already called tracker.Prepare() before Enqueue, and must roll
	// the labels back if Enqueue fails.
	Enqueue(ctx context.Context, env Envelope) error

	// GetWithSignalCheck blocks up to timeout for the next message,
	// returning nil with no error on timeout. If stop reports true during
	// the wait, it returns nil immediately rather than waiting out the
	// full timeout. Internally polls at pollInterval (spec.md §6: "must
	// not rely on blocking broker calls that cannot be interrupted").
	GetWithSignalCheck(ctx context.Context, timeout time.Duration, stop StopSignal, pollInterval time.Duration) (Delivery, error)

	// Close releases the broker's underlying connection/consumer handles.
	Close() error
}
