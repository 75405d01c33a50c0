package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/codeready-toolchain/agentrunner/internal/config"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSBroker is the production Broker, grounded on
// C360Studio-semspec's processor/task-generator/component.go: a durable
// JetStream stream plus a pull consumer, fetched one message at a time with
// a bounded wait so the caller's stop signal can be checked between fetches.
type NATSBroker struct {
	nc       *nats.Conn
	js       jetstream.JetStream
	stream   jetstream.Stream
	consumer jetstream.Consumer
	cfg      config.BrokerConfig
}

// Connect dials the broker URL, ensures the configured stream and durable
// pull consumer exist, and returns a ready-to-use NATSBroker.
func Connect(ctx context.Context, cfg config.BrokerConfig) (*NATSBroker, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("broker: connect %s: %w", cfg.URL, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("broker: jetstream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{cfg.Subject},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("broker: ensure stream %s: %w", cfg.Stream, err)
	}

	ackWait := cfg.AckWait
	if ackWait <= 0 {
		ackWait = 30 * time.Minute // a coordinator session may run long
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       cfg.DurableName,
		FilterSubject: cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
		MaxDeliver:    0, // unlimited: process-fatal restarts must be able to redeliver
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("broker: ensure consumer %s: %w", cfg.DurableName, err)
	}

	return &NATSBroker{nc: nc, js: js, stream: stream, consumer: consumer, cfg: cfg}, nil
}

// Enqueue publishes one envelope to the configured subject.
func (b *NATSBroker) Enqueue(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("broker: marshal envelope: %w", err)
	}
	if _, err := b.js.Publish(ctx, b.cfg.Subject, data); err != nil {
		return fmt.Errorf("broker: publish: %w", err)
	}
	return nil
}

// GetWithSignalCheck implements the blocking-with-signal-interruption
// contract over jetstream.Consumer.Fetch: each Fetch call waits at most
// pollInterval, so the overall timeout and stop signal are both honored to
// within one poll interval, matching spec.md §6's ≈1s resolution.
func (b *NATSBroker) GetWithSignalCheck(ctx context.Context, timeout time.Duration, stop StopSignal, pollInterval time.Duration) (Delivery, error) {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if stop != nil && stop.Stopped(ctx) {
			return nil, nil
		}

		wait := pollInterval
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		if wait <= 0 {
			break
		}

		msgs, err := b.consumer.Fetch(1, jetstream.FetchMaxWait(wait))
		if err != nil {
			return nil, fmt.Errorf("broker: fetch: %w", err)
		}

		for msg := range msgs.Messages() {
			var env Envelope
			if err := json.Unmarshal(msg.Data(), &env); err != nil {
				// A malformed envelope can never succeed on redelivery either;
				// ack it away rather than poisoning the consumer forever.
				_ = msg.Ack()
				continue
			}
			return &natsDelivery{msg: msg, env: env}, nil
		}

		if fetchErr := msgs.Error(); fetchErr != nil && fetchErr != context.DeadlineExceeded {
			return nil, fmt.Errorf("broker: fetch stream error: %w", fetchErr)
		}
	}

	return nil, nil
}

// Close drains the underlying NATS connection.
func (b *NATSBroker) Close() error {
	b.nc.Close()
	return nil
}

type natsDelivery struct {
	msg jetstream.Msg
	env Envelope
}

func (d *natsDelivery) Envelope() Envelope { return d.env }

func (d *natsDelivery) Ack(ctx context.Context) error {
	return d.msg.Ack()
}

func (d *natsDelivery) Nak(ctx context.Context) error {
	return d.msg.Nak()
}

func (d *natsDelivery) InProgress() error {
	return d.msg.InProgress()
}
