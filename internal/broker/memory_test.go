package broker

import (
	"context"
	"testing"
	"time"

	"github.com/codeready-toolchain/agentrunner/internal/taskkey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type alwaysStopped struct{}

func (alwaysStopped) Stopped(context.Context) bool { return true }

type neverStopped struct{}

func (neverStopped) Stopped(context.Context) bool { return false }

func testEnvelope(n int) Envelope {
	return Envelope{
		TaskKey:   taskkey.NewGitHub(taskkey.KindIssue, "acme", "widgets", n),
		UUID:      "uuid-1",
		Requester: "alice",
	}
}

func TestMemoryBrokerEnqueueThenGet(t *testing.T) {
	b := NewMemoryBroker()
	require.NoError(t, b.Enqueue(context.Background(), testEnvelope(1)))

	d, err := b.GetWithSignalCheck(context.Background(), time.Second, neverStopped{}, 10*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, 1, d.Envelope().TaskKey.Number)
	assert.Equal(t, 0, b.Len())
}

func TestMemoryBrokerGetTimesOutWhenEmpty(t *testing.T) {
	b := NewMemoryBroker()
	d, err := b.GetWithSignalCheck(context.Background(), 30*time.Millisecond, neverStopped{}, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestMemoryBrokerGetReturnsImmediatelyOnStop(t *testing.T) {
	b := NewMemoryBroker()
	start := time.Now()
	d, err := b.GetWithSignalCheck(context.Background(), 5*time.Second, alwaysStopped{}, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, d)
	assert.Less(t, time.Since(start), time.Second)
}

func TestMemoryBrokerNakRequeues(t *testing.T) {
	b := NewMemoryBroker()
	require.NoError(t, b.Enqueue(context.Background(), testEnvelope(7)))

	d, err := b.GetWithSignalCheck(context.Background(), time.Second, neverStopped{}, 10*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, d)

	require.NoError(t, d.Nak(context.Background()))
	assert.Equal(t, 1, b.Len())

	redelivered, err := b.GetWithSignalCheck(context.Background(), time.Second, neverStopped{}, 10*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, redelivered)
	assert.Equal(t, 7, redelivered.Envelope().TaskKey.Number)
}

func TestMemoryBrokerAckIsTerminal(t *testing.T) {
	b := NewMemoryBroker()
	require.NoError(t, b.Enqueue(context.Background(), testEnvelope(3)))

	d, err := b.GetWithSignalCheck(context.Background(), time.Second, neverStopped{}, 10*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, d.Ack(context.Background()))
	assert.Equal(t, 0, b.Len())
}

func TestMemoryBrokerFIFOOrdering(t *testing.T) {
	b := NewMemoryBroker()
	for i := 1; i <= 3; i++ {
		require.NoError(t, b.Enqueue(context.Background(), testEnvelope(i)))
	}

	for i := 1; i <= 3; i++ {
		d, err := b.GetWithSignalCheck(context.Background(), time.Second, neverStopped{}, 10*time.Millisecond)
		require.NoError(t, err)
		require.NotNil(t, d)
		assert.Equal(t, i, d.Envelope().TaskKey.Number)
	}
}
