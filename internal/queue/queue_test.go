package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivellm/synap/internal/errs"
)

func testCfg() Config {
	return Config{MaxDepth: 4, AckDeadline: 50 * time.Millisecond, DefaultMaxRetries: 1, DefaultPriority: 5}
}

func TestPublishPriorityOrder(t *testing.T) {
	m := New(testCfg())
	low, _ := m.Publish("q", []byte("low"), 1, 1, nil)
	high, _ := m.Publish("q", []byte("high"), 9, 1, nil)
	mid, _ := m.Publish("q", []byte("mid"), 5, 1, nil)

	first, _ := m.Consume("q", "c1")
	second, _ := m.Consume("q", "c1")
	third, _ := m.Consume("q", "c1")

	assert.Equal(t, high.ID, first.ID)
	assert.Equal(t, mid.ID, second.ID)
	assert.Equal(t, low.ID, third.ID)
}

func TestPublishQueueFull(t *testing.T) {
	m := New(testCfg())
	for i := 0; i < 4; i++ {
		_, err := m.Publish("q", []byte("x"), 5, 1, nil)
		require.NoError(t, err)
	}
	_, err := m.Publish("q", []byte("x"), 5, 1, nil)
	assert.Equal(t, errs.QueueFull, errs.KindOf(err))
}

func TestConsumeEmptyReturnsNil(t *testing.T) {
	m := New(testCfg())
	msg, err := m.Consume("q", "c1")
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestAckRemovesPending(t *testing.T) {
	m := New(testCfg())
	msg, _ := m.Publish("q", []byte("x"), 5, 1, nil)
	consumed, _ := m.Consume("q", "c1")
	require.Equal(t, msg.ID, consumed.ID)

	require.NoError(t, m.Ack("q", msg.ID))
	err := m.Ack("q", msg.ID)
	assert.Equal(t, errs.MessageNotFound, errs.KindOf(err))
}

func TestNackRetryThenDeadLetter(t *testing.T) {
	m := New(testCfg())
	msg, _ := m.Publish("q", []byte("x"), 5, 1, nil)
	m.Consume("q", "c1")

	require.NoError(t, m.Nack("q", msg.ID, true))
	assert.Equal(t, 1, m.Stats("q").ReadyDepth)

	requeued, _ := m.Consume("q", "c1")
	require.NoError(t, m.Nack("q", requeued.ID, true))

	st := m.Stats("q")
	assert.Equal(t, 1, st.DLQDepth)
	assert.Equal(t, 0, st.ReadyDepth)
	assert.Equal(t, uint64(2), st.Nacked)
	assert.Equal(t, uint64(1), st.DeadLettered)
}

func TestNackDropWithoutRequeue(t *testing.T) {
	m := New(testCfg())
	msg, _ := m.Publish("q", []byte("x"), 5, 1, nil)
	m.Consume("q", "c1")
	require.NoError(t, m.Nack("q", msg.ID, false))
	st := m.Stats("q")
	assert.Equal(t, 0, st.ReadyDepth)
	assert.Equal(t, 0, st.PendingDepth)
}

func TestDLQPeekAndRequeue(t *testing.T) {
	m := New(Config{MaxDepth: 4, AckDeadline: time.Second, DefaultMaxRetries: 0, DefaultPriority: 5})
	msg, _ := m.Publish("q", []byte("x"), 5, 0, nil)
	m.Consume("q", "c1")
	require.NoError(t, m.Nack("q", msg.ID, true)) // retry count 1 exceeds max-retries 0

	dlq := m.DLQPeek("q", 10)
	require.Len(t, dlq, 1)

	require.NoError(t, m.DLQRequeue("q", dlq[0].ID))
	assert.Equal(t, 1, m.Stats("q").ReadyDepth)
	assert.Equal(t, 0, m.Stats("q").DLQDepth)

	err := m.DLQRequeue("q", "missing")
	assert.Equal(t, errs.MessageNotFound, errs.KindOf(err))
}

func TestSweeperRequeuesExpired(t *testing.T) {
	m := New(testCfg())
	msg, _ := m.Publish("q", []byte("x"), 5, 1, nil)
	m.Consume("q", "c1")

	m.StartSweeper(10 * time.Millisecond)
	defer m.StopSweeper()

	deadline := time.After(time.Second)
	for {
		st := m.Stats("q")
		if st.ReadyDepth == 1 && st.PendingDepth == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("sweeper did not requeue message %s in time", msg.ID)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestPeek(t *testing.T) {
	m := New(testCfg())
	m.Publish("q", []byte("a"), 1, 1, nil)
	m.Publish("q", []byte("b"), 9, 1, nil)
	peeked := m.Peek("q", 10)
	require.Len(t, peeked, 2)
	assert.Equal(t, []byte("b"), peeked[0].Payload)
	assert.Equal(t, 2, m.Stats("q").ReadyDepth)
}
