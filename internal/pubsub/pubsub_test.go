package pubsub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePattern(t *testing.T) {
	assert.NoError(t, ValidatePattern("orders.created"))
	assert.NoError(t, ValidatePattern("orders.*"))
	assert.NoError(t, ValidatePattern("orders.#"))
	assert.Error(t, ValidatePattern("orders.#.created"))
	assert.Error(t, ValidatePattern("orders.#.#"))
}

func TestExactSubscribeAndPublish(t *testing.T) {
	r := New()
	id, n, err := r.Subscribe([]string{"orders.created"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ch, ok := r.Channel(id)
	require.True(t, ok)

	_, matched, err := r.Publish("orders.created", []byte("hi"), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, matched)

	select {
	case msg := <-ch:
		assert.Equal(t, "hi", string(msg.Payload))
	case <-time.After(time.Second):
		t.Fatal("expected delivery")
	}

	st := r.Stats()
	assert.Equal(t, uint64(1), st.Published)
	assert.Equal(t, uint64(1), st.Delivered)
}

func TestWildcardStarMatchesOneSegment(t *testing.T) {
	r := New()
	id, _, err := r.Subscribe([]string{"orders.*"})
	require.NoError(t, err)
	ch, _ := r.Channel(id)

	_, matched, _ := r.Publish("orders.created", nil, nil)
	assert.Equal(t, 1, matched)
	<-ch

	_, matched, _ = r.Publish("orders.created.detail", nil, nil)
	assert.Equal(t, 0, matched)
}

func TestWildcardHashMatchesTrailingSegments(t *testing.T) {
	r := New()
	id, _, err := r.Subscribe([]string{"orders.#"})
	require.NoError(t, err)
	ch, _ := r.Channel(id)

	_, matched, _ := r.Publish("orders.created.detail", nil, nil)
	assert.Equal(t, 1, matched)
	<-ch

	_, matched, _ = r.Publish("shipments.created", nil, nil)
	assert.Equal(t, 0, matched)
}

func TestUnsubscribeAll(t *testing.T) {
	r := New()
	id, _, _ := r.Subscribe([]string{"orders.created", "orders.*"})
	r.Unsubscribe(id, nil)

	_, matched, _ := r.Publish("orders.created", nil, nil)
	assert.Equal(t, 0, matched)
	_, ok := r.Channel(id)
	assert.False(t, ok)
}

func TestUnsubscribeSinglePattern(t *testing.T) {
	r := New()
	id, _, _ := r.Subscribe([]string{"orders.created", "shipments.created"})
	r.Unsubscribe(id, []string{"orders.created"})

	_, matched, _ := r.Publish("orders.created", nil, nil)
	assert.Equal(t, 0, matched)
	_, matched, _ = r.Publish("shipments.created", nil, nil)
	assert.Equal(t, 1, matched)
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	r := New()
	id, _, _ := r.Subscribe([]string{"t"})
	ch, _ := r.Channel(id)
	for i := 0; i < cap(ch); i++ {
		_, _, err := r.Publish("t", nil, nil)
		require.NoError(t, err)
	}
	_, matched, _ := r.Publish("t", nil, nil)
	assert.Equal(t, 1, matched)
	st := r.Stats()
	assert.GreaterOrEqual(t, st.Dropped, uint64(1))
}
