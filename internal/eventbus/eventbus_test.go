package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishThenSubscribeReplaysHistory(t *testing.T) {
	b := New()
	b.Publish("one")
	b.Publish("two")

	ch := b.Subscribe()
	require.Len(t, ch, 2)
	assert.Equal(t, "one", <-ch)
	assert.Equal(t, "two", <-ch)
}

func TestBus_LiveDeliveryAfterSubscribe(t *testing.T) {
	b := New()
	ch := b.Subscribe()

	b.Publish("live")

	select {
	case e := <-ch:
		assert.Equal(t, "live", e)
	default:
		t.Fatal("expected live event")
	}
}

func TestBus_ReplayLimit(t *testing.T) {
	b := New()
	for i := 0; i < replayLimit+20; i++ {
		b.Publish(i)
	}

	ch := b.Subscribe()
	require.Len(t, ch, replayLimit)
	first := <-ch
	assert.Equal(t, 20, first) // oldest 20 dropped from replay
}

func TestBus_CloseClosesSubscribers(t *testing.T) {
	b := New()
	ch := b.Subscribe()
	b.Close()

	_, ok := <-ch
	assert.False(t, ok)

	// Publish after close is a no-op, not a panic.
	assert.NotPanics(t, func() { b.Publish("after-close") })
}

func TestBus_SubscribeAfterCloseReplaysHistory(t *testing.T) {
	b := New()
	b.Publish("one")
	b.Publish("two")
	b.Close()

	ch := b.Subscribe()
	require.Len(t, ch, 2)
	assert.Equal(t, "one", <-ch)
	assert.Equal(t, "two", <-ch)

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after replaying history")
}

func TestBus_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := New()
	_ = b.Subscribe() // never drained

	for i := 0; i < subscriberBuffer+50; i++ {
		b.Publish(i)
	}
	// Reaching here without deadlock is the assertion.
}
