package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	s1 := b.Subscribe()
	s2 := b.Subscribe()
	require.Equal(t, 2, b.SubscriberCount())

	b.Publish(New(EventSolutionFound, "solution found", "address", "a1", "challenge_id", "C1"))

	for _, sub := range []Subscriber{s1, s2} {
		select {
		case ev := <-sub:
			assert.Equal(t, EventSolutionFound, ev.Type)
			assert.Equal(t, "a1", ev.Metadata["address"])
			assert.NotEmpty(t, ev.ID)
			assert.False(t, ev.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)

	_, open := <-sub
	assert.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	// Never drained: its buffer fills and later events are dropped for
	// it, not for the publisher.
	_ = b.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			b.Publish(New(EventMinerStarted, "pass"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
}

func TestNewMetadataPairs(t *testing.T) {
	ev := New(EventSolutionAccepted, "ok", "address", "a1", "nonce", "cafe")
	assert.Equal(t, "a1", ev.Metadata["address"])
	assert.Equal(t, "cafe", ev.Metadata["nonce"])
}
