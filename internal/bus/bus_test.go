package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOut(t *testing.T) {
	b := New()
	_, ch1 := b.Subscribe()
	_, ch2 := b.Subscribe()

	b.Publish(TopicStatus, StatusEvent{ExternalID: "1", Status: "done"})

	for _, ch := range []<-chan Event{ch1, ch2} {
		ev := <-ch
		assert.Equal(t, TopicStatus, ev.Topic)
		payload, ok := ev.Payload.(StatusEvent)
		require.True(t, ok)
		assert.Equal(t, "1", payload.ExternalID)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	id, ch := b.Subscribe()
	assert.Equal(t, 1, b.Subscribers())

	b.Unsubscribe(id)
	assert.Equal(t, 0, b.Subscribers())

	_, open := <-ch
	assert.False(t, open)

	// Publishing after the last unsubscribe must not panic.
	b.Publish(TopicStats, nil)
	// Double unsubscribe is a no-op.
	b.Unsubscribe(id)
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := New()
	_, ch := b.Subscribe()

	// Overfill the buffer; Publish must never block.
	for i := 0; i < subscriberBuffer+10; i++ {
		b.Publish(TopicProgress, ProgressEvent{ExternalID: "1", Progress: float64(i)})
	}

	assert.Len(t, ch, subscriberBuffer)
}

func TestSubscribeAfterPublishSeesNothing(t *testing.T) {
	b := New()
	b.Publish(TopicNew, nil)

	_, ch := b.Subscribe()
	assert.Len(t, ch, 0, "no replay for late subscribers")
}
