package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	topic := NewTopic[string]()
	a, cancelA := topic.Subscribe(4)
	b, cancelB := topic.Subscribe(4)
	defer cancelA()
	defer cancelB()

	topic.Publish("hello")

	assert.Equal(t, "hello", <-a)
	assert.Equal(t, "hello", <-b)
	assert.Equal(t, 2, topic.Subscribers())
}

func TestCancelClosesChannel(t *testing.T) {
	topic := NewTopic[int]()
	ch, cancel := topic.Subscribe(1)
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, topic.Subscribers())

	// Publishing with no subscribers is a no-op.
	topic.Publish(1)
}

func TestFullBufferDropsInsteadOfBlocking(t *testing.T) {
	topic := NewTopic[int]()
	ch, cancel := topic.Subscribe(1)
	defer cancel()

	topic.Publish(1)
	topic.Publish(2)

	assert.Equal(t, 1, <-ch)
	assert.Equal(t, uint64(1), topic.Dropped())
}

func TestClose(t *testing.T) {
	topic := NewTopic[int]()
	ch, cancel := topic.Subscribe(1)
	topic.Close()
	topic.Close()
	cancel()

	_, ok := <-ch
	require.False(t, ok)

	late, _ := topic.Subscribe(1)
	_, ok = <-late
	assert.False(t, ok)
}
