package mqttpub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfflineBufferFIFOOrder(t *testing.T) {
	b := newOfflineBuffer(10)
	for i := 0; i < 5; i++ {
		b.push(message{topic: "t", payload: []byte{byte(i)}})
	}

	for i := 0; i < 5; i++ {
		msg, ok := b.pop()
		require.True(t, ok)
		assert.Equal(t, byte(i), msg.payload[0], "messages must be delivered in publish order")
	}

	_, ok := b.pop()
	assert.False(t, ok)
}

func TestOfflineBufferDropsOldestOnOverflow(t *testing.T) {
	b := newOfflineBuffer(3)
	for i := 0; i < 5; i++ {
		b.push(message{topic: "t", payload: []byte{byte(i)}})
	}

	assert.Equal(t, 3, b.depth())
	assert.Equal(t, uint64(2), b.droppedCount())

	msg, ok := b.pop()
	require.True(t, ok)
	assert.Equal(t, byte(2), msg.payload[0], "oldest surviving message should be the 3rd pushed")
}

func TestOfflineBufferPushFrontRestoresOrder(t *testing.T) {
	b := newOfflineBuffer(10)
	b.push(message{topic: "t", payload: []byte{1}})
	b.push(message{topic: "t", payload: []byte{2}})

	failed, ok := b.pop()
	require.True(t, ok)
	assert.Equal(t, byte(1), failed.payload[0])

	// Simulate a failed flush attempt: restore the popped message to the
	// front so the next flush retries it before newer entries.
	b.pushFront(failed)

	msg, ok := b.pop()
	require.True(t, ok)
	assert.Equal(t, byte(1), msg.payload[0])
}

func TestOfflineBufferDefaultCapacity(t *testing.T) {
	b := newOfflineBuffer(0)
	assert.Equal(t, 1000, b.capacity)
}
