package publish

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tofcam/internal/tof/frames"
)

func TestBusFanOut(t *testing.T) {
	b := NewBus()
	fast := make(chan frames.Frame, 4)
	slow := make(chan frames.Frame, 1)
	require.NoError(t, b.Subscribe("fast", fast))
	require.NoError(t, b.Subscribe("slow", slow))

	for i := 0; i < 3; i++ {
		b.Publish(frames.Frame{Distances: []float64{float64(i)}})
	}

	st := b.Stats()
	assert.Equal(t, uint64(3), st.Published)
	assert.Equal(t, SubscriberStats{Sent: 3}, st.Subscribers["fast"])
	assert.Equal(t, SubscriberStats{Sent: 1, Dropped: 2}, st.Subscribers["slow"])
	assert.Equal(t, uint64(4), st.Sent)
	assert.Equal(t, uint64(2), st.Dropped)

	// the slow subscriber keeps the oldest frame
	assert.Equal(t, []float64{0}, (<-slow).Distances)
	assert.Len(t, fast, 3)
}

func TestBusSubscribeErrors(t *testing.T) {
	b := NewBus()
	ch := make(chan frames.Frame, 1)
	require.NoError(t, b.Subscribe("a", ch))
	assert.ErrorIs(t, b.Subscribe("a", ch), ErrSubscriberExists)
	assert.Error(t, b.Subscribe("nil", nil))
	assert.ErrorIs(t, b.Unsubscribe("b"), ErrSubscriberNotFound)
	require.NoError(t, b.Unsubscribe("a"))

	b.Publish(frames.Frame{})
	assert.Empty(t, ch)
}

func TestBusClose(t *testing.T) {
	b := NewBus()
	ch := make(chan frames.Frame, 1)
	require.NoError(t, b.Subscribe("a", ch))
	require.NoError(t, b.Close())

	b.Publish(frames.Frame{})
	assert.Empty(t, ch)
	assert.ErrorIs(t, b.Subscribe("b", ch), ErrBusClosed)
	assert.ErrorIs(t, b.Close(), ErrBusClosed)
	assert.Zero(t, b.Stats().Published)
}
