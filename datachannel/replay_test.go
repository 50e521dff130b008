package datachannel

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReplayWindowSequential(t *testing.T) {
	var w ReplayWindow
	for id := uint32(1); id <= 1000; id++ {
		if !w.Accept(id) {
			t.Fatalf("fresh id %d rejected", id)
		}
	}
	assert.Equal(t, uint32(1000), w.Highest())
	for id := uint32(1); id <= 1000; id++ {
		assert.False(t, w.Accept(id), "id %d accepted twice", id)
	}
}

func TestReplayWindowOutOfOrder(t *testing.T) {
	var w ReplayWindow
	order := []uint32{5, 2, 1, 9, 4, 3, 8, 7, 6}
	for _, id := range order {
		assert.True(t, w.Accept(id), "id %d", id)
	}
	for _, id := range order {
		assert.False(t, w.Check(id), "id %d", id)
	}
	assert.Equal(t, uint32(9), w.Highest())
}

func TestReplayWindowSlides(t *testing.T) {
	var w ReplayWindow
	assert.True(t, w.Accept(10))
	assert.True(t, w.Accept(10+ReplayWindowSize))

	assert.True(t, w.Check(10+1), "edge of window is still acceptable")
	assert.False(t, w.Check(10), "already seen")
	assert.False(t, w.Check(9), "behind window")

	assert.True(t, w.Accept(100000))
	assert.False(t, w.Check(100000-ReplayWindowSize-1))
	assert.True(t, w.Check(100000-ReplayWindowSize))
}

func TestReplayWindowLargeJumpClearsRing(t *testing.T) {
	var w ReplayWindow
	for id := uint32(1); id < 200; id++ {
		w.Accept(id)
	}
	jump := uint32(200 + 10*ReplayWindowSize)
	assert.True(t, w.Accept(jump))
	// Ids that share ring slots with the old entries must read as unseen.
	for id := jump - 100; id < jump; id++ {
		assert.True(t, w.Check(id), "id %d", id)
	}
}

func TestReplayWindowCheckIsReadOnly(t *testing.T) {
	var w ReplayWindow
	w.Accept(3)
	before := w
	assert.True(t, w.Check(4))
	assert.False(t, w.Check(3))
	assert.Equal(t, before, w)

	assert.False(t, w.Accept(3))
	assert.Equal(t, before, w, "rejected id must not change state")
}

func TestReplayWindowRejectsExhaustedIDs(t *testing.T) {
	var w ReplayWindow
	assert.False(t, w.Accept(math.MaxUint32))
	assert.True(t, w.Accept(math.MaxUint32-1))
}

func TestReplayWindowReset(t *testing.T) {
	var w ReplayWindow
	w.Accept(42)
	w.Reset()
	assert.Equal(t, uint32(0), w.Highest())
	assert.True(t, w.Accept(42))
}

func TestReplayWindowZeroID(t *testing.T) {
	var w ReplayWindow
	assert.True(t, w.Accept(0))
	assert.False(t, w.Accept(0))
}
