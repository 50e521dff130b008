package datachannel

import "math"

type replayBlock uint64

const (
	replayBlockBitLog = 6
	replayBlockBits   = 1 << replayBlockBitLog
	replayRingBlocks  = 1 << 7
	replayBlockMask   = replayRingBlocks - 1
	replayBitMask     = replayBlockBits - 1

	// ReplayWindowSize is how far behind the highest accepted packet id a
	// late packet may arrive and still be accepted.
	ReplayWindowSize = (replayRingBlocks - 1) * replayBlockBits
)

// ReplayWindow rejects packet ids that were already accepted or fall behind
// the sliding window. It is owned by the decrypting side of one key id and
// is not safe for concurrent use.
type ReplayWindow struct {
	last    uint64
	started bool
	ring    [replayRingBlocks]replayBlock
}

// Reset clears the window.
func (w *ReplayWindow) Reset() {
	*w = ReplayWindow{}
}

// Highest returns the highest accepted packet id.
func (w *ReplayWindow) Highest() uint32 {
	return uint32(w.last)
}

// Check reports whether id would be accepted without changing state.
func (w *ReplayWindow) Check(id uint32) bool {
	counter := uint64(id)
	if counter >= math.MaxUint32 {
		return false
	}
	if counter > w.last || !w.started {
		return true
	}
	if w.last-counter > ReplayWindowSize {
		return false
	}
	block := w.ring[(counter>>replayBlockBitLog)&replayBlockMask]
	return block&(1<<(counter&replayBitMask)) == 0
}

// Accept marks id as seen and reports whether it was fresh. State changes
// only when the id is accepted.
func (w *ReplayWindow) Accept(id uint32) bool {
	if !w.Check(id) {
		return false
	}
	counter := uint64(id)
	indexBlock := counter >> replayBlockBitLog
	if counter > w.last {
		current := w.last >> replayBlockBitLog
		diff := indexBlock - current
		if diff > replayRingBlocks {
			diff = replayRingBlocks
		}
		for i := current + 1; i <= current+diff; i++ {
			w.ring[i&replayBlockMask] = 0
		}
		w.last = counter
	}
	w.started = true
	w.ring[indexBlock&replayBlockMask] |= 1 << (counter & replayBitMask)
	return true
}
