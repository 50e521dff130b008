package reliability

import (
	"container/heap"

	"github.com/opd-ai/ovpncore/packet"
)

// ReorderBuffer releases control packets in packet id order. Ids start at 0.
// Duplicates of an id that was already released or is still buffered are
// discarded. It is not safe for concurrent use; Channel serializes access.
//
// The buffer has no upper bound. A session whose buffer keeps growing is
// abandoned by the caller.
type ReorderBuffer struct {
	nextExpected packet.PacketID
	pending      packetHeap
	buffered     map[packet.PacketID]struct{}
}

// NewReorderBuffer creates a buffer expecting packet id 0.
func NewReorderBuffer() *ReorderBuffer {
	return &ReorderBuffer{buffered: make(map[packet.PacketID]struct{})}
}

// NextExpected returns the id the buffer will release next.
func (r *ReorderBuffer) NextExpected() packet.PacketID { return r.nextExpected }

// Len returns the number of packets waiting for a gap to fill.
func (r *ReorderBuffer) Len() int { return r.pending.Len() }

// Feed processes one packet and returns every packet that can now be
// delivered in order. Returns nil if nothing is ready.
func (r *ReorderBuffer) Feed(p *packet.Packet) []*packet.Packet {
	if p.ID < r.nextExpected {
		return nil
	}
	if p.ID > r.nextExpected {
		if _, dup := r.buffered[p.ID]; dup {
			return nil
		}
		r.buffered[p.ID] = struct{}{}
		heap.Push(&r.pending, p)
		return nil
	}

	result := []*packet.Packet{p}
	r.nextExpected++

	for r.pending.Len() > 0 && r.pending[0].ID == r.nextExpected {
		next := heap.Pop(&r.pending).(*packet.Packet)
		delete(r.buffered, next.ID)
		result = append(result, next)
		r.nextExpected++
	}
	return result
}

// Reset drops every buffered packet and expects id 0 again.
func (r *ReorderBuffer) Reset() {
	r.nextExpected = 0
	r.pending = nil
	r.buffered = make(map[packet.PacketID]struct{})
}

// packetHeap is a min-heap ordered by packet id.
type packetHeap []*packet.Packet

func (h packetHeap) Len() int            { return len(h) }
func (h packetHeap) Less(i, j int) bool  { return h[i].ID < h[j].ID }
func (h packetHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *packetHeap) Push(x interface{}) { *h = append(*h, x.(*packet.Packet)) }

func (h *packetHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
