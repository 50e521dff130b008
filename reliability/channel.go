package reliability

import (
	"sort"
	"sync"
	"time"

	"github.com/opd-ai/ovpncore/crypto"
	"github.com/opd-ai/ovpncore/limits"
	"github.com/opd-ai/ovpncore/packet"
	"github.com/opd-ai/ovpncore/vpnerr"
	"github.com/sirupsen/logrus"
)

// DefaultAcksPerPacket is how many ids a single ACK packet carries unless the
// caller asks for more.
const DefaultAcksPerPacket = 4

// MaxPeerAcks bounds the set of peer-acknowledged ids kept for TakePeerAcks.
// Once full, the lowest ids are forgotten first.
const MaxPeerAcks = 2 * limits.MaxAckIDs

// Outbound is a control packet sent to the peer and not yet acknowledged.
type Outbound struct {
	ID      packet.PacketID
	Raw     []byte
	SentAt  time.Time
	Retries int
}

// Channel is the reliability state of one control channel: the inbound
// reorder buffer, the ids we still owe the peer an ACK for, the ids the peer
// acknowledged, and our in-flight packets.
//
// Channel is safe for concurrent use.
type Channel struct {
	mu sync.Mutex

	reorder  *ReorderBuffer
	toAck    []packet.PacketID
	toAckSet map[packet.PacketID]struct{}
	peerAcks map[packet.PacketID]struct{}

	nextID   packet.PacketID
	inflight map[packet.PacketID]*Outbound

	timeProvider crypto.TimeProvider
}

// NewChannel creates a channel. Pass nil for timeProvider to use the wall
// clock.
func NewChannel(timeProvider crypto.TimeProvider) *Channel {
	if timeProvider == nil {
		timeProvider = crypto.DefaultTimeProvider{}
	}
	c := &Channel{timeProvider: timeProvider}
	c.reset()
	return c
}

func (c *Channel) reset() {
	c.reorder = NewReorderBuffer()
	c.toAck = nil
	c.toAckSet = make(map[packet.PacketID]struct{})
	c.peerAcks = make(map[packet.PacketID]struct{})
	c.nextID = 0
	c.inflight = make(map[packet.PacketID]*Outbound)
}

// EnqueueInbound accepts one parsed control packet and returns the packets
// that are now deliverable in order.
//
// Piggybacked and ACK-only acknowledgements retire our in-flight packets and
// are merged into the peer-ack set. ACK-only packets are never reordered.
// Every other packet id is queued for acknowledgement, duplicates included,
// since a retransmission means our earlier ACK was lost.
func (c *Channel) EnqueueInbound(p *packet.Packet) ([]*packet.Packet, error) {
	const op = "reliability.EnqueueInbound"
	if p == nil {
		return nil, vpnerr.Errorf(vpnerr.Truncated, op, "nil packet")
	}
	if !p.Opcode.IsControl() {
		return nil, vpnerr.Errorf(vpnerr.UnknownOpcode, op, "%s is not a control opcode", p.Opcode)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.ackLocked(p.ACKs)
	if p.IsAckOnly() {
		return nil, nil
	}

	if _, queued := c.toAckSet[p.ID]; !queued {
		c.toAckSet[p.ID] = struct{}{}
		c.toAck = append(c.toAck, p.ID)
	}

	released := c.reorder.Feed(p)
	if len(released) == 0 {
		crypto.NewLogger("reliability", "EnqueueInbound").WithFields(logrus.Fields{
			"packet_id":     p.ID,
			"next_expected": c.reorder.NextExpected(),
			"buffered":      c.reorder.Len(),
		}).Debug("Control packet held for reordering")
	}
	return released, nil
}

// PendingAcks consumes up to max ids that still need acknowledging, oldest
// first. max <= 0 selects DefaultAcksPerPacket.
func (c *Channel) PendingAcks(max int) []packet.PacketID {
	if max <= 0 {
		max = DefaultAcksPerPacket
	}
	if max > limits.MaxAckIDs {
		max = limits.MaxAckIDs
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if max > len(c.toAck) {
		max = len(c.toAck)
	}
	out := make([]packet.PacketID, max)
	copy(out, c.toAck[:max])
	c.toAck = c.toAck[max:]
	for _, id := range out {
		delete(c.toAckSet, id)
	}
	return out
}

// HasPendingAcks reports whether an ACK is owed to the peer.
func (c *Channel) HasPendingAcks() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.toAck) > 0
}

// TakePeerAcks drains the set of ids the peer acknowledged, in ascending
// order.
func (c *Channel) TakePeerAcks() []packet.PacketID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]packet.PacketID, 0, len(c.peerAcks))
	for id := range c.peerAcks {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	c.peerAcks = make(map[packet.PacketID]struct{})
	return out
}

// NextPacketID allocates the id for the next outbound control packet.
func (c *Channel) NextPacketID() packet.PacketID {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	return id
}

// Track records an outbound packet as in flight until the peer ACKs it.
func (c *Channel) Track(id packet.PacketID, raw []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight[id] = &Outbound{
		ID:     id,
		Raw:    append([]byte(nil), raw...),
		SentAt: c.timeProvider.Now(),
	}
}

// Ack retires in-flight packets and returns how many were outstanding.
func (c *Channel) Ack(ids ...packet.PacketID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ackLocked(ids)
}

func (c *Channel) ackLocked(ids []packet.PacketID) int {
	retired := 0
	for _, id := range ids {
		c.peerAcks[id] = struct{}{}
		if _, ok := c.inflight[id]; ok {
			delete(c.inflight, id)
			retired++
		}
	}
	if len(c.peerAcks) > MaxPeerAcks {
		c.trimPeerAcksLocked()
	}
	return retired
}

func (c *Channel) trimPeerAcksLocked() {
	ids := make([]packet.PacketID, 0, len(c.peerAcks))
	for id := range c.peerAcks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids[:len(ids)-MaxPeerAcks] {
		delete(c.peerAcks, id)
	}
}

// PeerAcks returns how many peer-acknowledged ids wait for TakePeerAcks.
func (c *Channel) PeerAcks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.peerAcks)
}

// Unacked returns the in-flight packets in id order.
func (c *Channel) Unacked() []Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sortedLocked(func(*Outbound) bool { return true })
}

// Expired returns the in-flight packets sent at least timeout ago and marks
// them as resent now.
func (c *Channel) Expired(timeout time.Duration) []Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.timeProvider.Now()
	out := c.sortedLocked(func(o *Outbound) bool { return now.Sub(o.SentAt) >= timeout })
	for i := range out {
		entry := c.inflight[out[i].ID]
		entry.SentAt = now
		entry.Retries++
		out[i] = *entry
	}
	return out
}

func (c *Channel) sortedLocked(keep func(*Outbound) bool) []Outbound {
	out := make([]Outbound, 0, len(c.inflight))
	for _, o := range c.inflight {
		if keep(o) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NextExpected returns the next inbound id the channel will release.
func (c *Channel) NextExpected() packet.PacketID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reorder.NextExpected()
}

// Buffered returns the number of inbound packets waiting on a gap.
func (c *Channel) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reorder.Len()
}

// Reset clears all state for a fresh session.
func (c *Channel) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}
