package reliability

import (
	"errors"
	"testing"
	"time"

	"github.com/opd-ai/ovpncore/crypto"
	"github.com/opd-ai/ovpncore/packet"
	"github.com/opd-ai/ovpncore/vpnerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelEnqueueInboundOrders(t *testing.T) {
	ch := NewChannel(nil)
	input := []packet.PacketID{5, 2, 1, 9, 4, 3, 0, 8, 7, 10, 4, 3, 5, 6}

	var got []packet.PacketID
	for _, id := range input {
		released, err := ch.EnqueueInbound(controlPacket(id))
		require.NoError(t, err)
		got = append(got, releasedIDs(released)...)
	}
	assert.Equal(t, []packet.PacketID{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, got)
	assert.Equal(t, packet.PacketID(11), ch.NextExpected())
	assert.Equal(t, 0, ch.Buffered())
}

func TestChannelAckOnlyIsNotReordered(t *testing.T) {
	ch := NewChannel(nil)
	var local, remote packet.SessionID
	ack := packet.NewAck(0, local, remote, []packet.PacketID{3, 1})

	released, err := ch.EnqueueInbound(ack)
	require.NoError(t, err)
	assert.Empty(t, released)
	assert.Equal(t, 0, ch.Buffered())
	assert.False(t, ch.HasPendingAcks(), "ACKs are never acknowledged")
	assert.Equal(t, []packet.PacketID{1, 3}, ch.TakePeerAcks())
	assert.Empty(t, ch.TakePeerAcks(), "peer acks are consumed")
}

func TestChannelPendingAcks(t *testing.T) {
	ch := NewChannel(nil)
	for _, id := range []packet.PacketID{2, 0, 1, 2, 3, 4, 5} {
		_, err := ch.EnqueueInbound(controlPacket(id))
		require.NoError(t, err)
	}

	assert.True(t, ch.HasPendingAcks())
	assert.Equal(t, []packet.PacketID{2, 0, 1, 3}, ch.PendingAcks(0))
	assert.Equal(t, []packet.PacketID{4, 5}, ch.PendingAcks(10))
	assert.False(t, ch.HasPendingAcks())
	assert.Empty(t, ch.PendingAcks(1))

	_, err := ch.EnqueueInbound(controlPacket(1))
	require.NoError(t, err)
	assert.Equal(t, []packet.PacketID{1}, ch.PendingAcks(1), "retransmissions are acknowledged again")
}

func TestChannelTracksInFlight(t *testing.T) {
	clock := crypto.NewFixedTimeProvider(time.Unix(1700000000, 0))
	ch := NewChannel(clock)

	for i := 0; i < 3; i++ {
		id := ch.NextPacketID()
		assert.Equal(t, packet.PacketID(i), id)
		ch.Track(id, []byte{byte(i)})
	}
	require.Len(t, ch.Unacked(), 3)

	assert.Equal(t, 1, ch.Ack(1, 42))
	unacked := ch.Unacked()
	require.Len(t, unacked, 2)
	assert.Equal(t, packet.PacketID(0), unacked[0].ID)
	assert.Equal(t, packet.PacketID(2), unacked[1].ID)

	// Piggybacked ACKs on an inbound control packet retire packets too.
	p := controlPacket(0)
	p.ACKs = []packet.PacketID{0}
	_, err := ch.EnqueueInbound(p)
	require.NoError(t, err)
	assert.Equal(t, []packet.PacketID{2}, []packet.PacketID{ch.Unacked()[0].ID})
	assert.Equal(t, []packet.PacketID{0, 1, 42}, ch.TakePeerAcks())
}

func TestChannelExpired(t *testing.T) {
	clock := crypto.NewFixedTimeProvider(time.Unix(1700000000, 0))
	ch := NewChannel(clock)
	ch.Track(ch.NextPacketID(), []byte("hello"))

	assert.Empty(t, ch.Expired(2*time.Second))
	clock.Advance(2 * time.Second)

	due := ch.Expired(2 * time.Second)
	require.Len(t, due, 1)
	assert.Equal(t, []byte("hello"), due[0].Raw)
	assert.Equal(t, 1, due[0].Retries)
	assert.Equal(t, clock.Now(), due[0].SentAt)

	assert.Empty(t, ch.Expired(2*time.Second), "resent packets restart their timer")
}

func TestChannelRejectsNonControl(t *testing.T) {
	ch := NewChannel(nil)
	_, err := ch.EnqueueInbound(&packet.Packet{Opcode: packet.DataV1})
	assert.True(t, errors.Is(err, vpnerr.ErrUnknownOpcode))

	_, err = ch.EnqueueInbound(nil)
	assert.True(t, errors.Is(err, vpnerr.ErrTruncated))
}

func TestChannelReset(t *testing.T) {
	ch := NewChannel(nil)
	_, _ = ch.EnqueueInbound(controlPacket(0))
	_, _ = ch.EnqueueInbound(controlPacket(2))
	ch.Track(ch.NextPacketID(), nil)

	ch.Reset()
	assert.Equal(t, packet.PacketID(0), ch.NextExpected())
	assert.Equal(t, 0, ch.Buffered())
	assert.False(t, ch.HasPendingAcks())
	assert.Empty(t, ch.Unacked())
	assert.Equal(t, packet.PacketID(0), ch.NextPacketID())
}

func TestChannelPeerAcksAreBounded(t *testing.T) {
	ch := NewChannel(nil)
	for id := packet.PacketID(0); id < MaxPeerAcks+50; id++ {
		ch.Track(ch.NextPacketID(), nil)
		assert.Equal(t, 1, ch.Ack(id))
	}
	assert.Empty(t, ch.Unacked())
	assert.Equal(t, MaxPeerAcks, ch.PeerAcks())

	taken := ch.TakePeerAcks()
	require.Len(t, taken, MaxPeerAcks)
	assert.Equal(t, packet.PacketID(50), taken[0], "lowest ids are forgotten first")
	assert.Equal(t, packet.PacketID(MaxPeerAcks+49), taken[len(taken)-1])
	assert.Equal(t, 0, ch.PeerAcks())
}
