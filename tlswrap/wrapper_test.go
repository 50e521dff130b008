package tlswrap

import (
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/opd-ai/ovpncore/crypto"
	"github.com/opd-ai/ovpncore/packet"
	"github.com/opd-ai/ovpncore/vpnerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSessionID = packet.SessionID{1, 2, 3, 4, 5, 6, 7, 8}

func wrapperPair(t *testing.T, strategy Strategy) (client, server *Wrapper) {
	t.Helper()
	k := sequentialKey(t)
	clock := crypto.NewFixedTimeProvider(time.Unix(1700000000, 0))

	client, err := NewWrapper(Config{Strategy: strategy, Key: k, Direction: Inverse, TimeProvider: clock})
	require.NoError(t, err)
	server, err = NewWrapper(Config{Strategy: strategy, Key: k, Direction: Normal, TimeProvider: clock})
	require.NoError(t, err)
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func hardReset() *packet.Packet {
	return &packet.Packet{Opcode: packet.HardResetClientV2, LocalSessionID: testSessionID}
}

func TestTLSAuthVector(t *testing.T) {
	client, _ := wrapperPair(t, Auth)
	raw, err := client.Wrap(hardReset())
	require.NoError(t, err)
	assert.Equal(t,
		"380102030405060708"+"3647902577839423b58b17ca6af3b0971e4f40a1"+"00000001"+"6553f100"+"0000000000",
		hex.EncodeToString(raw))
}

func TestWrapperRoundTrip(t *testing.T) {
	for _, strategy := range []Strategy{Auth, Crypt} {
		t.Run(strategy.String(), func(t *testing.T) {
			client, server := wrapperPair(t, strategy)
			pkt := &packet.Packet{
				Opcode:          packet.ControlV1,
				KeyID:           1,
				LocalSessionID:  testSessionID,
				ACKs:            []packet.PacketID{3, 4},
				RemoteSessionID: packet.SessionID{9, 9, 9, 9, 9, 9, 9, 9},
				ID:              5,
				Payload:         []byte("client hello"),
			}

			raw, err := client.Wrap(pkt)
			require.NoError(t, err)
			plainLen := 1 + 8 + 1 + 8 + 8 + 4 + len(pkt.Payload)
			assert.Equal(t, plainLen+client.Overhead(), len(raw))

			got, err := server.Unwrap(raw)
			require.NoError(t, err)
			assert.Equal(t, pkt, got)

			// Replies flow the other way.
			reply, err := server.Wrap(packet.NewAck(1, testSessionID, testSessionID, []packet.PacketID{5}))
			require.NoError(t, err)
			ack, err := client.Unwrap(reply)
			require.NoError(t, err)
			assert.True(t, ack.IsAckOnly())
			assert.Equal(t, []packet.PacketID{5}, ack.ACKs)
		})
	}
}

func TestTLSCryptHidesPayload(t *testing.T) {
	client, _ := wrapperPair(t, Crypt)
	pkt := hardReset()
	pkt.Opcode = packet.ControlV1
	pkt.Payload = []byte("super secret handshake record")

	raw, err := client.Wrap(pkt)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret")
}

func TestWrapperRejectsTampering(t *testing.T) {
	for _, strategy := range []Strategy{Auth, Crypt} {
		client, server := wrapperPair(t, strategy)
		raw, err := client.Wrap(hardReset())
		require.NoError(t, err)

		for i := 0; i < len(raw); i++ {
			tampered := append([]byte(nil), raw...)
			tampered[i] ^= 0x10
			_, err := server.Unwrap(tampered)
			if err == nil {
				t.Fatalf("%s: byte %d flipped, unwrap succeeded", strategy, i)
			}
		}

		_, err = server.Unwrap(raw)
		require.NoError(t, err, "%s: failed attempts must not consume the replay id", strategy)
	}
}

func TestWrapperRejectsReplay(t *testing.T) {
	for _, strategy := range []Strategy{Auth, Crypt} {
		client, server := wrapperPair(t, strategy)
		raw, err := client.Wrap(hardReset())
		require.NoError(t, err)

		_, err = server.Unwrap(raw)
		require.NoError(t, err)
		_, err = server.Unwrap(raw)
		assert.True(t, errors.Is(err, vpnerr.ErrReplay), "%s: %v", strategy, err)
	}
}

func TestWrapperDirectionMismatch(t *testing.T) {
	k := sequentialKey(t)
	a, err := NewWrapper(Config{Strategy: Crypt, Key: k, Direction: Inverse})
	require.NoError(t, err)
	b, err := NewWrapper(Config{Strategy: Crypt, Key: k, Direction: Inverse})
	require.NoError(t, err)

	raw, err := a.Wrap(hardReset())
	require.NoError(t, err)
	_, err = b.Unwrap(raw)
	assert.True(t, errors.Is(err, vpnerr.ErrHMACFailure))
}

func TestWrapperBidirectional(t *testing.T) {
	k := sequentialKey(t)
	a, err := NewWrapper(Config{Strategy: Auth, Key: k, Digest: "SHA256"})
	require.NoError(t, err)
	b, err := NewWrapper(Config{Strategy: Auth, Key: k, Digest: "SHA256"})
	require.NoError(t, err)
	assert.Equal(t, 32+8, a.Overhead())

	raw, err := a.Wrap(hardReset())
	require.NoError(t, err)
	_, err = b.Unwrap(raw)
	require.NoError(t, err)
}

func TestWrapperErrors(t *testing.T) {
	k := sequentialKey(t)
	_, err := NewWrapper(Config{Strategy: Auth})
	assert.True(t, errors.Is(err, vpnerr.ErrKeyCreation))
	_, err = NewWrapper(Config{Strategy: Auth, Key: k, Digest: "none"})
	assert.True(t, errors.Is(err, vpnerr.ErrAlgorithm))
	_, err = NewWrapper(Config{Key: k})
	assert.True(t, errors.Is(err, vpnerr.ErrAlgorithm))

	client, server := wrapperPair(t, Crypt)
	_, err = client.Wrap(&packet.Packet{Opcode: packet.DataV1})
	assert.True(t, errors.Is(err, vpnerr.ErrUnknownOpcode))
	_, err = server.Unwrap([]byte{0x38, 1, 2})
	assert.True(t, errors.Is(err, vpnerr.ErrTruncated))

	client.Close()
	_, err = client.Wrap(hardReset())
	assert.Error(t, err)
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("tls-crypt")
	require.NoError(t, err)
	assert.Equal(t, Crypt, s)
	s, err = ParseStrategy("AUTH")
	require.NoError(t, err)
	assert.Equal(t, Auth, s)
	_, err = ParseStrategy("v2")
	assert.Error(t, err)
}
