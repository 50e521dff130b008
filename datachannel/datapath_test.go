package datachannel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/opd-ai/ovpncore/crypto"
	"github.com/opd-ai/ovpncore/limits"
	"github.com/opd-ai/ovpncore/packet"
	"github.com/opd-ai/ovpncore/vpnerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pathPair returns a client data path and the server data path that
// decrypts its output.
func pathPair(t *testing.T, alg algorithm, framing CompressionFraming, peerID uint32) (client, server *DataPath) {
	t.Helper()
	ck, sk := testKeys(t)
	cfg := Config{
		Cipher:  alg.cipher,
		Digest:  alg.digest,
		Framing: framing,
		PeerID:  peerID,
		PRNG:    crypto.NewSeededPRNG([]byte("datapath")),
	}
	client, err := NewDataPath(cfg, ck)
	require.NoError(t, err)
	server, err = NewDataPath(cfg, sk)
	require.NoError(t, err)
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestDataPathRoundTrip(t *testing.T) {
	framings := []CompressionFraming{FramingNone, FramingCompLZO, FramingCompress, FramingCompressV2}
	peers := []uint32{packet.PeerIDUndefined, 7}
	payloads := [][]byte{
		{},
		{0x50, 0x01},
		[]byte("hello data channel"),
		make([]byte, limits.MaxPayload),
	}

	for _, alg := range testAlgorithms {
		for _, framing := range framings {
			for _, peer := range peers {
				name := fmt.Sprintf("%s/%s/%s/peer=%d", alg.cipher, alg.digest, framing, peer)
				t.Run(name, func(t *testing.T) {
					client, server := pathPair(t, alg, framing, peer)
					assert.Equal(t, alg.kind, client.Kind())

					wire, err := client.Encrypt(payloads, 2)
					require.NoError(t, err)
					require.Len(t, wire, len(payloads))

					op, key := packet.SplitHeaderByte(wire[0][0])
					assert.Equal(t, uint8(2), key)
					if peer == packet.PeerIDUndefined {
						assert.Equal(t, packet.DataV1, op)
					} else {
						assert.Equal(t, packet.DataV2, op)
					}

					got, keepAlive, err := server.Decrypt(wire)
					require.NoError(t, err)
					assert.False(t, keepAlive)
					require.Len(t, got, len(payloads))
					for i := range payloads {
						assert.Equal(t, len(payloads[i]), len(got[i]))
						if len(payloads[i]) > 0 {
							assert.Equal(t, payloads[i], got[i])
						}
					}
				})
			}
		}
	}
}

func TestDataPathPacketIDsIncrement(t *testing.T) {
	client, _ := pathPair(t, algorithm{"AES-256-GCM", "none", Aead}, FramingNone, packet.PeerIDUndefined)
	for want := uint32(1); want <= 3; want++ {
		raw, err := client.EncryptPacket([]byte("x"), 0)
		require.NoError(t, err)
		assert.Equal(t, want, binary.BigEndian.Uint32(raw[1:5]))
	}
}

func TestDataPathReplayIsDropped(t *testing.T) {
	for _, alg := range testAlgorithms {
		client, server := pathPair(t, alg, FramingNone, packet.PeerIDUndefined)
		raw, err := client.EncryptPacket([]byte("once"), 0)
		require.NoError(t, err)

		payload, _, err := server.DecryptPacket(raw)
		require.NoError(t, err)
		assert.Equal(t, []byte("once"), payload)

		_, _, err = server.DecryptPacket(raw)
		assert.True(t, errors.Is(err, vpnerr.ErrReplay), "%v: %v", alg, err)

		got, _, err := server.Decrypt([][]byte{raw, raw})
		require.NoError(t, err, "replays are dropped, not fatal")
		assert.Empty(t, got)
	}
}

func TestDataPathTamperLeavesReplayWindow(t *testing.T) {
	for _, alg := range testAlgorithms {
		client, server := pathPair(t, alg, FramingNone, packet.PeerIDUndefined)
		raw, err := client.EncryptPacket([]byte("payload"), 0)
		require.NoError(t, err)

		tampered := append([]byte(nil), raw...)
		tampered[len(tampered)-1] ^= 0x80
		_, _, err = server.DecryptPacket(tampered)
		assert.True(t, errors.Is(err, vpnerr.ErrHMACFailure), "%v: %v", alg, err)
		assert.Equal(t, vpnerr.AbortSession, vpnerr.ActionOf(err))

		payload, _, err := server.DecryptPacket(raw)
		require.NoError(t, err, "genuine packet with the same id must still be accepted")
		assert.Equal(t, []byte("payload"), payload)
	}
}

func TestDataPathBatchAbortsOnAuthFailure(t *testing.T) {
	client, server := pathPair(t, algorithm{"AES-128-GCM", "none", Aead}, FramingNone, packet.PeerIDUndefined)
	wire, err := client.Encrypt([][]byte{[]byte("a"), []byte("b")}, 0)
	require.NoError(t, err)
	wire[1][len(wire[1])-1] ^= 0x01

	got, _, err := server.Decrypt(wire)
	assert.True(t, errors.Is(err, vpnerr.ErrHMACFailure))
	assert.Nil(t, got)
}

func TestDataPathHeaderIsAuthenticatedForV2(t *testing.T) {
	for _, alg := range []algorithm{{"AES-256-GCM", "none", Aead}, {"AES-256-CTR", "SHA256", CtrHmac}} {
		client, server := pathPair(t, alg, FramingNone, 7)
		raw, err := client.EncryptPacket([]byte("v2"), 1)
		require.NoError(t, err)

		raw[0] = packet.HeaderByte(packet.DataV2, 2)
		_, _, err = server.DecryptPacket(raw)
		assert.True(t, errors.Is(err, vpnerr.ErrHMACFailure), "%v: %v", alg, err)
	}
}

func TestDataPathPeerIDMismatch(t *testing.T) {
	ck, sk := testKeys(t)
	client, err := NewDataPath(Config{Cipher: "AES-256-GCM", PeerID: 7}, ck)
	require.NoError(t, err)
	server, err := NewDataPath(Config{Cipher: "AES-256-GCM", PeerID: 8}, sk)
	require.NoError(t, err)

	raw, err := client.EncryptPacket([]byte("x"), 0)
	require.NoError(t, err)
	_, _, err = server.DecryptPacket(raw)
	assert.True(t, errors.Is(err, vpnerr.ErrPeerIDMismatch))
	assert.Equal(t, vpnerr.DropPacket, vpnerr.ActionOf(err))
}

func TestDataPathPing(t *testing.T) {
	client, server := pathPair(t, algorithm{"CHACHA20-POLY1305", "none", Aead}, FramingCompLZO, packet.PeerIDUndefined)
	ping, err := client.Ping(0)
	require.NoError(t, err)
	data, err := client.EncryptPacket([]byte("data"), 0)
	require.NoError(t, err)

	got, keepAlive, err := server.Decrypt([][]byte{ping, data})
	require.NoError(t, err)
	assert.True(t, keepAlive)
	assert.Equal(t, [][]byte{[]byte("data")}, got)

	_, isPing, err := server.DecryptPacket(mustEncrypt(t, client, PingPayload))
	require.NoError(t, err)
	assert.True(t, isPing)
}

func mustEncrypt(t *testing.T, dp *DataPath, payload []byte) []byte {
	t.Helper()
	raw, err := dp.EncryptPacket(payload, 0)
	require.NoError(t, err)
	return raw
}

func TestDataPathCompressionMismatch(t *testing.T) {
	ck, sk := testKeys(t)
	client, err := NewDataPath(Config{Cipher: "AES-256-GCM"}, ck)
	require.NoError(t, err)
	server, err := NewDataPath(Config{Cipher: "AES-256-GCM", Framing: FramingCompLZO}, sk)
	require.NoError(t, err)

	raw := mustEncrypt(t, client, []byte{0x66, 0x01, 0x02})
	_, _, err = server.DecryptPacket(raw)
	assert.True(t, errors.Is(err, vpnerr.ErrCompressionMismatch))

	got, _, err := server.Decrypt([][]byte{mustEncrypt(t, client, []byte{0xFA, 'o', 'k'})})
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("ok")}, got)
}

func TestDataPathVerifyDoesNotConsumeID(t *testing.T) {
	client, server := pathPair(t, algorithm{"AES-256-CBC", "SHA256", CbcHmac}, FramingNone, packet.PeerIDUndefined)
	raw := mustEncrypt(t, client, []byte("check"))

	require.NoError(t, server.Verify(raw))
	require.NoError(t, server.Verify(raw))
	payload, _, err := server.DecryptPacket(raw)
	require.NoError(t, err)
	assert.Equal(t, []byte("check"), payload)
}

func TestDataPathRejectsMalformedInput(t *testing.T) {
	_, server := pathPair(t, algorithm{"AES-256-GCM", "none", Aead}, FramingNone, packet.PeerIDUndefined)

	_, _, err := server.DecryptPacket(nil)
	assert.True(t, errors.Is(err, vpnerr.ErrTruncated))

	_, _, err = server.DecryptPacket([]byte{packet.HeaderByte(packet.ControlV1, 0), 1, 2})
	assert.True(t, errors.Is(err, vpnerr.ErrUnknownOpcode))

	_, _, err = server.DecryptPacket([]byte{packet.HeaderByte(packet.DataV2, 0), 0})
	assert.True(t, errors.Is(err, vpnerr.ErrTruncated))

	_, _, err = server.DecryptPacket([]byte{packet.HeaderByte(packet.DataV1, 0), 0, 0})
	assert.True(t, errors.Is(err, vpnerr.ErrTruncated))

	assert.True(t, errors.Is(server.Verify(nil), vpnerr.ErrTruncated))
}

func TestDataPathRejectsOversizedPayload(t *testing.T) {
	client, _ := pathPair(t, algorithm{"AES-256-GCM", "none", Aead}, FramingNone, packet.PeerIDUndefined)
	_, err := client.EncryptPacket(make([]byte, limits.MaxPayload+1), 0)
	assert.True(t, errors.Is(err, vpnerr.ErrOverflow))
}

func TestDataPathConfigErrors(t *testing.T) {
	ck, _ := testKeys(t)
	_, err := NewDataPath(Config{Cipher: "AES-256-CBC", Digest: "none"}, ck)
	assert.True(t, errors.Is(err, vpnerr.ErrAlgorithm))

	_, err = NewDataPath(Config{Cipher: "AES-256-GCM"}, nil)
	assert.True(t, errors.Is(err, vpnerr.ErrKeyCreation))
}

func TestDataPathClose(t *testing.T) {
	client, server := pathPair(t, algorithm{"AES-256-GCM", "none", Aead}, FramingNone, packet.PeerIDUndefined)
	raw := mustEncrypt(t, client, []byte("late"))

	server.Close()
	server.Close()
	_, _, err := server.DecryptPacket(raw)
	assert.Error(t, err)

	client.Close()
	_, err = client.EncryptPacket([]byte("x"), 0)
	assert.Error(t, err)
}
