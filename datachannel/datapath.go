package datachannel

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"sync/atomic"

	"github.com/opd-ai/ovpncore/crypto"
	"github.com/opd-ai/ovpncore/keys"
	"github.com/opd-ai/ovpncore/limits"
	"github.com/opd-ai/ovpncore/packet"
	"github.com/opd-ai/ovpncore/vpnerr"
	"github.com/sirupsen/logrus"
)

// PingPayload is the keepalive magic exchanged over the data channel.
var PingPayload = []byte{
	0x2a, 0x18, 0x7b, 0xf3, 0x64, 0x1e, 0xb4, 0xcb,
	0x07, 0xed, 0x2d, 0x0a, 0x98, 0x1f, 0xc7, 0x48,
}

// Config selects the data path algorithms for one key id.
type Config struct {
	Cipher  string
	Digest  string
	Framing CompressionFraming
	// PeerID selects DATA_V2 framing when set to anything but
	// packet.PeerIDUndefined. Inbound DATA_V2 packets must carry the same id.
	PeerID uint32
	PRNG   crypto.PRNG
}

// DataPath encrypts and decrypts data channel packets for one key id.
//
// Encryption only touches the atomic packet id counter and may run
// concurrently. Decryption mutates the replay window and is serialized
// internally.
type DataPath struct {
	crypto  Crypto
	framing CompressionFraming
	peerID  uint32

	outID atomic.Uint32

	mu     sync.Mutex
	replay ReplayWindow
	closed bool
}

// NewDataPath builds a data path and installs k. The data path copies the
// key prefixes it needs; the caller still owns and must zero k.
func NewDataPath(cfg Config, k *keys.CryptoKeys) (*DataPath, error) {
	c, err := New(cfg.Cipher, cfg.Digest, cfg.PRNG)
	if err != nil {
		return nil, err
	}
	if k == nil {
		return nil, vpnerr.Errorf(vpnerr.KeyCreation, "datachannel.NewDataPath", "missing keys")
	}
	if err := c.ConfigureEncryption(k.Encryption.Cipher, k.Encryption.HMAC); err != nil {
		c.Zero()
		return nil, err
	}
	if err := c.ConfigureDecryption(k.Decryption.Cipher, k.Decryption.HMAC); err != nil {
		c.Zero()
		return nil, err
	}

	peerID := cfg.PeerID
	if peerID > packet.PeerIDUndefined {
		peerID = packet.PeerIDUndefined
	}

	crypto.NewLogger("datachannel", "NewDataPath").WithFields(logrus.Fields{
		"kind":    c.Kind().String(),
		"cipher":  cfg.Cipher,
		"digest":  cfg.Digest,
		"framing": cfg.Framing.String(),
	}).Debug("Data path configured")

	return &DataPath{crypto: c, framing: cfg.Framing, peerID: peerID}, nil
}

// Kind reports the construction in use.
func (dp *DataPath) Kind() Kind { return dp.crypto.Kind() }

func (dp *DataPath) opcode() packet.Opcode {
	if dp.peerID == packet.PeerIDUndefined {
		return packet.DataV1
	}
	return packet.DataV2
}

func (dp *DataPath) nextPacketID() (uint32, error) {
	for {
		cur := dp.outID.Load()
		if cur >= math.MaxUint32-1 {
			return 0, vpnerr.Errorf(vpnerr.Overflow, "datachannel.Encrypt", "packet id space exhausted, renegotiate")
		}
		if dp.outID.CompareAndSwap(cur, cur+1) {
			return cur + 1, nil
		}
	}
}

// Encrypt frames and encrypts each payload under key id key.
func (dp *DataPath) Encrypt(payloads [][]byte, key uint8) ([][]byte, error) {
	out := make([][]byte, 0, len(payloads))
	for _, p := range payloads {
		enc, err := dp.EncryptPacket(p, key)
		if err != nil {
			return nil, err
		}
		out = append(out, enc)
	}
	return out, nil
}

// Ping builds an encrypted keepalive packet.
func (dp *DataPath) Ping(key uint8) ([]byte, error) {
	return dp.EncryptPacket(PingPayload, key)
}

// EncryptPacket frames and encrypts a single payload.
//
// Wire layouts after the header (opcode byte, plus peer id for DATA_V2):
//
//	Aead:    packetId(4) tag(16) ciphertext
//	CbcHmac: hmac iv E(packetId(4) payload)   or hmac packetId payload
//	CtrHmac: packetId(4) tag ciphertext
//
// Aead and CtrHmac authenticate packetId, preceded by the opcode and peer id
// for DATA_V2.
//
// The Aead tag deliberately precedes the ciphertext rather than trailing it:
// OpenVPN 2.4 and later put it there on the wire, and peers reject the
// trailing form.
func (dp *DataPath) EncryptPacket(payload []byte, key uint8) ([]byte, error) {
	const op = "datachannel.EncryptPacket"
	if err := limits.ValidatePayload(payload); err != nil {
		return nil, vpnerr.New(vpnerr.Overflow, op, err)
	}
	id, err := dp.nextPacketID()
	if err != nil {
		return nil, err
	}

	header := packet.DataHeader(dp.opcode(), key, dp.peerID)
	pid := make([]byte, packet.PacketIDLength)
	binary.BigEndian.PutUint32(pid, id)
	framed := dp.framing.Frame(payload)

	var body []byte
	switch dp.crypto.Kind() {
	case CbcHmac:
		plain := make([]byte, 0, len(pid)+len(framed))
		plain = append(append(plain, pid...), framed...)
		body, err = dp.crypto.Encrypt(plain, nil)
	default:
		ad := append(dp.authenticatedHeader(header), pid...)
		var sealed []byte
		sealed, err = dp.crypto.Encrypt(framed, &Flags{PacketID: pid, AD: ad})
		body = append(pid, sealed...)
	}
	if err != nil {
		return nil, vpnerr.New(vpnerr.Encryption, op, err)
	}

	out := make([]byte, 0, len(header)+len(body))
	out = append(out, header...)
	out = append(out, body...)
	if err := limits.ValidateWirePacket(out); err != nil {
		return nil, vpnerr.New(vpnerr.Overflow, op, err)
	}
	return out, nil
}

// Decrypt decrypts a batch of inbound data packets. Packets failing with a
// drop-class error (replay, truncation, peer id or compression mismatch) are
// skipped; the first abort-class error stops the batch. keepAlive reports
// whether a ping was among the packets; pings are not returned.
func (dp *DataPath) Decrypt(packets [][]byte) ([][]byte, bool, error) {
	out := make([][]byte, 0, len(packets))
	keepAlive := false
	for _, raw := range packets {
		payload, ping, err := dp.DecryptPacket(raw)
		if err != nil {
			if vpnerr.ActionOf(err) == vpnerr.AbortSession {
				return nil, keepAlive, err
			}
			crypto.NewLogger("datachannel", "Decrypt").
				WithError(err, vpnerr.KindOf(err).Code(), "decrypt").
				WithField("packet_size", len(raw)).
				Debug("Dropping data packet")
			continue
		}
		if ping {
			keepAlive = true
			continue
		}
		out = append(out, payload)
	}
	return out, keepAlive, nil
}

// DecryptPacket decrypts one inbound data packet. A replayed packet id is
// rejected without touching the replay window.
func (dp *DataPath) DecryptPacket(raw []byte) ([]byte, bool, error) {
	const op = "datachannel.DecryptPacket"
	if err := limits.ValidateWirePacket(raw); err != nil {
		if errors.Is(err, limits.ErrMessageEmpty) {
			return nil, false, vpnerr.New(vpnerr.Truncated, op, err)
		}
		return nil, false, vpnerr.New(vpnerr.Overflow, op, err)
	}

	opcode, _ := packet.SplitHeaderByte(raw[0])
	headerLen := 1
	switch opcode {
	case packet.DataV1:
	case packet.DataV2:
		headerLen += packet.PeerIDLength
		if len(raw) < headerLen {
			return nil, false, vpnerr.Errorf(vpnerr.Truncated, op, "data v2 header truncated")
		}
		peerID := uint32(raw[1])<<16 | uint32(raw[2])<<8 | uint32(raw[3])
		if dp.peerID != packet.PeerIDUndefined && peerID != dp.peerID {
			return nil, false, vpnerr.Errorf(vpnerr.PeerIDMismatch, op, "peer id %d, session expects %d", peerID, dp.peerID)
		}
	default:
		return nil, false, vpnerr.Errorf(vpnerr.UnknownOpcode, op, "%s is not a data opcode", opcode)
	}

	dp.mu.Lock()
	defer dp.mu.Unlock()
	if dp.closed {
		return nil, false, vpnerr.Errorf(vpnerr.KeyCreation, op, "data path closed")
	}

	var (
		id     uint32
		framed []byte
	)
	body := raw[headerLen:]
	switch dp.crypto.Kind() {
	case CbcHmac:
		plain, err := dp.crypto.Decrypt(body, nil)
		if err != nil {
			return nil, false, err
		}
		if len(plain) < packet.PacketIDLength {
			return nil, false, vpnerr.Errorf(vpnerr.Truncated, op, "plaintext missing packet id")
		}
		id = binary.BigEndian.Uint32(plain)
		framed = plain[packet.PacketIDLength:]
	default:
		if len(body) < packet.PacketIDLength {
			return nil, false, vpnerr.Errorf(vpnerr.Truncated, op, "missing packet id")
		}
		pid := body[:packet.PacketIDLength]
		plain, err := dp.crypto.Decrypt(body[packet.PacketIDLength:], &Flags{
			PacketID: pid,
			AD:       authenticatedPrefix(raw, headerLen),
		})
		if err != nil {
			return nil, false, err
		}
		id = binary.BigEndian.Uint32(pid)
		framed = plain
	}

	if !dp.replay.Accept(id) {
		crypto.ZeroBytes(framed)
		return nil, false, vpnerr.Errorf(vpnerr.Replay, op, "packet id %d (highest %d)", id, dp.replay.Highest())
	}

	payload, err := dp.framing.Unframe(framed)
	if err != nil {
		return nil, false, err
	}
	if bytes.Equal(payload, PingPayload) {
		return nil, true, nil
	}
	return payload, false, nil
}

// Verify authenticates a data packet without decrypting it into the caller's
// hands and without touching the replay window.
func (dp *DataPath) Verify(raw []byte) error {
	const op = "datachannel.Verify"
	if len(raw) < 1 {
		return vpnerr.Errorf(vpnerr.Truncated, op, "empty packet")
	}
	opcode, _ := packet.SplitHeaderByte(raw[0])
	headerLen := 1
	if opcode == packet.DataV2 {
		headerLen += packet.PeerIDLength
	} else if opcode != packet.DataV1 {
		return vpnerr.Errorf(vpnerr.UnknownOpcode, op, "%s is not a data opcode", opcode)
	}
	if len(raw) < headerLen+packet.PacketIDLength {
		return vpnerr.Errorf(vpnerr.Truncated, op, "packet too short")
	}

	dp.mu.Lock()
	defer dp.mu.Unlock()
	body := raw[headerLen:]
	if dp.crypto.Kind() == CbcHmac {
		return dp.crypto.Verify(body, nil)
	}
	return dp.crypto.Verify(body[packet.PacketIDLength:], &Flags{
		PacketID: body[:packet.PacketIDLength],
		AD:       authenticatedPrefix(raw, headerLen),
	})
}

// authenticatedHeader returns the header bytes covered by the AEAD: the
// opcode and peer id for DATA_V2, nothing for DATA_V1.
func (dp *DataPath) authenticatedHeader(header []byte) []byte {
	if len(header) == 1 {
		return nil
	}
	return append([]byte(nil), header...)
}

// authenticatedPrefix is the inbound counterpart of authenticatedHeader
// followed by the packet id.
func authenticatedPrefix(raw []byte, headerLen int) []byte {
	start := 0
	if headerLen == 1 {
		start = 1
	}
	return raw[start : headerLen+packet.PacketIDLength]
}

// Close wipes the installed keys. Further decryption fails.
func (dp *DataPath) Close() {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if dp.closed {
		return
	}
	dp.closed = true
	dp.crypto.Zero()
}
