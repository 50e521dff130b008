package packet

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"math"

	"github.com/opd-ai/ovpncore/crypto"
	"github.com/opd-ai/ovpncore/limits"
	"github.com/opd-ai/ovpncore/vpnerr"
)

const (
	// SessionIDLength is the size of a session id on the wire.
	SessionIDLength = 8
	// PacketIDLength is the size of a packet id on the wire.
	PacketIDLength = 4
	// PeerIDLength is the size of the data v2 peer id.
	PeerIDLength = 3
	// PeerIDUndefined is the peer id sent before the server assigns one.
	PeerIDUndefined uint32 = 0xFFFFFF
)

// SessionID pins every packet to one handshake instance.
type SessionID [SessionIDLength]byte

// NewSessionID draws a random session id from prng.
func NewSessionID(prng crypto.PRNG) (SessionID, error) {
	var sid SessionID
	buf, err := crypto.RandomBytes(prng, SessionIDLength)
	if err != nil {
		return sid, vpnerr.New(vpnerr.KeyCreation, "packet.NewSessionID", err)
	}
	copy(sid[:], buf)
	return sid, nil
}

// IsZero reports whether the id is unset.
func (s SessionID) IsZero() bool { return s == SessionID{} }

func (s SessionID) String() string { return hex.EncodeToString(s[:]) }

// PacketID is the per-direction monotonic packet counter.
type PacketID uint32

// AckOnlyID marks a packet that carries only acknowledgements.
const AckOnlyID PacketID = math.MaxUint32

// Packet is a parsed OpenVPN packet. Control packets use LocalSessionID,
// ACKs, RemoteSessionID and ID; data packets use PeerID (v2 only) and carry
// the encrypted body in Payload.
type Packet struct {
	Opcode          Opcode
	KeyID           uint8
	PeerID          uint32
	LocalSessionID  SessionID
	ACKs            []PacketID
	RemoteSessionID SessionID
	ID              PacketID
	Payload         []byte
}

// NewAck builds an ACK-only packet for ids.
func NewAck(keyID uint8, local, remote SessionID, ids []PacketID) *Packet {
	acks := make([]PacketID, len(ids))
	copy(acks, ids)
	return &Packet{
		Opcode:          AckV1,
		KeyID:           keyID,
		LocalSessionID:  local,
		ACKs:            acks,
		RemoteSessionID: remote,
		ID:              AckOnlyID,
	}
}

// IsAckOnly reports whether p carries acknowledgements and nothing else.
func (p *Packet) IsAckOnly() bool {
	return p.Opcode == AckV1 || (p.ID == AckOnlyID && len(p.Payload) == 0)
}

// Header returns the packet's first byte, followed by the peer id for data v2.
func (p *Packet) Header() []byte {
	return DataHeader(p.Opcode, p.KeyID, p.PeerID)
}

// DataHeader returns the unencrypted prefix of a data packet. For DataV2 the
// 3-byte peer id follows the opcode byte.
func DataHeader(op Opcode, keyID uint8, peerID uint32) []byte {
	if op != DataV2 {
		return []byte{HeaderByte(op, keyID)}
	}
	return []byte{
		HeaderByte(op, keyID),
		byte(peerID >> 16),
		byte(peerID >> 8),
		byte(peerID),
	}
}

// Marshal serializes the packet.
//
// Control layout:
//
//	op|key(1) sid(8) ackCount(1) acks(4*n) [remoteSid(8) if n>0] [id(4) unless ACK] payload
//
// Data layout:
//
//	op|key(1) [peerId(3) for v2] payload
func (p *Packet) Marshal() ([]byte, error) {
	if p.Opcode.IsData() {
		out := p.Header()
		return append(out, p.Payload...), nil
	}
	if !p.Opcode.Valid() {
		return nil, vpnerr.Errorf(vpnerr.UnknownOpcode, "packet.Marshal", "opcode %d", uint8(p.Opcode))
	}

	body, err := p.MarshalControlBody()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 1+SessionIDLength+len(body))
	out = append(out, HeaderByte(p.Opcode, p.KeyID))
	out = append(out, p.LocalSessionID[:]...)
	return append(out, body...), nil
}

// MarshalControlBody serializes everything after the local session id: the
// ACK array, the remote session id, the packet id and the payload. tls-wrap
// inserts its own fields between the session id and this body.
func (p *Packet) MarshalControlBody() ([]byte, error) {
	n, err := crypto.SafeIntToUint8(len(p.ACKs))
	if err != nil {
		return nil, vpnerr.New(vpnerr.Overflow, "packet.MarshalControlBody", err)
	}
	if err := limits.ValidateControlPayload(p.Payload); err != nil {
		return nil, vpnerr.New(vpnerr.Overflow, "packet.MarshalControlBody", err)
	}

	var buf bytes.Buffer
	buf.Grow(1 + int(n)*PacketIDLength + SessionIDLength + PacketIDLength + len(p.Payload))
	buf.WriteByte(n)
	for _, id := range p.ACKs {
		_ = binary.Write(&buf, binary.BigEndian, uint32(id))
	}
	if n > 0 {
		buf.Write(p.RemoteSessionID[:])
	}
	if p.Opcode != AckV1 {
		_ = binary.Write(&buf, binary.BigEndian, uint32(p.ID))
		buf.Write(p.Payload)
	}
	return buf.Bytes(), nil
}

// Parse decodes a raw packet.
//
// A first byte carrying an opcode outside the protocol range yields a packet
// with Opcode Unknown and the remaining bytes as Payload, together with an
// UnknownOpcode error; the caller decides whether to drop it.
func Parse(raw []byte) (*Packet, error) {
	const op = "packet.Parse"
	if len(raw) < 1 {
		return nil, vpnerr.Errorf(vpnerr.Truncated, op, "empty packet")
	}

	opcode, keyID := SplitHeaderByte(raw[0])
	p := &Packet{Opcode: opcode, KeyID: keyID}

	switch {
	case opcode == Unknown:
		p.Payload = append([]byte(nil), raw[1:]...)
		return p, vpnerr.Errorf(vpnerr.UnknownOpcode, op, "opcode %d", raw[0]>>opcodeShift)

	case opcode == DataV1:
		p.Payload = append([]byte(nil), raw[1:]...)
		return p, nil

	case opcode == DataV2:
		if len(raw) < 1+PeerIDLength {
			return nil, vpnerr.Errorf(vpnerr.Truncated, op, "data v2 header needs %d bytes, got %d", 1+PeerIDLength, len(raw))
		}
		p.PeerID = uint32(raw[1])<<16 | uint32(raw[2])<<8 | uint32(raw[3])
		p.Payload = append([]byte(nil), raw[4:]...)
		return p, nil
	}

	if len(raw) < 1+SessionIDLength {
		return nil, vpnerr.Errorf(vpnerr.Truncated, op, "control header needs %d bytes, got %d", 1+SessionIDLength, len(raw))
	}
	copy(p.LocalSessionID[:], raw[1:1+SessionIDLength])
	if err := p.ParseControlBody(raw[1+SessionIDLength:]); err != nil {
		return nil, err
	}
	return p, nil
}

// ParseControlBody decodes the portion produced by MarshalControlBody into p.
// p.Opcode must already be set.
func (p *Packet) ParseControlBody(body []byte) error {
	const op = "packet.ParseControlBody"
	if len(body) < 1 {
		return vpnerr.Errorf(vpnerr.Truncated, op, "missing ack count")
	}
	if err := limits.ValidateMessageSize(body, limits.MaxControlBody); err != nil {
		return vpnerr.New(vpnerr.MalformedFrame, op, err)
	}
	n := int(body[0])
	off := 1

	need := off + n*PacketIDLength
	if n > 0 {
		need += SessionIDLength
	}
	if len(body) < need {
		return vpnerr.Errorf(vpnerr.Truncated, op, "ack array needs %d bytes, got %d", need, len(body))
	}

	p.ACKs = nil
	if n > 0 {
		p.ACKs = make([]PacketID, n)
		for i := 0; i < n; i++ {
			p.ACKs[i] = PacketID(binary.BigEndian.Uint32(body[off:]))
			off += PacketIDLength
		}
		copy(p.RemoteSessionID[:], body[off:off+SessionIDLength])
		off += SessionIDLength
	}

	if p.Opcode == AckV1 {
		if n == 0 {
			return vpnerr.Errorf(vpnerr.Truncated, op, "ack packet without ids")
		}
		p.ID = AckOnlyID
		p.Payload = nil
		return nil
	}

	if len(body) < off+PacketIDLength {
		return vpnerr.Errorf(vpnerr.Truncated, op, "missing packet id")
	}
	p.ID = PacketID(binary.BigEndian.Uint32(body[off:]))
	off += PacketIDLength
	p.Payload = append([]byte(nil), body[off:]...)
	return nil
}
