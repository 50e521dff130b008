package keys

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/opd-ai/ovpncore/crypto"
	"github.com/opd-ai/ovpncore/packet"
	"github.com/opd-ai/ovpncore/vpnerr"
)

// keyMethod2 is the only key exchange method supported.
const keyMethod2 = 0x02

// KeySource is one side's random contribution to the key derivation. Only
// the client generates a pre-master secret.
type KeySource struct {
	PreMaster *crypto.SecretBuffer
	Random1   []byte
	Random2   []byte
}

// NewKeySource draws fresh random material for role.
func NewKeySource(prng crypto.PRNG, role Role) (*KeySource, error) {
	const op = "keys.NewKeySource"
	ks := &KeySource{}
	var err error
	if role == Client {
		if ks.PreMaster, err = crypto.RandomSecret(prng, PreMasterLength); err != nil {
			return nil, vpnerr.New(vpnerr.KeyCreation, op, err)
		}
	}
	if ks.Random1, err = crypto.RandomBytes(prng, RandomLength); err != nil {
		ks.Zero()
		return nil, vpnerr.New(vpnerr.KeyCreation, op, err)
	}
	if ks.Random2, err = crypto.RandomBytes(prng, RandomLength); err != nil {
		ks.Zero()
		return nil, vpnerr.New(vpnerr.KeyCreation, op, err)
	}
	return ks, nil
}

// Zero wipes the key source.
func (ks *KeySource) Zero() {
	if ks == nil {
		return
	}
	ks.PreMaster.Zero()
	crypto.ZeroBytes(ks.Random1)
	crypto.ZeroBytes(ks.Random2)
}

// DeriveFromSources combines the client and server key sources with the two
// session ids and derives the data channel keys for role.
func DeriveFromSources(role Role, client, server *KeySource, clientSID, serverSID packet.SessionID) (*CryptoKeys, error) {
	if client == nil || client.PreMaster == nil {
		return nil, vpnerr.Errorf(vpnerr.InsufficientSecret, "keys.DeriveFromSources", "client key source has no pre-master secret")
	}
	if server == nil {
		return nil, vpnerr.Errorf(vpnerr.InsufficientSecret, "keys.DeriveFromSources", "missing server key source")
	}
	return Derive(role, DerivationInput{
		PreMaster:       client.PreMaster.Bytes(),
		ClientRandom1:   client.Random1,
		ServerRandom1:   server.Random1,
		ClientRandom2:   client.Random2,
		ServerRandom2:   server.Random2,
		ClientSessionID: clientSID,
		ServerSessionID: serverSID,
	})
}

// AuthMessage is the key method 2 plaintext exchanged over the TLS channel
// once the handshake completes.
type AuthMessage struct {
	Source   *KeySource
	Options  string
	Username string
	Password string
	PeerInfo string
}

// MarshalAuth serializes m as sent by role:
//
//	00000000 02 [preMaster(48) client only] random1(32) random2(32)
//	len(2) options\0 [len(2) user\0 len(2) pass\0 [len(2) peerInfo\0]]
func MarshalAuth(role Role, m *AuthMessage) ([]byte, error) {
	const op = "keys.MarshalAuth"
	if m == nil || m.Source == nil {
		return nil, vpnerr.Errorf(vpnerr.KeyCreation, op, "missing key source")
	}

	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 0, keyMethod2})
	if role == Client {
		if m.Source.PreMaster.Len() != PreMasterLength {
			return nil, vpnerr.Errorf(vpnerr.InsufficientSecret, op, "client auth needs a %d-byte pre-master secret", PreMasterLength)
		}
		buf.Write(m.Source.PreMaster.Bytes())
	}
	buf.Write(m.Source.Random1)
	buf.Write(m.Source.Random2)

	strs := []string{m.Options}
	if role == Client && (m.Username != "" || m.Password != "" || m.PeerInfo != "") {
		strs = append(strs, m.Username, m.Password)
		if m.PeerInfo != "" {
			strs = append(strs, m.PeerInfo)
		}
	}
	for _, s := range strs {
		if err := writeString(&buf, s); err != nil {
			return nil, vpnerr.New(vpnerr.Overflow, op, err)
		}
	}
	return buf.Bytes(), nil
}

// ParseAuth decodes a key method 2 message sent by role.
func ParseAuth(role Role, data []byte) (*AuthMessage, error) {
	const op = "keys.ParseAuth"
	if len(data) < 5 {
		return nil, vpnerr.Errorf(vpnerr.Truncated, op, "missing key method header")
	}
	if !bytes.Equal(data[:4], []byte{0, 0, 0, 0}) || data[4] != keyMethod2 {
		return nil, vpnerr.Errorf(vpnerr.Algorithm, op, "unsupported key method %x", data[:5])
	}
	r := bytes.NewReader(data[5:])

	need := 2 * RandomLength
	if role == Client {
		need += PreMasterLength
	}
	if r.Len() < need {
		return nil, vpnerr.Errorf(vpnerr.Truncated, op, "key material needs %d bytes, got %d", need, r.Len())
	}

	src := &KeySource{Random1: make([]byte, RandomLength), Random2: make([]byte, RandomLength)}
	if role == Client {
		pm := make([]byte, PreMasterLength)
		_, _ = r.Read(pm)
		src.PreMaster = crypto.SecretBufferFrom(pm)
		crypto.ZeroBytes(pm)
	}
	_, _ = r.Read(src.Random1)
	_, _ = r.Read(src.Random2)

	m := &AuthMessage{Source: src}
	var err error
	if m.Options, err = readString(r); err != nil {
		src.Zero()
		return nil, vpnerr.New(vpnerr.Truncated, op, err)
	}
	if role == Client && r.Len() > 0 {
		if m.Username, err = readString(r); err == nil {
			m.Password, err = readString(r)
		}
		if err == nil && r.Len() > 0 {
			m.PeerInfo, err = readString(r)
		}
		if err != nil {
			src.Zero()
			return nil, vpnerr.New(vpnerr.Truncated, op, err)
		}
	}
	return m, nil
}

// writeString writes a u16 length (including the terminator) followed by
// the string and a NUL byte.
func writeString(buf *bytes.Buffer, s string) error {
	n, err := crypto.SafeIntToUint16(len(s) + 1)
	if err != nil {
		return fmt.Errorf("string too long: %w", err)
	}
	_ = binary.Write(buf, binary.BigEndian, n)
	buf.WriteString(s)
	buf.WriteByte(0)
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", fmt.Errorf("missing string length: %w", err)
	}
	if n == 0 {
		return "", nil
	}
	if int(n) > r.Len() {
		return "", fmt.Errorf("string length %d exceeds remaining %d bytes", n, r.Len())
	}
	b := make([]byte, n)
	_, _ = r.Read(b)
	return string(bytes.TrimRight(b, "\x00")), nil
}
