package tlswrap

import (
	"crypto/hmac"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/opd-ai/ovpncore/crypto"
	"github.com/opd-ai/ovpncore/datachannel"
	"github.com/opd-ai/ovpncore/packet"
	"github.com/opd-ai/ovpncore/vpnerr"
	"github.com/sirupsen/logrus"
)

// Strategy selects how control packets are protected.
type Strategy uint8

const (
	// Auth adds an HMAC and leaves the packet readable (tls-auth).
	Auth Strategy = iota + 1
	// Crypt encrypts and authenticates the packet (tls-crypt).
	Crypt
)

func (s Strategy) String() string {
	switch s {
	case Auth:
		return "auth"
	case Crypt:
		return "crypt"
	}
	return fmt.Sprintf("strategy(%d)", uint8(s))
}

// ParseStrategy accepts "auth"/"tls-auth" and "crypt"/"tls-crypt".
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auth", "tls-auth":
		return Auth, nil
	case "crypt", "tls-crypt":
		return Crypt, nil
	}
	return 0, fmt.Errorf("unknown tls-wrap strategy %q", s)
}

const (
	// ReplayIDLength is the size of the wrapped packet's replay id.
	ReplayIDLength = 4
	// TimestampLength is the size of the wrapped packet's unix timestamp.
	TimestampLength = 4
	// CryptTagLength is the HMAC-SHA256 tag carried by tls-crypt packets.
	CryptTagLength = 32
	// DefaultAuthDigest is the tls-auth HMAC digest when none is configured.
	DefaultAuthDigest = "SHA1"

	cryptCipher  = "AES-256-CTR"
	cryptDigest  = "SHA256"
	headerLength = 1 + packet.SessionIDLength
	replayLength = ReplayIDLength + TimestampLength
)

// Config selects the strategy and key material of a Wrapper.
type Config struct {
	Strategy  Strategy
	Key       *StaticKey
	Direction Direction
	// Digest is the tls-auth HMAC digest. tls-crypt always uses SHA256.
	Digest       string
	TimeProvider crypto.TimeProvider
}

// Wrapper protects control channel packets with a pre-shared static key.
//
// Wire layouts:
//
//	auth:  op|key sid(8) hmac replayId(4) timestamp(4) body
//	crypt: op|key sid(8) replayId(4) timestamp(4) tag(32) AES-256-CTR(body)
//
// body is the control packet after its session id. tls-auth HMACs
// replayId ‖ timestamp ‖ op|key ‖ sid ‖ body. tls-crypt authenticates the
// 17 header bytes and the plaintext body.
type Wrapper struct {
	strategy Strategy
	digest   *datachannel.DigestSpec
	authEnc  *crypto.SecretBuffer
	authDec  *crypto.SecretBuffer
	ctr      datachannel.Crypto
	tp       crypto.TimeProvider

	outID atomic.Uint32

	mu     sync.Mutex
	replay datachannel.ReplayWindow
	closed bool
}

// NewWrapper builds a wrapper. The wrapper copies what it needs from
// cfg.Key; the caller still owns and must zero the static key.
func NewWrapper(cfg Config) (*Wrapper, error) {
	const op = "tlswrap.NewWrapper"
	if cfg.Key == nil || cfg.Key.Zeroed() {
		return nil, vpnerr.Errorf(vpnerr.KeyCreation, op, "missing static key")
	}
	tp := cfg.TimeProvider
	if tp == nil {
		tp = crypto.DefaultTimeProvider{}
	}

	k, err := cfg.Key.Keys(cfg.Direction)
	if err != nil {
		return nil, err
	}
	defer k.Zero()

	w := &Wrapper{strategy: cfg.Strategy, tp: tp}
	switch cfg.Strategy {
	case Auth:
		name := cfg.Digest
		if name == "" {
			name = DefaultAuthDigest
		}
		if w.digest, err = datachannel.DigestByName(name); err != nil {
			return nil, err
		}
		if w.digest.New == nil {
			return nil, vpnerr.Errorf(vpnerr.Algorithm, op, "tls-auth requires an HMAC digest")
		}
		if w.authEnc, err = k.Encryption.HMAC.Prefix(w.digest.Size); err != nil {
			return nil, vpnerr.New(vpnerr.KeyCreation, op, err)
		}
		if w.authDec, err = k.Decryption.HMAC.Prefix(w.digest.Size); err != nil {
			w.authEnc.Zero()
			return nil, vpnerr.New(vpnerr.KeyCreation, op, err)
		}

	case Crypt:
		if w.ctr, err = datachannel.New(cryptCipher, cryptDigest, nil); err != nil {
			return nil, err
		}
		if err := w.ctr.ConfigureEncryption(k.Encryption.Cipher, k.Encryption.HMAC); err != nil {
			w.ctr.Zero()
			return nil, err
		}
		if err := w.ctr.ConfigureDecryption(k.Decryption.Cipher, k.Decryption.HMAC); err != nil {
			w.ctr.Zero()
			return nil, err
		}

	default:
		return nil, vpnerr.Errorf(vpnerr.Algorithm, op, "unknown strategy %s", cfg.Strategy)
	}

	crypto.NewLogger("tlswrap", "NewWrapper").WithFields(logrus.Fields{
		"strategy":  w.strategy.String(),
		"direction": cfg.Direction.String(),
	}).Debug("Control channel wrapper configured")
	return w, nil
}

// Strategy reports the configured strategy.
func (w *Wrapper) Strategy() Strategy { return w.strategy }

// Overhead is the number of bytes Wrap adds to a control packet.
func (w *Wrapper) Overhead() int {
	if w.strategy == Crypt {
		return replayLength + CryptTagLength
	}
	return w.digest.Size + replayLength
}

func (w *Wrapper) nextReplayID() (uint32, error) {
	for {
		cur := w.outID.Load()
		if cur >= math.MaxUint32-1 {
			return 0, vpnerr.Errorf(vpnerr.Overflow, "tlswrap.Wrap", "replay id space exhausted")
		}
		if w.outID.CompareAndSwap(cur, cur+1) {
			return cur + 1, nil
		}
	}
}

func (w *Wrapper) authTag(key *crypto.SecretBuffer, replay, header, body []byte) []byte {
	h := hmac.New(w.digest.New, key.Bytes())
	h.Write(replay)
	h.Write(header)
	h.Write(body)
	return h.Sum(nil)
}

// Wrap serializes and protects a control packet.
func (w *Wrapper) Wrap(p *packet.Packet) ([]byte, error) {
	const op = "tlswrap.Wrap"
	if p == nil || !p.Opcode.IsControl() {
		return nil, vpnerr.Errorf(vpnerr.UnknownOpcode, op, "not a control packet")
	}
	body, err := p.MarshalControlBody()
	if err != nil {
		return nil, err
	}
	id, err := w.nextReplayID()
	if err != nil {
		return nil, err
	}

	header := make([]byte, 0, headerLength)
	header = append(header, packet.HeaderByte(p.Opcode, p.KeyID))
	header = append(header, p.LocalSessionID[:]...)

	replay := make([]byte, replayLength)
	binary.BigEndian.PutUint32(replay, id)
	binary.BigEndian.PutUint32(replay[ReplayIDLength:], crypto.UnixTimestamp32(w.tp))

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, vpnerr.Errorf(vpnerr.KeyCreation, op, "wrapper closed")
	}

	out := make([]byte, 0, headerLength+w.Overhead()+len(body))
	out = append(out, header...)
	if w.strategy == Auth {
		out = append(out, w.authTag(w.authEnc, replay, header, body)...)
		out = append(out, replay...)
		return append(out, body...), nil
	}

	out = append(out, replay...)
	sealed, err := w.ctr.Encrypt(body, &datachannel.Flags{AD: out})
	if err != nil {
		return nil, vpnerr.New(vpnerr.Encryption, op, err)
	}
	return append(out, sealed...), nil
}

// Unwrap authenticates, decrypts and parses a protected control packet.
// Authentication completes before the replay id is consulted, and a rejected
// packet leaves the replay window untouched.
func (w *Wrapper) Unwrap(raw []byte) (*packet.Packet, error) {
	const op = "tlswrap.Unwrap"
	if len(raw) < headerLength+w.Overhead() {
		return nil, vpnerr.Errorf(vpnerr.Truncated, op, "wrapped packet is %d bytes, need at least %d", len(raw), headerLength+w.Overhead())
	}
	opcode, keyID := packet.SplitHeaderByte(raw[0])
	if !opcode.IsControl() {
		return nil, vpnerr.Errorf(vpnerr.UnknownOpcode, op, "%s is not a control opcode", opcode)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, vpnerr.Errorf(vpnerr.KeyCreation, op, "wrapper closed")
	}

	header := raw[:headerLength]
	var replay, body []byte
	if w.strategy == Auth {
		tag := raw[headerLength : headerLength+w.digest.Size]
		replay = raw[headerLength+w.digest.Size : headerLength+w.digest.Size+replayLength]
		body = raw[headerLength+w.digest.Size+replayLength:]
		if subtle.ConstantTimeCompare(tag, w.authTag(w.authDec, replay, header, body)) != 1 {
			return nil, vpnerr.Errorf(vpnerr.HMACFailure, op, "tls-auth HMAC mismatch")
		}
	} else {
		replay = raw[headerLength : headerLength+replayLength]
		plain, err := w.ctr.Decrypt(raw[headerLength+replayLength:], &datachannel.Flags{AD: raw[:headerLength+replayLength]})
		if err != nil {
			return nil, err
		}
		body = plain
	}

	id := binary.BigEndian.Uint32(replay)
	if !w.replay.Accept(id) {
		if w.strategy == Crypt {
			crypto.ZeroBytes(body)
		}
		return nil, vpnerr.Errorf(vpnerr.Replay, op, "replay id %d (highest %d)", id, w.replay.Highest())
	}

	p := &packet.Packet{Opcode: opcode, KeyID: keyID}
	copy(p.LocalSessionID[:], raw[1:headerLength])
	if err := p.ParseControlBody(body); err != nil {
		return nil, err
	}
	return p, nil
}

// Close wipes the wrapper's keys. Further calls fail.
func (w *Wrapper) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	w.authEnc.Zero()
	w.authDec.Zero()
	if w.ctr != nil {
		w.ctr.Zero()
	}
}
