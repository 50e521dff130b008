package handshake

import (
	"fmt"
	"strings"
	"sync"

	"github.com/flynn/noise"
	"github.com/opd-ai/ovpncore/crypto"
	"github.com/sirupsen/logrus"
)

// Role defines whether we initiate or respond to the handshake.
type Role uint8

const (
	// Initiator sends the first record (the OpenVPN client).
	Initiator Role = iota
	// Responder answers (the OpenVPN server).
	Responder
)

func (r Role) String() string {
	if r == Responder {
		return "responder"
	}
	return "initiator"
}

// MaxRecordSize is the largest Noise transport message.
const MaxRecordSize = noise.MaxMsgLen

const tagSize = 16

// NoiseConfig configures a NoiseProvider.
type NoiseConfig struct {
	Role Role
	// Pattern is "NN" (anonymous) or "XX" (mutual static keys). Defaults to NN.
	Pattern string
	// StaticKeypair is required for XX. Generate one with GenerateKeypair.
	StaticKeypair noise.DHKey
	// Prologue is mixed into the handshake hash; both sides must agree.
	Prologue []byte
	PRNG     crypto.PRNG
}

// GenerateKeypair returns a fresh Curve25519 static keypair.
func GenerateKeypair(prng crypto.PRNG) (noise.DHKey, error) {
	if prng == nil {
		prng = crypto.SystemPRNG
	}
	return noise.DH25519.GenerateKeypair(prng)
}

// NoiseProvider implements Provider with the Noise Protocol Framework
// (Curve25519, ChaChaPoly, SHA256). It stands in for a TLS engine wherever
// the control channel needs a real, authenticated key exchange.
type NoiseProvider struct {
	mu sync.Mutex

	role       Role
	state      *noise.HandshakeState
	sendCipher *noise.CipherState
	recvCipher *noise.CipherState
	started    bool
	complete   bool
	closed     bool

	outCipher    [][]byte
	inPlain      [][]byte
	pendingPlain [][]byte
}

func patternByName(name string) (noise.HandshakePattern, error) {
	switch strings.ToUpper(name) {
	case "", "NN":
		return noise.HandshakeNN, nil
	case "XX":
		return noise.HandshakeXX, nil
	}
	return noise.HandshakePattern{}, fmt.Errorf("unsupported handshake pattern: %s", name)
}

// NewNoiseProvider creates a provider.
func NewNoiseProvider(cfg NoiseConfig) (*NoiseProvider, error) {
	pattern, err := patternByName(cfg.Pattern)
	if err != nil {
		return nil, err
	}
	prng := cfg.PRNG
	if prng == nil {
		prng = crypto.SystemPRNG
	}

	config := noise.Config{
		CipherSuite: noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256),
		Random:      prng,
		Pattern:     pattern,
		Initiator:   cfg.Role == Initiator,
		Prologue:    cfg.Prologue,
	}
	if pattern.Name == noise.HandshakeXX.Name {
		if len(cfg.StaticKeypair.Private) != 32 || len(cfg.StaticKeypair.Public) != 32 {
			return nil, fmt.Errorf("XX pattern requires a 32-byte static keypair")
		}
		config.StaticKeypair = cfg.StaticKeypair
	}

	state, err := noise.NewHandshakeState(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create handshake state: %w", err)
	}
	return &NoiseProvider{role: cfg.Role, state: state}, nil
}

// Start begins the handshake.
func (p *NoiseProvider) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.started {
		return ErrAlreadyStarted
	}
	p.started = true
	if p.role == Initiator {
		return p.writeHandshakeLocked()
	}
	return nil
}

// IsConnected reports whether the handshake completed.
func (p *NoiseProvider) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.complete
}

// writeHandshakeLocked writes the next handshake message and queues it.
func (p *NoiseProvider) writeHandshakeLocked() error {
	msg, cs1, cs2, err := p.state.WriteMessage(nil, nil)
	if err != nil {
		return fmt.Errorf("handshake write failed: %w", err)
	}
	p.outCipher = append(p.outCipher, msg)
	if cs1 != nil && cs2 != nil {
		return p.completeLocked(cs1, cs2)
	}
	return nil
}

// completeLocked installs the transport ciphers. cs1 encrypts initiator to
// responder, cs2 the reverse.
func (p *NoiseProvider) completeLocked(cs1, cs2 *noise.CipherState) error {
	if p.role == Initiator {
		p.sendCipher, p.recvCipher = cs1, cs2
	} else {
		p.sendCipher, p.recvCipher = cs2, cs1
	}
	p.complete = true

	crypto.NewLogger("handshake", "complete").WithFields(logrus.Fields{
		"role":    p.role.String(),
		"pending": len(p.pendingPlain),
	}).Debug("Handshake complete")

	pending := p.pendingPlain
	p.pendingPlain = nil
	for _, data := range pending {
		if err := p.sealLocked(data); err != nil {
			return err
		}
	}
	return nil
}

func (p *NoiseProvider) sealLocked(data []byte) error {
	const chunk = MaxRecordSize - tagSize
	for len(data) > 0 {
		n := len(data)
		if n > chunk {
			n = chunk
		}
		record, err := p.sendCipher.Encrypt(nil, nil, data[:n])
		if err != nil {
			return fmt.Errorf("record encrypt failed: %w", err)
		}
		p.outCipher = append(p.outCipher, record)
		data = data[n:]
	}
	return nil
}

// PutPlainText queues application data for the peer.
func (p *NoiseProvider) PutPlainText(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if len(data) == 0 {
		return nil
	}
	if !p.complete {
		p.pendingPlain = append(p.pendingPlain, append([]byte(nil), data...))
		return nil
	}
	return p.sealLocked(data)
}

// PutCipherText feeds one record from the peer.
func (p *NoiseProvider) PutCipherText(record []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if !p.started {
		return ErrNotStarted
	}

	if p.complete {
		plain, err := p.recvCipher.Decrypt(nil, nil, record)
		if err != nil {
			return fmt.Errorf("record decrypt failed: %w", err)
		}
		p.inPlain = append(p.inPlain, plain)
		return nil
	}

	_, cs1, cs2, err := p.state.ReadMessage(nil, record)
	if err != nil {
		return fmt.Errorf("handshake read failed: %w", err)
	}
	if cs1 != nil && cs2 != nil {
		return p.completeLocked(cs1, cs2)
	}
	return p.writeHandshakeLocked()
}

// PullPlainText returns the next decrypted message, or nil.
func (p *NoiseProvider) PullPlainText() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	if len(p.inPlain) == 0 {
		return nil, nil
	}
	out := p.inPlain[0]
	p.inPlain = p.inPlain[1:]
	return out, nil
}

// PullCipherText returns the next record for the peer, or nil.
func (p *NoiseProvider) PullCipherText() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	if len(p.outCipher) == 0 {
		return nil, nil
	}
	out := p.outCipher[0]
	p.outCipher = p.outCipher[1:]
	return out, nil
}

// PeerStatic returns the peer's static public key after an XX handshake.
func (p *NoiseProvider) PeerStatic() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.complete {
		return nil
	}
	return append([]byte(nil), p.state.PeerStatic()...)
}

// Close drops queued data and the transport ciphers.
func (p *NoiseProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, buf := range p.inPlain {
		crypto.ZeroBytes(buf)
	}
	for _, buf := range p.pendingPlain {
		crypto.ZeroBytes(buf)
	}
	p.inPlain, p.pendingPlain, p.outCipher = nil, nil, nil
	p.sendCipher, p.recvCipher = nil, nil
	p.closed = true
}
