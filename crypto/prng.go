package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"sync"

	"golang.org/x/crypto/chacha20"
)

// PRNG produces uniformly random bytes. It is consumed for IVs, session ids,
// key method 2 random material and static key generation.
type PRNG interface {
	Read(p []byte) (n int, err error)
}

// SystemPRNG is the operating system CSPRNG.
var SystemPRNG PRNG = rand.Reader

// RandomBytes returns n fresh bytes from prng, or from SystemPRNG if prng is nil.
func RandomBytes(prng PRNG, n int) ([]byte, error) {
	if prng == nil {
		prng = SystemPRNG
	}
	buf := make([]byte, n)
	if _, err := readFull(prng, buf); err != nil {
		return nil, fmt.Errorf("failed to read %d random bytes: %w", n, err)
	}
	return buf, nil
}

// RandomSecret is RandomBytes returning a secret buffer.
func RandomSecret(prng PRNG, n int) (*SecretBuffer, error) {
	buf, err := RandomBytes(prng, n)
	if err != nil {
		return nil, err
	}
	s := SecretBufferFrom(buf)
	ZeroBytes(buf)
	return s, nil
}

func readFull(r PRNG, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// SeededPRNG is a deterministic ChaCha20 keystream, for tests and
// reproducible vectors only.
type SeededPRNG struct {
	mu     sync.Mutex
	stream *chacha20.Cipher
}

// NewSeededPRNG derives a keystream from seed.
func NewSeededPRNG(seed []byte) *SeededPRNG {
	key := sha256.Sum256(seed)
	nonce := make([]byte, chacha20.NonceSize)
	stream, err := chacha20.NewUnauthenticatedCipher(key[:], nonce)
	if err != nil {
		panic(fmt.Sprintf("chacha20 keystream: %v", err))
	}
	return &SeededPRNG{stream: stream}
}

// Read fills p with keystream bytes.
func (s *SeededPRNG) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range p {
		p[i] = 0
	}
	s.stream.XORKeyStream(p, p)
	return len(p), nil
}
