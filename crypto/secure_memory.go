package crypto

import (
	"crypto/subtle"
	"errors"
	"runtime"
	"sync"
)

// SecureWipe overwrites the contents of a byte slice containing sensitive
// data with zeros. It returns an error if the byte slice is nil.
func SecureWipe(data []byte) error {
	if data == nil {
		return errors.New("cannot wipe nil data")
	}

	zeros := make([]byte, len(data))
	subtle.ConstantTimeCompare(data, zeros)
	copy(data, zeros)

	// Keep the stores alive so the compiler cannot drop the overwrite
	runtime.KeepAlive(data)
	runtime.KeepAlive(zeros)

	return nil
}

// ZeroBytes erases the contents of a byte slice containing sensitive data.
// This is a convenience function that ignores the error from SecureWipe.
func ZeroBytes(data []byte) {
	_ = SecureWipe(data)
}

// SecretBuffer is a fixed-length buffer holding key material.
//
// Zero wipes the contents and may be called any number of times. A finalizer
// wipes buffers that were never explicitly zeroed, so every exit path ends
// with cleared memory; callers must still call Zero as soon as the secret is
// no longer needed.
type SecretBuffer struct {
	mu     sync.Mutex
	data   []byte
	zeroed bool
}

// SecretBufferFrom copies data into a new secret buffer. The caller remains
// responsible for wiping its own copy.
func SecretBufferFrom(data []byte) *SecretBuffer {
	buf := make([]byte, len(data))
	copy(buf, data)
	return newSecretBuffer(buf)
}

func newSecretBuffer(buf []byte) *SecretBuffer {
	s := &SecretBuffer{data: buf}
	runtime.SetFinalizer(s, func(s *SecretBuffer) { s.Zero() })
	return s
}

// Bytes returns the underlying storage. The slice aliases the buffer and is
// wiped by Zero.
func (s *SecretBuffer) Bytes() []byte {
	if s == nil {
		return nil
	}
	return s.data
}

// Len returns the buffer length.
func (s *SecretBuffer) Len() int {
	if s == nil {
		return 0
	}
	return len(s.data)
}

// Prefix copies the first n bytes into a new secret buffer.
func (s *SecretBuffer) Prefix(n int) (*SecretBuffer, error) {
	return s.Slice(0, n)
}

// Slice copies data[off:off+n] into a new secret buffer.
func (s *SecretBuffer) Slice(off, n int) (*SecretBuffer, error) {
	if s == nil || off < 0 || n < 0 || off+n > len(s.data) {
		return nil, errors.New("secret buffer slice out of range")
	}
	return SecretBufferFrom(s.data[off : off+n]), nil
}

// Zero wipes the buffer contents.
func (s *SecretBuffer) Zero() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ZeroBytes(s.data)
	s.zeroed = true
}

// Zeroed reports whether Zero has been called.
func (s *SecretBuffer) Zeroed() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zeroed
}

// IsAllZero reports whether every byte in the buffer is zero.
func (s *SecretBuffer) IsAllZero() bool {
	if s == nil {
		return true
	}
	var acc byte
	for _, b := range s.data {
		acc |= b
	}
	return acc == 0
}
