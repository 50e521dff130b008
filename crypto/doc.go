// Package crypto provides the shared security primitives of the OpenVPN
// client core: secret buffers with guaranteed zeroing, the PRNG collaborator,
// the wall-clock abstraction used for replay timestamps, checked integer
// conversions for wire fields, and the structured logging helper used by every
// other package.
//
// # Secret Buffers
//
// All key material (negotiated data channel keys, tls-wrap static keys, the
// pre-master secret) lives in a [SecretBuffer]. Zero wipes the contents in
// place; a finalizer wipes buffers that were never released explicitly:
//
//	key := crypto.SecretBufferFrom(material)
//	crypto.ZeroBytes(material)
//	defer key.Zero()
//
// Slices returned by Bytes alias the buffer, so a test harness holding that
// slice can verify it is all-zero after release.
//
// # Randomness
//
// Components never read the system CSPRNG directly. They take a [PRNG],
// which defaults to [SystemPRNG]:
//
//	iv, err := crypto.RandomBytes(prng, aes.BlockSize)
//
// [NewSeededPRNG] builds a deterministic ChaCha20 keystream for tests.
//
// # Logging
//
// [LoggerHelper] wraps logrus with standard package/function fields:
//
//	crypto.NewLogger("datachannel", "Decrypt").
//	    WithError(err, "hmac_failure", "verify").
//	    Warn("Dropping packet with bad HMAC")
//
// Secrets are never logged. [SecureFieldHash] previews non-secret buffers
// such as session ids.
package crypto
