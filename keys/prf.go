package keys

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"hash"

	"github.com/opd-ai/ovpncore/crypto"
	"github.com/opd-ai/ovpncore/vpnerr"
)

// PRFInput collects the arguments of one PRF expansion. The seed is the
// concatenation label ‖ ClientSeed ‖ ServerSeed ‖ ClientSessionID ‖
// ServerSessionID; the session ids are empty for the master secret.
type PRFInput struct {
	Label           string
	Secret          []byte
	ClientSeed      []byte
	ServerSeed      []byte
	ClientSessionID []byte
	ServerSessionID []byte
	Size            int
}

func (in PRFInput) seed() []byte {
	seed := make([]byte, 0, len(in.Label)+len(in.ClientSeed)+len(in.ServerSeed)+len(in.ClientSessionID)+len(in.ServerSessionID))
	seed = append(seed, in.Label...)
	seed = append(seed, in.ClientSeed...)
	seed = append(seed, in.ServerSeed...)
	seed = append(seed, in.ClientSessionID...)
	seed = append(seed, in.ServerSessionID...)
	return seed
}

// PRF is the TLS 1.0 pseudo-random function: P_MD5 over the first half of
// the secret XOR P_SHA1 over the second half. For odd secret lengths the two
// halves share the middle byte.
func PRF(in PRFInput) (*crypto.SecretBuffer, error) {
	const op = "keys.PRF"
	if len(in.Secret) == 0 {
		return nil, vpnerr.Errorf(vpnerr.InsufficientSecret, op, "empty secret")
	}
	if in.Size <= 0 {
		return nil, vpnerr.Errorf(vpnerr.InsufficientSecret, op, "invalid output size %d", in.Size)
	}

	half := (len(in.Secret) + 1) / 2
	s1 := in.Secret[:half]
	s2 := in.Secret[len(in.Secret)-half:]
	seed := in.seed()

	out := pHash(md5.New, s1, seed, in.Size)
	sha := pHash(sha1.New, s2, seed, in.Size)
	for i := range out {
		out[i] ^= sha[i]
	}
	crypto.ZeroBytes(sha)

	result := crypto.SecretBufferFrom(out)
	crypto.ZeroBytes(out)
	return result, nil
}

// pHash is the TLS P_hash expansion:
//
//	A(0) = seed, A(i) = HMAC(secret, A(i-1))
//	out  = HMAC(secret, A(1) ‖ seed) ‖ HMAC(secret, A(2) ‖ seed) ‖ ...
func pHash(h func() hash.Hash, secret, seed []byte, size int) []byte {
	out := make([]byte, 0, size+64)
	mac := hmac.New(h, secret)

	mac.Write(seed)
	a := mac.Sum(nil)

	for len(out) < size {
		mac.Reset()
		mac.Write(a)
		mac.Write(seed)
		out = mac.Sum(out)

		mac.Reset()
		mac.Write(a)
		a = mac.Sum(a[:0])
	}
	crypto.ZeroBytes(a)
	crypto.ZeroBytes(out[size:cap(out)])
	return out[:size]
}
