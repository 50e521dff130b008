package datachannel

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"hash"
	"strings"

	"github.com/opd-ai/ovpncore/crypto"
	"github.com/opd-ai/ovpncore/vpnerr"
)

// Kind is the cipher construction selected once per session.
type Kind uint8

const (
	// Aead is an authenticated cipher (AES-GCM, ChaCha20-Poly1305).
	Aead Kind = iota + 1
	// CbcHmac is AES-CBC (or no cipher) with an encrypt-then-MAC HMAC.
	CbcHmac
	// CtrHmac is AES-CTR with a synthetic IV taken from an HMAC over the
	// associated data and plaintext.
	CtrHmac
)

func (k Kind) String() string {
	switch k {
	case Aead:
		return "aead"
	case CbcHmac:
		return "cbc-hmac"
	case CtrHmac:
		return "ctr-hmac"
	}
	return "unknown"
}

// Flags is the per-packet metadata consumed by the AEAD and CTR
// constructions. CbcHmac ignores it.
type Flags struct {
	// PacketID is the nonce prefix (AEAD).
	PacketID []byte
	// AD is authenticated but not encrypted.
	AD []byte
}

// Crypto is the data path cipher contract. All three constructions implement
// it; callers never type-switch on the implementation.
type Crypto interface {
	Kind() Kind
	// ConfigureEncryption installs the outbound keys. Only the prefix each
	// algorithm needs is copied; the caller keeps ownership of its buffers.
	ConfigureEncryption(cipherKey, hmacKey *crypto.SecretBuffer) error
	// ConfigureDecryption installs the inbound keys.
	ConfigureDecryption(cipherKey, hmacKey *crypto.SecretBuffer) error
	// Overhead is the worst-case expansion of Encrypt.
	Overhead() int
	Encrypt(payload []byte, flags *Flags) ([]byte, error)
	// Decrypt authenticates before producing any plaintext.
	Decrypt(packet []byte, flags *Flags) ([]byte, error)
	// Verify authenticates without returning plaintext.
	Verify(packet []byte, flags *Flags) error
	// Zero wipes all installed keys.
	Zero()
}

type cipherMode uint8

const (
	modeNone cipherMode = iota
	modeGCM
	modeChaChaPoly
	modeCBC
	modeCTR
)

// CipherSpec describes a negotiable cipher.
type CipherSpec struct {
	Name   string
	KeyLen int
	mode   cipherMode
}

// DigestSpec describes a negotiable HMAC digest.
type DigestSpec struct {
	Name string
	Size int
	New  func() hash.Hash
}

var (
	cipherNone       = &CipherSpec{"none", 0, modeNone}
	cipherAES128GCM  = &CipherSpec{"AES-128-GCM", 16, modeGCM}
	cipherAES192GCM  = &CipherSpec{"AES-192-GCM", 24, modeGCM}
	cipherAES256GCM  = &CipherSpec{"AES-256-GCM", 32, modeGCM}
	cipherChaChaPoly = &CipherSpec{"CHACHA20-POLY1305", 32, modeChaChaPoly}
	cipherAES128CBC  = &CipherSpec{"AES-128-CBC", 16, modeCBC}
	cipherAES192CBC  = &CipherSpec{"AES-192-CBC", 24, modeCBC}
	cipherAES256CBC  = &CipherSpec{"AES-256-CBC", 32, modeCBC}
	cipherAES128CTR  = &CipherSpec{"AES-128-CTR", 16, modeCTR}
	cipherAES192CTR  = &CipherSpec{"AES-192-CTR", 24, modeCTR}
	cipherAES256CTR  = &CipherSpec{"AES-256-CTR", 32, modeCTR}

	digestNone   = &DigestSpec{"none", 0, nil}
	digestSHA1   = &DigestSpec{"SHA1", sha1.Size, sha1.New}
	digestSHA224 = &DigestSpec{"SHA224", sha256.Size224, sha256.New224}
	digestSHA256 = &DigestSpec{"SHA256", sha256.Size, sha256.New}
	digestSHA384 = &DigestSpec{"SHA384", sha512.Size384, sha512.New384}
	digestSHA512 = &DigestSpec{"SHA512", sha512.Size, sha512.New}
)

var supportedCiphers = []*CipherSpec{
	cipherNone,
	cipherAES128GCM, cipherAES192GCM, cipherAES256GCM, cipherChaChaPoly,
	cipherAES128CBC, cipherAES192CBC, cipherAES256CBC,
	cipherAES128CTR, cipherAES192CTR, cipherAES256CTR,
}

var supportedDigests = []*DigestSpec{digestNone, digestSHA1, digestSHA224, digestSHA256, digestSHA384, digestSHA512}

// CipherByName returns the cipher spec for an OpenVPN cipher name.
func CipherByName(name string) (*CipherSpec, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	if upper == "" || upper == "NONE" {
		return cipherNone, nil
	}
	if upper == "CHACHA20POLY1305" {
		upper = cipherChaChaPoly.Name
	}
	for _, c := range supportedCiphers {
		if c.Name == upper {
			return c, nil
		}
	}
	return nil, vpnerr.Errorf(vpnerr.Algorithm, "datachannel.CipherByName", "unsupported cipher %q", name)
}

// DigestByName returns the digest spec for an OpenVPN auth name.
func DigestByName(name string) (*DigestSpec, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	upper = strings.ReplaceAll(upper, "-", "")
	if upper == "" || upper == "NONE" {
		return digestNone, nil
	}
	for _, d := range supportedDigests {
		if d.Name == upper {
			return d, nil
		}
	}
	return nil, vpnerr.Errorf(vpnerr.Algorithm, "datachannel.DigestByName", "unsupported digest %q", name)
}

// KindFor selects the construction for a negotiated cipher/digest pairing.
// AEAD ciphers ignore the digest. The other constructions need one.
func KindFor(cipherName, digestName string) (Kind, error) {
	c, err := CipherByName(cipherName)
	if err != nil {
		return 0, err
	}
	d, err := DigestByName(digestName)
	if err != nil {
		return 0, err
	}
	return kindFor(c, d)
}

func kindFor(c *CipherSpec, d *DigestSpec) (Kind, error) {
	switch c.mode {
	case modeGCM, modeChaChaPoly:
		return Aead, nil
	}
	if d.New == nil {
		return 0, vpnerr.Errorf(vpnerr.Algorithm, "datachannel.KindFor", "cipher %s requires an HMAC digest", c.Name)
	}
	if c.mode == modeCTR {
		return CtrHmac, nil
	}
	return CbcHmac, nil
}

// New builds the Crypto implementation for a cipher/digest pairing. prng
// supplies CBC IVs and defaults to the system CSPRNG.
func New(cipherName, digestName string, prng crypto.PRNG) (Crypto, error) {
	c, err := CipherByName(cipherName)
	if err != nil {
		return nil, err
	}
	d, err := DigestByName(digestName)
	if err != nil {
		return nil, err
	}
	kind, err := kindFor(c, d)
	if err != nil {
		return nil, err
	}
	if prng == nil {
		prng = crypto.SystemPRNG
	}

	switch kind {
	case Aead:
		return newAEAD(c), nil
	case CtrHmac:
		return newCTR(c, d), nil
	default:
		return newCBC(c, d, prng), nil
	}
}

// keyPrefix copies the first n bytes of key, failing with KeyCreation when
// the buffer is too short.
func keyPrefix(op string, key *crypto.SecretBuffer, n int) (*crypto.SecretBuffer, error) {
	if key.Len() < n {
		return nil, vpnerr.Errorf(vpnerr.KeyCreation, op, "key is %d bytes, need %d", key.Len(), n)
	}
	return key.Prefix(n)
}
