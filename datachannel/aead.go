package datachannel

import (
	"crypto/aes"
	"crypto/cipher"

	"github.com/opd-ai/ovpncore/crypto"
	"github.com/opd-ai/ovpncore/vpnerr"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// AEADTagLength is the authentication tag size of every AEAD cipher.
	AEADTagLength = 16
	// AEADPacketIDLength is the explicit part of the nonce.
	AEADPacketIDLength = 4
	// AEADImplicitIVLength is the nonce part taken from the HMAC key slot.
	AEADImplicitIVLength = 8
)

type aeadDirection struct {
	aead       cipher.AEAD
	key        *crypto.SecretBuffer
	implicitIV *crypto.SecretBuffer
}

func (d *aeadDirection) zero() {
	d.key.Zero()
	d.implicitIV.Zero()
	*d = aeadDirection{}
}

// aeadCrypto lays packets out as tag ‖ ciphertext, the tag first as on the
// OpenVPN wire. The nonce is packetId ‖ implicitIV.
type aeadCrypto struct {
	spec *CipherSpec
	enc  aeadDirection
	dec  aeadDirection
}

func newAEAD(spec *CipherSpec) *aeadCrypto {
	return &aeadCrypto{spec: spec}
}

func newAEADCipher(spec *CipherSpec, key []byte) (cipher.AEAD, error) {
	if spec.mode == modeChaChaPoly {
		return chacha20poly1305.New(key)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (c *aeadCrypto) Kind() Kind { return Aead }

func (c *aeadCrypto) Overhead() int { return AEADTagLength }

func (c *aeadCrypto) configure(op string, dir *aeadDirection, cipherKey, hmacKey *crypto.SecretBuffer) error {
	key, err := keyPrefix(op, cipherKey, c.spec.KeyLen)
	if err != nil {
		return err
	}
	iv, err := keyPrefix(op, hmacKey, AEADImplicitIVLength)
	if err != nil {
		key.Zero()
		return err
	}
	a, err := newAEADCipher(c.spec, key.Bytes())
	if err != nil {
		key.Zero()
		iv.Zero()
		return vpnerr.New(vpnerr.KeyCreation, op, err)
	}
	dir.zero()
	*dir = aeadDirection{aead: a, key: key, implicitIV: iv}
	return nil
}

func (c *aeadCrypto) ConfigureEncryption(cipherKey, hmacKey *crypto.SecretBuffer) error {
	return c.configure("datachannel.aead.ConfigureEncryption", &c.enc, cipherKey, hmacKey)
}

func (c *aeadCrypto) ConfigureDecryption(cipherKey, hmacKey *crypto.SecretBuffer) error {
	return c.configure("datachannel.aead.ConfigureDecryption", &c.dec, cipherKey, hmacKey)
}

func nonceFor(op string, dir *aeadDirection, flags *Flags) ([]byte, error) {
	if dir.aead == nil {
		return nil, vpnerr.Errorf(vpnerr.KeyCreation, op, "keys not configured")
	}
	if flags == nil || len(flags.PacketID) != AEADPacketIDLength {
		return nil, vpnerr.Errorf(vpnerr.Algorithm, op, "nonce needs a %d-byte packet id", AEADPacketIDLength)
	}
	nonce := make([]byte, 0, AEADPacketIDLength+AEADImplicitIVLength)
	nonce = append(nonce, flags.PacketID...)
	return append(nonce, dir.implicitIV.Bytes()...), nil
}

func (c *aeadCrypto) Encrypt(payload []byte, flags *Flags) ([]byte, error) {
	const op = "datachannel.aead.Encrypt"
	nonce, err := nonceFor(op, &c.enc, flags)
	if err != nil {
		return nil, err
	}
	sealed := c.enc.aead.Seal(nil, nonce, payload, flags.AD)

	ctLen := len(sealed) - AEADTagLength
	out := make([]byte, len(sealed))
	copy(out, sealed[ctLen:])
	copy(out[AEADTagLength:], sealed[:ctLen])
	return out, nil
}

func (c *aeadCrypto) open(op string, packet []byte, flags *Flags) ([]byte, error) {
	nonce, err := nonceFor(op, &c.dec, flags)
	if err != nil {
		return nil, err
	}
	if len(packet) < AEADTagLength {
		return nil, vpnerr.Errorf(vpnerr.Truncated, op, "packet shorter than tag: %d bytes", len(packet))
	}

	sealed := make([]byte, len(packet))
	copy(sealed, packet[AEADTagLength:])
	copy(sealed[len(packet)-AEADTagLength:], packet[:AEADTagLength])

	plain, err := c.dec.aead.Open(sealed[:0], nonce, sealed, flags.AD)
	if err != nil {
		return nil, vpnerr.New(vpnerr.HMACFailure, op, err)
	}
	return plain, nil
}

func (c *aeadCrypto) Decrypt(packet []byte, flags *Flags) ([]byte, error) {
	return c.open("datachannel.aead.Decrypt", packet, flags)
}

func (c *aeadCrypto) Verify(packet []byte, flags *Flags) error {
	plain, err := c.open("datachannel.aead.Verify", packet, flags)
	crypto.ZeroBytes(plain)
	return err
}

func (c *aeadCrypto) Zero() {
	c.enc.zero()
	c.dec.zero()
}
