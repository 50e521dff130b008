package datachannel

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/subtle"

	"github.com/opd-ai/ovpncore/crypto"
	"github.com/opd-ai/ovpncore/vpnerr"
)

type cbcDirection struct {
	block   cipher.Block
	key     *crypto.SecretBuffer
	hmacKey *crypto.SecretBuffer
}

func (d *cbcDirection) zero() {
	d.key.Zero()
	d.hmacKey.Zero()
	*d = cbcDirection{}
}

// cbcCrypto lays packets out as hmac ‖ iv ‖ ciphertext with the HMAC over
// iv ‖ ciphertext. With cipher "none" the layout is hmac ‖ plaintext.
type cbcCrypto struct {
	spec   *CipherSpec
	digest *DigestSpec
	prng   crypto.PRNG
	enc    cbcDirection
	dec    cbcDirection
}

func newCBC(spec *CipherSpec, digest *DigestSpec, prng crypto.PRNG) *cbcCrypto {
	return &cbcCrypto{spec: spec, digest: digest, prng: prng}
}

func (c *cbcCrypto) Kind() Kind { return CbcHmac }

func (c *cbcCrypto) hasCipher() bool { return c.spec.mode == modeCBC }

func (c *cbcCrypto) Overhead() int {
	if !c.hasCipher() {
		return c.digest.Size
	}
	return c.digest.Size + 2*aes.BlockSize
}

func (c *cbcCrypto) configure(op string, dir *cbcDirection, cipherKey, hmacKey *crypto.SecretBuffer) error {
	mac, err := keyPrefix(op, hmacKey, c.digest.Size)
	if err != nil {
		return err
	}
	next := cbcDirection{hmacKey: mac}
	if c.hasCipher() {
		if next.key, err = keyPrefix(op, cipherKey, c.spec.KeyLen); err != nil {
			mac.Zero()
			return err
		}
		if next.block, err = aes.NewCipher(next.key.Bytes()); err != nil {
			next.zero()
			return vpnerr.New(vpnerr.KeyCreation, op, err)
		}
	}
	dir.zero()
	*dir = next
	return nil
}

func (c *cbcCrypto) ConfigureEncryption(cipherKey, hmacKey *crypto.SecretBuffer) error {
	return c.configure("datachannel.cbc.ConfigureEncryption", &c.enc, cipherKey, hmacKey)
}

func (c *cbcCrypto) ConfigureDecryption(cipherKey, hmacKey *crypto.SecretBuffer) error {
	return c.configure("datachannel.cbc.ConfigureDecryption", &c.dec, cipherKey, hmacKey)
}

func (c *cbcCrypto) mac(key *crypto.SecretBuffer, data []byte) []byte {
	h := hmac.New(c.digest.New, key.Bytes())
	h.Write(data)
	return h.Sum(nil)
}

func (c *cbcCrypto) Encrypt(payload []byte, _ *Flags) ([]byte, error) {
	const op = "datachannel.cbc.Encrypt"
	if c.enc.hmacKey == nil {
		return nil, vpnerr.Errorf(vpnerr.KeyCreation, op, "keys not configured")
	}

	var body []byte
	if c.hasCipher() {
		iv, err := crypto.RandomBytes(c.prng, aes.BlockSize)
		if err != nil {
			return nil, vpnerr.New(vpnerr.Encryption, op, err)
		}
		padded := pkcs7Pad(payload, aes.BlockSize)
		body = make([]byte, aes.BlockSize+len(padded))
		copy(body, iv)
		cipher.NewCBCEncrypter(c.enc.block, iv).CryptBlocks(body[aes.BlockSize:], padded)
		crypto.ZeroBytes(padded)
	} else {
		body = append([]byte(nil), payload...)
	}

	out := make([]byte, 0, c.digest.Size+len(body))
	out = append(out, c.mac(c.enc.hmacKey, body)...)
	return append(out, body...), nil
}

// authenticate checks the HMAC in constant time and returns the
// authenticated body (iv ‖ ciphertext, or the plaintext in null mode).
func (c *cbcCrypto) authenticate(op string, packet []byte) ([]byte, error) {
	if c.dec.hmacKey == nil {
		return nil, vpnerr.Errorf(vpnerr.KeyCreation, op, "keys not configured")
	}
	if len(packet) < c.digest.Size {
		return nil, vpnerr.Errorf(vpnerr.Truncated, op, "packet shorter than HMAC: %d bytes", len(packet))
	}
	tag, body := packet[:c.digest.Size], packet[c.digest.Size:]
	if subtle.ConstantTimeCompare(tag, c.mac(c.dec.hmacKey, body)) != 1 {
		return nil, vpnerr.Errorf(vpnerr.HMACFailure, op, "HMAC mismatch")
	}
	return body, nil
}

func (c *cbcCrypto) Decrypt(packet []byte, _ *Flags) ([]byte, error) {
	const op = "datachannel.cbc.Decrypt"
	body, err := c.authenticate(op, packet)
	if err != nil {
		return nil, err
	}
	if !c.hasCipher() {
		return append([]byte(nil), body...), nil
	}

	if len(body) < 2*aes.BlockSize || len(body)%aes.BlockSize != 0 {
		return nil, vpnerr.Errorf(vpnerr.Decryption, op, "ciphertext length %d is not a positive multiple of the block size", len(body)-aes.BlockSize)
	}
	iv, ct := body[:aes.BlockSize], body[aes.BlockSize:]
	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(c.dec.block, iv).CryptBlocks(plain, ct)

	out, err := pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		crypto.ZeroBytes(plain)
		return nil, vpnerr.New(vpnerr.Decryption, op, err)
	}
	return out, nil
}

func (c *cbcCrypto) Verify(packet []byte, _ *Flags) error {
	_, err := c.authenticate("datachannel.cbc.Verify", packet)
	return err
}

func (c *cbcCrypto) Zero() {
	c.enc.zero()
	c.dec.zero()
}
