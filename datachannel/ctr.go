package datachannel

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/subtle"

	"github.com/opd-ai/ovpncore/crypto"
	"github.com/opd-ai/ovpncore/vpnerr"
)

type ctrDirection struct {
	block   cipher.Block
	key     *crypto.SecretBuffer
	hmacKey *crypto.SecretBuffer
}

func (d *ctrDirection) zero() {
	d.key.Zero()
	d.hmacKey.Zero()
	*d = ctrDirection{}
}

// ctrCrypto is the tls-crypt construction:
//
//	tag = HMAC(AD ‖ plaintext)
//	out = tag ‖ AES-CTR(iv = tag[:16], plaintext)
//
// The caller places the AD (opcode, session id, replay id and timestamp for
// tls-crypt) in front of the output on the wire.
type ctrCrypto struct {
	spec   *CipherSpec
	digest *DigestSpec
	enc    ctrDirection
	dec    ctrDirection
}

func newCTR(spec *CipherSpec, digest *DigestSpec) *ctrCrypto {
	return &ctrCrypto{spec: spec, digest: digest}
}

func (c *ctrCrypto) Kind() Kind { return CtrHmac }

func (c *ctrCrypto) Overhead() int { return c.digest.Size }

func (c *ctrCrypto) configure(op string, dir *ctrDirection, cipherKey, hmacKey *crypto.SecretBuffer) error {
	if c.digest.Size < aes.BlockSize {
		return vpnerr.Errorf(vpnerr.Algorithm, op, "digest %s is shorter than the CTR IV", c.digest.Name)
	}
	mac, err := keyPrefix(op, hmacKey, c.digest.Size)
	if err != nil {
		return err
	}
	key, err := keyPrefix(op, cipherKey, c.spec.KeyLen)
	if err != nil {
		mac.Zero()
		return err
	}
	block, err := aes.NewCipher(key.Bytes())
	if err != nil {
		mac.Zero()
		key.Zero()
		return vpnerr.New(vpnerr.KeyCreation, op, err)
	}
	dir.zero()
	*dir = ctrDirection{block: block, key: key, hmacKey: mac}
	return nil
}

func (c *ctrCrypto) ConfigureEncryption(cipherKey, hmacKey *crypto.SecretBuffer) error {
	return c.configure("datachannel.ctr.ConfigureEncryption", &c.enc, cipherKey, hmacKey)
}

func (c *ctrCrypto) ConfigureDecryption(cipherKey, hmacKey *crypto.SecretBuffer) error {
	return c.configure("datachannel.ctr.ConfigureDecryption", &c.dec, cipherKey, hmacKey)
}

func (c *ctrCrypto) tag(key *crypto.SecretBuffer, ad, plain []byte) []byte {
	h := hmac.New(c.digest.New, key.Bytes())
	h.Write(ad)
	h.Write(plain)
	return h.Sum(nil)
}

func (c *ctrCrypto) Encrypt(payload []byte, flags *Flags) ([]byte, error) {
	const op = "datachannel.ctr.Encrypt"
	if c.enc.block == nil {
		return nil, vpnerr.Errorf(vpnerr.KeyCreation, op, "keys not configured")
	}
	var ad []byte
	if flags != nil {
		ad = flags.AD
	}

	tag := c.tag(c.enc.hmacKey, ad, payload)
	out := make([]byte, len(tag)+len(payload))
	copy(out, tag)
	cipher.NewCTR(c.enc.block, tag[:aes.BlockSize]).XORKeyStream(out[len(tag):], payload)
	return out, nil
}

// open decrypts into a scratch buffer and only hands it back once the tag
// over AD ‖ plaintext matches. On mismatch the scratch buffer is wiped.
func (c *ctrCrypto) open(op string, packet []byte, flags *Flags) ([]byte, error) {
	if c.dec.block == nil {
		return nil, vpnerr.Errorf(vpnerr.KeyCreation, op, "keys not configured")
	}
	if len(packet) < c.digest.Size {
		return nil, vpnerr.Errorf(vpnerr.Truncated, op, "packet shorter than tag: %d bytes", len(packet))
	}
	var ad []byte
	if flags != nil {
		ad = flags.AD
	}

	tag, ct := packet[:c.digest.Size], packet[c.digest.Size:]
	scratch := make([]byte, len(ct))
	cipher.NewCTR(c.dec.block, tag[:aes.BlockSize]).XORKeyStream(scratch, ct)

	if subtle.ConstantTimeCompare(tag, c.tag(c.dec.hmacKey, ad, scratch)) != 1 {
		crypto.ZeroBytes(scratch)
		return nil, vpnerr.Errorf(vpnerr.HMACFailure, op, "tag mismatch")
	}
	return scratch, nil
}

func (c *ctrCrypto) Decrypt(packet []byte, flags *Flags) ([]byte, error) {
	return c.open("datachannel.ctr.Decrypt", packet, flags)
}

func (c *ctrCrypto) Verify(packet []byte, flags *Flags) error {
	plain, err := c.open("datachannel.ctr.Verify", packet, flags)
	if plain != nil {
		crypto.ZeroBytes(plain)
	}
	return err
}

func (c *ctrCrypto) Zero() {
	c.enc.zero()
	c.dec.zero()
}
