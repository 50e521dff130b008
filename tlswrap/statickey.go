package tlswrap

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/opd-ai/ovpncore/crypto"
	"github.com/opd-ai/ovpncore/keys"
	"github.com/opd-ai/ovpncore/vpnerr"
)

const (
	// StaticKeyLength is the size of a pre-shared static key: two key
	// pairs of a 64-byte cipher key and a 64-byte HMAC key.
	StaticKeyLength = keys.KeysCount * keys.KeyLength

	staticKeyBegin = "-----BEGIN OpenVPN Static key V1-----"
	staticKeyEnd   = "-----END OpenVPN Static key V1-----"
	hexBytesPerRow = 16
)

// Direction selects which half of a static key encrypts.
type Direction uint8

const (
	// Bidirectional uses the first key pair both ways.
	Bidirectional Direction = iota
	// Normal is key-direction 0, used by servers.
	Normal
	// Inverse is key-direction 1, used by clients.
	Inverse
)

func (d Direction) String() string {
	switch d {
	case Normal:
		return "server"
	case Inverse:
		return "client"
	}
	return "bidirectional"
}

// ParseDirection accepts "client"/"1", "server"/"0" and "bidirectional" or
// an empty string.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "bidirectional":
		return Bidirectional, nil
	case "server", "normal", "0":
		return Normal, nil
	case "client", "inverse", "1":
		return Inverse, nil
	}
	return Bidirectional, fmt.Errorf("unknown key direction %q", s)
}

// StaticKey is a 256-byte pre-shared key used by tls-auth and tls-crypt.
type StaticKey struct {
	key *crypto.SecretBuffer
}

// NewStaticKey copies raw, which must be StaticKeyLength bytes.
func NewStaticKey(raw []byte) (*StaticKey, error) {
	if len(raw) != StaticKeyLength {
		return nil, vpnerr.Errorf(vpnerr.InsufficientSecret, "tlswrap.NewStaticKey", "static key is %d bytes, want %d", len(raw), StaticKeyLength)
	}
	return &StaticKey{key: crypto.SecretBufferFrom(raw)}, nil
}

// GenerateStaticKey draws a fresh key from prng.
func GenerateStaticKey(prng crypto.PRNG) (*StaticKey, error) {
	buf, err := crypto.RandomSecret(prng, StaticKeyLength)
	if err != nil {
		return nil, vpnerr.New(vpnerr.KeyCreation, "tlswrap.GenerateStaticKey", err)
	}
	return &StaticKey{key: buf}, nil
}

// ParseStaticKey decodes the OpenVPN static key file format. Comment lines,
// blank lines and the BEGIN/END markers are stripped and the remaining hex is
// decoded. A bare hex blob is accepted too.
func ParseStaticKey(data []byte) (*StaticKey, error) {
	const op = "tlswrap.ParseStaticKey"
	var hexText strings.Builder
	inBlock := !bytes.Contains(data, []byte(staticKeyBegin))

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == staticKeyBegin:
			inBlock = true
		case line == staticKeyEnd:
			inBlock = false
		case line == "", strings.HasPrefix(line, "#"):
		case inBlock:
			hexText.WriteString(line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, vpnerr.New(vpnerr.MalformedFrame, op, err)
	}

	raw, err := hex.DecodeString(hexText.String())
	if err != nil {
		return nil, vpnerr.New(vpnerr.MalformedFrame, op, err)
	}
	defer crypto.ZeroBytes(raw)
	return NewStaticKey(raw)
}

// LoadStaticKey reads and parses a static key file.
func LoadStaticKey(path string) (*StaticKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read static key: %w", err)
	}
	defer crypto.ZeroBytes(data)
	return ParseStaticKey(data)
}

// String renders the key in the OpenVPN static key file format.
func (k *StaticKey) String() string {
	var b strings.Builder
	b.WriteString("#\n# 2048 bit OpenVPN static key\n#\n")
	b.WriteString(staticKeyBegin + "\n")
	raw := k.key.Bytes()
	for off := 0; off < len(raw); off += hexBytesPerRow {
		end := off + hexBytesPerRow
		if end > len(raw) {
			end = len(raw)
		}
		b.WriteString(hex.EncodeToString(raw[off:end]))
		b.WriteByte('\n')
	}
	b.WriteString(staticKeyEnd + "\n")
	return b.String()
}

// Keys splits the static key into directional key pairs. Normal encrypts with
// the first pair, Inverse with the second, Bidirectional uses the first pair
// both ways. The caller owns and must zero the result.
func (k *StaticKey) Keys(dir Direction) (*keys.CryptoKeys, error) {
	if k == nil || k.key.Zeroed() {
		return nil, vpnerr.Errorf(vpnerr.KeyCreation, "tlswrap.StaticKey.Keys", "static key released")
	}
	switch dir {
	case Normal:
		return keys.Split(keys.Client, k.key)
	case Inverse:
		return keys.Split(keys.Server, k.key)
	}

	ck, err := keys.Split(keys.Client, k.key)
	if err != nil {
		return nil, err
	}
	ck.Decryption.Zero()
	ck.Decryption = keys.KeyPair{}
	if ck.Decryption.Cipher, err = ck.Encryption.Cipher.Prefix(keys.KeyLength); err != nil {
		ck.Zero()
		return nil, vpnerr.New(vpnerr.KeyCreation, "tlswrap.StaticKey.Keys", err)
	}
	if ck.Decryption.HMAC, err = ck.Encryption.HMAC.Prefix(keys.KeyLength); err != nil {
		ck.Zero()
		return nil, vpnerr.New(vpnerr.KeyCreation, "tlswrap.StaticKey.Keys", err)
	}
	return ck, nil
}

// Bytes exposes the raw key. The slice is wiped by Zero.
func (k *StaticKey) Bytes() []byte { return k.key.Bytes() }

// Zero wipes the key.
func (k *StaticKey) Zero() {
	if k == nil {
		return
	}
	k.key.Zero()
}

// Zeroed reports whether Zero has been called.
func (k *StaticKey) Zeroed() bool {
	return k == nil || k.key.Zeroed()
}
