package tlswrap

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opd-ai/ovpncore/crypto"
	"github.com/opd-ai/ovpncore/vpnerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequentialKey(t *testing.T) *StaticKey {
	t.Helper()
	raw := make([]byte, StaticKeyLength)
	for i := range raw {
		raw[i] = byte(i)
	}
	k, err := NewStaticKey(raw)
	require.NoError(t, err)
	return k
}

func TestStaticKeyFileRoundTrip(t *testing.T) {
	k, err := GenerateStaticKey(crypto.NewSeededPRNG([]byte("static")))
	require.NoError(t, err)

	text := k.String()
	assert.True(t, strings.Contains(text, staticKeyBegin))
	assert.Equal(t, 16+5, strings.Count(text, "\n"))

	parsed, err := ParseStaticKey([]byte(text))
	require.NoError(t, err)
	assert.Equal(t, k.Bytes(), parsed.Bytes())
}

func TestParseStaticKeyToleratesComments(t *testing.T) {
	k := sequentialKey(t)
	text := "# generated\r\n\n" + strings.ReplaceAll(k.String(), "\n", "\r\n") + "\n# trailer\n"
	parsed, err := ParseStaticKey([]byte(text))
	require.NoError(t, err)
	assert.Equal(t, k.Bytes(), parsed.Bytes())

	bare := strings.Join(strings.Split(k.String(), "\n")[4:20], "\n")
	parsed, err = ParseStaticKey([]byte(bare))
	require.NoError(t, err)
	assert.Equal(t, k.Bytes(), parsed.Bytes())
}

func TestParseStaticKeyErrors(t *testing.T) {
	_, err := ParseStaticKey([]byte(staticKeyBegin + "\nzz\n" + staticKeyEnd))
	assert.True(t, errors.Is(err, vpnerr.ErrMalformedFrame))

	_, err = ParseStaticKey([]byte(staticKeyBegin + "\n00ff\n" + staticKeyEnd))
	assert.True(t, errors.Is(err, vpnerr.ErrInsufficientSecret))
}

func TestLoadStaticKey(t *testing.T) {
	k := sequentialKey(t)
	path := filepath.Join(t.TempDir(), "ta.key")
	require.NoError(t, os.WriteFile(path, []byte(k.String()), 0o600))

	loaded, err := LoadStaticKey(path)
	require.NoError(t, err)
	assert.Equal(t, k.Bytes(), loaded.Bytes())

	_, err = LoadStaticKey(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestStaticKeyDirections(t *testing.T) {
	k := sequentialKey(t)
	raw := k.Bytes()
	slot := func(i int) []byte { return raw[i*64 : (i+1)*64] }

	server, err := k.Keys(Normal)
	require.NoError(t, err)
	client, err := k.Keys(Inverse)
	require.NoError(t, err)
	bidi, err := k.Keys(Bidirectional)
	require.NoError(t, err)

	assert.Equal(t, slot(0), server.Encryption.Cipher.Bytes())
	assert.Equal(t, slot(1), server.Encryption.HMAC.Bytes())
	assert.Equal(t, slot(2), server.Decryption.Cipher.Bytes())
	assert.Equal(t, slot(3), server.Decryption.HMAC.Bytes())

	assert.Equal(t, server.Encryption.Cipher.Bytes(), client.Decryption.Cipher.Bytes())
	assert.Equal(t, server.Decryption.HMAC.Bytes(), client.Encryption.HMAC.Bytes())

	assert.Equal(t, slot(0), bidi.Decryption.Cipher.Bytes())
	assert.Equal(t, slot(1), bidi.Decryption.HMAC.Bytes())
}

func TestParseDirection(t *testing.T) {
	tests := map[string]Direction{"": Bidirectional, "client": Inverse, "1": Inverse, "SERVER": Normal, "0": Normal}
	for in, want := range tests {
		got, err := ParseDirection(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseDirection("2")
	assert.Error(t, err)
}

func TestStaticKeyZero(t *testing.T) {
	k := sequentialKey(t)
	buf := k.Bytes()
	k.Zero()
	assert.True(t, k.Zeroed())
	assert.True(t, bytes.Equal(buf, make([]byte, StaticKeyLength)))

	_, err := k.Keys(Normal)
	assert.True(t, errors.Is(err, vpnerr.ErrKeyCreation))
}
