package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/opd-ai/ovpncore/crypto"
	"github.com/opd-ai/ovpncore/datachannel"
	"github.com/opd-ai/ovpncore/keys"
	"github.com/opd-ai/ovpncore/obfs"
	"github.com/opd-ai/ovpncore/packet"
	"github.com/opd-ai/ovpncore/tlswrap"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "AES-256-GCM", cfg.Cipher)
	assert.Equal(t, "SHA1", cfg.Digest)
	assert.False(t, cfg.IsStream())

	data, err := cfg.DataConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, datachannel.FramingNone, data.Framing)
	assert.Equal(t, packet.PeerIDUndefined, data.PeerID)
}

func TestParseOverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
cipher: AES-128-CBC
digest: SHA256
compressionFraming: comp-lzo
peerId: 7
transport: tcp
xorMethod: obfuscate f76dab30
`))
	require.NoError(t, err)
	assert.Equal(t, "AES-128-CBC", cfg.Cipher)
	assert.Equal(t, "info", cfg.LogLevel, "unset fields keep defaults")
	assert.True(t, cfg.IsStream())

	data, err := cfg.DataConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, datachannel.FramingCompLZO, data.Framing)
	assert.Equal(t, uint32(7), data.PeerID)

	kind, err := datachannel.KindFor(data.Cipher, data.Digest)
	require.NoError(t, err)
	assert.Equal(t, datachannel.CbcHmac, kind)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want error
	}{
		{"cipher", "cipher: BF-CBC", ErrUnknownCipher},
		{"cbc without digest", "cipher: AES-256-CBC\ndigest: none", ErrUnknownCipher},
		{"digest", "digest: MD4", ErrUnknownCipher},
		{"framing", "compressionFraming: lz4", ErrUnknownFraming},
		{"peer id", "peerId: 16777216", ErrInvalidPeerID},
		{"transport", "transport: sctp", ErrUnknownTransport},
		{"xor method", "xorMethod: rot13", ErrInvalidObfuscation},
		{"xormask without key", "xorMethod: xormask", ErrInvalidObfuscation},
		{"wrap strategy", "tlsWrap:\n  strategy: sign\n  key: x", ErrInvalidTLSWrap},
		{"wrap direction", "tlsWrap:\n  strategy: auth\n  key: x\n  direction: up", ErrInvalidTLSWrap},
		{"wrap without key", "tlsWrap:\n  strategy: crypt", ErrInvalidTLSWrap},
		{"wrap digest", "tlsWrap:\n  strategy: auth\n  key: x\n  digest: MD5", ErrInvalidTLSWrap},
		{"log level", "logLevel: chatty", ErrInvalidLogging},
		{"log format", "logFormat: xml", ErrInvalidLogging},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if !errors.Is(err, tt.want) {
				t.Fatalf("Parse(%q) = %v, want %v", tt.yaml, err, tt.want)
			}
		})
	}
}

func TestParseMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("cipher: [unterminated"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cipher: CHACHA20-POLY1305\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "CHACHA20-POLY1305", cfg.Cipher)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func writeStaticKey(t *testing.T) (string, *tlswrap.StaticKey) {
	t.Helper()
	key, err := tlswrap.GenerateStaticKey(crypto.NewSeededPRNG([]byte("config")))
	require.NoError(t, err)
	t.Cleanup(key.Zero)
	path := filepath.Join(t.TempDir(), "ta.key")
	require.NoError(t, os.WriteFile(path, []byte(key.String()), 0o600))
	return path, key
}

func TestTLSWrapConfig(t *testing.T) {
	path, want := writeStaticKey(t)
	cfg := Default()
	cfg.TLSWrap = &TLSWrap{Strategy: "tls-crypt", KeyFile: path}
	require.NoError(t, cfg.Validate())

	client, err := cfg.TLSWrapConfig(keys.Client)
	require.NoError(t, err)
	defer client.Key.Zero()
	assert.Equal(t, tlswrap.Crypt, client.Strategy)
	assert.Equal(t, tlswrap.Inverse, client.Direction)
	assert.Equal(t, want.Bytes(), client.Key.Bytes())

	server, err := cfg.TLSWrapConfig(keys.Server)
	require.NoError(t, err)
	defer server.Key.Zero()
	assert.Equal(t, tlswrap.Normal, server.Direction)

	cfg.TLSWrap.Direction = "bidirectional"
	both, err := cfg.TLSWrapConfig(keys.Server)
	require.NoError(t, err)
	defer both.Key.Zero()
	assert.Equal(t, tlswrap.Bidirectional, both.Direction)

	cfg.TLSWrap = nil
	none, err := cfg.TLSWrapConfig(keys.Client)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestInlineKeyRoundTrip(t *testing.T) {
	_, key := writeStaticKey(t)
	cfg := Default()
	cfg.TLSWrap = &TLSWrap{Strategy: "auth", Key: key.String(), Digest: "SHA256"}
	cfg.XORMethod = "xorptrpos"

	data, err := cfg.Marshal()
	require.NoError(t, err)
	parsed, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, cfg.Cipher, parsed.Cipher)
	assert.Equal(t, "xorptrpos", parsed.XORMethod)
	require.NotNil(t, parsed.TLSWrap)
	assert.Equal(t, "auth", parsed.TLSWrap.Strategy)

	wrap, err := parsed.TLSWrapConfig(keys.Client)
	require.NoError(t, err)
	defer wrap.Key.Zero()
	assert.Equal(t, key.Bytes(), wrap.Key.Bytes())
	assert.Equal(t, "SHA256", wrap.Digest)
}

func TestSessionConfig(t *testing.T) {
	cfg, err := Parse([]byte("transport: tcp\nxorMethod: reverse\npeerId: 3\n"))
	require.NoError(t, err)

	prng := crypto.NewSeededPRNG([]byte("session config"))
	sc, err := cfg.SessionConfig(keys.Server, prng, nil)
	require.NoError(t, err)
	assert.Equal(t, keys.Server, sc.Role)
	assert.True(t, sc.Stream)
	assert.Equal(t, obfs.Reverse, sc.Obfuscation.Kind)
	assert.Equal(t, uint32(3), sc.Data.PeerID)
	assert.Nil(t, sc.TLSWrap)

	cfg.TLSWrap = &TLSWrap{Strategy: "auth", KeyFile: filepath.Join(t.TempDir(), "missing.key")}
	_, err = cfg.SessionConfig(keys.Client, prng, nil)
	assert.True(t, errors.Is(err, ErrInvalidTLSWrap))
}

func TestApplyLogging(t *testing.T) {
	prevLevel := logrus.GetLevel()
	prevFormatter := logrus.StandardLogger().Formatter
	t.Cleanup(func() {
		logrus.SetLevel(prevLevel)
		logrus.SetFormatter(prevFormatter)
	})

	cfg := Default()
	cfg.LogLevel = "debug"
	cfg.LogFormat = "json"
	require.NoError(t, cfg.ApplyLogging())
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logrus.StandardLogger().Formatter)

	cfg.LogFormat = "text"
	cfg.LogLevel = "warn"
	require.NoError(t, cfg.ApplyLogging())
	assert.Equal(t, logrus.WarnLevel, logrus.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logrus.StandardLogger().Formatter)

	cfg.LogLevel = "loud"
	assert.True(t, errors.Is(cfg.ApplyLogging(), ErrInvalidLogging))
}
