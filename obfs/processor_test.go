package obfs

import (
	"bytes"
	"encoding/hex"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestObfuscateVector(t *testing.T) {
	m, err := ParseMethod("obfuscate f76dab30")
	require.NoError(t, err)
	p := NewProcessor(m)

	in := mustHex(t, "832ae7598dfa0378bc19")
	out := p.Outbound(in)
	assert.Equal(t, "e52680106098bc658b15", hex.EncodeToString(out))
	assert.Equal(t, "832ae7598dfa0378bc19", hex.EncodeToString(in), "input must not be modified")

	assert.Equal(t, in, p.Inbound(out))
}

func TestSingleTransforms(t *testing.T) {
	tests := []struct {
		method string
		in     string
		want   string
	}{
		{"xormask ab", "000000", "616261"},
		{"xorptrpos", "000000", "010203"},
		{"reverse", "0102030405", "0105040302"},
		{"reverse", "0102", "0102"},
		{"none", "0102", "0102"},
		{"", "0102", "0102"},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			m, err := ParseMethod(tt.method)
			require.NoError(t, err)
			p := NewProcessor(m)
			out := p.Outbound(mustHex(t, tt.in))
			assert.Equal(t, tt.want, hex.EncodeToString(out))
			assert.Equal(t, tt.in, hex.EncodeToString(p.Inbound(out)))
		})
	}
}

func TestProcessorReversible(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	methods := []string{"xormask k3y", "xorptrpos", "reverse", "obfuscate f76dab30", "obfuscate x"}
	for _, name := range methods {
		m, err := ParseMethod(name)
		require.NoError(t, err)
		p := NewProcessor(m)
		for size := 0; size < 600; size += 37 {
			data := make([]byte, size)
			rng.Read(data)
			if got := p.Inbound(p.Outbound(data)); !bytes.Equal(got, data) {
				t.Fatalf("%s: size %d did not round-trip", name, size)
			}
		}
	}
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("  XORMASK  secret ")
	require.NoError(t, err)
	assert.Equal(t, XorMask, m.Kind)
	assert.Equal(t, []byte("secret"), m.Key)
	assert.Equal(t, "xormask secret", m.String())

	m, err = ParseMethod("reverse")
	require.NoError(t, err)
	assert.Equal(t, "reverse", m.String())

	for _, bad := range []string{"xormask", "obfuscate a b", "reverse x", "rot13"} {
		_, err := ParseMethod(bad)
		assert.Error(t, err, bad)
	}
}

func TestNilProcessorIsIdentity(t *testing.T) {
	var p *Processor
	assert.False(t, p.Enabled())
	assert.Equal(t, []byte{1, 2, 3}, p.Outbound([]byte{1, 2, 3}))
	assert.Equal(t, []byte{1, 2, 3}, p.Inbound([]byte{1, 2, 3}))
}
