package datachannel

import (
	"errors"
	"testing"

	"github.com/opd-ai/ovpncore/vpnerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressionFrameVectors(t *testing.T) {
	tests := []struct {
		name    string
		framing CompressionFraming
		in      []byte
		want    []byte
	}{
		{"none", FramingNone, []byte{1, 2, 3}, []byte{1, 2, 3}},
		{"comp-lzo", FramingCompLZO, []byte{1, 2, 3}, []byte{0xFA, 1, 2, 3}},
		{"comp-lzo empty", FramingCompLZO, nil, []byte{0xFA}},
		{"compress swap", FramingCompress, []byte{1, 2, 3}, []byte{0xFB, 2, 3, 1}},
		{"compress single", FramingCompress, []byte{7}, []byte{0xFB, 7}},
		{"compress empty", FramingCompress, nil, []byte{0xFA}},
		{"compress-v2 plain", FramingCompressV2, []byte{0x45, 0}, []byte{0x45, 0}},
		{"compress-v2 escaped", FramingCompressV2, []byte{0x50, 9}, []byte{0x50, 0x00, 0x50, 9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			framed := tt.framing.Frame(tt.in)
			assert.Equal(t, tt.want, framed)

			out, err := tt.framing.Unframe(framed)
			require.NoError(t, err)
			assert.Equal(t, len(tt.in), len(out))
			if len(tt.in) > 0 {
				assert.Equal(t, tt.in, out)
			}
		})
	}
}

func TestCompressionUnframeMismatch(t *testing.T) {
	tests := []struct {
		name    string
		framing CompressionFraming
		data    []byte
	}{
		{"lzo compressed", FramingCompLZO, []byte{0x66, 1, 2}},
		{"lz4 compressed", FramingCompress, []byte{0x69, 1, 2}},
		{"unknown marker", FramingCompLZO, []byte{0x12, 1}},
		{"swap under comp-lzo", FramingCompLZO, []byte{0xFB, 1, 2}},
		{"missing header", FramingCompress, nil},
		{"v2 compressed", FramingCompressV2, []byte{0x50, 0x01, 1}},
		{"v2 truncated", FramingCompressV2, []byte{0x50}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.framing.Unframe(tt.data)
			assert.True(t, errors.Is(err, vpnerr.ErrCompressionMismatch), "got %v", err)
			assert.Equal(t, vpnerr.DropPacket, vpnerr.ActionOf(err))
		})
	}
}

func TestParseCompressionFraming(t *testing.T) {
	for _, f := range []CompressionFraming{FramingNone, FramingCompLZO, FramingCompress, FramingCompressV2} {
		got, err := ParseCompressionFraming(f.String())
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}

	got, err := ParseCompressionFraming(" ")
	require.NoError(t, err)
	assert.Equal(t, FramingNone, got)

	_, err = ParseCompressionFraming("lz4")
	assert.Error(t, err)
	assert.Equal(t, "framing(9)", CompressionFraming(9).String())
}
