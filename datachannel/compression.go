package datachannel

import (
	"fmt"
	"strings"

	"github.com/opd-ai/ovpncore/vpnerr"
)

// CompressionFraming is the negotiated compression header applied to data
// channel plaintext. Only the uncompressed ("stub") forms are produced;
// compressed inbound payloads are reported as CompressionMismatch.
type CompressionFraming uint8

const (
	// FramingNone sends payloads as-is.
	FramingNone CompressionFraming = iota
	// FramingCompLZO prefixes a one-byte "not compressed" marker.
	FramingCompLZO
	// FramingCompress is the "compress" stub: the first payload byte moves to
	// the end and is replaced by the swap marker.
	FramingCompress
	// FramingCompressV2 only escapes payloads starting with the v2 indicator.
	FramingCompressV2
)

const (
	noCompress        byte = 0xFA
	noCompressSwap    byte = 0xFB
	lzoCompress       byte = 0x66
	lz4Compress       byte = 0x69
	v2Indicator       byte = 0x50
	v2Uncompressed    byte = 0x00
	compressionOpName      = "datachannel.Unframe"
)

var framingNames = map[CompressionFraming]string{
	FramingNone:       "none",
	FramingCompLZO:    "comp-lzo",
	FramingCompress:   "compress",
	FramingCompressV2: "compress-v2",
}

func (f CompressionFraming) String() string {
	if s, ok := framingNames[f]; ok {
		return s
	}
	return fmt.Sprintf("framing(%d)", uint8(f))
}

// ParseCompressionFraming maps a configuration name to a framing.
func ParseCompressionFraming(s string) (CompressionFraming, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return FramingNone, nil
	}
	for f, n := range framingNames {
		if n == name {
			return f, nil
		}
	}
	return FramingNone, fmt.Errorf("unknown compression framing %q", s)
}

// Frame adds the framing header to payload.
func (f CompressionFraming) Frame(payload []byte) []byte {
	switch f {
	case FramingCompLZO:
		return append([]byte{noCompress}, payload...)

	case FramingCompress:
		if len(payload) == 0 {
			return []byte{noCompress}
		}
		out := make([]byte, 0, len(payload)+1)
		out = append(out, noCompressSwap)
		out = append(out, payload[1:]...)
		return append(out, payload[0])

	case FramingCompressV2:
		if len(payload) > 0 && payload[0] == v2Indicator {
			return append([]byte{v2Indicator, v2Uncompressed}, payload...)
		}
	}
	return append([]byte(nil), payload...)
}

// Unframe strips the framing header.
func (f CompressionFraming) Unframe(data []byte) ([]byte, error) {
	switch f {
	case FramingCompLZO, FramingCompress:
		if len(data) == 0 {
			return nil, vpnerr.Errorf(vpnerr.CompressionMismatch, compressionOpName, "missing compression header")
		}
		switch data[0] {
		case noCompress:
			return data[1:], nil
		case noCompressSwap:
			if f != FramingCompress || len(data) < 2 {
				break
			}
			out := make([]byte, 0, len(data)-1)
			out = append(out, data[len(data)-1])
			return append(out, data[1:len(data)-1]...), nil
		case lzoCompress, lz4Compress:
			return nil, vpnerr.Errorf(vpnerr.CompressionMismatch, compressionOpName, "compressed payload (0x%02x) not supported", data[0])
		}
		return nil, vpnerr.Errorf(vpnerr.CompressionMismatch, compressionOpName, "unexpected header 0x%02x for %s", data[0], f)

	case FramingCompressV2:
		if len(data) == 0 || data[0] != v2Indicator {
			return data, nil
		}
		if len(data) < 2 || data[1] != v2Uncompressed {
			return nil, vpnerr.Errorf(vpnerr.CompressionMismatch, compressionOpName, "compressed v2 payload not supported")
		}
		return data[2:], nil
	}
	return data, nil
}
