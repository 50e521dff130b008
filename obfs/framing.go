package obfs

import (
	"encoding/binary"
	"sync"

	"github.com/opd-ai/ovpncore/crypto"
	"github.com/opd-ai/ovpncore/limits"
	"github.com/opd-ai/ovpncore/vpnerr"
	"github.com/sirupsen/logrus"
)

// LengthPrefixSize is the size of the big-endian frame length on stream
// transports.
const LengthPrefixSize = 2

// Packetize frames packets for a stream transport as
// [u16 length][payload] records.
func Packetize(packets ...[]byte) ([]byte, error) {
	size := 0
	for _, p := range packets {
		if err := limits.ValidateFrameLength(len(p)); err != nil {
			return nil, vpnerr.New(vpnerr.MalformedFrame, "obfs.Packetize", err)
		}
		size += LengthPrefixSize + len(p)
	}

	out := make([]byte, 0, size)
	for _, p := range packets {
		out = binary.BigEndian.AppendUint16(out, uint16(len(p)))
		out = append(out, p...)
	}
	return out, nil
}

// Unpacketize extracts every complete frame at the start of stream and
// returns them with the number of bytes consumed. Incomplete trailing bytes,
// including half a length prefix, are left for the next call. A zero length
// prefix is a MalformedFrame error; the frames before it are still returned.
func Unpacketize(stream []byte) ([][]byte, int, error) {
	var packets [][]byte
	off := 0
	for len(stream)-off >= LengthPrefixSize {
		n := int(binary.BigEndian.Uint16(stream[off:]))
		if err := limits.ValidateFrameLength(n); err != nil {
			return packets, off, vpnerr.New(vpnerr.MalformedFrame, "obfs.Unpacketize", err)
		}
		end := off + LengthPrefixSize + n
		if end > len(stream) {
			break
		}
		packets = append(packets, append([]byte(nil), stream[off+LengthPrefixSize:end]...))
		off = end
	}
	return packets, off, nil
}

// Framer accumulates stream reads and hands back whole packets.
type Framer struct {
	mu  sync.Mutex
	buf []byte
}

// NewFramer returns an empty framer.
func NewFramer() *Framer {
	return &Framer{}
}

// Feed appends data and returns every packet now complete. On a malformed
// frame the buffered bytes are discarded, since the stream can no longer be
// resynchronized.
func (f *Framer) Feed(data []byte) ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.buf = append(f.buf, data...)
	packets, consumed, err := Unpacketize(f.buf)
	if err != nil {
		crypto.NewLogger("obfs", "Framer.Feed").
			WithError(err, vpnerr.KindOf(err).Code(), "unpacketize").
			WithFields(logrus.Fields{"buffered": len(f.buf), "consumed": consumed}).
			Warn("Discarding unframeable stream data")
		f.buf = nil
		return packets, err
	}

	rest := len(f.buf) - consumed
	copy(f.buf, f.buf[consumed:])
	f.buf = f.buf[:rest]
	return packets, nil
}

// Buffered returns the number of bytes waiting for the rest of a frame.
func (f *Framer) Buffered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buf)
}

// Reset discards buffered bytes.
func (f *Framer) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buf = nil
}
