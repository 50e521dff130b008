package obfs

// Processor applies a Method to whole packets. Outbound and Inbound are
// exact inverses and never modify their input.
type Processor struct {
	Method Method
}

// NewProcessor returns a processor for m.
func NewProcessor(m Method) *Processor {
	return &Processor{Method: m}
}

// Enabled reports whether the processor changes packets at all.
func (p *Processor) Enabled() bool {
	return p != nil && p.Method.Kind != None
}

// Outbound transforms a packet about to be written to the transport.
func (p *Processor) Outbound(data []byte) []byte {
	out := append([]byte(nil), data...)
	if !p.Enabled() {
		return out
	}
	switch p.Method.Kind {
	case XorMask:
		xorMask(out, p.Method.Key)
	case XorPtrPos:
		xorPtrPos(out)
	case Reverse:
		reverseTail(out)
	case Obfuscate:
		xorPtrPos(out)
		reverseTail(out)
		xorPtrPos(out)
		xorMask(out, p.Method.Key)
	}
	return out
}

// Inbound undoes Outbound on a packet read from the transport.
func (p *Processor) Inbound(data []byte) []byte {
	out := append([]byte(nil), data...)
	if !p.Enabled() {
		return out
	}
	switch p.Method.Kind {
	case XorMask:
		xorMask(out, p.Method.Key)
	case XorPtrPos:
		xorPtrPos(out)
	case Reverse:
		reverseTail(out)
	case Obfuscate:
		xorMask(out, p.Method.Key)
		xorPtrPos(out)
		reverseTail(out)
		xorPtrPos(out)
	}
	return out
}

func xorMask(buf, key []byte) {
	if len(key) == 0 {
		return
	}
	for i := range buf {
		buf[i] ^= key[i%len(key)]
	}
}

// xorPtrPos XORs the byte at offset i with i+1.
func xorPtrPos(buf []byte) {
	for i := range buf {
		buf[i] ^= byte(i + 1)
	}
}

// reverseTail reverses buf[1:]; the first byte stays in place.
func reverseTail(buf []byte) {
	if len(buf) < 3 {
		return
	}
	for i, j := 1, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
}
