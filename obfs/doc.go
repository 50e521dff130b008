// Package obfs implements the packet scrambling transforms and the u16
// length framing used on stream transports.
//
// A [Processor] is built from a scramble directive and applied to each
// packet just before it reaches the transport:
//
//	m, _ := obfs.ParseMethod("obfuscate f76dab30")
//	p := obfs.NewProcessor(m)
//	wire := p.Outbound(pkt)
//	pkt = p.Inbound(wire)
//
// On TCP every packet is then framed as [u16 length][payload]. [Framer]
// reassembles frames across reads, including a length prefix split between
// two reads.
package obfs
