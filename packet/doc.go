// Package packet implements the OpenVPN wire header: opcodes, key ids,
// session ids, packet ids and ACK arrays.
//
// The opcode occupies the high 5 bits of the first byte and the key id the
// low 3 bits. Data v2 packets follow that byte with a 3-byte peer id.
//
// Example:
//
//	p := &packet.Packet{
//	    Opcode:         packet.ControlV1,
//	    LocalSessionID: sid,
//	    ID:             3,
//	    Payload:        tlsRecord,
//	}
//	raw, err := p.Marshal()
//
//	parsed, err := packet.Parse(raw)
//
// ACK-only packets use opcode P_ACK_V1, carry no payload and report
// ID == AckOnlyID.
package packet
