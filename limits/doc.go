// Package limits provides centralized packet size constants and validation
// functions for the OpenVPN client core.
//
// # Size Hierarchy
//
//   - MaxPayload (16384 bytes): the largest plaintext the data path encrypts
//     in one packet.
//
//   - MaxControlPayload: one TLS record plus the reliability headers.
//
//   - MaxWirePacket / MaxStreamFrame (65535 bytes): the largest packet a u16
//     stream length prefix can carry.
//
// # Validation Functions
//
//	if err := limits.ValidatePayload(p); err != nil {
//	    // errors.Is(err, limits.ErrMessageTooLarge)
//	}
//
//	if err := limits.ValidateFrameLength(n); err != nil {
//	    // zero length or beyond u16
//	}
//
// Callers translate ErrMessageTooLarge into the data path Overflow kind and
// frame length failures into MalformedFrame.
package limits
