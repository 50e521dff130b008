// Package limits provides centralized packet size limits for the OpenVPN core.
// This ensures consistent validation across the data path, the control channel
// and the stream framer.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxPayload is the largest plaintext accepted by the data path for a
	// single packet, before compression framing.
	MaxPayload = 16384

	// MaxWirePacket is the largest encrypted packet on the wire. Stream
	// transports carry packets behind a u16 length so nothing larger can be
	// framed.
	MaxWirePacket = 65535

	// MaxStreamFrame is the largest payload a u16 length prefix can describe.
	MaxStreamFrame = 65535

	// MaxControlPayload bounds a control packet payload (one TLS record plus
	// reliability headers).
	MaxControlPayload = 16384 + 1024

	// MaxAckIDs is the largest ACK array a control packet can carry.
	MaxAckIDs = 255

	// MaxControlBody bounds a control packet after its session id: the ACK
	// array with its remote session id, the packet id and the payload.
	MaxControlBody = 1 + 4*MaxAckIDs + 8 + 4 + MaxControlPayload
)

var (
	// ErrMessageEmpty indicates an empty message was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")
)

// ValidateMessageSize validates a message against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidatePayload validates a data path plaintext. Empty payloads are valid.
func ValidatePayload(payload []byte) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("%w: payload size %d exceeds limit %d", ErrMessageTooLarge, len(payload), MaxPayload)
	}
	return nil
}

// ValidateWirePacket validates an encrypted packet received from the transport.
func ValidateWirePacket(packet []byte) error {
	if len(packet) == 0 {
		return ErrMessageEmpty
	}
	if len(packet) > MaxWirePacket {
		return fmt.Errorf("%w: wire packet size %d exceeds limit %d", ErrMessageTooLarge, len(packet), MaxWirePacket)
	}
	return nil
}

// ValidateFrameLength validates a stream frame length prefix. Zero-length
// frames are invalid.
func ValidateFrameLength(n int) error {
	if n == 0 {
		return ErrMessageEmpty
	}
	if n > MaxStreamFrame {
		return fmt.Errorf("%w: frame length %d exceeds limit %d", ErrMessageTooLarge, n, MaxStreamFrame)
	}
	return nil
}

// ValidateControlPayload validates a control packet payload.
func ValidateControlPayload(payload []byte) error {
	if len(payload) > MaxControlPayload {
		return fmt.Errorf("%w: control payload size %d exceeds limit %d", ErrMessageTooLarge, len(payload), MaxControlPayload)
	}
	return nil
}
