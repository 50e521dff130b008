package handshake

import "errors"

var (
	// ErrNotStarted indicates Start has not been called.
	ErrNotStarted = errors.New("handshake not started")
	// ErrAlreadyStarted indicates Start was called twice.
	ErrAlreadyStarted = errors.New("handshake already started")
	// ErrClosed indicates the provider was closed.
	ErrClosed = errors.New("handshake provider closed")
)

// Provider is the TLS-like handshake engine the control channel carries.
// The core never looks inside the records: it moves ciphertext between the
// provider and the wire, and plaintext between the provider and the key
// exchange.
//
// PullCipherText and PullPlainText return (nil, nil) when nothing is queued.
type Provider interface {
	// Start begins the handshake. An initiator queues its first record.
	Start() error
	// IsConnected reports whether the handshake completed.
	IsConnected() bool
	// PutPlainText queues application data. Data written before the
	// handshake completes is sent once it does.
	PutPlainText(data []byte) error
	// PutCipherText feeds one record received from the peer.
	PutCipherText(record []byte) error
	// PullPlainText returns the next decrypted application message.
	PullPlainText() ([]byte, error)
	// PullCipherText returns the next record to send to the peer.
	PullCipherText() ([]byte, error)
}

// Pump shuttles records between two providers until neither has anything
// left to send. It returns the number of records moved.
func Pump(a, b Provider) (int, error) {
	moved := 0
	for {
		progress := false
		for _, pair := range [2][2]Provider{{a, b}, {b, a}} {
			for {
				record, err := pair[0].PullCipherText()
				if err != nil {
					return moved, err
				}
				if record == nil {
					break
				}
				if err := pair[1].PutCipherText(record); err != nil {
					return moved, err
				}
				moved++
				progress = true
			}
		}
		if !progress {
			return moved, nil
		}
	}
}
