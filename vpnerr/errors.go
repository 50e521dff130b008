// Package vpnerr defines the closed set of failure kinds reported by the
// OpenVPN client core.
//
// Every error produced by the data path, key derivation, control-channel
// reliability, obfuscation and tls-wrap layers carries exactly one Kind. The
// session layer maps a Kind to a stable Code and to an Action telling it
// whether the session must be torn down or the offending packet dropped.
//
// Example:
//
//	plain, err := dp.DecryptPacket(raw)
//	if err != nil {
//	    if vpnerr.ActionOf(err) == vpnerr.AbortSession {
//	        return err
//	    }
//	    continue
//	}
package vpnerr

import (
	"errors"
	"fmt"
)

// Kind identifies a category of failure.
type Kind uint8

const (
	// Unknown is the zero Kind and is never produced by this module.
	Unknown Kind = iota

	// Crypto failures.
	Algorithm
	KeyCreation
	HMACFailure
	Encryption
	Decryption

	// Data path failures.
	PeerIDMismatch
	CompressionMismatch
	Overflow
	Replay

	// Framing and parse failures.
	Truncated
	UnknownOpcode
	MalformedFrame

	// Key derivation failures.
	InsufficientSecret
)

// Action is what the session layer should do when a Kind is reported.
type Action uint8

const (
	// DropPacket discards the offending packet and keeps the session alive.
	DropPacket Action = iota
	// AbortSession tears the session down and releases its key material.
	AbortSession
)

func (a Action) String() string {
	if a == AbortSession {
		return "abort_session"
	}
	return "drop_packet"
}

var kindCodes = map[Kind]string{
	Unknown:             "unknown",
	Algorithm:           "crypto.algorithm",
	KeyCreation:         "crypto.key_creation",
	HMACFailure:         "crypto.hmac_failure",
	Encryption:          "crypto.encryption",
	Decryption:          "crypto.decryption",
	PeerIDMismatch:      "data.peer_id_mismatch",
	CompressionMismatch: "data.compression_mismatch",
	Overflow:            "data.overflow",
	Replay:              "data.replay",
	Truncated:           "frame.truncated",
	UnknownOpcode:       "frame.unknown_opcode",
	MalformedFrame:      "frame.malformed",
	InsufficientSecret:  "prf.insufficient_secret",
}

// Code returns the stable string code for the kind.
func (k Kind) Code() string {
	if c, ok := kindCodes[k]; ok {
		return c
	}
	return kindCodes[Unknown]
}

func (k Kind) String() string { return k.Code() }

// Action returns the recovery action for the kind. Authentication and key
// failures abort; everything that concerns a single packet is dropped.
func (k Kind) Action() Action {
	switch k {
	case Algorithm, KeyCreation, HMACFailure, Encryption, Decryption, InsufficientSecret:
		return AbortSession
	default:
		return DropPacket
	}
}

// Error is the concrete error type carrying a Kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// New returns an *Error of the given kind for operation op.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf is New with a formatted cause.
func Errorf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	msg := e.Kind.Code()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind. Op and Err of
// the target are ignored so the package sentinels match any occurrence.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrAlgorithm           = &Error{Kind: Algorithm}
	ErrKeyCreation         = &Error{Kind: KeyCreation}
	ErrHMACFailure         = &Error{Kind: HMACFailure}
	ErrEncryption          = &Error{Kind: Encryption}
	ErrDecryption          = &Error{Kind: Decryption}
	ErrPeerIDMismatch      = &Error{Kind: PeerIDMismatch}
	ErrCompressionMismatch = &Error{Kind: CompressionMismatch}
	ErrOverflow            = &Error{Kind: Overflow}
	ErrReplay              = &Error{Kind: Replay}
	ErrTruncated           = &Error{Kind: Truncated}
	ErrUnknownOpcode       = &Error{Kind: UnknownOpcode}
	ErrMalformedFrame      = &Error{Kind: MalformedFrame}
	ErrInsufficientSecret  = &Error{Kind: InsufficientSecret}
)

// KindOf extracts the Kind from err, or Unknown when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// ActionOf returns the recovery action for err. Errors without a Kind abort,
// since the core cannot vouch for the session state afterwards.
func ActionOf(err error) Action {
	if err == nil {
		return DropPacket
	}
	k := KindOf(err)
	if k == Unknown {
		return AbortSession
	}
	return k.Action()
}
