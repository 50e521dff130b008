// Package handshake defines the TLS handshake collaborator used by the
// control channel and a Noise Protocol Framework implementation of it.
//
// The control channel treats the provider as opaque: records pulled with
// PullCipherText are sent as control packet payloads, and payloads received
// in order are fed back with PutCipherText. Once IsConnected reports true,
// the key exchange messages travel through PutPlainText and PullPlainText.
package handshake
