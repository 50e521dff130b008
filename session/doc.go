// Package session ties the packet layers of one OpenVPN session together.
//
// Outbound control packets are built by NewControlPacket, then wrapped with
// tls-auth or tls-crypt, obfuscated and, on TCP, length-prefixed by
// SerializeControl. ReceiveControl reverses the chain and hands packets to
// the reliability channel, which releases them in packet id order and
// remembers which ids are owed an ACK. Data packets go through the data path
// of their key id.
//
//	s, err := session.New(session.Config{
//		Role: keys.Client,
//		Data: datachannel.Config{Cipher: "AES-256-GCM"},
//	})
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//
// RunLoopback drives a client and a server session against each other in
// memory, with a Noise handshake standing in for TLS.
package session
