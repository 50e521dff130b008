// Package reliability implements the control channel's reliable delivery on
// top of an unreliable transport.
//
// Inbound control packets are released strictly in packet id order starting
// at 0; duplicates are discarded. ACK-only packets never enter the reorder
// buffer. Their ids, and ids piggybacked on regular control packets, retire
// in-flight outbound packets:
//
//	ch := reliability.NewChannel(nil)
//	released, err := ch.EnqueueInbound(pkt)
//	ack := packet.NewAck(keyID, local, remote, ch.PendingAcks(0))
package reliability
