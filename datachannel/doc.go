// Package datachannel implements the OpenVPN data channel: per-packet
// encryption, authentication, replay protection, compression framing and
// keepalive detection.
//
// # Constructions
//
// One of three constructions is selected once from the negotiated cipher and
// digest names and used through the [Crypto] interface:
//
//   - Aead (AES-128/192/256-GCM, CHACHA20-POLY1305): nonce is the 4-byte
//     packet id followed by 8 bytes of implicit IV from the HMAC key slot;
//     the tag precedes the ciphertext.
//   - CbcHmac (AES-CBC or cipher "none"): hmac ‖ iv ‖ ciphertext, HMAC over
//     iv ‖ ciphertext, checked in constant time before decryption.
//   - CtrHmac (AES-CTR): tag = HMAC(AD ‖ plaintext), IV = tag[:16]. This is
//     also the tls-crypt envelope.
//
// # Data Path
//
// [DataPath] owns one key id's cipher state, outbound packet id counter and
// [ReplayWindow]:
//
//	dp, err := datachannel.NewDataPath(datachannel.Config{
//	    Cipher: "AES-256-GCM",
//	    PeerID: packet.PeerIDUndefined,
//	}, cryptoKeys)
//
//	wire, err := dp.Encrypt(payloads, keyID)
//	plain, keepAlive, err := dp.Decrypt(wire)
//
// Authentication always completes before the replay window is consulted,
// and a rejected packet leaves the window untouched.
package datachannel
