// Package keys derives the OpenVPN data channel keys.
//
// The client and server each contribute a [KeySource] through the key method
// 2 messages exchanged inside the TLS tunnel. [Derive] runs the TLS 1.0 PRF
// twice:
//
//	master   = PRF(preMaster, "OpenVPN master secret", cRandom1 ‖ sRandom1, 48)
//	material = PRF(master, "OpenVPN key expansion",
//	               cRandom2 ‖ sRandom2 ‖ cSessionID ‖ sSessionID, 256)
//
// and splits the 256 bytes into four 64-byte slots: cipher and HMAC key for
// the client-to-server direction, then for server-to-client. The resulting
// [CryptoKeys] must be released with Zero when the key id is retired.
package keys
