// Package config loads the YAML profile of a session: data channel
// algorithms, compression framing, tls-wrap, obfuscation, transport and
// logging.
//
//	cipher: AES-256-GCM
//	digest: SHA1
//	compressionFraming: compress-v2
//	peerId: 7
//	transport: tcp
//	xorMethod: obfuscate f76dab30
//	tlsWrap:
//	  strategy: crypt
//	  keyFile: /etc/openvpn/tc.key
//	logLevel: debug
//	logFormat: json
//
// Fields left out keep the values of Default.
package config
