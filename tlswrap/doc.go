// Package tlswrap protects control channel packets with a pre-shared
// 256-byte static key, outside of and independent from the data channel.
//
// Two strategies exist. Auth (tls-auth) prepends an HMAC and leaves the
// packet readable. Crypt (tls-crypt) encrypts the packet with AES-256-CTR
// under a synthetic IV taken from an HMAC-SHA256 tag. Both carry a replay id
// and timestamp that are checked against a sliding replay window.
//
//	key, err := tlswrap.LoadStaticKey("ta.key")
//	w, err := tlswrap.NewWrapper(tlswrap.Config{
//	    Strategy:  tlswrap.Crypt,
//	    Key:       key,
//	    Direction: tlswrap.Inverse,
//	})
//	raw, err := w.Wrap(pkt)
package tlswrap
