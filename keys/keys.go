package keys

import (
	"fmt"

	"github.com/opd-ai/ovpncore/crypto"
	"github.com/opd-ai/ovpncore/packet"
	"github.com/opd-ai/ovpncore/vpnerr"
)

const (
	// PreMasterLength is the size of the client-generated pre-master secret.
	PreMasterLength = 48
	// RandomLength is the size of each key method 2 random value.
	RandomLength = 32
	// MasterSecretLength is the size of the derived master secret.
	MasterSecretLength = 48
	// KeyLength is the size of each expanded key slot.
	KeyLength = 64
	// KeysCount is the number of expanded key slots.
	KeysCount = 4

	labelMasterSecret = "OpenVPN master secret"
	labelKeyExpansion = "OpenVPN key expansion"
)

// Role selects which half of the expanded key material encrypts.
type Role uint8

const (
	// Client is the session initiator.
	Client Role = iota
	// Server is the responder.
	Server
)

func (r Role) String() string {
	if r == Server {
		return "server"
	}
	return "client"
}

// KeyPair is the cipher and HMAC key for one direction.
type KeyPair struct {
	Cipher *crypto.SecretBuffer
	HMAC   *crypto.SecretBuffer
}

// Zero wipes both keys.
func (kp *KeyPair) Zero() {
	kp.Cipher.Zero()
	kp.HMAC.Zero()
}

// CryptoKeys holds the directional keys of one data channel key id.
type CryptoKeys struct {
	Encryption KeyPair
	Decryption KeyPair
}

// Zero wipes all four keys.
func (k *CryptoKeys) Zero() {
	if k == nil {
		return
	}
	k.Encryption.Zero()
	k.Decryption.Zero()
}

// DerivationInput is what the TLS exchange and the key method 2 messages
// deliver to the key derivation.
type DerivationInput struct {
	PreMaster       []byte
	ClientRandom1   []byte
	ServerRandom1   []byte
	ClientRandom2   []byte
	ServerRandom2   []byte
	ClientSessionID packet.SessionID
	ServerSessionID packet.SessionID
}

func (in DerivationInput) validate() error {
	const op = "keys.Derive"
	if len(in.PreMaster) != PreMasterLength {
		return vpnerr.Errorf(vpnerr.InsufficientSecret, op, "pre-master secret is %d bytes, want %d", len(in.PreMaster), PreMasterLength)
	}
	for name, r := range map[string][]byte{
		"client random1": in.ClientRandom1,
		"server random1": in.ServerRandom1,
		"client random2": in.ClientRandom2,
		"server random2": in.ServerRandom2,
	} {
		if len(r) != RandomLength {
			return vpnerr.Errorf(vpnerr.InsufficientSecret, op, "%s is %d bytes, want %d", name, len(r), RandomLength)
		}
	}
	return nil
}

// MasterSecret derives the 48-byte master secret from the pre-master secret
// and the first pair of randoms.
func MasterSecret(in DerivationInput) (*crypto.SecretBuffer, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	return PRF(PRFInput{
		Label:      labelMasterSecret,
		Secret:     in.PreMaster,
		ClientSeed: in.ClientRandom1,
		ServerSeed: in.ServerRandom1,
		Size:       MasterSecretLength,
	})
}

// KeyMaterial expands the master secret into KeysCount*KeyLength bytes.
func KeyMaterial(master *crypto.SecretBuffer, in DerivationInput) (*crypto.SecretBuffer, error) {
	if master.Len() != MasterSecretLength {
		return nil, vpnerr.Errorf(vpnerr.InsufficientSecret, "keys.KeyMaterial", "master secret is %d bytes, want %d", master.Len(), MasterSecretLength)
	}
	return PRF(PRFInput{
		Label:           labelKeyExpansion,
		Secret:          master.Bytes(),
		ClientSeed:      in.ClientRandom2,
		ServerSeed:      in.ServerRandom2,
		ClientSessionID: in.ClientSessionID[:],
		ServerSessionID: in.ServerSessionID[:],
		Size:            KeysCount * KeyLength,
	})
}

// Derive runs both PRF stages and splits the key material for role. The
// sequential split (cipher-encrypt, hmac-encrypt, cipher-decrypt,
// hmac-decrypt) is the client's view; the server swaps the two pairs.
func Derive(role Role, in DerivationInput) (*CryptoKeys, error) {
	master, err := MasterSecret(in)
	if err != nil {
		return nil, err
	}
	defer master.Zero()

	material, err := KeyMaterial(master, in)
	if err != nil {
		return nil, err
	}
	defer material.Zero()

	return Split(role, material)
}

// Split slices KeysCount*KeyLength bytes of key material into CryptoKeys.
func Split(role Role, material *crypto.SecretBuffer) (*CryptoKeys, error) {
	if material.Len() != KeysCount*KeyLength {
		return nil, vpnerr.Errorf(vpnerr.InsufficientSecret, "keys.Split", "key material is %d bytes, want %d", material.Len(), KeysCount*KeyLength)
	}

	slots := make([]*crypto.SecretBuffer, KeysCount)
	for i := range slots {
		s, err := material.Slice(i*KeyLength, KeyLength)
		if err != nil {
			for _, prev := range slots[:i] {
				prev.Zero()
			}
			return nil, vpnerr.New(vpnerr.KeyCreation, "keys.Split", fmt.Errorf("slot %d: %w", i, err))
		}
		slots[i] = s
	}

	first := KeyPair{Cipher: slots[0], HMAC: slots[1]}
	second := KeyPair{Cipher: slots[2], HMAC: slots[3]}
	if role == Server {
		return &CryptoKeys{Encryption: second, Decryption: first}, nil
	}
	return &CryptoKeys{Encryption: first, Decryption: second}, nil
}
