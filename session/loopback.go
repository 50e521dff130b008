package session

import (
	"bytes"
	"fmt"

	"github.com/opd-ai/ovpncore/crypto"
	"github.com/opd-ai/ovpncore/datachannel"
	"github.com/opd-ai/ovpncore/handshake"
	"github.com/opd-ai/ovpncore/keys"
	"github.com/opd-ai/ovpncore/packet"
	"github.com/opd-ai/ovpncore/tlswrap"
	"github.com/sirupsen/logrus"
)

// DefaultMaxRounds bounds the control exchange of a loopback run.
const DefaultMaxRounds = 16

// LoopbackConfig describes an in-memory client/server run.
type LoopbackConfig struct {
	// Session is the client's configuration. The server mirrors it with the
	// opposite role and tls-wrap direction.
	Session Config
	// Pattern is the Noise handshake pattern, "NN" or "XX".
	Pattern string
	// Options is the options string sent in both key method 2 messages.
	Options string
	// Payloads are sent client to server and echoed back.
	Payloads  [][]byte
	MaxRounds int
}

// LoopbackResult reports what a loopback run moved.
type LoopbackResult struct {
	Kind           datachannel.Kind
	ControlPackets int
	// HandshakeRecords counts provider records carried in P_CONTROL_V1
	// packets, key method 2 messages included.
	HandshakeRecords int
	ServerReceived   [][]byte
	ClientReceived   [][]byte
	KeepAlive        bool
	// PeerAcks counts control packet ids each side saw acknowledged.
	PeerAcks      int
	ClientUnacked int
	ServerUnacked int
}

// Passed reports whether every payload made it both ways intact.
func (r *LoopbackResult) Passed(sent [][]byte) bool {
	if len(r.ServerReceived) != len(sent) || len(r.ClientReceived) != len(sent) {
		return false
	}
	for i := range sent {
		if !bytes.Equal(sent[i], r.ServerReceived[i]) || !bytes.Equal(sent[i], r.ClientReceived[i]) {
			return false
		}
	}
	return r.KeepAlive && r.ClientUnacked == 0 && r.ServerUnacked == 0
}

type endpoint struct {
	role     keys.Role
	sess     *Session
	provider *handshake.NoiseProvider
	source   *keys.KeySource
	sentAuth bool
	peerAuth *keys.AuthMessage
}

func (e *endpoint) close() {
	e.provider.Close()
	e.sess.Close()
	e.source.Zero()
	if e.peerAuth != nil {
		e.peerAuth.Source.Zero()
	}
}

func mirrorWrap(wrap *tlswrap.Config, role keys.Role) (*tlswrap.Config, error) {
	if wrap == nil {
		return nil, nil
	}
	key, err := tlswrap.NewStaticKey(wrap.Key.Bytes())
	if err != nil {
		return nil, err
	}
	out := *wrap
	out.Key = key
	if role == keys.Server {
		switch wrap.Direction {
		case tlswrap.Inverse:
			out.Direction = tlswrap.Normal
		case tlswrap.Normal:
			out.Direction = tlswrap.Inverse
		}
	}
	return &out, nil
}

func newEndpoint(cfg LoopbackConfig, role keys.Role) (*endpoint, error) {
	scfg := cfg.Session
	scfg.Role = role
	var err error
	if scfg.TLSWrap, err = mirrorWrap(cfg.Session.TLSWrap, role); err != nil {
		return nil, err
	}

	ncfg := handshake.NoiseConfig{
		Role:     handshake.Initiator,
		Pattern:  cfg.Pattern,
		Prologue: []byte("ovpncore loopback"),
		PRNG:     cfg.Session.PRNG,
	}
	if role == keys.Server {
		ncfg.Role = handshake.Responder
	}
	if cfg.Pattern == "XX" || cfg.Pattern == "xx" {
		if ncfg.StaticKeypair, err = handshake.GenerateKeypair(cfg.Session.PRNG); err != nil {
			return nil, err
		}
	}

	e := &endpoint{role: role}
	if e.sess, err = New(scfg); err != nil {
		if scfg.TLSWrap != nil {
			scfg.TLSWrap.Key.Zero()
		}
		return nil, err
	}
	if e.provider, err = handshake.NewNoiseProvider(ncfg); err != nil {
		e.sess.Close()
		return nil, err
	}
	if e.source, err = keys.NewKeySource(cfg.Session.PRNG, role); err != nil {
		e.provider.Close()
		e.sess.Close()
		return nil, err
	}
	return e, nil
}

type loopback struct {
	client, server *endpoint
	result         LoopbackResult
}

// send serializes p on from and delivers it to to.
func (l *loopback) send(from, to *endpoint, p *packet.Packet) error {
	wire, err := from.sess.SerializeControl(p)
	if err != nil {
		return err
	}
	l.result.ControlPackets++
	released, err := to.sess.ReceiveControl(wire)
	if err != nil {
		return err
	}
	l.result.PeerAcks += len(to.sess.TakePeerAcks())
	for _, rp := range released {
		if rp.Opcode != packet.ControlV1 {
			continue
		}
		if err := to.provider.PutCipherText(rp.Payload); err != nil {
			return err
		}
	}
	return nil
}

// flush moves every queued handshake record of from to its peer.
func (l *loopback) flush(from, to *endpoint) (int, error) {
	moved := 0
	for {
		record, err := from.provider.PullCipherText()
		if err != nil || record == nil {
			return moved, err
		}
		p, err := from.sess.NewControlPacket(packet.ControlV1, record)
		if err != nil {
			return moved, err
		}
		if err := l.send(from, to, p); err != nil {
			return moved, err
		}
		l.result.HandshakeRecords++
		moved++
	}
}

func (l *loopback) exchangeAuth(e *endpoint, options string) error {
	if e.provider.IsConnected() && !e.sentAuth {
		msg, err := keys.MarshalAuth(e.role, &keys.AuthMessage{Source: e.source, Options: options})
		if err != nil {
			return err
		}
		e.sentAuth = true
		if err := e.provider.PutPlainText(msg); err != nil {
			return err
		}
	}
	for e.peerAuth == nil {
		plain, err := e.provider.PullPlainText()
		if err != nil || plain == nil {
			return err
		}
		peer := keys.Client
		if e.role == keys.Client {
			peer = keys.Server
		}
		if e.peerAuth, err = keys.ParseAuth(peer, plain); err != nil {
			return err
		}
	}
	return nil
}

func (l *loopback) ack(from, to *endpoint) error {
	if p := from.sess.NewAckPacket(); p != nil {
		return l.send(from, to, p)
	}
	return nil
}

func (l *loopback) deriveKeys() error {
	c, s := l.client, l.server
	clientSID := c.sess.LocalSessionID()
	serverSID := s.sess.LocalSessionID()

	ck, err := keys.DeriveFromSources(keys.Client, c.source, c.peerAuth.Source, clientSID, serverSID)
	if err != nil {
		return err
	}
	if err := c.sess.InstallKeys(0, ck); err != nil {
		return err
	}
	sk, err := keys.DeriveFromSources(keys.Server, s.peerAuth.Source, s.source, clientSID, serverSID)
	if err != nil {
		return err
	}
	return s.sess.InstallKeys(0, sk)
}

func (l *loopback) handshake(cfg LoopbackConfig) error {
	c, s := l.client, l.server
	reset, err := c.sess.NewControlPacket(packet.HardResetClientV2, nil)
	if err != nil {
		return err
	}
	if err := l.send(c, s, reset); err != nil {
		return err
	}
	if reset, err = s.sess.NewControlPacket(packet.HardResetServerV2, nil); err != nil {
		return err
	}
	if err := l.send(s, c, reset); err != nil {
		return err
	}

	if err := c.provider.Start(); err != nil {
		return err
	}
	if err := s.provider.Start(); err != nil {
		return err
	}

	rounds := cfg.MaxRounds
	if rounds <= 0 {
		rounds = DefaultMaxRounds
	}
	for round := 0; round < rounds; round++ {
		for _, pair := range [2][2]*endpoint{{c, s}, {s, c}} {
			if _, err := l.flush(pair[0], pair[1]); err != nil {
				return err
			}
			if err := l.exchangeAuth(pair[1], cfg.Options); err != nil {
				return err
			}
		}
		for _, pair := range [2][2]*endpoint{{c, s}, {s, c}} {
			if err := l.ack(pair[0], pair[1]); err != nil {
				return err
			}
		}
		if c.peerAuth != nil && s.peerAuth != nil && c.sess.Unacked() == 0 && s.sess.Unacked() == 0 {
			return nil
		}
	}
	return fmt.Errorf("control exchange incomplete after %d rounds", rounds)
}

func (l *loopback) echo(payloads [][]byte) error {
	c, s := l.client, l.server

	wire, err := c.sess.EncryptData(0, payloads)
	if err != nil {
		return err
	}
	ping, err := c.sess.Ping()
	if err != nil {
		return err
	}
	for _, raw := range append(wire, ping) {
		in, err := s.sess.Receive(raw)
		if err != nil {
			return err
		}
		l.result.ServerReceived = append(l.result.ServerReceived, in.Data...)
		l.result.KeepAlive = l.result.KeepAlive || in.KeepAlive
	}

	back, err := s.sess.EncryptData(0, l.result.ServerReceived)
	if err != nil {
		return err
	}
	got, _, err := c.sess.DecryptData(back)
	if err != nil {
		return err
	}
	l.result.ClientReceived = got
	return nil
}

// RunLoopback runs a complete in-memory session between a client and a
// server: hard resets, a Noise handshake carried in control packets, the key
// method 2 exchange, key derivation, and an echo of cfg.Payloads over the
// data channel.
func RunLoopback(cfg LoopbackConfig) (*LoopbackResult, error) {
	logger := crypto.NewLogger("session", "RunLoopback")

	client, err := newEndpoint(cfg, keys.Client)
	if err != nil {
		return nil, err
	}
	defer client.close()
	server, err := newEndpoint(cfg, keys.Server)
	if err != nil {
		return nil, err
	}
	defer server.close()

	l := &loopback{client: client, server: server}
	if err := l.handshake(cfg); err != nil {
		logger.WithError(err, "handshake", "RunLoopback").Warn("Loopback handshake failed")
		return &l.result, err
	}
	if err := l.deriveKeys(); err != nil {
		return &l.result, err
	}
	l.result.Kind, _ = client.sess.DataKind(0)

	if err := l.echo(cfg.Payloads); err != nil {
		logger.WithError(err, "data", "RunLoopback").Warn("Loopback data exchange failed")
		return &l.result, err
	}
	l.result.ClientUnacked = client.sess.Unacked()
	l.result.ServerUnacked = server.sess.Unacked()

	logger.WithFields(logrus.Fields{
		"kind":              l.result.Kind.String(),
		"control_packets":   l.result.ControlPackets,
		"handshake_records": l.result.HandshakeRecords,
		"payloads":          len(l.result.ServerReceived),
	}).Info("Loopback complete")
	return &l.result, nil
}
