package session

import (
	"errors"
	"sync"
	"time"

	"github.com/opd-ai/ovpncore/crypto"
	"github.com/opd-ai/ovpncore/datachannel"
	"github.com/opd-ai/ovpncore/keys"
	"github.com/opd-ai/ovpncore/obfs"
	"github.com/opd-ai/ovpncore/packet"
	"github.com/opd-ai/ovpncore/reliability"
	"github.com/opd-ai/ovpncore/tlswrap"
	"github.com/opd-ai/ovpncore/vpnerr"
	"github.com/sirupsen/logrus"
)

// ErrClosed is returned by every operation on a closed session.
var ErrClosed = errors.New("session closed")

// Config describes one session.
type Config struct {
	Role keys.Role
	// Data configures every data path installed with InstallKeys.
	Data datachannel.Config
	// TLSWrap enables tls-auth or tls-crypt. The session takes ownership of
	// TLSWrap.Key and zeroes it on Close.
	TLSWrap *tlswrap.Config
	// Obfuscation scrambles every packet on the wire.
	Obfuscation obfs.Method
	// Stream selects [u16 length] framing for TCP transports.
	Stream       bool
	PRNG         crypto.PRNG
	TimeProvider crypto.TimeProvider
}

// Inbound is what one transport read produced.
type Inbound struct {
	// Control holds control packets released in order.
	Control []*packet.Packet
	// Data holds decrypted data channel payloads.
	Data [][]byte
	// KeepAlive reports that a ping was received.
	KeepAlive bool
}

// Session glues the packet layers of one OpenVPN session together: tls-wrap,
// obfuscation, stream framing, control reliability and the data paths of
// each key id. All methods are serialized by one mutex.
//
// Control reliability is kept per key id. A soft reset starts a fresh
// channel, with packet ids back at 0, for the new key id; the previous key
// id keeps its channel until the next renegotiation so late retransmissions
// and ACKs still land.
type Session struct {
	mu sync.Mutex

	role        keys.Role
	local       packet.SessionID
	remote      packet.SessionID
	remoteKnown bool

	staticKey  *tlswrap.StaticKey
	wrapper    *tlswrap.Wrapper
	channels   map[uint8]*reliability.Channel
	controlKey uint8
	processor  *obfs.Processor
	framer     *obfs.Framer
	tp         crypto.TimeProvider

	dataCfg    datachannel.Config
	paths      map[uint8]*datachannel.DataPath
	keys       map[uint8]*keys.CryptoKeys
	currentKey uint8

	closed bool
}

// New creates a session with a fresh local session id.
func New(cfg Config) (*Session, error) {
	local, err := packet.NewSessionID(cfg.PRNG)
	if err != nil {
		return nil, vpnerr.New(vpnerr.KeyCreation, "session.New", err)
	}

	s := &Session{
		role:      cfg.Role,
		local:     local,
		channels:  map[uint8]*reliability.Channel{0: reliability.NewChannel(cfg.TimeProvider)},
		processor: obfs.NewProcessor(cfg.Obfuscation),
		tp:        cfg.TimeProvider,
		dataCfg:   cfg.Data,
		paths:     make(map[uint8]*datachannel.DataPath),
		keys:      make(map[uint8]*keys.CryptoKeys),
	}
	if s.dataCfg.PRNG == nil {
		s.dataCfg.PRNG = cfg.PRNG
	}
	if cfg.Stream {
		s.framer = obfs.NewFramer()
	}
	if _, err := datachannel.KindFor(cfg.Data.Cipher, cfg.Data.Digest); err != nil {
		return nil, err
	}

	if cfg.TLSWrap != nil {
		wcfg := *cfg.TLSWrap
		if wcfg.TimeProvider == nil {
			wcfg.TimeProvider = cfg.TimeProvider
		}
		if s.wrapper, err = tlswrap.NewWrapper(wcfg); err != nil {
			return nil, err
		}
		s.staticKey = cfg.TLSWrap.Key
	}

	crypto.NewLogger("session", "New").
		WithFields(crypto.SecureFieldHash(local[:], "session_id")).
		WithFields(logrus.Fields{
			"role":     cfg.Role.String(),
			"tls_wrap": s.wrapper != nil,
			"obfs":     cfg.Obfuscation.Kind.String(),
			"stream":   cfg.Stream,
		}).Info("Session created")
	return s, nil
}

// LocalSessionID returns our session id.
func (s *Session) LocalSessionID() packet.SessionID { return s.local }

// RemoteSessionID returns the peer's session id once a control packet from
// it was accepted.
func (s *Session) RemoteSessionID() (packet.SessionID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote, s.remoteKnown
}

// NewControlPacket builds the next reliable control packet and piggybacks
// any pending ACKs on it.
func (s *Session) NewControlPacket(op packet.Opcode, payload []byte) (*packet.Packet, error) {
	if !op.IsControl() || op == packet.AckV1 {
		return nil, vpnerr.Errorf(vpnerr.UnknownOpcode, "session.NewControlPacket", "%s is not a reliable control opcode", op)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.newControlPacketLocked(op, payload), nil
}

func (s *Session) newControlPacketLocked(op packet.Opcode, payload []byte) *packet.Packet {
	ch := s.channels[s.controlKey]
	p := &packet.Packet{
		Opcode:         op,
		KeyID:          s.controlKey,
		LocalSessionID: s.local,
		ID:             ch.NextPacketID(),
		Payload:        append([]byte(nil), payload...),
	}
	if s.remoteKnown {
		p.ACKs = ch.PendingAcks(reliability.DefaultAcksPerPacket)
		p.RemoteSessionID = s.remote
	}
	return p
}

// Renegotiate moves the control channel to keyID and returns the
// P_CONTROL_SOFT_RESET_V1 packet that announces it. Outbound and inbound
// control packet ids for keyID start again at 0.
func (s *Session) Renegotiate(keyID uint8) (*packet.Packet, error) {
	const op = "session.Renegotiate"
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if keyID > 7 {
		return nil, vpnerr.Errorf(vpnerr.KeyCreation, op, "key id %d out of range", keyID)
	}
	if keyID == s.controlKey {
		return nil, vpnerr.Errorf(vpnerr.KeyCreation, op, "key id %d already carries the control channel", keyID)
	}
	s.startControlKeyLocked(keyID)
	return s.newControlPacketLocked(packet.SoftResetV1, nil), nil
}

// startControlKeyLocked gives keyID a fresh reliability channel and makes it
// the control key. Only the previous control key's channel is retained.
func (s *Session) startControlKeyLocked(keyID uint8) *reliability.Channel {
	for id := range s.channels {
		if id != s.controlKey {
			delete(s.channels, id)
		}
	}
	ch := reliability.NewChannel(s.tp)
	crypto.NewLogger("session", "Renegotiate").WithFields(logrus.Fields{
		"previous_key_id": s.controlKey,
		"key_id":          keyID,
	}).Info("Control channel moved to new key id")
	s.channels[keyID] = ch
	s.controlKey = keyID
	return ch
}

// ControlKeyID returns the key id carried by new control packets.
func (s *Session) ControlKeyID() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controlKey
}

// NewAckPacket builds an ACK-only packet for the ids still owed to the peer,
// under the control key first. It returns nil when nothing needs
// acknowledging.
func (s *Session) NewAckPacket() *packet.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.remoteKnown {
		return nil
	}
	for _, id := range s.channelKeysLocked() {
		ch := s.channels[id]
		if ch.HasPendingAcks() {
			return packet.NewAck(id, s.local, s.remote, ch.PendingAcks(reliability.DefaultAcksPerPacket))
		}
	}
	return nil
}

// channelKeysLocked lists key ids with a channel, the control key first.
func (s *Session) channelKeysLocked() []uint8 {
	ids := []uint8{s.controlKey}
	for id := range s.channels {
		if id != s.controlKey {
			ids = append(ids, id)
		}
	}
	return ids
}

// TakePeerAcks drains the control packet ids the peer acknowledged on the
// control key, in ascending order.
func (s *Session) TakePeerAcks() []packet.PacketID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.channels[s.controlKey].TakePeerAcks()
}

// SerializeControl wraps, scrambles and frames a control packet for the
// wire. Reliable packets are tracked until the peer ACKs them.
func (s *Session) SerializeControl(p *packet.Packet) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	plain, err := p.Marshal()
	if err != nil {
		return nil, err
	}
	raw := plain
	if s.wrapper != nil {
		if raw, err = s.wrapper.Wrap(p); err != nil {
			return nil, err
		}
	}
	if !p.IsAckOnly() {
		ch, ok := s.channels[p.KeyID]
		if !ok {
			return nil, vpnerr.Errorf(vpnerr.KeyCreation, "session.SerializeControl", "no control channel for key id %d", p.KeyID)
		}
		ch.Track(p.ID, plain)
	}
	return s.toWireLocked(raw)
}

func (s *Session) toWireLocked(raw []byte) ([]byte, error) {
	out := s.processor.Outbound(raw)
	if s.framer == nil {
		return out, nil
	}
	return obfs.Packetize(out)
}

// ReceiveControl handles a transport read expected to carry only control
// packets and returns the packets released in order. A data packet stops
// processing with UnknownOpcode; packets released before it are returned.
func (s *Session) ReceiveControl(raw []byte) ([]*packet.Packet, error) {
	in, err := s.receive(raw, false)
	if in == nil {
		return nil, err
	}
	return in.Control, err
}

// Receive handles one transport read carrying any mix of control and data
// packets.
func (s *Session) Receive(raw []byte) (*Inbound, error) {
	return s.receive(raw, true)
}

func (s *Session) receive(raw []byte, allowData bool) (*Inbound, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	frames, err := s.fromWireLocked(raw)
	if err != nil {
		return nil, err
	}

	in := &Inbound{}
	for _, frame := range frames {
		if len(frame) == 0 {
			continue
		}
		op, keyID := packet.SplitHeaderByte(frame[0])
		if op.IsData() {
			if !allowData {
				return in, vpnerr.Errorf(vpnerr.UnknownOpcode, "session.ReceiveControl", "%s on the control path", op)
			}
			payload, ping, err := s.decryptLocked(keyID, frame)
			if err != nil {
				if vpnerr.ActionOf(err) == vpnerr.AbortSession {
					return in, err
				}
				s.logDrop("Receive", err, len(frame))
				continue
			}
			if ping {
				in.KeepAlive = true
			} else {
				in.Data = append(in.Data, payload)
			}
			continue
		}

		released, err := s.receiveControlLocked(frame)
		if err != nil {
			if vpnerr.ActionOf(err) == vpnerr.AbortSession {
				return in, err
			}
			s.logDrop("Receive", err, len(frame))
			continue
		}
		in.Control = append(in.Control, released...)
	}
	return in, nil
}

func (s *Session) fromWireLocked(raw []byte) ([][]byte, error) {
	frames := [][]byte{raw}
	if s.framer != nil {
		var err error
		if frames, err = s.framer.Feed(raw); err != nil {
			return nil, err
		}
	}
	for i, f := range frames {
		frames[i] = s.processor.Inbound(f)
	}
	return frames, nil
}

func (s *Session) receiveControlLocked(frame []byte) ([]*packet.Packet, error) {
	const op = "session.ReceiveControl"
	var (
		p   *packet.Packet
		err error
	)
	if s.wrapper != nil {
		p, err = s.wrapper.Unwrap(frame)
	} else {
		p, err = packet.Parse(frame)
	}
	if err != nil {
		return nil, err
	}

	if s.remoteKnown && p.LocalSessionID != s.remote {
		return nil, vpnerr.Errorf(vpnerr.PeerIDMismatch, op, "session id %s, expected %s", p.LocalSessionID, s.remote)
	}
	if len(p.ACKs) > 0 && p.RemoteSessionID != s.local {
		return nil, vpnerr.Errorf(vpnerr.PeerIDMismatch, op, "ACKs addressed to session %s", p.RemoteSessionID)
	}
	ch, ok := s.channels[p.KeyID]
	if !ok {
		if p.Opcode != packet.SoftResetV1 {
			return nil, vpnerr.Errorf(vpnerr.UnknownOpcode, op, "%s for key id %d without a soft reset", p.Opcode, p.KeyID)
		}
		ch = s.startControlKeyLocked(p.KeyID)
	}
	if !s.remoteKnown {
		s.remote = p.LocalSessionID
		s.remoteKnown = true
	}
	return ch.EnqueueInbound(p)
}

// InstallKeys installs the data channel keys of keyID and makes it the
// current key. The session takes ownership of k: it is zeroed when the key id
// is replaced, when the session closes, or when installation fails.
func (s *Session) InstallKeys(keyID uint8, k *keys.CryptoKeys) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		k.Zero()
		return ErrClosed
	}
	if keyID > 7 {
		k.Zero()
		return vpnerr.Errorf(vpnerr.KeyCreation, "session.InstallKeys", "key id %d out of range", keyID)
	}

	dp, err := datachannel.NewDataPath(s.dataCfg, k)
	if err != nil {
		k.Zero()
		return err
	}
	if old, ok := s.paths[keyID]; ok {
		old.Close()
		s.keys[keyID].Zero()
	}
	s.paths[keyID] = dp
	s.keys[keyID] = k
	s.currentKey = keyID

	crypto.NewLogger("session", "InstallKeys").WithFields(logrus.Fields{
		"key_id": keyID,
		"kind":   dp.Kind().String(),
	}).Info("Data channel keys installed")
	return nil
}

// DataKind reports the construction protecting key id key.
func (s *Session) DataKind(key uint8) (datachannel.Kind, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dp, ok := s.paths[key]
	if !ok {
		return 0, false
	}
	return dp.Kind(), true
}

// EncryptData encrypts payloads under key id key and returns wire packets.
func (s *Session) EncryptData(key uint8, payloads [][]byte) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	dp, ok := s.paths[key]
	if !ok {
		return nil, vpnerr.Errorf(vpnerr.KeyCreation, "session.EncryptData", "no keys for key id %d", key)
	}

	enc, err := dp.Encrypt(payloads, key)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(enc))
	for _, p := range enc {
		wire, err := s.toWireLocked(p)
		if err != nil {
			return nil, err
		}
		out = append(out, wire)
	}
	return out, nil
}

// Ping builds a keepalive packet under the current key.
func (s *Session) Ping() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	dp, ok := s.paths[s.currentKey]
	if !ok {
		return nil, vpnerr.Errorf(vpnerr.KeyCreation, "session.Ping", "no data channel keys")
	}
	p, err := dp.Ping(s.currentKey)
	if err != nil {
		return nil, err
	}
	return s.toWireLocked(p)
}

// DecryptData decrypts data packets read from the transport. Packets failing
// with a drop-class error are skipped.
func (s *Session) DecryptData(raw [][]byte) ([][]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrClosed
	}

	var (
		out       [][]byte
		keepAlive bool
	)
	for _, r := range raw {
		frames, err := s.fromWireLocked(r)
		if err != nil {
			return out, keepAlive, err
		}
		for _, frame := range frames {
			if len(frame) == 0 {
				continue
			}
			_, keyID := packet.SplitHeaderByte(frame[0])
			payload, ping, err := s.decryptLocked(keyID, frame)
			if err != nil {
				if vpnerr.ActionOf(err) == vpnerr.AbortSession {
					return out, keepAlive, err
				}
				s.logDrop("DecryptData", err, len(frame))
				continue
			}
			if ping {
				keepAlive = true
				continue
			}
			out = append(out, payload)
		}
	}
	return out, keepAlive, nil
}

func (s *Session) decryptLocked(keyID uint8, frame []byte) ([]byte, bool, error) {
	dp, ok := s.paths[keyID]
	if !ok {
		return nil, false, vpnerr.Errorf(vpnerr.UnknownOpcode, "session.DecryptData", "no keys for key id %d", keyID)
	}
	return dp.DecryptPacket(frame)
}

// Retransmit returns the wire form of every reliable control packet not
// acknowledged within timeout. Wrapped packets are wrapped again so each copy
// carries a fresh replay id.
func (s *Session) Retransmit(timeout time.Duration) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out [][]byte
	for _, id := range s.channelKeysLocked() {
		resend, err := s.retransmitLocked(s.channels[id], timeout)
		if err != nil {
			return nil, err
		}
		out = append(out, resend...)
	}
	return out, nil
}

func (s *Session) retransmitLocked(ch *reliability.Channel, timeout time.Duration) ([][]byte, error) {
	var out [][]byte
	for _, o := range ch.Expired(timeout) {
		raw := o.Raw
		if s.wrapper != nil {
			p, err := packet.Parse(o.Raw)
			if err != nil {
				return nil, err
			}
			if raw, err = s.wrapper.Wrap(p); err != nil {
				return nil, err
			}
		}
		wire, err := s.toWireLocked(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, wire)
	}
	return out, nil
}

// Unacked reports how many reliable control packets await an ACK across
// every retained key id.
func (s *Session) Unacked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ch := range s.channels {
		n += len(ch.Unacked())
	}
	return n
}

func (s *Session) logDrop(function string, err error, size int) {
	crypto.NewLogger("session", function).
		WithError(err, vpnerr.KindOf(err).Code(), "receive").
		WithFields(crypto.OperationFields("receive", "dropped", logrus.Fields{
			"packet_size": size,
			"action":      vpnerr.ActionOf(err).String(),
		})).
		Debug("Dropping packet")
}

// Close zeroes every data channel key and the static key. It is safe to
// call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true

	for id, dp := range s.paths {
		dp.Close()
		s.keys[id].Zero()
	}
	s.paths = nil
	s.keys = nil
	if s.wrapper != nil {
		s.wrapper.Close()
	}
	s.staticKey.Zero()
	if s.framer != nil {
		s.framer.Reset()
	}
	for _, ch := range s.channels {
		ch.Reset()
	}

	crypto.NewLogger("session", "Close").WithFields(logrus.Fields{
		"role":       s.role.String(),
		"session_id": s.local.String(),
	}).Info("Session closed, keys zeroed")
}
