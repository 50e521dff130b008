package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/opd-ai/ovpncore/crypto"
	"github.com/opd-ai/ovpncore/datachannel"
	"github.com/opd-ai/ovpncore/keys"
	"github.com/opd-ai/ovpncore/obfs"
	"github.com/opd-ai/ovpncore/packet"
	"github.com/opd-ai/ovpncore/session"
	"github.com/opd-ai/ovpncore/tlswrap"
	"github.com/sirupsen/logrus"
)

var (
	// ErrUnknownCipher is returned for cipher/digest pairs the data path
	// cannot build.
	ErrUnknownCipher = errors.New("unknown cipher")
	// ErrUnknownFraming is returned for unknown compression framings.
	ErrUnknownFraming = errors.New("unknown compression framing")
	// ErrUnknownTransport is returned for transports other than udp and tcp.
	ErrUnknownTransport = errors.New("unknown transport")
	// ErrInvalidTLSWrap is returned for incomplete or unknown tls-wrap settings.
	ErrInvalidTLSWrap = errors.New("invalid tls-wrap")
	// ErrInvalidObfuscation is returned for unknown xor methods.
	ErrInvalidObfuscation = errors.New("invalid obfuscation method")
	// ErrInvalidLogging is returned for unknown log levels or formats.
	ErrInvalidLogging = errors.New("invalid logging")
	// ErrInvalidPeerID is returned for peer ids wider than 24 bits.
	ErrInvalidPeerID = errors.New("invalid peer id")
)

// Transport names.
const (
	TransportUDP = "udp"
	TransportTCP = "tcp"
)

// TLSWrap configures tls-auth or tls-crypt.
type TLSWrap struct {
	// Strategy is "auth" or "crypt".
	Strategy string `yaml:"strategy"`
	// KeyFile points at an OpenVPN static key file. Key holds the same
	// content inline and wins when both are set.
	KeyFile string `yaml:"keyFile,omitempty"`
	Key     string `yaml:"key,omitempty"`
	// Direction is "client", "server" or "bidirectional". Empty selects the
	// direction of the local role.
	Direction string `yaml:"direction,omitempty"`
	// Digest is the tls-auth HMAC digest.
	Digest string `yaml:"digest,omitempty"`
}

// Config is the YAML profile of one client session.
type Config struct {
	Cipher             string   `yaml:"cipher"`
	Digest             string   `yaml:"digest"`
	CompressionFraming string   `yaml:"compressionFraming"`
	PeerID             *uint32  `yaml:"peerId,omitempty"`
	TLSWrap            *TLSWrap `yaml:"tlsWrap,omitempty"`
	XORMethod          string   `yaml:"xorMethod,omitempty"`
	Transport          string   `yaml:"transport"`
	LogLevel           string   `yaml:"logLevel"`
	LogFormat          string   `yaml:"logFormat"`
}

// Default returns AES-256-GCM over UDP with no compression and no tls-wrap.
func Default() *Config {
	return &Config{
		Cipher:             "AES-256-GCM",
		Digest:             "SHA1",
		CompressionFraming: datachannel.FramingNone.String(),
		Transport:          TransportUDP,
		LogLevel:           logrus.InfoLevel.String(),
		LogFormat:          "text",
	}
}

// Parse decodes YAML over Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads and parses the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	crypto.NewLogger("config", "Load").WithFields(logrus.Fields{
		"path":      path,
		"cipher":    cfg.Cipher,
		"transport": cfg.Transport,
	}).Debug("Configuration loaded")
	return cfg, nil
}

// Marshal encodes the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate checks every name against the algorithms and methods the core
// implements.
func (c *Config) Validate() error {
	if _, err := datachannel.KindFor(c.Cipher, c.Digest); err != nil {
		return fmt.Errorf("%w: %s/%s: %v", ErrUnknownCipher, c.Cipher, c.Digest, err)
	}
	if _, err := datachannel.ParseCompressionFraming(c.CompressionFraming); err != nil {
		return fmt.Errorf("%w: %q", ErrUnknownFraming, c.CompressionFraming)
	}
	if c.PeerID != nil && *c.PeerID > packet.PeerIDUndefined {
		return fmt.Errorf("%w: %d exceeds 24 bits", ErrInvalidPeerID, *c.PeerID)
	}
	switch strings.ToLower(c.Transport) {
	case TransportUDP, TransportTCP:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTransport, c.Transport)
	}
	if _, err := obfs.ParseMethod(c.XORMethod); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidObfuscation, err)
	}
	if err := c.validateTLSWrap(); err != nil {
		return err
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidLogging, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: format %q", ErrInvalidLogging, c.LogFormat)
	}
	return nil
}

func (c *Config) validateTLSWrap() error {
	w := c.TLSWrap
	if w == nil {
		return nil
	}
	if _, err := tlswrap.ParseStrategy(w.Strategy); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTLSWrap, err)
	}
	if _, err := tlswrap.ParseDirection(w.Direction); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTLSWrap, err)
	}
	if w.Key == "" && w.KeyFile == "" {
		return fmt.Errorf("%w: key or keyFile is required", ErrInvalidTLSWrap)
	}
	if w.Digest != "" {
		if _, err := datachannel.DigestByName(w.Digest); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTLSWrap, err)
		}
	}
	return nil
}

// ApplyLogging sets the global logrus level and formatter.
func (c *Config) ApplyLogging() error {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidLogging, err)
	}
	logrus.SetLevel(level)
	if strings.EqualFold(c.LogFormat, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// IsStream reports whether the transport needs u16 framing.
func (c *Config) IsStream() bool {
	return strings.EqualFold(c.Transport, TransportTCP)
}

// DataConfig returns the data path settings.
func (c *Config) DataConfig(prng crypto.PRNG) (datachannel.Config, error) {
	framing, err := datachannel.ParseCompressionFraming(c.CompressionFraming)
	if err != nil {
		return datachannel.Config{}, fmt.Errorf("%w: %q", ErrUnknownFraming, c.CompressionFraming)
	}
	peerID := uint32(packet.PeerIDUndefined)
	if c.PeerID != nil {
		peerID = *c.PeerID
	}
	return datachannel.Config{
		Cipher:  c.Cipher,
		Digest:  c.Digest,
		Framing: framing,
		PeerID:  peerID,
		PRNG:    prng,
	}, nil
}

// TLSWrapConfig loads the static key and returns the wrapper settings for
// role, or nil when tls-wrap is off. The caller owns the returned key.
func (c *Config) TLSWrapConfig(role keys.Role) (*tlswrap.Config, error) {
	w := c.TLSWrap
	if w == nil {
		return nil, nil
	}
	strategy, err := tlswrap.ParseStrategy(w.Strategy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTLSWrap, err)
	}

	dir := tlswrap.Inverse
	if role == keys.Server {
		dir = tlswrap.Normal
	}
	if w.Direction != "" {
		if dir, err = tlswrap.ParseDirection(w.Direction); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTLSWrap, err)
		}
	}

	var key *tlswrap.StaticKey
	switch {
	case w.Key != "":
		key, err = tlswrap.ParseStaticKey([]byte(w.Key))
	case w.KeyFile != "":
		key, err = tlswrap.LoadStaticKey(w.KeyFile)
	default:
		err = errors.New("key or keyFile is required")
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTLSWrap, err)
	}
	return &tlswrap.Config{Strategy: strategy, Key: key, Direction: dir, Digest: w.Digest}, nil
}

// SessionConfig assembles everything a session needs for role.
func (c *Config) SessionConfig(role keys.Role, prng crypto.PRNG, tp crypto.TimeProvider) (session.Config, error) {
	data, err := c.DataConfig(prng)
	if err != nil {
		return session.Config{}, err
	}
	method, err := obfs.ParseMethod(c.XORMethod)
	if err != nil {
		return session.Config{}, fmt.Errorf("%w: %v", ErrInvalidObfuscation, err)
	}
	wrap, err := c.TLSWrapConfig(role)
	if err != nil {
		return session.Config{}, err
	}
	return session.Config{
		Role:         role,
		Data:         data,
		TLSWrap:      wrap,
		Obfuscation:  method,
		Stream:       c.IsStream(),
		PRNG:         prng,
		TimeProvider: tp,
	}, nil
}
