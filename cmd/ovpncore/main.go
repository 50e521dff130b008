// Package main provides the ovpncore command-line tool: static key
// generation, obfuscation and PRF helpers, and an in-memory client/server
// self test of the whole packet pipeline.
package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pterm/pterm"

	"github.com/opd-ai/ovpncore/config"
	"github.com/opd-ai/ovpncore/keys"
	"github.com/opd-ai/ovpncore/obfs"
	"github.com/opd-ai/ovpncore/session"
	"github.com/opd-ai/ovpncore/tlswrap"
)

var version = "dev"

var errUsage = errors.New("usage")

// CLI configuration
type CLIConfig struct {
	command string

	// genkey
	outFile string

	// obfs
	method  string
	input   string
	inbound bool

	// prf
	secret string
	label  string
	seed   string
	size   int

	// selftest
	configPath string
	pattern    string
	payloads   int
	payloadLen int
}

// parseCLIFlags parses the subcommand and its flags.
func parseCLIFlags(args []string, stderr io.Writer) (*CLIConfig, error) {
	if len(args) == 0 {
		return nil, errUsage
	}
	cli := &CLIConfig{command: args[0]}

	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	fs.SetOutput(stderr)
	switch cli.command {
	case "genkey":
		fs.StringVar(&cli.outFile, "out", "", "Static key file to write (default: stdout)")
	case "obfs":
		fs.StringVar(&cli.method, "method", "", "Obfuscation method, e.g. \"obfuscate f76dab30\"")
		fs.StringVar(&cli.input, "in", "", "Packet bytes as hex")
		fs.BoolVar(&cli.inbound, "inbound", false, "Undo the transform instead of applying it")
	case "prf":
		fs.StringVar(&cli.secret, "secret", "", "PRF secret as hex")
		fs.StringVar(&cli.label, "label", "OpenVPN master secret", "PRF label")
		fs.StringVar(&cli.seed, "seed", "", "Seed bytes following the label, as hex")
		fs.IntVar(&cli.size, "size", 48, "Output size in bytes")
	case "selftest":
		fs.StringVar(&cli.configPath, "config", "", "YAML profile (default: built-in defaults)")
		fs.StringVar(&cli.pattern, "pattern", "NN", "Noise handshake pattern (NN or XX)")
		fs.IntVar(&cli.payloads, "payloads", 8, "Number of data packets to echo")
		fs.IntVar(&cli.payloadLen, "payload-size", 1200, "Size of each data packet")
	case "version", "help", "-help", "--help", "-h":
		return cli, nil
	default:
		return nil, fmt.Errorf("unknown command %q", cli.command)
	}
	if err := fs.Parse(args[1:]); err != nil {
		return nil, err
	}
	return cli, nil
}

// validateCLIConfig validates the CLI configuration.
func validateCLIConfig(cli *CLIConfig) error {
	switch cli.command {
	case "obfs":
		if cli.method == "" {
			return fmt.Errorf("obfs requires -method")
		}
		if cli.input == "" {
			return fmt.Errorf("obfs requires -in")
		}
	case "prf":
		if cli.secret == "" {
			return fmt.Errorf("prf requires -secret")
		}
		if cli.size <= 0 {
			return fmt.Errorf("prf size must be positive")
		}
	case "selftest":
		if cli.payloads < 0 {
			return fmt.Errorf("payload count cannot be negative")
		}
		if cli.payloadLen < 0 {
			return fmt.Errorf("payload size cannot be negative")
		}
	}
	return nil
}

// printUsage prints the usage information.
func printUsage(w io.Writer) {
	fmt.Fprintln(w, "ovpncore - OpenVPN client core tools")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintf(w, "  %s genkey [-out FILE]\n", os.Args[0])
	fmt.Fprintf(w, "  %s obfs -method METHOD -in HEX [-inbound]\n", os.Args[0])
	fmt.Fprintf(w, "  %s prf -secret HEX [-label L] [-seed HEX] [-size N]\n", os.Args[0])
	fmt.Fprintf(w, "  %s selftest [-config FILE] [-pattern NN|XX]\n", os.Args[0])
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Examples:")
	fmt.Fprintf(w, "  %s genkey -out ta.key\n", os.Args[0])
	fmt.Fprintf(w, "  %s obfs -method \"obfuscate f76dab30\" -in 00112233445566778899\n", os.Args[0])
}

func decodeHex(name, s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", name, err)
	}
	return b, nil
}

func runGenKey(cli *CLIConfig, out io.Writer) error {
	key, err := tlswrap.GenerateStaticKey(nil)
	if err != nil {
		return err
	}
	defer key.Zero()

	if cli.outFile == "" || cli.outFile == "-" {
		_, err = io.WriteString(out, key.String())
		return err
	}
	if err := os.WriteFile(cli.outFile, []byte(key.String()), 0o600); err != nil {
		return fmt.Errorf("failed to write static key: %w", err)
	}
	pterm.Success.WithWriter(out).Printfln("Static key written to %s", cli.outFile)
	return nil
}

func runObfs(cli *CLIConfig, out io.Writer) error {
	method, err := obfs.ParseMethod(cli.method)
	if err != nil {
		return err
	}
	data, err := decodeHex("-in", cli.input)
	if err != nil {
		return err
	}
	p := obfs.NewProcessor(method)
	var result []byte
	if cli.inbound {
		result = p.Inbound(data)
	} else {
		result = p.Outbound(data)
	}
	_, err = fmt.Fprintln(out, hex.EncodeToString(result))
	return err
}

func runPRF(cli *CLIConfig, out io.Writer) error {
	secret, err := decodeHex("-secret", cli.secret)
	if err != nil {
		return err
	}
	seed, err := decodeHex("-seed", cli.seed)
	if err != nil {
		return err
	}
	result, err := keys.PRF(keys.PRFInput{
		Label:      cli.label,
		Secret:     secret,
		ClientSeed: seed,
		Size:       cli.size,
	})
	if err != nil {
		return err
	}
	defer result.Zero()
	_, err = fmt.Fprintln(out, hex.EncodeToString(result.Bytes()))
	return err
}

func selftestPayloads(n, size int) [][]byte {
	payloads := make([][]byte, n)
	for i := range payloads {
		p := make([]byte, size)
		for j := range p {
			p[j] = byte(i + j)
		}
		payloads[i] = p
	}
	return payloads
}

func runSelfTest(cli *CLIConfig, out io.Writer) error {
	profile := config.Default()
	if cli.configPath != "" {
		var err error
		if profile, err = config.Load(cli.configPath); err != nil {
			return err
		}
	}
	if err := profile.ApplyLogging(); err != nil {
		return err
	}

	sc, err := profile.SessionConfig(keys.Client, nil, nil)
	if err != nil {
		return err
	}
	if sc.TLSWrap != nil {
		defer sc.TLSWrap.Key.Zero()
	}

	payloads := selftestPayloads(cli.payloads, cli.payloadLen)
	pterm.Info.WithWriter(out).Println("Running loopback session")
	res, err := session.RunLoopback(session.LoopbackConfig{
		Session:  sc,
		Pattern:  cli.pattern,
		Options:  fmt.Sprintf("V4,dev-type tun,cipher %s,auth %s,key-method 2,tls-client", profile.Cipher, profile.Digest),
		Payloads: payloads,
	})
	if err != nil {
		return fmt.Errorf("loopback session failed: %w", err)
	}

	tlsWrap := "off"
	if profile.TLSWrap != nil {
		tlsWrap = profile.TLSWrap.Strategy
	}
	xor := profile.XORMethod
	if xor == "" {
		xor = "none"
	}
	table := pterm.TableData{
		{"Property", "Value"},
		{"Cipher", profile.Cipher},
		{"Digest", profile.Digest},
		{"Construction", res.Kind.String()},
		{"Transport", profile.Transport},
		{"TLS wrap", tlsWrap},
		{"Obfuscation", xor},
		{"Control packets", fmt.Sprint(res.ControlPackets)},
		{"Handshake records", fmt.Sprint(res.HandshakeRecords)},
		{"Data packets echoed", fmt.Sprintf("%d/%d", len(res.ClientReceived), len(payloads))},
		{"Keepalive", fmt.Sprint(res.KeepAlive)},
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(table).WithWriter(out).Render(); err != nil {
		return err
	}
	if !res.Passed(payloads) {
		return fmt.Errorf("self test failed")
	}
	pterm.Success.WithWriter(out).Println("Self test passed")
	return nil
}

// run dispatches a parsed command.
func run(cli *CLIConfig, out io.Writer) error {
	switch cli.command {
	case "genkey":
		return runGenKey(cli, out)
	case "obfs":
		return runObfs(cli, out)
	case "prf":
		return runPRF(cli, out)
	case "selftest":
		return runSelfTest(cli, out)
	case "version":
		_, err := fmt.Fprintf(out, "ovpncore %s\n", version)
		return err
	default:
		printUsage(out)
		return nil
	}
}

// main is the entry point for the ovpncore tool.
func main() {
	cliConfig, err := parseCLIFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		if !errors.Is(err, errUsage) {
			pterm.Error.Println(err.Error())
		}
		printUsage(os.Stderr)
		os.Exit(2)
	}

	if err := validateCLIConfig(cliConfig); err != nil {
		pterm.Error.Printfln("Configuration error: %v", err)
		fmt.Fprintln(os.Stderr, "Use help for usage information.")
		os.Exit(1)
	}

	if err := run(cliConfig, os.Stdout); err != nil {
		pterm.Error.Println(err.Error())
		os.Exit(1)
	}
}
