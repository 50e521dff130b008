package obfs

import (
	"fmt"
	"strings"
)

// Kind selects the packet transform.
type Kind uint8

const (
	// None leaves packets untouched.
	None Kind = iota
	// XorMask XORs every byte with the repeating key.
	XorMask
	// XorPtrPos XORs each byte with its position.
	XorPtrPos
	// Reverse reverses every byte after the first.
	Reverse
	// Obfuscate chains the three transforms above.
	Obfuscate
)

var kindNames = map[Kind]string{
	None:      "none",
	XorMask:   "xormask",
	XorPtrPos: "xorptrpos",
	Reverse:   "reverse",
	Obfuscate: "obfuscate",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("obfs(%d)", uint8(k))
}

// Method is a transform plus its key. The key is used by XorMask and
// Obfuscate only.
type Method struct {
	Kind Kind
	Key  []byte
}

// ParseMethod parses a scramble directive such as "xormask f76dab30",
// "xorptrpos", "reverse" or "obfuscate f76dab30". The key bytes are the
// literal characters after the method name.
func ParseMethod(s string) (Method, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return Method{Kind: None}, nil
	}

	name := strings.ToLower(fields[0])
	var kind Kind
	found := false
	for k, n := range kindNames {
		if n == name {
			kind, found = k, true
			break
		}
	}
	if !found {
		return Method{}, fmt.Errorf("unknown obfuscation method %q", fields[0])
	}

	switch kind {
	case XorMask, Obfuscate:
		if len(fields) != 2 {
			return Method{}, fmt.Errorf("%s requires exactly one key argument", kind)
		}
		return Method{Kind: kind, Key: []byte(fields[1])}, nil
	default:
		if len(fields) != 1 {
			return Method{}, fmt.Errorf("%s takes no arguments", kind)
		}
		return Method{Kind: kind}, nil
	}
}

func (m Method) String() string {
	if m.Kind == XorMask || m.Kind == Obfuscate {
		return m.Kind.String() + " " + string(m.Key)
	}
	return m.Kind.String()
}
