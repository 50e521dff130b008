package packet

import "fmt"

// Opcode identifies the OpenVPN packet type carried in the high 5 bits of
// the first header byte.
type Opcode uint8

const (
	// Unknown is reported for opcodes outside the protocol range.
	Unknown Opcode = 0

	HardResetClientV1 Opcode = 1
	HardResetServerV1 Opcode = 2
	SoftResetV1       Opcode = 3
	ControlV1         Opcode = 4
	AckV1             Opcode = 5
	DataV1            Opcode = 6
	HardResetClientV2 Opcode = 7
	HardResetServerV2 Opcode = 8
	DataV2            Opcode = 9
	HardResetClientV3 Opcode = 10
	ControlWKCV1      Opcode = 11
)

const (
	opcodeShift = 3
	keyIDMask   = 0x07
)

var opcodeNames = map[Opcode]string{
	HardResetClientV1: "P_CONTROL_HARD_RESET_CLIENT_V1",
	HardResetServerV1: "P_CONTROL_HARD_RESET_SERVER_V1",
	SoftResetV1:       "P_CONTROL_SOFT_RESET_V1",
	ControlV1:         "P_CONTROL_V1",
	AckV1:             "P_ACK_V1",
	DataV1:            "P_DATA_V1",
	HardResetClientV2: "P_CONTROL_HARD_RESET_CLIENT_V2",
	HardResetServerV2: "P_CONTROL_HARD_RESET_SERVER_V2",
	DataV2:            "P_DATA_V2",
	HardResetClientV3: "P_CONTROL_HARD_RESET_CLIENT_V3",
	ControlWKCV1:      "P_CONTROL_WKC_V1",
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("P_UNKNOWN(%d)", uint8(o))
}

// Valid reports whether o is a protocol opcode.
func (o Opcode) Valid() bool {
	_, ok := opcodeNames[o]
	return ok
}

// IsData reports whether o carries data channel traffic.
func (o Opcode) IsData() bool {
	return o == DataV1 || o == DataV2
}

// IsControl reports whether o travels on the control channel. ACKs are
// control packets.
func (o Opcode) IsControl() bool {
	return o.Valid() && !o.IsData()
}

// IsHardReset reports whether o starts a new session.
func (o Opcode) IsHardReset() bool {
	switch o {
	case HardResetClientV1, HardResetServerV1, HardResetClientV2, HardResetServerV2, HardResetClientV3:
		return true
	}
	return false
}

// HeaderByte packs opcode and key id into the first wire byte.
func HeaderByte(op Opcode, keyID uint8) byte {
	return byte(op)<<opcodeShift | keyID&keyIDMask
}

// SplitHeaderByte unpacks the first wire byte. Opcodes outside the protocol
// range are returned as Unknown.
func SplitHeaderByte(b byte) (Opcode, uint8) {
	op := Opcode(b >> opcodeShift)
	if !op.Valid() {
		op = Unknown
	}
	return op, b & keyIDMask
}
