package crypto

import (
	"fmt"
	"math"
)

// SafeInt64ToUint32 converts an int64 to uint32, rejecting negative values
// and values above math.MaxUint32.
//
// CWE-190: Integer Overflow or Wraparound
// gosec G115: Integer overflow check
func SafeInt64ToUint32(val int64) (uint32, error) {
	if val < 0 {
		return 0, fmt.Errorf("cannot convert negative int64 to uint32: %d", val)
	}
	if val > math.MaxUint32 {
		return 0, fmt.Errorf("int64 value exceeds uint32 max: %d (max: %d)", val, uint32(math.MaxUint32))
	}
	return uint32(val), nil
}

// SafeIntToUint16 converts an int length to uint16 for wire length prefixes.
//
// CWE-190: Integer Overflow or Wraparound
func SafeIntToUint16(val int) (uint16, error) {
	if val < 0 || val > math.MaxUint16 {
		return 0, fmt.Errorf("int value out of uint16 range: %d", val)
	}
	return uint16(val), nil
}

// SafeIntToUint8 converts an int count to uint8 for single-byte wire fields.
//
// CWE-190: Integer Overflow or Wraparound
func SafeIntToUint8(val int) (uint8, error) {
	if val < 0 || val > math.MaxUint8 {
		return 0, fmt.Errorf("int value out of uint8 range: %d", val)
	}
	return uint8(val), nil
}
