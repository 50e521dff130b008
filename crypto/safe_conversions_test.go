package crypto

import (
	"math"
	"testing"
	"time"
)

func TestSafeInt64ToUint32(t *testing.T) {
	tests := []struct {
		name    string
		in      int64
		want    uint32
		wantErr bool
	}{
		{"zero", 0, 0, false},
		{"max", math.MaxUint32, math.MaxUint32, false},
		{"negative", -1, 0, true},
		{"too large", math.MaxUint32 + 1, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SafeInt64ToUint32(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SafeInt64ToUint32(%d) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("SafeInt64ToUint32(%d) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestSafeIntToUint16(t *testing.T) {
	if _, err := SafeIntToUint16(math.MaxUint16 + 1); err == nil {
		t.Fatal("expected overflow error")
	}
	if v, err := SafeIntToUint16(1500); err != nil || v != 1500 {
		t.Fatalf("SafeIntToUint16(1500) = %d, %v", v, err)
	}
	if _, err := SafeIntToUint8(256); err == nil {
		t.Fatal("expected overflow error")
	}
}

func TestUnixTimestamp32(t *testing.T) {
	tp := NewFixedTimeProvider(time.Unix(1700000000, 0))
	if got := UnixTimestamp32(tp); got != 1700000000 {
		t.Fatalf("UnixTimestamp32 = %d", got)
	}
	tp.Advance(time.Minute)
	if got := UnixTimestamp32(tp); got != 1700000060 {
		t.Fatalf("UnixTimestamp32 after advance = %d", got)
	}
}
