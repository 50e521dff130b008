package vpnerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := New(Replay, "datachannel.Decrypt", fmt.Errorf("packet id %d", 7))
	wrapped := fmt.Errorf("session: %w", err)

	assert.True(t, errors.Is(wrapped, ErrReplay))
	assert.False(t, errors.Is(wrapped, ErrHMACFailure))
	assert.Equal(t, Replay, KindOf(wrapped))
	assert.Contains(t, err.Error(), "data.replay")
	assert.Contains(t, err.Error(), "packet id 7")
}

func TestActions(t *testing.T) {
	tests := []struct {
		kind   Kind
		action Action
	}{
		{HMACFailure, AbortSession},
		{Algorithm, AbortSession},
		{InsufficientSecret, AbortSession},
		{Replay, DropPacket},
		{Truncated, DropPacket},
		{MalformedFrame, DropPacket},
		{PeerIDMismatch, DropPacket},
		{CompressionMismatch, DropPacket},
		{Overflow, DropPacket},
	}
	for _, tt := range tests {
		t.Run(tt.kind.Code(), func(t *testing.T) {
			assert.Equal(t, tt.action, tt.kind.Action())
			assert.Equal(t, tt.action, ActionOf(New(tt.kind, "op", nil)))
		})
	}
}

func TestActionOfUntypedError(t *testing.T) {
	assert.Equal(t, AbortSession, ActionOf(errors.New("boom")))
	assert.Equal(t, DropPacket, ActionOf(nil))
	assert.Equal(t, Unknown, KindOf(errors.New("boom")))
}

func TestCodesAreUnique(t *testing.T) {
	seen := make(map[string]Kind)
	for k := Unknown; k <= InsufficientSecret; k++ {
		code := k.Code()
		if prev, ok := seen[code]; ok {
			t.Fatalf("code %q shared by %d and %d", code, prev, k)
		}
		seen[code] = k
	}
}
