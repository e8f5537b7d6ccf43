package apierr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindMatchesSentinel(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		kind     Kind
	}{
		{"validation", Validation("empty %s", "nick"), ErrValidation, KindValidation},
		{"not found", NotFound("room %q", "x"), ErrNotFound, KindNotFound},
		{"forbidden", Forbidden("not admin"), ErrForbidden, KindForbidden},
		{"conflict", Conflict("taken"), ErrConflict, KindConflict},
		{"crypto", Crypto("bad key", errors.New("short")), ErrCrypto, KindCrypto},
		{"protocol", Protocol("unknown command %d", 99), ErrProtocol, KindProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.sentinel)
			assert.Equal(t, tt.kind, KindOf(tt.err))

			wrapped := fmt.Errorf("handler: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.sentinel)
			assert.Equal(t, tt.kind, KindOf(wrapped))
		})
	}
}

func TestKindsDoNotCrossMatch(t *testing.T) {
	err := Forbidden("no")
	assert.NotErrorIs(t, err, ErrConflict)
	assert.NotErrorIs(t, err, ErrValidation)
	assert.NotErrorIs(t, ErrForbidden, err)
}

func TestCryptoUnwraps(t *testing.T) {
	cause := errors.New("modulus too small")
	err := Crypto("invalid open key", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "modulus too small")
}

func TestIsUserFacing(t *testing.T) {
	assert.True(t, IsUserFacing(Validation("x")))
	assert.True(t, IsUserFacing(Conflict("x")))
	assert.False(t, IsUserFacing(Protocol("x")))
	assert.False(t, IsUserFacing(Crypto("x", nil)))
	assert.False(t, IsUserFacing(errors.New("plain")))
}

func TestMessageOf(t *testing.T) {
	assert.Equal(t, "room exists", MessageOf(fmt.Errorf("wrap: %w", Conflict("room exists"))))
	assert.Equal(t, "plain", MessageOf(errors.New("plain")))
}
