package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckPlainPasscode(t *testing.T) {
	g := New("OSC2025", "")

	assert.NoError(t, g.Check("OSC2025"))
	assert.ErrorIs(t, g.Check("osc2025"), ErrPasscodeMismatch)
	assert.ErrorIs(t, g.Check("OSC2025 "), ErrPasscodeMismatch)
	assert.ErrorIs(t, g.Check(""), ErrPasscodeMismatch)
}

func TestCheckHashedPasscode(t *testing.T) {
	hash, err := Hash("OSC2025")
	require.NoError(t, err)

	g := New("ignored", hash)

	assert.NoError(t, g.Check("OSC2025"))
	assert.ErrorIs(t, g.Check("ignored"), ErrPasscodeMismatch)
}

func TestCheckNotConfigured(t *testing.T) {
	assert.ErrorIs(t, New("", "").Check("anything"), ErrNotConfigured)
}

func TestHashRejectsEmpty(t *testing.T) {
	_, err := Hash("")
	assert.Error(t, err)
}
