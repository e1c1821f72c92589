package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAESGCMAdapter_RoundTrip(t *testing.T) {
	a := NewAESGCMAdapter()
	require.True(t, a.IsAvailable())

	obscured, err := a.Obscure("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", obscured)

	revealed, err := a.Reveal(obscured)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", revealed)
}

func TestAESGCMAdapter_Empty(t *testing.T) {
	a := NewAESGCMAdapter()

	obscured, err := a.Obscure("")
	require.NoError(t, err)
	assert.Equal(t, "", obscured)

	revealed, err := a.Reveal("")
	require.NoError(t, err)
	assert.Equal(t, "", revealed)
}

func TestAESGCMAdapter_DistinctNonces(t *testing.T) {
	a := NewAESGCMAdapter()

	first, err := a.Obscure("same-input")
	require.NoError(t, err)
	second, err := a.Obscure("same-input")
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "nonce must vary per call")
}

func TestAESGCMAdapter_RevealGarbage(t *testing.T) {
	a := NewAESGCMAdapter()
	_, err := a.Reveal("not-valid-base64!!!")
	assert.Error(t, err)
}
