package keygen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateShape(t *testing.T) {
	key, err := Generate()
	require.NoError(t, err)
	assert.Len(t, key, KeyLen)
	assert.True(t, strings.HasPrefix(key, Prefix))
	assert.True(t, WellFormed(key))
}

func TestGenerateIsNotRepeating(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		key, err := Generate()
		require.NoError(t, err)
		_, dup := seen[key]
		assert.False(t, dup, "generated a duplicate credential")
		seen[key] = struct{}{}
	}
}

func TestWellFormed(t *testing.T) {
	assert.False(t, WellFormed(""))
	assert.False(t, WellFormed("sk_live_short"))
	assert.False(t, WellFormed("pk_live_0123456789abcdef0123456789abcdef"))
	// Right length, bad alphabet.
	assert.False(t, WellFormed(Prefix+"0123456789ABCDEF0123456789abcdef"))
	assert.False(t, WellFormed(Prefix+"0123456789zzzzzz0123456789abcdef"))
	assert.True(t, WellFormed(Prefix+"0123456789abcdef0123456789abcdef"))
}

func TestMask(t *testing.T) {
	key := Prefix + "0123456789abcdef0123456789abcdef"
	masked := Mask(key)
	assert.Equal(t, "sk_live_0123...cdef", masked)
	assert.NotContains(t, masked, key[12:len(key)-4])

	// Short strings are returned as-is rather than sliced out of range.
	assert.Equal(t, "tiny", Mask("tiny"))
}
