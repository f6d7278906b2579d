package synckey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateFormat(t *testing.T) {
	g := NewGenerator()

	for i := 0; i < 1000; i++ {
		key := g.Generate()
		require.True(t, Valid(key), "generated key %q does not match the key format", key)
	}
}

func TestGenerateUniqueness(t *testing.T) {
	g := NewGenerator()

	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		key := g.Generate()
		_, dup := seen[key]
		require.False(t, dup, "duplicate key %q after %d generations", key, i)
		seen[key] = struct{}{}
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "XT-7F3K9A", Normalize("xt-7f3k9a"))
	assert.Equal(t, "XT-7F3K9A", Normalize("  Xt-7f3K9a\n"))
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("XT-7F3K9A"))
	assert.False(t, Valid("XT-7F3K9"), "body too short")
	assert.False(t, Valid("xt-7f3k9a"), "lowercase must be normalized first")
	assert.False(t, Valid("XT-7F3K0A"), "0 is not in the alphabet")
	assert.False(t, Valid("IT-7F3K9A"), "I is not in the alphabet")
	assert.False(t, Valid("XT7F3K9A"), "dash is required")
}
