package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenize(line string) ([]Token, int) {
	var tokens [maxTokens]Token
	n := Tokenize([]byte(line), tokens[:])
	return tokens[:], n
}

func TestTokenizeSimple(t *testing.T) {
	tokens, n := tokenize("set key 7 0 5")
	require.Equal(t, 6, n)
	assert.Equal(t, "set", string(tokens[0].Value))
	assert.Equal(t, "key", string(tokens[1].Value))
	assert.Equal(t, "7", string(tokens[2].Value))
	assert.Equal(t, "0", string(tokens[3].Value))
	assert.Equal(t, "5", string(tokens[4].Value))
	assert.Nil(t, tokens[5].Value, "sentinel after a clean line is nil")
}

func TestTokenizeCollapsesRuns(t *testing.T) {
	tokens, n := tokenize("  get   key ")
	require.Equal(t, 3, n)
	assert.Equal(t, "get", string(tokens[0].Value))
	assert.Equal(t, "key", string(tokens[1].Value))
	assert.Nil(t, tokens[2].Value)
}

func TestTokenizeEscape(t *testing.T) {
	// The backslash keeps the following space inside the token.
	tokens, n := tokenize(`get a\ b`)
	require.Equal(t, 3, n)
	assert.Equal(t, "get", string(tokens[0].Value))
	assert.Equal(t, `a\ b`, string(tokens[1].Value))
}

func TestTokenizeTrailingEscape(t *testing.T) {
	tokens, n := tokenize(`get ab\`)
	require.Equal(t, 3, n)
	assert.Equal(t, `ab\`, string(tokens[1].Value))
	assert.Nil(t, tokens[2].Value)
}

func TestTokenizeOverflowSentinel(t *testing.T) {
	tokens, n := tokenize("a b c d e f g h")
	require.Equal(t, maxTokens, n)
	for i, want := range []string{"a", "b", "c", "d", "e", "f"} {
		assert.Equal(t, want, string(tokens[i].Value))
	}
	// The sentinel points at the first unconsumed byte.
	assert.Equal(t, "g h", string(tokens[maxTokens-1].Value))
}

func TestTokenizeEmpty(t *testing.T) {
	tokens, n := tokenize("")
	require.Equal(t, 1, n)
	assert.Nil(t, tokens[0].Value)
}

func TestParseUint(t *testing.T) {
	assert.Equal(t, uint64(123), parseUint([]byte("123")))
	assert.Equal(t, uint64(12), parseUint([]byte("12x3")))
	assert.Equal(t, uint64(0), parseUint([]byte("x")))
	assert.Equal(t, uint64(0), parseUint(nil))
}
