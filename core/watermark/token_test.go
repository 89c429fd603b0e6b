package watermark

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintCarrierToken(t *testing.T) {
	token, err := MintCarrierToken()
	require.NoError(t, err)

	assert.Len(t, token, TokenBits)
	for _, c := range token {
		assert.Contains(t, "01", string(c))
	}
}

func TestMintCarrierTokenVaries(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		token, err := MintCarrierToken()
		require.NoError(t, err)
		seen[token] = true
	}
	// 50 draws from 65536 values virtually never land on one value
	assert.Greater(t, len(seen), 1)
}
