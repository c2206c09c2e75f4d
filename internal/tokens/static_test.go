package tokens_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-license/internal/auth"
	"github.com/technosupport/ts-license/internal/tokens"
)

func TestStaticKey_Plain(t *testing.T) {
	k := tokens.NewStaticKey("abc123", 0)
	assert.True(t, k.Verify("abc123"))
	assert.False(t, k.Verify("abc124"))
	assert.False(t, k.Verify("abc12"))
	assert.False(t, k.Verify(""))
}

func TestStaticKey_EmptyConfigured(t *testing.T) {
	k := tokens.NewStaticKey("", 0)
	assert.False(t, k.Verify(""))
	assert.False(t, k.Verify("anything"))
}

func TestStaticKey_Hashed(t *testing.T) {
	hash, err := auth.HashSecret("k-1234567890")
	require.NoError(t, err)

	k := tokens.NewStaticKey(hash, 4)
	assert.True(t, k.Verify("k-1234567890"))
	// Second call is served from the memo.
	assert.True(t, k.Verify("k-1234567890"))
	assert.False(t, k.Verify("k-0000000000"))
}

func TestStaticKey_SetKeyPurgesMemo(t *testing.T) {
	hash, err := auth.HashSecret("first")
	require.NoError(t, err)

	k := tokens.NewStaticKey(hash, 4)
	require.True(t, k.Verify("first"))

	k.SetKey("second")
	assert.False(t, k.Verify("first"))
	assert.True(t, k.Verify("second"))
}
