package wiring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycord/core/internal/agentgw"
)

func TestRotateSigningKeyInstallsNewActiveKeyWithoutDB(t *testing.T) {
	initial, err := agentgw.GenerateSigningKey("sk-initial")
	require.NoError(t, err)
	minter := agentgw.NewMinter(initial)

	rotator := NewSigningKeyRotator(minter, nil)
	newKeyID, err := rotator.RotateSigningKey()
	require.NoError(t, err)
	assert.NotEmpty(t, newKeyID)
	assert.NotEqual(t, "sk-initial", newKeyID)

	// New tokens must mint and verify under the new key.
	token, err := minter.Mint("tenant-1", "pool-1", "fast", agentgw.PlatformBudget, 1)
	require.NoError(t, err)
	claims, err := minter.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", claims.Tenant)
}
