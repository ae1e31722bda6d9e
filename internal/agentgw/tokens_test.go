package agentgw

import (
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintVerifyRoundTrip(t *testing.T) {
	key, err := GenerateSigningKey("key-1")
	require.NoError(t, err)
	minter := NewMinter(key)

	token, err := minter.Mint("tenant-1", "guild-1", "fast", PlatformBudget, 3)
	require.NoError(t, err)

	claims, err := minter.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", claims.Tenant)
	assert.Equal(t, "guild-1", claims.PoolID)
	assert.Equal(t, "fast", claims.ModelAlias)
	assert.Equal(t, string(PlatformBudget), claims.AccountingMode)
	assert.Equal(t, 3, claims.PoolMappingVersion)
	assert.NotEmpty(t, claims.JTI)
}

func TestVerifyAcceptsPreviousKeyDuringOverlap(t *testing.T) {
	oldKey, err := GenerateSigningKey("key-1")
	require.NoError(t, err)
	minter := NewMinter(oldKey)

	token, err := minter.Mint("tenant-1", "guild-1", "fast", PlatformBudget, 1)
	require.NoError(t, err)

	newKey, err := GenerateSigningKey("key-2")
	require.NoError(t, err)
	minter.Rotate(newKey)

	claims, err := minter.Verify(token)
	require.NoError(t, err, "token signed by the retiring key must still verify during the overlap window")
	assert.Equal(t, "tenant-1", claims.Tenant)
}

func TestVerifyRejectsTokenAfterOverlapExpires(t *testing.T) {
	oldKey, err := GenerateSigningKey("key-1")
	require.NoError(t, err)
	minter := NewMinter(oldKey)

	token, err := minter.Mint("tenant-1", "guild-1", "fast", PlatformBudget, 1)
	require.NoError(t, err)

	newKey, err := GenerateSigningKey("key-2")
	require.NoError(t, err)
	minter.Rotate(newKey)
	// Force the previous key's overlap window to have already elapsed.
	minter.previous.RetiredAt = time.Now().Add(-time.Second)

	_, err = minter.Verify(token)
	assert.Error(t, err)
}

func TestVerifyRejectsMalformedToken(t *testing.T) {
	key, err := GenerateSigningKey("key-1")
	require.NoError(t, err)
	minter := NewMinter(key)

	_, err = minter.Verify("not-a-jwt")
	assert.Error(t, err)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	key, err := GenerateSigningKey("key-1")
	require.NoError(t, err)
	minter := NewMinter(key)

	// Sign claims whose exp has already passed with the minter's own active
	// key, so the signature verifies and only the expiry check can reject.
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.ES256, Key: key.PrivateKey}, &jose.SignerOptions{
		ExtraHeaders: map[jose.HeaderKey]interface{}{"kid": key.KeyID},
	})
	require.NoError(t, err)
	token, err := josejwt.Signed(signer).Claims(Claims{
		Subject:  "tenant-1",
		Tenant:   "tenant-1",
		Expiry:   time.Now().Add(-time.Minute).Unix(),
		JTI:      "expired-jti",
	}).Serialize()
	require.NoError(t, err)

	_, err = minter.Verify(token)
	assert.Error(t, err)

	// Minted tokens expire within the <5 minute bound §4.5 step 5 requires.
	assert.LessOrEqual(t, tokenTTL, 5*time.Minute)
}
