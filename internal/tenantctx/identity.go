package tenantctx

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/relaycord/core/internal/corerr"
	"github.com/relaycord/core/internal/database"
)

// keyIDLen/keySecretLen size the two halves of an issued key; the id is
// looked up directly (avoiding a hash scan over every active key), and only
// the secret half is bcrypt-hashed, mirroring the predecessor's
// id/secret split for its own API keys.
const (
	keyIDLen     = 12
	keySecretLen = 24
	keyPrefix    = "rc_"
)

// IdentityStore is the subset of database.SupabaseClient identity needs.
type IdentityStore interface {
	GetAPIKey(ctx context.Context, keyID string) (*database.APIKey, error)
	CreateAPIKey(ctx context.Context, key *database.APIKey) error
	RevokeAPIKey(ctx context.Context, keyID string) error
	TouchAPIKeyLastUsed(ctx context.Context, keyID string) error
	GetTenant(ctx context.Context, tenantID string) (*database.Tenant, error)
}

// Identity resolves API keys of the form rc_<key_id>.<secret> to a tenant.
type Identity struct {
	store IdentityStore
}

// NewIdentity wraps a store.
func NewIdentity(store IdentityStore) *Identity {
	return &Identity{store: store}
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// IssueKey mints a new API key for tenantID and returns the plaintext token
// (shown to the caller exactly once) alongside the persisted row.
func (id *Identity) IssueKey(ctx context.Context, tenantID, name string, scopes []string) (plaintext string, row *database.APIKey, err error) {
	keyID, err := randomToken(keyIDLen)
	if err != nil {
		return "", nil, corerr.Wrap(corerr.Fatal, "generate key id", err)
	}
	secret, err := randomToken(keySecretLen)
	if err != nil {
		return "", nil, corerr.Wrap(corerr.Fatal, "generate key secret", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, corerr.Wrap(corerr.Fatal, "hash key secret", err)
	}

	row = &database.APIKey{
		KeyID:    keyID,
		TenantID: tenantID,
		Name:     name,
		KeyHash:  string(hash),
		Scopes:   scopes,
		IsActive: true,
	}
	if err := id.store.CreateAPIKey(ctx, row); err != nil {
		return "", nil, corerr.Wrap(corerr.Transient, "persist api key", err)
	}
	return keyPrefix + keyID + "." + secret, row, nil
}

// Authenticate resolves a presented API key token to its tenant, validating
// the bcrypt hash and active/expiry state.
func (id *Identity) Authenticate(ctx context.Context, token string) (*database.Tenant, *database.APIKey, error) {
	token = strings.TrimPrefix(token, keyPrefix)
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return nil, nil, corerr.New(corerr.Policy, "malformed api key")
	}
	keyID, secret := parts[0], parts[1]

	row, err := id.store.GetAPIKey(ctx, keyID)
	if err != nil {
		return nil, nil, corerr.Wrap(corerr.Transient, "lookup api key", err)
	}
	if row == nil || !row.IsActive {
		return nil, nil, corerr.New(corerr.Policy, "invalid api key")
	}
	if row.ExpiresAt != nil && time.Now().After(*row.ExpiresAt) {
		return nil, nil, corerr.New(corerr.Policy, "expired api key")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(row.KeyHash), []byte(secret)); err != nil {
		return nil, nil, corerr.New(corerr.Policy, "invalid api key")
	}

	tenant, err := id.store.GetTenant(ctx, row.TenantID)
	if err != nil {
		return nil, nil, corerr.Wrap(corerr.Transient, "lookup tenant", err)
	}
	if tenant == nil {
		return nil, nil, corerr.New(corerr.NotFound, "tenant not found")
	}

	_ = id.store.TouchAPIKeyLastUsed(ctx, keyID)
	return tenant, row, nil
}

// RevokeKey deactivates a key immediately.
func (id *Identity) RevokeKey(ctx context.Context, keyID string) error {
	if err := id.store.RevokeAPIKey(ctx, keyID); err != nil {
		return corerr.Wrap(corerr.Transient, "revoke api key", err)
	}
	return nil
}
