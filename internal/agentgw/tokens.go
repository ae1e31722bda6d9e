package agentgw

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"time"

	josejwt "github.com/go-jose/go-jose/v4/jwt"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/google/uuid"

	"github.com/relaycord/core/internal/corerr"
)

// tokenTTL bounds the minted JWT lifetime (§4.5 step 5: "<5 min").
const tokenTTL = 4 * time.Minute

// overlapWindow is how long a retired signing key still verifies tokens
// minted before rotation (§4.5: "48-hour overlap").
const overlapWindow = 48 * time.Hour

// Claims are the JWT claims minted for an upstream invocation.
type Claims struct {
	Subject            string `json:"sub"`
	Tenant             string `json:"tenant"`
	PoolID             string `json:"pool_id"`
	ModelAlias         string `json:"model_alias"`
	AccountingMode     string `json:"accounting_mode"`
	PoolMappingVersion int    `json:"pool_mapping_version"`
	Expiry             int64  `json:"exp"`
	JTI                string `json:"jti"`
}

// SigningKey is one ES256 keypair in the rotation.
type SigningKey struct {
	KeyID      string
	PrivateKey *ecdsa.PrivateKey
	Status     string // active | retiring
	RetiredAt  time.Time
}

// GenerateSigningKey creates a fresh P-256 keypair for rotation.
func GenerateSigningKey(keyID string) (*SigningKey, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, corerr.Wrap(corerr.Fatal, "generate ES256 key", err)
	}
	return &SigningKey{KeyID: keyID, PrivateKey: priv, Status: "active"}, nil
}

// Minter signs and verifies short-lived JWTs, accepting both the current and
// previous signing keys during the 48h overlap (§4.5 step 5), replacing the
// predecessor's raw ECDSA SignASN1/HMAC challenge primitives with standard
// JWS compact serialization.
type Minter struct {
	active   *SigningKey
	previous *SigningKey
}

// NewMinter starts with a single active key.
func NewMinter(active *SigningKey) *Minter {
	return &Minter{active: active}
}

// Rotate retires the current active key (entering its overlap window) and
// installs newKey as active.
func (m *Minter) Rotate(newKey *SigningKey) {
	if m.active != nil {
		m.active.Status = "retiring"
		m.active.RetiredAt = time.Now().Add(overlapWindow)
		m.previous = m.active
	}
	m.active = newKey
}

// PruneExpiredPrevious drops the previous key once its overlap window has
// elapsed; callers run this periodically (e.g. alongside key rotation).
func (m *Minter) PruneExpiredPrevious() {
	if m.previous != nil && time.Now().After(m.previous.RetiredAt) {
		m.previous = nil
	}
}

// Mint signs a short-lived JWT carrying the invocation claims.
func (m *Minter) Mint(tenant, poolID, modelAlias string, mode AccountingMode, poolMappingVersion int) (string, error) {
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.ES256, Key: m.active.PrivateKey}, &jose.SignerOptions{
		ExtraHeaders: map[jose.HeaderKey]interface{}{"kid": m.active.KeyID},
	})
	if err != nil {
		return "", corerr.Wrap(corerr.Fatal, "build jose signer", err)
	}

	claims := Claims{
		Subject:            tenant,
		Tenant:             tenant,
		PoolID:             poolID,
		ModelAlias:         modelAlias,
		AccountingMode:     string(mode),
		PoolMappingVersion: poolMappingVersion,
		Expiry:             time.Now().Add(tokenTTL).Unix(),
		JTI:                uuid.NewString(),
	}

	token, err := josejwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		return "", corerr.Wrap(corerr.Fatal, "sign jwt", err)
	}
	return token, nil
}

// Verify checks a JWT against the active key, falling back to the previous
// key within its overlap window.
func (m *Minter) Verify(token string) (*Claims, error) {
	parsed, err := josejwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.ES256})
	if err != nil {
		return nil, corerr.New(corerr.Policy, "malformed token")
	}

	for _, key := range m.candidateKeys() {
		var claims Claims
		if err := parsed.Claims(&key.PrivateKey.PublicKey, &claims); err == nil {
			if time.Now().Unix() > claims.Expiry {
				return nil, corerr.New(corerr.Policy, "token expired")
			}
			return &claims, nil
		}
	}
	return nil, corerr.New(corerr.Policy, "token signature invalid for all known keys")
}

func (m *Minter) candidateKeys() []*SigningKey {
	keys := []*SigningKey{m.active}
	if m.previous != nil && time.Now().Before(m.previous.RetiredAt) {
		keys = append(keys, m.previous)
	}
	return keys
}
