package database

import (
	"context"
	"fmt"
	"os"
	"time"

	supabase "github.com/supabase-community/supabase-go"
)

// ============================================================================
// SUPABASE CLIENT - control-plane CRUD (tenants, features, API keys)
// ============================================================================

// SupabaseClient wraps the Supabase Go client for the control-plane tables.
// Financial data (accounts, lots, reservations, ledger entries) lives in the
// ledgercore Postgres store instead, so it can run inside serializable
// transactions that Supabase's REST surface does not expose.
type SupabaseClient struct {
	client *supabase.Client
}

// NewSupabaseClient creates a new Supabase client from SUPABASE_URL and
// SUPABASE_SERVICE_KEY.
func NewSupabaseClient() (*SupabaseClient, error) {
	url := os.Getenv("SUPABASE_URL")
	key := os.Getenv("SUPABASE_SERVICE_KEY")

	if url == "" || key == "" {
		return nil, fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY must be set")
	}

	client, err := supabase.NewClient(url, key, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}

	return &SupabaseClient{client: client}, nil
}

// ============================================================================
// DATA MODELS
// ============================================================================

// Tenant represents a community/organization boundary (SPEC_FULL.md §3.1).
type Tenant struct {
	TenantID         string                 `json:"tenant_id"`
	TenantName       string                 `json:"tenant_name"`
	OrganizationName string                 `json:"organization_name"`
	SubscriptionTier string                 `json:"subscription_tier"`
	Status           string                 `json:"status"`
	Settings         map[string]interface{} `json:"settings"`
	CreatedAt        string                 `json:"created_at"`
}

// TenantFeature represents a feature flag for a tenant (§3.8).
type TenantFeature struct {
	TenantID    string                 `json:"tenant_id"`
	FeatureName string                 `json:"feature_name"`
	Enabled     bool                   `json:"enabled"`
	Config      map[string]interface{} `json:"config"`
}

// APIKey represents an issued API key (§3.10). Only the bcrypt hash of the
// secret half is ever persisted.
type APIKey struct {
	KeyID      string     `json:"key_id"`
	TenantID   string     `json:"tenant_id"`
	Name       string     `json:"name"`
	KeyHash    string     `json:"key_hash"`
	Scopes     []string   `json:"scopes"`
	IsActive   bool       `json:"is_active"`
	ExpiresAt  *time.Time `json:"expires_at"`
	LastUsedAt *time.Time `json:"last_used_at"`
	CreatedAt  string     `json:"created_at,omitempty"`
}

// SigningKey represents an Agent Gateway JWT signing key in rotation (§4.5).
type SigningKey struct {
	KeyID     string `json:"key_id"`
	Algorithm string `json:"algorithm"`
	PublicJWK string `json:"public_jwk"`
	Status    string `json:"status"` // active | retiring | retired
	CreatedAt string `json:"created_at,omitempty"`
	RetiredAt string `json:"retired_at,omitempty"`
}

// ============================================================================
// TENANT OPERATIONS
// ============================================================================

// GetTenant retrieves a tenant by ID.
func (sc *SupabaseClient) GetTenant(ctx context.Context, tenantID string) (*Tenant, error) {
	var tenants []Tenant
	_, err := sc.client.From("tenants").
		Select("*", "", false).
		Eq("tenant_id", tenantID).
		ExecuteTo(&tenants)

	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	if len(tenants) == 0 {
		return nil, nil
	}
	return &tenants[0], nil
}

// CreateTenant creates a new tenant row.
func (sc *SupabaseClient) CreateTenant(ctx context.Context, tenant *Tenant) error {
	var result []Tenant
	_, err := sc.client.From("tenants").
		Insert(tenant, false, "", "", "").
		ExecuteTo(&result)
	return err
}

// UpdateTenantSettings updates the settings JSONB column for a tenant. The
// caller provides the full settings map which replaces the existing value.
func (sc *SupabaseClient) UpdateTenantSettings(ctx context.Context, tenantID string, settings map[string]interface{}) error {
	update := map[string]interface{}{
		"settings": settings,
	}
	var result []Tenant
	_, err := sc.client.From("tenants").
		Update(update, "", "").
		Eq("tenant_id", tenantID).
		ExecuteTo(&result)
	return err
}

// UpdateTenantTier changes a tenant's subscription tier (drives its default
// rate-limit and budget policy via internal/tenantctx).
func (sc *SupabaseClient) UpdateTenantTier(ctx context.Context, tenantID, tier string) error {
	update := map[string]interface{}{"subscription_tier": tier}
	var result []Tenant
	_, err := sc.client.From("tenants").
		Update(update, "", "").
		Eq("tenant_id", tenantID).
		ExecuteTo(&result)
	return err
}

// GetTenantFeatures retrieves all feature flags for a tenant.
func (sc *SupabaseClient) GetTenantFeatures(ctx context.Context, tenantID string) ([]TenantFeature, error) {
	var features []TenantFeature
	_, err := sc.client.From("tenant_features").
		Select("*", "", false).
		Eq("tenant_id", tenantID).
		ExecuteTo(&features)
	return features, err
}

// UpsertTenantFeature creates or updates a single feature flag.
func (sc *SupabaseClient) UpsertTenantFeature(ctx context.Context, feature *TenantFeature) error {
	var result []TenantFeature
	_, err := sc.client.From("tenant_features").
		Upsert(feature, "tenant_id,feature_name", "", "").
		ExecuteTo(&result)
	return err
}

// ============================================================================
// API KEY OPERATIONS
// ============================================================================

// GetAPIKey retrieves an API key by its public key_id.
func (sc *SupabaseClient) GetAPIKey(ctx context.Context, keyID string) (*APIKey, error) {
	var keys []APIKey
	_, err := sc.client.From("api_keys").
		Select("*", "", false).
		Eq("key_id", keyID).
		ExecuteTo(&keys)

	if err != nil {
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	return &keys[0], nil
}

// CreateAPIKey creates a new API key row. Only the bcrypt hash is stored.
func (sc *SupabaseClient) CreateAPIKey(ctx context.Context, apiKey *APIKey) error {
	var result []APIKey
	_, err := sc.client.From("api_keys").
		Insert(apiKey, false, "", "", "").
		ExecuteTo(&result)
	return err
}

// RevokeAPIKey flips a key inactive; it is never deleted so audit history
// stays intact.
func (sc *SupabaseClient) RevokeAPIKey(ctx context.Context, keyID string) error {
	update := map[string]interface{}{"is_active": false}
	var result []APIKey
	_, err := sc.client.From("api_keys").
		Update(update, "", "").
		Eq("key_id", keyID).
		ExecuteTo(&result)
	return err
}

// TouchAPIKeyLastUsed records the most recent successful authentication.
func (sc *SupabaseClient) TouchAPIKeyLastUsed(ctx context.Context, keyID string) error {
	update := map[string]interface{}{"last_used_at": time.Now().UTC()}
	var result []APIKey
	_, err := sc.client.From("api_keys").
		Update(update, "", "").
		Eq("key_id", keyID).
		ExecuteTo(&result)
	return err
}

// ============================================================================
// SIGNING KEY OPERATIONS (Agent Gateway JWT rotation, §4.5)
// ============================================================================

// GetActiveSigningKeys returns the keys currently eligible to sign or verify
// (status active or retiring, i.e. within the rotation overlap window).
func (sc *SupabaseClient) GetActiveSigningKeys(ctx context.Context) ([]SigningKey, error) {
	var keys []SigningKey
	_, err := sc.client.From("signing_keys").
		Select("*", "", false).
		Neq("status", "retired").
		Order("created_at", nil).
		ExecuteTo(&keys)
	return keys, err
}

// InsertSigningKey records a newly minted signing key as active.
func (sc *SupabaseClient) InsertSigningKey(ctx context.Context, key *SigningKey) error {
	var result []SigningKey
	_, err := sc.client.From("signing_keys").
		Insert(key, false, "", "", "").
		ExecuteTo(&result)
	return err
}

// RetireSigningKey marks the previously active key as retiring, starting
// its 48h verification-only overlap window.
func (sc *SupabaseClient) RetireSigningKey(ctx context.Context, keyID string) error {
	update := map[string]interface{}{"status": "retiring"}
	var result []SigningKey
	_, err := sc.client.From("signing_keys").
		Update(update, "", "").
		Eq("key_id", keyID).
		ExecuteTo(&result)
	return err
}

// FinalizeRetiredSigningKey flips a key to fully retired once its overlap
// window has elapsed.
func (sc *SupabaseClient) FinalizeRetiredSigningKey(ctx context.Context, keyID string) error {
	update := map[string]interface{}{
		"status":     "retired",
		"retired_at": time.Now().UTC(),
	}
	var result []SigningKey
	_, err := sc.client.From("signing_keys").
		Update(update, "", "").
		Eq("key_id", keyID).
		ExecuteTo(&result)
	return err
}

// ============================================================================
// GENERIC HELPERS
// ============================================================================

// InsertRow inserts a single row into any table.
func (sc *SupabaseClient) InsertRow(table string, row interface{}) error {
	_, _, err := sc.client.From(table).Insert(row, false, "", "", "").Execute()
	return err
}

// QueryRows queries rows from a table filtered by a single column.
func (sc *SupabaseClient) QueryRows(table, selectCols, filterCol, filterVal string, dest interface{}) error {
	_, err := sc.client.From(table).
		Select(selectCols, "", false).
		Eq(filterCol, filterVal).
		ExecuteTo(dest)
	return err
}
