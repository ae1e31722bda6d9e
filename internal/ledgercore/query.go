package ledgercore

import (
	"context"
	"database/sql"

	"github.com/relaycord/core/internal/corerr"
)

// CreateAccount provisions a new (tenant, pool) credit account with a fixed
// limit and kind (§3.3). Accounts are created once at onboarding; the limit
// itself is adjusted via the admin surface, not by re-running this.
// identity_anchored accounts must carry a non-empty externalAnchor; every
// other kind leaves it blank.
func (s *Store) CreateAccount(ctx context.Context, accountID, tenantID, pool string, kind AccountKind, externalAnchor string, limitMicro int64) (*Account, error) {
	if kind == KindIdentityAnchored && externalAnchor == "" {
		return nil, corerr.New(corerr.Policy, "identity_anchored account requires an external_anchor")
	}
	acct := &Account{AccountID: accountID, TenantID: tenantID, Pool: pool, Kind: kind, ExternalAnchor: externalAnchor, LimitMicro: limitMicro}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credit_accounts (account_id, tenant_id, pool, kind, external_anchor, limit_micro) VALUES ($1, $2, $3, $4, $5, $6)`,
		acct.AccountID, acct.TenantID, acct.Pool, acct.Kind, acct.ExternalAnchor, acct.LimitMicro)
	if err != nil {
		return nil, corerr.Wrap(corerr.Transient, "create account", err)
	}
	return acct, nil
}

// GetAccount looks up an account by id.
func (s *Store) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	var a Account
	err := s.db.QueryRowContext(ctx,
		`SELECT account_id, tenant_id, pool, kind, external_anchor, limit_micro, occ_version, created_at FROM credit_accounts WHERE account_id = $1`,
		accountID).Scan(&a.AccountID, &a.TenantID, &a.Pool, &a.Kind, &a.ExternalAnchor, &a.LimitMicro, &a.OCCVersion, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, corerr.New(corerr.NotFound, "account not found")
	}
	if err != nil {
		return nil, corerr.Wrap(corerr.Transient, "get account", err)
	}
	return &a, nil
}

// ListLots returns every lot for an account, FIFO order (oldest first).
func (s *Store) ListLots(ctx context.Context, accountID string) ([]Lot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT lot_id, account_id, source, original_micro, available_micro, reserved_micro, consumed_micro, created_at
		 FROM credit_lots WHERE account_id = $1 ORDER BY created_at ASC, lot_id ASC`, accountID)
	if err != nil {
		return nil, corerr.Wrap(corerr.Transient, "list lots", err)
	}
	defer rows.Close()

	var lots []Lot
	for rows.Next() {
		var l Lot
		if err := rows.Scan(&l.LotID, &l.AccountID, &l.Source, &l.OriginalMicro, &l.AvailableMicro, &l.ReservedMicro, &l.ConsumedMicro, &l.CreatedAt); err != nil {
			return nil, corerr.Wrap(corerr.Transient, "scan lot", err)
		}
		lots = append(lots, l)
	}
	return lots, rows.Err()
}

// ListReservations returns the non-terminal and recently-terminal
// reservations for an account, most recent first.
func (s *Store) ListReservations(ctx context.Context, accountID string, limit int) ([]Reservation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT reservation_id, account_id, pool, micro, state, finalization_id, created_at, expires_at
		 FROM credit_reservations WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, corerr.Wrap(corerr.Transient, "list reservations", err)
	}
	defer rows.Close()

	var out []Reservation
	for rows.Next() {
		var r Reservation
		var finalizationID sql.NullString
		if err := rows.Scan(&r.ReservationID, &r.AccountID, &r.Pool, &r.Micro, &r.State, &finalizationID, &r.CreatedAt, &r.ExpiresAt); err != nil {
			return nil, corerr.Wrap(corerr.Transient, "scan reservation", err)
		}
		r.FinalizationID = finalizationID.String
		out = append(out, r)
	}
	return out, rows.Err()
}
