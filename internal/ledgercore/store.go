package ledgercore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/google/uuid"

	"github.com/relaycord/core/internal/corerr"
)

// occMaxRetries / occRetryBackoff implement §4.4's "OCC conflict ⇒ bounded
// retry (3 attempts, 10ms backoff); then surface conflict error".
const (
	occMaxRetries   = 3
	occRetryBackoff = 10 * time.Millisecond
)

// reservationTTL is the default time-to-live for a pending reservation
// before expire_sweep() reclaims it.
const reservationTTL = 5 * time.Minute

// Store is the transactional Postgres binding for the ledger (§4.4 Store
// binding), using github.com/lib/pq against the schema in ledgercore/schema.sql.
type Store struct {
	db      *sql.DB
	metrics *Metrics
}

// NewStore opens a connection pool against dsn.
func NewStore(dsn string, metrics *Metrics) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledgercore: open: %w", err)
	}
	return &Store{db: db, metrics: metrics}, nil
}

func (s *Store) withOCCRetry(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < occMaxRetries; attempt++ {
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return corerr.Wrap(corerr.Transient, "begin tx", err)
		}
		err = fn(tx)
		if err == nil {
			if cerr := tx.Commit(); cerr != nil {
				_ = tx.Rollback()
				lastErr = corerr.Wrap(corerr.Conflict, "commit", cerr)
				time.Sleep(occRetryBackoff)
				continue
			}
			return nil
		}
		_ = tx.Rollback()
		if corerr.Is(err, corerr.Conflict) {
			lastErr = err
			time.Sleep(occRetryBackoff)
			continue
		}
		return err
	}
	return corerr.Wrap(corerr.Conflict, "occ retries exhausted", lastErr)
}

// ErrInsufficientFunds carries the shortfall amount for a rejected reserve.
type ErrInsufficientFunds struct {
	RequestedMicro int64
	AvailableMicro int64
}

func (e *ErrInsufficientFunds) Error() string {
	return fmt.Sprintf("insufficient funds: requested %d available %d", e.RequestedMicro, e.AvailableMicro)
}

// Deposit creates a new lot with original=available=micro, reserved=consumed=0,
// and appends a deposit ledger entry.
func (s *Store) Deposit(ctx context.Context, accountID, source string, micro int64) (*Lot, error) {
	lot := &Lot{
		LotID:          uuid.NewString(),
		AccountID:      accountID,
		Source:         source,
		OriginalMicro:  micro,
		AvailableMicro: micro,
		CreatedAt:      time.Now(),
	}
	err := s.withOCCRetry(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO credit_lots (lot_id, account_id, source, original_micro, available_micro, reserved_micro, consumed_micro, created_at)
			 VALUES ($1,$2,$3,$4,$5,0,0,$6)`,
			lot.LotID, lot.AccountID, lot.Source, lot.OriginalMicro, lot.AvailableMicro, lot.CreatedAt); err != nil {
			return corerr.Wrap(corerr.Transient, "insert lot", err)
		}
		if err := s.appendEntry(ctx, tx, accountID, lot.LotID, "", EntryDeposit, micro); err != nil {
			return err
		}
		treasuryID, err := s.resolveTreasury(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if err := s.appendEntry(ctx, tx, treasuryID, lot.LotID, "", EntryDeposit, -micro); err != nil {
			return err
		}
		if err := s.bumpOCC(ctx, tx, accountID); err != nil {
			return err
		}
		return s.bumpOCC(ctx, tx, treasuryID)
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.DepositsTotal.Inc()
	}
	return lot, nil
}

// Reserve allocates micro from the account's FIFO-ordered lots (ordered by
// created_at, lot_id ties broken by lot_id) into a new pending reservation.
func (s *Store) Reserve(ctx context.Context, tenantID, accountID, pool string, micro int64) (*Reservation, error) {
	res := &Reservation{
		ReservationID: uuid.NewString(),
		AccountID:     accountID,
		Pool:          pool,
		Micro:         micro,
		State:         ReservationPending,
		CreatedAt:     time.Now(),
		ExpiresAt:     time.Now().Add(reservationTTL),
	}

	err := s.withOCCRetry(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT lot_id, available_micro FROM credit_lots WHERE account_id = $1 AND available_micro > 0
			 ORDER BY created_at ASC, lot_id ASC FOR UPDATE`, accountID)
		if err != nil {
			return corerr.Wrap(corerr.Transient, "query lots", err)
		}
		type lotAvail struct {
			id     string
			avail  int64
		}
		var lots []lotAvail
		for rows.Next() {
			var la lotAvail
			if err := rows.Scan(&la.id, &la.avail); err != nil {
				rows.Close()
				return corerr.Wrap(corerr.Transient, "scan lot", err)
			}
			lots = append(lots, la)
		}
		rows.Close()

		remaining := micro
		var totalAvailable int64
		for _, l := range lots {
			totalAvailable += l.avail
		}
		if totalAvailable < micro {
			return &ErrInsufficientFunds{RequestedMicro: micro, AvailableMicro: totalAvailable}
		}

		for _, l := range lots {
			if remaining <= 0 {
				break
			}
			take := l.avail
			if take > remaining {
				take = remaining
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE credit_lots SET available_micro = available_micro - $1, reserved_micro = reserved_micro + $1 WHERE lot_id = $2`,
				take, l.id); err != nil {
				return corerr.Wrap(corerr.Transient, "update lot reserve", err)
			}
			res.Allocations = append(res.Allocations, Allocation{LotID: l.id, Micro: take})
			if err := s.appendEntry(ctx, tx, accountID, l.id, res.ReservationID, EntryReserve, take); err != nil {
				return err
			}
			remaining -= take
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO credit_reservations (reservation_id, account_id, pool, micro, state, created_at, expires_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			res.ReservationID, accountID, pool, micro, res.State, res.CreatedAt, res.ExpiresAt)
		if err != nil {
			return corerr.Wrap(corerr.Transient, "insert reservation", err)
		}
		for _, a := range res.Allocations {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO credit_reservation_allocations (reservation_id, lot_id, micro) VALUES ($1,$2,$3)`,
				res.ReservationID, a.LotID, a.Micro); err != nil {
				return corerr.Wrap(corerr.Transient, "insert allocation", err)
			}
		}
		return s.bumpOCC(ctx, tx, accountID)
	})
	if err != nil {
		var insufficient *ErrInsufficientFunds
		if errors.As(err, &insufficient) {
			if s.metrics != nil {
				s.metrics.ReservationsRejected.Inc()
			}
			return nil, corerr.Wrap(corerr.Policy, insufficient.Error(), insufficient)
		}
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ReservationsCreated.Inc()
	}
	return res, nil
}

// Finalize settles a pending reservation at its exact cost: costMicro of the
// reserved allocations move reserved->consumed (ordered by lot_id, posting a
// double-entry leg to the pool's system_treasury account for the value that
// actually left the tenant account), and any remainder moves reserved-
// >available on the same lots, same account, no second leg (§4.4 Finalize
// postcondition, §8 round-trip law). costMicro must not exceed the
// reservation's total reserved micro. A repeated finalize with the same
// finalizationID returns the original result with no side effects (§4.4 I-5
// uniqueness).
func (s *Store) Finalize(ctx context.Context, reservationID, finalizationID string, costMicro int64) error {
	if costMicro < 0 {
		return corerr.New(corerr.Policy, "finalize cost must be non-negative")
	}
	return s.withOCCRetry(ctx, func(tx *sql.Tx) error {
		var state string
		var expiresAt time.Time
		var accountID string
		if err := tx.QueryRowContext(ctx,
			`SELECT state, expires_at, account_id FROM credit_reservations WHERE reservation_id = $1 FOR UPDATE`,
			reservationID).Scan(&state, &expiresAt, &accountID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return corerr.New(corerr.NotFound, "reservation not found")
			}
			return corerr.Wrap(corerr.Transient, "select reservation", err)
		}
		if state == string(ReservationFinalized) {
			var existingFinalizationID string
			_ = tx.QueryRowContext(ctx, `SELECT finalization_id FROM credit_reservations WHERE reservation_id = $1`, reservationID).Scan(&existingFinalizationID)
			if existingFinalizationID == finalizationID {
				return nil // duplicate finalize, idempotent no-op
			}
			return corerr.New(corerr.Conflict, "reservation already finalized with a different finalization id")
		}
		if state != string(ReservationPending) {
			return corerr.New(corerr.Conflict, fmt.Sprintf("reservation not pending: %s", state))
		}
		if time.Now().After(expiresAt) {
			return corerr.New(corerr.Conflict, "reservation expired")
		}

		rows, err := tx.QueryContext(ctx,
			`SELECT lot_id, micro FROM credit_reservation_allocations WHERE reservation_id = $1 ORDER BY lot_id ASC`, reservationID)
		if err != nil {
			return corerr.Wrap(corerr.Transient, "query allocations", err)
		}
		type alloc struct {
			lotID string
			micro int64
		}
		var allocs []alloc
		var totalReserved int64
		for rows.Next() {
			var a alloc
			if err := rows.Scan(&a.lotID, &a.micro); err != nil {
				rows.Close()
				return corerr.Wrap(corerr.Transient, "scan allocation", err)
			}
			allocs = append(allocs, a)
			totalReserved += a.micro
		}
		rows.Close()

		if costMicro > totalReserved {
			return corerr.New(corerr.Policy, fmt.Sprintf("finalize cost %d exceeds reserved %d", costMicro, totalReserved))
		}

		var treasuryID string
		if costMicro > 0 {
			treasuryID, err = s.resolveTreasury(ctx, tx, accountID)
			if err != nil {
				return err
			}
		}

		remainingCost := costMicro
		for _, a := range allocs {
			consume := a.micro
			if consume > remainingCost {
				consume = remainingCost
			}
			leftover := a.micro - consume

			if consume > 0 {
				if _, err := tx.ExecContext(ctx,
					`UPDATE credit_lots SET reserved_micro = reserved_micro - $1, consumed_micro = consumed_micro + $1 WHERE lot_id = $2`,
					consume, a.lotID); err != nil {
					return corerr.Wrap(corerr.Transient, "update lot finalize", err)
				}
				if err := s.appendEntry(ctx, tx, accountID, a.lotID, reservationID, EntryFinalize, consume); err != nil {
					return err
				}
				if err := s.appendEntry(ctx, tx, treasuryID, a.lotID, reservationID, EntryFinalize, -consume); err != nil {
					return err
				}
				remainingCost -= consume
			}
			if leftover > 0 {
				if _, err := tx.ExecContext(ctx,
					`UPDATE credit_lots SET reserved_micro = reserved_micro - $1, available_micro = available_micro + $1 WHERE lot_id = $2`,
					leftover, a.lotID); err != nil {
					return corerr.Wrap(corerr.Transient, "update lot finalize remainder", err)
				}
				if err := s.appendEntry(ctx, tx, accountID, a.lotID, reservationID, EntryRelease, leftover); err != nil {
					return err
				}
			}
		}

		if err := s.bumpOCC(ctx, tx, accountID); err != nil {
			return err
		}
		if costMicro > 0 {
			if err := s.bumpOCC(ctx, tx, treasuryID); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE credit_reservations SET state = $1, finalization_id = $2 WHERE reservation_id = $3 AND state = $4`,
			ReservationFinalized, finalizationID, reservationID, ReservationPending)
		return wrapConditionalUpdate(err)
	})
}

// Release moves a pending reservation's allocations back reserved->available
// and marks it released.
func (s *Store) Release(ctx context.Context, reservationID string) error {
	return s.transitionToTerminal(ctx, reservationID, ReservationReleased, EntryRelease)
}

// ExpireSweep moves every pending reservation whose expires_at has passed to
// the expired state (writing a release ledger entry for each) and returns
// their ids. No event is emitted.
func (s *Store) ExpireSweep(ctx context.Context) (expired []string, err error) {
	err = s.withOCCRetry(ctx, func(tx *sql.Tx) error {
		rows, qerr := tx.QueryContext(ctx,
			`SELECT reservation_id FROM credit_reservations WHERE state = $1 AND expires_at < now() FOR UPDATE`,
			ReservationPending)
		if qerr != nil {
			return corerr.Wrap(corerr.Transient, "query expired reservations", qerr)
		}
		var ids []string
		for rows.Next() {
			var id string
			if serr := rows.Scan(&id); serr != nil {
				rows.Close()
				return corerr.Wrap(corerr.Transient, "scan reservation id", serr)
			}
			ids = append(ids, id)
		}
		rows.Close()
		expired = ids
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, id := range expired {
		if terr := s.transitionToTerminal(ctx, id, ReservationExpired, EntryRelease); terr != nil {
			return expired, terr
		}
	}
	if s.metrics != nil {
		s.metrics.ReservationsExpired.Add(float64(len(expired)))
	}
	return expired, nil
}

func (s *Store) transitionToTerminal(ctx context.Context, reservationID string, to ReservationState, entryType EntryType) error {
	return s.withOCCRetry(ctx, func(tx *sql.Tx) error {
		var state, accountID string
		if err := tx.QueryRowContext(ctx,
			`SELECT state, account_id FROM credit_reservations WHERE reservation_id = $1 FOR UPDATE`,
			reservationID).Scan(&state, &accountID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return corerr.New(corerr.NotFound, "reservation not found")
			}
			return corerr.Wrap(corerr.Transient, "select reservation", err)
		}
		if state != string(ReservationPending) {
			return corerr.New(corerr.Conflict, fmt.Sprintf("reservation not pending: %s", state))
		}

		rows, err := tx.QueryContext(ctx, `SELECT lot_id, micro FROM credit_reservation_allocations WHERE reservation_id = $1`, reservationID)
		if err != nil {
			return corerr.Wrap(corerr.Transient, "query allocations", err)
		}
		type alloc struct {
			lotID string
			micro int64
		}
		var allocs []alloc
		for rows.Next() {
			var a alloc
			if err := rows.Scan(&a.lotID, &a.micro); err != nil {
				rows.Close()
				return corerr.Wrap(corerr.Transient, "scan allocation", err)
			}
			allocs = append(allocs, a)
		}
		rows.Close()

		for _, a := range allocs {
			if _, err := tx.ExecContext(ctx,
				`UPDATE credit_lots SET reserved_micro = reserved_micro - $1, available_micro = available_micro + $1 WHERE lot_id = $2`,
				a.micro, a.lotID); err != nil {
				return corerr.Wrap(corerr.Transient, "update lot release", err)
			}
			if err := s.appendEntry(ctx, tx, accountID, a.lotID, reservationID, entryType, a.micro); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE credit_reservations SET state = $1 WHERE reservation_id = $2 AND state = $3`,
			to, reservationID, ReservationPending); err != nil {
			return wrapConditionalUpdate(err)
		}
		return s.bumpOCC(ctx, tx, accountID)
	})
}

// Refund claws back available micros from an account's lots in LIFO order
// (§3.6 refund) for value that never crossed into consumed spend — a
// payment-processor chargeback or a usage-reconciliation correction, not a
// reservation overage return (Finalize's costMicro parameter handles that
// directly). Posts the offsetting leg to the pool's system_treasury account
// and reduces original_micro accordingly so the lot invariant holds.
func (s *Store) Refund(ctx context.Context, accountID string, amount int64) error {
	return s.withOCCRetry(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT lot_id, available_micro FROM credit_lots WHERE account_id = $1 AND available_micro > 0
			 ORDER BY created_at DESC, lot_id DESC FOR UPDATE`, accountID)
		if err != nil {
			return corerr.Wrap(corerr.Transient, "query lots for refund", err)
		}
		type lotAvail struct {
			id    string
			avail int64
		}
		var lots []lotAvail
		var totalAvailable int64
		for rows.Next() {
			var la lotAvail
			if err := rows.Scan(&la.id, &la.avail); err != nil {
				rows.Close()
				return corerr.Wrap(corerr.Transient, "scan lot", err)
			}
			lots = append(lots, la)
			totalAvailable += la.avail
		}
		rows.Close()

		if totalAvailable < amount {
			return corerr.New(corerr.Policy, fmt.Sprintf("refund exceeds available: requested %d available %d", amount, totalAvailable))
		}

		remaining := amount
		for _, l := range lots {
			if remaining <= 0 {
				break
			}
			take := l.avail
			if take > remaining {
				take = remaining
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE credit_lots SET available_micro = available_micro - $1, original_micro = original_micro - $1 WHERE lot_id = $2`,
				take, l.id); err != nil {
				return corerr.Wrap(corerr.Transient, "update lot refund", err)
			}
			if err := s.appendEntry(ctx, tx, accountID, l.id, "", EntryRefund, -take); err != nil {
				return err
			}
			remaining -= take
		}

		treasuryID, err := s.resolveTreasury(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if err := s.appendEntry(ctx, tx, treasuryID, "", "", EntryRefund, amount); err != nil {
			return err
		}
		if err := s.bumpOCC(ctx, tx, accountID); err != nil {
			return err
		}
		return s.bumpOCC(ctx, tx, treasuryID)
	})
}

// RequestPayout creates a pending payout request after checking the §3.7
// margin invariant: the tenant's treasury reserve must stay >= the sum of
// its pending+approved+processing payouts once this one is added.
func (s *Store) RequestPayout(ctx context.Context, tenantID, accountID string, amountMicro int64) (*PayoutRequest, error) {
	req := &PayoutRequest{
		PayoutID:    uuid.NewString(),
		AccountID:   accountID,
		AmountMicro: amountMicro,
		State:       PayoutPending,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	err := s.withOCCRetry(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO treasury_state (tenant_id) VALUES ($1) ON CONFLICT (tenant_id) DO NOTHING`,
			tenantID); err != nil {
			return corerr.Wrap(corerr.Transient, "ensure treasury state", err)
		}
		var reserveMicro, pendingPayoutMicro int64
		if err := tx.QueryRowContext(ctx,
			`SELECT reserve_micro, pending_payout_micro FROM treasury_state WHERE tenant_id = $1 FOR UPDATE`,
			tenantID).Scan(&reserveMicro, &pendingPayoutMicro); err != nil {
			return corerr.Wrap(corerr.Transient, "select treasury state", err)
		}
		if reserveMicro-pendingPayoutMicro < amountMicro {
			return corerr.New(corerr.Policy, fmt.Sprintf(
				"payout exceeds treasury margin: reserve %d pending %d requested %d",
				reserveMicro, pendingPayoutMicro, amountMicro))
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE treasury_state SET pending_payout_micro = pending_payout_micro + $1, updated_at = now() WHERE tenant_id = $2`,
			amountMicro, tenantID); err != nil {
			return corerr.Wrap(corerr.Transient, "reserve treasury margin", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO payout_requests (payout_id, account_id, amount_micro, state, created_at, updated_at)
			 VALUES ($1,$2,$3,$4,$5,$6)`,
			req.PayoutID, req.AccountID, req.AmountMicro, req.State, req.CreatedAt, req.UpdatedAt); err != nil {
			return corerr.Wrap(corerr.Transient, "insert payout request", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// TransitionPayout performs a conditional status update (WHERE status = ?)
// for race protection, per §4.4's payout state machine. Moving into a
// terminal state (completed/failed/cancelled) releases the payout's hold on
// the tenant's treasury margin; quarantined keeps the hold, since a
// quarantined payout can still resume into processing.
func (s *Store) TransitionPayout(ctx context.Context, payoutID string, from, to PayoutState) error {
	return s.withOCCRetry(ctx, func(tx *sql.Tx) error {
		var accountID string
		var amountMicro int64
		if err := tx.QueryRowContext(ctx,
			`SELECT account_id, amount_micro FROM payout_requests WHERE payout_id = $1`,
			payoutID).Scan(&accountID, &amountMicro); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return corerr.New(corerr.NotFound, "payout not found")
			}
			return corerr.Wrap(corerr.Transient, "select payout", err)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE payout_requests SET state = $1, updated_at = now() WHERE payout_id = $2 AND state = $3`,
			to, payoutID, from)
		if err != nil {
			return corerr.Wrap(corerr.Transient, "update payout state", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return corerr.Wrap(corerr.Transient, "rows affected", err)
		}
		if n == 0 {
			return corerr.New(corerr.Conflict, fmt.Sprintf("payout %s not in state %s", payoutID, from))
		}

		if to == PayoutCompleted || to == PayoutFailed || to == PayoutCancelled {
			var tenantID string
			if err := tx.QueryRowContext(ctx,
				`SELECT tenant_id FROM credit_accounts WHERE account_id = $1`, accountID).Scan(&tenantID); err != nil {
				return corerr.Wrap(corerr.Transient, "resolve account tenant for payout release", err)
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE treasury_state SET pending_payout_micro = pending_payout_micro - $1, updated_at = now() WHERE tenant_id = $2`,
				amountMicro, tenantID); err != nil {
				return corerr.Wrap(corerr.Transient, "release treasury margin", err)
			}
		}
		return nil
	})
}

// appendEntry writes one ledger entry. entry_seq is a bigserial: globally
// monotonic, and therefore monotonic per account too (§4.4 I-4), without
// the dynamic per-account sequence a literal reading would otherwise need.
func (s *Store) appendEntry(ctx context.Context, tx *sql.Tx, accountID, lotID, reservationID string, entryType EntryType, amountMicro int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO credit_ledger (account_id, lot_id, reservation_id, type, amount_micro, created_at)
		 VALUES ($1, $2, $3, $4, $5, now())`,
		accountID, lotID, reservationID, entryType, amountMicro)
	if err != nil {
		return corerr.Wrap(corerr.Transient, "append ledger entry", err)
	}
	return nil
}

// resolveTreasury looks up the (tenant_id, pool) owning accountID and
// upserts the system_treasury account for that pool, returning its id. Every
// boundary-crossing operation (Deposit, Finalize, Refund) posts its
// offsetting double-entry leg here.
func (s *Store) resolveTreasury(ctx context.Context, tx *sql.Tx, accountID string) (string, error) {
	var tenantID, pool string
	if err := tx.QueryRowContext(ctx,
		`SELECT tenant_id, pool FROM credit_accounts WHERE account_id = $1`, accountID,
	).Scan(&tenantID, &pool); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", corerr.New(corerr.NotFound, "account not found")
		}
		return "", corerr.Wrap(corerr.Transient, "resolve account for treasury", err)
	}
	treasuryID := systemTreasuryAccountID(tenantID, pool)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO credit_accounts (account_id, tenant_id, pool, kind, limit_micro)
		 VALUES ($1, $2, $3, $4, 0) ON CONFLICT (account_id) DO NOTHING`,
		treasuryID, tenantID, pool+":treasury", KindSystemTreasury); err != nil {
		return "", corerr.Wrap(corerr.Transient, "ensure treasury account", err)
	}
	return treasuryID, nil
}

// bumpOCC advances accountID's fence token (§4.4 I-4). The store's real
// concurrency control is the SERIALIZABLE transaction plus SELECT ... FOR
// UPDATE already used by every mutating method above; occ_version is kept as
// a monotonic counter callers can snapshot and compare across reads (P7),
// independent of how the write itself was serialized.
func (s *Store) bumpOCC(ctx context.Context, tx *sql.Tx, accountID string) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE credit_accounts SET occ_version = occ_version + 1 WHERE account_id = $1`, accountID); err != nil {
		return corerr.Wrap(corerr.Transient, "bump occ_version", err)
	}
	return nil
}

func wrapConditionalUpdate(err error) error {
	if err != nil {
		return corerr.Wrap(corerr.Transient, "conditional update", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
