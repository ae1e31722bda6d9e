package ledgercore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycord/core/internal/corerr"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &Store{db: db}, mock
}

// expectTreasuryLeg wires the resolveTreasury+appendEntry sequence that
// Deposit and Refund run immediately after posting the primary account's own
// leg. Finalize interleaves its treasury ledger entry with per-allocation lot
// updates instead, so it sets up the same query/exec pair inline.
func expectTreasuryLeg(mock sqlmock.Sqlmock, tenantID, pool string) {
	rows := sqlmock.NewRows([]string{"tenant_id", "pool"}).AddRow(tenantID, pool)
	mock.ExpectQuery("SELECT tenant_id, pool FROM credit_accounts").WillReturnRows(rows)
	mock.ExpectExec("INSERT INTO credit_accounts").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO credit_ledger").WillReturnResult(sqlmock.NewResult(1, 1))
}

func TestDepositInsertsLotAndEntry(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO credit_lots").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO credit_ledger").WillReturnResult(sqlmock.NewResult(1, 1))
	expectTreasuryLeg(mock, "tenant-1", "pool-a")
	mock.ExpectExec("UPDATE credit_accounts SET occ_version").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE credit_accounts SET occ_version").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	lot, err := store.Deposit(context.Background(), "acct-1", "stripe", 5_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(5_000_000), lot.AvailableMicro)
	assert.Equal(t, int64(5_000_000), lot.OriginalMicro)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveRejectsWhenInsufficientFunds(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	rows := sqlmock.NewRows([]string{"lot_id", "available_micro"}).
		AddRow("lot-1", int64(100))
	mock.ExpectQuery("SELECT lot_id, available_micro FROM credit_lots").WillReturnRows(rows)
	mock.ExpectRollback()

	_, err := store.Reserve(context.Background(), "tenant-1", "acct-1", "pool-1", 500)
	require.Error(t, err)

	var insufficient *ErrInsufficientFunds
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, int64(500), insufficient.RequestedMicro)
	assert.Equal(t, int64(100), insufficient.AvailableMicro)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveAllocatesFromSingleLotFIFO(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	rows := sqlmock.NewRows([]string{"lot_id", "available_micro"}).
		AddRow("lot-1", int64(1000))
	mock.ExpectQuery("SELECT lot_id, available_micro FROM credit_lots").WillReturnRows(rows)
	mock.ExpectExec("UPDATE credit_lots SET available_micro").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO credit_ledger").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO credit_reservations").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO credit_reservation_allocations").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE credit_accounts SET occ_version").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := store.Reserve(context.Background(), "tenant-1", "acct-1", "pool-1", 500)
	require.NoError(t, err)
	assert.Equal(t, ReservationPending, res.State)
	require.Len(t, res.Allocations, 1)
	assert.Equal(t, int64(500), res.Allocations[0].Micro)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestFinalizeExactCostSplitsAllocationReservedAvailable reproduces the §8
// scenario-1 numbers: deposit 10,000,000, reserve 1,000,000, finalize
// 800,000 leaves consumed=800,000 on the lot and the 200,000 overage back in
// available, not clawed back via Refund.
func TestFinalizeExactCostSplitsAllocationReservedAvailable(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	resRows := sqlmock.NewRows([]string{"state", "expires_at", "account_id"}).
		AddRow(string(ReservationPending), time.Now().Add(time.Hour), "acct-1")
	mock.ExpectQuery("SELECT state, expires_at, account_id FROM credit_reservations").WillReturnRows(resRows)

	allocRows := sqlmock.NewRows([]string{"lot_id", "micro"}).AddRow("lot-1", int64(1_000_000))
	mock.ExpectQuery("SELECT lot_id, micro FROM credit_reservation_allocations").WillReturnRows(allocRows)

	treasuryRows := sqlmock.NewRows([]string{"tenant_id", "pool"}).AddRow("tenant-1", "pool-a")
	mock.ExpectQuery("SELECT tenant_id, pool FROM credit_accounts").WillReturnRows(treasuryRows)
	mock.ExpectExec("INSERT INTO credit_accounts").WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec("UPDATE credit_lots SET reserved_micro = reserved_micro - \\$1, consumed_micro = consumed_micro \\+ \\$1").
		WithArgs(int64(800_000), "lot-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO credit_ledger").WillReturnResult(sqlmock.NewResult(1, 1)) // primary finalize leg
	mock.ExpectExec("INSERT INTO credit_ledger").WillReturnResult(sqlmock.NewResult(1, 1)) // treasury finalize leg

	mock.ExpectExec("UPDATE credit_lots SET reserved_micro = reserved_micro - \\$1, available_micro = available_micro \\+ \\$1").
		WithArgs(int64(200_000), "lot-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO credit_ledger").WillReturnResult(sqlmock.NewResult(1, 1)) // release leftover, single leg

	mock.ExpectExec("UPDATE credit_accounts SET occ_version").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE credit_accounts SET occ_version").WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec("UPDATE credit_reservations SET state").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.Finalize(context.Background(), "res-1", "fin-1", 800_000)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinalizeRejectsCostAboveReserved(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	resRows := sqlmock.NewRows([]string{"state", "expires_at", "account_id"}).
		AddRow(string(ReservationPending), time.Now().Add(time.Hour), "acct-1")
	mock.ExpectQuery("SELECT state, expires_at, account_id FROM credit_reservations").WillReturnRows(resRows)
	allocRows := sqlmock.NewRows([]string{"lot_id", "micro"}).AddRow("lot-1", int64(1_000_000))
	mock.ExpectQuery("SELECT lot_id, micro FROM credit_reservation_allocations").WillReturnRows(allocRows)
	mock.ExpectRollback()

	err := store.Finalize(context.Background(), "res-1", "fin-1", 1_000_001)
	require.Error(t, err)
	assert.True(t, corerr.Is(err, corerr.Policy))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefundPostsTreasuryLegAndBumpsFence(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	lotRows := sqlmock.NewRows([]string{"lot_id", "available_micro"}).AddRow("lot-1", int64(500))
	mock.ExpectQuery("SELECT lot_id, available_micro FROM credit_lots").WillReturnRows(lotRows)
	mock.ExpectExec("UPDATE credit_lots SET available_micro = available_micro - \\$1, original_micro").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO credit_ledger").WillReturnResult(sqlmock.NewResult(1, 1)) // primary refund leg
	expectTreasuryLeg(mock, "tenant-1", "pool-a")
	mock.ExpectExec("UPDATE credit_accounts SET occ_version").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE credit_accounts SET occ_version").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.Refund(context.Background(), "acct-1", 300)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionPayoutConflictsWhenStateAlreadyChanged(t *testing.T) {
	store, mock := newMockStore(t)

	// A conditional-update miss is classified as Conflict, so withOCCRetry
	// attempts it occMaxRetries times in total before giving up.
	for i := 0; i < occMaxRetries; i++ {
		mock.ExpectBegin()
		payoutRows := sqlmock.NewRows([]string{"account_id", "amount_micro"}).AddRow("acct-1", int64(1000))
		mock.ExpectQuery("SELECT account_id, amount_micro FROM payout_requests").WillReturnRows(payoutRows)
		mock.ExpectExec("UPDATE payout_requests SET state").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()
	}

	err := store.TransitionPayout(context.Background(), "payout-1", PayoutPending, PayoutApproved)
	require.Error(t, err)
	assert.True(t, corerr.Is(err, corerr.Conflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionPayoutSucceedsOnMatchingState(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	payoutRows := sqlmock.NewRows([]string{"account_id", "amount_micro"}).AddRow("acct-1", int64(1000))
	mock.ExpectQuery("SELECT account_id, amount_micro FROM payout_requests").WillReturnRows(payoutRows)
	mock.ExpectExec("UPDATE payout_requests SET state").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.TransitionPayout(context.Background(), "payout-1", PayoutPending, PayoutApproved)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionPayoutToCompletedReleasesTreasuryMargin(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	payoutRows := sqlmock.NewRows([]string{"account_id", "amount_micro"}).AddRow("acct-1", int64(1000))
	mock.ExpectQuery("SELECT account_id, amount_micro FROM payout_requests").WillReturnRows(payoutRows)
	mock.ExpectExec("UPDATE payout_requests SET state").WillReturnResult(sqlmock.NewResult(0, 1))
	tenantRows := sqlmock.NewRows([]string{"tenant_id"}).AddRow("tenant-1")
	mock.ExpectQuery("SELECT tenant_id FROM credit_accounts").WillReturnRows(tenantRows)
	mock.ExpectExec("UPDATE treasury_state SET pending_payout_micro").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.TransitionPayout(context.Background(), "payout-1", PayoutProcessing, PayoutCompleted)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestPayoutRejectsWhenExceedsTreasuryMargin(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO treasury_state").WillReturnResult(sqlmock.NewResult(0, 1))
	stateRows := sqlmock.NewRows([]string{"reserve_micro", "pending_payout_micro"}).AddRow(int64(1000), int64(400))
	mock.ExpectQuery("SELECT reserve_micro, pending_payout_micro FROM treasury_state").WillReturnRows(stateRows)
	mock.ExpectRollback()

	_, err := store.RequestPayout(context.Background(), "tenant-1", "acct-1", 700)
	require.Error(t, err)
	assert.True(t, corerr.Is(err, corerr.Policy))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestPayoutSucceedsWithinTreasuryMargin(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO treasury_state").WillReturnResult(sqlmock.NewResult(0, 1))
	stateRows := sqlmock.NewRows([]string{"reserve_micro", "pending_payout_micro"}).AddRow(int64(1000), int64(400))
	mock.ExpectQuery("SELECT reserve_micro, pending_payout_micro FROM treasury_state").WillReturnRows(stateRows)
	mock.ExpectExec("UPDATE treasury_state SET pending_payout_micro").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO payout_requests").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	req, err := store.RequestPayout(context.Background(), "tenant-1", "acct-1", 500)
	require.NoError(t, err)
	assert.Equal(t, PayoutPending, req.State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestEntryTypeEnumMatchesClosedSet pins §3.6's closed enumeration so an
// accidental addition or removal is caught here instead of at the schema's
// CHECK constraint in production.
func TestEntryTypeEnumMatchesClosedSet(t *testing.T) {
	want := map[EntryType]bool{
		EntryDeposit: true, EntryReserve: true, EntryFinalize: true,
		EntryRelease: true, EntryRefund: true, EntryGrant: true,
		EntryEscrow: true, EntryEscrowRelease: true, EntryShadowCharge: true,
		EntryCommonsContribution: true,
	}
	assert.Len(t, want, 10)
}
