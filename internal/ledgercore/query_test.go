package ledgercore

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycord/core/internal/corerr"
)

func TestGetAccountReturnsNotFoundWhenMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT account_id, tenant_id, pool, kind, external_anchor, limit_micro, occ_version, created_at FROM credit_accounts").
		WithArgs("acct-missing").
		WillReturnRows(sqlmock.NewRows([]string{"account_id", "tenant_id", "pool", "kind", "external_anchor", "limit_micro", "occ_version", "created_at"}))

	_, err := store.GetAccount(context.Background(), "acct-missing")
	require.Error(t, err)
	assert.True(t, corerr.Is(err, corerr.NotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAccountScansRow(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"account_id", "tenant_id", "pool", "kind", "external_anchor", "limit_micro", "occ_version", "created_at"}).
		AddRow("acct-1", "tenant-1", "pool-a", string(KindTenantMain), "", int64(1_000_000), int64(3), now)
	mock.ExpectQuery("SELECT account_id, tenant_id, pool, kind, external_anchor, limit_micro, occ_version, created_at FROM credit_accounts").
		WithArgs("acct-1").
		WillReturnRows(rows)

	acct, err := store.GetAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", acct.TenantID)
	assert.Equal(t, KindTenantMain, acct.Kind)
	assert.Equal(t, int64(1_000_000), acct.LimitMicro)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAccountInsertsKindAndAnchor(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO credit_accounts").
		WithArgs("acct-1", "tenant-1", "pool-a", KindIdentityAnchored, "discord:user-42", int64(0)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	acct, err := store.CreateAccount(context.Background(), "acct-1", "tenant-1", "pool-a", KindIdentityAnchored, "discord:user-42", 0)
	require.NoError(t, err)
	assert.Equal(t, KindIdentityAnchored, acct.Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAccountRejectsAnchoredKindWithoutAnchor(t *testing.T) {
	store, _ := newMockStore(t)

	_, err := store.CreateAccount(context.Background(), "acct-1", "tenant-1", "pool-a", KindIdentityAnchored, "", 0)
	require.Error(t, err)
	assert.True(t, corerr.Is(err, corerr.Policy))
}

func TestListLotsOrdersFIFO(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"lot_id", "account_id", "source", "original_micro", "available_micro", "reserved_micro", "consumed_micro", "created_at"}).
		AddRow("lot-1", "acct-1", "stripe", int64(100), int64(50), int64(0), int64(50), now).
		AddRow("lot-2", "acct-1", "stripe", int64(200), int64(200), int64(0), int64(0), now)
	mock.ExpectQuery("SELECT lot_id, account_id, source, original_micro, available_micro, reserved_micro, consumed_micro, created_at").
		WithArgs("acct-1").
		WillReturnRows(rows)

	lots, err := store.ListLots(context.Background(), "acct-1")
	require.NoError(t, err)
	require.Len(t, lots, 2)
	assert.Equal(t, "lot-1", lots[0].LotID)
}

func TestListReservationsDefaultsLimit(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"reservation_id", "account_id", "pool", "micro", "state", "finalization_id", "created_at", "expires_at"})
	mock.ExpectQuery("SELECT reservation_id, account_id, pool, micro, state, finalization_id, created_at, expires_at").
		WithArgs("acct-1", 100).
		WillReturnRows(rows)

	out, err := store.ListReservations(context.Background(), "acct-1", 0)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.NoError(t, mock.ExpectationsWereMet())
}
