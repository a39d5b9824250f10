package fieldwork

import (
	"context"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldproof-backend/core/fieldwork"
)

func ledgerChain(t *testing.T) []fieldwork.LedgerEntry {
	t.Helper()
	at := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	var entries []fieldwork.LedgerEntry
	var err error
	entries, _, err = fieldwork.AppendLedger(entries, fieldwork.LedgerEntry{
		EntryID: "led-1", TaskID: "task-1", Kind: fieldwork.LedgerSettlementRequested,
		Lines:  []fieldwork.SettlementLine{{Kind: fieldwork.SettleRelease, To: "w", Amount: 900, IdempotencyKey: "task-1:release", Status: fieldwork.LinePending}},
		Amount: 1000, Currency: "USDC", Reason: "submission accepted", At: at,
	})
	require.NoError(t, err)
	entries, _, err = fieldwork.AppendLedger(entries, fieldwork.LedgerEntry{
		EntryID: "led-2", TaskID: "task-1", Kind: fieldwork.LedgerFeeRetained,
		Amount: 100, Currency: "USDC", Reason: "platform fees", At: at,
	})
	require.NoError(t, err)
	return entries
}

func TestSQLLedgerAppendPostgres(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ledger := NewSQLLedger(db, DialectPostgres)
	entries := ledgerChain(t)

	insert := regexp.QuoteMeta("INSERT INTO fieldproof_ledger (entry_id, task_id, seq, kind, amount, currency, reason, lines, at, prev_hash, hash)\nVALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)")
	mock.ExpectBegin()
	mock.ExpectExec(insert).
		WithArgs("led-1", "task-1", 1, "settlement_requested", int64(1000), "USDC", "submission accepted", sqlmock.AnyArg(), "2026-03-02T12:00:00Z", "", entries[0].Hash).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(insert).
		WithArgs("led-2", "task-1", 2, "fee_retained", int64(100), "USDC", "platform fees", "null", "2026-03-02T12:00:00Z", entries[0].Hash, entries[1].Hash).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	assert.NoError(t, ledger.Append(context.Background(), entries))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLLedgerAppendRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ledger := NewSQLLedger(db, DialectSQLite)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO fieldproof_ledger")).
		WillReturnError(sqlmock.ErrCancelled)
	mock.ExpectRollback()

	err = ledger.Append(context.Background(), ledgerChain(t))
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLLedgerEntriesQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ledger := NewSQLLedger(db, DialectPostgres)
	rows := sqlmock.NewRows([]string{"entry_id", "task_id", "seq", "kind", "amount", "currency", "reason", "lines", "at", "prev_hash", "hash"}).
		AddRow("led-9", "task-1", 1, "fee_retained", 100, "USDC", "platform fees", "null", "2026-03-02T12:00:00Z", "", "abc")
	mock.ExpectQuery(regexp.QuoteMeta("FROM fieldproof_ledger WHERE task_id = $1 ORDER BY seq")).
		WithArgs("task-1").
		WillReturnRows(rows)

	got, err := ledger.Entries(context.Background(), "task-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, fieldwork.LedgerFeeRetained, got[0].Kind)
	assert.Equal(t, time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC), got[0].At)
}

func TestSQLLedgerSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	ledger, err := OpenSQLLedger(ctx, DialectSQLite, filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer ledger.Close()

	entries := ledgerChain(t)
	require.NoError(t, ledger.Append(ctx, entries))
	require.NoError(t, ledger.Append(ctx, entries), "replay is a no-op")

	got, err := ledger.Entries(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.NoError(t, fieldwork.VerifyLedger(got), "mirrored chain verifies")
}
