package fieldwork

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"fieldproof-backend/core/fieldwork"
)

// Dialect selects placeholder syntax for the ledger mirror.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// SQLLedger mirrors committed settlement ledger entries into an
// append-only SQL table for audit and replay.
type SQLLedger struct {
	db      *sql.DB
	dialect Dialect
}

// OpenSQLLedger opens the database with the driver matching the dialect and migrates it.
func OpenSQLLedger(ctx context.Context, dialect Dialect, dsn string) (*SQLLedger, error) {
	driver := "postgres"
	if dialect == DialectSQLite {
		driver = "sqlite"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	l := NewSQLLedger(db, dialect)
	if err := l.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// NewSQLLedger wraps an existing handle.
func NewSQLLedger(db *sql.DB, dialect Dialect) *SQLLedger {
	return &SQLLedger{db: db, dialect: dialect}
}

func (l *SQLLedger) Close() error { return l.db.Close() }

func (l *SQLLedger) rebind(query string) string {
	if l.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS fieldproof_ledger (
  entry_id TEXT PRIMARY KEY,
  task_id TEXT NOT NULL,
  seq INTEGER NOT NULL,
  kind TEXT NOT NULL,
  amount BIGINT NOT NULL,
  currency TEXT NOT NULL,
  reason TEXT NOT NULL,
  lines TEXT NOT NULL,
  at TEXT NOT NULL,
  prev_hash TEXT NOT NULL,
  hash TEXT NOT NULL,
  UNIQUE (task_id, seq)
)`

// Migrate creates the ledger table.
func (l *SQLLedger) Migrate(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, ledgerSchema); err != nil {
		return fmt.Errorf("migrate ledger: %w", err)
	}
	return nil
}

// Append writes entries in one transaction. Entries already present are
// skipped so replays after a crash are harmless.
func (l *SQLLedger) Append(ctx context.Context, entries []fieldwork.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := l.rebind(`INSERT INTO fieldproof_ledger (entry_id, task_id, seq, kind, amount, currency, reason, lines, at, prev_hash, hash)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (entry_id) DO NOTHING`)
	for _, e := range entries {
		lines, err := json.Marshal(e.Lines)
		if err != nil {
			return fmt.Errorf("marshal ledger lines: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query,
			e.EntryID, e.TaskID, e.Seq, string(e.Kind), e.Amount, e.Currency, e.Reason, string(lines),
			e.At.UTC().Format(time.RFC3339Nano), e.PrevHash, e.Hash,
		); err != nil {
			return fmt.Errorf("insert ledger entry %s: %w", e.EntryID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}

// Entries returns the mirrored chain for one task in sequence order.
func (l *SQLLedger) Entries(ctx context.Context, taskID string) ([]fieldwork.LedgerEntry, error) {
	rows, err := l.db.QueryContext(ctx, l.rebind(`SELECT entry_id, task_id, seq, kind, amount, currency, reason, lines, at, prev_hash, hash
FROM fieldproof_ledger WHERE task_id = ? ORDER BY seq`), taskID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []fieldwork.LedgerEntry
	for rows.Next() {
		var e fieldwork.LedgerEntry
		var kind, lines, at string
		if err := rows.Scan(&e.EntryID, &e.TaskID, &e.Seq, &kind, &e.Amount, &e.Currency, &e.Reason, &lines, &at, &e.PrevHash, &e.Hash); err != nil {
			return nil, err
		}
		e.Kind = fieldwork.LedgerKind(kind)
		if err := json.Unmarshal([]byte(lines), &e.Lines); err != nil {
			return nil, fmt.Errorf("decode ledger lines: %w", err)
		}
		if e.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("decode ledger time: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
