package fieldwork

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"fieldproof-backend/core/fieldwork"
)

// PGStore persists task aggregates in Postgres.
type PGStore struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewPGStore connects and initializes the schema.
func NewPGStore(ctx context.Context, dsn string, log zerolog.Logger) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := NewSchemaManager(pool).Initialize(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &PGStore{pool: pool, log: log.With().Str("component", "pg_store").Logger()}, nil
}

// Pool exposes the connection pool for components sharing the database.
func (s *PGStore) Pool() *pgxpool.Pool { return s.pool }

func (s *PGStore) Close() { s.pool.Close() }

func workerIDs(agg *fieldwork.Aggregate) []string {
	ids := make([]string, 0, len(agg.Claims))
	seen := make(map[string]struct{}, len(agg.Claims))
	for _, c := range agg.Claims {
		if _, ok := seen[c.WorkerID]; ok {
			continue
		}
		seen[c.WorkerID] = struct{}{}
		ids = append(ids, c.WorkerID)
	}
	return ids
}

func (s *PGStore) Create(ctx context.Context, agg *fieldwork.Aggregate) error {
	agg.Version = 1
	doc, err := json.Marshal(agg)
	if err != nil {
		return fmt.Errorf("marshal aggregate: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO fieldproof_tasks (task_id, requester_id, status, worker_ids, active, version, aggregate, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())
`, agg.Task.TaskID, agg.Task.RequesterID, string(agg.Task.Status), workerIDs(agg), Active(agg), agg.Version, doc, agg.Task.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrTaskExists, agg.Task.TaskID)
	}
	return err
}

func decodeAggregate(doc []byte, version int64) (*fieldwork.Aggregate, error) {
	var agg fieldwork.Aggregate
	if err := json.Unmarshal(doc, &agg); err != nil {
		return nil, fmt.Errorf("decode aggregate: %w", err)
	}
	agg.Version = version
	return &agg, nil
}

func (s *PGStore) Get(ctx context.Context, taskID string) (*fieldwork.Aggregate, error) {
	var doc []byte
	var version int64
	err := s.pool.QueryRow(ctx, `SELECT aggregate, version FROM fieldproof_tasks WHERE task_id=$1`, taskID).Scan(&doc, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: task %s", fieldwork.ErrNotFound, taskID)
	}
	if err != nil {
		return nil, err
	}
	return decodeAggregate(doc, version)
}

// Update locks the row, applies fn and writes the result back with a
// compare-and-set on version. Concurrent updates of one task serialise on
// the row lock; an error from fn rolls back.
func (s *PGStore) Update(ctx context.Context, taskID string, fn func(*fieldwork.Aggregate) error) (*fieldwork.Aggregate, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var doc []byte
	var version int64
	err = tx.QueryRow(ctx, `SELECT aggregate, version FROM fieldproof_tasks WHERE task_id=$1 FOR UPDATE`, taskID).Scan(&doc, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: task %s", fieldwork.ErrNotFound, taskID)
	}
	if err != nil {
		return nil, err
	}
	agg, err := decodeAggregate(doc, version)
	if err != nil {
		return nil, err
	}
	if err := fn(agg); err != nil {
		return nil, err
	}
	agg.Version = version + 1
	next, err := json.Marshal(agg)
	if err != nil {
		return nil, fmt.Errorf("marshal aggregate: %w", err)
	}
	tag, err := tx.Exec(ctx, `
UPDATE fieldproof_tasks
SET status=$2, worker_ids=$3, active=$4, version=$5, aggregate=$6, updated_at=$7
WHERE task_id=$1 AND version=$8
`, taskID, string(agg.Task.Status), workerIDs(agg), Active(agg), agg.Version, next, time.Now().UTC(), version)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() != 1 {
		return nil, fmt.Errorf("%w: task %s at version %d", ErrVersionConflict, taskID, version)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	s.log.Debug().Str("task_id", taskID).Int64("version", agg.Version).Msg("aggregate committed")
	return agg, nil
}

func (s *PGStore) List(ctx context.Context, filter fieldwork.TaskFilter) ([]*fieldwork.Aggregate, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = defaultPageSize
	}
	offset := max(filter.Offset, 0)
	rows, err := s.pool.Query(ctx, `
SELECT aggregate, version FROM fieldproof_tasks
WHERE ($1 = '' OR status = $1)
  AND ($2 = '' OR requester_id = $2)
  AND ($3 = '' OR $3 = ANY(worker_ids))
ORDER BY created_at DESC, task_id
LIMIT $4 OFFSET $5
`, string(filter.Status), filter.RequesterID, filter.WorkerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*fieldwork.Aggregate
	for rows.Next() {
		var doc []byte
		var version int64
		if err := rows.Scan(&doc, &version); err != nil {
			return nil, err
		}
		agg, err := decodeAggregate(doc, version)
		if err != nil {
			return nil, err
		}
		out = append(out, agg)
	}
	return out, rows.Err()
}

func (s *PGStore) ListActive(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT task_id FROM fieldproof_tasks WHERE active ORDER BY task_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
