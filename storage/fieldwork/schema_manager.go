package fieldwork

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SchemaManager handles database schema migrations
type SchemaManager struct {
	pool *pgxpool.Pool
}

// NewSchemaManager creates a new schema manager
func NewSchemaManager(pool *pgxpool.Pool) *SchemaManager {
	return &SchemaManager{pool: pool}
}

// Initialize creates the database schema
func (m *SchemaManager) Initialize(ctx context.Context) error {
	_, err := m.pool.Exec(ctx, aggregateSchema)
	return err
}

const aggregateSchema = `
-- One row per task aggregate; the JSONB document is the source of truth,
-- the scalar columns exist for filtering and sweeping.
CREATE TABLE IF NOT EXISTS fieldproof_tasks (
  task_id TEXT PRIMARY KEY,
  requester_id TEXT NOT NULL,
  status TEXT NOT NULL,
  worker_ids TEXT[] NOT NULL DEFAULT '{}',
  active BOOLEAN NOT NULL DEFAULT true,
  version BIGINT NOT NULL,
  aggregate JSONB NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_fieldproof_tasks_status ON fieldproof_tasks(status);
CREATE INDEX IF NOT EXISTS idx_fieldproof_tasks_requester ON fieldproof_tasks(requester_id);
CREATE INDEX IF NOT EXISTS idx_fieldproof_tasks_active ON fieldproof_tasks(active) WHERE active;
CREATE INDEX IF NOT EXISTS idx_fieldproof_tasks_workers ON fieldproof_tasks USING GIN(worker_ids);
`
