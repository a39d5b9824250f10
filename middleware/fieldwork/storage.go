package fieldwork

import (
	"context"

	"fieldproof-backend/core/fieldwork"
	"fieldproof-backend/storage/objects"
)

// Store abstracts aggregate persistence. Update must run fn against a
// private copy and commit it atomically with a bumped version.
type Store interface {
	Create(ctx context.Context, agg *fieldwork.Aggregate) error
	Get(ctx context.Context, taskID string) (*fieldwork.Aggregate, error)
	Update(ctx context.Context, taskID string, fn func(*fieldwork.Aggregate) error) (*fieldwork.Aggregate, error)
	List(ctx context.Context, filter fieldwork.TaskFilter) ([]*fieldwork.Aggregate, error)
	ListActive(ctx context.Context) ([]string, error)
	Close()
}

// StorageProvider issues signed URLs and inspects proof artefacts. The
// engine only ever stores keys and hashes.
type StorageProvider interface {
	UploadURL(ctx context.Context, key string) (objects.SignedURL, error)
	DownloadURL(ctx context.Context, key string) (objects.SignedURL, error)
	Stat(ctx context.Context, key string) (objects.ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// LedgerMirror receives committed ledger entries. Append must ignore
// entries it already holds.
type LedgerMirror interface {
	Append(ctx context.Context, entries []fieldwork.LedgerEntry) error
}

// JuryPool lists the jurors eligible for Tier-2 panels.
type JuryPool interface {
	Members() []string
}

// StaticJury is a fixed juror list.
type StaticJury []string

func (j StaticJury) Members() []string { return append([]string(nil), j...) }
