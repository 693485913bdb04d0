package ports

import (
	"context"
	"time"

	"github.com/ghalamif/thermoflow/internal/domain"
)

// RecordStore is the durable time-series storage used by the persister.
type RecordStore interface {
	Insert(ctx context.Context, rec domain.Record) error
	All(ctx context.Context) ([]domain.Record, error)
	// BySource returns records for id ordered by CapturedAt ascending.
	BySource(ctx context.Context, id string) ([]domain.Record, error)
	// Since returns records with CapturedAt >= from.
	Since(ctx context.Context, from time.Time) ([]domain.Record, error)
	Name() string
}

// WindowSource fetches the serialized window query result from the store
// service. The payload is opaque to the caller.
type WindowSource interface {
	FetchWindow(ctx context.Context) ([]byte, error)
}
