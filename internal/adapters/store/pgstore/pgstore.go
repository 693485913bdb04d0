package pgstore

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	_ "github.com/lib/pq"

	"github.com/ghalamif/thermoflow/internal/domain"
	"github.com/ghalamif/thermoflow/internal/ports"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store persists records in a Postgres (or Timescale) table keyed by
// (source_id, captured_at).
type Store struct {
	db        *sql.DB
	tableName string
}

func New(db *sql.DB, table string) (*Store, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("pgstore: invalid table name %q", table)
	}
	return &Store{db: db, tableName: table}, nil
}

// Open connects with lib/pq, verifies the connection and creates the table
// when missing.
func Open(ctx context.Context, connString, table string) (*Store, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, err
	}
	s, err := New(db, table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Name() string { return "postgres" }

func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		"CREATE TABLE IF NOT EXISTS " + s.tableName + " (source_id TEXT NOT NULL, captured_at TIMESTAMPTZ NOT NULL, value DOUBLE PRECISION NOT NULL, PRIMARY KEY (source_id, captured_at))",
		"CREATE INDEX IF NOT EXISTS " + s.tableName + "_captured_at_idx ON " + s.tableName + " (captured_at)",
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("pgstore: ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, rec domain.Record) error {
	// Append-only; a redelivered sample hits the primary key and is ignored.
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO "+s.tableName+" (source_id, captured_at, value) VALUES ($1,$2,$3) ON CONFLICT (source_id, captured_at) DO NOTHING",
		rec.SourceID, rec.CapturedAt.UTC(), rec.Value,
	)
	return err
}

func (s *Store) All(ctx context.Context) ([]domain.Record, error) {
	return s.query(ctx, "SELECT source_id, captured_at, value FROM "+s.tableName)
}

func (s *Store) BySource(ctx context.Context, id string) ([]domain.Record, error) {
	return s.query(ctx, "SELECT source_id, captured_at, value FROM "+s.tableName+" WHERE source_id = $1 ORDER BY captured_at ASC", id)
}

func (s *Store) Since(ctx context.Context, from time.Time) ([]domain.Record, error) {
	return s.query(ctx, "SELECT source_id, captured_at, value FROM "+s.tableName+" WHERE captured_at >= $1", from.UTC())
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]domain.Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Record, 0)
	for rows.Next() {
		var rec domain.Record
		if err := rows.Scan(&rec.SourceID, &rec.CapturedAt, &rec.Value); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.CapturedAt = rec.CapturedAt.UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

var _ ports.RecordStore = (*Store)(nil)
