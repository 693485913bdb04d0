package pgstore

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ghalamif/thermoflow/internal/domain"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := New(db, "telemetry_records")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s, mock
}

func TestInsert(t *testing.T) {
	s, mock := newMockStore(t)
	ts := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	expectedQuery := regexp.QuoteMeta("INSERT INTO telemetry_records (source_id, captured_at, value) VALUES ($1,$2,$3) ON CONFLICT (source_id, captured_at) DO NOTHING")
	mock.ExpectExec(expectedQuery).
		WithArgs("sensor-1", ts, 21.5).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := s.Insert(context.Background(), domain.Record{SourceID: "sensor-1", Value: 21.5, CapturedAt: ts}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInsertPropagatesError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO telemetry_records").WillReturnError(errors.New("connection refused"))

	if err := s.Insert(context.Background(), domain.Record{SourceID: "s", CapturedAt: time.Now()}); err == nil {
		t.Fatalf("expected insert error")
	}
}

func TestBySourceOrdersByCaptureTime(t *testing.T) {
	s, mock := newMockStore(t)
	ts := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"source_id", "captured_at", "value"}).
		AddRow("sensor-1", ts, 21.0).
		AddRow("sensor-1", ts.Add(2*time.Second), 21.1)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT source_id, captured_at, value FROM telemetry_records WHERE source_id = $1 ORDER BY captured_at ASC")).
		WithArgs("sensor-1").
		WillReturnRows(rows)

	got, err := s.BySource(context.Background(), "sensor-1")
	if err != nil {
		t.Fatalf("by source: %v", err)
	}
	if len(got) != 2 || got[1].Value != 21.1 || !got[0].CapturedAt.Equal(ts) {
		t.Fatalf("unexpected records %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSinceUsesInclusiveLowerBound(t *testing.T) {
	s, mock := newMockStore(t)
	from := time.Date(2024, 1, 1, 9, 55, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT source_id, captured_at, value FROM telemetry_records WHERE captured_at >= $1")).
		WithArgs(from).
		WillReturnRows(sqlmock.NewRows([]string{"source_id", "captured_at", "value"}).AddRow("a", from, 1.0))

	got, err := s.Since(context.Background(), from)
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(got) != 1 || got[0].SourceID != "a" {
		t.Fatalf("unexpected records %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAllFailsWholeResultOnRowError(t *testing.T) {
	s, mock := newMockStore(t)
	ts := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"source_id", "captured_at", "value"}).
		AddRow("a", ts, 1.0).
		AddRow("b", ts, 2.0).
		RowError(1, errors.New("connection reset"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT source_id, captured_at, value FROM telemetry_records")).WillReturnRows(rows)

	got, err := s.All(context.Background())
	if err == nil {
		t.Fatalf("expected error, got %+v", got)
	}
	if got != nil {
		t.Fatalf("expected no partial result, got %+v", got)
	}
}

func TestEnsureSchema(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS telemetry_records")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX IF NOT EXISTS telemetry_records_captured_at_idx")).WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestNewRejectsInvalidTable(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	if _, err := New(db, "records; DROP TABLE x"); err == nil {
		t.Fatalf("expected invalid table name error")
	}
	s, err := New(db, "records")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.Name() != "postgres" {
		t.Fatalf("expected store name postgres, got %s", s.Name())
	}
}
