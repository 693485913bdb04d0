package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/ghalamif/thermoflow/internal/domain"
)

func TestInsertIgnoresDuplicateKey(t *testing.T) {
	s := New()
	ctx := context.Background()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	rec := domain.Record{SourceID: "s1", Value: 1, CapturedAt: ts}
	if err := s.Insert(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.Insert(ctx, rec); err != nil {
		t.Fatalf("duplicate insert: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 record, got %d", s.Len())
	}
}

func TestBySourceOrdersAscending(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, rec := range []domain.Record{
		{SourceID: "s1", Value: 3, CapturedAt: base.Add(3 * time.Second)},
		{SourceID: "s2", Value: 9, CapturedAt: base.Add(2 * time.Second)},
		{SourceID: "s1", Value: 1, CapturedAt: base.Add(1 * time.Second)},
	} {
		if err := s.Insert(ctx, rec); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	got, err := s.BySource(ctx, "s1")
	if err != nil {
		t.Fatalf("by source: %v", err)
	}
	if len(got) != 2 || got[0].Value != 1 || got[1].Value != 3 {
		t.Fatalf("unexpected order: %+v", got)
	}

	none, err := s.BySource(ctx, "missing")
	if err != nil || len(none) != 0 {
		t.Fatalf("expected empty result, got %+v err=%v", none, err)
	}
}

func TestSinceIsInclusive(t *testing.T) {
	s := New()
	ctx := context.Background()
	from := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	for _, rec := range []domain.Record{
		{SourceID: "s1", Value: 1, CapturedAt: from.Add(-time.Millisecond)},
		{SourceID: "s1", Value: 2, CapturedAt: from},
		{SourceID: "s1", Value: 3, CapturedAt: from.Add(time.Minute)},
	} {
		if err := s.Insert(ctx, rec); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	got, err := s.Since(ctx, from)
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(got) != 2 || got[0].Value != 2 || got[1].Value != 3 {
		t.Fatalf("expected boundary record to be included, got %+v", got)
	}
}
