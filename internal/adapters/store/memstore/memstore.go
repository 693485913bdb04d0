package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ghalamif/thermoflow/internal/domain"
	"github.com/ghalamif/thermoflow/internal/ports"
)

type key struct {
	source string
	at     int64
}

// Store keeps records in memory. Inserts of an existing (source, capturedAt)
// key are ignored.
type Store struct {
	mu      sync.RWMutex
	records []domain.Record
	index   map[key]struct{}
}

func New() *Store {
	return &Store{index: make(map[key]struct{})}
}

func (s *Store) Name() string { return "memory" }

func (s *Store) Insert(_ context.Context, rec domain.Record) error {
	k := key{source: rec.SourceID, at: rec.CapturedAt.UnixNano()}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[k]; ok {
		return nil
	}
	s.index[k] = struct{}{}
	s.records = append(s.records, rec)
	return nil
}

func (s *Store) All(_ context.Context) ([]domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Record, len(s.records))
	copy(out, s.records)
	return out, nil
}

func (s *Store) BySource(_ context.Context, id string) ([]domain.Record, error) {
	s.mu.RLock()
	out := make([]domain.Record, 0)
	for _, rec := range s.records {
		if rec.SourceID == id {
			out = append(out, rec)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CapturedAt.Before(out[j].CapturedAt)
	})
	return out, nil
}

func (s *Store) Since(_ context.Context, from time.Time) ([]domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Record, 0)
	for _, rec := range s.records {
		if rec.CapturedAt.Before(from) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Len reports how many records are held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

var _ ports.RecordStore = (*Store)(nil)
