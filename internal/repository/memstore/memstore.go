// Package memstore is the default, always-available Repository backend: a
// process-local map. Grounded on the teacher's internal/storage/memstore
// convenience store (always available, no external service required to
// boot) but repurposed from a deterministic data generator into a real,
// mutable single-row/append-only document store for tests and demo mode.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/pv/poolcontrold/internal/repository"
)

// Store is a goroutine-safe in-memory Repository.
type Store struct {
	mu   sync.Mutex
	rows map[string][]repository.Row
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{rows: make(map[string][]repository.Row)}
}

func (s *Store) FindLatest(_ context.Context, collection string) (repository.Row, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.rows[collection]
	if len(rows) == 0 {
		return repository.Row{}, false, nil
	}
	latest := rows[0]
	for _, r := range rows[1:] {
		if r.Datetime.After(latest.Datetime) {
			latest = r
		}
	}
	return cloneRow(latest), true, nil
}

func (s *Store) UpsertSingle(_ context.Context, collection string, row repository.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[collection] = []repository.Row{cloneRow(row)}
	return nil
}

func (s *Store) Insert(_ context.Context, collection string, row repository.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[collection] = append(s.rows[collection], cloneRow(row))
	return nil
}

func (s *Store) Close() error { return nil }

// All returns every row in a collection, sorted by Datetime ascending. Used
// by tests; not part of the Repository interface.
func (s *Store) All(collection string) []repository.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]repository.Row, len(s.rows[collection]))
	copy(out, s.rows[collection])
	sort.Slice(out, func(i, j int) bool { return out[i].Datetime.Before(out[j].Datetime) })
	return out
}

func cloneRow(r repository.Row) repository.Row {
	fields := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	return repository.Row{Collection: r.Collection, Datetime: r.Datetime, Fields: fields}
}
