// Package filterpressure adapts the original's physical Filter model
// (original_source/src/models/filter.py): a passive monitor that tracks the
// last-known pressure reading off one physical filter stage (sand or
// diatoms) and persists it to its own append-only collection. It is not a
// control algorithm — it has no actuator, no state machine — it only keeps
// the last observed pressure, readable through Pressure(). The diagnostics
// snapshot does not include it.
package filterpressure

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/pv/poolcontrold/internal/repository"
)

// Kind identifies which physical filter stage is being monitored.
type Kind string

const (
	KindSand    Kind = "sand filter"
	KindDiatoms Kind = "diatom filter"
)

// Repository is the subset of repository.Repository a Monitor needs.
type Repository interface {
	Insert(ctx context.Context, collection string, row repository.Row) error
}

// Monitor tracks the last-known pressure reading for one filter stage.
type Monitor struct {
	kind Kind
	repo Repository
	tz   *time.Location

	mu       sync.Mutex
	pressure float64
	isOK     bool
}

// New constructs a Monitor for the given filter stage.
func New(kind Kind, repo Repository, tz *time.Location) *Monitor {
	return &Monitor{kind: kind, repo: repo, tz: tz}
}

// OnPressure records a new pressure reading and appends it to the filter
// pressure history collection. Invalid (out-of-range) readings are ignored,
// matching the original's is_ok guard.
func (m *Monitor) OnPressure(ctx context.Context, value float64, isOK bool) {
	if !isOK {
		return
	}
	m.mu.Lock()
	m.pressure = value
	m.isOK = true
	m.mu.Unlock()

	if m.repo == nil {
		return
	}
	now := time.Now()
	if m.tz != nil {
		now = now.In(m.tz)
	}
	row := repository.Row{
		Collection: repository.CollectionFilterData,
		Datetime:   now,
		Fields:     map[string]any{"type": string(m.kind), "pressure": value},
	}
	if err := m.repo.Insert(ctx, repository.CollectionFilterData, row); err != nil {
		log.Printf("[filterpressure:%s] insert failed: %v", m.kind, err)
	}
}

// Pressure returns the last recorded pressure and whether one has ever been
// recorded.
func (m *Monitor) Pressure() (value float64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pressure, m.isOK
}
