// Package tank implements ChemicalTank: a liter counter for the bleach and
// acid dosing reservoirs. Grounded on
// original_source/src/models/chemicaltank.py.
package tank

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/pv/poolcontrold/internal/repository"
)

// Kind identifies which chemical a tank holds.
type Kind string

const (
	KindBleach Kind = "bleach"
	KindAcid   Kind = "acid"
)

// TankSecDecreaseValueLiters is the per-second consumption of a dosing pump
// while ON: 4 liters per hour, expressed per second.
const TankSecDecreaseValueLiters = 4.0 / 3600.0

// Repository is the subset of repository.Repository a Tank needs.
type Repository interface {
	UpsertSingle(ctx context.Context, collection string, row repository.Row) error
	FindLatest(ctx context.Context, collection string) (repository.Row, bool, error)
}

// Tank is a ChemicalTank instance.
type Tank struct {
	kind        Kind
	maxCapacity float64
	repo        Repository
	tz          *time.Location

	mu        sync.Mutex
	currentL  float64
	timestamp time.Time
}

func collectionFor(kind Kind) string { return repository.CollectionChemicalTank + ":" + string(kind) }

// New creates a Tank, starting full.
func New(kind Kind, maxCapacity float64, repo Repository, tz *time.Location) *Tank {
	return &Tank{kind: kind, maxCapacity: maxCapacity, currentL: maxCapacity, repo: repo, tz: tz}
}

// Load restores persisted state, or leaves the tank full if none exists.
func (t *Tank) Load(ctx context.Context) {
	if t.repo == nil {
		return
	}
	row, ok, err := t.repo.FindLatest(ctx, collectionFor(t.kind))
	if err != nil {
		log.Printf("[tank:%s] load failed: %v", t.kind, err)
		return
	}
	if !ok {
		return
	}
	if v, ok := row.Fields["current_l"].(float64); ok {
		t.mu.Lock()
		t.currentL = v
		t.timestamp = row.Datetime
		t.mu.Unlock()
	}
}

// CurrentLiters returns the current level.
func (t *Tank) CurrentLiters() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentL
}

// MaxCapacity returns the tank's maximum capacity in liters.
func (t *Tank) MaxCapacity() float64 { return t.maxCapacity }

// SetValue sets the absolute level and persists.
func (t *Tank) SetValue(ctx context.Context, liters float64) {
	t.mutate(ctx, func() { t.currentL = liters })
}

// DecreaseValue subtracts x liters. The level may go negative (operator
// visible only — this is not clamped, matching the source's behavior).
func (t *Tank) DecreaseValue(ctx context.Context, x float64) {
	t.mutate(ctx, func() { t.currentL -= x })
}

// Refill sets the level back to max capacity.
func (t *Tank) Refill(ctx context.Context) {
	t.mutate(ctx, func() { t.currentL = t.maxCapacity })
}

func (t *Tank) mutate(ctx context.Context, fn func()) {
	now := time.Now()
	if t.tz != nil {
		now = now.In(t.tz)
	}

	t.mu.Lock()
	fn()
	t.timestamp = now
	current := t.currentL
	t.mu.Unlock()

	if t.repo == nil {
		return
	}
	row := repository.Row{
		Datetime: now,
		Fields: map[string]any{
			"tank_type":    string(t.kind),
			"current_l":    current,
			"max_capacity": t.maxCapacity,
		},
	}
	if err := t.repo.UpsertSingle(ctx, collectionFor(t.kind), row); err != nil {
		log.Printf("[tank:%s] persist failed: %v", t.kind, err)
	}
}
