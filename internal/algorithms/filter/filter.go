// Package filter implements FilterAlgorithm: the daily filtration-seconds
// budget derived from water temperature, and the two-state machine that
// spends it during the allowed hours. Grounded on
// original_source/src/algorithms/filteralgorithm.py.
package filter

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"github.com/pv/poolcontrold/internal/board"
	"github.com/pv/poolcontrold/internal/repository"
)

// State is FilterAlgorithm's two-state machine.
type State int

const (
	WaitingDailyCycle State = iota
	Filtering
)

func (s State) String() string {
	if s == Filtering {
		return "filtering"
	}
	return "waiting_daily_cycle"
}

// ActuatorControl is the subset of actuator.Control the algorithm drives.
type ActuatorControl interface {
	SetState(ctx context.Context, id board.ActuatorID, state bool, automatic bool) error
	TeoricState(id board.ActuatorID) bool
	PumpAutomatic() bool
	InEmergencyStop() bool
	FilterPumpRealState() bool
}

// Config is the subset of poolconfig.Config the algorithm reads.
type Config interface {
	PoolHydrodynamicFactor() int
	PoolRecirculationPeriod() int
	DailyFilterAllowedHours() map[int]struct{}
}

// Repository is the subset of repository.Repository the algorithm needs.
type Repository interface {
	UpsertSingle(ctx context.Context, collection string, row repository.Row) error
	FindLatest(ctx context.Context, collection string) (repository.Row, bool, error)
}

// Algorithm is FilterAlgorithm.
type Algorithm struct {
	actuator ActuatorControl
	cfg      Config
	repo     Repository
	tz       *time.Location

	mu sync.Mutex

	state             State
	totalDailySeconds int
	remaining         int
	lastDay           int
}

// New constructs FilterAlgorithm in WaitingDailyCycle with a zero budget;
// the first temperature sample establishes the day's target.
func New(actuator ActuatorControl, cfg Config, repo Repository, tz *time.Location) *Algorithm {
	now := time.Now()
	if tz != nil {
		now = now.In(tz)
	}
	return &Algorithm{actuator: actuator, cfg: cfg, repo: repo, tz: tz, lastDay: now.YearDay()}
}

// kFactor implements the piecewise temperature coefficient of §4.9.
func kFactor(temp float64) float64 {
	switch {
	case temp > 15:
		return 1
	case temp >= 13:
		return 0.5
	case temp >= 10:
		return 1.0 / 3.0
	case temp >= 6:
		return 0.25
	default:
		return 0.15
	}
}

// OnTemperature recomputes the daily seconds budget from a new temperature
// reading and applies the delta to the remaining counter.
func (a *Algorithm) OnTemperature(temp float64) {
	k := kFactor(temp)

	a.mu.Lock()
	defer a.mu.Unlock()

	hf := a.cfg.PoolHydrodynamicFactor()
	rp := a.cfg.PoolRecirculationPeriod()
	if hf <= 0 {
		hf = 1
	}
	newTotal := int(math.Ceil(k * (temp / float64(hf)) * float64(rp) * 3600))

	delta := newTotal - a.totalDailySeconds
	a.totalDailySeconds = newTotal
	a.remaining += delta
}

// RemainingSeconds returns the current remaining filtration budget for the day.
func (a *Algorithm) RemainingSeconds() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.remaining
}

func (a *Algorithm) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Tick runs the per-second state machine described in §4.9.
func (a *Algorithm) Tick(ctx context.Context, now time.Time) {
	if a.tz != nil {
		now = now.In(a.tz)
	}

	a.mu.Lock()
	if now.YearDay() != a.lastDay {
		a.lastDay = now.YearDay()
		a.remaining = a.totalDailySeconds
	}

	hour := now.Hour()
	allowed := a.cfg.DailyFilterAllowedHours()
	_, inWindow := allowed[hour]
	automatic := a.actuator.PumpAutomatic()
	emergency := a.actuator.InEmergencyStop()
	remaining := a.remaining
	state := a.state
	a.mu.Unlock()

	switch state {
	case WaitingDailyCycle:
		if remaining > 0 && inWindow && !emergency && automatic {
			if err := a.actuator.SetState(ctx, board.FilterPump, true, true); err != nil {
				log.Printf("[filter] command on failed: %v", err)
				return
			}
			a.mu.Lock()
			a.state = Filtering
			a.mu.Unlock()
		} else if a.actuator.TeoricState(board.FilterPump) && !inWindow && automatic {
			if err := a.actuator.SetState(ctx, board.FilterPump, false, true); err != nil {
				log.Printf("[filter] command off failed: %v", err)
			}
		}
	case Filtering:
		if remaining > 0 && inWindow && automatic {
			if a.actuator.FilterPumpRealState() {
				a.mu.Lock()
				a.remaining--
				a.mu.Unlock()
			}
		} else {
			if err := a.actuator.SetState(ctx, board.FilterPump, false, true); err != nil {
				log.Printf("[filter] command off failed: %v", err)
			}
			a.mu.Lock()
			a.state = WaitingDailyCycle
			a.mu.Unlock()
		}
	}

	a.persist(ctx)
}

func (a *Algorithm) persist(ctx context.Context) {
	if a.repo == nil {
		return
	}
	now := time.Now()
	if a.tz != nil {
		now = now.In(a.tz)
	}

	a.mu.Lock()
	fields := map[string]any{
		"state":               a.state.String(),
		"total_daily_seconds": a.totalDailySeconds,
		"remaining_seconds":   a.remaining,
	}
	a.mu.Unlock()

	row := repository.Row{Datetime: now, Fields: fields}
	if err := a.repo.UpsertSingle(ctx, repository.CollectionFilterAlgo, row); err != nil {
		log.Printf("[filter] persist failed: %v", err)
	}
}

// Load restores the persisted budget and state. Counters are always
// restored verbatim (Tick's day-rollover check re-derives the daily target
// from the next temperature sample if the day has turned over).
func (a *Algorithm) Load(ctx context.Context) {
	if a.repo == nil {
		return
	}
	row, ok, err := a.repo.FindLatest(ctx, repository.CollectionFilterAlgo)
	if err != nil {
		log.Printf("[filter] load failed: %v", err)
		return
	}
	if !ok {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := row.Fields["state"].(string); ok && s == Filtering.String() {
		a.state = Filtering
	}
	a.totalDailySeconds = intField(row.Fields, "total_daily_seconds")
	a.remaining = intField(row.Fields, "remaining_seconds")
	saved := row.Datetime
	if a.tz != nil {
		saved = saved.In(a.tz)
	}
	a.lastDay = saved.YearDay()
}

func intField(fields map[string]any, key string) int {
	switch v := fields[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
