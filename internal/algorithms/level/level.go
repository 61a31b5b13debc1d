// Package level implements LevelAlgorithm: the automatic refill
// state machine gated by two water-level switches and a daily volume cap.
// Grounded on original_source/src/algorithms/levelalgorithm.py.
package level

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/pv/poolcontrold/internal/board"
	"github.com/pv/poolcontrold/internal/repository"
)

// State is LevelAlgorithm's two-state machine.
type State int

const (
	WaitingForFill State = iota
	Filling
)

func (s State) String() string {
	if s == Filling {
		return "filling"
	}
	return "waiting_for_fill"
}

// ActuatorControl is the subset of actuator.Control the algorithm drives.
type ActuatorControl interface {
	SetState(ctx context.Context, id board.ActuatorID, state bool, automatic bool) error
	ValveAutomatic() bool
}

// Water is the subset of water.Water the algorithm reads.
type Water interface {
	Level(i int) bool
}

// FlowSensor is the subset of sensor.FlowSensor the algorithm reads.
type FlowSensor interface {
	DailyVolume() float64
}

// Config is the subset of poolconfig.Config the algorithm reads.
type Config interface {
	FillStartLevel() int
	FillEndLevel() int
	MaxDailyWaterVolumeM3() float64
	FillVolumeBetweenChecks() float64
	FillSecondsWait() int
}

// Repository is the subset of repository.Repository the algorithm needs.
type Repository interface {
	UpsertSingle(ctx context.Context, collection string, row repository.Row) error
	FindLatest(ctx context.Context, collection string) (repository.Row, bool, error)
}

// Sleeper abstracts time.Sleep so tests can avoid real waits.
type Sleeper func(d time.Duration)

// Algorithm is LevelAlgorithm.
type Algorithm struct {
	actuator ActuatorControl
	water    Water
	flow     FlowSensor
	cfg      Config
	repo     Repository
	tz       *time.Location
	sleep    Sleeper

	mu sync.Mutex

	state             State
	startVolume       float64
	dailyFilledVolume float64
	lastDay           int
}

// New constructs LevelAlgorithm in WaitingForFill.
func New(actuator ActuatorControl, w Water, flow FlowSensor, cfg Config, repo Repository, tz *time.Location) *Algorithm {
	now := time.Now()
	if tz != nil {
		now = now.In(tz)
	}
	return &Algorithm{
		actuator: actuator, water: w, flow: flow, cfg: cfg, repo: repo, tz: tz,
		sleep: time.Sleep, lastDay: now.YearDay(),
	}
}

// SetSleeper overrides the synchronous wait used between fill checks, for testing.
func (a *Algorithm) SetSleeper(s Sleeper) { a.sleep = s }

func (a *Algorithm) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Tick runs one second (or one check cycle) of the refill state machine per §4.11.
// It may block synchronously for FillSecondsWait while in Filling, matching the
// source's scheduler-task-blocks-here design.
func (a *Algorithm) Tick(ctx context.Context, now time.Time) {
	if a.tz != nil {
		now = now.In(a.tz)
	}
	if !a.actuator.ValveAutomatic() {
		return
	}

	a.mu.Lock()
	if now.YearDay() != a.lastDay {
		a.lastDay = now.YearDay()
		a.dailyFilledVolume = 0
	}
	state := a.state
	dailyCap := a.cfg.MaxDailyWaterVolumeM3()
	capExceeded := a.dailyFilledVolume >= dailyCap
	a.mu.Unlock()

	switch state {
	case WaitingForFill:
		if err := a.actuator.SetState(ctx, board.FillValve, false, true); err != nil {
			log.Printf("[level] ensure valve off failed: %v", err)
		}
		if !a.water.Level(a.cfg.FillStartLevel()) && !capExceeded {
			a.mu.Lock()
			a.startVolume = a.flow.DailyVolume()
			a.state = Filling
			a.mu.Unlock()
			if err := a.actuator.SetState(ctx, board.FillValve, true, true); err != nil {
				log.Printf("[level] open valve failed: %v", err)
			}
		}

	case Filling:
		if err := a.actuator.SetState(ctx, board.FillValve, true, true); err != nil {
			log.Printf("[level] ensure valve on failed: %v", err)
		}

		a.mu.Lock()
		diff := a.flow.DailyVolume() - a.startVolume
		if diff < 0 {
			a.startVolume = a.flow.DailyVolume()
			diff = 0
		}
		a.dailyFilledVolume += diff
		threshold := a.cfg.FillVolumeBetweenChecks()
		dailyNow := a.dailyFilledVolume
		a.mu.Unlock()

		if dailyNow >= dailyCap {
			if err := a.actuator.SetState(ctx, board.FillValve, false, true); err != nil {
				log.Printf("[level] close valve (cap) failed: %v", err)
			}
			a.mu.Lock()
			a.state = WaitingForFill
			a.mu.Unlock()
			break
		}

		if diff >= threshold {
			if err := a.actuator.SetState(ctx, board.FillValve, false, true); err != nil {
				log.Printf("[level] close valve (check) failed: %v", err)
			}
			a.sleep(time.Duration(a.cfg.FillSecondsWait()) * time.Second)

			if a.water.Level(a.cfg.FillEndLevel()) {
				a.mu.Lock()
				a.state = WaitingForFill
				a.mu.Unlock()
			} else {
				a.mu.Lock()
				a.startVolume = a.flow.DailyVolume()
				a.mu.Unlock()
				if err := a.actuator.SetState(ctx, board.FillValve, true, true); err != nil {
					log.Printf("[level] reopen valve failed: %v", err)
				}
			}
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
		"start_volume":        a.startVolume,
		"daily_filled_volume": a.dailyFilledVolume,
	}
	a.mu.Unlock()

	row := repository.Row{Datetime: now, Fields: fields}
	if err := a.repo.UpsertSingle(ctx, repository.CollectionLevelAlgo, row); err != nil {
		log.Printf("[level] persist failed: %v", err)
	}
}

// Load restores persisted state.
func (a *Algorithm) Load(ctx context.Context) {
	if a.repo == nil {
		return
	}
	row, ok, err := a.repo.FindLatest(ctx, repository.CollectionLevelAlgo)
	if err != nil {
		log.Printf("[level] load failed: %v", err)
		return
	}
	if !ok {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := row.Fields["state"].(string); ok && s == Filling.String() {
		a.state = Filling
	}
	a.startVolume = floatField(row.Fields, "start_volume")
	a.dailyFilledVolume = floatField(row.Fields, "daily_filled_volume")
}

func floatField(fields map[string]any, key string) float64 {
	v, _ := fields[key].(float64)
	return v
}
