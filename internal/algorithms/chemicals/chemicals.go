// Package chemicals implements ChemicalsAlgorithm: the 15-minute
// proportional ORP/pH dosing cycle. Grounded on
// original_source/src/algorithms/chemicalsalgorithm.py.
package chemicals

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"github.com/pv/poolcontrold/internal/board"
	"github.com/pv/poolcontrold/internal/repository"
)

const cycleLengthSeconds = 900

// ActuatorControl is the subset of actuator.Control the algorithm drives.
type ActuatorControl interface {
	SetState(ctx context.Context, id board.ActuatorID, state bool, automatic bool) error
	TeoricState(id board.ActuatorID) bool
	PumpAutomatic() bool
	InEmergencyStop() bool
	FilterPumpRealState() bool
}

// Water is the subset of water.Water the algorithm reads.
type Water interface {
	Means() (temp, orp, ph, tds float64, hasTemp, hasOrp, hasPh, hasTds bool)
	Valid() bool
}

// Config is the subset of poolconfig.Config the algorithm reads.
type Config interface {
	PoolOrpMvSetpoint() float64
	PoolPhSetpoint() float64
	OrpAutoInjectionDisabled() bool
	PhAutoInjectionDisabled() bool
	MaxOrpDailySeconds() int
	MaxPhDailySeconds() int
}

// Repository is the subset of repository.Repository the algorithm needs.
type Repository interface {
	UpsertSingle(ctx context.Context, collection string, row repository.Row) error
	FindLatest(ctx context.Context, collection string) (repository.Row, bool, error)
}

// Algorithm is ChemicalsAlgorithm.
type Algorithm struct {
	actuator ActuatorControl
	water    Water
	cfg      Config
	repo     Repository
	tz       *time.Location

	mu sync.Mutex

	cycleSec int

	orpPendingSeconds int
	phPendingSeconds  int
	orpDailySeconds   int
	phDailySeconds    int

	lastDay int
}

// New constructs ChemicalsAlgorithm at the start of an injection phase.
func New(actuator ActuatorControl, w Water, cfg Config, repo Repository, tz *time.Location) *Algorithm {
	now := time.Now()
	if tz != nil {
		now = now.In(tz)
	}
	return &Algorithm{actuator: actuator, water: w, cfg: cfg, repo: repo, tz: tz, lastDay: now.YearDay()}
}

func orpTargetSeconds(err float64) int {
	switch {
	case err > 150:
		return 840
	case err >= 25:
		return int(math.Round(5.28*err - 72))
	case err > 0:
		return 60
	default:
		return 0
	}
}

func phTargetSeconds(err float64) int {
	if err > 0.4 {
		return 840
	}
	v := int(math.Round(1800 * err))
	if v < 0 {
		return 0
	}
	return v
}

// Tick runs one second of the dosing cycle, per §4.10.
func (a *Algorithm) Tick(ctx context.Context, now time.Time) {
	if a.tz != nil {
		now = now.In(a.tz)
	}

	preconditions := !a.actuator.InEmergencyStop() && a.actuator.FilterPumpRealState() &&
		a.actuator.PumpAutomatic() && a.water.Valid()

	if !preconditions {
		if !a.actuator.InEmergencyStop() {
			if a.actuator.TeoricState(board.BleachPump) {
				if err := a.actuator.SetState(ctx, board.BleachPump, false, true); err != nil {
					log.Printf("[chemicals] off bleach failed: %v", err)
				}
			}
			if a.actuator.TeoricState(board.AcidPump) {
				if err := a.actuator.SetState(ctx, board.AcidPump, false, true); err != nil {
					log.Printf("[chemicals] off acid failed: %v", err)
				}
			}
		}
		a.persist(ctx)
		return
	}

	a.mu.Lock()
	if now.YearDay() != a.lastDay {
		a.lastDay = now.YearDay()
		a.orpDailySeconds, a.phDailySeconds = 0, 0
	}
	a.cycleSec++

	if a.cycleSec >= cycleLengthSeconds {
		_, orp, ph, _, _, hasOrp, hasPh, _ := a.water.Means()

		if hasOrp && !a.cfg.OrpAutoInjectionDisabled() {
			a.orpPendingSeconds = orpTargetSeconds(a.cfg.PoolOrpMvSetpoint() - orp)
		} else {
			a.orpPendingSeconds = 0
		}
		if hasPh && !a.cfg.PhAutoInjectionDisabled() {
			a.phPendingSeconds = phTargetSeconds(ph - a.cfg.PoolPhSetpoint())
		} else {
			a.phPendingSeconds = 0
		}
		a.cycleSec = -1
	}

	if a.cfg.OrpAutoInjectionDisabled() || a.orpDailySeconds >= a.cfg.MaxOrpDailySeconds() {
		a.orpPendingSeconds = 0
	}
	if a.cfg.PhAutoInjectionDisabled() || a.phDailySeconds >= a.cfg.MaxPhDailySeconds() {
		a.phPendingSeconds = 0
	}

	wantBleach := a.orpPendingSeconds > 0
	wantAcid := a.phPendingSeconds > 0
	a.mu.Unlock()

	if err := a.actuator.SetState(ctx, board.BleachPump, wantBleach, true); err != nil {
		log.Printf("[chemicals] set bleach failed: %v", err)
	}
	if err := a.actuator.SetState(ctx, board.AcidPump, wantAcid, true); err != nil {
		log.Printf("[chemicals] set acid failed: %v", err)
	}

	a.mu.Lock()
	if wantBleach && a.actuator.TeoricState(board.BleachPump) {
		a.orpPendingSeconds--
		a.orpDailySeconds++
	}
	if wantAcid && a.actuator.TeoricState(board.AcidPump) {
		a.phPendingSeconds--
		a.phDailySeconds++
	}
	a.mu.Unlock()

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
		"cycle_sec":           a.cycleSec,
		"orp_pending_seconds": a.orpPendingSeconds,
		"ph_pending_seconds":  a.phPendingSeconds,
		"orp_daily_seconds":   a.orpDailySeconds,
		"ph_daily_seconds":    a.phDailySeconds,
	}
	a.mu.Unlock()

	row := repository.Row{Datetime: now, Fields: fields}
	if err := a.repo.UpsertSingle(ctx, repository.CollectionChemicalsAlgo, row); err != nil {
		log.Printf("[chemicals] persist failed: %v", err)
	}
}

// Load restores the persisted cycle state.
func (a *Algorithm) Load(ctx context.Context) {
	if a.repo == nil {
		return
	}
	row, ok, err := a.repo.FindLatest(ctx, repository.CollectionChemicalsAlgo)
	if err != nil {
		log.Printf("[chemicals] load failed: %v", err)
		return
	}
	if !ok {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.cycleSec = intField(row.Fields, "cycle_sec")
	a.orpPendingSeconds = intField(row.Fields, "orp_pending_seconds")
	a.phPendingSeconds = intField(row.Fields, "ph_pending_seconds")
	a.orpDailySeconds = intField(row.Fields, "orp_daily_seconds")
	a.phDailySeconds = intField(row.Fields, "ph_daily_seconds")
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
