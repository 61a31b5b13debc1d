// Package actuator implements ActuatorControl, the central safety gate
// between every algorithm and the Board: auto/manual mode, the emergency
// interlock, and per-second statistics. Grounded on
// original_source/src/models/actuatorcontrol.py, redesigned per the Design
// Notes to persist the real aux-out state (Open Question #2) rather than
// the source's aliased field.
package actuator

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/pv/poolcontrold/internal/board"
	"github.com/pv/poolcontrold/internal/poolerrors"
	"github.com/pv/poolcontrold/internal/repository"
	"github.com/pv/poolcontrold/internal/tank"
)

// Cause identifies why the system entered emergency stop.
type Cause int

const (
	CauseNone Cause = iota
	CauseButton
	CauseOther
)

func (c Cause) String() string {
	switch c {
	case CauseButton:
		return "button"
	case CauseOther:
		return "other"
	default:
		return "none"
	}
}

type stats struct {
	onTotal        int
	onAuto         int
	onManual       int
	onReal         int // filter pump only
	secSinceLastOn int
}

// Repository is the subset of repository.Repository ActuatorControl needs.
type Repository interface {
	UpsertSingle(ctx context.Context, collection string, row repository.Row) error
	FindLatest(ctx context.Context, collection string) (repository.Row, bool, error)
}

// Control is ActuatorControl.
type Control struct {
	brd         board.Board
	repo        Repository
	bleachTank  *tank.Tank
	acidTank    *tank.Tank
	tz          *time.Location

	mu sync.Mutex

	teoric map[board.ActuatorID]bool
	stat   map[board.ActuatorID]*stats

	filterPumpRealState bool
	pumpAutomatic       bool
	valveAutomatic      bool

	inEmergencyStop bool
	emergencyCause  Cause

	lastDay int
}

// New constructs ActuatorControl. bleachTank/acidTank may be nil if those
// tanks are not wired (e.g. in a minimal test harness).
func New(brd board.Board, repo Repository, bleachTank, acidTank *tank.Tank, tz *time.Location) *Control {
	now := time.Now()
	if tz != nil {
		now = now.In(tz)
	}
	c := &Control{
		brd: brd, repo: repo, bleachTank: bleachTank, acidTank: acidTank, tz: tz,
		teoric:         make(map[board.ActuatorID]bool),
		stat:           make(map[board.ActuatorID]*stats),
		pumpAutomatic:  true,
		valveAutomatic: true,
		lastDay:        now.YearDay(),
	}
	for _, id := range []board.ActuatorID{board.FilterPump, board.BleachPump, board.AcidPump, board.FillValve, board.AuxOut} {
		c.stat[id] = &stats{}
	}
	return c
}

// OnFilterPumpCurrent is fed (through a sensor.Observer that System wires to
// the filter pump's current sensor) so filterPumpRealState tracks
// pump_current > 0, the only
// authoritative "pump is actually running" signal.
func (c *Control) OnFilterPumpCurrent(current float64) {
	c.mu.Lock()
	c.filterPumpRealState = current > 0
	c.mu.Unlock()
}

// FilterPumpRealState reports whether the filter pump is actually drawing current.
func (c *Control) FilterPumpRealState() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filterPumpRealState
}

func isEmergencyGated(id board.ActuatorID) bool {
	return id == board.FilterPump || id == board.BleachPump || id == board.AcidPump
}

func isPumpMode(id board.ActuatorID) bool {
	return id == board.FilterPump || id == board.BleachPump || id == board.AcidPump || id == board.AuxOut
}

// SetState commands an actuator. automatic=false clears the actuator's mode
// flag (pump_automatic for pumps+aux, valve_automatic for the fill valve).
// automatic=true while that flag is already cleared fails with
// ErrManualMode. The emergency interlock rejects filter/bleach/acid
// commands while latched.
func (c *Control) SetState(ctx context.Context, id board.ActuatorID, state bool, automatic bool) error {
	c.mu.Lock()

	if isEmergencyGated(id) && c.inEmergencyStop {
		c.mu.Unlock()
		return poolerrors.ErrEmergencyStop
	}

	if !automatic {
		if isPumpMode(id) {
			c.pumpAutomatic = false
		} else {
			c.valveAutomatic = false
		}
	} else {
		if isPumpMode(id) && !c.pumpAutomatic {
			c.mu.Unlock()
			return poolerrors.ErrManualMode
		}
		if !isPumpMode(id) && !c.valveAutomatic {
			c.mu.Unlock()
			return poolerrors.ErrManualMode
		}
	}

	c.teoric[id] = state
	applyPhysically := !(isEmergencyGated(id) && c.inEmergencyStop)
	c.mu.Unlock()

	if applyPhysically {
		if err := c.brd.SetActuator(ctx, id, state); err != nil {
			if err == board.ErrUnknownActuator {
				return poolerrors.ErrUnknownActuator
			}
			return err
		}
	}
	c.persist(ctx)
	return nil
}

// SetAutomatic re-enables automatic mode for the pump or valve group. This
// is the only way automatic mode is re-entered; no command implicitly does
// it.
func (c *Control) SetAutomatic(ctx context.Context, pumps bool, valve bool) {
	c.mu.Lock()
	c.pumpAutomatic = pumps
	c.valveAutomatic = valve
	c.mu.Unlock()
	c.persist(ctx)
}

func (c *Control) PumpAutomatic() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pumpAutomatic
}

func (c *Control) ValveAutomatic() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.valveAutomatic
}

// TeoricState returns the last commanded state of id.
func (c *Control) TeoricState(id board.ActuatorID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.teoric[id]
}

// InEmergencyStop reports whether the emergency interlock is latched.
func (c *Control) InEmergencyStop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inEmergencyStop
}

// EmergencyStop latches (resume=false) or releases (resume=true) the
// emergency interlock. On latch, filter/bleach/acid are forced OFF at the
// driver while their teoric state is preserved in memory. On release, they
// are re-driven to their preserved teoric states.
func (c *Control) EmergencyStop(ctx context.Context, cause Cause, resume bool) {
	c.mu.Lock()
	if resume {
		c.inEmergencyStop = false
		c.emergencyCause = CauseNone
		teoric := map[board.ActuatorID]bool{
			board.FilterPump: c.teoric[board.FilterPump],
			board.BleachPump: c.teoric[board.BleachPump],
			board.AcidPump:   c.teoric[board.AcidPump],
		}
		c.mu.Unlock()
		for id, state := range teoric {
			if err := c.brd.SetActuator(ctx, id, state); err != nil {
				log.Printf("[actuator] resume: set %s failed: %v", id, err)
			}
		}
	} else {
		c.inEmergencyStop = true
		c.emergencyCause = cause
		c.mu.Unlock()
		for _, id := range []board.ActuatorID{board.FilterPump, board.BleachPump, board.AcidPump} {
			if err := c.brd.SetActuator(ctx, id, false); err != nil {
				log.Printf("[actuator] emergency stop: force off %s failed: %v", id, err)
			}
		}
	}
	c.persist(ctx)
}

// Stats returns a snapshot of one actuator's daily counters.
func (c *Control) Stats(id board.ActuatorID) (onTotal, onAuto, onManual, onReal, secSinceLastOn int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stat[id]
	return s.onTotal, s.onAuto, s.onManual, s.onReal, s.secSinceLastOn
}

// Tick runs the per-second statistics timer described in §4.7.
func (c *Control) Tick(ctx context.Context, now time.Time) {
	if c.tz != nil {
		now = now.In(c.tz)
	}

	c.mu.Lock()
	dayChanged := now.YearDay() != c.lastDay
	if dayChanged {
		c.lastDay = now.YearDay()
		for _, s := range c.stat {
			s.onTotal, s.onAuto, s.onManual, s.onReal = 0, 0, 0, 0
		}
	}

	dosers := map[board.ActuatorID]*tank.Tank{
		board.BleachPump: c.bleachTank,
		board.AcidPump:   c.acidTank,
	}

	for id, s := range c.stat {
		on := c.teoric[id]
		if id == board.FilterPump && c.inEmergencyStop {
			on = false
		}
		if isEmergencyGated(id) && c.inEmergencyStop {
			s.secSinceLastOn = 0
			continue
		}

		// sec_since_last_on gates Water's validity window (water.go), which
		// must reflect actual circulation, not merely a commanded state. For
		// the filter pump it tracks the current-sensed real state; every
		// other actuator has no independent real-state reading, so it tracks
		// the commanded (teoric) state.
		realOn := on
		if id == board.FilterPump {
			realOn = c.filterPumpRealState
		}
		if realOn {
			s.secSinceLastOn++
		} else {
			s.secSinceLastOn = 0
		}

		if !on {
			continue
		}
		if dayChanged {
			continue
		}
		if c.isAutomatic(id) {
			s.onAuto++
		} else {
			s.onManual++
		}
		s.onTotal = s.onAuto + s.onManual
		if id == board.FilterPump && c.filterPumpRealState {
			s.onReal++
		}
		if t, ok := dosers[id]; ok && t != nil {
			c.mu.Unlock()
			t.DecreaseValue(ctx, tank.TankSecDecreaseValueLiters)
			c.mu.Lock()
		}
	}
	c.mu.Unlock()

	c.persist(ctx)
}

func (c *Control) isAutomatic(id board.ActuatorID) bool {
	if isPumpMode(id) {
		return c.pumpAutomatic
	}
	return c.valveAutomatic
}

func (c *Control) persist(ctx context.Context) {
	if c.repo == nil {
		return
	}
	now := time.Now()
	if c.tz != nil {
		now = now.In(c.tz)
	}

	c.mu.Lock()
	fields := map[string]any{
		"teoric_filter_pump": c.teoric[board.FilterPump],
		"teoric_bleach_pump": c.teoric[board.BleachPump],
		"teoric_acid_pump":   c.teoric[board.AcidPump],
		"teoric_fill_valve":  c.teoric[board.FillValve],
		"teoric_aux_out":     c.teoric[board.AuxOut],
		"pump_automatic":     c.pumpAutomatic,
		"valve_automatic":    c.valveAutomatic,
		"in_emergency_stop":  c.inEmergencyStop,
		"emergency_cause":    c.emergencyCause.String(),
	}
	for id, s := range c.stat {
		prefix := id.String()
		fields[prefix+"_on_total"] = s.onTotal
		fields[prefix+"_on_auto"] = s.onAuto
		fields[prefix+"_on_manual"] = s.onManual
		fields[prefix+"_on_real"] = s.onReal
		fields[prefix+"_sec_since_last_on"] = s.secSinceLastOn
	}
	c.mu.Unlock()

	row := repository.Row{Datetime: now, Fields: fields}
	if err := c.repo.UpsertSingle(ctx, repository.CollectionActuatorControl, row); err != nil {
		log.Printf("[actuator] persist failed: %v", err)
	}
}

// Load restores persisted state on startup. The mode flags and teoric
// states are always restored and the teoric states are replayed to the
// board; the daily counters are restored only if the loaded row's day
// equals today, otherwise they start fresh. The emergency latch is not
// restored or reconciled here: after Load it stays as it was (unlatched at
// startup) until the emergency-stop sensor reports.
func (c *Control) Load(ctx context.Context) {
	if c.repo == nil {
		return
	}
	row, ok, err := c.repo.FindLatest(ctx, repository.CollectionActuatorControl)
	if err != nil {
		log.Printf("[actuator] load failed: %v", err)
		return
	}
	if !ok {
		return
	}

	now := time.Now()
	if c.tz != nil {
		now = now.In(c.tz)
	}
	sameDay := row.Datetime.YearDay() == now.YearDay() && row.Datetime.Year() == now.Year()

	c.mu.Lock()
	if b, ok := row.Fields["pump_automatic"].(bool); ok {
		c.pumpAutomatic = b
	}
	if b, ok := row.Fields["valve_automatic"].(bool); ok {
		c.valveAutomatic = b
	}
	c.teoric[board.FilterPump], _ = row.Fields["teoric_filter_pump"].(bool)
	c.teoric[board.BleachPump], _ = row.Fields["teoric_bleach_pump"].(bool)
	c.teoric[board.AcidPump], _ = row.Fields["teoric_acid_pump"].(bool)
	c.teoric[board.FillValve], _ = row.Fields["teoric_fill_valve"].(bool)
	c.teoric[board.AuxOut], _ = row.Fields["teoric_aux_out"].(bool)

	if sameDay {
		for _, id := range []board.ActuatorID{board.FilterPump, board.BleachPump, board.AcidPump, board.FillValve, board.AuxOut} {
			prefix := id.String()
			s := c.stat[id]
			s.onTotal = intField(row.Fields, prefix+"_on_total")
			s.onAuto = intField(row.Fields, prefix+"_on_auto")
			s.onManual = intField(row.Fields, prefix+"_on_manual")
			s.onReal = intField(row.Fields, prefix+"_on_real")
			s.secSinceLastOn = intField(row.Fields, prefix+"_sec_since_last_on")
		}
	}
	teoricSnapshot := map[board.ActuatorID]bool{
		board.FilterPump: c.teoric[board.FilterPump],
		board.BleachPump: c.teoric[board.BleachPump],
		board.AcidPump:   c.teoric[board.AcidPump],
		board.FillValve:  c.teoric[board.FillValve],
		board.AuxOut:     c.teoric[board.AuxOut],
	}
	c.mu.Unlock()

	for id, state := range teoricSnapshot {
		if err := c.brd.SetActuator(ctx, id, state); err != nil {
			log.Printf("[actuator] load: replay %s failed: %v", id, err)
		}
	}
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
