package filter

import (
	"context"
	"testing"
	"time"

	"github.com/pv/poolcontrold/internal/board"
	"github.com/pv/poolcontrold/internal/repository/memstore"
)

type fakeActuator struct {
	filterOn   bool
	automatic  bool
	emergency  bool
	realState  bool
}

func (f *fakeActuator) SetState(_ context.Context, id board.ActuatorID, state bool, _ bool) error {
	if id == board.FilterPump {
		f.filterOn = state
	}
	return nil
}
func (f *fakeActuator) TeoricState(id board.ActuatorID) bool { return f.filterOn }
func (f *fakeActuator) PumpAutomatic() bool                  { return f.automatic }
func (f *fakeActuator) InEmergencyStop() bool                { return f.emergency }
func (f *fakeActuator) FilterPumpRealState() bool             { return f.realState }

type fakeConfig struct {
	hydro, recirc int
	allowed       map[int]struct{}
}

func (c *fakeConfig) PoolHydrodynamicFactor() int  { return c.hydro }
func (c *fakeConfig) PoolRecirculationPeriod() int { return c.recirc }
func (c *fakeConfig) DailyFilterAllowedHours() map[int]struct{} { return c.allowed }

func TestKFactorBuckets(t *testing.T) {
	cases := []struct {
		temp float64
		want float64
	}{
		{20, 1}, {14, 0.5}, {11, 1.0 / 3.0}, {7, 0.25}, {2, 0.15},
	}
	for _, c := range cases {
		if got := kFactor(c.temp); got != c.want {
			t.Errorf("kFactor(%f) = %f, want %f", c.temp, got, c.want)
		}
	}
}

func TestOnTemperatureSetsRemainingBudget(t *testing.T) {
	act := &fakeActuator{automatic: true, realState: true}
	cfg := &fakeConfig{hydro: 15, recirc: 4, allowed: map[int]struct{}{12: {}}}
	a := New(act, cfg, memstore.New(), time.UTC)

	a.OnTemperature(20)
	if a.RemainingSeconds() <= 0 {
		t.Fatalf("expected positive budget after warm temperature sample")
	}
}

func TestFilteringDecrementsRemainingWhilePumpReallyOn(t *testing.T) {
	ctx := context.Background()
	act := &fakeActuator{automatic: true, realState: true}
	cfg := &fakeConfig{hydro: 15, recirc: 4, allowed: map[int]struct{}{12: {}}}
	a := New(act, cfg, memstore.New(), time.UTC)
	a.OnTemperature(20)

	before := a.RemainingSeconds()
	a.Tick(ctx, time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC))
	if a.State() != Filtering {
		t.Fatalf("expected transition to Filtering")
	}
	if !act.filterOn {
		t.Fatalf("expected filter pump commanded on")
	}
	a.Tick(ctx, time.Date(2026, 7, 29, 12, 0, 1, 0, time.UTC))
	if a.RemainingSeconds() != before-1 {
		t.Fatalf("expected remaining decremented by 1, before=%d after=%d", before, a.RemainingSeconds())
	}
}

func TestOutOfWindowTurnsOffAndWaits(t *testing.T) {
	ctx := context.Background()
	act := &fakeActuator{automatic: true, realState: true}
	cfg := &fakeConfig{hydro: 15, recirc: 4, allowed: map[int]struct{}{12: {}}}
	a := New(act, cfg, memstore.New(), time.UTC)
	a.OnTemperature(20)

	a.Tick(ctx, time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC))
	a.Tick(ctx, time.Date(2026, 7, 29, 20, 0, 0, 0, time.UTC))

	if a.State() != WaitingDailyCycle {
		t.Fatalf("expected back to WaitingDailyCycle outside allowed hours")
	}
	if act.filterOn {
		t.Fatalf("expected filter pump commanded off outside allowed hours")
	}
}
