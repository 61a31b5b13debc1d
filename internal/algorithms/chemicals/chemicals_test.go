package chemicals

import (
	"context"
	"testing"
	"time"

	"github.com/pv/poolcontrold/internal/board"
	"github.com/pv/poolcontrold/internal/repository/memstore"
)

type fakeActuator struct {
	bleachOn, acidOn   bool
	automatic          bool
	emergency          bool
	realState          bool
}

func (f *fakeActuator) SetState(_ context.Context, id board.ActuatorID, state bool, _ bool) error {
	switch id {
	case board.BleachPump:
		f.bleachOn = state
	case board.AcidPump:
		f.acidOn = state
	}
	return nil
}
func (f *fakeActuator) TeoricState(id board.ActuatorID) bool {
	switch id {
	case board.BleachPump:
		return f.bleachOn
	case board.AcidPump:
		return f.acidOn
	}
	return false
}
func (f *fakeActuator) PumpAutomatic() bool      { return f.automatic }
func (f *fakeActuator) InEmergencyStop() bool    { return f.emergency }
func (f *fakeActuator) FilterPumpRealState() bool { return f.realState }

type fakeWater struct {
	orp, ph   float64
	hasOrp, hasPh bool
	valid     bool
}

func (w *fakeWater) Means() (temp, orp, ph, tds float64, hasTemp, hasOrp, hasPh, hasTds bool) {
	return 0, w.orp, w.ph, 0, false, w.hasOrp, w.hasPh, false
}
func (w *fakeWater) Valid() bool { return w.valid }

type fakeConfig struct {
	orpSetpoint, phSetpoint   float64
	orpDisabled, phDisabled   bool
	maxOrpDaily, maxPhDaily   int
}

func (c *fakeConfig) PoolOrpMvSetpoint() float64        { return c.orpSetpoint }
func (c *fakeConfig) PoolPhSetpoint() float64           { return c.phSetpoint }
func (c *fakeConfig) OrpAutoInjectionDisabled() bool    { return c.orpDisabled }
func (c *fakeConfig) PhAutoInjectionDisabled() bool     { return c.phDisabled }
func (c *fakeConfig) MaxOrpDailySeconds() int           { return c.maxOrpDaily }
func (c *fakeConfig) MaxPhDailySeconds() int            { return c.maxPhDaily }

func TestOrpTargetSecondsBuckets(t *testing.T) {
	cases := []struct {
		err  float64
		want int
	}{
		{200, 840}, {100, int(5.28*100 - 72 + 0.5)}, {10, 60}, {-5, 0},
	}
	for _, c := range cases {
		if got := orpTargetSeconds(c.err); got != c.want {
			t.Errorf("orpTargetSeconds(%f) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestPhTargetSecondsClampedNonNegative(t *testing.T) {
	if got := phTargetSeconds(-0.1); got != 0 {
		t.Errorf("expected 0 for negative err, got %d", got)
	}
	if got := phTargetSeconds(0.5); got != 840 {
		t.Errorf("expected cap 840, got %d", got)
	}
}

func TestPreconditionsGateDosing(t *testing.T) {
	ctx := context.Background()
	act := &fakeActuator{automatic: true, realState: false}
	w := &fakeWater{valid: true}
	cfg := &fakeConfig{orpSetpoint: 650, phSetpoint: 7.4, maxOrpDaily: 3600, maxPhDaily: 3600}
	a := New(act, w, cfg, memstore.New(), time.UTC)

	act.bleachOn = true
	a.Tick(ctx, time.Now())
	if act.bleachOn {
		t.Fatalf("expected bleach forced off when preconditions fail")
	}
}

func TestInjectionPhaseDecrementsPendingOncePerSecond(t *testing.T) {
	ctx := context.Background()
	act := &fakeActuator{automatic: true, realState: true}
	w := &fakeWater{orp: 500, hasOrp: true, valid: true}
	cfg := &fakeConfig{orpSetpoint: 650, phSetpoint: 7.4, maxOrpDaily: 3600, maxPhDaily: 3600}
	a := New(act, w, cfg, memstore.New(), time.UTC)

	for i := 0; i < cycleLengthSeconds+1; i++ {
		a.Tick(ctx, time.Now())
	}
	if !act.bleachOn {
		t.Fatalf("expected bleach commanded on after new cycle with large orp error")
	}

	a.mu.Lock()
	pending := a.orpPendingSeconds
	daily := a.orpDailySeconds
	a.mu.Unlock()

	a.Tick(ctx, time.Now())

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.orpPendingSeconds != pending-1 {
		t.Fatalf("expected pending decremented by exactly 1, before=%d after=%d", pending, a.orpPendingSeconds)
	}
	if a.orpDailySeconds != daily+1 {
		t.Fatalf("expected daily total incremented by exactly 1, before=%d after=%d", daily, a.orpDailySeconds)
	}
}
