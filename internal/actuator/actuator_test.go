package actuator

import (
	"context"
	"testing"
	"time"

	"github.com/pv/poolcontrold/internal/board"
	"github.com/pv/poolcontrold/internal/poolerrors"
	"github.com/pv/poolcontrold/internal/repository/memstore"
	"github.com/pv/poolcontrold/internal/tank"
)

func newTestControl() (*Control, *board.StaticTemperatureBoard) {
	brd := board.NewStaticTemperatureBoard(24.0)
	store := memstore.New()
	bleach := tank.New(tank.KindBleach, 25, store, time.UTC)
	acid := tank.New(tank.KindAcid, 25, store, time.UTC)
	return New(brd, store, bleach, acid, time.UTC), brd
}

func TestManualModeRejectsAutomaticCommand(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestControl()

	if err := c.SetState(ctx, board.FilterPump, false, false); err != nil {
		t.Fatalf("manual command failed: %v", err)
	}
	err := c.SetState(ctx, board.FilterPump, true, true)
	if err != poolerrors.ErrManualMode {
		t.Fatalf("expected ErrManualMode, got %v", err)
	}

	c.SetAutomatic(ctx, true, true)
	if err := c.SetState(ctx, board.FilterPump, true, true); err != nil {
		t.Fatalf("expected automatic command to succeed after re-enabling, got %v", err)
	}
}

func TestEmergencyStopRejectsGatedActuators(t *testing.T) {
	ctx := context.Background()
	c, brd := newTestControl()

	if err := c.SetState(ctx, board.FilterPump, true, true); err != nil {
		t.Fatalf("set filter pump on: %v", err)
	}
	c.EmergencyStop(ctx, CauseButton, false)

	if err := c.SetState(ctx, board.FilterPump, true, true); err != poolerrors.ErrEmergencyStop {
		t.Fatalf("expected ErrEmergencyStop, got %v", err)
	}
	if brd.State(board.FilterPump) {
		t.Fatalf("expected filter pump physically off during emergency stop")
	}

	c.EmergencyStop(ctx, CauseNone, true)
	if !brd.State(board.FilterPump) {
		t.Fatalf("expected filter pump to resume teoric ON state after release")
	}
}

func TestEmergencyStopDoesNotGateValveOrAux(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestControl()
	c.EmergencyStop(ctx, CauseButton, false)

	if err := c.SetState(ctx, board.FillValve, true, true); err != nil {
		t.Fatalf("expected fill valve command to succeed during emergency stop, got %v", err)
	}
	if err := c.SetState(ctx, board.AuxOut, true, true); err != nil {
		t.Fatalf("expected aux_out command to succeed during emergency stop, got %v", err)
	}
}

func TestOnTotalEqualsAutoPlusManual(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestControl()

	if err := c.SetState(ctx, board.FilterPump, true, true); err != nil {
		t.Fatalf("set on: %v", err)
	}
	day := time.Now().UTC()
	c.Tick(ctx, time.Date(day.Year(), day.Month(), day.Day(), 12, 0, 0, 0, time.UTC))
	c.Tick(ctx, time.Date(day.Year(), day.Month(), day.Day(), 12, 0, 1, 0, time.UTC))

	onTotal, onAuto, onManual, _, _ := c.Stats(board.FilterPump)
	if onTotal != onAuto+onManual {
		t.Fatalf("invariant violated: on_total=%d != on_auto(%d)+on_manual(%d)", onTotal, onAuto, onManual)
	}
	if onAuto != 2 {
		t.Fatalf("expected 2 automatic seconds, got %d", onAuto)
	}
}

func TestBleachPumpDecreasesTankWhileOn(t *testing.T) {
	ctx := context.Background()
	brd := board.NewStaticTemperatureBoard(24.0)
	store := memstore.New()
	bleach := tank.New(tank.KindBleach, 25, store, time.UTC)
	acid := tank.New(tank.KindAcid, 25, store, time.UTC)
	c := New(brd, store, bleach, acid, time.UTC)

	if err := c.SetState(ctx, board.BleachPump, true, true); err != nil {
		t.Fatalf("set on: %v", err)
	}
	before := bleach.CurrentLiters()
	day := time.Now().UTC()
	c.Tick(ctx, time.Date(day.Year(), day.Month(), day.Day(), 12, 0, 0, 0, time.UTC))
	after := bleach.CurrentLiters()

	if after >= before {
		t.Fatalf("expected bleach tank to decrease while pump ON, before=%f after=%f", before, after)
	}
}

func TestSecSinceLastOnResetsWhenOff(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestControl()

	if err := c.SetState(ctx, board.FilterPump, true, true); err != nil {
		t.Fatal(err)
	}
	c.OnFilterPumpCurrent(5.0)
	c.Tick(ctx, time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC))
	c.Tick(ctx, time.Date(2026, 7, 29, 12, 0, 1, 0, time.UTC))

	if _, _, _, _, sec := c.Stats(board.FilterPump); sec != 2 {
		t.Fatalf("expected sec_since_last_on to track 2 ticks of real current, got %d", sec)
	}

	c.OnFilterPumpCurrent(0)
	if err := c.SetState(ctx, board.FilterPump, false, true); err != nil {
		t.Fatal(err)
	}
	c.Tick(ctx, time.Date(2026, 7, 29, 12, 0, 2, 0, time.UTC))

	_, _, _, _, sec := c.Stats(board.FilterPump)
	if sec != 0 {
		t.Fatalf("expected sec_since_last_on reset to 0 when real current drops, got %d", sec)
	}
}

func TestSecSinceLastOnForFilterPumpTracksRealStateNotTeoric(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestControl()

	// Commanded on, but the current sensor reports no real flow (e.g. the
	// pump is commanded on but has stalled): sec_since_last_on must not
	// advance, since Water's validity window depends on real circulation.
	if err := c.SetState(ctx, board.FilterPump, true, true); err != nil {
		t.Fatal(err)
	}
	c.Tick(ctx, time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC))
	c.Tick(ctx, time.Date(2026, 7, 29, 12, 0, 1, 0, time.UTC))

	_, _, _, _, sec := c.Stats(board.FilterPump)
	if sec != 0 {
		t.Fatalf("expected sec_since_last_on to stay 0 while commanded-on but not really circulating, got %d", sec)
	}
}

func TestLoadReplaysTeoricStateSameDay(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	brd1 := board.NewStaticTemperatureBoard(24.0)
	bleach := tank.New(tank.KindBleach, 25, store, time.UTC)
	acid := tank.New(tank.KindAcid, 25, store, time.UTC)

	c1 := New(brd1, store, bleach, acid, time.UTC)
	if err := c1.SetState(ctx, board.FilterPump, true, true); err != nil {
		t.Fatal(err)
	}

	brd2 := board.NewStaticTemperatureBoard(24.0)
	c2 := New(brd2, store, bleach, acid, time.UTC)
	c2.Load(ctx)

	if !brd2.State(board.FilterPump) {
		t.Fatalf("expected filter pump replayed ON after load")
	}
}
