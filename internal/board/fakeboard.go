package board

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pv/poolcontrold/internal/sensor"
)

// FakeBoard drives the whole control plane without real hardware: a
// deterministic generator for RMS-voltage samples and temperature. It has
// no injection points for GPIO edges or flow pulses. Grounded on the
// teacher's internal/storage/memstore.ExampleStore — "always available,
// deterministic" — and on original_source/src/driver/fakepooldriver.py.
type FakeBoard struct {
	mu        sync.Mutex
	states    map[ActuatorID]bool
	startedAt time.Time

	ph, orp, tds, sandPressure, diatomsPressure *sensor.Sensor
	temperature                                 func() (float64, bool)
}

// NewFakeBoard constructs a board that feeds the given analog sensors with a
// smooth synthetic signal once Tick is called periodically.
func NewFakeBoard(ph, orp, tds, sandPressure, diatomsPressure *sensor.Sensor) *FakeBoard {
	return &FakeBoard{
		states:           make(map[ActuatorID]bool),
		startedAt:        time.Now(),
		ph:               ph,
		orp:              orp,
		tds:              tds,
		sandPressure:     sandPressure,
		diatomsPressure:  diatomsPressure,
		temperature:      func() (float64, bool) { return 24.0, true },
	}
}

func (b *FakeBoard) SetActuator(_ context.Context, id ActuatorID, state bool) error {
	if id < FilterPump || id > AuxOut {
		return ErrUnknownActuator
	}
	b.mu.Lock()
	b.states[id] = state
	b.mu.Unlock()
	return nil
}

func (b *FakeBoard) State(id ActuatorID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.states[id]
}

func (b *FakeBoard) ReadTemperature(context.Context) (float64, bool) {
	return b.temperature()
}

// Tick delivers one synthetic sample of each analog sensor, mimicking the
// periodic ADC-thread delivery described in §6. Called by the board's own
// scheduler task, never from an interrupt context.
func (b *FakeBoard) Tick(ctx context.Context, now time.Time) {
	elapsed := now.Sub(b.startedAt).Seconds()

	b.ph.AddValue(ctx, 7.4+0.05*math.Sin(elapsed/600), true)
	b.orp.AddValue(ctx, 650+10*math.Sin(elapsed/300), true)
	b.tds.AddValue(ctx, 450+5*math.Cos(elapsed/900), true)
	b.sandPressure.AddValue(ctx, 0.8, true)
	b.diatomsPressure.AddValue(ctx, 0.6, true)
}
