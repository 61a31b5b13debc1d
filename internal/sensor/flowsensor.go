package sensor

import (
	"context"
	"sync"
	"time"

	"github.com/pv/poolcontrold/internal/repository"
)

// FlowSensor is a pulse-counting derived sensor producing flow-rate
// (L/min) and accumulated daily volume (m³). Grounded on
// original_source/src/sensors/subtypes/flowsensor.py.
type FlowSensor struct {
	repo Repository
	tz   *time.Location

	mu          sync.Mutex
	counter     int64
	flowRate    float64
	dailyVolume float64
	kFactor     float64
	lastDay     int
}

// NewFlowSensor creates a FlowSensor with the given initial k-factor
// (pulses per liter).
func NewFlowSensor(repo Repository, tz *time.Location, kFactor float64) *FlowSensor {
	now := time.Now()
	if tz != nil {
		now = now.In(tz)
	}
	return &FlowSensor{repo: repo, tz: tz, kFactor: kFactor, lastDay: now.YearDay()}
}

// AddTick increments the running pulse counter. Called from the edge
// handler; must stay non-blocking (no I/O, no locks beyond its own).
func (f *FlowSensor) AddTick() {
	f.mu.Lock()
	f.counter++
	f.mu.Unlock()
}

// SetKFactor live-updates the pulses-per-liter calibration from PoolConfig.
func (f *FlowSensor) SetKFactor(k float64) {
	f.mu.Lock()
	f.kFactor = k
	f.mu.Unlock()
}

// Tick integrates one second of pulses into flow rate and daily volume, and
// resets the daily volume on calendar day rollover. dt is the elapsed
// interval since the previous tick (nominally 1s).
func (f *FlowSensor) Tick(ctx context.Context, now time.Time, dt time.Duration) {
	if f.tz != nil {
		now = now.In(f.tz)
	}
	if dt <= 0 {
		dt = time.Second
	}
	dtSeconds := dt.Seconds()

	f.mu.Lock()
	day := now.YearDay()
	if day != f.lastDay {
		f.dailyVolume = 0
		f.lastDay = day
	}

	k := f.kFactor
	if k <= 0 {
		k = 1
	}
	count := f.counter
	f.counter = 0

	// flow = (counter/Δt)/k_factor × (1/(60·Δt)), liters/minute, per the
	// pulse-to-rate conversion this control plane was distilled from.
	flow := (float64(count) / dtSeconds) / k * (1.0 / (60.0 * dtSeconds))
	f.flowRate = flow
	f.dailyVolume += flow / 1000.0
	volume := f.dailyVolume
	f.mu.Unlock()

	if f.repo != nil {
		row := repository.Row{
			Datetime: now,
			Fields: map[string]any{
				"flow_rate_lpm": flow,
				"daily_volume":  volume,
			},
		}
		_ = f.repo.Insert(ctx, repository.CollectionFlow, row)
	}
}

// FlowRate returns the last computed liters/minute rate.
func (f *FlowSensor) FlowRate() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flowRate
}

// DailyVolume returns the accumulated cubic meters since the last day rollover.
func (f *FlowSensor) DailyVolume() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dailyVolume
}
