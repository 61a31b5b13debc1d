// Package system owns the construction-order wiring of every component into
// one running control plane, replacing the original's module-level
// singletons (poolcfg, lightSensor, db, ...) with one explicitly
// constructed object graph, per the Design Notes redesign mandate.
package system

import (
	"context"
	"log"
	"time"

	"github.com/pv/poolcontrold/internal/actuator"
	"github.com/pv/poolcontrold/internal/algorithms/chemicals"
	"github.com/pv/poolcontrold/internal/algorithms/filter"
	"github.com/pv/poolcontrold/internal/algorithms/level"
	"github.com/pv/poolcontrold/internal/algorithms/lights"
	"github.com/pv/poolcontrold/internal/archive"
	"github.com/pv/poolcontrold/internal/board"
	"github.com/pv/poolcontrold/internal/clock"
	"github.com/pv/poolcontrold/internal/filterpressure"
	"github.com/pv/poolcontrold/internal/lightlink"
	"github.com/pv/poolcontrold/internal/poolconfig"
	"github.com/pv/poolcontrold/internal/repository"
	"github.com/pv/poolcontrold/internal/sensor"
	"github.com/pv/poolcontrold/internal/tank"
	"github.com/pv/poolcontrold/internal/water"
)

// Sensors groups every typed Sensor the system owns.
type Sensors struct {
	Ph, Orp, Tds, Temperature              *sensor.Sensor
	SandPressure, DiatomsPressure           *sensor.Sensor
	Voltage, PumpCurrent, GeneralCurrent    *sensor.Sensor
	Light, EmergencyStop                    *sensor.Sensor
	WaterLevel                              [6]*sensor.Sensor
}

// System is the whole running pool-control plane: every component, wired in
// construction order, plus the scheduler tasks that drive them.
type System struct {
	Repo     repository.Repository
	Archival *archive.Logging
	Board    board.Board
	TZ       *time.Location

	Config *poolconfig.Config

	Sensors    Sensors
	Flow       *sensor.FlowSensor
	BleachTank *tank.Tank
	AcidTank   *tank.Tank
	Actuator   *actuator.Control
	Water      *water.Water

	Filter    *filter.Algorithm
	Chemicals *chemicals.Algorithm
	Level     *level.Algorithm
	Lights    *lights.Algorithm

	SandFilter    *filterpressure.Monitor
	DiatomsFilter *filterpressure.Monitor

	LightLink *lightlink.Client

	scheduler *clock.Scheduler
}

// boardTicker is implemented by Board adapters that need a periodic pump to
// deliver synthetic or batched samples (FakeBoard); a real interrupt/ADC
// driven Board implementation has no need for it.
type boardTicker interface {
	Tick(ctx context.Context, now time.Time)
}

// New constructs the full object graph. repo and archival may be nil-free
// (archival defaults to a no-op sink). brd is the Board implementation the
// caller has already selected (a real driver, or board.NewStaticTemperatureBoard
// for a minimal placeholder); passing nil makes System construct and drive a
// board.FakeBoard wired to its own analog sensors, so a caller asking for the
// fake/demo path gets a board that actually feeds the control plane.
func New(repo repository.Repository, archival archive.Sink, brd board.Board, tz *time.Location) *System {
	if archival == nil {
		archival = archive.NullSink{}
	}
	sys := &System{Repo: repo, Archival: &archive.Logging{Sink: archival}, TZ: tz, scheduler: clock.New()}

	sys.Config = poolconfig.New(repo, tz)

	rangeOf := func(min, max float64) sensor.Option { return sensor.WithRange(&min, &max) }
	sys.Sensors.Ph = sensor.New(sensor.KindPh, repo, tz, rangeOf(0, 14))
	sys.Sensors.Orp = sensor.New(sensor.KindOrp, repo, tz, rangeOf(0, 1000))
	sys.Sensors.Tds = sensor.New(sensor.KindTds, repo, tz, rangeOf(0, 5000))
	sys.Sensors.Temperature = sensor.New(sensor.KindTemperature, repo, tz, rangeOf(-10, 50))
	sys.Sensors.SandPressure = sensor.New(sensor.KindSandPressure, repo, tz, rangeOf(0, 5))
	sys.Sensors.DiatomsPressure = sensor.New(sensor.KindDiatomsPressure, repo, tz, rangeOf(0, 5))
	sys.Sensors.Voltage = sensor.New(sensor.KindVoltage, repo, tz, rangeOf(0, 260))
	sys.Sensors.PumpCurrent = sensor.New(sensor.KindPumpCurrent, repo, tz, rangeOf(0, 50))
	sys.Sensors.GeneralCurrent = sensor.New(sensor.KindGeneralCurrent, repo, tz, rangeOf(0, 50))
	sys.Sensors.Light = sensor.New(sensor.KindLight, repo, tz, sensor.WithBoolean())
	sys.Sensors.EmergencyStop = sensor.New(sensor.KindEmergencyStop, repo, tz, sensor.WithBoolean())
	levelKinds := [6]sensor.Kind{
		sensor.KindWaterLevel0, sensor.KindWaterLevel1, sensor.KindWaterLevel2,
		sensor.KindWaterLevel3, sensor.KindWaterLevel4, sensor.KindWaterLevel5,
	}
	for i, k := range levelKinds {
		sys.Sensors.WaterLevel[i] = sensor.New(k, repo, tz, sensor.WithBoolean())
	}

	if brd == nil {
		brd = board.NewFakeBoard(sys.Sensors.Ph, sys.Sensors.Orp, sys.Sensors.Tds,
			sys.Sensors.SandPressure, sys.Sensors.DiatomsPressure)
	}
	sys.Board = brd

	sys.SandFilter = filterpressure.New(filterpressure.KindSand, repo, tz)
	sys.Sensors.SandPressure.AddCallback(sensor.ObserverFunc(func(r sensor.Reading) {
		sys.SandFilter.OnPressure(context.Background(), r.Value, r.IsOK)
	}))
	sys.DiatomsFilter = filterpressure.New(filterpressure.KindDiatoms, repo, tz)
	sys.Sensors.DiatomsPressure.AddCallback(sensor.ObserverFunc(func(r sensor.Reading) {
		sys.DiatomsFilter.OnPressure(context.Background(), r.Value, r.IsOK)
	}))

	sys.Flow = sensor.NewFlowSensor(repo, tz, sys.Config.PoolFlowKFactor())

	sys.BleachTank = tank.New(tank.KindBleach, 25, repo, tz)
	sys.AcidTank = tank.New(tank.KindAcid, 25, repo, tz)

	sys.Actuator = actuator.New(brd, repo, sys.BleachTank, sys.AcidTank, tz)
	sys.Sensors.PumpCurrent.AddCallback(sensor.ObserverFunc(func(r sensor.Reading) {
		sys.Actuator.OnFilterPumpCurrent(r.Value)
	}))

	sys.Water = water.New(repo, tz,
		func() int { _, _, _, _, sec := sys.Actuator.Stats(board.FilterPump); return sec },
		func() int { return sys.Config.SensorRefreshMinutes() * 60 },
	)
	sys.Sensors.Temperature.AddCallback(sensor.ObserverFunc(func(r sensor.Reading) {
		if r.IsOK {
			sys.Water.OnTemperature(r.Value)
		}
	}))
	sys.Sensors.Orp.AddCallback(sensor.ObserverFunc(func(r sensor.Reading) {
		if r.IsOK {
			sys.Water.OnOrp(r.Value)
		}
	}))
	sys.Sensors.Ph.AddCallback(sensor.ObserverFunc(func(r sensor.Reading) {
		if r.IsOK {
			sys.Water.OnPh(r.Value)
		}
	}))
	sys.Sensors.Tds.AddCallback(sensor.ObserverFunc(func(r sensor.Reading) {
		if r.IsOK {
			sys.Water.OnTds(r.Value)
		}
	}))
	for i, s := range sys.Sensors.WaterLevel {
		idx := i
		s.AddCallback(sensor.ObserverFunc(func(r sensor.Reading) {
			sys.Water.OnLevel(context.Background(), idx, r.Boolean)
		}))
	}

	sys.Filter = filter.New(sys.Actuator, sys.Config, repo, tz)
	sys.Sensors.Temperature.AddCallback(sensor.ObserverFunc(func(r sensor.Reading) {
		if r.IsOK {
			sys.Filter.OnTemperature(r.Value)
		}
	}))

	sys.Chemicals = chemicals.New(sys.Actuator, sys.Water, sys.Config, repo, tz)
	sys.Level = level.New(sys.Actuator, sys.Water, sys.Flow, sys.Config, repo, tz)

	sys.LightLink = lightlink.New()
	lightPresent, _ := sys.Sensors.Light.BooleanValue()
	sys.Lights = lights.New(sys.LightLink, sys.Config, repo, tz, lightPresent)
	sys.Sensors.Light.AddCallback(sensor.ObserverFunc(func(r sensor.Reading) {
		sys.Lights.OnLightSensor(context.Background(), r.Boolean)
	}))

	sys.Sensors.EmergencyStop.AddCallback(sensor.ObserverFunc(func(r sensor.Reading) {
		cause := actuator.CauseNone
		if r.Boolean {
			cause = actuator.CauseButton
		}
		sys.Actuator.EmergencyStop(context.Background(), cause, !r.Boolean)
	}))

	archived := append([]*sensor.Sensor{
		sys.Sensors.Ph, sys.Sensors.Orp, sys.Sensors.Tds, sys.Sensors.Temperature,
		sys.Sensors.SandPressure, sys.Sensors.DiatomsPressure, sys.Sensors.Voltage,
		sys.Sensors.PumpCurrent, sys.Sensors.GeneralCurrent, sys.Sensors.Light, sys.Sensors.EmergencyStop,
	}, sys.Sensors.WaterLevel[:]...)
	for _, s := range archived {
		s.AddCallback(sensor.ObserverFunc(func(r sensor.Reading) {
			sys.ArchiveReading(context.Background(), r)
		}))
	}

	return sys
}

// Load restores every persisted component's state from the repository:
// configuration first, then tank and actuator state (so the board reflects
// reality before any algorithm runs), then algorithm snapshots.
func (sys *System) Load(ctx context.Context) {
	sys.Config.Load(ctx)
	sys.BleachTank.Load(ctx)
	sys.AcidTank.Load(ctx)
	sys.Actuator.Load(ctx)
	sys.Filter.Load(ctx)
	sys.Chemicals.Load(ctx)
	sys.Level.Load(ctx)
	sys.Lights.Load(ctx)
}

// Start launches every periodic scheduler task: the one-second actuator
// statistics/algorithm tick, the flow-sensor per-second integration, and
// the Water flush keyed to the configured sensor refresh interval.
// Reconfiguring SensorRefreshMinutes cancels and reschedules the Water
// flush task.
func (sys *System) Start(ctx context.Context) {
	sys.scheduler.Every("actuator-tick", time.Second, func(now time.Time) {
		sys.Actuator.Tick(ctx, now)
	})
	sys.scheduler.Every("filter-tick", time.Second, func(now time.Time) {
		sys.Filter.Tick(ctx, now)
	})
	sys.scheduler.Every("chemicals-tick", time.Second, func(now time.Time) {
		sys.Chemicals.Tick(ctx, now)
	})
	sys.scheduler.Every("level-tick", time.Second, func(now time.Time) {
		sys.Level.Tick(ctx, now)
	})
	sys.scheduler.Every("flow-tick", time.Second, func(now time.Time) {
		sys.Flow.Tick(ctx, now, time.Second)
	})
	sys.scheduler.Every("board-tick", time.Second, func(now time.Time) {
		sys.tickBoard(ctx, now)
	})
	sys.rescheduleWaterFlush(ctx)

	sys.Config.Subscribe("sensor_refresh_minutes", poolconfig.FieldObserverFunc(func(string) {
		sys.rescheduleWaterFlush(ctx)
	}))
	sys.Config.Subscribe("pool_flow_k_factor", poolconfig.FieldObserverFunc(func(string) {
		sys.Flow.SetKFactor(sys.Config.PoolFlowKFactor())
	}))
}

// tickBoard drives the board's own synthetic/batched sample delivery (for a
// FakeBoard) and polls ReadTemperature, the one Board value the control
// plane must pull rather than receive pushed to it.
func (sys *System) tickBoard(ctx context.Context, now time.Time) {
	if ticker, ok := sys.Board.(boardTicker); ok {
		ticker.Tick(ctx, now)
	}
	if temp, ok := sys.Board.ReadTemperature(ctx); ok {
		sys.Sensors.Temperature.AddValue(ctx, temp, true)
	}
}

func (sys *System) rescheduleWaterFlush(ctx context.Context) {
	period := time.Duration(sys.Config.SensorRefreshMinutes()) * time.Minute
	sys.scheduler.Every("water-flush", period, func(now time.Time) {
		sys.Water.Flush(ctx, now)
	})
}

// ArchiveReading fans out a Sensor reading to the archival sink. It is
// intentionally decoupled from the control-plane subscribers wired in New:
// archival failures are logged and ignored, never allowed to affect
// control decisions.
func (sys *System) ArchiveReading(ctx context.Context, r sensor.Reading) {
	value := r.Value
	if r.IsBoolean {
		if r.Boolean {
			value = 1
		} else {
			value = 0
		}
	}
	point := archive.Point{SensorHash: r.Kind.Hash(), Name: r.Kind.String(), Timestamp: r.Timestamp, Value: value}
	sys.Archival.Write(ctx, point)
}

// Stop cancels every scheduler task and closes the repository/archival sink.
func (sys *System) Stop() {
	sys.scheduler.Cancel()
	if sys.Repo != nil {
		if err := sys.Repo.Close(); err != nil {
			log.Printf("[system] close repository: %v", err)
		}
	}
	if err := sys.Archival.Close(); err != nil {
		log.Printf("[system] close archival sink: %v", err)
	}
}
