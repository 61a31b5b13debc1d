// Package sensor implements the typed, range-validated, subscriber-fanned-out
// readings the rest of the control plane reacts to. Grounded on the
// teacher's pkg/config.SensorKey (stable cityhash64 identity per name) and
// on original_source/src/sensors/sensor.py for the add_value/check_value
// semantics; redesigned per the Design Notes callback-fan-out guidance into
// a typed Observer list rather than free-form callbacks.
package sensor

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/go-faster/city"

	"github.com/pv/poolcontrold/internal/repository"
)

// Kind identifies a sensor's physical role. Each Kind has a stable name used
// both to key persisted rows and to compute its CityHash64 identity, shared
// with the archival sink's naming scheme.
type Kind int

const (
	KindPh Kind = iota
	KindOrp
	KindTds
	KindTemperature
	KindSandPressure
	KindDiatomsPressure
	KindVoltage
	KindPumpCurrent
	KindGeneralCurrent
	KindLight
	KindEmergencyStop
	KindWaterLevel0
	KindWaterLevel1
	KindWaterLevel2
	KindWaterLevel3
	KindWaterLevel4
	KindWaterLevel5
	KindFlow
)

var kindNames = map[Kind]string{
	KindPh:              "ph",
	KindOrp:             "orp",
	KindTds:             "tds",
	KindTemperature:     "temperature",
	KindSandPressure:    "sand_pressure",
	KindDiatomsPressure: "diatoms_pressure",
	KindVoltage:         "voltage",
	KindPumpCurrent:     "pump_current",
	KindGeneralCurrent:  "general_current",
	KindLight:           "light",
	KindEmergencyStop:   "emergency_stop",
	KindWaterLevel0:     "water_level_0",
	KindWaterLevel1:     "water_level_1",
	KindWaterLevel2:     "water_level_2",
	KindWaterLevel3:     "water_level_3",
	KindWaterLevel4:     "water_level_4",
	KindWaterLevel5:     "water_level_5",
	KindFlow:            "flow",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Hash returns the stable CityHash64 identity for this kind's name.
func (k Kind) Hash() int64 {
	return int64(city.Hash64([]byte(k.String())))
}

// Reading is an immutable snapshot of one add_value call, handed to
// Observers outside the Sensor's lock.
type Reading struct {
	Kind      Kind
	Value     float64
	Boolean   bool
	IsBoolean bool
	IsOK      bool
	Timestamp time.Time
}

// Observer receives sensor readings. Implementations must return promptly;
// a Sensor invokes every Observer synchronously, in registration order,
// under no lock of its own (the teacher's Design Note: subscribers never
// reach back into the caller's mutex).
type Observer interface {
	OnSensorValue(r Reading)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(r Reading)

func (f ObserverFunc) OnSensorValue(r Reading) { f(r) }

// Sensor is a single typed reading with an optional validity window.
type Sensor struct {
	kind      Kind
	isBoolean bool
	min, max  *float64

	repo Repository
	tz   *time.Location

	mu        sync.Mutex
	value     float64
	boolean   bool
	hasValue  bool
	isOK      bool
	timestamp time.Time
	prev      Reading

	observers []Observer
}

// Repository is the subset of repository.Repository a Sensor needs to
// persist sensor_data rows.
type Repository interface {
	Insert(ctx context.Context, collection string, row repository.Row) error
}

// Option configures a new Sensor.
type Option func(*Sensor)

// WithRange sets the [min,max] validity window (either bound may be nil).
func WithRange(min, max *float64) Option {
	return func(s *Sensor) { s.min, s.max = min, max }
}

// WithBoolean marks the sensor as a binary (digital) input; such sensors are
// always considered valid.
func WithBoolean() Option {
	return func(s *Sensor) { s.isBoolean = true }
}

// New creates a Sensor of the given kind.
func New(kind Kind, repo Repository, tz *time.Location, opts ...Option) *Sensor {
	s := &Sensor{kind: kind, repo: repo, tz: tz}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sensor) Kind() Kind { return s.kind }

// AddCallback appends an Observer. There is no deregistration: subscribers
// live for the process lifetime, matching the spec's append-only model.
func (s *Sensor) AddCallback(o Observer) {
	s.mu.Lock()
	s.observers = append(s.observers, o)
	s.mu.Unlock()
}

// AddValue rotates previous→current, recomputes validity, stamps time, and
// (if save) persists a sensor_data row, then fires observers outside the
// lock.
func (s *Sensor) AddValue(ctx context.Context, v float64, save bool) {
	s.addValue(ctx, v, false, save)
}

// AddBooleanValue is the digital-input counterpart of AddValue.
func (s *Sensor) AddBooleanValue(ctx context.Context, v bool, save bool) {
	val := 0.0
	if v {
		val = 1.0
	}
	s.addValue(ctx, val, true, save)
}

func (s *Sensor) addValue(ctx context.Context, v float64, boolean bool, save bool) {
	now := time.Now()
	if s.tz != nil {
		now = now.In(s.tz)
	}

	s.mu.Lock()
	s.prev = Reading{
		Kind: s.kind, Value: s.value, Boolean: s.boolean,
		IsBoolean: s.isBoolean, IsOK: s.isOK, Timestamp: s.timestamp,
	}
	s.value = v
	s.boolean = boolean
	s.hasValue = true
	s.isOK = s.checkValue(v)
	s.timestamp = now
	reading := Reading{
		Kind: s.kind, Value: s.value, Boolean: s.boolean,
		IsBoolean: s.isBoolean, IsOK: s.isOK, Timestamp: now,
	}
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()

	if save && s.repo != nil {
		fields := map[string]any{
			"kind":    s.kind.String(),
			"hash":    s.kind.Hash(),
			"value":   reading.Value,
			"boolean": reading.Boolean,
			"is_ok":   reading.IsOK,
		}
		row := repository.Row{Datetime: now, Fields: fields}
		if err := s.repo.Insert(ctx, repository.CollectionSensorData, row); err != nil {
			log.Printf("[sensor:%s] persist failed: %v", s.kind, err)
		}
	}

	for _, o := range observers {
		o.OnSensorValue(reading)
	}
}

// checkValue implements is_ok = v != nil ∧ (min ≤ v ∨ min=nil) ∧ (v ≤ max ∨ max=nil).
// Boolean sensors are always valid.
func (s *Sensor) checkValue(v float64) bool {
	if s.isBoolean {
		return true
	}
	if s.min != nil && v < *s.min {
		return false
	}
	if s.max != nil && v > *s.max {
		return false
	}
	return true
}

// Value returns the last value, the validity flag, and whether any value
// has been recorded yet.
func (s *Sensor) Value() (value float64, isOK bool, hasValue bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.isOK, s.hasValue
}

// BooleanValue returns the last digital reading.
func (s *Sensor) BooleanValue() (value bool, hasValue bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boolean, s.hasValue
}

// Previous returns the reading that was current before the last AddValue.
func (s *Sensor) Previous() Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prev
}

// Timestamp returns the time of the last reading.
func (s *Sensor) Timestamp() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timestamp
}
