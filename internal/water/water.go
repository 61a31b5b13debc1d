// Package water implements Water: time-windowed aggregation of the
// chemistry sensors into means, the LSI computation, and the validity flag.
// Grounded on original_source/src/models/water.py.
package water

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"github.com/pv/poolcontrold/internal/repository"
)

// Repository is the subset of repository.Repository Water needs.
type Repository interface {
	UpsertSingle(ctx context.Context, collection string, row repository.Row) error
}

// Observer is notified after a Water flush recomputes means/LSI/validity.
type Observer interface {
	OnWaterUpdated()
}

type ObserverFunc func()

func (f ObserverFunc) OnWaterUpdated() { f() }

// Water is the aggregate water-chemistry state.
type Water struct {
	repo Repository
	tz   *time.Location

	mu sync.Mutex

	tempSamples, orpSamples, phSamples, tdsSamples []float64

	meanTemp, meanOrp, meanPh, meanTds float64
	hasMeanTemp, hasMeanOrp, hasMeanPh, hasMeanTds bool

	levels [6]bool

	alkalinity, hardness, cya       float64
	hasAlkalinity, hasHardness, hasCya bool

	lsi    float64
	hasLsi bool
	valid  bool

	filterPumpSecSinceLastOn func() int
	sensorRefreshSeconds     func() int

	observers []Observer
}

// New constructs Water. filterPumpSecSinceLastOn and sensorRefreshSeconds
// are late-bound accessors into ActuatorControl/PoolConfig so Water never
// needs to import those packages directly (it only reads two numbers from
// each).
func New(repo Repository, tz *time.Location, filterPumpSecSinceLastOn, sensorRefreshSeconds func() int) *Water {
	return &Water{
		repo: repo, tz: tz,
		filterPumpSecSinceLastOn: filterPumpSecSinceLastOn,
		sensorRefreshSeconds:     sensorRefreshSeconds,
	}
}

func (w *Water) AddCallback(o Observer) {
	w.mu.Lock()
	w.observers = append(w.observers, o)
	w.mu.Unlock()
}

// SetUserInputs records operator-supplied alkalinity/hardness/cya, used by
// the LSI formula.
func (w *Water) SetUserInputs(alkalinity, hardness, cya float64, hasCya bool) {
	w.mu.Lock()
	w.alkalinity, w.hasAlkalinity = alkalinity, true
	w.hardness, w.hasHardness = hardness, true
	w.cya, w.hasCya = cya, hasCya
	w.mu.Unlock()
}

// OnTemperature appends a temperature sample to the rolling vector.
func (w *Water) OnTemperature(v float64) { w.append(&w.tempSamples, v) }

// OnOrp appends an ORP sample.
func (w *Water) OnOrp(v float64) { w.append(&w.orpSamples, v) }

// OnPh appends a pH sample.
func (w *Water) OnPh(v float64) { w.append(&w.phSamples, v) }

// OnTds appends a TDS sample.
func (w *Water) OnTds(v float64) { w.append(&w.tdsSamples, v) }

func (w *Water) append(dst *[]float64, v float64) {
	w.mu.Lock()
	*dst = append(*dst, v)
	w.mu.Unlock()
}

// OnLevel updates one of the six water-level booleans and persists
// immediately (each edge is its own observable event, independent of the
// periodic flush).
func (w *Water) OnLevel(ctx context.Context, index int, state bool) {
	if index < 0 || index > 5 {
		return
	}
	w.mu.Lock()
	w.levels[index] = state
	w.mu.Unlock()
	w.persist(ctx)
}

// Level returns the last-known state of water-level input i.
func (w *Water) Level(i int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if i < 0 || i > 5 {
		return false
	}
	return w.levels[i]
}

// Valid reports whether the last flush found the filter pump continuously
// on for at least one refresh window.
func (w *Water) Valid() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.valid
}

// Means returns the last computed means (and whether each is present).
func (w *Water) Means() (temp, orp, ph, tds float64, hasTemp, hasOrp, hasPh, hasTds bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.meanTemp, w.meanOrp, w.meanPh, w.meanTds, w.hasMeanTemp, w.hasMeanOrp, w.hasMeanPh, w.hasMeanTds
}

// LSI returns the last computed Langelier Saturation Index, if available.
func (w *Water) LSI() (float64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lsi, w.hasLsi
}

// Flush is the periodic task body: it means the rolling vectors, recomputes
// validity and LSI, persists, and notifies observers outside the lock.
func (w *Water) Flush(ctx context.Context, now time.Time) {
	if w.tz != nil {
		now = now.In(w.tz)
	}

	w.mu.Lock()
	w.meanTemp, w.hasMeanTemp = mean(w.tempSamples)
	w.meanOrp, w.hasMeanOrp = mean(w.orpSamples)
	w.meanPh, w.hasMeanPh = mean(w.phSamples)
	w.meanTds, w.hasMeanTds = mean(w.tdsSamples)
	w.tempSamples, w.orpSamples, w.phSamples, w.tdsSamples = nil, nil, nil, nil

	refreshSeconds := 900
	if w.sensorRefreshSeconds != nil {
		refreshSeconds = w.sensorRefreshSeconds()
	}
	secSinceLastOn := 0
	if w.filterPumpSecSinceLastOn != nil {
		secSinceLastOn = w.filterPumpSecSinceLastOn()
	}
	w.valid = secSinceLastOn >= refreshSeconds

	w.lsi, w.hasLsi = computeLSI(w.meanTemp, w.hasMeanTemp, w.meanPh, w.hasMeanPh,
		w.meanTds, w.hasMeanTds, w.alkalinity, w.hasAlkalinity, w.hardness, w.hasHardness, w.cya, w.hasCya)

	observers := append([]Observer(nil), w.observers...)
	w.mu.Unlock()

	w.persist(ctx)

	for _, o := range observers {
		o.OnWaterUpdated()
	}
}

func mean(samples []float64) (float64, bool) {
	if len(samples) == 0 {
		return 0, false
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples)), true
}

// computeLSI implements the exact formula in §4.8: the calcium-hardness
// correction factor is evaluated high-to-low (ph>7.85, then ph>7.55, then
// the default), so all three bands are reachable. This follows the spec's
// stated order rather than the original model's own branch order, which
// tests ph>7.55 first and never reaches its ph>7.85 case.
func computeLSI(temp float64, hasTemp bool, ph float64, hasPh bool, tds float64, hasTds bool,
	alkalinity float64, hasAlkalinity bool, hardness float64, hasHardness bool, cya float64, hasCya bool) (float64, bool) {

	if !hasTemp || !hasPh || !hasTds || !hasAlkalinity || !hasHardness {
		return 0, false
	}
	cyaPrime := 0.0
	if hasCya {
		cyaPrime = cya
	}

	logTds := 11.13 + (1.0/3.0)*math.Log10(tds)
	tF := 1.8*temp + 32
	logTemp := -(1.0/2_000_000.0)*math.Pow(tF, 3) + (3.0/50_000.0)*math.Pow(tF, 2) + 0.0117*tF - 0.4116

	var factor float64
	switch {
	case ph > 7.85:
		factor = 0.35 + 0.05*(ph-7.8)
	case ph > 7.55:
		factor = 0.32 + 0.10*(ph-7.5)
	default:
		factor = 0.12 + 0.20*(ph-6.5)
	}

	ca := alkalinity - factor*cyaPrime
	lsi := ph + logTemp + math.Log10(hardness) - 0.4 + math.Log10(ca) - logTds
	return lsi, true
}

func (w *Water) persist(ctx context.Context) {
	if w.repo == nil {
		return
	}
	now := time.Now()
	if w.tz != nil {
		now = now.In(w.tz)
	}

	w.mu.Lock()
	fields := map[string]any{
		"mean_temperature": w.meanTemp,
		"mean_orp":         w.meanOrp,
		"mean_ph":          w.meanPh,
		"mean_tds":         w.meanTds,
		"lsi":              w.lsi,
		"has_lsi":          w.hasLsi,
		"valid":            w.valid,
		"levels":           w.levels[:],
	}
	w.mu.Unlock()

	row := repository.Row{Datetime: now, Fields: fields}
	if err := w.repo.UpsertSingle(ctx, repository.CollectionWater, row); err != nil {
		log.Printf("[water] persist failed: %v", err)
	}
}
