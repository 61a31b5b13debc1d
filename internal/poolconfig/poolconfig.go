// Package poolconfig implements the live-mutable pool configuration: a
// single-row, clamped-on-write, per-field-subscribed settings object.
// Grounded on original_source/src/config/pool/poolconfig.py for field names
// and defaults, and on the teacher's pkg/config load/validate split for the
// loader shape.
package poolconfig

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/pv/poolcontrold/internal/repository"
)

// FieldObserver is notified after a field changes, with the field's name.
type FieldObserver interface {
	OnConfigFieldChanged(field string)
}

type FieldObserverFunc func(field string)

func (f FieldObserverFunc) OnConfigFieldChanged(field string) { f(field) }

// CommandDuration is one (lightCommand, durationSeconds) step of the
// configured night-lights sequence.
type CommandDuration struct {
	Command  int
	Duration int
}

// Config holds every field enumerated by the specification, §6.
type Config struct {
	repo Repository
	tz   *time.Location

	mu sync.Mutex

	sensorRefreshMinutes int
	dailyFilterAllowedHours map[int]struct{}
	poolHydrodynamicFactor  int
	poolRecirculationPeriod int
	poolOrpMvSetpoint       float64
	poolPhSetpoint          float64
	orpAutoInjectionDisabled bool
	phAutoInjectionDisabled  bool
	maxOrpDailySeconds       int
	maxPhDailySeconds        int
	poolFlowKFactor          float64
	fillStartLevel           int
	fillEndLevel             int
	maxDailyWaterVolumeM3    float64
	fillVolumeBetweenChecks  float64
	fillSecondsWait          int
	autoLightsOn             bool
	autoLightsSequence       []CommandDuration

	observers map[string][]FieldObserver
}

// Repository is the subset of repository.Repository a Config needs.
type Repository interface {
	UpsertSingle(ctx context.Context, collection string, row repository.Row) error
	FindLatest(ctx context.Context, collection string) (repository.Row, bool, error)
}

// New constructs a Config with compiled defaults, per §6 of the specification.
func New(repo Repository, tz *time.Location) *Config {
	c := &Config{
		repo:                     repo,
		tz:                       tz,
		sensorRefreshMinutes:     15,
		dailyFilterAllowedHours:  hourSet(8, 21),
		poolHydrodynamicFactor:   15,
		poolRecirculationPeriod:  4,
		poolOrpMvSetpoint:        650,
		poolPhSetpoint:           7.4,
		maxOrpDailySeconds:       3600,
		maxPhDailySeconds:        3600,
		poolFlowKFactor:          7.5,
		fillStartLevel:           1,
		fillEndLevel:             3,
		maxDailyWaterVolumeM3:    2,
		fillVolumeBetweenChecks:  0.5,
		fillSecondsWait:          30,
		autoLightsOn:             false,
		observers:                make(map[string][]FieldObserver),
	}
	return c
}

func hourSet(from, to int) map[int]struct{} {
	m := make(map[int]struct{})
	for h := from; h <= to; h++ {
		m[h] = struct{}{}
	}
	return m
}

// Subscribe registers an observer for changes to a named field.
func (c *Config) Subscribe(field string, o FieldObserver) {
	c.mu.Lock()
	c.observers[field] = append(c.observers[field], o)
	c.mu.Unlock()
}

// --- accessors ---

func (c *Config) SensorRefreshMinutes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sensorRefreshMinutes
}

func (c *Config) DailyFilterAllowedHours() map[int]struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int]struct{}, len(c.dailyFilterAllowedHours))
	for h := range c.dailyFilterAllowedHours {
		out[h] = struct{}{}
	}
	return out
}

func (c *Config) PoolHydrodynamicFactor() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.poolHydrodynamicFactor
}

func (c *Config) PoolRecirculationPeriod() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.poolRecirculationPeriod
}

func (c *Config) PoolOrpMvSetpoint() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.poolOrpMvSetpoint
}

func (c *Config) PoolPhSetpoint() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.poolPhSetpoint
}

func (c *Config) OrpAutoInjectionDisabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.orpAutoInjectionDisabled
}

func (c *Config) PhAutoInjectionDisabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phAutoInjectionDisabled
}

func (c *Config) MaxOrpDailySeconds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxOrpDailySeconds
}

func (c *Config) MaxPhDailySeconds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxPhDailySeconds
}

func (c *Config) PoolFlowKFactor() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.poolFlowKFactor
}

func (c *Config) FillStartLevel() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fillStartLevel
}

func (c *Config) FillEndLevel() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fillEndLevel
}

func (c *Config) MaxDailyWaterVolumeM3() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxDailyWaterVolumeM3
}

func (c *Config) FillVolumeBetweenChecks() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fillVolumeBetweenChecks
}

func (c *Config) FillSecondsWait() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fillSecondsWait
}

func (c *Config) AutoLightsOn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoLightsOn
}

func (c *Config) AutoLightsSequence() []CommandDuration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CommandDuration, len(c.autoLightsSequence))
	copy(out, c.autoLightsSequence)
	return out
}

// --- setters: validate/clamp, store, persist, notify ---

// SetSensorRefreshMinutes clamps to [1,20].
func (c *Config) SetSensorRefreshMinutes(ctx context.Context, v int) {
	if v < 1 {
		v = 1
	}
	if v > 20 {
		v = 20
	}
	c.set(ctx, "sensor_refresh_minutes", func() { c.sensorRefreshMinutes = v })
}

func (c *Config) SetDailyFilterAllowedHours(ctx context.Context, hours []int) {
	m := make(map[int]struct{}, len(hours))
	for _, h := range hours {
		if h >= 0 && h <= 23 {
			m[h] = struct{}{}
		}
	}
	c.set(ctx, "daily_filter_allowed_hours", func() { c.dailyFilterAllowedHours = m })
}

func (c *Config) SetPoolHydrodynamicFactor(ctx context.Context, v int) {
	if v < 1 {
		v = 1
	}
	c.set(ctx, "pool_hydrodynamic_factor", func() { c.poolHydrodynamicFactor = v })
}

func (c *Config) SetPoolRecirculationPeriod(ctx context.Context, v int) {
	if v < 1 {
		v = 1
	}
	c.set(ctx, "pool_recirculation_period", func() { c.poolRecirculationPeriod = v })
}

func (c *Config) SetPoolOrpMvSetpoint(ctx context.Context, v float64) {
	c.set(ctx, "pool_orp_mv_setpoint", func() { c.poolOrpMvSetpoint = v })
}

func (c *Config) SetPoolPhSetpoint(ctx context.Context, v float64) {
	c.set(ctx, "pool_ph_setpoint", func() { c.poolPhSetpoint = v })
}

func (c *Config) SetOrpAutoInjectionDisabled(ctx context.Context, v bool) {
	c.set(ctx, "pool_orp_auto_injection_disabled", func() { c.orpAutoInjectionDisabled = v })
}

func (c *Config) SetPhAutoInjectionDisabled(ctx context.Context, v bool) {
	c.set(ctx, "pool_ph_auto_injection_disabled", func() { c.phAutoInjectionDisabled = v })
}

func (c *Config) SetMaxOrpDailySeconds(ctx context.Context, v int) {
	if v < 0 {
		v = 0
	}
	c.set(ctx, "pool_max_orp_daily_seconds", func() { c.maxOrpDailySeconds = v })
}

func (c *Config) SetMaxPhDailySeconds(ctx context.Context, v int) {
	if v < 0 {
		v = 0
	}
	c.set(ctx, "pool_max_ph_daily_seconds", func() { c.maxPhDailySeconds = v })
}

func (c *Config) SetPoolFlowKFactor(ctx context.Context, v float64) {
	if v <= 0 {
		v = 1
	}
	c.set(ctx, "pool_flow_k_factor", func() { c.poolFlowKFactor = v })
}

func (c *Config) SetFillStartLevel(ctx context.Context, v int) {
	c.set(ctx, "pool_fill_start_level", func() { c.fillStartLevel = clampLevel(v) })
}

func (c *Config) SetFillEndLevel(ctx context.Context, v int) {
	c.set(ctx, "pool_fill_end_level", func() { c.fillEndLevel = clampLevel(v) })
}

func clampLevel(v int) int {
	if v < 0 {
		return 0
	}
	if v > 5 {
		return 5
	}
	return v
}

func (c *Config) SetMaxDailyWaterVolumeM3(ctx context.Context, v float64) {
	if v < 0 {
		v = 0
	}
	c.set(ctx, "pool_max_daily_water_volume_m3", func() { c.maxDailyWaterVolumeM3 = v })
}

func (c *Config) SetFillVolumeBetweenChecks(ctx context.Context, v float64) {
	if v <= 0 {
		v = 0.1
	}
	c.set(ctx, "pool_fill_volume_between_checks", func() { c.fillVolumeBetweenChecks = v })
}

func (c *Config) SetFillSecondsWait(ctx context.Context, v int) {
	if v < 0 {
		v = 0
	}
	c.set(ctx, "pool_fill_seconds_wait", func() { c.fillSecondsWait = v })
}

func (c *Config) SetAutoLightsOn(ctx context.Context, v bool) {
	c.set(ctx, "pool_auto_lights_on", func() { c.autoLightsOn = v })
}

func (c *Config) SetAutoLightsSequence(ctx context.Context, seq []CommandDuration) {
	cp := append([]CommandDuration(nil), seq...)
	c.set(ctx, "pool_auto_lights_on_command_sequence", func() { c.autoLightsSequence = cp })
}

func (c *Config) set(ctx context.Context, field string, mutate func()) {
	c.mu.Lock()
	mutate()
	observers := append([]FieldObserver(nil), c.observers[field]...)
	c.mu.Unlock()

	c.persist(ctx)

	for _, o := range observers {
		o.OnConfigFieldChanged(field)
	}
}

func (c *Config) persist(ctx context.Context) {
	if c.repo == nil {
		return
	}
	now := time.Now()
	if c.tz != nil {
		now = now.In(c.tz)
	}
	row := repository.Row{Datetime: now, Fields: c.snapshot()}
	if err := c.repo.UpsertSingle(ctx, repository.CollectionPoolConfig, row); err != nil {
		log.Printf("[poolconfig] persist failed: %v", err)
	}
}

func (c *Config) snapshot() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	hours := make([]int, 0, len(c.dailyFilterAllowedHours))
	for h := range c.dailyFilterAllowedHours {
		hours = append(hours, h)
	}
	sort.Ints(hours)

	seq := make([][2]int, 0, len(c.autoLightsSequence))
	for _, cd := range c.autoLightsSequence {
		seq = append(seq, [2]int{cd.Command, cd.Duration})
	}

	return map[string]any{
		"sensor_refresh_minutes":              c.sensorRefreshMinutes,
		"daily_filter_allowed_hours":           hours,
		"pool_hydrodynamic_factor":             c.poolHydrodynamicFactor,
		"pool_recirculation_period":            c.poolRecirculationPeriod,
		"pool_orp_mv_setpoint":                 c.poolOrpMvSetpoint,
		"pool_ph_setpoint":                     c.poolPhSetpoint,
		"pool_orp_auto_injection_disabled":      c.orpAutoInjectionDisabled,
		"pool_ph_auto_injection_disabled":       c.phAutoInjectionDisabled,
		"pool_max_orp_daily_seconds":            c.maxOrpDailySeconds,
		"pool_max_ph_daily_seconds":             c.maxPhDailySeconds,
		"pool_flow_k_factor":                    c.poolFlowKFactor,
		"pool_fill_start_level":                 c.fillStartLevel,
		"pool_fill_end_level":                   c.fillEndLevel,
		"pool_max_daily_water_volume_m3":        c.maxDailyWaterVolumeM3,
		"pool_fill_volume_between_checks":        c.fillVolumeBetweenChecks,
		"pool_fill_seconds_wait":                c.fillSecondsWait,
		"pool_auto_lights_on":                   c.autoLightsOn,
		"pool_auto_lights_on_command_sequence":   seq,
	}
}

// Load restores the single persisted row, or keeps compiled defaults if
// none exists (ErrNotFound semantics handled by FindLatest's ok=false).
func (c *Config) Load(ctx context.Context) {
	if c.repo == nil {
		return
	}
	row, ok, err := c.repo.FindLatest(ctx, repository.CollectionPoolConfig)
	if err != nil {
		log.Printf("[poolconfig] load failed: %v", err)
		return
	}
	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := asInt(row.Fields["sensor_refresh_minutes"]); ok {
		c.sensorRefreshMinutes = v
	}
	if hours, ok := row.Fields["daily_filter_allowed_hours"].([]int); ok {
		m := make(map[int]struct{}, len(hours))
		for _, h := range hours {
			m[h] = struct{}{}
		}
		c.dailyFilterAllowedHours = m
	}
	if hours, ok := row.Fields["daily_filter_allowed_hours"].([]any); ok {
		m := make(map[int]struct{}, len(hours))
		for _, h := range hours {
			if hv, ok := asInt(h); ok {
				m[hv] = struct{}{}
			}
		}
		c.dailyFilterAllowedHours = m
	}
	if v, ok := asInt(row.Fields["pool_hydrodynamic_factor"]); ok {
		c.poolHydrodynamicFactor = v
	}
	if v, ok := asInt(row.Fields["pool_recirculation_period"]); ok {
		c.poolRecirculationPeriod = v
	}
	if v, ok := row.Fields["pool_orp_mv_setpoint"].(float64); ok {
		c.poolOrpMvSetpoint = v
	}
	if v, ok := row.Fields["pool_ph_setpoint"].(float64); ok {
		c.poolPhSetpoint = v
	}
	if v, ok := row.Fields["pool_orp_auto_injection_disabled"].(bool); ok {
		c.orpAutoInjectionDisabled = v
	}
	if v, ok := row.Fields["pool_ph_auto_injection_disabled"].(bool); ok {
		c.phAutoInjectionDisabled = v
	}
	if v, ok := asInt(row.Fields["pool_max_orp_daily_seconds"]); ok {
		c.maxOrpDailySeconds = v
	}
	if v, ok := asInt(row.Fields["pool_max_ph_daily_seconds"]); ok {
		c.maxPhDailySeconds = v
	}
	if v, ok := row.Fields["pool_flow_k_factor"].(float64); ok {
		c.poolFlowKFactor = v
	}
	if v, ok := asInt(row.Fields["pool_fill_start_level"]); ok {
		c.fillStartLevel = v
	}
	if v, ok := asInt(row.Fields["pool_fill_end_level"]); ok {
		c.fillEndLevel = v
	}
	if v, ok := row.Fields["pool_max_daily_water_volume_m3"].(float64); ok {
		c.maxDailyWaterVolumeM3 = v
	}
	if v, ok := row.Fields["pool_fill_volume_between_checks"].(float64); ok {
		c.fillVolumeBetweenChecks = v
	}
	if v, ok := asInt(row.Fields["pool_fill_seconds_wait"]); ok {
		c.fillSecondsWait = v
	}
	if v, ok := row.Fields["pool_auto_lights_on"].(bool); ok {
		c.autoLightsOn = v
	}
	if seq, ok := decodeCommandDurationSequence(row.Fields["pool_auto_lights_on_command_sequence"]); ok {
		c.autoLightsSequence = seq
	}
}

// decodeCommandDurationSequence restores the [(command, duration), ...]
// sequence snapshot() persisted as [][2]int. Backends that round-trip
// through JSON (postgres, sqlite) hand it back as []any of []any of
// float64; the in-memory store hands back the original [][2]int untouched.
// Both shapes are accepted so Load works identically across backends.
func decodeCommandDurationSequence(v any) ([]CommandDuration, bool) {
	switch seq := v.(type) {
	case [][2]int:
		out := make([]CommandDuration, len(seq))
		for i, pair := range seq {
			out[i] = CommandDuration{Command: pair[0], Duration: pair[1]}
		}
		return out, true
	case []any:
		out := make([]CommandDuration, 0, len(seq))
		for _, raw := range seq {
			pair, ok := raw.([]any)
			if !ok || len(pair) != 2 {
				return nil, false
			}
			cmd, ok1 := asInt(pair[0])
			dur, ok2 := asInt(pair[1])
			if !ok1 || !ok2 {
				return nil, false
			}
			out = append(out, CommandDuration{Command: cmd, Duration: dur})
		}
		return out, true
	default:
		return nil, false
	}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
