// Package repository abstracts the persistent document store behind three
// operations: find the latest row in a collection, replace the single row of
// a single-row collection, and append a row to an append-only collection.
// Grounded on the teacher's storage.Storage interface (internal/storage in
// the uniset-timemachine tree), adapted from replay/warmup semantics to the
// control plane's upsert/insert/find-latest semantics.
package repository

import (
	"context"
	"time"
)

// Row is a persisted document: a named collection entry with a timestamp and
// an opaque field map. Every collection this system persists fits this shape
// (single-row snapshots and append-only sensor/event history alike).
type Row struct {
	Collection string
	Datetime   time.Time
	Fields     map[string]any
}

// Repository is implemented by every storage backend (postgres, sqlite, the
// in-memory default). Implementations must tolerate concurrent calls from
// different collections; a single collection is only ever touched by one
// owning component, so no cross-collection locking is required here.
type Repository interface {
	// FindLatest returns the most recent row in collection ordered by
	// Datetime descending, or ok=false if the collection is empty.
	FindLatest(ctx context.Context, collection string) (Row, bool, error)

	// UpsertSingle replaces the single row of a single-row collection.
	UpsertSingle(ctx context.Context, collection string, row Row) error

	// Insert appends a new row to an append-only collection.
	Insert(ctx context.Context, collection string, row Row) error

	// Close releases backend resources (pool connections, file handles).
	Close() error
}

// Collection names, shared across all three backends and the callers that
// reference them so a typo cannot silently create a sibling collection.
const (
	CollectionSensorData      = "sensor_data"
	CollectionChemicalTank    = "chemical_tank_data"
	CollectionActuatorControl = "actuator_control_data"
	CollectionPoolConfig      = "pool_config_data"
	CollectionFilterAlgo      = "filter_algorithm_data"
	CollectionChemicalsAlgo   = "chemicals_algorithm_data"
	CollectionLevelAlgo       = "level_algorithm_data"
	CollectionLightsAlgo      = "lights_algorithm_data"
	CollectionFlow            = "flow_data"
	CollectionWater           = "water_data"
	CollectionFilterData      = "filter_data"
)
