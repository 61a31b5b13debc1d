// Command poolcontrold runs the pool control daemon: it wires the full
// System object graph, loads persisted state, starts every scheduler task,
// and serves the read-only diagnostics API. Grounded on the teacher's
// cmd/timemachine/main.go for the flag/YAML-defaults/DSN-dispatch shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pv/poolcontrold/internal/archive"
	"github.com/pv/poolcontrold/internal/archive/clickhouse"
	"github.com/pv/poolcontrold/internal/archive/influxdb"
	"github.com/pv/poolcontrold/internal/board"
	"github.com/pv/poolcontrold/internal/diagapi"
	"github.com/pv/poolcontrold/internal/repository"
	"github.com/pv/poolcontrold/internal/repository/memstore"
	"github.com/pv/poolcontrold/internal/repository/postgres"
	"github.com/pv/poolcontrold/internal/repository/sqlite"
	"github.com/pv/poolcontrold/internal/sensor"
	"github.com/pv/poolcontrold/internal/system"
	"github.com/pv/poolcontrold/internal/water"
)

const version = "1.0.0"

type options struct {
	configYAML   string
	dbURL        string
	archiveURL   string
	archiveTable string
	httpAddr     string
	timezone     string
	logFile      string
	fake         bool
	showVersion  bool
}

func main() {
	opts := parseFlags()

	if opts.showVersion {
		fmt.Println("poolcontrold", version)
		return
	}

	if err := configureLogging(opts.logFile); err != nil {
		log.Fatalf("log file: %v", err)
	}

	tz, err := time.LoadLocation(opts.timezone)
	if err != nil {
		log.Fatalf("invalid --timezone %q: %v", opts.timezone, err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	repo, closeRepo := initRepository(ctx, opts)
	defer closeRepo()

	sink := initArchivalSink(ctx, opts)

	var brd board.Board
	if opts.fake {
		// Passing nil makes System construct a board.FakeBoard wired to its
		// own analog sensors, so the demo path actually drives the control
		// plane instead of sitting inert.
		log.Printf("[poolcontrold] driving a fake board (synthetic sensors)")
		brd = nil
	} else {
		// The real GPIO/ADC driver is out of scope (see SPEC_FULL.md); the
		// static board keeps the daemon runnable without hardware attached,
		// but feeds no sensors — only --fake-board produces a live system.
		log.Printf("[poolcontrold] no hardware driver wired, falling back to a static board")
		brd = board.NewStaticTemperatureBoard(24.0)
	}

	sys := system.New(repo, sink, brd, tz)
	sys.Load(ctx)
	sys.Start(ctx)

	diag := diagapi.New(func() diagapi.Snapshot { return buildSnapshot(sys) })
	sys.Water.AddCallback(water.ObserverFunc(diag.Broadcast))
	if opts.httpAddr != "" {
		srv := &http.Server{Addr: opts.httpAddr, Handler: diag.Handler()}
		go func() {
			log.Printf("[poolcontrold] diagnostics API listening on %s", opts.httpAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("[poolcontrold] http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
	}

	log.Printf("[poolcontrold] started (db=%s timezone=%s)", opts.dbURL, tz)
	<-ctx.Done()
	log.Printf("[poolcontrold] shutting down")
	sys.Stop()
}

func buildSnapshot(sys *system.System) diagapi.Snapshot {
	readSensor := func(s *sensor.Sensor) diagapi.SensorView {
		v, ok, _ := s.Value()
		return diagapi.SensorView{Value: v, IsOK: ok}
	}
	temp, orp, ph, tds, hasTemp, hasOrp, hasPh, hasTds := sys.Water.Means()
	_ = hasTemp
	_ = hasOrp
	_ = hasPh
	_ = hasTds
	lsi, hasLSI := sys.Water.LSI()

	actuatorView := func(id board.ActuatorID) diagapi.ActuatorView {
		onTotal, onAuto, onManual, _, sec := sys.Actuator.Stats(id)
		return diagapi.ActuatorView{
			Teoric: sys.Actuator.TeoricState(id), OnTotal: onTotal, OnAuto: onAuto,
			OnManual: onManual, SecSinceLastOn: sec,
		}
	}

	return diagapi.Snapshot{
		Timestamp: time.Now(),
		Sensors: map[string]diagapi.SensorView{
			"ph": readSensor(sys.Sensors.Ph), "orp": readSensor(sys.Sensors.Orp),
			"tds": readSensor(sys.Sensors.Tds), "temperature": readSensor(sys.Sensors.Temperature),
		},
		Actuators: map[string]diagapi.ActuatorView{
			"filter_pump": actuatorView(board.FilterPump),
			"bleach_pump": actuatorView(board.BleachPump),
			"acid_pump":   actuatorView(board.AcidPump),
			"fill_valve":  actuatorView(board.FillValve),
			"aux_out":     actuatorView(board.AuxOut),
		},
		Tanks: map[string]diagapi.TankView{
			"bleach": {CurrentLiters: sys.BleachTank.CurrentLiters(), MaxCapacity: sys.BleachTank.MaxCapacity()},
			"acid":   {CurrentLiters: sys.AcidTank.CurrentLiters(), MaxCapacity: sys.AcidTank.MaxCapacity()},
		},
		Water: diagapi.WaterView{
			Valid: sys.Water.Valid(), MeanTemp: temp, MeanOrp: orp, MeanPh: ph, MeanTds: tds,
			LSI: lsi, HasLSI: hasLSI,
		},
		Algorithms: diagapi.AlgorithmsView{
			FilterState:     sys.Filter.State().String(),
			FilterRemaining: sys.Filter.RemainingSeconds(),
			LightsState:     sys.Lights.State().String(),
			LightsAreOn:     sys.Lights.LightsAreOn(),
			LevelState:      sys.Level.State().String(),
		},
	}
}

func parseFlags() options {
	var opt options
	flag.StringVar(&opt.configYAML, "config-yaml", "", "path to YAML file with default flag values")
	flag.StringVar(&opt.dbURL, "db", "", "repository DSN (postgres://..., sqlite://path, or empty for in-memory)")
	flag.StringVar(&opt.archiveURL, "archive", "", "optional archival sink DSN (clickhouse://... or influxdb://...)")
	flag.StringVar(&opt.archiveTable, "archive-table", "sensor_history", "ClickHouse archival table name (InfluxDB always writes measurement sensor_history)")
	flag.StringVar(&opt.httpAddr, "http-addr", ":8080", "diagnostics HTTP/WebSocket API address; empty to disable")
	flag.StringVar(&opt.timezone, "timezone", "Europe/Madrid", "IANA timezone used for day-rollover accounting")
	flag.StringVar(&opt.logFile, "log-file", "", "write logs to file instead of stderr")
	flag.BoolVar(&opt.fake, "fake-board", true, "drive a deterministic fake board instead of real hardware")
	flag.BoolVar(&opt.showVersion, "version", false, "print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [options]\n\n", os.Args[0])
		flag.PrintDefaults()
	}

	if cfgPath := findConfigYAML(os.Args[1:]); cfgPath != "" {
		if err := applyYAMLDefaults(cfgPath); err != nil {
			log.Fatalf("failed to apply --config-yaml: %v", err)
		}
	}
	flag.Parse()
	return opt
}

func findConfigYAML(args []string) string {
	for i := 0; i < len(args); i++ {
		if strings.HasPrefix(args[i], "--config-yaml=") {
			return strings.TrimPrefix(args[i], "--config-yaml=")
		}
		if args[i] == "--config-yaml" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func applyYAMLDefaults(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key, value := range raw {
		if flagDef := flag.Lookup(key); flagDef != nil {
			if err := flag.CommandLine.Set(key, fmt.Sprintf("%v", value)); err != nil {
				return fmt.Errorf("set flag %s: %w", key, err)
			}
		}
	}
	return nil
}

func initRepository(ctx context.Context, opts options) (repository.Repository, func()) {
	if opts.dbURL == "" {
		store := memstore.New()
		return store, func() { store.Close() }
	}
	if postgres.IsPostgresURL(opts.dbURL) {
		store, err := postgres.New(ctx, postgres.Config{ConnString: opts.dbURL})
		if err != nil {
			log.Fatalf("postgres repository: %v", err)
		}
		return store, func() { store.Close() }
	}
	if sqlite.IsSource(opts.dbURL) {
		store, err := sqlite.New(ctx, sqlite.Config{
			Source:  sqlite.NormalizeSource(opts.dbURL),
			Pragmas: sqlite.Pragmas{CacheMB: 100, WAL: true, SyncOff: true, TempMemory: true},
		})
		if err != nil {
			log.Fatalf("sqlite repository: %v", err)
		}
		return store, func() { store.Close() }
	}
	log.Fatalf("unsupported --db value: %s", opts.dbURL)
	return nil, func() {}
}

func initArchivalSink(ctx context.Context, opts options) archive.Sink {
	if opts.archiveURL == "" {
		return archive.NullSink{}
	}
	if clickhouse.IsSource(opts.archiveURL) {
		sink, err := clickhouse.New(ctx, clickhouse.Config{DSN: opts.archiveURL, Table: opts.archiveTable})
		if err != nil {
			log.Printf("[poolcontrold] clickhouse archival sink unavailable: %v", err)
			return archive.NullSink{}
		}
		return sink
	}
	if strings.HasPrefix(opts.archiveURL, "influxdb://") {
		sink, err := influxdb.New(ctx, opts.archiveURL)
		if err != nil {
			log.Printf("[poolcontrold] influxdb archival sink unavailable: %v", err)
			return archive.NullSink{}
		}
		return sink
	}
	log.Fatalf("unsupported --archive value: %s", opts.archiveURL)
	return archive.NullSink{}
}

func configureLogging(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	log.SetOutput(f)
	return nil
}
