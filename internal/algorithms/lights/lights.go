// Package lights implements LightsAlgorithm: day/night detection from the
// light sensor and playback of the configured LUMIPLUS command sequence at
// nightfall. Grounded on original_source/src/algorithms/lights.py.
package lights

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/pv/poolcontrold/internal/lightlink"
	"github.com/pv/poolcontrold/internal/poolconfig"
	"github.com/pv/poolcontrold/internal/repository"
)

// State is LightsAlgorithm's two-state machine.
type State int

const (
	WaitingForNight State = iota
	WaitingForDay
)

func (s State) String() string {
	if s == WaitingForDay {
		return "waiting_for_day"
	}
	return "waiting_for_night"
}

// Link is the subset of lightlink.Client the algorithm needs.
type Link interface {
	Send(ctx context.Context, cmd lightlink.Command) (bool, error)
}

// Config is the subset of poolconfig.Config the algorithm reads.
type Config interface {
	AutoLightsOn() bool
	AutoLightsSequence() []poolconfig.CommandDuration
}

// Repository is the subset of repository.Repository the algorithm needs.
type Repository interface {
	UpsertSingle(ctx context.Context, collection string, row repository.Row) error
	FindLatest(ctx context.Context, collection string) (repository.Row, bool, error)
}

// Sleeper abstracts time.Sleep so tests can avoid real waits.
type Sleeper func(d time.Duration)

// Algorithm is LightsAlgorithm.
type Algorithm struct {
	link  Link
	cfg   Config
	repo  Repository
	tz    *time.Location
	sleep Sleeper

	mu         sync.Mutex
	state      State
	lightsAreOn bool
}

// New constructs LightsAlgorithm. initialLightPresent sets the starting
// state to match the light sensor's current reading, as the source does on
// instantiation.
func New(link Link, cfg Config, repo Repository, tz *time.Location, initialLightPresent bool) *Algorithm {
	state := WaitingForNight
	if !initialLightPresent {
		state = WaitingForDay
	}
	return &Algorithm{link: link, cfg: cfg, repo: repo, tz: tz, sleep: time.Sleep, state: state}
}

// SetSleeper overrides the synchronous wait used for non-built-in sequence durations.
func (a *Algorithm) SetSleeper(s Sleeper) { a.sleep = s }

func (a *Algorithm) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Algorithm) LightsAreOn() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lightsAreOn
}

// OnLightSensor implements the binary light-sensor subscriber, per §4.12:
// a transition into "no light" while auto-control is enabled triggers the
// configured command sequence.
func (a *Algorithm) OnLightSensor(ctx context.Context, lightPresent bool) {
	if !a.cfg.AutoLightsOn() {
		return
	}

	a.mu.Lock()
	state := a.state
	a.mu.Unlock()

	switch state {
	case WaitingForNight:
		if !lightPresent {
			a.mu.Lock()
			a.state = WaitingForDay
			a.mu.Unlock()
			a.executeSequence(ctx, a.cfg.AutoLightsSequence())
		}
	case WaitingForDay:
		if lightPresent {
			a.mu.Lock()
			a.state = WaitingForNight
			a.mu.Unlock()
		}
	}
}

func (a *Algorithm) executeSequence(ctx context.Context, seq []poolconfig.CommandDuration) {
	for _, step := range seq {
		cmd := lightlink.Command(step.Command)
		if step.Duration <= 0 {
			a.sendCommand(ctx, cmd)
			continue
		}
		ok := a.sendCommand(ctx, cmd)
		if !ok {
			continue
		}
		if timingCmd, found := lightlink.TimingCommandForDuration(step.Duration); found {
			a.sendCommand(ctx, timingCmd)
		} else {
			a.sleep(time.Duration(step.Duration) * time.Second)
		}
	}
}

func (a *Algorithm) sendCommand(ctx context.Context, cmd lightlink.Command) bool {
	ok, err := a.link.Send(ctx, cmd)
	if err != nil {
		log.Printf("[lights] send command %d failed: %v", cmd, err)
		return false
	}

	if ok {
		if cmd >= lightlink.CommandRed && cmd <= lightlink.CommandSequenceEleven {
			a.setLightsAreOn(ctx, true)
		} else if cmd == lightlink.CommandShutdown {
			a.setLightsAreOn(ctx, false)
		}
	}
	return ok
}

func (a *Algorithm) setLightsAreOn(ctx context.Context, v bool) {
	a.mu.Lock()
	a.lightsAreOn = v
	a.mu.Unlock()
	a.persist(ctx)
}

func (a *Algorithm) persist(ctx context.Context) {
	if a.repo == nil {
		return
	}
	now := time.Now()
	if a.tz != nil {
		now = now.In(a.tz)
	}

	a.mu.Lock()
	fields := map[string]any{
		"lights_are_on": a.lightsAreOn,
		"state":         a.state.String(),
	}
	a.mu.Unlock()

	row := repository.Row{Datetime: now, Fields: fields}
	if err := a.repo.UpsertSingle(ctx, repository.CollectionLightsAlgo, row); err != nil {
		log.Printf("[lights] persist failed: %v", err)
	}
}

// Load restores the persisted lights_are_on flag. The persisted "state"
// field is not restored: the state machine's phase is the one derived from
// the light sensor reading at construction.
func (a *Algorithm) Load(ctx context.Context) {
	if a.repo == nil {
		return
	}
	row, ok, err := a.repo.FindLatest(ctx, repository.CollectionLightsAlgo)
	if err != nil {
		log.Printf("[lights] load failed: %v", err)
		return
	}
	if !ok {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if v, ok := row.Fields["lights_are_on"].(bool); ok {
		a.lightsAreOn = v
	}
}
