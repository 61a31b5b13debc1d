package lights

import (
	"context"
	"testing"
	"time"

	"github.com/pv/poolcontrold/internal/lightlink"
	"github.com/pv/poolcontrold/internal/poolconfig"
	"github.com/pv/poolcontrold/internal/repository/memstore"
)

type fakeLink struct {
	sent []lightlink.Command
	fail bool
}

func (f *fakeLink) Send(_ context.Context, cmd lightlink.Command) (bool, error) {
	f.sent = append(f.sent, cmd)
	return !f.fail, nil
}

type fakeConfig struct {
	auto bool
	seq  []poolconfig.CommandDuration
}

func (c *fakeConfig) AutoLightsOn() bool                           { return c.auto }
func (c *fakeConfig) AutoLightsSequence() []poolconfig.CommandDuration { return c.seq }

func TestInitialStateMatchesLightSensor(t *testing.T) {
	a := New(&fakeLink{}, &fakeConfig{}, memstore.New(), time.UTC, true)
	if a.State() != WaitingForNight {
		t.Fatalf("expected WaitingForNight when light present")
	}
	a2 := New(&fakeLink{}, &fakeConfig{}, memstore.New(), time.UTC, false)
	if a2.State() != WaitingForDay {
		t.Fatalf("expected WaitingForDay when light absent")
	}
}

func TestNightfallTriggersSequence(t *testing.T) {
	ctx := context.Background()
	link := &fakeLink{}
	cfg := &fakeConfig{auto: true, seq: []poolconfig.CommandDuration{
		{Command: int(lightlink.CommandRed), Duration: 0},
		{Command: int(lightlink.CommandShutdown), Duration: 0},
	}}
	a := New(link, cfg, memstore.New(), time.UTC, true)

	a.OnLightSensor(ctx, false)

	if a.State() != WaitingForDay {
		t.Fatalf("expected transition to WaitingForDay")
	}
	if len(link.sent) != 2 {
		t.Fatalf("expected both sequence commands sent, got %d", len(link.sent))
	}
	if a.LightsAreOn() {
		t.Fatalf("expected lights off after shutdown command echoed")
	}
}

func TestDisabledAutoSkipsSequence(t *testing.T) {
	ctx := context.Background()
	link := &fakeLink{}
	cfg := &fakeConfig{auto: false, seq: []poolconfig.CommandDuration{{Command: int(lightlink.CommandRed), Duration: 0}}}
	a := New(link, cfg, memstore.New(), time.UTC, true)

	a.OnLightSensor(ctx, false)

	if len(link.sent) != 0 {
		t.Fatalf("expected no commands sent while auto disabled")
	}
}

func TestBuiltInTimingDurationSendsTimingCommandInsteadOfSleeping(t *testing.T) {
	ctx := context.Background()
	link := &fakeLink{}
	cfg := &fakeConfig{auto: true, seq: []poolconfig.CommandDuration{
		{Command: int(lightlink.CommandBlue), Duration: 15 * 60},
	}}
	a := New(link, cfg, memstore.New(), time.UTC, true)
	slept := false
	a.SetSleeper(func(time.Duration) { slept = true })

	a.OnLightSensor(ctx, false)

	if slept {
		t.Fatalf("expected timing command sent instead of sleeping for a built-in duration")
	}
	if len(link.sent) != 2 || link.sent[1] != lightlink.CommandTiming1 {
		t.Fatalf("expected second command to be CommandTiming1, got %v", link.sent)
	}
}

func TestNonBuiltInDurationSleeps(t *testing.T) {
	ctx := context.Background()
	link := &fakeLink{}
	cfg := &fakeConfig{auto: true, seq: []poolconfig.CommandDuration{
		{Command: int(lightlink.CommandBlue), Duration: 42},
	}}
	a := New(link, cfg, memstore.New(), time.UTC, true)
	var sleptFor time.Duration
	a.SetSleeper(func(d time.Duration) { sleptFor = d })

	a.OnLightSensor(ctx, false)

	if sleptFor != 42*time.Second {
		t.Fatalf("expected sleep of 42s, got %v", sleptFor)
	}
}
