package sensor

import (
	"context"
	"testing"
	"time"
)

type recordingObserver struct {
	readings []Reading
}

func (r *recordingObserver) OnSensorValue(reading Reading) {
	r.readings = append(r.readings, reading)
}

func TestAddValueRangeValidity(t *testing.T) {
	min, max := 7.0, 7.6
	s := New(KindPh, nil, time.UTC, WithRange(&min, &max))

	s.AddValue(context.Background(), 7.3, false)
	if _, ok, _ := s.Value(); !ok {
		t.Fatalf("expected 7.3 to be within [%.1f,%.1f]", min, max)
	}

	s.AddValue(context.Background(), 6.9, false)
	if _, ok, _ := s.Value(); ok {
		t.Fatalf("expected 6.9 to fail the lower bound")
	}

	s.AddValue(context.Background(), 8.0, false)
	if _, ok, _ := s.Value(); ok {
		t.Fatalf("expected 8.0 to fail the upper bound")
	}
}

func TestBooleanSensorAlwaysValid(t *testing.T) {
	min, max := 100.0, 100.0 // nonsensical bounds that would fail a numeric check
	s := New(KindEmergencyStop, nil, time.UTC, WithBoolean(), WithRange(&min, &max))

	s.AddBooleanValue(context.Background(), false, false)
	if _, ok, _ := s.Value(); !ok {
		t.Fatalf("boolean sensors must always be valid regardless of range")
	}
}

func TestObserversFireInRegistrationOrder(t *testing.T) {
	s := New(KindTemperature, nil, time.UTC)
	var order []int
	s.AddCallback(ObserverFunc(func(Reading) { order = append(order, 1) }))
	s.AddCallback(ObserverFunc(func(Reading) { order = append(order, 2) }))
	s.AddCallback(ObserverFunc(func(Reading) { order = append(order, 3) }))

	s.AddValue(context.Background(), 25.0, false)

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("expected observers fired in registration order, got %v", order)
	}
}

func TestPreviousReadingRotates(t *testing.T) {
	s := New(KindTemperature, nil, time.UTC)
	s.AddValue(context.Background(), 20.0, false)
	s.AddValue(context.Background(), 22.0, false)

	prev := s.Previous()
	if prev.Value != 20.0 {
		t.Fatalf("expected previous value 20.0, got %f", prev.Value)
	}
	v, _, _ := s.Value()
	if v != 22.0 {
		t.Fatalf("expected current value 22.0, got %f", v)
	}
}

func TestFlowSensorIntegratesDailyVolume(t *testing.T) {
	f := NewFlowSensor(nil, time.UTC, 7.5)
	now := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		f.AddTick()
	}
	f.Tick(context.Background(), now, time.Second)

	if f.FlowRate() <= 0 {
		t.Fatalf("expected positive flow rate after ticks, got %f", f.FlowRate())
	}
	if f.DailyVolume() <= 0 {
		t.Fatalf("expected positive daily volume after ticks, got %f", f.DailyVolume())
	}
}

func TestFlowSensorDailyResetOnRollover(t *testing.T) {
	f := NewFlowSensor(nil, time.UTC, 7.5)
	day1 := time.Date(2026, 7, 29, 23, 59, 59, 0, time.UTC)
	day2 := time.Date(2026, 7, 30, 0, 0, 1, 0, time.UTC)

	for i := 0; i < 100; i++ {
		f.AddTick()
	}
	f.Tick(context.Background(), day1, time.Second)
	if f.DailyVolume() == 0 {
		t.Fatalf("expected nonzero volume before rollover")
	}

	f.Tick(context.Background(), day2, time.Second)
	if f.DailyVolume() != 0 {
		t.Fatalf("expected daily volume to reset on day rollover, got %f", f.DailyVolume())
	}
}
