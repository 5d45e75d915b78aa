package filter

import (
	"testing"
	"time"

	"github.com/duskfall/duskfall/internal/settings"
)

func floatPtr(v float64) *float64 {
	return &v
}

func TestResolveManualWindow(t *testing.T) {
	s := settings.Defaults()
	s.Enabled = true
	s.StartTime = "21:00"
	s.EndTime = "07:00"
	s.Intensity = 80

	night := time.Date(2024, time.January, 15, 23, 0, 0, 0, time.UTC)
	day := time.Date(2024, time.January, 15, 12, 0, 0, 0, time.UTC)

	nightState := Resolve(s, night)
	if nightState.Intensity != 80 || !nightState.Active {
		t.Errorf("night state = intensity %d active %v, want 80/true",
			nightState.Intensity, nightState.Active)
	}
	if nightState.WindowSource != WindowManual {
		t.Errorf("window source = %s, want manual", nightState.WindowSource)
	}

	dayState := Resolve(s, day)
	if dayState.Intensity != 0 || dayState.Active {
		t.Errorf("day state = intensity %d active %v, want 0/false",
			dayState.Intensity, dayState.Active)
	}
}

func TestResolveDisabledAlwaysZero(t *testing.T) {
	s := settings.Defaults()
	s.Enabled = false
	s.ManualActive = true
	s.Intensity = 100

	state := Resolve(s, time.Date(2024, time.January, 15, 23, 0, 0, 0, time.UTC))
	if state.Intensity != 0 || state.Active {
		t.Errorf("disabled state = intensity %d active %v, want 0/false",
			state.Intensity, state.Active)
	}
}

func TestResolveAutoWithoutLocationBehavesManual(t *testing.T) {
	s := settings.Defaults()
	s.ScheduleType = settings.ScheduleAuto
	s.StartTime = "21:00"
	s.EndTime = "07:00"

	state := Resolve(s, time.Date(2024, time.January, 15, 23, 0, 0, 0, time.UTC))
	if state.WindowSource != WindowManual {
		t.Errorf("window source = %s, want manual when coordinates are absent", state.WindowSource)
	}
	if state.WindowStart != "21:00" || state.WindowEnd != "07:00" {
		t.Errorf("window = %s-%s, want stored manual times", state.WindowStart, state.WindowEnd)
	}
}

func TestResolveAutoUsesSolarWindow(t *testing.T) {
	s := settings.Defaults()
	s.Enabled = true
	s.ScheduleType = settings.ScheduleAuto
	s.Latitude = floatPtr(51.5)
	s.Longitude = floatPtr(-0.12)
	s.Intensity = 70

	// London in June, late evening UTC: past sunset, before sunrise
	now := time.Date(2024, time.June, 20, 23, 0, 0, 0, time.UTC)
	state := Resolve(s, now)

	if state.WindowSource != WindowSolar {
		t.Fatalf("window source = %s, want solar", state.WindowSource)
	}

	sunrise, sunset := SolarWindow(51.5, -0.12, now)
	if state.WindowStart != sunset || state.WindowEnd != sunrise {
		t.Errorf("window = %s-%s, want sunset %s to sunrise %s",
			state.WindowStart, state.WindowEnd, sunset, sunrise)
	}

	if state.Intensity != 70 || !state.Active {
		t.Errorf("late evening state = intensity %d active %v, want 70/true",
			state.Intensity, state.Active)
	}

	// The user's stored manual times are untouched
	if s.StartTime != "21:00" || s.EndTime != "07:00" {
		t.Errorf("stored times mutated to %s-%s", s.StartTime, s.EndTime)
	}
}
