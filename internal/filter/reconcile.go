package filter

import (
	"time"

	"github.com/duskfall/duskfall/internal/settings"
)

// WindowSource says where the effective window came from.
type WindowSource string

const (
	WindowManual WindowSource = "manual"
	WindowSolar  WindowSource = "solar"
)

// State is the target filter state for one instant: what every rendering
// target should converge to.
type State struct {
	Mode         settings.Mode `json:"mode"`
	Intensity    int           `json:"intensity"`
	Enabled      bool          `json:"enabled"`
	Active       bool          `json:"active"`
	WindowStart  string        `json:"window_start"`
	WindowEnd    string        `json:"window_end"`
	WindowSource WindowSource  `json:"window_source"`
}

// Resolve computes the target state for the given settings and instant.
//
// In auto mode with coordinates present the solar window (sunset to sunrise)
// replaces the stored times for this evaluation only; the user's manual times
// are never overwritten. Auto mode without coordinates behaves like manual.
func Resolve(s settings.Settings, now time.Time) State {
	start, end := s.StartTime, s.EndTime
	source := WindowManual

	if s.ScheduleType == settings.ScheduleAuto && s.HasLocation() {
		sunrise, sunset := SolarWindow(*s.Latitude, *s.Longitude, now)
		start, end = sunset, sunrise
		source = WindowSolar
	}

	inWindow := false
	startMin, errStart := ParseClock(start)
	endMin, errEnd := ParseClock(end)
	if errStart == nil && errEnd == nil {
		inWindow = InWindow(startMin, endMin, MinutesOfDay(now))
	}

	intensity := EffectiveIntensity(s, inWindow)

	return State{
		Mode:         s.Mode,
		Intensity:    intensity,
		Enabled:      s.Enabled,
		Active:       intensity > 0,
		WindowStart:  start,
		WindowEnd:    end,
		WindowSource: source,
	}
}
