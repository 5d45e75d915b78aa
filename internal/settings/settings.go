package settings

import (
	"encoding/json"
	"fmt"
	"time"
)

// Mode selects the visual treatment a rendering target applies.
type Mode string

const (
	ModeBluelight Mode = "bluelight"
	ModeDarkmode  Mode = "darkmode"
	ModeBoth      Mode = "both"
	ModeGrayscale Mode = "grayscale"
)

// ScheduleType selects where the active window comes from.
type ScheduleType string

const (
	ScheduleManual ScheduleType = "manual"
	ScheduleAuto   ScheduleType = "auto"
)

// Settings is the single persisted record driving the filter. CurrentIntensity
// and IsActive are derived fields cached for display; consumers that care
// about consistency recompute them instead of trusting the stored values.
type Settings struct {
	Enabled          bool         `json:"enabled"`
	Mode             Mode         `json:"mode"`
	ScheduleType     ScheduleType `json:"schedule_type"`
	StartTime        string       `json:"start_time"`
	EndTime          string       `json:"end_time"`
	Latitude         *float64     `json:"latitude"`
	Longitude        *float64     `json:"longitude"`
	Intensity        int          `json:"intensity"`
	CurrentIntensity int          `json:"current_intensity"`
	IsActive         bool         `json:"is_active"`
	ManualActive     bool         `json:"manual_active"`
}

// Defaults returns the settings a fresh install starts with.
func Defaults() Settings {
	return Settings{
		Enabled:          true,
		Mode:             ModeBluelight,
		ScheduleType:     ScheduleManual,
		StartTime:        "21:00",
		EndTime:          "07:00",
		Latitude:         nil,
		Longitude:        nil,
		Intensity:        60,
		CurrentIntensity: 0,
		IsActive:         false,
		ManualActive:     false,
	}
}

// Merge unmarshals a stored record over the defaults so fields absent in an
// older install pick up their default values. A corrupt record is reported
// alongside the defaults so the caller can decide whether to log or fail.
func Merge(raw []byte) (Settings, error) {
	s := Defaults()
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return Defaults(), fmt.Errorf("failed to parse stored settings: %w", err)
	}
	s.Normalize()
	return s, nil
}

// Normalize clamps out-of-range values and repairs malformed fields so the
// rest of the system never sees an invalid record.
func (s *Settings) Normalize() {
	if s.Intensity < 0 {
		s.Intensity = 0
	}
	if s.Intensity > 100 {
		s.Intensity = 100
	}
	if s.CurrentIntensity < 0 {
		s.CurrentIntensity = 0
	}
	if s.CurrentIntensity > 100 {
		s.CurrentIntensity = 100
	}

	switch s.Mode {
	case ModeBluelight, ModeDarkmode, ModeBoth, ModeGrayscale:
	default:
		s.Mode = ModeBluelight
	}
	switch s.ScheduleType {
	case ScheduleManual, ScheduleAuto:
	default:
		s.ScheduleType = ScheduleManual
	}

	defaults := Defaults()
	if !validClock(s.StartTime) {
		s.StartTime = defaults.StartTime
	}
	if !validClock(s.EndTime) {
		s.EndTime = defaults.EndTime
	}

	if s.Latitude != nil && (*s.Latitude < -90 || *s.Latitude > 90) {
		s.Latitude = nil
	}
	if s.Longitude != nil && (*s.Longitude < -180 || *s.Longitude > 180) {
		s.Longitude = nil
	}

	s.IsActive = s.CurrentIntensity > 0
}

// HasLocation reports whether both coordinates are present. Auto scheduling
// without coordinates behaves like manual scheduling.
func (s Settings) HasLocation() bool {
	return s.Latitude != nil && s.Longitude != nil
}

// Clone returns a deep copy so no caller ever holds a live reference to the
// stored record.
func (s Settings) Clone() Settings {
	out := s
	if s.Latitude != nil {
		lat := *s.Latitude
		out.Latitude = &lat
	}
	if s.Longitude != nil {
		lon := *s.Longitude
		out.Longitude = &lon
	}
	return out
}

func validClock(v string) bool {
	_, err := time.Parse("15:04", v)
	return err == nil
}
