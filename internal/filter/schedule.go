package filter

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/duskfall/duskfall/internal/settings"
)

// ParseClock converts a "HH:MM" wall-clock string to minutes since midnight
func ParseClock(v string) (int, error) {
	parts := strings.Split(v, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock string %q", v)
	}

	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid clock string %q: %w", v, err)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid clock string %q: %w", v, err)
	}

	if hours < 0 || hours > 23 || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("clock string %q out of range", v)
	}

	return hours*60 + minutes, nil
}

// MinutesOfDay returns the minutes since local midnight for the given instant
func MinutesOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// InWindow reports whether now falls inside the half-open window [start, end),
// all in minutes since midnight. A window with start > end wraps across
// midnight (21:00-07:00 covers the night); start == end is an empty window.
func InWindow(start, end, now int) bool {
	if start == end {
		return false
	}
	if start < end {
		return now >= start && now < end
	}
	return now >= start || now < end
}

// EffectiveIntensity combines the kill switch, the manual override and the
// schedule window into the actually-applied filter strength.
func EffectiveIntensity(s settings.Settings, inWindow bool) int {
	if !s.Enabled {
		return 0
	}
	if s.ManualActive {
		return s.Intensity
	}
	if inWindow {
		return s.Intensity
	}
	return 0
}
