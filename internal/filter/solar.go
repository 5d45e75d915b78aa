package filter

import (
	"fmt"
	"math"
	"time"

	"github.com/sixdouglas/suncalc"
)

// Sunrise/sunset here is a scheduling heuristic, not an ephemeris: a few
// minutes of error is invisible at one-minute tick granularity.

// zenithDeg is the solar zenith angle for official sunrise/sunset, including
// atmospheric refraction.
const zenithDeg = 90.833

// SolarWindow estimates local sunrise and sunset for the given coordinates
// and instant, formatted as zero-padded "HH:MM" in the zone of t.
//
// The hour-angle argument is clamped to [-1, 1] before acos: near the poles
// the sun may not rise or set at all, which degenerates into an all-day or
// all-night window instead of a NaN.
func SolarWindow(lat, lng float64, t time.Time) (sunrise, sunset string) {
	dayOfYear := float64(t.YearDay())

	declination := -23.45 * cosDeg(360.0/365.0*(dayOfYear+10))

	cosHourAngle := (cosDeg(zenithDeg) - sinDeg(lat)*sinDeg(declination)) /
		(cosDeg(lat) * cosDeg(declination))
	if cosHourAngle > 1 {
		cosHourAngle = 1
	}
	if cosHourAngle < -1 {
		cosHourAngle = -1
	}
	hourAngle := math.Acos(cosHourAngle) * (180.0 / math.Pi)

	// Solar noon in UTC minutes; 4 minutes per degree of longitude
	solarNoon := 720.0 - 4.0*lng
	sunriseUTC := solarNoon - hourAngle*4.0
	sunsetUTC := solarNoon + hourAngle*4.0

	_, offsetSec := t.Zone()
	offsetMin := float64(offsetSec) / 60.0

	return formatClock(wrapMinutes(sunriseUTC + offsetMin)),
		formatClock(wrapMinutes(sunsetUTC + offsetMin))
}

// Daylight describes the sun position for display purposes. It enriches
// status and context messages and never feeds the scheduling decision.
type Daylight struct {
	SunAltitude  float64 `json:"sun_altitude"`
	IsDaytime    bool    `json:"is_daytime"`
	IsGoldenHour bool    `json:"is_golden_hour"`
}

// DaylightContext computes the current sun position for the coordinates
func DaylightContext(lat, lng float64, t time.Time) Daylight {
	position := suncalc.GetPosition(t, lat, lng)
	altitude := position.Altitude * (180.0 / math.Pi)

	return Daylight{
		SunAltitude:  altitude,
		IsDaytime:    altitude > 0,
		IsGoldenHour: altitude > 0 && altitude < 6,
	}
}

// wrapMinutes folds a minute count into [0, 1440)
func wrapMinutes(m float64) int {
	wrapped := math.Mod(m, 1440.0)
	if wrapped < 0 {
		wrapped += 1440.0
	}
	return int(wrapped)
}

func formatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

func sinDeg(deg float64) float64 {
	return math.Sin(deg * math.Pi / 180.0)
}

func cosDeg(deg float64) float64 {
	return math.Cos(deg * math.Pi / 180.0)
}
