package filter

import (
	"testing"

	"github.com/duskfall/duskfall/internal/settings"
)

func TestParseClock(t *testing.T) {
	tests := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{"00:00", 0, false},
		{"07:00", 420, false},
		{"21:00", 1260, false},
		{"23:59", 1439, false},
		{"24:00", 0, true},
		{"12:60", 0, true},
		{"-1:30", 0, true},
		{"noon", 0, true},
		{"12", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseClock(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseClock(%q) expected error, got %d", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseClock(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseClock(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestInWindow(t *testing.T) {
	tests := []struct {
		name             string
		start, end, now  int
		want             bool
	}{
		// Non-wrapping window 09:00-17:00
		{"before start", 540, 1020, 539, false},
		{"at start inclusive", 540, 1020, 540, true},
		{"inside", 540, 1020, 720, true},
		{"at end exclusive", 540, 1020, 1020, false},
		{"after end", 540, 1020, 1021, false},

		// Wrapping window 21:00-07:00
		{"wrap evening", 1260, 420, 1380, true},
		{"wrap at start inclusive", 1260, 420, 1260, true},
		{"wrap just before start", 1260, 420, 1259, false},
		{"wrap after midnight", 1260, 420, 60, true},
		{"wrap just before end", 1260, 420, 419, true},
		{"wrap at end exclusive", 1260, 420, 420, false},
		{"wrap daytime", 1260, 420, 720, false},

		// Degenerate
		{"empty window", 600, 600, 600, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := InWindow(tt.start, tt.end, tt.now)
			if got != tt.want {
				t.Errorf("InWindow(%d, %d, %d) = %v, want %v",
					tt.start, tt.end, tt.now, got, tt.want)
			}
		})
	}
}

func TestEffectiveIntensity(t *testing.T) {
	base := settings.Settings{
		Enabled:   true,
		Intensity: 80,
	}

	t.Run("disabled always zero", func(t *testing.T) {
		s := base
		s.Enabled = false
		s.ManualActive = true
		if got := EffectiveIntensity(s, true); got != 0 {
			t.Errorf("EffectiveIntensity disabled = %d, want 0", got)
		}
	})

	t.Run("manual override wins over window", func(t *testing.T) {
		s := base
		s.ManualActive = true
		if got := EffectiveIntensity(s, false); got != 80 {
			t.Errorf("EffectiveIntensity manual override = %d, want 80", got)
		}
	})

	t.Run("in window", func(t *testing.T) {
		if got := EffectiveIntensity(base, true); got != 80 {
			t.Errorf("EffectiveIntensity in window = %d, want 80", got)
		}
	})

	t.Run("out of window", func(t *testing.T) {
		if got := EffectiveIntensity(base, false); got != 0 {
			t.Errorf("EffectiveIntensity out of window = %d, want 0", got)
		}
	})
}

// Night-window scenario: 21:00-07:00 at 80% intensity.
func TestNightWindowScenario(t *testing.T) {
	s := settings.Settings{
		Enabled:      true,
		StartTime:    "21:00",
		EndTime:      "07:00",
		Intensity:    80,
		ManualActive: false,
	}

	start, err := ParseClock(s.StartTime)
	if err != nil {
		t.Fatalf("ParseClock(start): %v", err)
	}
	end, err := ParseClock(s.EndTime)
	if err != nil {
		t.Fatalf("ParseClock(end): %v", err)
	}

	tests := []struct {
		now  string
		want int
	}{
		{"23:00", 80},
		{"08:00", 0},
		{"06:59", 80},
	}

	for _, tt := range tests {
		t.Run(tt.now, func(t *testing.T) {
			now, err := ParseClock(tt.now)
			if err != nil {
				t.Fatalf("ParseClock(%q): %v", tt.now, err)
			}
			got := EffectiveIntensity(s, InWindow(start, end, now))
			if got != tt.want {
				t.Errorf("effective intensity at %s = %d, want %d", tt.now, got, tt.want)
			}
		})
	}
}
