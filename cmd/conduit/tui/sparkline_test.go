package tui

import (
	"testing"
	"unicode/utf8"
)

func TestSparkline(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		width  int
		want   string
	}{
		{"empty", nil, 10, ""},
		{"zero width", []float64{1, 2}, 0, ""},
		{"all zero", []float64{0, 0, 0}, 10, "▁▁▁"},
		{"ramp", []float64{0, 1, 7}, 10, "▁▂█"},
		{"keeps tail", []float64{7, 0, 7, 7}, 2, "██"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sparkline(tt.values, tt.width); got != tt.want {
				t.Errorf("Sparkline = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSparklineWidth(t *testing.T) {
	values := make([]float64, 100)
	for i := range values {
		values[i] = float64(i)
	}
	if got := utf8.RuneCountInString(Sparkline(values, 40)); got != 40 {
		t.Errorf("rune count = %d, want 40", got)
	}
}
