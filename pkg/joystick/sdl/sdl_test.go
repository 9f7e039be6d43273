package sdl

import "testing"

func TestNormalizeAxis(t *testing.T) {
	tests := []struct {
		raw      int16
		expected float64
	}{
		{0, 0},
		{32767, 1},
		{-32768, -1},
		{-32767, -1},
	}
	for _, tt := range tests {
		if got := normalizeAxis(tt.raw); got != tt.expected {
			t.Errorf("normalizeAxis(%d) = %v, expected %v", tt.raw, got, tt.expected)
		}
	}
	if got := normalizeAxis(16384); got < 0.49 || got > 0.51 {
		t.Errorf("normalizeAxis(16384) = %v, expected ~0.5", got)
	}
}
