package units

import "testing"

func TestRoundDistanceKm(t *testing.T) {
	tests := []struct {
		meters float64
		want   float64
	}{
		{0, 0},
		{49, 0},
		{50, 0.1},
		{5000, 5.0},
		{5049, 5.0},
		{5050, 5.1},
		{123456, 123.5},
	}
	for _, tt := range tests {
		if got := RoundDistanceKm(tt.meters); got != tt.want {
			t.Errorf("RoundDistanceKm(%v) = %v, want %v", tt.meters, got, tt.want)
		}
	}
}

func TestFormatMinutes(t *testing.T) {
	tests := []struct {
		minutes int
		want    string
	}{
		{0, "0m"},
		{3, "3m"},
		{45, "45m"},
		{60, "1h 0m"},
		{65, "1h 5m"},
		{125, "2h 5m"},
		{-1, "0m"},
	}
	for _, tt := range tests {
		if got := FormatMinutes(tt.minutes); got != tt.want {
			t.Errorf("FormatMinutes(%d) = %q, want %q", tt.minutes, got, tt.want)
		}
	}
}

func TestLitersPer100Km(t *testing.T) {
	if got := LitersPer100Km(4.2, 60); got != 7.0 {
		t.Errorf("LitersPer100Km(4.2, 60) = %v, want 7.0", got)
	}
	if got := LitersPer100Km(1, 0); got != 0 {
		t.Errorf("LitersPer100Km with zero distance = %v, want 0", got)
	}
}

func TestKmhToMs(t *testing.T) {
	if got := KmhToMs(36); got != 10 {
		t.Errorf("KmhToMs(36) = %v, want 10", got)
	}
}

func TestClamp(t *testing.T) {
	if got := Clamp(150, 0, 100); got != 100 {
		t.Errorf("Clamp(150) = %v", got)
	}
	if got := Clamp(-5, 0, 100); got != 0 {
		t.Errorf("Clamp(-5) = %v", got)
	}
	if got := Clamp(42, 0, 100); got != 42 {
		t.Errorf("Clamp(42) = %v", got)
	}
}
