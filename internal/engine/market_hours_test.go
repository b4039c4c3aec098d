package engine

import (
	"testing"
	"time"
)

func TestMarketOpen_WeekdayAfternoon(t *testing.T) {
	// June dates, so Pacific is UTC-7.
	pacific := time.FixedZone("PDT", -7*60*60)

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"monday 1pm", time.Date(2026, 6, 1, 13, 0, 0, 0, pacific), true},
		{"monday noon", time.Date(2026, 6, 1, 12, 59, 0, 0, pacific), false},
		{"friday evening", time.Date(2026, 6, 5, 18, 0, 0, 0, pacific), true},
		{"saturday 1pm", time.Date(2026, 6, 6, 13, 0, 0, 0, pacific), false},
		{"sunday 1pm", time.Date(2026, 6, 7, 13, 0, 0, 0, pacific), false},
		{"monday morning", time.Date(2026, 6, 1, 6, 0, 0, 0, pacific), false},
	}
	for _, tt := range tests {
		if got := MarketOpen(tt.at); got != tt.want {
			t.Errorf("%s: MarketOpen=%v, want %v", tt.name, got, tt.want)
		}
	}
}
