package billing

import (
	"testing"
	"time"
)

func TestOverlaps(t *testing.T) {
	periodStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	record := &BillingHistory{PeriodStart: periodStart, PeriodEnd: periodEnd}

	tests := []struct {
		name  string
		start time.Time
		end   time.Time
		want  bool
	}{
		{name: "identical range", start: periodStart, end: periodEnd, want: true},
		{name: "contained range", start: periodStart.AddDate(0, 1, 0), end: periodEnd.AddDate(0, -1, 0), want: true},
		{name: "straddles period end", start: periodEnd.AddDate(0, -1, 0), end: periodEnd.AddDate(0, 1, 0), want: true},
		{name: "adjacent after shares endpoint", start: periodEnd, end: periodEnd.AddDate(1, 0, 0), want: false},
		{name: "adjacent before shares endpoint", start: periodStart.AddDate(-1, 0, 0), end: periodStart, want: false},
		{name: "fully after", start: periodEnd.AddDate(0, 1, 0), end: periodEnd.AddDate(1, 0, 0), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := record.Overlaps(tt.start, tt.end); got != tt.want {
				t.Errorf("Overlaps(%v, %v) = %v, want %v", tt.start, tt.end, got, tt.want)
			}
		})
	}
}
