package series

import (
	"testing"
	"time"
)

func TestPolicyIsCurrent(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	p := Policy{Now: func() time.Time { return now }}

	tests := []struct {
		name string
		last time.Time
		want bool
	}{
		{"never", time.Time{}, false},
		{"same instant", now, true},
		{"start of day", time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), true},
		{"end of day", time.Date(2024, 3, 15, 23, 59, 59, 0, time.UTC), true},
		{"yesterday", time.Date(2024, 3, 14, 23, 59, 59, 0, time.UTC), false},
		{"tomorrow", time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC), false},
		{"same day a year ago", time.Date(2023, 3, 15, 12, 0, 0, 0, time.UTC), false},
		// 2024-03-15 01:00 in UTC+2 is still 2024-03-14 in UTC
		{"other zone", time.Date(2024, 3, 15, 1, 0, 0, 0, time.FixedZone("EET", 2*3600)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.IsCurrent(tt.last); got != tt.want {
				t.Errorf("IsCurrent(%v) = %v, want %v", tt.last, got, tt.want)
			}
		})
	}
}

func TestPolicyNeedsRefresh(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	p := Policy{Now: func() time.Time { return now }}

	if !p.NeedsRefresh(nil) {
		t.Error("Unknown series must need a refresh")
	}

	s := New("CPI_U")
	if !p.NeedsRefresh(s) {
		t.Error("Never refreshed series must need a refresh")
	}

	s.Touch(now.Add(-time.Hour))
	if p.NeedsRefresh(s) {
		t.Error("Series refreshed today must not need a refresh")
	}

	s.Touch(now.Add(-24 * time.Hour))
	if !p.NeedsRefresh(s) {
		t.Error("Series refreshed yesterday must need a refresh")
	}
}
