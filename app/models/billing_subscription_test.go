package models

import (
	"testing"
	"time"
)

func TestHardExpired(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name   string
		status string
		endsAt *time.Time
		want   bool
	}{
		{"active never expires", BillingStatusActive, nil, false},
		{"past_due is not terminal", BillingStatusPastDue, &past, false},
		{"canceled without end date", BillingStatusCanceled, nil, true},
		{"canceled past end date", BillingStatusCanceled, &past, true},
		{"canceled at exactly now", BillingStatusCanceled, &now, true},
		{"canceled inside grace", BillingStatusCanceled, &future, false},
		{"unpaid past end date", BillingStatusUnpaid, &past, true},
		{"incomplete_expired without end date", BillingStatusIncompleteExpired, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := BillingSubscription{Status: tt.status, EndsAt: tt.endsAt}
			if got := sub.HardExpired(now); got != tt.want {
				t.Fatalf("HardExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextMonthStart(t *testing.T) {
	tests := []struct {
		in   time.Time
		want time.Time
	}{
		{time.Date(2026, 5, 15, 10, 30, 0, 0, time.UTC), time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)},
		{time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC), time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)},
		{time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		if got := NextMonthStart(tt.in); !got.Equal(tt.want) {
			t.Fatalf("NextMonthStart(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
