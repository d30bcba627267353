package cloudflare

import (
	"net/http"
	"testing"
	"time"
)

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name     string
		value    string
		want     time.Duration
		wantHint bool
	}{
		{"empty", "", 0, false},
		{"zero seconds", "0", 0, true},
		{"whole seconds", "3", 3 * time.Second, true},
		{"fractional seconds", "1.5", 1500 * time.Millisecond, true},
		{"negative", "-1", 0, false},
		{"http date", now.Add(10 * time.Second).Format(http.TimeFormat), 10 * time.Second, true},
		{"past date", now.Add(-time.Minute).Format(http.TimeFormat), 0, false},
		{"garbage", "soon", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, hint := parseRetryAfter(tt.value, now)
			if got != tt.want || hint != tt.wantHint {
				t.Errorf("parseRetryAfter(%q) = %v, %v; want %v, %v", tt.value, got, hint, tt.want, tt.wantHint)
			}
		})
	}
}

func TestJitteredBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	max := 30 * time.Second

	for attempt := 0; attempt < 5; attempt++ {
		low := base << attempt
		high := low + base
		for i := 0; i < 20; i++ {
			got := jitteredBackoff(base, max, attempt)
			if got < low || got >= high {
				t.Fatalf("jitteredBackoff(attempt=%d) = %v, want [%v, %v)", attempt, got, low, high)
			}
		}
	}

	if got := jitteredBackoff(base, max, 20); got != max {
		t.Errorf("jitteredBackoff(attempt=20) = %v, want cap %v", got, max)
	}
	if got := jitteredBackoff(0, max, 3); got != 0 {
		t.Errorf("jitteredBackoff(base=0) = %v, want 0", got)
	}
}

func TestRetryableStatus(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusOK, false},
		{http.StatusBadRequest, false},
		{http.StatusNotFound, false},
		{http.StatusRequestTimeout, true},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
	}

	for _, tt := range tests {
		if got := retryableStatus(tt.status); got != tt.want {
			t.Errorf("retryableStatus(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}
