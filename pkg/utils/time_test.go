package utils

import (
	"testing"
	"time"
)

func TestForceUTC(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	local := time.Date(2026, 1, 15, 14, 30, 0, 0, loc)

	got := ForceUTC(local)
	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Hour() != 14 || got.Minute() != 30 {
		t.Errorf("ForceUTC must keep the wall clock reading, got %v", got)
	}

	already := time.Date(2026, 1, 15, 14, 30, 0, 0, time.UTC)
	if got := ForceUTC(already); !got.Equal(already) {
		t.Errorf("ForceUTC on a UTC value should be a no-op, got %v", got)
	}
}

func TestUnixMillisRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	ms := now.UnixMilli()
	got := FromUnixMillis(ms)
	if !got.Equal(now) {
		t.Errorf("FromUnixMillis(now.UnixMilli()) = %v, want %v", got, now)
	}
}

func TestTimeRangeContains(t *testing.T) {
	tr := TimeRange{
		Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	inside := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	before := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)
	after := time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)

	if !tr.Contains(inside) {
		t.Error("expected inside to be contained")
	}
	if tr.Contains(before) {
		t.Error("expected before to be excluded")
	}
	if tr.Contains(after) {
		t.Error("expected after to be excluded")
	}
	if tr.Duration() != 24*time.Hour {
		t.Errorf("Duration() = %v, want 24h", tr.Duration())
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{45 * time.Second, "45s"},
		{5*time.Minute + 30*time.Second, "5m30s"},
		{2*time.Hour + 15*time.Minute, "2h15m"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
