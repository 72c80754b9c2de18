package period

import (
	"testing"
	"time"
)

func TestWindowForFloorsToDuration(t *testing.T) {
	t.Parallel()

	c, err := New("UTC", 5*time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cases := []struct {
		ts   int64
		want int64
	}{
		{ts: mustUnix(t, "2026-07-30T12:00:00Z"), want: mustUnix(t, "2026-07-30T12:00:00Z")},
		{ts: mustUnix(t, "2026-07-30T12:00:01Z"), want: mustUnix(t, "2026-07-30T12:00:00Z")},
		{ts: mustUnix(t, "2026-07-30T12:04:59Z"), want: mustUnix(t, "2026-07-30T12:00:00Z")},
		{ts: mustUnix(t, "2026-07-30T12:05:00Z"), want: mustUnix(t, "2026-07-30T12:05:00Z")},
		{ts: mustUnix(t, "2026-07-30T12:07:30Z"), want: mustUnix(t, "2026-07-30T12:05:00Z")},
	}

	for _, tc := range cases {
		got := c.WindowFor(tc.ts)
		if got != tc.want {
			t.Errorf("WindowFor(%d) = %d, want %d", tc.ts, got, tc.want)
		}
	}
}

func TestWindowForInvariants(t *testing.T) {
	t.Parallel()

	c, err := New("America/New_York", 5*time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for ts := int64(1771800000); ts < 1771800000+86400; ts += 137 {
		w := c.WindowFor(ts)
		if w > ts {
			t.Fatalf("window_for(%d) = %d > ts", ts, w)
		}
		if ts >= w+int64(c.Duration()/time.Second) {
			t.Fatalf("window_for(%d) = %d does not contain ts", ts, w)
		}
		if w%int64(c.Duration()/time.Second) != 0 {
			t.Fatalf("window_for(%d) = %d is not a multiple of duration", ts, w)
		}
	}
}

func TestWindowForNonWholeHourZone(t *testing.T) {
	t.Parallel()

	// India Standard Time is UTC+5:30 — a non-whole-hour offset. Alignment
	// must be computed against local minutes, not UTC minutes.
	c, err := New("Asia/Kolkata", 5*time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	loc, _ := time.LoadLocation("Asia/Kolkata")
	local := time.Date(2026, 7, 30, 10, 32, 10, 0, loc)
	got := c.WindowFor(local.Unix())

	want := time.Date(2026, 7, 30, 10, 30, 0, 0, loc).Unix()
	if got != want {
		t.Errorf("WindowFor = %d, want %d", got, want)
	}
}

func TestBoundariesFor(t *testing.T) {
	t.Parallel()

	c, err := New("UTC", 5*time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	start := mustUnix(t, "2026-07-30T12:00:00Z")
	b := c.BoundariesFor(start, 20*time.Second)

	closeAt := time.Unix(start, 0).Add(5 * time.Minute)
	if !b.Decide.Equal(closeAt) {
		t.Errorf("Decide = %v, want %v", b.Decide, closeAt)
	}
	if !b.Arm.Equal(closeAt.Add(-30 * time.Second)) {
		t.Errorf("Arm = %v, want 30s before close", b.Arm)
	}
	if !b.Prepare.Equal(closeAt.Add(-5 * time.Second)) {
		t.Errorf("Prepare = %v, want 5s before close", b.Prepare)
	}
	if !b.Close.Equal(closeAt.Add(20 * time.Second)) {
		t.Errorf("Close = %v, want 20s after decide", b.Close)
	}
}

func TestNewRejectsBadDuration(t *testing.T) {
	t.Parallel()

	if _, err := New("UTC", 0); err == nil {
		t.Error("expected error for zero duration")
	}
	if _, err := New("UTC", 90*time.Second); err == nil {
		t.Error("expected error for non-whole-minute duration")
	}
	if _, err := New("Not/AZone", 5*time.Minute); err == nil {
		t.Error("expected error for unknown zone")
	}
}

func mustUnix(t *testing.T, rfc3339 string) int64 {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, rfc3339)
	if err != nil {
		t.Fatalf("parse %q: %v", rfc3339, err)
	}
	return ts.Unix()
}
