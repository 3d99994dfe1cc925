package rounds

import (
	"errors"
	"testing"
	"time"
)

func utcClock() *Clock { return NewClock(time.UTC, 24*time.Hour) }

func TestCurrentRoundTripScenario(t *testing.T) {
	c := utcClock()
	// sequência 1756 de 30s = 52680s após a meia-noite (14:38:00)
	now := time.Date(2025, 7, 6, 14, 38, 12, 0, time.UTC)

	r := c.Current("wingo", 30*time.Second, now)

	if r.ID != "20250706000001756" {
		t.Errorf("ID = %s, want 20250706000001756", r.ID)
	}
	if r.Seq != 1756 {
		t.Errorf("Seq = %d, want 1756", r.Seq)
	}
	wantStart := time.Date(2025, 7, 6, 14, 38, 0, 0, time.UTC)
	if !r.Start.Equal(wantStart) {
		t.Errorf("Start = %v, want %v", r.Start, wantStart)
	}
	if !r.End.Equal(wantStart.Add(30 * time.Second)) {
		t.Errorf("End = %v, want %v", r.End, wantStart.Add(30*time.Second))
	}
}

func TestCurrentIsDeterministicWithinSequence(t *testing.T) {
	a := utcClock()
	b := utcClock() // "outro processo"
	base := time.Date(2025, 7, 6, 10, 0, 0, 0, time.UTC)

	first := a.Current("k3", time.Minute, base)
	for _, off := range []time.Duration{0, time.Second, 30 * time.Second, 59*time.Second + 999*time.Millisecond} {
		got := b.Current("k3", time.Minute, base.Add(off))
		if got.ID != first.ID || !got.Start.Equal(first.Start) || !got.End.Equal(first.End) {
			t.Errorf("offset %v: got %+v, want %+v", off, got, first)
		}
	}

	next := b.Current("k3", time.Minute, base.Add(time.Minute))
	if next.ID == first.ID {
		t.Errorf("next round reused id %s", next.ID)
	}
	if got := a.Next(first); got.ID != next.ID {
		t.Errorf("Next = %s, want %s", got.ID, next.ID)
	}
	if got := a.Previous(next); got.ID != first.ID {
		t.Errorf("Previous = %s, want %s", got.ID, first.ID)
	}
}

func TestCurrentUsesTimezoneAnchor(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	c := NewClock(loc, time.Hour)
	// 18:30 UTC = 00:00 IST do dia seguinte
	now := time.Date(2025, 7, 6, 18, 30, 5, 0, time.UTC)

	r := c.Current("wingo", 30*time.Second, now)
	if r.ID != "20250707000000000" {
		t.Errorf("ID = %s, want 20250707000000000", r.ID)
	}
}

func TestParseRoundTrip(t *testing.T) {
	c := utcClock()
	now := time.Date(2025, 7, 6, 14, 38, 12, 0, time.UTC)
	want := c.Current("wingo", 30*time.Second, now)

	got, err := c.Parse("wingo", 30*time.Second, want.ID)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !got.Start.Equal(want.Start) || !got.End.Equal(want.End) {
		t.Errorf("Parse = %+v, want %+v", got, want)
	}
}

func TestValidateRejectsOutOfBounds(t *testing.T) {
	c := NewClock(time.UTC, time.Hour)
	now := time.Date(2025, 7, 6, 14, 38, 12, 0, time.UTC)

	cases := map[string]string{
		"malformed":   "2025070600001756",
		"bad date":    "20251306000001756",
		"future":      "20250706000001800",
		"too old":     "20250706000000010",
		"out of day":  "20250706000009999",
		"non numeric": "20250706abcdefghi",
		"signed seq":  "20250706+00001756",
		"minus seq":   "20250706-00001700",
	}
	for name, id := range cases {
		if _, err := c.Validate("wingo", 30*time.Second, id, now); !errors.Is(err, ErrInvalidRoundID) {
			t.Errorf("%s: err = %v, want ErrInvalidRoundID", name, err)
		}
	}

	if _, err := c.Validate("wingo", 30*time.Second, "20250706000001756", now); err != nil {
		t.Errorf("current round rejected: %v", err)
	}
	if _, err := c.Validate("wingo", 30*time.Second, "20250706000001700", now); err != nil {
		t.Errorf("recent round rejected: %v", err)
	}
}

func TestBettingWindow(t *testing.T) {
	c := utcClock()
	r := c.Current("wingo", 30*time.Second, time.Date(2025, 7, 6, 14, 38, 0, 0, time.UTC))
	margin := 5 * time.Second

	if !r.BettingOpen(r.End.Add(-6*time.Second), margin) {
		t.Error("betting should be open at end-6s")
	}
	if r.BettingOpen(r.End.Add(-3*time.Second), margin) {
		t.Error("betting should be closed at end-3s")
	}
	if got := r.StatusAt(r.End.Add(-3*time.Second), margin, false); got != StatusClosing {
		t.Errorf("StatusAt = %s, want closing", got)
	}
	if got := r.StatusAt(r.End.Add(-3*time.Second), margin, true); got != StatusResolved {
		t.Errorf("StatusAt = %s, want resolved", got)
	}
	if got := r.BettingRemaining(r.Start, margin); got != 25*time.Second {
		t.Errorf("BettingRemaining = %v, want 25s", got)
	}
	if got := r.Remaining(r.End.Add(time.Second)); got != 0 {
		t.Errorf("Remaining after end = %v, want 0", got)
	}
}
