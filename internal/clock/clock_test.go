package clock

import (
	"strings"
	"testing"
	"time"
)

func TestFakeAdvance(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c := Fake(start)
	if got := c.Now(); !got.Equal(start) {
		t.Fatalf("Now() = %v, want %v", got, start)
	}
	c.Advance(19 * time.Second)
	if got := c.Now().Sub(start); got != 19*time.Second {
		t.Fatalf("elapsed = %v, want 19s", got)
	}
	c.Set(start)
	if got := c.Now(); !got.Equal(start) {
		t.Fatalf("Now() after Set = %v, want %v", got, start)
	}
}

func TestRealKeepsMonotonicReading(t *testing.T) {
	now := Real().Now()
	if !strings.Contains(now.String(), " m=") {
		t.Fatalf("Real().Now() = %v, want a monotonic reading", now)
	}
	// Round(0) strips the monotonic reading, which is what UTC() does too.
	if strings.Contains(now.Round(0).String(), " m=") {
		t.Fatalf("stripped reading still reports m=")
	}
}
