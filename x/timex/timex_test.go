package timex

import (
	"testing"
	"time"
)

func TestTickConversions(t *testing.T) {
	// 0.5 s receive timeout from the reference firmware: 4000000*0.5.
	if got := FromDuration(500 * time.Millisecond); got != 2_000_000 {
		t.Fatalf("500ms = %d ticks", got)
	}
	if got := Ticks(400).Duration(); got != 100*time.Microsecond {
		t.Fatalf("400 ticks = %v", got)
	}
	if FromDuration(-time.Second) != 0 {
		t.Fatal("negative duration should clamp to 0")
	}
}

func TestWrapAwareCompare(t *testing.T) {
	near := Ticks(0xFFFFFF00)
	past := near.Add(time.Millisecond) // wraps
	if !past.After(near) {
		t.Fatal("wrapped timestamp should be after")
	}
	if near.After(past) {
		t.Fatal("ordering inverted across wrap")
	}
	if d := past.Sub(near); d != time.Millisecond {
		t.Fatalf("Sub across wrap = %v", d)
	}
}

func TestPeriodFromHz(t *testing.T) {
	if got := PeriodFromHz(40_000); got != 25_000 {
		t.Fatalf("40 kHz period = %dns", got)
	}
	if got := PeriodFromHz(0); got != 1_000_000_000 {
		t.Fatalf("0 Hz coerced = %d", got)
	}
}
