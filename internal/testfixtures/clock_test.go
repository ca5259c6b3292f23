package testfixtures

import (
	"testing"
	"time"
)

func TestClockDefaultsToReferenceTime(t *testing.T) {
	clock := NewClock(time.Time{}, 0)
	if !clock.Now().Equal(ReferenceTime()) {
		t.Fatalf("expected ReferenceTime, got %v", clock.Peek())
	}
	if !clock.Now().Equal(ReferenceTime()) {
		t.Fatal("clock without step must not move on Now")
	}
}

func TestClockStepsOnEveryRead(t *testing.T) {
	start := time.Date(2024, time.March, 14, 9, 26, 0, 0, time.UTC)
	clock := NewClock(start, time.Second)

	first := clock.Now()
	second := clock.Now()
	if !first.Equal(start) || !second.Equal(start.Add(time.Second)) {
		t.Fatalf("unexpected readings %v, %v", first, second)
	}
	if got := clock.Peek(); !got.Equal(start.Add(2 * time.Second)) {
		t.Fatalf("peek returned %v", got)
	}
}

func TestClockAdvance(t *testing.T) {
	clock := NewClock(time.Time{}, 0)
	updated := clock.Advance(90 * time.Minute)
	if !updated.Equal(ReferenceTime().Add(90 * time.Minute)) {
		t.Fatalf("advance returned %v", updated)
	}
}
