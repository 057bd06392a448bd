package timeutil

import (
	"testing"
	"time"
)

func TestRealClockNow(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, want between %v and %v", now, before, after)
	}
}

func TestRealClockTimerFires(t *testing.T) {
	clock := RealClock{}
	timer := clock.NewTimer(10 * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C():
	case <-time.After(100 * time.Millisecond):
		t.Error("timer did not fire")
	}
}

func TestRealClockTickerFires(t *testing.T) {
	clock := RealClock{}
	ticker := clock.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(100 * time.Millisecond):
		t.Error("ticker did not fire")
	}
}

func TestMockClockNowAndSet(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)
	if !clock.Now().Equal(start) {
		t.Errorf("Now() = %v, want %v", clock.Now(), start)
	}

	later := start.Add(time.Hour)
	clock.Set(later)
	if !clock.Now().Equal(later) {
		t.Errorf("Now() after Set = %v, want %v", clock.Now(), later)
	}
}

func TestMockClockAdvanceFiresTimer(t *testing.T) {
	clock := NewMockClock(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	// The auth timeout shape: one timer, armed once, fired by the clock.
	timer := clock.NewTimer(15 * time.Second)

	clock.Advance(14 * time.Second)
	select {
	case <-timer.C():
		t.Error("timer fired before its deadline")
	default:
	}

	clock.Advance(time.Second)
	select {
	case <-timer.C():
	default:
		t.Error("timer did not fire at its deadline")
	}
}

func TestMockClockStoppedTimerStaysQuiet(t *testing.T) {
	clock := NewMockClock(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	timer := clock.NewTimer(time.Minute)

	if !timer.Stop() {
		t.Error("Stop() = false for an armed timer")
	}
	if timer.Stop() {
		t.Error("second Stop() = true")
	}

	clock.Advance(2 * time.Minute)
	select {
	case <-timer.C():
		t.Error("stopped timer fired")
	default:
	}
}

func TestMockClockTickerKeepsTicking(t *testing.T) {
	clock := NewMockClock(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	ticker := clock.NewTicker(5 * time.Second)

	for i := 0; i < 3; i++ {
		clock.Advance(5 * time.Second)
		select {
		case <-ticker.C():
		default:
			t.Fatalf("tick %d missing", i+1)
		}
	}

	ticker.Stop()
	clock.Advance(time.Minute)
	select {
	case <-ticker.C():
		t.Error("stopped ticker fired")
	default:
	}
}

func TestMockClockTimerFiresOnce(t *testing.T) {
	clock := NewMockClock(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	timer := clock.NewTimer(time.Second)

	clock.Advance(time.Second)
	<-timer.C()

	clock.Advance(time.Hour)
	select {
	case <-timer.C():
		t.Error("timer fired a second time")
	default:
	}
}
