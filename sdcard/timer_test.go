package sdcard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestTimer(t *testing.T) {
	var tm Timer
	if !tm.Expired() {
		t.Fatal("zero Timer Expired() = false, want true")
	}

	tm.Arm(3)
	for i := 3; i > 0; i-- {
		if tm.Expired() {
			t.Fatalf("Expired() = true with %d ticks left", i)
		}
		tm.Tick()
	}
	if !tm.Expired() {
		t.Errorf("Expired() = false after 3 ticks, want true")
	}

	tm.Tick()
	if got := tm.Remaining(); got != 0 {
		t.Errorf("Remaining() = %d after extra tick, want 0", got)
	}
}

func TestTimerConcurrentTicks(t *testing.T) {
	var tm Timer
	tm.Arm(1000)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				tm.Tick()
			}
		}()
	}
	wg.Wait()

	if got := tm.Remaining(); got != 0 {
		t.Errorf("Remaining() = %d after 1600 ticks, want 0", got)
	}
}

func TestTicks(t *testing.T) {
	tests := []struct {
		ms, want uint32
	}{
		{readyTimeout, 50},
		{tokenTimeout, 20},
		{initTimeout, 100},
		{powerOffDelay, 10},
		{eraseTimeout, 3000},
	}
	for _, tt := range tests {
		if got := ticks(tt.ms); got != tt.want {
			t.Errorf("ticks(%d) = %d, want %d", tt.ms, got, tt.want)
		}
	}
}

func TestRun(t *testing.T) {
	c := New(nil)
	c.data.Arm(5)
	c.ready.Arm(5)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, time.Millisecond) }()

	deadline := time.After(5 * time.Second)
	for !c.data.Expired() || !c.ready.Expired() {
		select {
		case <-deadline:
			t.Fatal("timers did not expire")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want %v", err, context.Canceled)
	}
}
