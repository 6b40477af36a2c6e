package breath

import (
	"context"
	"math"
	"testing"
	"time"
)

func TestEngine_PulseModulatesInterval(t *testing.T) {
	e := New(Config{
		Base:      10 * time.Second,
		Min:       time.Second,
		Max:       60 * time.Second,
		Amplitude: 0.3,
		Period:    4,
	})

	// Period 4 walks the phase through 0, π/2, π, 3π/2: pulse values
	// 1.0, 1.3, 1.0, 0.7.
	base := float64(10 * time.Second)
	want := []time.Duration{
		10 * time.Second,
		time.Duration(base / 1.3),
		10 * time.Second,
		time.Duration(base / 0.7),
	}
	for i, w := range want {
		got, _ := e.advance()
		if diff := got - w; diff < -time.Millisecond || diff > time.Millisecond {
			t.Errorf("Tick %d interval = %s, want %s", i, got, w)
		}
	}
}

func TestEngine_IntervalAlwaysWithinBounds(t *testing.T) {
	e := New(Config{
		Base:      10 * time.Second,
		Min:       9 * time.Second,
		Max:       11 * time.Second,
		Amplitude: 0.9,
		Period:    7,
	})

	for i := 0; i < 50; i++ {
		got, _ := e.advance()
		if got < 9*time.Second || got > 11*time.Second {
			t.Errorf("Tick %d interval = %s, want within [9s, 11s]", i, got)
		}
	}
}

func TestEngine_ZeroAmplitudeIsSteady(t *testing.T) {
	e := New(Config{
		Base:   5 * time.Second,
		Min:    time.Second,
		Max:    60 * time.Second,
		Period: 12,
	})

	for i := 0; i < 20; i++ {
		got, _ := e.advance()
		if got != 5*time.Second {
			t.Errorf("Tick %d interval = %s, want flat 5s", i, got)
		}
	}
}

func TestEngine_PhaseWrapsAndCycleCounts(t *testing.T) {
	e := New(Config{
		Base:      time.Second,
		Min:       time.Millisecond,
		Max:       time.Minute,
		Amplitude: 0.3,
		Period:    4,
	})

	for i := 0; i < 9; i++ {
		e.advance()
	}
	state := e.State()
	if state.Cycle != 9 {
		t.Errorf("Cycle = %d, want 9", state.Cycle)
	}
	if state.Phase < 0 || state.Phase >= 2*math.Pi {
		t.Errorf("Phase = %v, want within [0, 2π)", state.Phase)
	}
	if state.Depth < 0 || state.Depth > 1 {
		t.Errorf("Depth = %v, want within [0, 1]", state.Depth)
	}
}

func TestEngine_StateDoesNotAdvance(t *testing.T) {
	e := New(DefaultConfig())

	first := e.State()
	second := e.State()
	if first != second {
		t.Errorf("State advanced the pulse: %+v then %+v", first, second)
	}
	if first.Cycle != 0 {
		t.Errorf("Fresh engine cycle = %d, want 0", first.Cycle)
	}
	if !first.Inhale {
		t.Error("Phase zero should report inhale")
	}
}

func TestEngine_WaitForNextTickBlocks(t *testing.T) {
	e := New(Config{
		Base:      30 * time.Millisecond,
		Min:       10 * time.Millisecond,
		Max:       100 * time.Millisecond,
		Amplitude: 0.3,
		Period:    4,
	})

	start := time.Now()
	if err := e.WaitForNextTick(context.Background()); err != nil {
		t.Fatalf("WaitForNextTick failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("Returned after %s, want at least ~30ms", elapsed)
	}
}

func TestEngine_WaitForNextTickHonorsCancel(t *testing.T) {
	e := New(Config{
		Base:      time.Hour,
		Min:       time.Hour,
		Max:       2 * time.Hour,
		Amplitude: 0.3,
		Period:    4,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := e.WaitForNextTick(ctx)
	if err != context.Canceled {
		t.Errorf("WaitForNextTick = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Cancel took %s to unblock", elapsed)
	}
}

func TestNew_BackfillsInvalidConfig(t *testing.T) {
	e := New(Config{Base: -1, Min: -1, Max: -2, Amplitude: 1.5, Period: 0})
	def := DefaultConfig()
	if e.cfg != def {
		t.Errorf("Backfilled config = %+v, want defaults %+v", e.cfg, def)
	}
}

func TestSteady_FixedInterval(t *testing.T) {
	s := NewSteady(25 * time.Millisecond)

	start := time.Now()
	if err := s.WaitForNextTick(context.Background()); err != nil {
		t.Fatalf("WaitForNextTick failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("Returned after %s, want at least ~25ms", elapsed)
	}
}

func TestSteady_HonorsCancel(t *testing.T) {
	s := NewSteady(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := s.WaitForNextTick(ctx); err != context.DeadlineExceeded {
		t.Errorf("WaitForNextTick = %v, want context.DeadlineExceeded", err)
	}
}
