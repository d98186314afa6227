package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDo_Success(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 3

	calls := 0
	result := Do(context.Background(), config, func() error {
		calls++
		return nil
	})

	if result.Err != nil {
		t.Errorf("expected no error, got %v", result.Err)
	}
	if result.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", result.Attempts)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_RetryThenSuccess(t *testing.T) {
	config := Config{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Factor:       2.0,
		Jitter:       false,
	}

	calls := 0
	result := Do(context.Background(), config, func() error {
		calls++
		if calls < 3 {
			return errors.New("temporary error")
		}
		return nil
	})

	if result.Err != nil {
		t.Errorf("expected no error, got %v", result.Err)
	}
	if result.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", result.Attempts)
	}
}

func TestDo_MaxAttempts(t *testing.T) {
	config := Config{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Factor:       2.0,
	}

	calls := 0
	result := Do(context.Background(), config, func() error {
		calls++
		return errors.New("always fails")
	})

	if result.Err == nil {
		t.Error("expected error")
	}
	if result.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", result.Attempts)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_PermanentError(t *testing.T) {
	config := Config{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Millisecond,
	}

	calls := 0
	result := Do(context.Background(), config, func() error {
		calls++
		return Permanent(errors.New("permanent error"))
	})

	if result.Err == nil {
		t.Error("expected error")
	}
	if result.Attempts != 1 {
		t.Errorf("expected 1 attempt (no retry for permanent), got %d", result.Attempts)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_DelaysNonDecreasing(t *testing.T) {
	config := Config{
		MaxAttempts:  4,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Factor:       2.0,
		Jitter:       false,
	}

	var stamps []time.Time
	Do(context.Background(), config, func() error {
		stamps = append(stamps, time.Now())
		return errors.New("retry")
	})

	if len(stamps) != 4 {
		t.Fatalf("expected 4 attempts, got %d", len(stamps))
	}
	var gaps []time.Duration
	for i := 1; i < len(stamps); i++ {
		gaps = append(gaps, stamps[i].Sub(stamps[i-1]))
	}
	// 5ms, 10ms, 20ms schedule: each gap at least as long as the one before,
	// with a little slack for scheduler noise.
	for i := 1; i < len(gaps); i++ {
		if gaps[i]+2*time.Millisecond < gaps[i-1] {
			t.Errorf("gap %d (%v) shorter than gap %d (%v)", i, gaps[i], i-1, gaps[i-1])
		}
	}
}

func TestDo_DelayHintOverridesBackoff(t *testing.T) {
	config := Config{
		MaxAttempts:  2,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     time.Second,
		Factor:       2.0,
		Jitter:       false,
	}

	var stamps []time.Time
	Do(context.Background(), config, func() error {
		stamps = append(stamps, time.Now())
		return After(errors.New("rate limited"), 10*time.Millisecond)
	})

	if len(stamps) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(stamps))
	}
	gap := stamps[1].Sub(stamps[0])
	// The 10ms hint must win over the 200ms computed delay.
	if gap >= 100*time.Millisecond {
		t.Errorf("gap = %v, expected hint-driven wait well under 100ms", gap)
	}
}

func TestDo_ContextCanceled(t *testing.T) {
	config := Config{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	result := Do(ctx, config, func() error {
		return errors.New("retry")
	})

	if !errors.Is(result.Err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", result.Err)
	}
}

func TestDo_ContextCanceledBeforeFirstAttempt(t *testing.T) {
	config := Config{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	result := Do(ctx, config, func() error {
		calls++
		return nil
	})

	if calls != 0 {
		t.Errorf("expected 0 calls, got %d", calls)
	}
	if !errors.Is(result.Err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", result.Err)
	}
}

func TestDo_ZeroMaxAttempts(t *testing.T) {
	config := Config{
		MaxAttempts:  0,
		InitialDelay: 1 * time.Millisecond,
	}

	calls := 0
	result := Do(context.Background(), config, func() error {
		calls++
		return errors.New("fail")
	})

	// Zero attempts is normalized to 1.
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if result.Err == nil {
		t.Error("expected error")
	}
}

func TestDoWithValue(t *testing.T) {
	config := Config{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Millisecond,
	}

	calls := 0
	value, result := DoWithValue(context.Background(), config, func() (int, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("retry")
		}
		return 42, nil
	})

	if result.Err != nil {
		t.Errorf("expected no error, got %v", result.Err)
	}
	if value != 42 {
		t.Errorf("expected 42, got %d", value)
	}
	if result.Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", result.Attempts)
	}
}

func TestDoWithValue_PermanentError(t *testing.T) {
	config := Config{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Millisecond,
	}

	calls := 0
	value, result := DoWithValue(context.Background(), config, func() (int, error) {
		calls++
		return -1, Permanent(errors.New("permanent"))
	})

	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if !IsPermanent(result.Err) {
		t.Error("expected permanent error")
	}
	if value != -1 {
		t.Errorf("expected -1, got %d", value)
	}
}

func TestWithAttemptNumber(t *testing.T) {
	config := Config{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Millisecond,
	}

	attempts := make([]int, 0)
	result := WithAttemptNumber(context.Background(), config, func(attempt int) error {
		attempts = append(attempts, attempt)
		if attempt < 3 {
			return errors.New("retry")
		}
		return nil
	})

	if result.Err != nil {
		t.Errorf("expected no error, got %v", result.Err)
	}
	if len(attempts) != 3 {
		t.Errorf("expected 3 attempts, got %d", len(attempts))
	}
	if attempts[0] != 1 || attempts[1] != 2 || attempts[2] != 3 {
		t.Errorf("unexpected attempt numbers: %v", attempts)
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		initial time.Duration
		max     time.Duration
		factor  float64
		want    time.Duration
	}{
		{1, 100 * time.Millisecond, 10 * time.Second, 2.0, 100 * time.Millisecond},
		{2, 100 * time.Millisecond, 10 * time.Second, 2.0, 200 * time.Millisecond},
		{3, 100 * time.Millisecond, 10 * time.Second, 2.0, 400 * time.Millisecond},
		{10, 100 * time.Millisecond, 1 * time.Second, 2.0, 1 * time.Second}, // Capped at max
	}

	for _, tt := range tests {
		got := Backoff(tt.attempt, tt.initial, tt.max, tt.factor)
		if got != tt.want {
			t.Errorf("Backoff(%d, %v, %v, %v) = %v, want %v",
				tt.attempt, tt.initial, tt.max, tt.factor, got, tt.want)
		}
	}
}

func TestExponential(t *testing.T) {
	config := Exponential(5, 100*time.Millisecond, 10*time.Second)

	if config.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", config.MaxAttempts)
	}
	if config.Factor != 2.0 {
		t.Errorf("Factor = %f, want 2.0", config.Factor)
	}
	if !config.Jitter {
		t.Error("Exponential should have jitter")
	}
}

func TestPermanent(t *testing.T) {
	err := errors.New("original")
	perm := Permanent(err)

	if !IsPermanent(perm) {
		t.Error("should be permanent")
	}
	if !errors.Is(perm, err) {
		t.Error("should unwrap to original")
	}
}

func TestPermanent_Nil(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should return nil")
	}
}

func TestIsPermanent_NestedError(t *testing.T) {
	original := errors.New("base error")
	perm := Permanent(original)
	wrapped := errors.Join(errors.New("wrapper"), perm)

	if !IsPermanent(wrapped) {
		t.Error("IsPermanent should detect wrapped permanent error")
	}
}

func TestAfter(t *testing.T) {
	err := errors.New("rate limited")
	hinted := After(err, 30*time.Second)

	if !errors.Is(hinted, err) {
		t.Error("should unwrap to original")
	}
	delay, ok := DelayHint(hinted)
	if !ok {
		t.Fatal("expected a delay hint")
	}
	if delay != 30*time.Second {
		t.Errorf("delay = %v, want 30s", delay)
	}
}

func TestAfter_Nil(t *testing.T) {
	if After(nil, time.Second) != nil {
		t.Error("After(nil, d) should return nil")
	}
}

func TestDelayHint_Absent(t *testing.T) {
	if _, ok := DelayHint(errors.New("plain")); ok {
		t.Error("plain error should carry no hint")
	}
	if _, ok := DelayHint(After(errors.New("zero"), 0)); ok {
		t.Error("zero hint should be treated as absent")
	}
}

func TestAfter_WrappedPermanentStillStops(t *testing.T) {
	config := Config{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Millisecond,
	}

	calls := 0
	result := Do(context.Background(), config, func() error {
		calls++
		return After(Permanent(errors.New("terminal with hint")), time.Minute)
	})

	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if !IsPermanent(result.Err) {
		t.Error("expected permanent error")
	}
}
