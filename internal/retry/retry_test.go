package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDo_Success(t *testing.T) {
	config := Exponential(3, time.Millisecond, 10*time.Millisecond)

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
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Factor:       2.0,
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
	config := Linear(3, time.Millisecond)

	calls := 0
	result := Do(context.Background(), config, func() error {
		calls++
		return errors.New("always fails")
	})

	if result.Err == nil {
		t.Error("expected error")
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_PermanentError(t *testing.T) {
	config := Linear(5, time.Millisecond)

	calls := 0
	result := Do(context.Background(), config, func() error {
		calls++
		return Permanent(errors.New("duplicate key"))
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

func TestDo_ContextCanceledBeforeFirstAttempt(t *testing.T) {
	config := Linear(3, time.Millisecond)

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

func TestDo_ContextDeadlineExceeded(t *testing.T) {
	config := Linear(10, 100*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result := Do(ctx, config, func() error {
		return errors.New("retry")
	})

	if !errors.Is(result.Err, context.DeadlineExceeded) && !errors.Is(result.Err, context.Canceled) {
		t.Errorf("expected context deadline/canceled, got %v", result.Err)
	}
}

func TestDo_ZeroMaxAttempts(t *testing.T) {
	config := Config{InitialDelay: time.Millisecond}

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

func TestPermanent_Nil(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should return nil")
	}
}

func TestPermanent_Unwrap(t *testing.T) {
	original := errors.New("wrapped error")
	perm := Permanent(original)

	if !IsPermanent(perm) {
		t.Error("should be permanent")
	}
	if !errors.Is(perm, original) {
		t.Error("should unwrap to original")
	}
}

func TestIsPermanent_NestedError(t *testing.T) {
	perm := Permanent(errors.New("base error"))
	wrapped := errors.Join(errors.New("wrapper"), perm)

	if !IsPermanent(wrapped) {
		t.Error("IsPermanent should detect wrapped permanent error")
	}
}

func TestExponential_Fields(t *testing.T) {
	config := Exponential(7, 50*time.Millisecond, 5*time.Second)

	if config.MaxAttempts != 7 {
		t.Errorf("MaxAttempts = %d, want 7", config.MaxAttempts)
	}
	if config.Factor != 2.0 {
		t.Errorf("Factor = %f, want 2.0", config.Factor)
	}
	if !config.Jitter {
		t.Error("Exponential should have jitter")
	}
}

func TestLinear_Fields(t *testing.T) {
	config := Linear(5, 100*time.Millisecond)

	if config.MaxDelay != 100*time.Millisecond {
		t.Errorf("MaxDelay = %v, want 100ms", config.MaxDelay)
	}
	if config.Factor != 1.0 {
		t.Errorf("Factor = %f, want 1.0", config.Factor)
	}
	if config.Jitter {
		t.Error("Linear should not have jitter")
	}
}
