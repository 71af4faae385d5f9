package fragment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tanq16/extdl/internal/backend"
	"github.com/tanq16/extdl/internal/process"
	"github.com/tanq16/extdl/internal/utils"
)

// failingAttempt exits non-zero for the first failures calls, then succeeds.
func failingAttempt(failures int, calls *int) Attempt {
	return func(ctx context.Context) (process.Result, error) {
		*calls++
		if *calls <= failures {
			return process.Result{ExitCode: 1, Stderr: []byte("fragment 404")}, nil
		}
		return process.Result{}, nil
	}
}

func TestRetryManagerRun(t *testing.T) {
	tests := []struct {
		name      string
		policy    utils.RetryPolicy
		failures  int
		wantCalls int
		wantErr   error
	}{
		{"success first try", utils.RetryPolicy{MaxRetries: 3}, 0, 1, nil},
		{"success after two failures", utils.RetryPolicy{MaxRetries: 3}, 2, 3, nil},
		{"exhausted with skip", utils.RetryPolicy{MaxRetries: 2, SkipUnavailable: true}, 100, 3, nil},
		{"exhausted without skip", utils.RetryPolicy{MaxRetries: 2}, 100, 3, backend.ErrRetriesExhausted},
		{"zero retries", utils.RetryPolicy{MaxRetries: 0}, 100, 1, backend.ErrRetriesExhausted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			m := &RetryManager{Backend: "aria2c", Policy: tt.policy}
			invocations, err := m.Run(context.Background(), failingAttempt(tt.failures, &calls))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Run() error = %v, want %v", err, tt.wantErr)
			}
			if invocations != tt.wantCalls || calls != tt.wantCalls {
				t.Errorf("invocations = %d (calls %d), want %d", invocations, calls, tt.wantCalls)
			}
		})
	}
}

func TestRetryManagerAttemptError(t *testing.T) {
	boom := errors.New("spawn failed")
	calls := 0
	m := &RetryManager{Backend: "aria2c", Policy: utils.RetryPolicy{MaxRetries: 5}}
	_, err := m.Run(context.Background(), func(ctx context.Context) (process.Result, error) {
		calls++
		return process.Result{ExitCode: -1}, boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Errorf("expected immediate failure, got err=%v calls=%d", err, calls)
	}
}

func TestRetryManagerSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := utils.RetryPolicy{MaxRetries: 5, Sleep: func(int) time.Duration { return time.Hour }}
	m := &RetryManager{Backend: "aria2c", Policy: policy}
	calls := 0
	_, err := m.Run(ctx, func(ctx context.Context) (process.Result, error) {
		calls++
		cancel()
		return process.Result{ExitCode: 1}, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected one call before cancellation, got %d", calls)
	}
}
