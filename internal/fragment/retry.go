package fragment

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/extdl/internal/backend"
	"github.com/tanq16/extdl/internal/process"
	"github.com/tanq16/extdl/internal/progress"
	"github.com/tanq16/extdl/internal/utils"
)

// Attempt runs the backend once over every fragment it knows about.
type Attempt func(ctx context.Context) (process.Result, error)

// RetryManager re-invokes a backend over the whole fragment set until it exits
// 0 or the retries are used up. Backends overwrite fragments idempotently, so
// already completed fragments are simply fetched again.
type RetryManager struct {
	Backend  string
	Policy   utils.RetryPolicy
	Reporter *progress.Reporter
}

// Run returns the number of invocations made. A nil error with exhausted
// retries means the skip policy allows reassembly to continue.
func (m *RetryManager) Run(ctx context.Context, attempt Attempt) (int, error) {
	invocations := 0
	count := 0
	for count <= m.Policy.MaxRetries {
		invocations++
		res, err := attempt(ctx)
		if err != nil {
			return invocations, err
		}
		if res.ExitCode == 0 {
			return invocations, nil
		}
		m.Reporter.Stderr(m.Backend, res.Stderr)
		count++
		if count <= m.Policy.MaxRetries {
			log.Info().Str("op", m.Backend+"/retry").Msgf("Got error. Retrying fragments (attempt %d of %d)...", count, m.Policy.MaxRetries)
			if err := m.sleep(ctx, count); err != nil {
				return invocations, err
			}
		}
	}
	if !m.Policy.SkipUnavailable {
		return invocations, fmt.Errorf("giving up after %d fragment retries: %w", m.Policy.MaxRetries, backend.ErrRetriesExhausted)
	}
	log.Warn().Str("op", m.Backend+"/retry").Msgf("Giving up after %d fragment retries, skipping unavailable fragments", m.Policy.MaxRetries)
	return invocations, nil
}

func (m *RetryManager) sleep(ctx context.Context, attempt int) error {
	if m.Policy.Sleep == nil {
		return ctx.Err()
	}
	d := m.Policy.Sleep(attempt)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
