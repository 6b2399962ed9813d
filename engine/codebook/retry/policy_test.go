package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/codebook/pkg/config"
)

var errFlaky = errors.New("connection reset")

func fastPolicy(attempts uint64) Policy {
	return Policy{Name: "test", Attempts: attempts, Backoff: BackoffFixed, Base: time.Millisecond}
}

func TestDo(t *testing.T) {
	t.Run("Should succeed on the fifth attempt after four transient failures", func(t *testing.T) {
		calls := 0
		err := Do(t.Context(), fastPolicy(5), func(context.Context) error {
			calls++
			if calls < 5 {
				return errFlaky
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 5, calls)
	})

	t.Run("Should return the last error once attempts are exhausted", func(t *testing.T) {
		calls := 0
		err := Do(t.Context(), fastPolicy(3), func(context.Context) error {
			calls++
			return errFlaky
		})
		assert.ErrorIs(t, err, errFlaky)
		assert.Equal(t, 3, calls)
	})

	t.Run("Should not retry errors rejected by the predicate", func(t *testing.T) {
		calls := 0
		permanent := errors.New("unauthorized")
		p := fastPolicy(5).WithRetryable(func(err error) bool { return errors.Is(err, errFlaky) })
		err := Do(t.Context(), p, func(context.Context) error {
			calls++
			return permanent
		})
		assert.ErrorIs(t, err, permanent)
		assert.Equal(t, 1, calls)
	})

	t.Run("Should stop when the context is canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		calls := 0
		p := Policy{Name: "test", Attempts: 5, Backoff: BackoffFixed, Base: time.Hour}
		done := make(chan error, 1)
		go func() {
			done <- Do(ctx, p, func(context.Context) error {
				calls++
				return errFlaky
			})
		}()
		time.Sleep(20 * time.Millisecond)
		cancel()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(2 * time.Second):
			t.Fatal("retry did not stop after cancellation")
		}
		assert.Equal(t, 1, calls)
	})

	t.Run("Should cap exponential waits", func(t *testing.T) {
		p := Policy{Name: "test", Attempts: 4, Backoff: BackoffExponential, Base: time.Millisecond, Max: 2 * time.Millisecond}
		start := time.Now()
		calls := 0
		err := Do(t.Context(), p, func(context.Context) error {
			calls++
			return errFlaky
		})
		assert.ErrorIs(t, err, errFlaky)
		assert.Equal(t, 4, calls)
		assert.Less(t, time.Since(start), time.Second)
	})
}

func TestDoValue(t *testing.T) {
	t.Run("Should return the value of the successful attempt", func(t *testing.T) {
		calls := 0
		v, err := DoValue(t.Context(), fastPolicy(3), func(context.Context) (int, error) {
			calls++
			if calls == 1 {
				return 0, errFlaky
			}
			return 42, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42, v)
	})
}

func TestFromConfig(t *testing.T) {
	t.Run("Should copy the configured settings", func(t *testing.T) {
		cfg := config.Default().Retry.Upsert
		p := FromConfig("upsert", cfg, nil)
		assert.Equal(t, uint64(5), p.Attempts)
		assert.Equal(t, BackoffExponential, p.Backoff)
		assert.Equal(t, time.Second, p.Base)
		assert.Equal(t, 10*time.Second, p.Max)
	})

	t.Run("Should name presets after their configuration block", func(t *testing.T) {
		cfg := config.Default()
		assert.Equal(t, "status", StatusPolicy(cfg, nil).Name)
		assert.Equal(t, 15*time.Second, StatusPolicy(cfg, nil).Base)
		assert.Equal(t, "maintenance", MaintenancePolicy(cfg, nil).Name)
		q := QueryPolicy(cfg, nil)
		assert.Equal(t, uint64(3), q.Attempts)
		assert.Equal(t, 60*time.Second, q.Base)
		assert.Equal(t, BackoffFixed, q.Backoff)
		assert.Equal(t, BackoffExponential, UpsertPolicy(cfg, nil).Backoff)
	})
}
