package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"kolibri/internal/utils"
)

func TestBackoff(t *testing.T) {
	p := Policy{MaxRetries: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	assert.Equal(t, 100*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 400*time.Millisecond, p.Backoff(3))
	assert.Equal(t, 800*time.Millisecond, p.Backoff(4))
	assert.Equal(t, time.Second, p.Backoff(5))
	assert.Equal(t, time.Second, p.Backoff(30))
}

func TestTransient(t *testing.T) {
	assert.True(t, Transient(errors.New("connection reset")))
	assert.True(t, Transient(utils.New(http.StatusBadGateway, "bad gateway")))
	assert.True(t, Transient(utils.New(http.StatusTooManyRequests, "slow down")))
	assert.False(t, Transient(utils.New(http.StatusUnauthorized, "expired")))
	assert.False(t, Transient(utils.New(http.StatusNotFound, "missing")))
	assert.False(t, Transient(context.Canceled))
}

func TestDo(t *testing.T) {
	p := Policy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	t.Run("stops after the budget", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), p, AnyButAuth, nil, func(context.Context) error {
			calls++
			return utils.New(http.StatusServiceUnavailable, "down")
		})
		assert.Error(t, err)
		assert.Equal(t, 4, calls)
	})

	t.Run("never retries 401", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), p, AnyButAuth, nil, func(context.Context) error {
			calls++
			return utils.New(http.StatusUnauthorized, "expired")
		})
		assert.True(t, utils.IsUnauthorized(err))
		assert.Equal(t, 1, calls)
	})

	t.Run("returns once the op succeeds", func(t *testing.T) {
		calls := 0
		var retried []int
		err := Do(context.Background(), p, Transient, func(n int, _ error) { retried = append(retried, n) }, func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("flaky")
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, []int{1, 2}, retried)
	})

	t.Run("cancellation ends the wait", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		slow := Policy{MaxRetries: 1, BaseDelay: time.Hour}
		err := Do(ctx, slow, AnyButAuth, func(int, error) { cancel() }, func(context.Context) error {
			return errors.New("fail")
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
