package retry

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradepulse-network/tradepulse-node/chains"
)

// fastProfile keeps test runs quick without changing attempt semantics.
func fastProfile(maxRetries uint) Profile {
	return Profile{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetryable(t *testing.T) {
	retryable := []string{
		"HTTP 429",
		"server said Rate Limit exceeded",
		"Too Many Requests",
		"read tcp: ECONNRESET",
		"dial: etimedout",
		"lookup host: ENOTFOUND",
	}
	for _, msg := range retryable {
		assert.True(t, Retryable(errors.New(msg)), msg)
	}

	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(errors.New("execution reverted")))
	assert.False(t, Retryable(errors.New("insufficient funds")))
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastProfile(3), func() error {
		calls++
		if calls <= 2 {
			return errors.New("HTTP 429")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsAttemptsAndSurfacesLastError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastProfile(3), func() error {
		calls++
		return errors.Errorf("HTTP 429 on call %d", calls)
	})
	require.Error(t, err)
	// default profile: 1 attempt + 3 retries
	assert.Equal(t, 4, calls)
	assert.EqualError(t, err, "HTTP 429 on call 4")
}

func TestDoNonRetryablePropagatesImmediately(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastProfile(3), func() error {
		calls++
		return errors.New("execution reverted")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoValueReturnsResult(t *testing.T) {
	calls := 0
	v, err := DoValue(context.Background(), fastProfile(2), func() (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("rate limit")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 2, calls)
}

func TestDelayGrowsAndCaps(t *testing.T) {
	p := Profile{
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 8*time.Second, p.Delay(3))
	assert.Equal(t, 10*time.Second, p.Delay(4))
	assert.Equal(t, 10*time.Second, p.Delay(10))
}

func TestForNetwork(t *testing.T) {
	assert.Equal(t, Base, ForNetwork(chains.NetworkBASE))
	assert.Equal(t, Default, ForNetwork(chains.NetworkETH))
	assert.Equal(t, Default, ForNetwork(chains.NetworkBNB))
	assert.Equal(t, Default, ForNetwork(chains.NetworkSOL))
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Do(ctx, fastProfile(5), func() error {
		calls++
		return errors.New("HTTP 429")
	})
	require.Error(t, err)
	assert.LessOrEqual(t, calls, 2)
}
