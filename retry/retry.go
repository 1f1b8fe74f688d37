// Package retry wraps fallible RPC operations in exponential backoff with
// per-network policies. Only transport-level throttling and connectivity
// errors are retried; everything else propagates immediately.
package retry

import (
	"context"
	"math"
	"strings"
	"time"

	retrygo "github.com/avast/retry-go/v4"

	"github.com/tradepulse-network/tradepulse-node/chains"
)

// Profile is a backoff policy. MaxRetries counts retries after the first
// attempt, so an operation runs at most MaxRetries+1 times.
type Profile struct {
	MaxRetries   uint
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// Default is the policy for every network without a dedicated profile.
var Default = Profile{
	MaxRetries:   3,
	InitialDelay: 1000 * time.Millisecond,
	MaxDelay:     10000 * time.Millisecond,
	Multiplier:   2.0,
}

// Base is more patient: public Base endpoints throttle aggressively.
var Base = Profile{
	MaxRetries:   5,
	InitialDelay: 2500 * time.Millisecond,
	MaxDelay:     20000 * time.Millisecond,
	Multiplier:   2.5,
}

// ForNetwork selects the profile for a network.
func ForNetwork(n chains.Network) Profile {
	if n == chains.NetworkBASE {
		return Base
	}
	return Default
}

var retryableMarkers = []string{
	"429",
	"rate limit",
	"too many requests",
	"econnreset",
	"etimedout",
	"enotfound",
}

// Retryable reports whether err looks like a transient transport error.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range retryableMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Delay returns the backoff delay before retry attempt n (0-based), capped
// at the profile's MaxDelay. No jitter.
func (p Profile) Delay(n uint) time.Duration {
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(n))
	if capped := float64(p.MaxDelay); d > capped {
		d = capped
	}
	return time.Duration(d)
}

func (p Profile) options(ctx context.Context) []retrygo.Option {
	return []retrygo.Option{
		retrygo.Context(ctx),
		retrygo.Attempts(p.MaxRetries + 1),
		retrygo.RetryIf(Retryable),
		retrygo.DelayType(func(n uint, _ error, _ *retrygo.Config) time.Duration {
			return p.Delay(n)
		}),
		retrygo.LastErrorOnly(true),
	}
}

// Do runs op under the profile's policy. The error of the final attempt is
// returned verbatim.
func Do(ctx context.Context, p Profile, op func() error) error {
	return retrygo.Do(op, p.options(ctx)...)
}

// DoValue runs op under the profile's policy and returns its value.
func DoValue[T any](ctx context.Context, p Profile, op func() (T, error)) (T, error) {
	return retrygo.DoWithData(op, p.options(ctx)...)
}
