// Package retry implements the exponential backoff shared by the agent reconciliation loop and the API sync
// pipeline: start small, double, cap, give up after a fixed attempt count.
package retry

import (
	"context"
	"time"
)

// Policy describes an exponential backoff schedule.
type Policy struct {
	Initial    time.Duration
	Factor     float64
	Max        time.Duration
	MaxAttempts int
}

// Default is the backoff used by §4.5's reconciliation retries and §4.6's transient sync-task retries: 50ms, doubling,
// capped at 5s, five attempts.
var Default = Policy{Initial: 50 * time.Millisecond, Factor: 2, Max: 5 * time.Second, MaxAttempts: 5}

// Do calls fn until it succeeds, p.MaxAttempts is exhausted, or ctx is canceled, sleeping on the policy's backoff
// schedule between attempts. It returns the last error on exhaustion.
func Do(ctx context.Context, p Policy, fn func(attempt int) error) error {
	delay := p.Initial
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		if attempt == p.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * p.Factor)
		if delay > p.Max {
			delay = p.Max
		}
	}
	return err
}
