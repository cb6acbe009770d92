// Package retry provides the bounded exponential backoff used around token
// refresh and model-inference calls, the two most failure-prone network hops
// in the pipeline.
package retry

import (
	"context"
	"time"
)

// Policy controls attempt count and backoff growth.
type Policy struct {
	Attempts int           // total attempts, including the first
	Delay    time.Duration // delay before the second attempt
	Factor   float64       // multiplier applied after each failure
}

// DefaultPolicy retries three times with 1s/2s pauses.
var DefaultPolicy = Policy{Attempts: 3, Delay: time.Second, Factor: 2}

// Do runs fn until it succeeds, attempts are exhausted, or ctx is done.
// The last error is returned. Permanent errors can opt out via the Stop
// wrapper.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	delay := p.Delay

	var err error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay = time.Duration(float64(delay) * p.Factor)
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if stopped, ok := err.(*stopError); ok {
			return stopped.err
		}
	}
	return err
}

// Stop marks err as permanent: Do returns it immediately without further
// attempts.
func Stop(err error) error {
	return &stopError{err: err}
}

type stopError struct {
	err error
}

func (e *stopError) Error() string { return e.err.Error() }
func (e *stopError) Unwrap() error { return e.err }
