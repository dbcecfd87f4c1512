// Package retry runs a single remote call under a fixed-backoff retry policy.
//
// A failed attempt is classified; only failures the policy names as
// retryable are attempted again, and never more than Policy.MaxAttempts times
// in total. When retries are exhausted the last failure is returned as is.
package retry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Default policy values.
const (
	DefaultMaxAttempts = 5
	DefaultBackoff     = 2 * time.Second

	// ResourceExhausted is the RPC status the platform reports for quota and
	// rate-limit rejections, with or without an HTTP 429.
	ResourceExhausted = "RESOURCE_EXHAUSTED"
)

// Decision is the classification of a failed attempt.
type Decision int

const (
	// Fail stops retrying and returns the failure to the caller.
	Fail Decision = iota
	// Retry schedules another attempt if the policy allows one.
	Retry
)

func (d Decision) String() string {
	switch d {
	case Fail:
		return "fail"
	case Retry:
		return "retry"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// StatusCoder is implemented by failures that carry an HTTP status code.
type StatusCoder interface {
	HTTPStatus() int
}

// ErrorCoder is implemented by failures that carry a structured error code
// such as RESOURCE_EXHAUSTED.
type ErrorCoder interface {
	ErrorCode() string
}

// Policy configures retries. It is a plain value and safe to share between
// concurrent calls.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// Backoff is the fixed delay between attempts.
	Backoff time.Duration

	// StatusCodes lists retryable HTTP status codes.
	StatusCodes []int

	// ErrorCodes lists retryable structured error codes. A code also matches
	// when it appears literally in the error message.
	ErrorCodes []string

	// Retryable optionally marks additional failures as retryable.
	Retryable func(error) bool
}

// DefaultPolicy retries rate limiting (HTTP 429 or RESOURCE_EXHAUSTED).
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     DefaultBackoff,
		StatusCodes: []int{429},
		ErrorCodes:  []string{ResourceExhausted},
	}
}

// Attempts returns the effective attempt budget.
func (p Policy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Classify reports whether err is retryable under p. Context errors are
// never retryable.
func (p Policy) Classify(err error) Decision {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Fail
	}

	var sc StatusCoder
	if errors.As(err, &sc) && slices.Contains(p.StatusCodes, sc.HTTPStatus()) {
		return Retry
	}

	var ec ErrorCoder
	if errors.As(err, &ec) && slices.Contains(p.ErrorCodes, ec.ErrorCode()) {
		return Retry
	}

	msg := err.Error()
	for _, code := range p.ErrorCodes {
		if code != "" && strings.Contains(msg, code) {
			return Retry
		}
	}

	if p.Retryable != nil && p.Retryable(err) {
		return Retry
	}
	return Fail
}

// Call describes one remote operation. Attempt must perform exactly one
// network attempt; it may be invoked several times, so the underlying
// operation has to be safe to repeat.
type Call[T any] struct {
	// Endpoint identifies the remote operation in logs and metrics.
	Endpoint string

	// Attempt performs a single attempt.
	Attempt func(ctx context.Context) (T, error)

	// Classify overrides Policy.Classify for this call.
	Classify func(error) Decision
}

// Event describes a finished attempt.
type Event struct {
	Endpoint string
	Attempt  int
	Err      error
	Decision Decision
	// Delay is the backoff before the next attempt, zero when none follows.
	Delay   time.Duration
	Elapsed time.Duration
}

// Observer receives an Event after every attempt.
type Observer func(Event)

// Do runs call under policy. On success the value is returned untouched. On
// a non-retryable failure, or once MaxAttempts attempts have failed, the last
// failure is returned unchanged. If ctx ends during a backoff the returned
// error wraps both the context error and the last failure.
func Do[T any](ctx context.Context, policy Policy, call Call[T], observers ...Observer) (T, error) {
	var zero T
	if call.Attempt == nil {
		return zero, fmt.Errorf("%s: no attempt function", call.Endpoint)
	}

	classify := call.Classify
	if classify == nil {
		classify = policy.Classify
	}
	limit := policy.Attempts()

	for attempt := 1; ; attempt++ {
		start := time.Now()
		value, err := call.Attempt(ctx)
		ev := Event{
			Endpoint: call.Endpoint,
			Attempt:  attempt,
			Err:      err,
			Elapsed:  time.Since(start),
		}
		if err == nil {
			notify(observers, ev)
			return value, nil
		}

		ev.Decision = classify(err)
		if ev.Decision != Retry || attempt >= limit {
			notify(observers, ev)
			return zero, err
		}

		ev.Delay = policy.Backoff
		notify(observers, ev)

		if werr := sleep(ctx, policy.Backoff); werr != nil {
			return zero, fmt.Errorf("%s: %w (last failure: %w)", call.Endpoint, werr, err)
		}
	}
}

func notify(observers []Observer, ev Event) {
	for _, obs := range observers {
		if obs != nil {
			obs(ev)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
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
