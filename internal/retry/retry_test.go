package retry_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/go-secops/internal/retry"
)

type statusError struct {
	status int
	code   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d %s", e.status, e.code)
}

func (e *statusError) HTTPStatus() int   { return e.status }
func (e *statusError) ErrorCode() string { return e.code }

func fastPolicy(attempts int) retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxAttempts = attempts
	p.Backoff = time.Millisecond
	return p
}

func countingCall(calls *int, errs ...error) retry.Call[string] {
	return retry.Call[string]{
		Endpoint: "test",
		Attempt: func(ctx context.Context) (string, error) {
			i := *calls
			*calls++
			if i < len(errs) && errs[i] != nil {
				return "", errs[i]
			}
			if i >= len(errs) && len(errs) > 0 && errs[len(errs)-1] != nil {
				return "", errs[len(errs)-1]
			}
			return "ok", nil
		},
	}
}

func TestDo(t *testing.T) {
	t.Run("success passes through", func(t *testing.T) {
		calls := 0
		got, err := retry.Do(context.Background(), fastPolicy(3), countingCall(&calls))
		require.NoError(t, err)
		assert.Equal(t, "ok", got)
		assert.Equal(t, 1, calls)
	})

	t.Run("persistent rate limit exhausts attempts exactly", func(t *testing.T) {
		rateLimited := &statusError{status: 429}
		calls := 0
		_, err := retry.Do(context.Background(), fastPolicy(4), countingCall(&calls, rateLimited))
		require.Error(t, err)
		assert.Equal(t, 4, calls)
		assert.Same(t, rateLimited, err, "last failure must be returned verbatim")
	})

	t.Run("non-retryable failure is attempted once", func(t *testing.T) {
		badRequest := &statusError{status: 400}
		calls := 0
		_, err := retry.Do(context.Background(), fastPolicy(5), countingCall(&calls, badRequest))
		require.Error(t, err)
		assert.Equal(t, 1, calls)
		assert.Same(t, badRequest, err)
	})

	t.Run("recovers after transient failures", func(t *testing.T) {
		calls := 0
		got, err := retry.Do(context.Background(), fastPolicy(5), countingCall(&calls,
			&statusError{status: 429}, &statusError{status: 429}, nil))
		require.NoError(t, err)
		assert.Equal(t, "ok", got)
		assert.Equal(t, 3, calls)
	})

	t.Run("structured error code is retryable", func(t *testing.T) {
		calls := 0
		_, err := retry.Do(context.Background(), fastPolicy(2), countingCall(&calls,
			&statusError{status: 400, code: retry.ResourceExhausted}))
		require.Error(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("resource exhausted in message is retryable", func(t *testing.T) {
		calls := 0
		_, err := retry.Do(context.Background(), fastPolicy(3), countingCall(&calls,
			errors.New(`{"error":{"status":"RESOURCE_EXHAUSTED"}}`)))
		require.Error(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("caller predicate", func(t *testing.T) {
		flaky := errors.New("connection reset")
		p := fastPolicy(3)
		p.Retryable = func(err error) bool { return errors.Is(err, flaky) }

		calls := 0
		_, err := retry.Do(context.Background(), p, countingCall(&calls, flaky))
		require.ErrorIs(t, err, flaky)
		assert.Equal(t, 3, calls)
	})

	t.Run("per-call classifier overrides policy", func(t *testing.T) {
		calls := 0
		call := countingCall(&calls, &statusError{status: 429})
		call.Classify = func(error) retry.Decision { return retry.Fail }

		_, err := retry.Do(context.Background(), fastPolicy(5), call)
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("max attempts below one means one attempt", func(t *testing.T) {
		calls := 0
		_, err := retry.Do(context.Background(), fastPolicy(0), countingCall(&calls, &statusError{status: 429}))
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("context cancelled during backoff keeps both causes", func(t *testing.T) {
		rateLimited := &statusError{status: 429}
		ctx, cancel := context.WithCancel(context.Background())
		p := fastPolicy(5)
		p.Backoff = time.Hour

		calls := 0
		call := countingCall(&calls, rateLimited)
		_, err := retry.Do(ctx, p, call, func(ev retry.Event) {
			if ev.Delay > 0 {
				cancel()
			}
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
		assert.ErrorIs(t, err, context.Canceled)

		var se *statusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, 429, se.status)
	})

	t.Run("observer sees fixed backoff", func(t *testing.T) {
		p := fastPolicy(3)
		p.Backoff = 2 * time.Millisecond

		var events []retry.Event
		calls := 0
		_, err := retry.Do(context.Background(), p, countingCall(&calls, &statusError{status: 429}),
			func(ev retry.Event) { events = append(events, ev) })
		require.Error(t, err)
		require.Len(t, events, 3)

		assert.Equal(t, 2*time.Millisecond, events[0].Delay)
		assert.Equal(t, 2*time.Millisecond, events[1].Delay)
		assert.Zero(t, events[2].Delay)
		assert.Equal(t, 3, events[2].Attempt)
	})

	t.Run("nil attempt function", func(t *testing.T) {
		_, err := retry.Do(context.Background(), fastPolicy(1), retry.Call[int]{Endpoint: "noop"})
		require.Error(t, err)
	})
}

func TestPolicy_Classify(t *testing.T) {
	p := retry.DefaultPolicy()

	tests := []struct {
		name string
		err  error
		want retry.Decision
	}{
		{"nil", nil, retry.Fail},
		{"rate limited", &statusError{status: 429}, retry.Retry},
		{"wrapped rate limit", fmt.Errorf("ingest: %w", &statusError{status: 429}), retry.Retry},
		{"server error", &statusError{status: 500}, retry.Fail},
		{"resource exhausted code", &statusError{status: 403, code: "RESOURCE_EXHAUSTED"}, retry.Retry},
		{"deadline", context.DeadlineExceeded, retry.Fail},
		{"cancelled", fmt.Errorf("read: %w", context.Canceled), retry.Fail},
		{"plain", errors.New("boom"), retry.Fail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Classify(tt.err))
		})
	}
}
