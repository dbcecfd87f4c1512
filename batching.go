package secops

import (
	"context"

	"github.com/tphakala/go-secops/internal/batch"
	"github.com/tphakala/go-secops/internal/json"
	"github.com/tphakala/go-secops/internal/retry"
)

// Request ceilings enforced by the platform.
var (
	logLimits = batch.Limits{
		MaxItems:        1000,
		MaxItemBytes:    10_000_000,
		MaxRequestBytes: 50_000_000,
	}
	udmLimits   = logLimits
	caseLimits  = batch.Limits{MaxItems: 1000}
	rowLimits   = batch.Limits{MaxItems: 1000, MaxRequestBytes: 4_000_000}
	rowIDLimits = batch.Limits{MaxItems: 1}
)

// withEnvelope returns limits whose EnvelopeBytes is the encoded size of
// envelope, which must hold an empty item list.
func withEnvelope(limits batch.Limits, envelope any) (batch.Limits, error) {
	n, err := json.EncodedSize(envelope)
	if err != nil {
		return limits, err
	}
	limits.EnvelopeBytes = n
	return limits, nil
}

// newDispatcher wires a batch dispatcher to the client's retry policy,
// logging and metrics. send must perform exactly one attempt.
func newDispatcher[T, R any](b *backend, op string, limits batch.Limits, send func(context.Context, batch.Chunk[T]) (R, error)) *batch.Dispatcher[T, R] {
	return &batch.Dispatcher[T, R]{
		Op:        op,
		Limits:    limits,
		Policy:    b.policy,
		Send:      send,
		Observers: []retry.Observer{b.observe},
		OnChunk: func(_ batch.Chunk[T], err error) {
			b.metrics.Chunk(op, err)
		},
		Logger: b.logger,
	}
}

// committed counts the input items covered by successful outcomes.
func committed[R any](outcomes []batch.Outcome[R]) int {
	n := 0
	for _, o := range outcomes {
		if o.Err == nil {
			n += o.Range.Len()
		}
	}
	return n
}
