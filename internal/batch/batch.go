// Package batch splits oversized writes and reads into API-legal chunks and
// sends them in order.
//
// Partitioning happens up front, so an item that can never fit is rejected
// before anything is sent. Each chunk is one retry.Call. The first chunk that
// fails for good stops the run; what was already committed stays committed
// and is reported alongside the failure.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tphakala/go-secops/internal/fault"
	"github.com/tphakala/go-secops/internal/json"
	"github.com/tphakala/go-secops/internal/retry"
)

// Limits are the ceilings an endpoint enforces on one request. Zero means
// unlimited.
type Limits struct {
	// MaxItems caps the number of items per request.
	MaxItems int
	// MaxItemBytes caps the encoded size of a single item.
	MaxItemBytes int64
	// MaxRequestBytes caps the encoded size of all items in one request,
	// including EnvelopeBytes and one separator byte between items.
	MaxRequestBytes int64
	// EnvelopeBytes is the fixed encoded overhead of a request body around
	// its items.
	EnvelopeBytes int64
}

// Chunk is a contiguous slice of the caller's input.
type Chunk[T any] struct {
	// Index is the zero-based position of the chunk in the run.
	Index int
	// Range is the chunk's position in the original input.
	Range fault.Range
	Items []T
	// Bytes is the encoded request size the chunk was accounted at.
	Bytes int64
}

// Sizer returns the wire-encoded size of an item.
type Sizer[T any] func(item T) (int64, error)

// JSONSize measures an item by encoding it as JSON.
func JSONSize[T any](item T) (int64, error) {
	return json.EncodedSize(item)
}

// Partition splits items into the fewest contiguous chunks that respect
// limits. Filling greedily in order is optimal because both ceilings only
// grow with chunk length. A nil size measures items with JSONSize.
func Partition[T any](op string, items []T, limits Limits, size Sizer[T]) ([]Chunk[T], error) {
	if size == nil {
		size = JSONSize[T]
	}

	var chunks []Chunk[T]
	start := 0
	bytes := limits.EnvelopeBytes

	closeChunk := func(end int) {
		chunks = append(chunks, Chunk[T]{
			Index: len(chunks),
			Range: fault.Range{Start: start, End: end},
			Items: items[start:end:end],
			Bytes: bytes,
		})
	}

	for i, item := range items {
		n, err := size(item)
		if err != nil {
			return nil, fmt.Errorf("%s: measuring item %d: %w", op, i, err)
		}

		if limits.MaxItemBytes > 0 && n > limits.MaxItemBytes {
			return nil, &fault.SizeViolationError{Op: op, Index: i, Size: n, Limit: limits.MaxItemBytes}
		}
		if limits.MaxRequestBytes > 0 && limits.EnvelopeBytes+n > limits.MaxRequestBytes {
			return nil, &fault.SizeViolationError{
				Op:    op,
				Index: i,
				Size:  n,
				Limit: limits.MaxRequestBytes - limits.EnvelopeBytes,
			}
		}

		count := i - start
		if count > 0 {
			full := limits.MaxItems > 0 && count >= limits.MaxItems
			if limits.MaxRequestBytes > 0 && bytes+1+n > limits.MaxRequestBytes {
				full = true
			}
			if full {
				closeChunk(i)
				start = i
				bytes = limits.EnvelopeBytes
				count = 0
			}
		}

		if count > 0 {
			bytes++
		}
		bytes += n
	}

	if start < len(items) {
		closeChunk(len(items))
	}
	return chunks, nil
}

// Outcome is the result of one dispatched chunk.
type Outcome[R any] struct {
	Chunk int
	Range fault.Range
	Value R
	Err   error
}

// Values returns the values of the successful outcomes in chunk order.
func Values[R any](outcomes []Outcome[R]) []R {
	values := make([]R, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Err == nil {
			values = append(values, o.Value)
		}
	}
	return values
}

// Dispatcher sends a batch chunk by chunk. The zero value is not usable; Op
// and Send are required.
type Dispatcher[T, R any] struct {
	// Op names the operation in errors, logs and metrics.
	Op     string
	Limits Limits
	// Size measures items; nil means JSONSize.
	Size   Sizer[T]
	Policy retry.Policy
	// Send performs one network attempt for a chunk.
	Send func(ctx context.Context, chunk Chunk[T]) (R, error)

	// Observers receive every retry attempt.
	Observers []retry.Observer
	// OnChunk, if set, is called once per dispatched chunk with its final error.
	OnChunk func(chunk Chunk[T], err error)
	Logger  *slog.Logger
}

// Run partitions items and dispatches the chunks in order. It returns one
// Outcome per attempted chunk; on failure the last outcome carries the
// error. The returned error is a *fault.SizeViolationError when nothing was
// sent, a *fault.PartialBatchError when a chunk failed, or a
// *fault.TimeoutError when ctx ended first.
func (d *Dispatcher[T, R]) Run(ctx context.Context, items []T) ([]Outcome[R], error) {
	chunks, err := Partition(d.Op, items, d.Limits, d.Size)
	if err != nil {
		return nil, err
	}
	return d.Dispatch(ctx, chunks)
}

// Dispatch sends already partitioned chunks in order.
func (d *Dispatcher[T, R]) Dispatch(ctx context.Context, chunks []Chunk[T]) ([]Outcome[R], error) {
	if d.Send == nil {
		return nil, fmt.Errorf("%s: no send function", d.Op)
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	outcomes := make([]Outcome[R], 0, len(chunks))
	for _, c := range chunks {
		progress := fault.Progress{
			Chunks:    c.Index,
			Committed: fault.Range{Start: 0, End: c.Range.Start},
			Pending:   c.Range,
		}

		if err := ctx.Err(); err != nil {
			return outcomes, &fault.TimeoutError{Op: d.Op, Progress: &progress, Err: err}
		}

		logger.Debug("dispatching chunk",
			"op", d.Op,
			"chunk", c.Index+1,
			"of", len(chunks),
			"items", len(c.Items),
			"bytes", c.Bytes)

		value, err := retry.Do(ctx, d.Policy, retry.Call[R]{
			Endpoint: d.Op,
			Attempt: func(ctx context.Context) (R, error) {
				return d.Send(ctx, c)
			},
		}, d.Observers...)

		if d.OnChunk != nil {
			d.OnChunk(c, err)
		}

		if err != nil {
			outcomes = append(outcomes, Outcome[R]{Chunk: c.Index, Range: c.Range, Err: err})

			if ctxErr := ctx.Err(); ctxErr != nil {
				cause := err
				if !errors.Is(err, ctxErr) {
					cause = errors.Join(ctxErr, err)
				}
				return outcomes, &fault.TimeoutError{Op: d.Op, Progress: &progress, Err: cause}
			}

			return outcomes, &fault.PartialBatchError{
				Op:          d.Op,
				Progress:    progress,
				Chunk:       c.Index,
				TotalChunks: len(chunks),
				Err:         err,
			}
		}

		outcomes = append(outcomes, Outcome[R]{Chunk: c.Index, Range: c.Range, Value: value})
	}
	return outcomes, nil
}
