// Package stream turns the records of a long-running server operation into a
// lazy sequence of typed events.
//
// Records are decoded one at a time as the consumer asks for them. Breaking
// out of the range loop stops reading immediately. A server-reported error
// arrives as an ordinary KindError event; a broken transport or malformed
// record ends the sequence with a *fault.StreamTransportError instead.
package stream

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"sync/atomic"

	"github.com/tphakala/go-secops/internal/fault"
)

// Decoder holds per-operation settings. The zero value is usable.
type Decoder struct {
	// Op names the operation in errors and logs.
	Op string
	// Observe, if set, is called with every event before it is yielded.
	Observe func(Event)
	Logger  *slog.Logger
}

// Events returns a single-use sequence of the events decoded from src. Each
// pair has either an event or a terminal error, never both. Ranging the
// sequence a second time yields fault.ErrStreamConsumed.
func (d *Decoder) Events(ctx context.Context, src Source) iter.Seq2[Event, error] {
	logger := d.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	var consumed atomic.Bool

	return func(yield func(Event, error) bool) {
		if consumed.Swap(true) {
			yield(Event{}, fault.ErrStreamConsumed)
			return
		}
		if c, ok := src.(io.Closer); ok {
			defer c.Close()
		}

		records := 0
		for {
			if err := ctx.Err(); err != nil {
				logger.Debug("stream interrupted", "op", d.Op, "records", records, "error", err)
				yield(Event{}, &fault.TimeoutError{Op: d.Op, Records: records, Err: err})
				return
			}

			raw, err := src.Next(ctx)
			if errors.Is(err, io.EOF) {
				logger.Debug("stream finished", "op", d.Op, "records", records)
				return
			}
			if err != nil {
				yield(Event{}, d.transportError(ctx, records, err))
				return
			}

			ev, err := Decode(raw)
			if err != nil {
				yield(Event{}, &fault.StreamTransportError{Op: d.Op, Records: records, Err: err})
				return
			}
			records++

			if d.Observe != nil {
				d.Observe(ev)
			}
			if !yield(ev, nil) {
				logger.Debug("stream abandoned by consumer", "op", d.Op, "records", records)
				return
			}
		}
	}
}

func (d *Decoder) transportError(ctx context.Context, records int, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if !errors.Is(err, ctxErr) {
			err = errors.Join(ctxErr, err)
		}
		return &fault.TimeoutError{Op: d.Op, Records: records, Err: err}
	}
	return &fault.StreamTransportError{Op: d.Op, Records: records, Err: err}
}

// Events is shorthand for a zero Decoder named op.
func Events(ctx context.Context, op string, src Source) iter.Seq2[Event, error] {
	d := &Decoder{Op: op}
	return d.Events(ctx, src)
}
