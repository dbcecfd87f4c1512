// Package fault defines the failure kinds shared by the retry, batch and
// stream packages. Each kind is a distinct type so callers can tell them
// apart with errors.As after the error has crossed package boundaries.
package fault

import (
	"errors"
	"fmt"
)

// Range is a half-open interval [Start, End) of indices into a caller's
// original input.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of indices covered by the range.
func (r Range) Len() int {
	return r.End - r.Start
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d)", r.Start, r.End)
}

// SizeViolationError reports an item or request that exceeds a hard size
// limit. It is raised before any network attempt and is never retried.
type SizeViolationError struct {
	Op    string
	Index int
	Size  int64
	Limit int64
}

func (e *SizeViolationError) Error() string {
	return fmt.Sprintf("%s: item %d is %d bytes, limit is %d", e.Op, e.Index, e.Size, e.Limit)
}

// Progress records how far a batch got before it stopped.
type Progress struct {
	// Chunks is the number of chunks the remote side accepted.
	Chunks int
	// Committed covers the input indices already accepted, always starting at 0.
	Committed Range
	// Pending covers the input indices of the chunk that did not complete.
	Pending Range
}

// PartialBatchError reports a fatal failure part way through a batch.
// Chunks before the failed one were committed and are not rolled back.
type PartialBatchError struct {
	Op string
	Progress
	// Chunk is the zero-based index of the chunk that failed.
	Chunk       int
	TotalChunks int
	Err         error
}

func (e *PartialBatchError) Error() string {
	return fmt.Sprintf("%s: chunk %d/%d covering items %s failed after %d items committed: %v",
		e.Op, e.Chunk+1, e.TotalChunks, e.Pending, e.Committed.Len(), e.Err)
}

func (e *PartialBatchError) Unwrap() error {
	return e.Err
}

// StreamTransportError reports a broken stream: the transport failed or a
// record could not be decoded. It is never produced for an error that the
// server reported inside a well-formed record.
type StreamTransportError struct {
	Op string
	// Records is the number of records decoded before the failure.
	Records int
	Err     error
}

func (e *StreamTransportError) Error() string {
	return fmt.Sprintf("%s: stream broken after %d records: %v", e.Op, e.Records, e.Err)
}

func (e *StreamTransportError) Unwrap() error {
	return e.Err
}

// TimeoutError reports that the caller's context ended while a batch or
// stream was in progress. Err is the context error, so errors.Is works with
// both context.DeadlineExceeded and context.Canceled.
type TimeoutError struct {
	Op string
	// Progress is set for batch operations.
	Progress *Progress
	// Records is set for stream operations.
	Records int
	Err     error
}

func (e *TimeoutError) Error() string {
	if e.Progress != nil {
		return fmt.Sprintf("%s: interrupted with %d items committed, items from %d not sent: %v",
			e.Op, e.Progress.Committed.Len(), e.Progress.Pending.Start, e.Err)
	}
	return fmt.Sprintf("%s: interrupted after %d records: %v", e.Op, e.Records, e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// ErrStreamConsumed is returned when a stream sequence is ranged over again.
var ErrStreamConsumed = errors.New("stream already consumed")
