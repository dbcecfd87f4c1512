package stream

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/tphakala/go-secops/internal/json"
)

// Source delivers raw records one at a time. Next returns io.EOF once the
// transport has signalled a clean end; any other error is a transport
// failure. A Source that also implements io.Closer is closed when the event
// sequence ends.
type Source interface {
	Next(ctx context.Context) (json.RawMessage, error)
}

// SourceFunc adapts a function to a Source.
type SourceFunc func(ctx context.Context) (json.RawMessage, error)

// Next calls f.
func (f SourceFunc) Next(ctx context.Context) (json.RawMessage, error) {
	return f(ctx)
}

// Records returns a Source that yields the given records then io.EOF.
func Records(records ...json.RawMessage) Source {
	i := 0
	return SourceFunc(func(context.Context) (json.RawMessage, error) {
		if i >= len(records) {
			return nil, io.EOF
		}
		r := records[i]
		i++
		return r, nil
	})
}

// DefaultMaxRecordBytes bounds a single array element when
// ArraySource.MaxRecordBytes is zero.
const DefaultMaxRecordBytes = 64 * 1024 * 1024

// ErrRecordTooLarge is returned for an array element over the record limit.
var ErrRecordTooLarge = errors.New("stream record too large")

// ArraySource reads the elements of a JSON array one at a time from a
// response body, holding at most one element in memory.
type ArraySource struct {
	// MaxRecordBytes caps the encoded size of one element. Zero means
	// DefaultMaxRecordBytes.
	MaxRecordBytes int64

	r       io.Reader
	in      *guardReader
	dec     *json.Decoder
	started bool
	done    bool
}

// NewArraySource returns a Source over the JSON array in r. If r is an
// io.Closer it is closed together with the source.
func NewArraySource(r io.Reader) *ArraySource {
	in := &guardReader{r: r}
	return &ArraySource{r: r, in: in, dec: json.NewDecoder(in)}
}

// Next returns the next array element.
func (s *ArraySource) Next(ctx context.Context) (json.RawMessage, error) {
	if s.done {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !s.started {
		tok, err := s.dec.Token()
		if err != nil {
			return nil, unexpected(err)
		}
		if d, ok := tok.(json.Delim); !ok || d != '[' {
			return nil, fmt.Errorf("expected start of array, got %v", tok)
		}
		s.started = true
	}

	if !s.dec.More() {
		return nil, s.finish()
	}

	limit := s.MaxRecordBytes
	if limit <= 0 {
		limit = DefaultMaxRecordBytes
	}

	// The decoder reads ahead, so the guard only stops runaway reads. The
	// exact bound is checked on the decoded element.
	s.in.stop = s.dec.InputOffset() + 2*limit
	var raw json.RawMessage
	err := s.dec.Decode(&raw)
	s.in.stop = 0
	if err != nil {
		return nil, unexpected(err)
	}
	if int64(len(raw)) > limit {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrRecordTooLarge, len(raw), limit)
	}
	return raw, nil
}

// finish consumes the closing bracket and requires nothing but whitespace
// after it.
func (s *ArraySource) finish() error {
	tok, err := s.dec.Token()
	if err != nil {
		return unexpected(err)
	}
	if d, ok := tok.(json.Delim); !ok || d != ']' {
		return fmt.Errorf("expected end of array, got %v", tok)
	}

	tok, err = s.dec.Token()
	if errors.Is(err, io.EOF) {
		s.done = true
		return io.EOF
	}
	if err != nil {
		return fmt.Errorf("malformed data after end of array: %w", err)
	}
	return fmt.Errorf("unexpected data after end of array: %v", tok)
}

// Close closes the underlying reader if it is closable.
func (s *ArraySource) Close() error {
	s.done = true
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// guardReader fails once more than stop bytes have been read in total. A
// zero stop disables the check.
type guardReader struct {
	r    io.Reader
	read int64
	stop int64
}

func (g *guardReader) Read(p []byte) (int, error) {
	if g.stop > 0 && g.read >= g.stop {
		return 0, ErrRecordTooLarge
	}
	if g.stop > 0 && int64(len(p)) > g.stop-g.read {
		p = p[:g.stop-g.read]
	}
	n, err := g.r.Read(p)
	g.read += int64(n)
	return n, err
}

// unexpected turns an EOF inside the array into io.ErrUnexpectedEOF so the
// caller never mistakes a dropped connection for a clean end.
func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
