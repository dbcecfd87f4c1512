package cli

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/tphakala/go-secops"
	"github.com/tphakala/go-secops/internal/json"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// report logs what a failed batch or stream left behind and returns err.
func report(err error) error {
	if err == nil {
		return nil
	}

	var size *secops.SizeViolationError
	var partial *secops.PartialBatchError
	var timeout *secops.TimeoutError
	var stream *secops.StreamTransportError

	switch {
	case errors.As(err, &size):
		slog.Error("input rejected before sending",
			"item", size.Index,
			"bytes", size.Size,
			"limit", size.Limit)
	case errors.As(err, &partial):
		slog.Error("batch stopped part way",
			"op", partial.Op,
			"committed", partial.Committed.String(),
			"failed", partial.Pending.String(),
			"chunk", partial.Chunk+1,
			"of", partial.TotalChunks)
	case errors.As(err, &timeout):
		if timeout.Progress != nil {
			slog.Error("timed out",
				"op", timeout.Op,
				"committed", timeout.Progress.Committed.String(),
				"pending", timeout.Progress.Pending.String())
		} else {
			slog.Error("timed out", "op", timeout.Op, "records", timeout.Records)
		}
	case errors.As(err, &stream):
		slog.Error("stream broken", "op", stream.Op, "records", stream.Records)
	}
	return err
}

// since returns the time range ending now and starting d ago.
func since(d time.Duration) (start, end time.Time) {
	end = time.Now().UTC()
	return end.Add(-d), end
}
