package cli

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/go-secops"
)

func TestReadLines(t *testing.T) {
	t.Parallel()

	lines, err := readLines(strings.NewReader("first\r\n\nsecond\nthird"))
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, lines)
}

func TestParseUDMEvents(t *testing.T) {
	t.Parallel()

	t.Run("single object", func(t *testing.T) {
		t.Parallel()
		events, err := parseUDMEvents([]byte(`  {"metadata":{}}` + "\n"))
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.JSONEq(t, `{"metadata":{}}`, string(events[0]))
	})

	t.Run("array", func(t *testing.T) {
		t.Parallel()
		events, err := parseUDMEvents([]byte(`[{"a":1},{"b":2}]`))
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})

	t.Run("invalid", func(t *testing.T) {
		t.Parallel()
		_, err := parseUDMEvents([]byte(`"text"`))
		assert.Error(t, err)
	})
}

func TestReadCSV(t *testing.T) {
	t.Parallel()

	const input = "ip,host\n10.0.0.0/8,\"a,b\"\n"

	rows, err := readCSV(strings.NewReader(input), true)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"10.0.0.0/8", "a,b"}}, rows)

	rows, err = readCSV(strings.NewReader(input), false)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestReport(t *testing.T) {
	t.Parallel()

	assert.NoError(t, report(nil))

	plain := errors.New("boom")
	assert.Same(t, plain, report(plain))

	partial := &secops.PartialBatchError{Op: "logs.ingest", Chunk: 1, TotalChunks: 3, Err: plain}
	assert.ErrorIs(t, report(partial), plain)
}

func TestSince(t *testing.T) {
	t.Parallel()

	start, end := since(time.Hour)
	assert.Equal(t, time.Hour, end.Sub(start))
	assert.Equal(t, time.UTC, end.Location())
}
