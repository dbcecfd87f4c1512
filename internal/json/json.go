// Package json wraps bytedance/sonic behind the encoding/json API so the rest
// of the module encodes request bodies, and measures their wire size, with a
// single encoder.
package json

import (
	stdjson "encoding/json"
	"io"

	"github.com/bytedance/sonic"
)

// api mirrors encoding/json behaviour (HTML escaping, sorted map keys) so
// that encoded sizes match what the server receives byte for byte.
var api = sonic.ConfigStd

// Marshal returns the JSON encoding of v.
func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

// Unmarshal parses the JSON-encoded data and stores the result in v.
func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

// Valid reports whether data is a valid JSON encoding.
func Valid(data []byte) bool {
	return api.Valid(data)
}

// EncodedSize returns the number of bytes v occupies on the wire.
func EncodedSize(v any) (int64, error) {
	data, err := api.Marshal(v)
	if err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

// NewEncoder returns a streaming encoder that writes to w.
func NewEncoder(w io.Writer) sonic.Encoder {
	return api.NewEncoder(w)
}

// NewDecoder returns a token-level decoder reading from r. Sonic's stream
// decoder has no Token API, which streamed arrays need.
func NewDecoder(r io.Reader) *stdjson.Decoder {
	return stdjson.NewDecoder(r)
}

type (
	// RawMessage is a raw encoded JSON value.
	RawMessage = stdjson.RawMessage

	// Delim is a JSON array or object delimiter, one of [ ] { or }.
	Delim = stdjson.Delim

	// Decoder reads JSON values and tokens from an input stream.
	Decoder = stdjson.Decoder
)
