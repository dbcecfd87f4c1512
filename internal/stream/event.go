package stream

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tphakala/go-secops/internal/json"
)

// Kind tags the variant of an Event.
type Kind int

const (
	// KindUnknown is a record whose shape is not recognised. Its content is
	// kept in Event.Raw.
	KindUnknown Kind = iota
	KindProgress
	KindDetection
	// KindError is an error reported by the server inside a well-formed
	// record. The stream continues after it.
	KindError
	KindInfo
)

func (k Kind) String() string {
	switch k {
	case KindUnknown:
		return "unknown"
	case KindProgress:
		return "progress"
	case KindDetection:
		return "detection"
	case KindError:
		return "error"
	case KindInfo:
		return "info"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// TooManyDetectionsMessage is the Info message for a truncated result set.
const TooManyDetectionsMessage = "too many detections found, results may be incomplete"

// Event is one decoded record of a long-running operation.
type Event struct {
	Kind Kind `json:"kind"`

	// Percent is set for KindProgress.
	Percent float64 `json:"percent,omitempty"`

	// Detection is the raw detection payload for KindDetection.
	Detection json.RawMessage `json:"detection,omitempty"`

	// Message is set for KindError and KindInfo.
	Message string `json:"message,omitempty"`

	// Compilation marks a KindError raised while compiling the rule.
	Compilation bool `json:"compilation,omitempty"`

	// Raw is the record as received.
	Raw json.RawMessage `json:"raw,omitempty"`
}

var errNotObject = errors.New("record is not a JSON object")

// Decode classifies a single record. The first matching discriminator key
// wins, in the order detection, progressPercent, ruleCompilationError,
// ruleError, tooManyDetections. Anything else becomes KindUnknown. An error is
// returned only for input that is not a JSON object.
func Decode(record []byte) (Event, error) {
	if !gjson.ValidBytes(record) {
		return Event{}, fmt.Errorf("malformed record: %q", truncate(record, 64))
	}
	doc := gjson.ParseBytes(record)
	if !doc.IsObject() {
		return Event{}, errNotObject
	}

	ev := Event{Raw: json.RawMessage(record)}

	if v := doc.Get("detection"); v.Exists() {
		ev.Kind = KindDetection
		ev.Detection = json.RawMessage(v.Raw)
		return ev, nil
	}
	if v := doc.Get("progressPercent"); v.Exists() {
		ev.Kind = KindProgress
		ev.Percent = v.Float()
		return ev, nil
	}
	if v := doc.Get("ruleCompilationError"); v.Exists() {
		ev.Kind = KindError
		ev.Compilation = true
		ev.Message = message(v)
		return ev, nil
	}
	if v := doc.Get("ruleError"); v.Exists() {
		ev.Kind = KindError
		ev.Message = message(v)
		return ev, nil
	}
	if doc.Get("tooManyDetections").Bool() {
		ev.Kind = KindInfo
		ev.Message = TooManyDetectionsMessage
		return ev, nil
	}

	return ev, nil
}

// message flattens an error value that may be a string or a structured
// object with a message field.
func message(v gjson.Result) string {
	if v.Type == gjson.String {
		return v.String()
	}
	if m := v.Get("message"); m.Exists() {
		return m.String()
	}
	return v.Raw
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
