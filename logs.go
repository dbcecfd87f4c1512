package secops

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"github.com/tphakala/go-secops/internal/api"
	"github.com/tphakala/go-secops/internal/batch"
	"github.com/tphakala/go-secops/internal/json"
)

var logTypePattern = regexp.MustCompile(`^[A-Z0-9_]+$`)

// LogService ingests data into the platform.
type LogService interface {
	// Ingest sends raw log messages of a single log type. Large inputs are
	// split into several requests; on a *PartialBatchError the result still
	// reports what was committed.
	Ingest(ctx context.Context, req *IngestLogsRequest, opts ...RequestOption) (*IngestResult, error)

	// IngestUDM sends UDM events. Events without metadata.id or
	// metadata.event_timestamp get them filled in.
	IngestUDM(ctx context.Context, events []json.RawMessage, opts ...RequestOption) (*IngestResult, error)
}

type logService struct {
	backend    *backend
	forwarders *forwarderService
}

func newLogService(b *backend, forwarders *forwarderService) *logService {
	return &logService{backend: b, forwarders: forwarders}
}

type logLabel struct {
	Value string `json:"value"`
}

type logEntry struct {
	Data                 []byte              `json:"data"`
	LogEntryTime         string              `json:"log_entry_time"`
	CollectionTime       string              `json:"collection_time"`
	Labels               map[string]logLabel `json:"labels,omitempty"`
	EnvironmentNamespace string              `json:"environment_namespace,omitempty"`
}

type logsSource struct {
	Logs      []logEntry `json:"logs"`
	Forwarder string     `json:"forwarder"`
}

type logsImport struct {
	InlineSource logsSource `json:"inline_source"`
}

type udmEntry struct {
	UDM json.RawMessage `json:"udm"`
}

type eventsSource struct {
	Events []udmEntry `json:"events"`
}

type eventsImport struct {
	InlineSource eventsSource `json:"inline_source"`
}

type importResponse struct {
	Operation string `json:"operation"`
}

// Ingest sends raw log messages of a single log type.
func (s *logService) Ingest(ctx context.Context, req *IngestLogsRequest, opts ...RequestOption) (*IngestResult, error) {
	if err := validateIngestRequest(req); err != nil {
		return nil, err
	}
	reqCfg := newRequestConfig(opts...)

	now := time.Now()
	entryTime := req.EntryTime
	if entryTime.IsZero() {
		entryTime = now
	}
	collectionTime := req.CollectionTime
	if collectionTime.IsZero() {
		collectionTime = now
	}
	if collectionTime.Before(entryTime) {
		return nil, invalid("collection_time", "collection time must be same or after log entry time")
	}

	forwarderID := req.ForwarderID
	usingDefault := forwarderID == ""
	if usingDefault {
		id, err := s.forwarders.DefaultID(ctx, opts...)
		if err != nil {
			return nil, err
		}
		forwarderID = id
	}

	var labels map[string]logLabel
	if len(req.Labels) > 0 {
		labels = make(map[string]logLabel, len(req.Labels))
		for k, v := range req.Labels {
			labels[k] = logLabel{Value: v}
		}
	}

	entries := make([]logEntry, len(req.Messages))
	for i, msg := range req.Messages {
		entries[i] = logEntry{
			Data:                 []byte(msg),
			LogEntryTime:         formatTime(entryTime),
			CollectionTime:       formatTime(collectionTime),
			Labels:               labels,
			EnvironmentNamespace: req.Namespace,
		}
	}

	forwarder := s.backend.path("forwarders", forwarderID)
	limits, err := withEnvelope(logLimits, &logsImport{InlineSource: logsSource{Logs: []logEntry{}, Forwarder: forwarder}})
	if err != nil {
		return nil, err
	}

	path := s.backend.path("logTypes", req.LogType, "logs:import")
	d := newDispatcher(s.backend, "logs.import", limits, func(ctx context.Context, c batch.Chunk[logEntry]) (string, error) {
		var resp importResponse
		_, err := s.backend.attempt(ctx, &api.Request{
			Method:  http.MethodPost,
			Path:    path,
			Body:    &logsImport{InlineSource: logsSource{Logs: c.Items, Forwarder: forwarder}},
			Headers: reqCfg.headers,
		}, &resp)
		return resp.Operation, err
	})

	outcomes, err := d.Run(ctx, entries)
	result := &IngestResult{Operations: batch.Values(outcomes), Committed: committed(outcomes)}

	var notFound *NotFoundError
	if usingDefault && errors.As(err, &notFound) {
		s.forwarders.forget(ctx)
	}
	if err != nil {
		return result, err
	}

	s.backend.logger.Info("logs ingested",
		"log_type", req.LogType,
		"entries", result.Committed,
		"requests", len(outcomes))
	return result, nil
}

func validateIngestRequest(req *IngestLogsRequest) error {
	if req == nil {
		return invalid("", "ingest request cannot be nil")
	}
	if req.LogType == "" {
		return invalid("log_type", "log type is required")
	}
	if !req.ForceLogType && !logTypePattern.MatchString(req.LogType) {
		return invalid("log_type", "invalid log type %q", req.LogType)
	}
	if len(req.Messages) == 0 {
		return invalid("messages", "at least one log message is required")
	}
	return nil
}

// IngestUDM sends UDM events.
func (s *logService) IngestUDM(ctx context.Context, events []json.RawMessage, opts ...RequestOption) (*IngestResult, error) {
	if len(events) == 0 {
		return nil, invalid("events", "at least one UDM event is required")
	}
	reqCfg := newRequestConfig(opts...)

	now := formatTime(time.Now())
	entries := make([]udmEntry, len(events))
	for i, ev := range events {
		filled, err := prepareUDMEvent(ev, now)
		if err != nil {
			return nil, invalid("events", "event %d: %v", i, err)
		}
		entries[i] = udmEntry{UDM: filled}
	}

	limits, err := withEnvelope(udmLimits, &eventsImport{InlineSource: eventsSource{Events: []udmEntry{}}})
	if err != nil {
		return nil, err
	}

	path := s.backend.path("events:import")
	d := newDispatcher(s.backend, "events.import", limits, func(ctx context.Context, c batch.Chunk[udmEntry]) (string, error) {
		var resp importResponse
		_, err := s.backend.attempt(ctx, &api.Request{
			Method:  http.MethodPost,
			Path:    path,
			Body:    &eventsImport{InlineSource: eventsSource{Events: c.Items}},
			Headers: reqCfg.headers,
		}, &resp)
		return resp.Operation, err
	})

	outcomes, err := d.Run(ctx, entries)
	return &IngestResult{Operations: batch.Values(outcomes), Committed: committed(outcomes)}, err
}

// prepareUDMEvent checks that ev is a UDM event and fills in a missing
// metadata.id and metadata.event_timestamp.
func prepareUDMEvent(ev json.RawMessage, now string) (json.RawMessage, error) {
	if !gjson.ValidBytes(ev) {
		return nil, errors.New("not valid JSON")
	}
	doc := gjson.ParseBytes(ev)
	if !doc.IsObject() {
		return nil, errors.New("not a JSON object")
	}
	if !doc.Get("metadata").IsObject() {
		return nil, errors.New("missing metadata")
	}

	out := append([]byte(nil), ev...)
	var err error
	if id := doc.Get("metadata.id"); !id.Exists() || id.String() == "" {
		if out, err = sjson.SetBytes(out, "metadata.id", uuid.NewString()); err != nil {
			return nil, err
		}
	}
	if !doc.Get("metadata.event_timestamp").Exists() {
		if out, err = sjson.SetBytes(out, "metadata.event_timestamp", now); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// formatTime renders t as RFC 3339 in UTC.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
