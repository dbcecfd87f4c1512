package secops

import (
	"context"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/tphakala/go-secops/internal/api"
)

const exportPageSize = 1000

// DataExportService exports raw logs to Cloud Storage.
type DataExportService interface {
	// Get retrieves a data export by ID.
	Get(ctx context.Context, exportID string, opts ...RequestOption) (*DataExport, error)

	// Create starts a data export. A bare log type ID is resolved to its
	// resource name first.
	Create(ctx context.Context, req *CreateDataExportRequest, opts ...RequestOption) (*DataExport, error)

	// Cancel stops a running data export.
	Cancel(ctx context.Context, exportID string, opts ...RequestOption) (*DataExport, error)

	// AvailableLogTypes returns an iterator over the log types with data
	// between start and end.
	AvailableLogTypes(ctx context.Context, start, end time.Time, opts ...RequestOption) iter.Seq2[*AvailableLogType, error]
}

type dataExportService struct {
	backend *backend
}

func newDataExportService(b *backend) *dataExportService {
	return &dataExportService{backend: b}
}

func validateExportRange(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return invalid("time_range", "start and end time are required")
	}
	if !end.After(start) {
		return invalid("time_range", "end time must be after start time")
	}
	return nil
}

// Get retrieves a data export by ID.
func (s *dataExportService) Get(ctx context.Context, exportID string, opts ...RequestOption) (*DataExport, error) {
	if strings.TrimSpace(exportID) == "" {
		return nil, invalid("data_export_id", "data export ID is required")
	}
	reqCfg := newRequestConfig(opts...)

	var export DataExport
	if _, err := s.backend.call(ctx, "data_exports.get", &api.Request{
		Method:  http.MethodGet,
		Path:    s.backend.path("dataExports", exportID),
		Headers: reqCfg.headers,
	}, &export); err != nil {
		return nil, err
	}
	return &export, nil
}

type createExportBody struct {
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	GCSBucket     string `json:"gcs_bucket"`
	LogType       string `json:"log_type,omitempty"`
	ExportAllLogs bool   `json:"export_all_logs,omitempty"`
}

// Create starts a data export.
func (s *dataExportService) Create(ctx context.Context, req *CreateDataExportRequest, opts ...RequestOption) (*DataExport, error) {
	if req == nil || req.GCSBucket == "" {
		return nil, invalid("gcs_bucket", "GCS bucket is required")
	}
	if !strings.HasPrefix(req.GCSBucket, "projects/") {
		return nil, invalid("gcs_bucket", "GCS bucket must be in format projects/{project}/buckets/{bucket}")
	}
	if err := validateExportRange(req.Start, req.End); err != nil {
		return nil, err
	}
	switch {
	case req.LogType == "" && !req.AllLogTypes:
		return nil, invalid("log_type", "either a log type or all log types is required")
	case req.LogType != "" && req.AllLogTypes:
		return nil, invalid("log_type", "a log type cannot be combined with all log types")
	}
	reqCfg := newRequestConfig(opts...)

	body := &createExportBody{
		StartTime:     req.Start.UTC().Format(microTimeLayout),
		EndTime:       req.End.UTC().Format(microTimeLayout),
		GCSBucket:     req.GCSBucket,
		ExportAllLogs: req.AllLogTypes,
	}
	if req.LogType != "" {
		body.LogType = s.resolveLogType(ctx, req, opts)
	}

	var export DataExport
	if _, err := s.backend.call(ctx, "data_exports.create", &api.Request{
		Method:  http.MethodPost,
		Path:    s.backend.path("dataExports"),
		Body:    body,
		Headers: reqCfg.headers,
	}, &export); err != nil {
		return nil, err
	}
	return &export, nil
}

// resolveLogType returns the resource name of req.LogType, preferring the
// spelling the platform lists as available. Lookup failures fall back to
// the instance log type path.
func (s *dataExportService) resolveLogType(ctx context.Context, req *CreateDataExportRequest, opts []RequestOption) string {
	if strings.Contains(req.LogType, "/") {
		return req.LogType
	}

	suffix := "/logTypes/" + req.LogType
	for lt, err := range s.AvailableLogTypes(ctx, req.Start, req.End, opts...) {
		if err != nil {
			s.backend.logger.Debug("available log types lookup failed", "log_type", req.LogType, "error", err)
			break
		}
		if strings.HasSuffix(lt.LogType, suffix) {
			return lt.LogType
		}
	}
	return s.backend.path("logTypes", req.LogType)
}

// Cancel stops a running data export.
func (s *dataExportService) Cancel(ctx context.Context, exportID string, opts ...RequestOption) (*DataExport, error) {
	if strings.TrimSpace(exportID) == "" {
		return nil, invalid("data_export_id", "data export ID is required")
	}
	reqCfg := newRequestConfig(opts...)

	var export DataExport
	if _, err := s.backend.call(ctx, "data_exports.cancel", &api.Request{
		Method:  http.MethodPost,
		Path:    s.backend.path("dataExports", exportID+":cancel"),
		Body:    struct{}{},
		Headers: reqCfg.headers,
	}, &export); err != nil {
		return nil, err
	}
	return &export, nil
}

type availableLogTypesBody struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	PageSize  int    `json:"page_size"`
	PageToken string `json:"page_token,omitempty"`
}

type availableLogTypesPage struct {
	LogTypes      []*AvailableLogType `json:"available_log_types"`
	NextPageToken string              `json:"next_page_token"`
}

// AvailableLogTypes returns an iterator over exportable log types.
func (s *dataExportService) AvailableLogTypes(ctx context.Context, start, end time.Time, opts ...RequestOption) iter.Seq2[*AvailableLogType, error] {
	if err := validateExportRange(start, end); err != nil {
		return func(yield func(*AvailableLogType, error) bool) {
			yield(nil, err)
		}
	}
	reqCfg := newRequestConfig(opts...)

	return paginate(ctx, func(ctx context.Context, token string) ([]*AvailableLogType, string, error) {
		var page availableLogTypesPage
		if _, err := s.backend.call(ctx, "data_exports.available_log_types", &api.Request{
			Method: http.MethodPost,
			Path:   s.backend.path("dataExports:fetchavailablelogtypes"),
			Body: &availableLogTypesBody{
				StartTime: start.UTC().Format(microTimeLayout),
				EndTime:   end.UTC().Format(microTimeLayout),
				PageSize:  exportPageSize,
				PageToken: token,
			},
			Headers: reqCfg.headers,
		}, &page); err != nil {
			return nil, "", err
		}
		return page.LogTypes, page.NextPageToken, nil
	})
}
