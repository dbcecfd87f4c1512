package secops

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tphakala/go-secops/internal/api"
	"github.com/tphakala/go-secops/internal/json"
	"github.com/tphakala/go-secops/internal/retry"
)

const (
	defaultAlertQuery        = `feedback_summary.status != "CLOSED"`
	defaultMaxAlerts         = 1000
	defaultAlertPollAttempts = 30
	defaultAlertPollInterval = time.Second
)

// ErrAlertsIncomplete is returned when the alert view is still being
// computed after the last poll. The partial view is returned with it.
var ErrAlertsIncomplete = errors.New("alert results incomplete")

// AlertService retrieves alerts.
type AlertService interface {
	// Get polls the alert view until the platform reports it complete.
	Get(ctx context.Context, req *AlertsRequest, opts ...RequestOption) (*AlertsResult, error)
}

type alertService struct {
	backend *backend
}

func newAlertService(b *backend) *alertService {
	return &alertService{backend: b}
}

// alertView is one snapshot of the alert view.
type alertView struct {
	Progress float64 `json:"progress"`
	Complete bool    `json:"complete"`
	Alerts   struct {
		Alerts []json.RawMessage `json:"alerts"`
	} `json:"alerts"`
	FieldAggregations json.RawMessage `json:"fieldAggregations"`
}

func (v *alertView) done() bool {
	return v.Complete || v.Progress >= 1
}

func (v *alertView) result() *AlertsResult {
	return &AlertsResult{
		Alerts:            v.Alerts.Alerts,
		FieldAggregations: v.FieldAggregations,
		Progress:          v.Progress,
		Complete:          v.done(),
	}
}

// decodeAlertView reads a view that may arrive as a single object or as an
// array of successive snapshots, in which case the last one wins.
func decodeAlertView(body []byte) (*alertView, error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		var views []alertView
		if err := json.Unmarshal(body, &views); err != nil {
			return nil, fmt.Errorf("failed to decode alert view: %w", err)
		}
		if len(views) == 0 {
			return &alertView{}, nil
		}
		return &views[len(views)-1], nil
	}

	var view alertView
	if err := json.Unmarshal(body, &view); err != nil {
		return nil, fmt.Errorf("failed to decode alert view: %w", err)
	}
	return &view, nil
}

// Get polls the alert view.
func (s *alertService) Get(ctx context.Context, req *AlertsRequest, opts ...RequestOption) (*AlertsResult, error) {
	if req == nil {
		return nil, invalid("time_range", "start and end time are required")
	}
	if err := validateTimeRange(req.Start, req.End); err != nil {
		return nil, err
	}
	if req.MaxAlerts < 0 {
		return nil, invalid("max_alerts", "max alerts must not be negative")
	}
	reqCfg := newRequestConfig(opts...)

	query := url.Values{
		"timeRange.start_time":               {formatSeconds(req.Start)},
		"timeRange.end_time":                 {formatSeconds(req.End)},
		"snapshotQuery":                      {cmp.Or(req.SnapshotQuery, defaultAlertQuery)},
		"alertListOptions.maxReturnedAlerts": {strconv.Itoa(cmp.Or(req.MaxAlerts, defaultMaxAlerts))},
		"enableCache":                        {"ALERTS_FEATURE_PREFERENCE_ENABLED"},
	}
	if req.DisableCache {
		query.Set("enableCache", "ALERTS_FEATURE_PREFERENCE_DISABLED")
	}
	if req.BaselineQuery != "" {
		query.Set("baselineQuery", req.BaselineQuery)
	}

	policy := s.backend.policy
	policy.MaxAttempts = cmp.Or(req.MaxAttempts, defaultAlertPollAttempts)
	policy.Backoff = cmp.Or(req.PollInterval, defaultAlertPollInterval)

	var last *alertView
	view, err := retry.Do(ctx, policy, retry.Call[*alertView]{
		Endpoint: "alerts.get",
		Attempt: func(ctx context.Context) (*alertView, error) {
			resp, err := s.backend.attempt(ctx, &api.Request{
				Method:  http.MethodGet,
				Path:    s.backend.path("legacy:legacyFetchAlertsView"),
				Query:   query,
				Headers: reqCfg.headers,
			}, nil)
			if err != nil {
				return nil, err
			}
			view, err := decodeAlertView(resp.Body)
			if err != nil {
				return nil, err
			}
			last = view
			if !view.done() {
				return nil, ErrAlertsIncomplete
			}
			return view, nil
		},
		Classify: func(err error) retry.Decision {
			if errors.Is(err, ErrAlertsIncomplete) {
				return retry.Retry
			}
			return s.backend.policy.Classify(err)
		},
	}, s.backend.observe)
	if err != nil {
		if errors.Is(err, ErrAlertsIncomplete) && last != nil {
			return last.result(), err
		}
		return nil, err
	}
	return view.result(), nil
}
