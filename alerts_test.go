package secops_test

import (
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/go-secops"
)

func alertsRequest() *secops.AlertsRequest {
	end := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return &secops.AlertsRequest{
		Start:        end.Add(-time.Hour),
		End:          end,
		PollInterval: time.Millisecond,
	}
}

func alertView(progress float64, complete bool, ids ...string) map[string]any {
	alerts := make([]map[string]string, len(ids))
	for i, id := range ids {
		alerts[i] = map[string]string{"id": id}
	}
	return map[string]any{
		"progress": progress,
		"complete": complete,
		"alerts":   map[string]any{"alerts": alerts},
	}
}

func TestAlertService_Get(t *testing.T) {
	t.Run("polls until the view is complete", func(t *testing.T) {
		var calls atomic.Int32
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, testInstance+"/legacy:legacyFetchAlertsView", r.URL.Path)

			q := r.URL.Query()
			assert.Equal(t, "2025-03-01T11:00:00Z", q.Get("timeRange.start_time"))
			assert.Equal(t, "2025-03-01T12:00:00Z", q.Get("timeRange.end_time"))
			assert.Equal(t, `feedback_summary.status != "CLOSED"`, q.Get("snapshotQuery"))
			assert.Equal(t, "1000", q.Get("alertListOptions.maxReturnedAlerts"))
			assert.Equal(t, "ALERTS_FEATURE_PREFERENCE_ENABLED", q.Get("enableCache"))
			assert.False(t, q.Has("baselineQuery"))

			if calls.Add(1) < 3 {
				writeJSON(t, w, alertView(0.5, false))
				return
			}
			writeJSON(t, w, alertView(1, true, "a1", "a2"))
		})

		res, err := client.Alerts.Get(t.Context(), alertsRequest())
		require.NoError(t, err)
		assert.Equal(t, int32(3), calls.Load())
		assert.True(t, res.Complete)
		require.Len(t, res.Alerts, 2)
		assert.JSONEq(t, `{"id":"a1"}`, string(res.Alerts[0]))
	})

	t.Run("last snapshot of an array wins", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, []any{alertView(0.2, false), alertView(1, false, "a1")})
		})

		res, err := client.Alerts.Get(t.Context(), alertsRequest())
		require.NoError(t, err)
		assert.True(t, res.Complete)
		assert.Len(t, res.Alerts, 1)
	})

	t.Run("gives up after max attempts with the partial view", func(t *testing.T) {
		var calls atomic.Int32
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			writeJSON(t, w, alertView(0.5, false, "a1"))
		})

		req := alertsRequest()
		req.MaxAttempts = 3
		res, err := client.Alerts.Get(t.Context(), req)
		require.ErrorIs(t, err, secops.ErrAlertsIncomplete)
		assert.Equal(t, int32(3), calls.Load())
		require.NotNil(t, res)
		assert.False(t, res.Complete)
		assert.InDelta(t, 0.5, res.Progress, 0)
		assert.Len(t, res.Alerts, 1)
	})

	t.Run("rate limiting is retried while polling", func(t *testing.T) {
		var calls atomic.Int32
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				writeError(w, http.StatusTooManyRequests, "RESOURCE_EXHAUSTED", "quota")
				return
			}
			writeJSON(t, w, alertView(1, true))
		})

		res, err := client.Alerts.Get(t.Context(), alertsRequest())
		require.NoError(t, err)
		assert.True(t, res.Complete)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("bad request is not polled again", func(t *testing.T) {
		var calls atomic.Int32
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "bad query")
		})

		res, err := client.Alerts.Get(t.Context(), alertsRequest())
		require.Error(t, err)
		assert.Nil(t, res)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("query options", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			assert.Equal(t, "detection.rule_name = \"x\"", q.Get("snapshotQuery"))
			assert.Equal(t, "baseline", q.Get("baselineQuery"))
			assert.Equal(t, "50", q.Get("alertListOptions.maxReturnedAlerts"))
			assert.Equal(t, "ALERTS_FEATURE_PREFERENCE_DISABLED", q.Get("enableCache"))
			writeJSON(t, w, alertView(1, true))
		})

		req := alertsRequest()
		req.SnapshotQuery = "detection.rule_name = \"x\""
		req.BaselineQuery = "baseline"
		req.MaxAlerts = 50
		req.DisableCache = true
		_, err := client.Alerts.Get(t.Context(), req)
		require.NoError(t, err)
	})

	t.Run("validation", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected")
		})

		var validation *secops.ValidationError

		_, err := client.Alerts.Get(t.Context(), nil)
		require.ErrorAs(t, err, &validation)
		assert.Equal(t, "time_range", validation.Field)

		req := alertsRequest()
		req.End = req.Start.Add(-time.Minute)
		_, err = client.Alerts.Get(t.Context(), req)
		require.ErrorAs(t, err, &validation)
		assert.Equal(t, "time_range", validation.Field)

		req = alertsRequest()
		req.MaxAlerts = -1
		_, err = client.Alerts.Get(t.Context(), req)
		require.ErrorAs(t, err, &validation)
		assert.Equal(t, "max_alerts", validation.Field)
	})
}
