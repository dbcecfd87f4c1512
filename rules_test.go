package secops_test

import (
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/go-secops"
)

const ruleText = `rule test { events: $e.metadata.event_type = "USER_LOGIN" condition: $e }`

func TestRuleService_CRUD(t *testing.T) {
	t.Run("create", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, testInstance+"/rules", r.URL.Path)
			var body map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, ruleText, body["text"])
			writeJSON(t, w, map[string]any{"name": "projects/p/rules/ru_1", "text": body["text"]})
		})

		rule, err := client.Rules.Create(t.Context(), ruleText)
		require.NoError(t, err)
		assert.Equal(t, "ru_1", rule.ID())
	})

	t.Run("get not found", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "no such rule")
		})

		_, err := client.Rules.Get(t.Context(), "ru_missing")
		var notFound *secops.NotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "rule", notFound.ResourceType)
		assert.Equal(t, "ru_missing", notFound.ResourceID)
	})

	t.Run("update", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPatch, r.Method)
			assert.Equal(t, testInstance+"/rules/ru_1", r.URL.Path)
			assert.Equal(t, "text", r.URL.Query().Get("update_mask"))
			writeJSON(t, w, map[string]any{"name": "rules/ru_1"})
		})

		_, err := client.Rules.Update(t.Context(), "ru_1", ruleText)
		require.NoError(t, err)
	})

	t.Run("delete with force", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodDelete, r.Method)
			assert.Equal(t, "true", r.URL.Query().Get("force"))
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("{}"))
		})

		require.NoError(t, client.Rules.Delete(t.Context(), "ru_1", true))
	})

	t.Run("set enabled", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPatch, r.Method)
			assert.Equal(t, testInstance+"/rules/ru_1/deployment", r.URL.Path)
			assert.Equal(t, "enabled", r.URL.Query().Get("update_mask"))
			var body map[string]bool
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			writeJSON(t, w, map[string]any{"name": "rules/ru_1/deployment", "enabled": body["enabled"]})
		})

		dep, err := client.Rules.SetEnabled(t.Context(), "ru_1", true)
		require.NoError(t, err)
		assert.True(t, dep.Enabled)
	})

	t.Run("empty id", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			t.Errorf("unexpected request %s", r.URL.Path)
		})

		_, err := client.Rules.Get(t.Context(), " ")
		var validation *secops.ValidationError
		assert.ErrorAs(t, err, &validation)
	})
}

func TestRuleService_ListAndSearch(t *testing.T) {
	handler := func(t *testing.T) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "FULL", r.URL.Query().Get("view"))
			if r.URL.Query().Get("pageToken") == "" {
				writeJSON(t, w, map[string]any{
					"rules": []map[string]string{
						{"name": "rules/ru_1", "text": "rule alpha {}"},
						{"name": "rules/ru_2", "text": "rule beta {}"},
					},
					"next_page_token": "p2",
				})
				return
			}
			writeJSON(t, w, map[string]any{
				"rules": []map[string]string{{"name": "rules/ru_3", "text": "rule alphabet {}"}},
			})
		}
	}

	t.Run("list follows snake case token", func(t *testing.T) {
		client := setupTestServer(t, handler(t))
		rules, err := secops.Collect(client.Rules.List(t.Context()))
		require.NoError(t, err)
		require.Len(t, rules, 3)
		assert.Equal(t, "ru_3", rules[2].ID())
	})

	t.Run("search matches text", func(t *testing.T) {
		client := setupTestServer(t, handler(t))
		rules, err := secops.Collect(client.Rules.Search(t.Context(), `rule alpha\w*`))
		require.NoError(t, err)
		require.Len(t, rules, 2)
		assert.Equal(t, "ru_1", rules[0].ID())
		assert.Equal(t, "ru_3", rules[1].ID())
	})

	t.Run("invalid pattern", func(t *testing.T) {
		client := setupTestServer(t, handler(t))
		_, err := secops.Collect(client.Rules.Search(t.Context(), `([`))
		var validation *secops.ValidationError
		require.ErrorAs(t, err, &validation)
		assert.Equal(t, "pattern", validation.Field)
	})
}

func flushWrite(w http.ResponseWriter, s string) {
	_, _ = io.WriteString(w, s)
	w.(http.Flusher).Flush()
}

func ruleTestRequest() *secops.RuleTestRequest {
	return &secops.RuleTestRequest{
		Text:  ruleText,
		Start: time.Date(2025, 1, 1, 0, 0, 0, 0, time.FixedZone("EST", -5*3600)),
		End:   time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
	}
}

func TestRuleService_Test(t *testing.T) {
	t.Run("streams events in order", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, testInstance+"/legacy:legacyRunTestRule", r.URL.Path)

			var body struct {
				RuleText  string `json:"ruleText"`
				TimeRange struct {
					StartTime string `json:"startTime"`
					EndTime   string `json:"endTime"`
				} `json:"timeRange"`
				MaxResults int     `json:"maxResults"`
				Scope      *string `json:"scope"`
			}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, ruleText, body.RuleText)
			assert.Equal(t, "2025-01-01T05:00:00Z", body.TimeRange.StartTime)
			assert.Equal(t, "2025-01-02T00:00:00Z", body.TimeRange.EndTime)
			assert.Equal(t, 100, body.MaxResults)
			if assert.NotNil(t, body.Scope) {
				assert.Empty(t, *body.Scope)
			}

			flushWrite(w, `[{"progressPercent":25},`)
			flushWrite(w, `{"detection":{"id":"de_1"}},`)
			flushWrite(w, `{"ruleError":{"message":"bad field"}},`)
			flushWrite(w, `{"tooManyDetections":true},`)
			flushWrite(w, `{"somethingNew":1}]`)
		})

		var events []secops.RuleTestEvent
		for ev, err := range client.Rules.Test(t.Context(), ruleTestRequest()) {
			require.NoError(t, err)
			events = append(events, ev)
		}

		require.Len(t, events, 5)
		assert.Equal(t, secops.EventProgress, events[0].Kind)
		assert.InDelta(t, 25.0, events[0].Percent, 0.001)
		assert.Equal(t, secops.EventDetection, events[1].Kind)
		assert.JSONEq(t, `{"id":"de_1"}`, string(events[1].Detection))
		assert.Equal(t, secops.EventError, events[2].Kind)
		assert.Equal(t, "bad field", events[2].Message)
		assert.Equal(t, secops.EventInfo, events[3].Kind)
		assert.Equal(t, secops.EventUnknown, events[4].Kind)
	})

	t.Run("connection drop after two records", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			flushWrite(w, `[{"progressPercent":10},{"detection":{"id":"de_1"}},`)
		})

		var events []secops.RuleTestEvent
		var streamErr error
		for ev, err := range client.Rules.Test(t.Context(), ruleTestRequest()) {
			if err != nil {
				streamErr = err
				break
			}
			events = append(events, ev)
		}

		assert.Len(t, events, 2)
		var transport *secops.StreamTransportError
		require.ErrorAs(t, streamErr, &transport)
		assert.Equal(t, 2, transport.Records)
		assert.ErrorIs(t, streamErr, io.ErrUnexpectedEOF)
	})

	t.Run("server error before streaming", func(t *testing.T) {
		var calls atomic.Int32
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			writeError(w, http.StatusInternalServerError, "INTERNAL", "boom")
		})

		var errs []error
		for _, err := range client.Rules.Test(t.Context(), ruleTestRequest()) {
			errs = append(errs, err)
		}
		require.Len(t, errs, 1)
		var serverErr *secops.ServerError
		require.ErrorAs(t, errs[0], &serverErr)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("rate limited open is retried", func(t *testing.T) {
		var calls atomic.Int32
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				writeError(w, http.StatusTooManyRequests, "RESOURCE_EXHAUSTED", "slow down")
				return
			}
			flushWrite(w, `[{"progressPercent":100}]`)
		})

		var kinds []secops.EventKind
		for ev, err := range client.Rules.Test(t.Context(), ruleTestRequest()) {
			require.NoError(t, err)
			kinds = append(kinds, ev.Kind)
		}
		assert.Equal(t, []secops.EventKind{secops.EventProgress}, kinds)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("timeout while waiting for records", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			flushWrite(w, `[{"progressPercent":1},`)
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
		})

		req := ruleTestRequest()
		req.Timeout = 100 * time.Millisecond

		var events int
		var streamErr error
		for _, err := range client.Rules.Test(t.Context(), req) {
			if err != nil {
				streamErr = err
				break
			}
			events++
		}

		assert.Equal(t, 1, events)
		var timeout *secops.TimeoutError
		require.ErrorAs(t, streamErr, &timeout)
		assert.Equal(t, 1, timeout.Records)
	})

	t.Run("early break stops the stream", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			flushWrite(w, `[{"progressPercent":1},{"progressPercent":2},{"progressPercent":3}]`)
		})

		seen := 0
		for _, err := range client.Rules.Test(t.Context(), ruleTestRequest()) {
			require.NoError(t, err)
			seen++
			break
		}
		assert.Equal(t, 1, seen)
	})

	t.Run("second range is rejected", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			flushWrite(w, `[]`)
		})

		seq := client.Rules.Test(t.Context(), ruleTestRequest())
		for _, err := range seq {
			require.NoError(t, err)
		}
		for _, err := range seq {
			assert.ErrorIs(t, err, secops.ErrStreamConsumed)
		}
	})

	t.Run("max results bounds", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, float64(10000), body["maxResults"])
			flushWrite(w, `[]`)
		})

		for _, n := range []int{-1, 10001} {
			req := ruleTestRequest()
			req.MaxResults = n
			for _, err := range client.Rules.Test(t.Context(), req) {
				var validation *secops.ValidationError
				require.ErrorAs(t, err, &validation)
				assert.Equal(t, "max_results", validation.Field)
			}
		}

		req := ruleTestRequest()
		req.MaxResults = 10000
		for _, err := range client.Rules.Test(t.Context(), req) {
			require.NoError(t, err)
		}
	})
}
