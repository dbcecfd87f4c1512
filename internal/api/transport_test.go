package api_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/go-secops/internal/api"
	"github.com/tphakala/go-secops/internal/auth"
)

func newTransport(t *testing.T, handler http.HandlerFunc) *api.Transport {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	tr, err := api.NewTransport(server.URL+"/v1alpha", auth.NewStatic("test-token"), server.Client())
	require.NoError(t, err)
	return tr
}

func TestNewTransport(t *testing.T) {
	t.Run("requires credentials", func(t *testing.T) {
		_, err := api.NewTransport("https://example.com", nil, nil)
		require.Error(t, err)
	})

	t.Run("rejects relative base URL", func(t *testing.T) {
		_, err := api.NewTransport("example.com/v1", auth.NewStatic("t"), nil)
		require.Error(t, err)
	})

	t.Run("stream client has no whole-request timeout", func(t *testing.T) {
		tr, err := api.NewTransport("https://example.com/v1alpha/", auth.NewStatic("t"), nil)
		require.NoError(t, err)
		assert.NotZero(t, tr.HTTPClient.Timeout)
		assert.Zero(t, tr.StreamClient.Timeout)
		assert.Equal(t, "https://example.com/v1alpha", tr.BaseURL.String())
	})
}

func TestTransport_Do(t *testing.T) {
	t.Run("builds path, query, headers and body", func(t *testing.T) {
		tr := newTransport(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/v1alpha/projects/p/locations/us/instances/c:udmSearch", r.URL.Path)
			assert.Equal(t, "a b", r.URL.Query().Get("query"))
			assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.Equal(t, "req-1", r.Header.Get("X-Request-ID"))

			body, _ := io.ReadAll(r.Body)
			assert.JSONEq(t, `{"k":"v"}`, string(body))

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"ok":true}`))
		})

		var result struct {
			OK bool `json:"ok"`
		}
		resp, err := tr.DoJSON(context.Background(), &api.Request{
			Method:  http.MethodPost,
			Path:    "projects/p/locations/us/instances/c:udmSearch",
			Query:   url.Values{"query": {"a b"}},
			Body:    map[string]string{"k": "v"},
			Headers: http.Header{"X-Request-Id": {"req-1"}},
		}, &result)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.True(t, result.OK)
	})

	t.Run("does not decode error bodies", func(t *testing.T) {
		tr := newTransport(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"bad"}}`))
		})

		var result map[string]any
		resp, err := tr.DoJSON(context.Background(), &api.Request{Method: http.MethodGet, Path: "/x"}, &result)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Nil(t, result)
		assert.Contains(t, string(resp.Body), "bad")
	})

	t.Run("rejects oversized responses", func(t *testing.T) {
		tr := newTransport(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(strings.Repeat("x", 100)))
		})
		tr.MaxBodySize = 10

		_, err := tr.Do(context.Background(), &api.Request{Method: http.MethodGet, Path: "/x"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "response too large")
	})
}

func TestTransport_Stream(t *testing.T) {
	t.Run("returns open body on success", func(t *testing.T) {
		tr := newTransport(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`[{"progressPercent":100}]`))
		})

		resp, body, err := tr.Stream(context.Background(), &api.Request{Method: http.MethodPost, Path: "/run"})
		require.NoError(t, err)
		require.NotNil(t, body)
		defer body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		data, err := io.ReadAll(body)
		require.NoError(t, err)
		assert.JSONEq(t, `[{"progressPercent":100}]`, string(data))
	})

	t.Run("reads error body", func(t *testing.T) {
		tr := newTransport(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"status":"RESOURCE_EXHAUSTED"}}`))
		})

		resp, body, err := tr.Stream(context.Background(), &api.Request{Method: http.MethodPost, Path: "/run"})
		require.NoError(t, err)
		assert.Nil(t, body)
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
		assert.Contains(t, string(resp.Body), "RESOURCE_EXHAUSTED")
	})
}
