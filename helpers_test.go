package secops_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/go-secops"
)

const (
	testProject  = "test-project"
	testCustomer = "test-customer"
	testInstance = "/projects/test-project/locations/us/instances/test-customer"
)

func fastPolicy() secops.RetryPolicy {
	p := secops.DefaultRetryPolicy()
	p.Backoff = time.Millisecond
	return p
}

func setupTestServer(t *testing.T, handler http.HandlerFunc, opts ...secops.ClientOption) *secops.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	base := []secops.ClientOption{
		secops.WithInstance(testProject, testCustomer, "us"),
		secops.WithBaseURL(server.URL),
		secops.WithAccessToken("test-token"),
		secops.WithHTTPClient(server.Client()),
		secops.WithRetryPolicy(fastPolicy()),
	}
	client, err := secops.NewClient(append(base, opts...)...)
	require.NoError(t, err)

	return client
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	assert.NoError(t, json.NewEncoder(w).Encode(v))
}

func writeError(w http.ResponseWriter, code int, status, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": code, "status": status, "message": message},
	})
}
