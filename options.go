package secops

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tphakala/go-secops/internal/retry"
	"golang.org/x/oauth2"
)

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

type clientConfig struct {
	projectID     string
	customerID    string
	region        string
	baseURL       string
	tokenSource   oauth2.TokenSource
	accessToken   string
	httpClient    *http.Client
	timeout       time.Duration
	userAgent     string
	policy        retry.Policy
	logger        *slog.Logger
	registerer    prometheus.Registerer
	cache         ForwarderCache
	forwarderName string
}

// WithInstance sets the Google Cloud project, the SecOps customer (instance)
// ID and the region the instance lives in.
func WithInstance(projectID, customerID, region string) ClientOption {
	return func(c *clientConfig) {
		c.projectID = projectID
		c.customerID = customerID
		c.region = region
	}
}

// WithBaseURL overrides the API base URL derived from the region.
func WithBaseURL(url string) ClientOption {
	return func(c *clientConfig) {
		c.baseURL = url
	}
}

// WithTokenSource sets the OAuth2 token source used to authorize requests.
func WithTokenSource(src oauth2.TokenSource) ClientOption {
	return func(c *clientConfig) {
		c.tokenSource = src
	}
}

// WithAccessToken authorizes requests with a fixed bearer token.
func WithAccessToken(token string) ClientOption {
	return func(c *clientConfig) {
		c.accessToken = token
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *clientConfig) {
		c.httpClient = client
	}
}

// WithTimeout sets the default request timeout.
// Note: This option is ignored when WithHTTPClient is used;
// set the timeout directly on the provided client instead.
// Streamed responses are bounded by the caller's context instead.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.timeout = d
	}
}

// WithUserAgent sets a custom User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *clientConfig) {
		c.userAgent = ua
	}
}

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p RetryPolicy) ClientOption {
	return func(c *clientConfig) {
		c.policy = p
	}
}

// WithLogger sets the logger. By default the client logs nothing.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *clientConfig) {
		c.logger = l
	}
}

// WithMetrics registers client metrics on reg.
func WithMetrics(reg prometheus.Registerer) ClientOption {
	return func(c *clientConfig) {
		c.registerer = reg
	}
}

// WithForwarderCache sets where resolved default forwarder IDs are kept.
// By default each Client has its own in-memory cache.
func WithForwarderCache(cache ForwarderCache) ClientOption {
	return func(c *clientConfig) {
		c.cache = cache
	}
}

// WithForwarderName sets the display name of the default forwarder used
// when ingesting logs without an explicit forwarder.
func WithForwarderName(name string) ClientOption {
	return func(c *clientConfig) {
		c.forwarderName = name
	}
}

// RequestOption configures individual API requests.
type RequestOption func(*requestConfig)

type requestConfig struct {
	headers http.Header
}

func newRequestConfig(opts ...RequestOption) *requestConfig {
	r := &requestConfig{
		headers: make(http.Header),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WithHeader adds a custom header to a request.
func WithHeader(key, value string) RequestOption {
	return func(r *requestConfig) {
		r.headers.Set(key, value)
	}
}

// WithHeaders adds multiple custom headers to a request.
func WithHeaders(headers map[string]string) RequestOption {
	return func(r *requestConfig) {
		for k, v := range headers {
			r.headers.Set(k, v)
		}
	}
}

// WithRequestID sets the X-Request-ID header for tracing.
func WithRequestID(id string) RequestOption {
	return WithHeader("X-Request-ID", id)
}
