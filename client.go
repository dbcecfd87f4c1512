package secops

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tphakala/go-secops/fwdcache"
	"github.com/tphakala/go-secops/internal/api"
	"github.com/tphakala/go-secops/internal/auth"
	"github.com/tphakala/go-secops/internal/metrics"
	"github.com/tphakala/go-secops/internal/retry"
)

// Default configuration values.
const (
	defaultTimeout       = 60 * time.Second
	DefaultForwarderName = "Wrapper-SDK-Forwarder"
)

// RetryPolicy configures how transient failures are retried.
type RetryPolicy = retry.Policy

// DefaultRetryPolicy retries rate-limit rejections up to five attempts with
// a fixed two second pause.
func DefaultRetryPolicy() RetryPolicy {
	return retry.DefaultPolicy()
}

// ForwarderCache stores resolved default forwarder IDs.
type ForwarderCache = fwdcache.Cache

// Client is the SecOps API client.
type Client struct {
	// Logs ingests raw logs and UDM events.
	Logs LogService
	// Forwarders manages ingestion forwarders.
	Forwarders ForwarderService
	// Search runs UDM and natural-language queries.
	Search SearchService
	// Rules manages and tests detection rules.
	Rules RuleService
	// Parsers manages log parsers.
	Parsers ParserService
	// DataTables manages data tables and their rows.
	DataTables DataTableService
	// Cases retrieves cases.
	Cases CaseService
	// Alerts retrieves alerts.
	Alerts AlertService
	// DataExports exports raw logs to Cloud Storage.
	DataExports DataExportService

	backend *backend
}

// NewClient creates a new SecOps client with the given options.
func NewClient(opts ...ClientOption) (*Client, error) {
	cfg := &clientConfig{
		timeout:       defaultTimeout,
		policy:        retry.DefaultPolicy(),
		forwarderName: DefaultForwarderName,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.projectID == "" || cfg.customerID == "" || cfg.region == "" {
		return nil, ErrNoInstance
	}

	var creds *auth.Credentials
	switch {
	case cfg.tokenSource != nil:
		creds = auth.New(cfg.tokenSource)
	case cfg.accessToken != "":
		creds = auth.NewStatic(cfg.accessToken)
	default:
		return nil, ErrNoCredentials
	}

	baseURL, location := regionEndpoint(cfg.region)
	if cfg.baseURL != "" {
		baseURL = cfg.baseURL
	}

	httpClient := cfg.httpClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: cfg.timeout,
		}
	}

	transport, err := api.NewTransport(baseURL, creds, httpClient)
	if err != nil {
		return nil, err
	}

	if cfg.userAgent != "" {
		transport.UserAgent = cfg.userAgent
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	cache := cfg.cache
	if cache == nil {
		cache = fwdcache.NewMemory(fwdcache.DefaultTTL)
	}

	recorder, err := metrics.New(cfg.registerer)
	if err != nil {
		return nil, err
	}

	b := &backend{
		transport: transport,
		instance:  fmt.Sprintf("projects/%s/locations/%s/instances/%s", cfg.projectID, location, cfg.customerID),
		policy:    cfg.policy,
		logger:    logger,
		metrics:   recorder,
	}

	client := &Client{backend: b}

	forwarders := newForwarderService(b, cache, cfg.forwarderName)
	client.Forwarders = forwarders
	client.Logs = newLogService(b, forwarders)
	client.Search = newSearchService(b)
	client.Rules = newRuleService(b)
	client.Parsers = newParserService(b)
	client.DataTables = newDataTableService(b)
	client.Cases = newCaseService(b)
	client.Alerts = newAlertService(b)
	client.DataExports = newDataExportService(b)

	return client, nil
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string {
	return c.backend.transport.BaseURL.String()
}

// Instance returns the instance resource name,
// projects/{project}/locations/{location}/instances/{customer}.
func (c *Client) Instance() string {
	return c.backend.instance
}

// regionEndpoint returns the base URL and resource location for a region.
// The dev and staging regions live on sandbox hosts under the us location.
func regionEndpoint(region string) (baseURL, location string) {
	switch region {
	case "dev", "staging":
		return fmt.Sprintf("https://%s-chronicle.sandbox.googleapis.com/v1alpha", region), "us"
	default:
		return fmt.Sprintf("https://%s-chronicle.googleapis.com/v1alpha", region), region
	}
}

// backend is the plumbing shared by all services.
type backend struct {
	transport *api.Transport
	instance  string
	policy    retry.Policy
	logger    *slog.Logger
	metrics   *metrics.Recorder
}

// path joins segments under the instance resource name.
func (b *backend) path(segments ...string) string {
	return b.instance + "/" + strings.Join(segments, "/")
}

// observe logs and counts every finished attempt.
func (b *backend) observe(ev retry.Event) {
	outcome := "ok"
	switch {
	case ev.Err != nil && ev.Delay > 0:
		outcome = "retry"
		b.logger.Warn("request failed, retrying",
			"endpoint", ev.Endpoint,
			"attempt", ev.Attempt,
			"delay", ev.Delay,
			"error", ev.Err)
	case ev.Err != nil:
		outcome = "error"
		b.logger.Debug("request failed",
			"endpoint", ev.Endpoint,
			"attempt", ev.Attempt,
			"decision", ev.Decision,
			"error", ev.Err)
	}
	b.metrics.Attempt(ev.Endpoint, outcome, ev.Elapsed, ev.Delay > 0)
}

// attempt performs exactly one request and maps error statuses to typed
// errors.
func (b *backend) attempt(ctx context.Context, req *api.Request, result any) (*api.Response, error) {
	resp, err := b.transport.DoJSON(ctx, req, result)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return resp, parseError(resp.StatusCode, resp.Body, resp.Headers)
	}
	return resp, nil
}

// call performs a request under the retry policy and decodes a successful
// JSON body into result.
func (b *backend) call(ctx context.Context, endpoint string, req *api.Request, result any) (*api.Response, error) {
	return retry.Do(ctx, b.policy, retry.Call[*api.Response]{
		Endpoint: endpoint,
		Attempt: func(ctx context.Context) (*api.Response, error) {
			return b.attempt(ctx, req, result)
		},
	}, b.observe)
}

// stream opens a streamed response under the retry policy. Only opening the
// stream is retried; the caller owns and must close the returned body.
func (b *backend) stream(ctx context.Context, endpoint string, req *api.Request) (io.ReadCloser, error) {
	return retry.Do(ctx, b.policy, retry.Call[io.ReadCloser]{
		Endpoint: endpoint,
		Attempt: func(ctx context.Context) (io.ReadCloser, error) {
			resp, body, err := b.transport.Stream(ctx, req)
			if err != nil {
				return nil, err
			}
			if body == nil {
				return nil, parseError(resp.StatusCode, resp.Body, resp.Headers)
			}
			return body, nil
		},
	}, b.observe)
}
