// Package api provides low-level HTTP transport for platform API calls.
package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tphakala/go-secops/internal/auth"
	"github.com/tphakala/go-secops/internal/json"
)

const (
	defaultHTTPTimeout = 60 * time.Second
	defaultMaxBodySize = 64 * 1024 * 1024 // 64MB
)

// Transport handles HTTP communication with the platform API.
type Transport struct {
	BaseURL    *url.URL
	HTTPClient *http.Client
	// StreamClient is used for responses read incrementally. It must not
	// carry a whole-request timeout; the caller's context bounds the stream.
	StreamClient *http.Client
	Credentials  *auth.Credentials
	UserAgent    string
	MaxBodySize  int64
}

// NewTransport creates a Transport with the given configuration.
func NewTransport(baseURL string, creds *auth.Credentials, httpClient *http.Client) (*Transport, error) {
	if !creds.Valid() {
		return nil, fmt.Errorf("credentials must be provided")
	}

	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL: %q is not absolute", baseURL)
	}

	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: defaultHTTPTimeout,
		}
	}
	streamClient := &http.Client{
		Transport:     httpClient.Transport,
		CheckRedirect: httpClient.CheckRedirect,
		Jar:           httpClient.Jar,
	}

	return &Transport{
		BaseURL:      u,
		HTTPClient:   httpClient,
		StreamClient: streamClient,
		Credentials:  creds,
		UserAgent:    "go-secops/1.0",
		MaxBodySize:  defaultMaxBodySize,
	}, nil
}

// Request represents an API request.
type Request struct {
	Method string
	// Path is appended to the base URL. It may contain a ":verb" suffix.
	Path    string
	Query   url.Values
	Body    any
	Headers http.Header
}

// Response represents an API response.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// Do executes an API request and returns the raw response.
func (t *Transport) Do(ctx context.Context, req *Request) (*Response, error) {
	httpReq, err := t.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	httpResp, err := t.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := t.readBody(httpResp.Body)
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Body:       body,
		Headers:    httpResp.Header,
	}, nil
}

// DoJSON executes a request and unmarshals the JSON response into result.
// It only attempts to unmarshal on success status codes (< 400).
func (t *Transport) DoJSON(ctx context.Context, req *Request, result any) (*Response, error) {
	resp, err := t.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	if result != nil && len(resp.Body) > 0 && resp.StatusCode < 400 {
		if err := json.Unmarshal(resp.Body, result); err != nil {
			return resp, fmt.Errorf("unmarshaling response: %w", err)
		}
	}

	return resp, nil
}

// Stream executes a request whose successful response body is consumed
// incrementally. On a success status the open body is returned and the
// caller must close it. On an error status the body is read into the
// Response and nil is returned for the reader.
func (t *Transport) Stream(ctx context.Context, req *Request) (*Response, io.ReadCloser, error) {
	httpReq, err := t.buildRequest(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	httpResp, err := t.StreamClient.Do(httpReq)
	if err != nil {
		return nil, nil, fmt.Errorf("request failed: %w", err)
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
	}
	if httpResp.StatusCode < 400 {
		return resp, httpResp.Body, nil
	}

	defer func() { _ = httpResp.Body.Close() }()
	body, err := t.readBody(httpResp.Body)
	if err != nil {
		return nil, nil, err
	}
	resp.Body = body
	return resp, nil, nil
}

// readBody limits response body size to prevent memory exhaustion.
func (t *Transport) readBody(r io.Reader) ([]byte, error) {
	limit := t.MaxBodySize
	if limit <= 0 {
		limit = defaultMaxBodySize
	}

	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("response too large: exceeds %d bytes", limit)
	}
	return body, nil
}

func (t *Transport) buildRequest(ctx context.Context, req *Request) (*http.Request, error) {
	u := *t.BaseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(req.Path, "/")
	u.RawPath = ""
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	var bodyReader io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", t.UserAgent)

	if err := t.Credentials.Apply(httpReq); err != nil {
		return nil, err
	}

	maps.Copy(httpReq.Header, req.Headers)

	return httpReq, nil
}
