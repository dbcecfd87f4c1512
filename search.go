package secops

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tphakala/go-secops/internal/api"
)

const defaultMaxEvents = 10000

// SearchService runs queries over ingested events.
type SearchService interface {
	// UDM runs a UDM query.
	UDM(ctx context.Context, req *UDMSearchRequest, opts ...RequestOption) (*UDMSearchResult, error)

	// FetchCSV runs a UDM query and returns the selected fields as CSV.
	FetchCSV(ctx context.Context, req *CSVSearchRequest, opts ...RequestOption) (string, error)

	// Translate turns a natural-language question into a UDM query.
	Translate(ctx context.Context, text string, opts ...RequestOption) (string, error)

	// NaturalLanguage translates text and runs the resulting query.
	NaturalLanguage(ctx context.Context, req *NLSearchRequest, opts ...RequestOption) (*NLSearchResult, error)
}

type searchService struct {
	backend *backend
}

func newSearchService(b *backend) *searchService {
	return &searchService{backend: b}
}

func validateTimeRange(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return invalid("time_range", "start and end time are required")
	}
	if end.Before(start) {
		return invalid("time_range", "end time %s is before start time %s", formatSeconds(end), formatSeconds(start))
	}
	return nil
}

// UDM runs a UDM query.
func (s *searchService) UDM(ctx context.Context, req *UDMSearchRequest, opts ...RequestOption) (*UDMSearchResult, error) {
	if req == nil || strings.TrimSpace(req.Query) == "" {
		return nil, invalid("query", "query is required")
	}
	if err := validateTimeRange(req.Start, req.End); err != nil {
		return nil, err
	}
	reqCfg := newRequestConfig(opts...)

	limit := req.MaxEvents
	if limit <= 0 {
		limit = defaultMaxEvents
	}

	var result UDMSearchResult
	if _, err := s.backend.call(ctx, "search.udm", &api.Request{
		Method: http.MethodGet,
		Path:   s.backend.instance + ":udmSearch",
		Query: url.Values{
			"query":                {req.Query},
			"timeRange.start_time": {formatSeconds(req.Start)},
			"timeRange.end_time":   {formatSeconds(req.End)},
			"limit":                {strconv.Itoa(limit)},
		},
		Headers: reqCfg.headers,
	}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// timeRangeBody is the camel-case time range used by legacy endpoints.
type timeRangeBody struct {
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

type csvSearchFields struct {
	Fields []string `json:"fields"`
}

type csvSearchBody struct {
	BaselineQuery     string          `json:"baselineQuery"`
	BaselineTimeRange timeRangeBody   `json:"baselineTimeRange"`
	Fields            csvSearchFields `json:"fields"`
	CaseInsensitive   bool            `json:"caseInsensitive"`
}

const microTimeLayout = "2006-01-02T15:04:05.000000Z"

// FetchCSV runs a UDM query and returns the selected fields as CSV.
func (s *searchService) FetchCSV(ctx context.Context, req *CSVSearchRequest, opts ...RequestOption) (string, error) {
	if req == nil || strings.TrimSpace(req.Query) == "" {
		return "", invalid("query", "query is required")
	}
	if len(req.Fields) == 0 {
		return "", invalid("fields", "at least one field is required")
	}
	if err := validateTimeRange(req.Start, req.End); err != nil {
		return "", err
	}
	reqCfg := newRequestConfig(opts...)
	reqCfg.headers.Set("Accept", "*/*")

	resp, err := s.backend.call(ctx, "search.csv", &api.Request{
		Method: http.MethodPost,
		Path:   s.backend.path("legacy:legacyFetchUdmSearchCsv"),
		Body: &csvSearchBody{
			BaselineQuery: req.Query,
			BaselineTimeRange: timeRangeBody{
				StartTime: req.Start.UTC().Format(microTimeLayout),
				EndTime:   req.End.UTC().Format(microTimeLayout),
			},
			Fields:          csvSearchFields{Fields: req.Fields},
			CaseInsensitive: req.CaseInsensitive,
		},
		Headers: reqCfg.headers,
	}, nil)
	if err != nil {
		return "", err
	}
	return csvText(resp.Body)
}

// csvText extracts CSV from a response that is either plain text or a JSON
// document of the form {"csv":{"row":[...]}}.
func csvText(body []byte) (string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return string(body), nil
	}
	if !gjson.ValidBytes(trimmed) {
		return "", &APIError{StatusCode: http.StatusOK, Message: "malformed CSV response"}
	}

	rows := gjson.GetBytes(trimmed, "csv.row")
	if !rows.IsArray() {
		return "", &APIError{StatusCode: http.StatusOK, Message: "CSV response has no rows"}
	}
	var sb strings.Builder
	for _, row := range rows.Array() {
		sb.WriteString(row.String())
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

type translateResponse struct {
	Query   string `json:"query"`
	Message string `json:"message"`
}

// Translate turns a natural-language question into a UDM query.
func (s *searchService) Translate(ctx context.Context, text string, opts ...RequestOption) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", invalid("text", "text is required")
	}
	reqCfg := newRequestConfig(opts...)

	var result translateResponse
	if _, err := s.backend.call(ctx, "search.translate", &api.Request{
		Method:  http.MethodPost,
		Path:    s.backend.instance + ":translateUdmQuery",
		Body:    map[string]string{"text": text},
		Headers: reqCfg.headers,
	}, &result); err != nil {
		return "", err
	}

	if result.Query == "" {
		msg := result.Message
		if msg == "" {
			msg = "no valid query could be generated"
		}
		return "", invalid("text", "%s", msg)
	}
	return result.Query, nil
}

// NaturalLanguage translates text and runs the resulting query.
func (s *searchService) NaturalLanguage(ctx context.Context, req *NLSearchRequest, opts ...RequestOption) (*NLSearchResult, error) {
	if req == nil {
		return nil, invalid("", "search request cannot be nil")
	}
	if err := validateTimeRange(req.Start, req.End); err != nil {
		return nil, err
	}

	query, err := s.Translate(ctx, req.Text, opts...)
	if err != nil {
		return nil, err
	}
	s.backend.logger.Debug("translated query", "text", req.Text, "query", query)

	res, err := s.UDM(ctx, &UDMSearchRequest{
		Query:     query,
		Start:     req.Start,
		End:       req.End,
		MaxEvents: req.MaxEvents,
	}, opts...)
	if err != nil {
		return nil, err
	}
	return &NLSearchResult{Query: query, UDMSearchResult: *res}, nil
}

// formatSeconds renders t as RFC 3339 in UTC with whole seconds.
func formatSeconds(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
