package secops

import (
	"context"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tphakala/go-secops/internal/api"
)

const (
	parserPageSize = 100
	// AllLogTypes lists parsers across every log type.
	AllLogTypes = "-"
)

// ParserService manages log parsers. Parsers live under their log type.
type ParserService interface {
	// List returns an iterator over the parsers of logType, or of all log
	// types for AllLogTypes.
	List(ctx context.Context, logType string, opts ...RequestOption) iter.Seq2[*Parser, error]

	// Get retrieves a parser.
	Get(ctx context.Context, logType, parserID string, opts ...RequestOption) (*Parser, error)

	// Create uploads a custom parser for logType.
	Create(ctx context.Context, logType, text string, opts ...RequestOption) (*Parser, error)

	// Activate makes a parser the active one for its log type.
	Activate(ctx context.Context, logType, parserID string, opts ...RequestOption) error

	// Deactivate stops a custom parser from being used.
	Deactivate(ctx context.Context, logType, parserID string, opts ...RequestOption) error

	// Delete deletes a parser. Force is needed for an active parser.
	Delete(ctx context.Context, logType, parserID string, force bool, opts ...RequestOption) error
}

type parserService struct {
	backend *backend
}

func newParserService(b *backend) *parserService {
	return &parserService{backend: b}
}

func requireParser(logType, parserID string) error {
	if strings.TrimSpace(logType) == "" {
		return invalid("log_type", "log type is required")
	}
	if strings.TrimSpace(parserID) == "" {
		return invalid("parser_id", "parser ID is required")
	}
	return nil
}

type parserPage struct {
	Parsers       []*Parser `json:"parsers"`
	NextPageToken string    `json:"nextPageToken"`
}

// List returns an iterator over parsers.
func (s *parserService) List(ctx context.Context, logType string, opts ...RequestOption) iter.Seq2[*Parser, error] {
	if logType == "" {
		logType = AllLogTypes
	}
	reqCfg := newRequestConfig(opts...)

	return paginate(ctx, func(ctx context.Context, token string) ([]*Parser, string, error) {
		query := url.Values{"pageSize": {strconv.Itoa(parserPageSize)}}
		if token != "" {
			query.Set("pageToken", token)
		}

		var page parserPage
		if _, err := s.backend.call(ctx, "parsers.list", &api.Request{
			Method:  http.MethodGet,
			Path:    s.backend.path("logTypes", logType, "parsers"),
			Query:   query,
			Headers: reqCfg.headers,
		}, &page); err != nil {
			return nil, "", err
		}
		return page.Parsers, page.NextPageToken, nil
	})
}

// Get retrieves a parser.
func (s *parserService) Get(ctx context.Context, logType, parserID string, opts ...RequestOption) (*Parser, error) {
	if err := requireParser(logType, parserID); err != nil {
		return nil, err
	}
	reqCfg := newRequestConfig(opts...)

	var parser Parser
	if _, err := s.backend.call(ctx, "parsers.get", &api.Request{
		Method:  http.MethodGet,
		Path:    s.backend.path("logTypes", logType, "parsers", parserID),
		Headers: reqCfg.headers,
	}, &parser); err != nil {
		return nil, err
	}
	return &parser, nil
}

type createParserBody struct {
	CBN                  []byte `json:"cbn"`
	ValidatedOnEmptyLogs bool   `json:"validated_on_empty_logs"`
}

// Create uploads a custom parser for logType.
func (s *parserService) Create(ctx context.Context, logType, text string, opts ...RequestOption) (*Parser, error) {
	if strings.TrimSpace(logType) == "" {
		return nil, invalid("log_type", "log type is required")
	}
	if strings.TrimSpace(text) == "" {
		return nil, invalid("text", "parser text is required")
	}
	reqCfg := newRequestConfig(opts...)

	var parser Parser
	if _, err := s.backend.call(ctx, "parsers.create", &api.Request{
		Method: http.MethodPost,
		Path:   s.backend.path("logTypes", logType, "parsers"),
		Body: &createParserBody{
			CBN:                  []byte(text),
			ValidatedOnEmptyLogs: true,
		},
		Headers: reqCfg.headers,
	}, &parser); err != nil {
		return nil, err
	}
	return &parser, nil
}

// Activate makes a parser the active one for its log type.
func (s *parserService) Activate(ctx context.Context, logType, parserID string, opts ...RequestOption) error {
	return s.transition(ctx, "parsers.activate", logType, parserID, "activate", opts)
}

// Deactivate stops a custom parser from being used.
func (s *parserService) Deactivate(ctx context.Context, logType, parserID string, opts ...RequestOption) error {
	return s.transition(ctx, "parsers.deactivate", logType, parserID, "deactivate", opts)
}

func (s *parserService) transition(ctx context.Context, endpoint, logType, parserID, verb string, opts []RequestOption) error {
	if err := requireParser(logType, parserID); err != nil {
		return err
	}
	reqCfg := newRequestConfig(opts...)

	_, err := s.backend.call(ctx, endpoint, &api.Request{
		Method:  http.MethodPost,
		Path:    s.backend.path("logTypes", logType, "parsers", parserID+":"+verb),
		Body:    struct{}{},
		Headers: reqCfg.headers,
	}, nil)
	return err
}

// Delete deletes a parser.
func (s *parserService) Delete(ctx context.Context, logType, parserID string, force bool, opts ...RequestOption) error {
	if err := requireParser(logType, parserID); err != nil {
		return err
	}
	reqCfg := newRequestConfig(opts...)

	_, err := s.backend.call(ctx, "parsers.delete", &api.Request{
		Method:  http.MethodDelete,
		Path:    s.backend.path("logTypes", logType, "parsers", parserID),
		Query:   url.Values{"force": {strconv.FormatBool(force)}},
		Headers: reqCfg.headers,
	}, nil)
	return err
}
