package secops

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tphakala/go-secops/internal/api"
	"github.com/tphakala/go-secops/internal/fault"
	"github.com/tphakala/go-secops/internal/stream"
)

const (
	rulePageSize          = 1000
	defaultRuleTestLimit  = 100
	maxRuleTestLimit      = 10000
	defaultRuleTestWindow = 300 * time.Second
)

// RuleService manages and tests detection rules.
type RuleService interface {
	// Create creates a rule from YARA-L text.
	Create(ctx context.Context, text string, opts ...RequestOption) (*Rule, error)

	// Get retrieves a rule by ID.
	Get(ctx context.Context, ruleID string, opts ...RequestOption) (*Rule, error)

	// List returns an iterator over all rules.
	List(ctx context.Context, opts ...RequestOption) iter.Seq2[*Rule, error]

	// Update replaces the text of a rule.
	Update(ctx context.Context, ruleID, text string, opts ...RequestOption) (*Rule, error)

	// Delete deletes a rule. With force, its retrohunts and deployment go too.
	Delete(ctx context.Context, ruleID string, force bool, opts ...RequestOption) error

	// SetEnabled turns live execution of a rule on or off.
	SetEnabled(ctx context.Context, ruleID string, enabled bool, opts ...RequestOption) (*RuleDeployment, error)

	// Search returns an iterator over rules whose text matches pattern.
	Search(ctx context.Context, pattern string, opts ...RequestOption) iter.Seq2[*Rule, error]

	// Test runs rule text over historical data and streams progress,
	// detections and errors as they arrive. The sequence is single-use.
	Test(ctx context.Context, req *RuleTestRequest, opts ...RequestOption) iter.Seq2[RuleTestEvent, error]
}

type ruleService struct {
	backend *backend
}

func newRuleService(b *backend) *ruleService {
	return &ruleService{backend: b}
}

func requireRuleID(ruleID string) error {
	if strings.TrimSpace(ruleID) == "" {
		return invalid("rule_id", "rule ID is required")
	}
	return nil
}

// Create creates a rule from YARA-L text.
func (s *ruleService) Create(ctx context.Context, text string, opts ...RequestOption) (*Rule, error) {
	if strings.TrimSpace(text) == "" {
		return nil, invalid("text", "rule text is required")
	}
	reqCfg := newRequestConfig(opts...)

	var rule Rule
	if _, err := s.backend.call(ctx, "rules.create", &api.Request{
		Method:  http.MethodPost,
		Path:    s.backend.path("rules"),
		Body:    map[string]string{"text": text},
		Headers: reqCfg.headers,
	}, &rule); err != nil {
		return nil, err
	}
	return &rule, nil
}

// Get retrieves a rule by ID.
func (s *ruleService) Get(ctx context.Context, ruleID string, opts ...RequestOption) (*Rule, error) {
	if err := requireRuleID(ruleID); err != nil {
		return nil, err
	}
	reqCfg := newRequestConfig(opts...)

	var rule Rule
	_, err := s.backend.call(ctx, "rules.get", &api.Request{
		Method:  http.MethodGet,
		Path:    s.backend.path("rules", ruleID),
		Headers: reqCfg.headers,
	}, &rule)
	if err != nil {
		var notFound *NotFoundError
		if errors.As(err, &notFound) {
			notFound.ResourceType = "rule"
			notFound.ResourceID = ruleID
		}
		return nil, err
	}
	return &rule, nil
}

type rulePage struct {
	Rules         []*Rule `json:"rules"`
	NextPageToken string  `json:"nextPageToken"`
	// Some deployments answer in snake case.
	NextPageTokenSnake string `json:"next_page_token"`
}

func (p *rulePage) next() string {
	if p.NextPageToken != "" {
		return p.NextPageToken
	}
	return p.NextPageTokenSnake
}

// List returns an iterator over all rules.
func (s *ruleService) List(ctx context.Context, opts ...RequestOption) iter.Seq2[*Rule, error] {
	reqCfg := newRequestConfig(opts...)

	return paginate(ctx, func(ctx context.Context, token string) ([]*Rule, string, error) {
		query := url.Values{
			"pageSize": {strconv.Itoa(rulePageSize)},
			"view":     {"FULL"},
		}
		if token != "" {
			query.Set("pageToken", token)
		}

		var page rulePage
		if _, err := s.backend.call(ctx, "rules.list", &api.Request{
			Method:  http.MethodGet,
			Path:    s.backend.path("rules"),
			Query:   query,
			Headers: reqCfg.headers,
		}, &page); err != nil {
			return nil, "", err
		}
		return page.Rules, page.next(), nil
	})
}

// Update replaces the text of a rule.
func (s *ruleService) Update(ctx context.Context, ruleID, text string, opts ...RequestOption) (*Rule, error) {
	if err := requireRuleID(ruleID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, invalid("text", "rule text is required")
	}
	reqCfg := newRequestConfig(opts...)

	var rule Rule
	if _, err := s.backend.call(ctx, "rules.update", &api.Request{
		Method:  http.MethodPatch,
		Path:    s.backend.path("rules", ruleID),
		Query:   url.Values{"update_mask": {"text"}},
		Body:    map[string]string{"text": text},
		Headers: reqCfg.headers,
	}, &rule); err != nil {
		return nil, err
	}
	return &rule, nil
}

// Delete deletes a rule.
func (s *ruleService) Delete(ctx context.Context, ruleID string, force bool, opts ...RequestOption) error {
	if err := requireRuleID(ruleID); err != nil {
		return err
	}
	reqCfg := newRequestConfig(opts...)

	var query url.Values
	if force {
		query = url.Values{"force": {"true"}}
	}
	_, err := s.backend.call(ctx, "rules.delete", &api.Request{
		Method:  http.MethodDelete,
		Path:    s.backend.path("rules", ruleID),
		Query:   query,
		Headers: reqCfg.headers,
	}, nil)
	return err
}

// SetEnabled turns live execution of a rule on or off.
func (s *ruleService) SetEnabled(ctx context.Context, ruleID string, enabled bool, opts ...RequestOption) (*RuleDeployment, error) {
	if err := requireRuleID(ruleID); err != nil {
		return nil, err
	}
	reqCfg := newRequestConfig(opts...)

	var deployment RuleDeployment
	if _, err := s.backend.call(ctx, "rules.deployment", &api.Request{
		Method:  http.MethodPatch,
		Path:    s.backend.path("rules", ruleID, "deployment"),
		Query:   url.Values{"update_mask": {"enabled"}},
		Body:    map[string]bool{"enabled": enabled},
		Headers: reqCfg.headers,
	}, &deployment); err != nil {
		return nil, err
	}
	return &deployment, nil
}

// Search returns an iterator over rules whose text matches pattern.
func (s *ruleService) Search(ctx context.Context, pattern string, opts ...RequestOption) iter.Seq2[*Rule, error] {
	re, err := regexp.Compile(pattern)
	if err != nil {
		verr := invalid("pattern", "invalid regular expression: %v", err)
		return func(yield func(*Rule, error) bool) {
			yield(nil, verr)
		}
	}
	return Filter(s.List(ctx, opts...), func(r *Rule) bool {
		return re.MatchString(r.Text)
	})
}

type ruleTestBody struct {
	RuleText   string        `json:"ruleText"`
	TimeRange  timeRangeBody `json:"timeRange"`
	MaxResults int           `json:"maxResults"`
	Scope      string        `json:"scope"`
}

func validateRuleTest(req *RuleTestRequest) (limit int, timeout time.Duration, err error) {
	if req == nil {
		return 0, 0, invalid("", "rule test request cannot be nil")
	}
	if strings.TrimSpace(req.Text) == "" {
		return 0, 0, invalid("text", "rule text is required")
	}
	if err := validateTimeRange(req.Start, req.End); err != nil {
		return 0, 0, err
	}

	limit = req.MaxResults
	if limit == 0 {
		limit = defaultRuleTestLimit
	}
	if limit < 1 || limit > maxRuleTestLimit {
		return 0, 0, invalid("max_results", "max results must be between 1 and %d, got %d", maxRuleTestLimit, req.MaxResults)
	}

	timeout = req.Timeout
	if timeout <= 0 {
		timeout = defaultRuleTestWindow
	}
	return limit, timeout, nil
}

// Test runs rule text over historical data. Nothing is sent until the
// sequence is ranged; validation failures arrive as its only error.
func (s *ruleService) Test(ctx context.Context, req *RuleTestRequest, opts ...RequestOption) iter.Seq2[RuleTestEvent, error] {
	const op = "rules.test"
	reqCfg := newRequestConfig(opts...)
	var consumed atomic.Bool

	return func(yield func(RuleTestEvent, error) bool) {
		if consumed.Swap(true) {
			yield(RuleTestEvent{}, ErrStreamConsumed)
			return
		}

		limit, timeout, err := validateRuleTest(req)
		if err != nil {
			yield(RuleTestEvent{}, err)
			return
		}

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		body, err := s.backend.stream(ctx, op, &api.Request{
			Method: http.MethodPost,
			Path:   s.backend.path("legacy:legacyRunTestRule"),
			Body: &ruleTestBody{
				RuleText: req.Text,
				TimeRange: timeRangeBody{
					StartTime: formatSeconds(req.Start),
					EndTime:   formatSeconds(req.End),
				},
				MaxResults: limit,
			},
			Headers: reqCfg.headers,
		})
		if err != nil {
			if ctx.Err() != nil {
				err = &fault.TimeoutError{Op: op, Err: err}
			}
			yield(RuleTestEvent{}, err)
			return
		}

		dec := &stream.Decoder{
			Op: op,
			Observe: func(ev stream.Event) {
				s.backend.metrics.StreamEvent(ev.Kind.String())
			},
			Logger: s.backend.logger,
		}
		src := stream.NewArraySource(body)
		src.MaxRecordBytes = s.backend.transport.MaxBodySize
		for ev, err := range dec.Events(ctx, src) {
			if !yield(ev, err) {
				return
			}
		}
	}
}
