package secops

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/tphakala/go-secops/internal/api"
	"github.com/tphakala/go-secops/internal/batch"
)

// CaseService retrieves cases.
type CaseService interface {
	// BatchGet retrieves cases by ID. Any number of IDs may be passed; they
	// are requested in chunks the endpoint accepts and the cases are
	// returned in request order. On a *PartialBatchError the returned list
	// holds the cases of the chunks that succeeded.
	BatchGet(ctx context.Context, ids []string, opts ...RequestOption) (*CaseList, error)
}

type caseService struct {
	backend *backend
}

func newCaseService(b *backend) *caseService {
	return &caseService{backend: b}
}

// BatchGet retrieves cases by ID.
func (s *caseService) BatchGet(ctx context.Context, ids []string, opts ...RequestOption) (*CaseList, error) {
	if len(ids) == 0 {
		return nil, invalid("ids", "at least one case ID is required")
	}
	for i, id := range ids {
		if strings.TrimSpace(id) == "" {
			return nil, invalid("ids", "case ID %d is empty", i)
		}
	}
	reqCfg := newRequestConfig(opts...)

	path := s.backend.path("legacy:legacyBatchGetCases")
	d := newDispatcher(s.backend, "cases.batch_get", caseLimits, func(ctx context.Context, c batch.Chunk[string]) ([]Case, error) {
		var page CaseList
		_, err := s.backend.attempt(ctx, &api.Request{
			Method:  http.MethodGet,
			Path:    path,
			Query:   url.Values{"names": c.Items},
			Headers: reqCfg.headers,
		}, &page)
		return page.Cases, err
	})

	outcomes, err := d.Run(ctx, ids)
	list := &CaseList{Cases: make([]Case, 0, len(ids))}
	for _, cases := range batch.Values(outcomes) {
		list.Cases = append(list.Cases, cases...)
	}
	return list, err
}
