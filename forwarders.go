package secops

import (
	"context"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/tphakala/go-secops/fwdcache"
	"github.com/tphakala/go-secops/internal/api"
)

const forwarderPageSize = 1000

// ForwarderService manages ingestion forwarders.
type ForwarderService interface {
	// List returns an iterator over all forwarders.
	List(ctx context.Context, opts ...RequestOption) iter.Seq2[*Forwarder, error]

	// Create creates a forwarder with the given display name.
	Create(ctx context.Context, displayName string, opts ...RequestOption) (*Forwarder, error)

	// GetOrCreate returns the first forwarder with the given display name,
	// creating one if none exists.
	GetOrCreate(ctx context.Context, displayName string, opts ...RequestOption) (*Forwarder, error)

	// DefaultID returns the ID of the client's default forwarder, resolving
	// and caching it on first use.
	DefaultID(ctx context.Context, opts ...RequestOption) (string, error)
}

type forwarderService struct {
	backend *backend
	cache   ForwarderCache
	name    string

	// resolving serialises default forwarder resolution so that concurrent
	// ingests do not create duplicates.
	resolving sync.Mutex
}

func newForwarderService(b *backend, cache ForwarderCache, name string) *forwarderService {
	return &forwarderService{backend: b, cache: cache, name: name}
}

type forwarderPage struct {
	Forwarders    []*Forwarder `json:"forwarders"`
	NextPageToken string       `json:"nextPageToken"`
}

// List returns an iterator over all forwarders.
func (s *forwarderService) List(ctx context.Context, opts ...RequestOption) iter.Seq2[*Forwarder, error] {
	reqCfg := newRequestConfig(opts...)

	return paginate(ctx, func(ctx context.Context, token string) ([]*Forwarder, string, error) {
		query := url.Values{"pageSize": {strconv.Itoa(forwarderPageSize)}}
		if token != "" {
			query.Set("pageToken", token)
		}

		var page forwarderPage
		_, err := s.backend.call(ctx, "forwarders.list", &api.Request{
			Method:  http.MethodGet,
			Path:    s.backend.path("forwarders"),
			Query:   query,
			Headers: reqCfg.headers,
		}, &page)
		if err != nil {
			return nil, "", err
		}
		return page.Forwarders, page.NextPageToken, nil
	})
}

// Create creates a forwarder with the given display name.
func (s *forwarderService) Create(ctx context.Context, displayName string, opts ...RequestOption) (*Forwarder, error) {
	if displayName == "" {
		return nil, invalid("display_name", "forwarder display name is required")
	}
	reqCfg := newRequestConfig(opts...)

	body := &Forwarder{
		DisplayName: displayName,
		Config:      ForwarderConfig{Metadata: map[string]any{}},
	}

	var result Forwarder
	if _, err := s.backend.call(ctx, "forwarders.create", &api.Request{
		Method:  http.MethodPost,
		Path:    s.backend.path("forwarders"),
		Body:    body,
		Headers: reqCfg.headers,
	}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetOrCreate returns the first forwarder named displayName, creating one
// if none exists.
func (s *forwarderService) GetOrCreate(ctx context.Context, displayName string, opts ...RequestOption) (*Forwarder, error) {
	for f, err := range s.List(ctx, opts...) {
		if err != nil {
			return nil, err
		}
		if f.DisplayName == displayName {
			return f, nil
		}
	}

	s.backend.logger.Info("creating forwarder", "display_name", displayName)
	return s.Create(ctx, displayName, opts...)
}

// DefaultID returns the ID of the default forwarder.
func (s *forwarderService) DefaultID(ctx context.Context, opts ...RequestOption) (string, error) {
	key := fwdcache.Key(s.backend.instance, s.name)

	if id, ok := s.cached(ctx, key); ok {
		return id, nil
	}

	s.resolving.Lock()
	defer s.resolving.Unlock()

	if id, ok := s.cached(ctx, key); ok {
		return id, nil
	}

	f, err := s.GetOrCreate(ctx, s.name, opts...)
	if err != nil {
		return "", err
	}
	id, err := ExtractForwarderID(f.Name)
	if err != nil {
		return "", err
	}

	if err := s.cache.Set(ctx, key, id); err != nil {
		s.backend.logger.Warn("caching default forwarder failed", "error", err)
	}
	return id, nil
}

// cached reads the cache. Cache failures degrade to a miss.
func (s *forwarderService) cached(ctx context.Context, key string) (string, bool) {
	id, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.backend.logger.Warn("reading forwarder cache failed", "error", err)
		return "", false
	}
	return id, ok
}

// forget drops the cached default forwarder.
func (s *forwarderService) forget(ctx context.Context) {
	if err := s.cache.Delete(ctx, fwdcache.Key(s.backend.instance, s.name)); err != nil {
		s.backend.logger.Warn("clearing forwarder cache failed", "error", err)
	}
}

// ExtractForwarderID returns the forwarder ID from a full resource name
// such as projects/p/locations/l/instances/i/forwarders/{id}. A bare ID is
// returned unchanged.
func ExtractForwarderID(name string) (string, error) {
	id := lastSegment(strings.TrimSpace(name))
	if id == "" {
		return "", invalid("forwarder", "cannot extract forwarder ID from %q", name)
	}
	return id, nil
}
