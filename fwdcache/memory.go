package fwdcache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Memory is an in-process Cache. It is safe for concurrent use.
type Memory struct {
	items *ttlcache.Cache[string, string]
}

// NewMemory returns a Memory cache whose entries expire after ttl. A ttl of
// zero or less means DefaultTTL.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		items: ttlcache.New(
			ttlcache.WithTTL[string, string](ttl),
			ttlcache.WithDisableTouchOnHit[string, string](),
		),
	}
}

// Get returns the cached ID for key.
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	item := m.items.Get(key)
	if item == nil || item.IsExpired() {
		return "", false, nil
	}
	return item.Value(), true, nil
}

// Set stores id under key with the cache's TTL.
func (m *Memory) Set(_ context.Context, key, id string) error {
	m.items.Set(key, id, ttlcache.DefaultTTL)
	return nil
}

// Delete removes key.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.items.Delete(key)
	return nil
}

// Len returns the number of entries, including expired ones not yet evicted.
func (m *Memory) Len() int {
	return m.items.Len()
}
