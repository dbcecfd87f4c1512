// Package fwdcache stores resolved forwarder IDs so that log ingestion does
// not look up or create the default forwarder on every call.
//
// Entries are keyed by instance and forwarder display name. A cache miss is
// never an error; the caller falls back to the API.
package fwdcache

import (
	"context"
	"time"
)

// DefaultTTL bounds how long a forwarder ID is trusted before it is looked up
// again.
const DefaultTTL = time.Hour

// Cache maps a forwarder key to a forwarder ID.
type Cache interface {
	// Get returns the cached ID and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores id under key.
	Set(ctx context.Context, key, id string) error
	// Delete removes key, typically after the forwarder turned out to be gone.
	Delete(ctx context.Context, key string) error
}

// Key builds the cache key for a forwarder name within an instance.
func Key(instance, name string) string {
	return instance + "|" + name
}
