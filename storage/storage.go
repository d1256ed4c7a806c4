// Package storage defines a small TTL-aware key-value cache used by tool
// handlers, for example to serve repeated computations from cache instead of
// recomputing them. Keys can be scoped to a session so that one session's
// cached results never leak into another.
package storage

import (
	"context"
	"time"
)

// Cache is the key-value capability handlers build on.
type Cache interface {
	// Get retrieves the item stored under key. It returns a nil Item when the
	// key is absent or expired; errors are reserved for backend failures.
	Get(ctx context.Context, key string, opts ...Option) (*Item, error)

	// Set stores data under key, replacing any previous value.
	Set(ctx context.Context, key string, data []byte, opts ...Option) error

	// Delete removes the key named via WithKey, or the whole scope when no
	// key is given.
	Delete(ctx context.Context, opts ...Option) error

	// Close releases backend resources.
	Close() error
}

// Item is a stored value with its lifecycle metadata.
type Item struct {
	Data      []byte
	CreatedAt time.Time
	ExpiresAt *time.Time // nil means no expiration
}

// IsExpired reports whether the item's TTL has elapsed.
func (it *Item) IsExpired() bool {
	return it.ExpiresAt != nil && time.Now().After(*it.ExpiresAt)
}

// Option configures a cache operation.
type Option func(*Options)

// Options collects per-operation settings.
type Options struct {
	// SessionID scopes the operation to one session. Empty means the shared
	// global scope.
	SessionID string
	// Key names a specific key for Delete.
	Key *string
	// TTL bounds the stored value's lifetime.
	TTL *time.Duration
}

// WithSession scopes the operation to the given session.
func WithSession(sessionID string) Option {
	return func(o *Options) { o.SessionID = sessionID }
}

// WithKey names a specific key for Delete. Without it, Delete clears the
// whole scope.
func WithKey(key string) Option {
	return func(o *Options) { o.Key = &key }
}

// WithTTL sets a time-to-live for the stored value.
func WithTTL(ttl time.Duration) Option {
	return func(o *Options) { o.TTL = &ttl }
}
