// Package kv provides the shared low-latency key-value store used by the
// rate limiter and the API key store. Two implementations exist: an
// in-process store for single-node deployments and tests, and a Redis-backed
// store for distributed deployments.
package kv

import (
	"context"
	"time"
)

// Store abstracts the shared key-value backend.
// A nil value slot from MGet means the key was absent.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	MGet(ctx context.Context, keys ...string) ([][]byte, error)
	Delete(ctx context.Context, key string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
}
