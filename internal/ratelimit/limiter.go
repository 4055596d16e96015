// Package ratelimit implements distributed token-bucket rate limiting over a
// shared key-value store. All gateway instances pointing at the same store
// converge on one bucket per key.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/suuupra/gateway/internal/config"
	"github.com/suuupra/gateway/internal/kv"
)

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetMs   int64 // milliseconds until the next token refill
}

// bucketState is the persisted bucket representation.
type bucketState struct {
	Tokens     int   `json:"tokens"`
	LastRefill int64 `json:"ts"` // unix milliseconds
}

// Limiter checks requests against per-route token buckets persisted in a
// shared store.
type Limiter struct {
	store  kv.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewLimiter creates a limiter over the given store.
func NewLimiter(store kv.Store, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Allow checks a single request against the bucket for the given key under
// the route's policy. Refill is computed lazily from the elapsed time since
// the last refill, so idle buckets cost nothing.
//
// The read-modify-write below is not atomic across instances; concurrent
// checks on the same key may each observe the same token and over-admit by a
// small bounded amount. Admission control here is approximate, not billing.
func (l *Limiter) Allow(ctx context.Context, key string, policy *config.RateLimitPolicy) (Decision, error) {
	if policy == nil || !policy.Enabled {
		return Decision{Allowed: true}, nil
	}

	maxTokens := policy.MaxTokens()
	interval := policy.Interval()

	decision, err := l.check(ctx, key, policy, maxTokens, interval)
	if err != nil {
		// One retry covers transient store hiccups.
		decision, err = l.check(ctx, key, policy, maxTokens, interval)
	}
	if err != nil {
		if policy.FailsOpen() {
			l.logger.Warn("rate limit store unavailable, failing open",
				zap.String("key", key), zap.Error(err))
			return Decision{Allowed: true, Limit: maxTokens}, nil
		}
		l.logger.Warn("rate limit store unavailable, failing closed",
			zap.String("key", key), zap.Error(err))
		return Decision{Allowed: false, Limit: maxTokens}, err
	}
	return decision, nil
}

func (l *Limiter) check(ctx context.Context, key string, policy *config.RateLimitPolicy, maxTokens int, interval time.Duration) (Decision, error) {
	now := l.now()
	nowMs := now.UnixMilli()

	state := bucketState{Tokens: maxTokens, LastRefill: nowMs}
	raw, found, err := l.store.Get(ctx, key)
	if err != nil {
		return Decision{}, fmt.Errorf("read bucket: %w", err)
	}
	if found {
		if err := json.Unmarshal(raw, &state); err != nil {
			// Corrupt state resets the bucket.
			state = bucketState{Tokens: maxTokens, LastRefill: nowMs}
		} else {
			l.refill(&state, policy, maxTokens, nowMs)
		}
	}

	decision := Decision{
		Limit:   maxTokens,
		ResetMs: l.resetMs(&state, policy, nowMs),
	}
	if state.Tokens < 1 {
		if err := l.persist(ctx, key, &state, interval); err != nil {
			return Decision{}, err
		}
		return decision, nil
	}

	state.Tokens--
	decision.Allowed = true
	decision.Remaining = state.Tokens
	if err := l.persist(ctx, key, &state, interval); err != nil {
		return Decision{}, err
	}
	return decision, nil
}

// refill credits whole tokens for the elapsed time and advances LastRefill
// only by the time those tokens account for, so fractional progress is never
// lost between checks.
func (l *Limiter) refill(state *bucketState, policy *config.RateLimitPolicy, maxTokens int, nowMs int64) {
	elapsed := nowMs - state.LastRefill
	if elapsed <= 0 {
		return
	}
	earned := elapsed * int64(policy.TokensPerInterval) / int64(policy.IntervalMs)
	if earned <= 0 {
		return
	}
	state.Tokens += int(earned)
	if state.Tokens >= maxTokens {
		state.Tokens = maxTokens
		state.LastRefill = nowMs
		return
	}
	state.LastRefill += earned * int64(policy.IntervalMs) / int64(policy.TokensPerInterval)
}

func (l *Limiter) resetMs(state *bucketState, policy *config.RateLimitPolicy, nowMs int64) int64 {
	perToken := int64(policy.IntervalMs) / int64(policy.TokensPerInterval)
	if perToken < 1 {
		perToken = 1
	}
	next := state.LastRefill + perToken - nowMs
	if next < 0 {
		next = 0
	}
	return next
}

func (l *Limiter) persist(ctx context.Context, key string, state *bucketState, interval time.Duration) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal bucket: %w", err)
	}
	// A full idle interval refills the bucket completely, so expired state
	// is indistinguishable from a fresh bucket.
	if err := l.store.Set(ctx, key, raw, 2*interval); err != nil {
		return fmt.Errorf("write bucket: %w", err)
	}
	return nil
}

// KeyInput carries the request dimensions a bucket key can be built from.
type KeyInput struct {
	RouteID  string
	ClientIP string
	UserID   string
	TenantID string
}

// BucketKey builds the bucket key from the policy's configured dimensions.
// Unauthenticated requests share the "anon" user bucket; requests without a
// tenant share "default". Dimension order follows the policy so the same
// policy always yields the same key shape.
func BucketKey(policy *config.RateLimitPolicy, in KeyInput) string {
	dims := policy.Keys
	if len(dims) == 0 {
		dims = []string{"ip", "route"}
	}
	key := "ratelimit"
	for _, dim := range dims {
		switch dim {
		case "ip":
			key += ":" + in.ClientIP
		case "user":
			if in.UserID != "" {
				key += ":" + in.UserID
			} else {
				key += ":anon"
			}
		case "tenant":
			if in.TenantID != "" {
				key += ":" + in.TenantID
			} else {
				key += ":default"
			}
		case "route":
			key += ":" + in.RouteID
		}
	}
	return key
}

// Headers returns the response headers describing a decision.
func (d Decision) Headers() map[string]string {
	h := map[string]string{
		"X-RateLimit-Limit":     strconv.Itoa(d.Limit),
		"X-RateLimit-Remaining": strconv.Itoa(d.Remaining),
	}
	if !d.Allowed {
		retryAfter := (d.ResetMs + 999) / 1000
		if retryAfter < 1 {
			retryAfter = 1
		}
		h["Retry-After"] = strconv.FormatInt(retryAfter, 10)
	}
	return h
}
