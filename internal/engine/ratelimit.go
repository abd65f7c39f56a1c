// Copyright 2026 The Toolgate Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package engine

import (
	"sync"
	"time"

	"github.com/peg/toolgate/internal/policy"
)

// Limiter is the pluggable rate-limit backend. Implementations report
// whether one token could be consumed for the scope key, and if not, an
// estimate of how long until one is available.
type Limiter interface {
	Allow(key string, limitPerMinute, burst int) (ok bool, retryAfter time.Duration)
}

// TokenBucketLimiter is an in-memory per-key token bucket limiter.
//
// Each scope key owns an independent bucket created lazily on first sight
// with the parameters in effect at that moment; keys are never expired
// (bounded growth is acceptable here, eviction is a backend concern).
// The key map is guarded by a read-write lock used only for lookup and
// insert; the refill-and-consume critical section is per bucket, so
// contention on one key never blocks another.
type TokenBucketLimiter struct {
	mu      sync.RWMutex
	buckets map[string]*tokenBucket

	// now is the clock, overridable in tests.
	now func() time.Time
}

type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillPerS float64
	last       time.Time
}

// NewTokenBucketLimiter creates an empty in-memory limiter.
func NewTokenBucketLimiter() *TokenBucketLimiter {
	return &TokenBucketLimiter{
		buckets: make(map[string]*tokenBucket),
		now:     time.Now,
	}
}

// Allow consumes one token from the key's bucket if available.
func (l *TokenBucketLimiter) Allow(key string, limitPerMinute, burst int) (bool, time.Duration) {
	b := l.bucket(key, limitPerMinute, burst)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.now()
	elapsed := now.Sub(b.last).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	b.last = now
	b.tokens = min(b.capacity, b.tokens+elapsed*b.refillPerS)

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}

	wait := time.Duration((1 - b.tokens) / b.refillPerS * float64(time.Second))
	return false, wait
}

func (l *TokenBucketLimiter) bucket(key string, limitPerMinute, burst int) *tokenBucket {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return b
	}

	capacity := float64(burst)
	if capacity < 1 {
		capacity = float64(limitPerMinute)
	}
	if capacity < 1 {
		capacity = 1
	}
	refill := float64(limitPerMinute) / 60.0
	if refill <= 0 {
		refill = 0.1
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[key]; ok {
		return b
	}
	b = &tokenBucket{
		tokens:     capacity,
		capacity:   capacity,
		refillPerS: refill,
		last:       l.now(),
	}
	l.buckets[key] = b
	return b
}

// ScopeKey derives the rate-limit bucket key for a call under the given
// configuration. Unknown scopes fall back to a single global bucket.
func ScopeKey(cfg policy.RateLimitConfig, call ToolCall) string {
	actor := call.Actor
	if actor == "" {
		actor = "unknown"
	}

	switch cfg.EffectiveScope() {
	case policy.ScopeActor:
		return "actor:" + actor
	case policy.ScopeTool:
		return "tool:" + call.Tool
	case policy.ScopeActorTool:
		return "actor:" + actor + ":tool:" + call.Tool
	case policy.ScopeSession:
		session := call.Session
		if session == "" {
			session = "unknown"
		}
		return "session:" + session
	default:
		return "global"
	}
}
