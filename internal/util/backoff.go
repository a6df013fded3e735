package util

import (
	crand "crypto/rand"
	"math/big"
	"sync"
	"time"

	"k8s.io/client-go/util/workqueue"
)

// Retry retries fn with exponential backoff and jitter until it reports
// retry=false or max has elapsed, and returns the last error.
// Backoff doubles from 1s and is capped at 30s.
func Retry(max time.Duration, fn func() (bool, error)) error {
	start := time.Now()
	attempt := 0
	for {
		retry, err := fn()
		if !retry || time.Since(start) > max {
			return err
		}
		time.Sleep(Backoff(attempt, time.Second, 30*time.Second))
		attempt++
	}
}

// Backoff returns base<<attempt capped at limit, with the upper half jittered.
func Backoff(attempt int, base, limit time.Duration) time.Duration {
	sleep := limit
	if attempt < 32 {
		if d := base << uint(attempt); d > 0 && d < limit {
			sleep = d
		}
	}
	half := sleep / 2
	var jitter time.Duration
	if half > 0 {
		if n, err := crand.Int(crand.Reader, big.NewInt(int64(half))); err == nil {
			jitter = time.Duration(n.Int64())
		}
	}
	return half + jitter
}

// RateLimiter is a per-item jittered exponential workqueue rate limiter.
type RateLimiter struct {
	base, limit time.Duration

	mu       sync.Mutex
	failures map[interface{}]int
}

var _ workqueue.RateLimiter = (*RateLimiter)(nil)

// NewRateLimiter returns a limiter starting at base and capped at limit.
func NewRateLimiter(base, limit time.Duration) *RateLimiter {
	return &RateLimiter{base: base, limit: limit, failures: map[interface{}]int{}}
}

func (r *RateLimiter) When(item interface{}) time.Duration {
	r.mu.Lock()
	n := r.failures[item]
	r.failures[item] = n + 1
	r.mu.Unlock()
	return Backoff(n, r.base, r.limit)
}

func (r *RateLimiter) Forget(item interface{}) {
	r.mu.Lock()
	delete(r.failures, item)
	r.mu.Unlock()
}

func (r *RateLimiter) NumRequeues(item interface{}) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures[item]
}
