// Package frontier implements the prioritized, deduplicated crawl queue.
//
// Two backends are provided: an in-memory store for single-process runs and
// tests, and a Redis-backed store for runs that must survive restarts. Both
// enforce the same admission policy (max depth, domain allow-list, per-domain
// caps) and the same ordering contract: higher priority first, then lower
// depth, then discovery order.
package frontier

import (
	"strings"
	"time"
)

// Config holds admission policy and retry knobs shared by all backends.
type Config struct {
	MaxDepth          int
	MaxRetries        int
	AllowedDomains    []string
	PerDomainLimit    int
	VisibilityTimeout time.Duration
	BackoffBase       time.Duration
	BackoffMax        time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxDepth <= 0 {
		c.MaxDepth = 3
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = 5 * time.Minute
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = time.Minute
	}
	return c
}

// domainAllowed checks the allow-list; an empty list allows everything.
func (c Config) domainAllowed(domain string) bool {
	if len(c.AllowedDomains) == 0 {
		return true
	}
	domain = strings.ToLower(domain)
	for _, allowed := range c.AllowedDomains {
		allowed = strings.ToLower(allowed)
		if domain == allowed || strings.HasSuffix(domain, "."+allowed) {
			return true
		}
	}
	return false
}

// backoff returns the re-enqueue delay for the given retry count, doubling
// from BackoffBase and capped at BackoffMax.
func (c Config) backoff(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	delay := c.BackoffBase
	for i := 1; i < retryCount; i++ {
		delay *= 2
		if delay >= c.BackoffMax {
			return c.BackoffMax
		}
	}
	if delay > c.BackoffMax {
		return c.BackoffMax
	}
	return delay
}

// Skip reasons recorded when admission policy rejects a task.
const (
	ReasonDepthExceeded  = "max depth exceeded"
	ReasonDomainDenied   = "domain not allowed"
	ReasonDomainBudget   = "per-domain task budget exhausted"
	ReasonFetchPermanent = "permanent fetch error"
)

func clampPriority(p int) int {
	if p < 1 {
		return 1
	}
	if p > 10 {
		return 10
	}
	return p
}
