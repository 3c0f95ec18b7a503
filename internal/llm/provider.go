// Package llm wraps the classifier providers behind one caller with uniform
// timeout, rate-limit, and failure semantics, so every tier consumes the same
// retry policy.
package llm

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Tier identifies one of the three classifier cost tiers.
type Tier string

const (
	TierSmall    Tier = "small"
	TierSmart    Tier = "smart"
	TierFallback Tier = "fallback"
)

// Domain errors.
var (
	ErrRateLimited       = errors.New("provider rate limited")
	ErrTierNotConfigured = errors.New("tier not configured")
	ErrEmptyResponse     = errors.New("provider returned empty response")
)

// Request is a single completion request to a classifier provider.
type Request struct {
	Model       string
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// Result is a provider response with token usage for cost accounting.
type Result struct {
	Content      string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Provider is the interface all classifier providers implement.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai").
	Name() string
	// Generate sends a completion request and returns the response.
	Generate(ctx context.Context, req *Request) (*Result, error)
}

// Retryable reports whether the error is transient: rate limiting, provider
// 5xx, or a timed-out call. Retryable failures are soft: the next scheduler
// tick or message trigger retries naturally, never a tight in-call loop.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return providerStatus(err) == 429 || providerStatus(err) >= 500
}

// CleanJSON strips markdown code fences that models sometimes wrap around
// JSON payloads.
func CleanJSON(content string) string {
	clean := strings.TrimSpace(content)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	return strings.TrimSpace(clean)
}

// callTimeout is the per-call ceiling applied when config gives none.
const callTimeout = 45 * time.Second
