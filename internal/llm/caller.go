package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/innonkaduri/kidsafe-peek-sub001/internal/config"
)

// Caller is the single entry point for all paid classifier calls. It applies
// a per-call timeout, a shared token-bucket limiter, and a uniform failure
// classification (success / retryable / fatal) consumed by every tier.
type Caller struct {
	providers map[Tier]Provider
	models    map[Tier]string
	limiter   *rate.Limiter
	timeout   time.Duration
	logger    *zap.Logger
}

// NewCaller builds a caller from config, one OpenAI-compatible provider per
// configured tier.
func NewCaller(cfg config.LLMConfig, logger *zap.Logger) *Caller {
	providers := make(map[Tier]Provider)
	models := make(map[Tier]string)

	tiers := map[Tier]config.TierConfig{
		TierSmall:    cfg.Small,
		TierSmart:    cfg.Smart,
		TierFallback: cfg.Fallback,
	}
	for tier, tc := range tiers {
		if tc.Model == "" {
			continue
		}
		providers[tier] = NewOpenAIProvider(tc.APIKey, tc.BaseURL)
		models[tier] = tc.Model
	}

	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = callTimeout
	}

	return &Caller{
		providers: providers,
		models:    models,
		limiter:   rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), cfg.RequestsPerMinute),
		timeout:   timeout,
		logger:    logger,
	}
}

// NewCallerWithProviders wires explicit providers, used in tests.
func NewCallerWithProviders(providers map[Tier]Provider, models map[Tier]string, logger *zap.Logger) *Caller {
	return &Caller{
		providers: providers,
		models:    models,
		limiter:   rate.NewLimiter(rate.Inf, 1),
		timeout:   callTimeout,
		logger:    logger,
	}
}

// Model returns the configured model name for a tier.
func (c *Caller) Model(tier Tier) string {
	return c.models[tier]
}

// Invoke runs one completion call on the given tier. A failed limiter check
// returns ErrRateLimited without blocking: callers treat it as retryable-later
// exactly like a provider 429.
func (c *Caller) Invoke(ctx context.Context, tier Tier, system, user string) (*Result, error) {
	provider, ok := c.providers[tier]
	if !ok {
		return nil, fmt.Errorf("tier %s: %w", tier, ErrTierNotConfigured)
	}

	if !c.limiter.Allow() {
		c.logger.Warn("Local rate limit hit, deferring classifier call", zap.String("tier", string(tier)))
		return nil, fmt.Errorf("tier %s: %w", tier, ErrRateLimited)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	res, err := provider.Generate(ctx, &Request{
		Model:       c.models[tier],
		System:      system,
		User:        user,
		Temperature: 0.1,
		MaxTokens:   1024,
	})
	if err != nil {
		c.logger.Error("Classifier call failed",
			zap.String("tier", string(tier)),
			zap.String("provider", provider.Name()),
			zap.Bool("retryable", Retryable(err)),
			zap.Duration("elapsed", time.Since(started)),
			zap.Error(err))
		return nil, err
	}

	c.logger.Debug("Classifier call completed",
		zap.String("tier", string(tier)),
		zap.String("model", res.Model),
		zap.Int("input_tokens", res.InputTokens),
		zap.Int("output_tokens", res.OutputTokens),
		zap.Duration("elapsed", time.Since(started)))
	return res, nil
}
