// Package budget is the per-subject monthly cost governor. It meters every
// paid classifier call and gates Tier-3 fallback eligibility; it never blocks
// the cheap tiers, even over the hard limit. Availability wins over perfect
// cost control here.
package budget

import (
	"time"

	"go.uber.org/zap"

	"github.com/innonkaduri/kidsafe-peek-sub001/internal/config"
	"github.com/innonkaduri/kidsafe-peek-sub001/internal/repository"
)

// Tier identifies the chargeable call kinds tracked by the meter.
type Tier string

const (
	TierSmall    Tier = "small"
	TierSmart    Tier = "smart"
	TierFallback Tier = "fallback"
	TierCaption  Tier = "caption"
)

// Check is the budget verdict for one subject for the current month.
type Check struct {
	SoftLimitExceeded bool
	HardLimitExceeded bool
	FallbackAllowed   bool
}

// Ledger meters usage and answers budget checks against configured limits.
type Ledger struct {
	usage  repository.UsageRepository
	prices map[string]config.ModelPrice
	limits config.BudgetConfig
	logger *zap.Logger
	now    func() time.Time
}

func NewLedger(usage repository.UsageRepository, prices map[string]config.ModelPrice, limits config.BudgetConfig, logger *zap.Logger) *Ledger {
	return &Ledger{
		usage:  usage,
		prices: prices,
		limits: limits,
		logger: logger,
		now:    time.Now,
	}
}

// MonthKey formats the calendar-month ledger key.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Cost computes the price of one call from the per-model table. Unknown
// models fall back to the "default" table entry, zero if absent.
func (l *Ledger) Cost(model string, inputTokens, outputTokens int) float64 {
	price, ok := l.prices[model]
	if !ok {
		price, ok = l.prices["default"]
		if !ok {
			l.logger.Warn("No price configured for model, charging zero", zap.String("model", model))
			return 0
		}
	}
	return (float64(inputTokens)/1000.0)*price.InputPer1K + (float64(outputTokens)/1000.0)*price.OutputPer1K
}

// RecordUsage charges one call to the subject's monthly meter. The underlying
// write is an atomic upsert-increment, so concurrent calls for the same
// subject sum correctly.
func (l *Ledger) RecordUsage(subjectID int64, tier Tier, model string, inputTokens, outputTokens int) error {
	delta := repository.UsageDelta{Cost: l.Cost(model, inputTokens, outputTokens)}
	switch tier {
	case TierSmall:
		delta.SmallCalls = 1
	case TierSmart:
		delta.SmartCalls = 1
	case TierFallback:
		delta.FallbackCalls = 1
	case TierCaption:
		delta.CaptionCalls = 1
	}

	err := l.usage.IncrementUsage(subjectID, MonthKey(l.now()), delta)
	if err != nil {
		return err
	}

	l.logger.Debug("Usage recorded",
		zap.Int64("subject_id", subjectID),
		zap.String("tier", string(tier)),
		zap.String("model", model),
		zap.Float64("cost", delta.Cost))
	return nil
}

// CheckBudget reports the subject's limit state for the current month.
// Fallback is allowed only while the fallback-call count is under its cap AND
// cost is under the hard limit. A hard-limit breach is logged as critical but
// scanning on the cheap tiers deliberately continues.
func (l *Ledger) CheckBudget(subjectID int64) (Check, error) {
	meter, err := l.usage.GetUsage(subjectID, MonthKey(l.now()))
	if err != nil {
		return Check{}, err
	}

	cost := 0.0
	fallbackCalls := 0
	if meter != nil {
		cost = meter.EstimatedCost
		fallbackCalls = meter.FallbackCalls
	}

	check := Check{
		SoftLimitExceeded: cost >= l.limits.SoftLimit,
		HardLimitExceeded: cost >= l.limits.HardLimit,
		FallbackAllowed:   fallbackCalls < l.limits.MaxFallbackCalls && cost < l.limits.HardLimit,
	}

	if check.HardLimitExceeded {
		l.logger.Error("CRITICAL: subject over hard budget limit, cheap-tier scanning continues",
			zap.Int64("subject_id", subjectID),
			zap.Float64("estimated_cost", cost),
			zap.Float64("hard_limit", l.limits.HardLimit))
	}
	return check, nil
}
