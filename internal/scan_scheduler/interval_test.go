package scan_scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/innonkaduri/kidsafe-peek-sub001/internal/config"
)

var testCfg = config.SchedulerConfig{
	TickMinutes:              3,
	TightIntervalMinutes:     5,
	NormalIntervalMinutes:    15,
	WideIntervalMinutes:      60,
	InactivityMinutes:        30,
	HeartbeatIntervalMinutes: 60,
	HeartbeatLookbackMinutes: 120,
	ActiveHoursStart:         "07:00",
	ActiveHoursEnd:           "22:00",
	MaxParallelConversations: 8,
}

func at(hour, minute int) time.Time {
	return time.Date(2026, 8, 28, hour, minute, 0, 0, time.UTC)
}

func ago(now time.Time, minutes int) *time.Time {
	t := now.Add(-time.Duration(minutes) * time.Minute)
	return &t
}

func TestWithinActiveHours(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"mid-afternoon", at(15, 0), true},
		{"start boundary", at(7, 0), true},
		{"just before start", at(6, 59), false},
		{"end boundary", at(22, 0), false},
		{"late night", at(23, 30), false},
		{"early morning", at(3, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WithinActiveHours(testCfg, tt.now))
		})
	}
}

func TestWithinActiveHoursSpanningMidnight(t *testing.T) {
	cfg := testCfg
	cfg.ActiveHoursStart = "20:00"
	cfg.ActiveHoursEnd = "02:00"

	assert.True(t, WithinActiveHours(cfg, at(21, 0)))
	assert.True(t, WithinActiveHours(cfg, at(1, 0)))
	assert.False(t, WithinActiveHours(cfg, at(12, 0)))
}

func TestWithinActiveHoursMalformedConfigAlwaysActive(t *testing.T) {
	cfg := testCfg
	cfg.ActiveHoursStart = "not a time"

	assert.True(t, WithinActiveHours(cfg, at(3, 0)))
}

func TestOptimalInterval(t *testing.T) {
	noon := at(12, 0)
	night := at(23, 0)

	tests := []struct {
		name          string
		now           time.Time
		lastActivity  *time.Time
		overSoftLimit bool
		wantMinutes   int
		wantState     string
	}{
		{"active hours, recent activity", noon, ago(noon, 5), false, 5, "tight"},
		{"outside active hours, recent activity", night, ago(night, 5), false, 15, "normal"},
		{"inactivity forces wide in active hours", noon, ago(noon, 45), false, 60, "wide"},
		{"inactivity forces wide outside active hours", night, ago(night, 45), false, 60, "wide"},
		{"no activity ever", noon, nil, false, 60, "wide"},
		{"over soft budget overrides everything", noon, ago(noon, 2), true, 60, "wide"},
		{"activity at inactivity boundary still counts", noon, ago(noon, 30), false, 5, "tight"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			minutes, state := OptimalInterval(testCfg, tt.now, tt.lastActivity, tt.overSoftLimit)
			assert.Equal(t, tt.wantMinutes, minutes)
			assert.Equal(t, tt.wantState, state)
		})
	}
}
