package scan_scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/innonkaduri/kidsafe-peek-sub001/internal/config"
)

// The three cadence states a conversation can be in. The state is recomputed
// on every tick from (active hours x recent activity x over budget); nothing
// is persisted beyond the last computed interval value.
const (
	intervalTight  = "tight"
	intervalNormal = "normal"
	intervalWide   = "wide"
)

// minutesOfDay parses "HH:MM" into minutes since midnight.
func minutesOfDay(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// WithinActiveHours reports whether the wall-clock time falls inside the
// configured active-hours window. Malformed config counts as always active.
func WithinActiveHours(cfg config.SchedulerConfig, now time.Time) bool {
	start, err := minutesOfDay(cfg.ActiveHoursStart)
	if err != nil {
		return true
	}
	end, err := minutesOfDay(cfg.ActiveHoursEnd)
	if err != nil {
		return true
	}
	cur := now.Hour()*60 + now.Minute()
	if start <= end {
		return cur >= start && cur < end
	}
	// Window spans midnight
	return cur >= start || cur < end
}

// OptimalInterval selects the Tier-1 scan interval in minutes for one
// conversation. Budget throttling and prolonged inactivity each force the
// wide interval unconditionally; otherwise active hours pick tight vs normal.
func OptimalInterval(cfg config.SchedulerConfig, now time.Time, lastActivityAt *time.Time, overSoftLimit bool) (int, string) {
	if overSoftLimit {
		return cfg.WideIntervalMinutes, intervalWide
	}
	if lastActivityAt == nil || now.Sub(*lastActivityAt) > time.Duration(cfg.InactivityMinutes)*time.Minute {
		return cfg.WideIntervalMinutes, intervalWide
	}
	if WithinActiveHours(cfg, now) {
		return cfg.TightIntervalMinutes, intervalTight
	}
	return cfg.NormalIntervalMinutes, intervalNormal
}
