// Package scheduler holds the pure eligibility rules for recurring repository analysis.
package scheduler

import (
	"time"

	"github.com/devion-industries/maintainer-brief/internal/domain/model"
)

// SkipReason explains why a repository was not due.
type SkipReason string

const (
	SkipNone          SkipReason = ""
	SkipManual        SkipReason = "manual"
	SkipOutsideWindow SkipReason = "outside_window"
	SkipRecentJob     SkipReason = "recent_job"
	SkipWrongWeekday  SkipReason = "wrong_weekday"
	SkipBiweeklyGap   SkipReason = "biweekly_gap"
)

const (
	defaultMinGap      = 23 * time.Hour
	defaultBiweeklyGap = 13 * 24 * time.Hour
)

// PolicyOptions configures Policy. Zero values fall back to the defaults documented on each field.
type PolicyOptions struct {
	// StartHour and EndHour bound the sweep window, inclusive, in Location. They apply only when
	// WindowSet is true; otherwise the window is the whole day.
	StartHour int
	EndHour   int
	WindowSet bool
	// Location defaults to UTC.
	Location *time.Location
	// Weekday is the designated run day. Defaults to Monday when WeekdaySet is false.
	Weekday    time.Weekday
	WeekdaySet bool
	// MinGap suppresses a run when the previous job is younger. Defaults to 23h.
	MinGap time.Duration
	// BiweeklyGap is the minimum age of the previous job for biweekly repos. Defaults to 13 days.
	BiweeklyGap time.Duration
}

// Policy decides whether a repository is due for a scheduled analysis.
type Policy struct {
	startHour   int
	endHour     int
	loc         *time.Location
	weekday     time.Weekday
	minGap      time.Duration
	biweeklyGap time.Duration
}

// NewPolicy constructs a Policy, clamping hours into 0..23.
func NewPolicy(opts PolicyOptions) Policy {
	p := Policy{
		startHour:   0,
		endHour:     23,
		loc:         opts.Location,
		weekday:     time.Monday,
		minGap:      opts.MinGap,
		biweeklyGap: opts.BiweeklyGap,
	}
	if opts.WindowSet {
		p.startHour = clampHour(opts.StartHour)
		p.endHour = clampHour(opts.EndHour)
	}
	if p.loc == nil {
		p.loc = time.UTC
	}
	if opts.WeekdaySet {
		p.weekday = opts.Weekday
	}
	if p.minGap <= 0 {
		p.minGap = defaultMinGap
	}
	if p.biweeklyGap <= 0 {
		p.biweeklyGap = defaultBiweeklyGap
	}
	return p
}

// DefaultPolicy returns the 0..23 UTC, Monday policy.
func DefaultPolicy() Policy {
	return NewPolicy(PolicyOptions{})
}

// Weekday returns the designated run day.
func (p Policy) Weekday() time.Weekday { return p.weekday }

// InWindow reports whether now falls inside the global hour-of-day window. A window whose start
// is after its end wraps past midnight.
func (p Policy) InWindow(now time.Time) bool {
	h := now.In(p.loc).Hour()
	if p.startHour <= p.endHour {
		return h >= p.startHour && h <= p.endHour
	}
	return h >= p.startHour || h <= p.endHour
}

// Evaluate applies the per-repository rules. It does not consult the hour window.
func (p Policy) Evaluate(rec model.Recurrence, lastJobAt *time.Time, now time.Time) SkipReason {
	if rec != model.RecurrenceWeekly && rec != model.RecurrenceBiweekly {
		return SkipManual
	}

	var sinceLast time.Duration
	if lastJobAt != nil {
		sinceLast = now.Sub(*lastJobAt)
		if sinceLast < p.minGap {
			return SkipRecentJob
		}
	}

	if now.In(p.loc).Weekday() != p.weekday {
		return SkipWrongWeekday
	}

	if rec == model.RecurrenceBiweekly && lastJobAt != nil && sinceLast < p.biweeklyGap {
		return SkipBiweeklyGap
	}

	return SkipNone
}

// Due combines the window and the per-repository rules.
func (p Policy) Due(rec model.Recurrence, lastJobAt *time.Time, now time.Time) SkipReason {
	if !p.InWindow(now) {
		return SkipOutsideWindow
	}
	return p.Evaluate(rec, lastJobAt, now)
}

func clampHour(h int) int {
	if h < 0 {
		return 0
	}
	if h > 23 {
		return 23
	}
	return h
}
