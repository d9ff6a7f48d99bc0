package core

import (
	"context"
	"time"
)

// SweepResult summarizes one scheduler pass.
type SweepResult struct {
	// Considered is the number of repositories with a non-manual schedule.
	Considered int
	// Triggered counts new jobs created.
	Triggered int
	// Deduplicated counts eligible repos whose fingerprint already succeeded inside the window.
	Deduplicated int
	// Skipped counts repos that were not due.
	Skipped int
	// Failed counts repos whose trigger attempt returned an error.
	Failed int
	// OutsideWindow is true when the whole sweep was suppressed by the hour window.
	OutsideWindow bool
	// LockHeld is true when another instance already swept this hour slot.
	LockHeld bool
}

// AnalysisScheduler runs the recurring sweep.
type AnalysisScheduler interface {
	// Sweep evaluates every scheduled repository at now. Per-repository failures are counted in the
	// result and never abort the sweep; the returned error is reserved for failures to list repos.
	Sweep(ctx context.Context, now time.Time) (SweepResult, error)
}
