// Package quota decides whether a metered request is allowed and
// performs the reset-or-increment transition for the billing window.
package quota

import (
	"fmt"
	"time"

	"keymeter/internal/model"
	"keymeter/internal/plan"
)

// DenyReason is the machine-readable cause of a denial.
type DenyReason string

const (
	DenyNone          DenyReason = ""
	DenyInactive      DenyReason = "principal_inactive"
	DenyQuotaExceeded DenyReason = "quota_exceeded"
)

// Decision is the outcome of evaluating one request.
type Decision struct {
	Allowed   bool
	Unlimited bool
	// Trial marks a request charged against the introductory allowance
	// instead of the regular window.
	Trial     bool
	Remaining int
	Limit     int
	Reason    DenyReason
	// NextReset is the boundary at which quota becomes available
	// again. Zero for unlimited plans.
	NextReset time.Time
}

// Store is the slice of the storage service the engine needs.
type Store interface {
	TransitionPrincipal(id string, fn func(p *model.Principal) bool) (*model.Principal, error)
}

// Engine evaluates requests against principals. It owns the only code
// path that writes RequestsUsed, TrialRequestsUsed and CycleAnchor.
type Engine struct {
	store Store
	now   func() time.Time
}

// NewEngine creates an Engine using the wall clock.
func NewEngine(store Store) *Engine {
	return &Engine{store: store, now: time.Now}
}

// NewEngineWithClock creates an Engine with an injected clock, for
// tests that cross window boundaries.
func NewEngineWithClock(store Store, now func() time.Time) *Engine {
	return &Engine{store: store, now: now}
}

// WindowAnchor returns the start of the window containing now, as an
// ISO date: the calendar day for daily plans, the first of the month
// for monthly ones. All window math is done in UTC.
func WindowAnchor(cycle plan.Cycle, now time.Time) string {
	now = now.UTC()
	switch cycle {
	case plan.CycleMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
	default:
		return now.Format("2006-01-02")
	}
}

// NextReset returns the instant the next window opens.
func NextReset(cycle plan.Cycle, now time.Time) time.Time {
	now = now.UTC()
	switch cycle {
	case plan.CycleMonthly:
		return time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	}
}

// Authorize evaluates one request for p and, when the request is
// allowed against a finite window, durably commits the counter
// mutation. The passed principal is the caller's (possibly stale) read;
// the decision is re-derived inside the store transition so concurrent
// requests serialize per principal. A returned error means the store
// could not be reached or the transition could not commit, never a
// policy denial; those come back as a Decision with a Reason.
func (e *Engine) Authorize(p *model.Principal) (Decision, error) {
	now := e.now()
	def := plan.Lookup(p.Plan)

	// Fast paths that need no durable mutation. Inactive principals
	// are denied before any quota logic, distinctly from quota
	// exhaustion; unlimited plans bypass counting entirely so no
	// finite "remaining" is ever reported for them.
	if !p.Active {
		return Decision{Reason: DenyInactive}, nil
	}
	if def.Quota.IsUnlimited() && !trialLive(p, def, now) {
		return Decision{Allowed: true, Unlimited: true}, nil
	}

	var dec Decision
	_, err := e.store.TransitionPrincipal(p.ID, func(row *model.Principal) bool {
		var mutate bool
		dec, mutate = evaluate(row, def, now)
		return mutate
	})
	if err != nil {
		return Decision{}, fmt.Errorf("quota: %w", err)
	}
	return dec, nil
}

// Introspect reports the usage view of p without mutating anything.
func (e *Engine) Introspect(p *model.Principal) Decision {
	now := e.now()
	def := plan.Lookup(p.Plan)

	if trialLive(p, def, now) {
		remaining := def.TrialRequests - p.TrialRequestsUsed
		if remaining < 0 {
			remaining = 0
		}
		return Decision{Trial: true, Limit: def.TrialRequests, Remaining: remaining, NextReset: p.TrialEndsAt}
	}
	if def.Quota.IsUnlimited() {
		return Decision{Unlimited: true}
	}

	limit := def.Quota.Limit()
	used := p.RequestsUsed
	// A stale anchor means the stored counter belongs to a window that
	// is already over.
	if p.CycleAnchor < WindowAnchor(def.Cycle, now) {
		used = 0
	}
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Limit: limit, Remaining: remaining, NextReset: NextReset(def.Cycle, now)}
}

func trialLive(p *model.Principal, def plan.Definition, now time.Time) bool {
	return def.TrialRequests > 0 && !p.TrialEndsAt.IsZero() && now.Before(p.TrialEndsAt)
}

// evaluate applies the reset-or-increment algorithm to row and reports
// whether row was mutated. It runs inside the store's transition, so a
// mutation and the read that justified it commit as one unit.
func evaluate(row *model.Principal, def plan.Definition, now time.Time) (Decision, bool) {
	if !row.Active {
		return Decision{Reason: DenyInactive}, false
	}

	if trialLive(row, def, now) {
		used := row.TrialRequestsUsed + 1
		if used > def.TrialRequests {
			return Decision{Reason: DenyQuotaExceeded, Trial: true, Limit: def.TrialRequests, NextReset: row.TrialEndsAt}, false
		}
		row.TrialRequestsUsed = used
		return Decision{Allowed: true, Trial: true, Limit: def.TrialRequests, Remaining: def.TrialRequests - used, NextReset: row.TrialEndsAt}, true
	}

	if def.Quota.IsUnlimited() {
		return Decision{Allowed: true, Unlimited: true}, false
	}

	limit := def.Quota.Limit()
	boundary := WindowAnchor(def.Cycle, now)
	next := NextReset(def.Cycle, now)

	if row.CycleAnchor < boundary {
		// New window: the reset and the count for the triggering
		// request are one mutation, so two concurrent first requests
		// cannot both claim a fresh window; the loser of the
		// compare-and-swap re-reads and lands on the increment branch.
		row.CycleAnchor = boundary
		row.RequestsUsed = 1
		return Decision{Allowed: true, Limit: limit, Remaining: limit - 1, NextReset: next}, true
	}

	if row.RequestsUsed+1 > limit {
		return Decision{Reason: DenyQuotaExceeded, Limit: limit, NextReset: next}, false
	}

	row.RequestsUsed++
	return Decision{Allowed: true, Limit: limit, Remaining: limit - row.RequestsUsed, NextReset: next}, true
}
