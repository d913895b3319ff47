package plan

import "fmt"

// Cycle is the billing window granularity of a plan.
type Cycle string

const (
	CycleDaily   Cycle = "daily"
	CycleMonthly Cycle = "monthly"
)

// Quota is either a finite request limit or unlimited. The unlimited
// case is a distinct state rather than a magic number, so it can never
// be compared, incremented or reported as an ordinary limit.
type Quota struct {
	n         int
	unlimited bool
}

// Limited returns a finite quota of n requests per window.
func Limited(n int) Quota {
	return Quota{n: n}
}

// Unlimited returns the quota of a plan exempt from metering.
func Unlimited() Quota {
	return Quota{unlimited: true}
}

func (q Quota) IsUnlimited() bool { return q.unlimited }

// Limit returns the finite limit. Calling it on an unlimited quota is
// a programming error.
func (q Quota) Limit() int {
	if q.unlimited {
		panic("plan: Limit called on unlimited quota")
	}
	return q.n
}

// Definition describes one plan tier.
type Definition struct {
	DisplayName string
	Quota       Quota
	Cycle       Cycle
	// TrialRequests and TrialDays describe an introductory allowance
	// charged instead of the regular window while the trial is live.
	// Zero means the plan has no trial.
	TrialRequests int
	TrialDays     int
}

// Plan identifiers. These are only ever written by this system, so an
// identifier outside this set is a bug, not user input.
const (
	Free       = "free"
	Basic      = "basic"
	Pro        = "pro"
	Enterprise = "enterprise"
)

var catalog = map[string]Definition{
	Free:       {DisplayName: "Free", Quota: Limited(50), Cycle: CycleDaily, TrialRequests: 500, TrialDays: 7},
	Basic:      {DisplayName: "Basic", Quota: Limited(5000), Cycle: CycleMonthly},
	Pro:        {DisplayName: "Pro", Quota: Limited(20000), Cycle: CycleMonthly},
	Enterprise: {DisplayName: "Enterprise", Quota: Unlimited(), Cycle: CycleMonthly},
}

// Lookup returns the definition for a plan identifier. It panics on an
// unknown identifier.
func Lookup(id string) Definition {
	def, ok := catalog[id]
	if !ok {
		panic(fmt.Sprintf("plan: unknown plan %q", id))
	}
	return def
}

// Valid reports whether id names a plan in the catalog. Use it to
// validate identifiers arriving from the admin surface before they are
// persisted.
func Valid(id string) bool {
	_, ok := catalog[id]
	return ok
}

// IDs returns the plan identifiers in the catalog.
func IDs() []string {
	ids := make([]string, 0, len(catalog))
	for id := range catalog {
		ids = append(ids, id)
	}
	return ids
}
