package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupKnownPlans(t *testing.T) {
	free := Lookup(Free)
	assert.Equal(t, CycleDaily, free.Cycle)
	assert.Equal(t, 50, free.Quota.Limit())
	assert.Equal(t, 500, free.TrialRequests)
	assert.Equal(t, 7, free.TrialDays)

	basic := Lookup(Basic)
	assert.Equal(t, CycleMonthly, basic.Cycle)
	assert.Equal(t, 5000, basic.Quota.Limit())
	assert.Zero(t, basic.TrialRequests)

	pro := Lookup(Pro)
	assert.Equal(t, 20000, pro.Quota.Limit())

	enterprise := Lookup(Enterprise)
	assert.True(t, enterprise.Quota.IsUnlimited())
}

func TestLookupUnknownPlanPanics(t *testing.T) {
	assert.Panics(t, func() { Lookup("platinum") })
}

func TestUnlimitedQuotaHasNoLimit(t *testing.T) {
	q := Unlimited()
	assert.True(t, q.IsUnlimited())
	assert.Panics(t, func() { q.Limit() })
}

func TestValid(t *testing.T) {
	assert.True(t, Valid(Free))
	assert.True(t, Valid(Enterprise))
	assert.False(t, Valid(""))
	assert.False(t, Valid("platinum"))
}

func TestIDsCoversCatalog(t *testing.T) {
	ids := IDs()
	assert.Len(t, ids, 4)
	for _, id := range ids {
		assert.True(t, Valid(id))
	}
}
