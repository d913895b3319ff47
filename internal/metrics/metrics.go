// Package metrics exposes the service's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Authorizations counts gateway decisions by outcome: allowed,
// invalid_credential, credential_not_found, principal_inactive,
// quota_exceeded, store_unavailable.
var Authorizations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "keymeter_authorizations_total",
	Help: "API key authorization decisions by outcome.",
}, []string{"outcome"})

// UsageRecordsDropped counts audit records lost to a full queue.
var UsageRecordsDropped = promauto.NewCounter(prometheus.CounterOpts{
	Name: "keymeter_usage_records_dropped_total",
	Help: "Usage records dropped because the write queue was full.",
})

// CredentialsIssued counts issuance and rotation events.
var CredentialsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "keymeter_credentials_issued_total",
	Help: "Credentials handed out, by kind (create or rotate).",
}, []string{"kind"})
