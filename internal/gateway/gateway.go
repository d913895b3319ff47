// Package gateway is the request-time entry point for metered
// endpoints: it resolves the presented credential to a principal,
// delegates the quota decision, and attaches remaining-quota metadata.
package gateway

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"keymeter/internal/db"
	"keymeter/internal/keygen"
	"keymeter/internal/metrics"
	"keymeter/internal/model"
	"keymeter/internal/quota"
	"keymeter/internal/usagelog"

	"github.com/gin-gonic/gin"
)

// Outcome labels, also used as machine-readable deny reasons in
// response bodies. CredentialNotFound is internal: externally it is
// reported exactly like a malformed credential so the response shape
// leaks nothing about the key space.
const (
	OutcomeAllowed            = "allowed"
	OutcomeInvalidCredential  = "invalid_credential"
	OutcomeCredentialNotFound = "credential_not_found"
	OutcomePrincipalInactive  = string(quota.DenyInactive)
	OutcomeQuotaExceeded      = string(quota.DenyQuotaExceeded)
	OutcomeStoreUnavailable   = "store_unavailable"
)

// Context keys set on the allow path.
const (
	ContextPrincipal = "principal"
	ContextDecision  = "quota_decision"
)

// Middleware authenticates and meters one request. The credential is
// read from the x-api-key header, falling back to a Bearer token. The
// only durable state change on the allow path is the quota counter;
// the usage record is enqueued fire-and-forget.
func Middleware(store db.Service, engine *quota.Engine, ulog *usagelog.Logger, logger *slog.Logger) gin.HandlerFunc {
	log := logger.With("component", "gateway")
	return func(c *gin.Context) {
		credential := c.GetHeader("x-api-key")
		if credential == "" {
			if authHeader := c.GetHeader("Authorization"); len(authHeader) > 7 && authHeader[:7] == "Bearer " {
				credential = authHeader[7:]
			}
		}

		// Cheap shape check before any store access. Malformed input
		// gets the same response as an unknown key.
		if !keygen.WellFormed(credential) {
			deny(c, OutcomeInvalidCredential, http.StatusUnauthorized, "Invalid API key", nil)
			return
		}

		principal, err := store.GetPrincipalByCredential(credential)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				// Same externally-visible outcome as a malformed key;
				// the internal counter records the difference.
				metrics.Authorizations.WithLabelValues(OutcomeCredentialNotFound).Inc()
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error":  "Invalid API key",
					"reason": OutcomeInvalidCredential,
				})
				return
			}
			log.Error("Principal lookup failed", "error", err)
			deny(c, OutcomeStoreUnavailable, http.StatusServiceUnavailable, "Service temporarily unavailable, retry later", nil)
			return
		}

		decision, err := engine.Authorize(principal)
		if err != nil {
			log.Error("Quota evaluation failed", "principal_id", principal.ID, "error", err)
			deny(c, OutcomeStoreUnavailable, http.StatusServiceUnavailable, "Service temporarily unavailable, retry later", nil)
			return
		}

		if !decision.Allowed {
			switch decision.Reason {
			case quota.DenyInactive:
				deny(c, OutcomePrincipalInactive, http.StatusForbidden, "API key inactive", nil)
			default:
				deny(c, OutcomeQuotaExceeded, http.StatusTooManyRequests, "Quota exceeded. Upgrade your plan or retry after the reset.", &decision.NextReset)
			}
			return
		}

		metrics.Authorizations.WithLabelValues(OutcomeAllowed).Inc()
		setQuotaHeaders(c, decision)
		c.Set(ContextPrincipal, principal)
		c.Set(ContextDecision, decision)

		ulog.Record(principal.ID, c.Request.URL.Path, usagelog.Metadata{})

		c.Next()
	}
}

func deny(c *gin.Context, outcome string, status int, message string, nextReset *time.Time) {
	metrics.Authorizations.WithLabelValues(outcome).Inc()
	body := gin.H{"error": message, "reason": outcome}
	if nextReset != nil && !nextReset.IsZero() {
		body["next_reset"] = nextReset.UTC().Format(time.RFC3339)
		if secs := int(time.Until(*nextReset) / time.Second); secs > 0 {
			c.Header("Retry-After", strconv.Itoa(secs))
		}
	}
	c.AbortWithStatusJSON(status, body)
}

func setQuotaHeaders(c *gin.Context, d quota.Decision) {
	if d.Unlimited {
		c.Header("X-RateLimit-Limit", "unlimited")
		return
	}
	c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if !d.NextReset.IsZero() {
		c.Header("X-RateLimit-Reset", strconv.FormatInt(d.NextReset.Unix(), 10))
	}
}

// PrincipalFrom returns the authenticated principal set by Middleware.
func PrincipalFrom(c *gin.Context) (*model.Principal, bool) {
	v, ok := c.Get(ContextPrincipal)
	if !ok {
		return nil, false
	}
	p, ok := v.(*model.Principal)
	return p, ok
}
