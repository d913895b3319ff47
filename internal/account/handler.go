// Package account exposes the owner-facing key management surface:
// provisioning, rotation and usage introspection.
package account

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"keymeter/internal/db"
	"keymeter/internal/keygen"
	"keymeter/internal/metrics"
	"keymeter/internal/model"
	"keymeter/internal/plan"
	"keymeter/internal/quota"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	db     db.Service
	engine *quota.Engine
	logger *slog.Logger
	now    func() time.Time
}

func NewHandler(dbService db.Service, engine *quota.Engine, logger *slog.Logger) *Handler {
	return &Handler{
		db:     dbService,
		engine: engine,
		logger: logger.With("component", "account"),
		now:    time.Now,
	}
}

// InitHandler provisions the caller's principal. It is idempotent per
// owner; the full credential appears in the response only when the
// principal was created by this call.
func (h *Handler) InitHandler(c *gin.Context) {
	ownerID := c.GetString("owner_id")
	email := c.GetString("owner_email")

	credential, err := keygen.Generate()
	if err != nil {
		// A weak credential must never be issued; the operation fails
		// whole and the caller retries.
		h.logger.Error("Credential generation failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Key generation failed, retry later"})
		return
	}

	now := h.now().UTC()
	def := plan.Lookup(plan.Free)
	candidate := &model.Principal{
		ID:          model.PrincipalID(ownerID),
		OwnerEmail:  email,
		Credential:  credential,
		Plan:        plan.Free,
		CycleAnchor: quota.WindowAnchor(def.Cycle, now),
		TrialEndsAt: now.Add(time.Duration(def.TrialDays) * 24 * time.Hour),
		Active:      true,
	}

	stored, created, err := h.db.CreatePrincipal(candidate)
	if err != nil {
		h.logger.Error("Principal creation failed", "owner_id", ownerID, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Provisioning failed, retry later"})
		return
	}

	view := h.engine.Introspect(stored)
	resp := gin.H{
		"created":        created,
		"plan":           stored.Plan,
		"requests_used":  stored.RequestsUsed,
		"api_key_masked": keygen.Mask(stored.Credential),
	}
	addLimitFields(resp, view)
	if created {
		// The only time the full credential is ever returned for an
		// existing key.
		resp["api_key"] = stored.Credential
		metrics.CredentialsIssued.WithLabelValues("create").Inc()
	}
	c.JSON(http.StatusOK, resp)
}

// MeHandler reports the caller's usage view. Read-only.
func (h *Handler) MeHandler(c *gin.Context) {
	ownerID := c.GetString("owner_id")

	p, err := h.db.GetPrincipal(model.PrincipalID(ownerID))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusOK, gin.H{
				"exists":         false,
				"plan":           plan.Free,
				"requests_used":  0,
				"request_limit":  plan.Lookup(plan.Free).Quota.Limit(),
				"api_key_masked": nil,
			})
			return
		}
		h.logger.Error("Principal lookup failed", "owner_id", ownerID, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Lookup failed, retry later"})
		return
	}

	view := h.engine.Introspect(p)
	def := plan.Lookup(p.Plan)
	resp := gin.H{
		"exists":         true,
		"api_key_masked": keygen.Mask(p.Credential),
		"plan":           p.Plan,
		"plan_name":      def.DisplayName,
		"cycle":          string(def.Cycle),
		"requests_used":  p.RequestsUsed,
		"active":         p.Active,
		"created_at":     p.CreatedAt.UTC().Format(time.RFC3339),
	}
	if view.Trial {
		resp["trial"] = gin.H{
			"requests_used": p.TrialRequestsUsed,
			"request_limit": view.Limit,
			"ends_at":       p.TrialEndsAt.UTC().Format(time.RFC3339),
		}
	}
	addLimitFields(resp, view)
	c.JSON(http.StatusOK, resp)
}

// RegenerateHandler rotates the caller's credential and returns the
// new value once. The prior credential stops matching as soon as the
// update commits.
func (h *Handler) RegenerateHandler(c *gin.Context) {
	ownerID := c.GetString("owner_id")
	id := model.PrincipalID(ownerID)

	credential, err := keygen.Generate()
	if err != nil {
		h.logger.Error("Credential generation failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Key generation failed, retry later"})
		return
	}

	if err := h.db.RotateCredential(id, credential); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "API user not found. Call init first."})
			return
		}
		h.logger.Error("Credential rotation failed", "owner_id", ownerID, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Rotation failed, retry later"})
		return
	}

	metrics.CredentialsIssued.WithLabelValues("rotate").Inc()
	c.JSON(http.StatusOK, gin.H{
		"api_key":        credential,
		"api_key_masked": keygen.Mask(credential),
	})
}

func addLimitFields(resp gin.H, view quota.Decision) {
	if view.Unlimited {
		resp["request_limit"] = "unlimited"
		return
	}
	resp["request_limit"] = view.Limit
	resp["remaining"] = view.Remaining
	if !view.NextReset.IsZero() {
		resp["next_reset"] = view.NextReset.UTC().Format(time.RFC3339)
	}
}
