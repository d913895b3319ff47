package admin

import (
	"errors"
	"net/http"

	"keymeter/internal/db"
	"keymeter/internal/keygen"
	"keymeter/internal/model"
	"keymeter/internal/plan"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	db db.Service
}

func NewHandler(dbService db.Service) *Handler {
	return &Handler{db: dbService}
}

type updateRequest struct {
	Plan   *string `json:"plan"`
	Active *bool   `json:"active"`
}

func principalView(p *model.Principal) gin.H {
	return gin.H{
		"id":             p.ID,
		"owner_email":    p.OwnerEmail,
		"api_key_masked": keygen.Mask(p.Credential),
		"plan":           p.Plan,
		"requests_used":  p.RequestsUsed,
		"cycle_anchor":   p.CycleAnchor,
		"active":         p.Active,
		"created_at":     p.CreatedAt,
	}
}

func (h *Handler) ListPrincipalsHandler(c *gin.Context) {
	principals, err := h.db.ListPrincipals()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list principals"})
		return
	}
	views := make([]gin.H, len(principals))
	for i := range principals {
		views[i] = principalView(&principals[i])
	}
	c.JSON(http.StatusOK, views)
}

func (h *Handler) GetPrincipalHandler(c *gin.Context) {
	p, err := h.db.GetPrincipal(c.Param("id"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Principal not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load principal"})
		return
	}
	c.JSON(http.StatusOK, principalView(p))
}

// UpdatePrincipalHandler changes a principal's plan or active flag.
// Deactivation is the only removal this surface offers; rows are kept
// so usage history stays attributable.
func (h *Handler) UpdatePrincipalHandler(c *gin.Context) {
	id := c.Param("id")
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.Plan == nil && req.Active == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Nothing to update"})
		return
	}

	if req.Plan != nil {
		if !plan.Valid(*req.Plan) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown plan", "plans": plan.IDs()})
			return
		}
		if err := h.db.SetPrincipalPlan(id, *req.Plan); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Principal not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update plan"})
			return
		}
	}
	if req.Active != nil {
		if err := h.db.SetPrincipalActive(id, *req.Active); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Principal not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update active flag"})
			return
		}
	}

	p, err := h.db.GetPrincipal(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reload principal"})
		return
	}
	c.JSON(http.StatusOK, principalView(p))
}

func (h *Handler) ListUsageHandler(c *gin.Context) {
	records, err := h.db.ListUsageRecords(c.Param("id"), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list usage records"})
		return
	}
	c.JSON(http.StatusOK, records)
}
