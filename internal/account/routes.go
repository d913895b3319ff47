package account

import (
	"log/slog"

	"keymeter/internal/auth"
	"keymeter/internal/db"
	"keymeter/internal/quota"

	"github.com/gin-gonic/gin"
)

// SetupRoutes mounts the owner surface under /api/api-users, all
// behind the owner bearer-token middleware.
func SetupRoutes(router *gin.Engine, dbService db.Service, engine *quota.Engine, verifier *auth.OwnerVerifier, logger *slog.Logger) {
	handler := NewHandler(dbService, engine, logger)

	group := router.Group("/api/api-users")
	group.Use(auth.OwnerMiddleware(verifier))
	{
		group.GET("/me", handler.MeHandler)
		group.POST("/init", handler.InitHandler)
		group.POST("/regenerate", handler.RegenerateHandler)
	}
}
