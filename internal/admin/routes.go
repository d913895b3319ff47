package admin

import (
	"keymeter/internal/auth"
	"keymeter/internal/config"
	"keymeter/internal/db"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(router *gin.Engine, dbService db.Service, cfg *config.Config) {
	handler := NewHandler(dbService)

	adminGroup := router.Group("/admin")
	adminGroup.Use(auth.AdminMiddleware(cfg.Admin.Password))
	{
		principals := adminGroup.Group("/principals")
		{
			principals.GET("", handler.ListPrincipalsHandler)
			principals.GET("/:id", handler.GetPrincipalHandler)
			principals.PATCH("/:id", handler.UpdatePrincipalHandler)
			principals.GET("/:id/usage", handler.ListUsageHandler)
		}
	}
}
