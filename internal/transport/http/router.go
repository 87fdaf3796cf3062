package httptransport

import (
	"log/slog"

	"github.com/ErlanBelekov/daybrief/internal/repository"
	"github.com/ErlanBelekov/daybrief/internal/transport/http/handler"
	"github.com/ErlanBelekov/daybrief/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"

	sloggin "github.com/samber/slog-gin"
)

func NewRouter(logger *slog.Logger, prefsHandler *handler.PreferencesHandler, digestHandler *handler.DigestHandler, userRepo repository.UserRepository, jwtKey []byte) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())

	authMW := middleware.Auth(jwtKey)
	ensureUser := middleware.EnsureUser(userRepo, logger)

	// Protected account routes
	me := r.Group("/me", authMW, ensureUser)
	me.GET("", prefsHandler.Me)
	me.PUT("/timezone", prefsHandler.SetTimezone)

	// Protected digest schedule routes
	digests := r.Group("/digests", authMW, ensureUser)
	digests.POST("", digestHandler.Create)
	digests.GET("", digestHandler.List)
	digests.GET("/:id", digestHandler.GetByID)
	digests.PUT("/:id", digestHandler.Update)
	digests.POST("/:id/enable", digestHandler.Enable)
	digests.POST("/:id/disable", digestHandler.Disable)
	digests.DELETE("/:id", digestHandler.Delete)
	digests.GET("/:id/history", digestHandler.ListHistory)

	return r
}
