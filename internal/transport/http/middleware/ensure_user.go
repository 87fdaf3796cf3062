package middleware

import (
	"log/slog"
	"net/http"

	"github.com/ErlanBelekov/daybrief/internal/repository"
	"github.com/gin-gonic/gin"
)

// EnsureUser runs after Auth. It upserts the authenticated subject into the
// users table so the record the preference handlers patch always exists.
func EnsureUser(repo repository.UserRepository, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		email := c.GetString("email")
		if err := repo.Upsert(c.Request.Context(), userID, email); err != nil {
			logger.ErrorContext(c.Request.Context(), "ensure user upsert", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError,
				gin.H{"error": "Internal server error"})
			return
		}
		c.Next()
	}
}
