package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ErlanBelekov/daybrief/internal/domain"
	"github.com/gin-gonic/gin"
)

// preferencesUsecaser is the subset of PreferencesUsecase this handler needs.
// Defined here (point of use) so tests can inject a fake.
type preferencesUsecaser interface {
	Me(ctx context.Context, userID string) (*domain.User, error)
	SetTimezone(ctx context.Context, userID, tz string) (*domain.User, error)
}

type PreferencesHandler struct {
	uc     preferencesUsecaser
	logger *slog.Logger
}

func NewPreferencesHandler(uc preferencesUsecaser, logger *slog.Logger) *PreferencesHandler {
	return &PreferencesHandler{uc: uc, logger: logger.With("component", "preferences_handler")}
}

type meResponse struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Timezone    string    `json:"timezone"`
	DigestCount int       `json:"digest_count"`
	CreatedAt   time.Time `json:"created_at"`
}

func toMeResponse(u *domain.User) meResponse {
	return meResponse{
		ID:          u.ID,
		Email:       u.Email,
		Timezone:    u.Timezone,
		DigestCount: len(u.Digests),
		CreatedAt:   u.CreatedAt,
	}
}

func (h *PreferencesHandler) Me(ctx *gin.Context) {
	user, err := h.uc.Me(ctx.Request.Context(), ctx.GetString("userID"))
	if err != nil {
		h.logger.Error("get me", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	ctx.JSON(http.StatusOK, toMeResponse(user))
}

type setTimezoneRequest struct {
	Timezone string `json:"timezone" binding:"required,max=64"`
}

func (h *PreferencesHandler) SetTimezone(ctx *gin.Context) {
	var req setTimezoneRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.uc.SetTimezone(ctx.Request.Context(), ctx.GetString("userID"), req.Timezone)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidTimezone):
			ctx.JSON(http.StatusBadRequest, gin.H{"error": domain.ErrInvalidTimezone.Error()})
		case errors.Is(err, domain.ErrVersionConflict):
			ctx.JSON(http.StatusConflict, gin.H{"error": errConcurrentUpdate})
		default:
			h.logger.Error("set timezone", "error", err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	ctx.JSON(http.StatusOK, toMeResponse(user))
}
