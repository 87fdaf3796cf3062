package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ErlanBelekov/daybrief/internal/domain"
	"github.com/ErlanBelekov/daybrief/internal/usecase"
	"github.com/gin-gonic/gin"
)

// digestUsecaser is the subset of PreferencesUsecase this handler needs.
// Defined here (point of use) so tests can inject a fake.
type digestUsecaser interface {
	ListDigests(ctx context.Context, userID string) ([]usecase.DigestView, error)
	GetDigest(ctx context.Context, userID, digestID string) (*usecase.DigestView, error)
	CreateDigest(ctx context.Context, input usecase.CreateDigestInput) (*usecase.DigestView, error)
	UpdateDigest(ctx context.Context, input usecase.UpdateDigestInput) (*usecase.DigestView, error)
	EnableDigest(ctx context.Context, userID, digestID string) error
	DisableDigest(ctx context.Context, userID, digestID string) error
	DeleteDigest(ctx context.Context, userID, digestID string) error
}

// digestHistorier reads back produced digests.
type digestHistorier interface {
	ListHistory(ctx context.Context, input usecase.ListHistoryInput) ([]*domain.Digest, error)
}

type DigestHandler struct {
	uc      digestUsecaser
	history digestHistorier
	logger  *slog.Logger
}

func NewDigestHandler(uc digestUsecaser, history digestHistorier, logger *slog.Logger) *DigestHandler {
	return &DigestHandler{
		uc:      uc,
		history: history,
		logger:  logger.With("component", "digest_handler"),
	}
}

type digestRequest struct {
	Name   string   `json:"name"   binding:"required,max=256"`
	Time   string   `json:"time"   binding:"required"`
	Days   []string `json:"days"   binding:"required,min=1"`
	Topics []string `json:"topics" binding:"required,min=1"`
}

type digestResponse struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Time      string     `json:"time"`
	Days      []string   `json:"days"`
	Topics    []string   `json:"topics"`
	Enabled   bool       `json:"enabled"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
}

func toDigestResponse(v usecase.DigestView) digestResponse {
	return digestResponse{
		ID:        v.ID,
		Name:      v.Name,
		Time:      v.Time,
		Days:      v.Days,
		Topics:    v.Topics,
		Enabled:   v.Enabled,
		LastRun:   v.LastRun,
		NextRunAt: v.NextRunAt,
	}
}

// scheduleValidationErrs are definition errors reported back verbatim with
// a 400. Everything else maps to a canned message.
var scheduleValidationErrs = []error{
	domain.ErrNoName,
	domain.ErrNoTopics,
	domain.ErrNoDays,
	domain.ErrInvalidClock,
	domain.ErrInvalidWeekday,
}

func isScheduleValidationErr(err error) bool {
	for _, target := range scheduleValidationErrs {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (h *DigestHandler) Create(ctx *gin.Context) {
	var req digestRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	view, err := h.uc.CreateDigest(ctx.Request.Context(), usecase.CreateDigestInput{
		UserID: ctx.GetString("userID"),
		Name:   req.Name,
		Time:   req.Time,
		Days:   req.Days,
		Topics: req.Topics,
	})
	if err != nil {
		switch {
		case isScheduleValidationErr(err):
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, domain.ErrDigestNameConflict):
			ctx.JSON(http.StatusConflict, gin.H{"error": errDigestNameConflict})
		case errors.Is(err, domain.ErrDigestLimit):
			ctx.JSON(http.StatusConflict, gin.H{"error": errDigestLimit})
		case errors.Is(err, domain.ErrVersionConflict):
			ctx.JSON(http.StatusConflict, gin.H{"error": errConcurrentUpdate})
		default:
			h.logger.Error("create digest", "error", err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	ctx.JSON(http.StatusCreated, toDigestResponse(*view))
}

func (h *DigestHandler) List(ctx *gin.Context) {
	views, err := h.uc.ListDigests(ctx.Request.Context(), ctx.GetString("userID"))
	if err != nil {
		h.logger.Error("list digests", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	items := make([]digestResponse, len(views))
	for i, v := range views {
		items[i] = toDigestResponse(v)
	}
	ctx.JSON(http.StatusOK, gin.H{"digests": items})
}

func (h *DigestHandler) GetByID(ctx *gin.Context) {
	id := ctx.Param("id")

	view, err := h.uc.GetDigest(ctx.Request.Context(), ctx.GetString("userID"), id)
	if err != nil {
		if errors.Is(err, domain.ErrDigestNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": errDigestNotFound})
			return
		}
		h.logger.Error("get digest", "digest_id", id, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	ctx.JSON(http.StatusOK, toDigestResponse(*view))
}

func (h *DigestHandler) Update(ctx *gin.Context) {
	id := ctx.Param("id")

	var req digestRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	view, err := h.uc.UpdateDigest(ctx.Request.Context(), usecase.UpdateDigestInput{
		UserID:   ctx.GetString("userID"),
		DigestID: id,
		Name:     req.Name,
		Time:     req.Time,
		Days:     req.Days,
		Topics:   req.Topics,
	})
	if err != nil {
		switch {
		case isScheduleValidationErr(err):
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, domain.ErrDigestNotFound):
			ctx.JSON(http.StatusNotFound, gin.H{"error": errDigestNotFound})
		case errors.Is(err, domain.ErrDigestNameConflict):
			ctx.JSON(http.StatusConflict, gin.H{"error": errDigestNameConflict})
		case errors.Is(err, domain.ErrVersionConflict):
			ctx.JSON(http.StatusConflict, gin.H{"error": errConcurrentUpdate})
		default:
			h.logger.Error("update digest", "digest_id", id, "error", err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	ctx.JSON(http.StatusOK, toDigestResponse(*view))
}

func (h *DigestHandler) Enable(ctx *gin.Context) {
	id := ctx.Param("id")

	err := h.uc.EnableDigest(ctx.Request.Context(), ctx.GetString("userID"), id)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrDigestNotFound):
			ctx.JSON(http.StatusNotFound, gin.H{"error": errDigestNotFound})
		case errors.Is(err, domain.ErrDigestAlreadyEnabled):
			ctx.JSON(http.StatusConflict, gin.H{"error": errDigestAlreadyEnabled})
		case errors.Is(err, domain.ErrVersionConflict):
			ctx.JSON(http.StatusConflict, gin.H{"error": errConcurrentUpdate})
		default:
			h.logger.Error("enable digest", "digest_id", id, "error", err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	ctx.Status(http.StatusNoContent)
}

func (h *DigestHandler) Disable(ctx *gin.Context) {
	id := ctx.Param("id")

	err := h.uc.DisableDigest(ctx.Request.Context(), ctx.GetString("userID"), id)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrDigestNotFound):
			ctx.JSON(http.StatusNotFound, gin.H{"error": errDigestNotFound})
		case errors.Is(err, domain.ErrDigestAlreadyDisabled):
			ctx.JSON(http.StatusConflict, gin.H{"error": errDigestAlreadyDisabled})
		case errors.Is(err, domain.ErrVersionConflict):
			ctx.JSON(http.StatusConflict, gin.H{"error": errConcurrentUpdate})
		default:
			h.logger.Error("disable digest", "digest_id", id, "error", err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	ctx.Status(http.StatusNoContent)
}

func (h *DigestHandler) Delete(ctx *gin.Context) {
	id := ctx.Param("id")

	err := h.uc.DeleteDigest(ctx.Request.Context(), ctx.GetString("userID"), id)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrDigestNotFound):
			ctx.JSON(http.StatusNotFound, gin.H{"error": errDigestNotFound})
		case errors.Is(err, domain.ErrVersionConflict):
			ctx.JSON(http.StatusConflict, gin.H{"error": errConcurrentUpdate})
		default:
			h.logger.Error("delete digest", "digest_id", id, "error", err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	ctx.Status(http.StatusNoContent)
}

type historyItem struct {
	ID        string              `json:"id"`
	Subject   string              `json:"subject"`
	Topics    []string            `json:"topics"`
	Items     []domain.DigestItem `json:"items"`
	Summary   string              `json:"summary"`
	CreatedAt time.Time           `json:"created_at"`
}

func (h *DigestHandler) ListHistory(ctx *gin.Context) {
	id := ctx.Param("id")
	limit, _ := strconv.Atoi(ctx.Query("limit"))

	digests, err := h.history.ListHistory(ctx.Request.Context(), usecase.ListHistoryInput{
		UserID:   ctx.GetString("userID"),
		DigestID: id,
		Limit:    limit,
	})
	if err != nil {
		if errors.Is(err, domain.ErrDigestNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": errDigestNotFound})
			return
		}
		h.logger.Error("list digest history", "digest_id", id, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	items := make([]historyItem, len(digests))
	for i, d := range digests {
		items[i] = historyItem{
			ID:        d.ID,
			Subject:   d.Subject,
			Topics:    d.Topics,
			Items:     d.Items,
			Summary:   d.Summary,
			CreatedAt: d.CreatedAt,
		}
	}
	ctx.JSON(http.StatusOK, gin.H{"history": items})
}
