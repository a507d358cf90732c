// Action HTTP handlers.
//
// This file exposes the admin REST endpoints for moderation actions:
//   - POST /actions              (submit a manual intent)
//   - GET  /actions              (audit list, paginated, filterable)
//   - GET  /actions/{id}         (single action)
//   - POST /actions/{id}/cancel  (cancel a pending action)
//
// Handlers are transport-thin: they validate input, call the engine or the
// repository, and translate results into HTTP responses.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/warden-bot/warden/internal/domain"
	"github.com/warden-bot/warden/internal/engine"
	"github.com/warden-bot/warden/internal/repo"
	"github.com/warden-bot/warden/internal/utils"
)

// Moderator is the engine surface the handlers depend on. Implementations
// must be safe for concurrent use and honor the provided context.
type Moderator interface {
	// SubmitIntent records an intent durably. noop is true when an
	// equivalent action is already live.
	SubmitIntent(ctx context.Context, in engine.Intent) (a *domain.Action, noop bool, err error)
	// CancelAction cancels a pending action by id.
	CancelAction(ctx context.Context, id string) error
	// Healthy reports the durable store health gate.
	Healthy() bool
}

// Handlers groups the admin HTTP endpoints. The audit reads go straight to
// the repository; writes go through the engine so they share the store
// health gate and idempotency rules with transport-driven actions.
type Handlers struct {
	db  *gorm.DB
	mod Moderator
}

// New constructs a Handlers instance bound to the given store and engine.
func New(db *gorm.DB, mod Moderator) *Handlers {
	return &Handlers{db: db, mod: mod}
}

//
// DTOs
//

// SubmitActionRequest is the JSON payload for submitting a manual intent.
type SubmitActionRequest struct {
	ChatID      int64  `json:"chat_id" binding:"required"`
	TargetID    int64  `json:"target_id" binding:"required"`
	Kind        string `json:"kind" binding:"required"`
	RuleVersion int    `json:"rule_version"`
	// ScheduledFor delays execution (RFC 3339); empty executes immediately.
	ScheduledFor string `json:"scheduled_for"`
}

// SubmitActionResponse reports the recorded action, or noop when an
// equivalent action was already live.
type SubmitActionResponse struct {
	Action *domain.Action `json:"action,omitempty"`
	Noop   bool           `json:"noop"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListActionsResponse wraps a page of actions and pagination information.
type ListActionsResponse struct {
	Actions    []domain.Action `json:"actions"`
	Pagination Pagination      `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params.
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

//
// Handlers
//

// SubmitAction records a manual moderation intent for immediate or scheduled
// execution. An equivalent live action resolves as 200 {noop: true}; a new
// action returns 201.
func (h *Handlers) SubmitAction(c *gin.Context) {
	var req SubmitActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	kind := domain.ActionKind(req.Kind)
	if !kind.Valid() {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown action kind: "+req.Kind)
		return
	}

	in := engine.Intent{
		ChatID:      req.ChatID,
		TargetID:    req.TargetID,
		Kind:        kind,
		RuleVersion: req.RuleVersion,
	}
	if req.ScheduledFor != "" {
		due, err := time.Parse(time.RFC3339, req.ScheduledFor)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "scheduled_for must be RFC 3339")
			return
		}
		in.ScheduledFor = &due
	}

	a, noop, err := h.mod.SubmitIntent(c.Request.Context(), in)
	switch {
	case errors.Is(err, engine.ErrStoreUnavailable):
		fail(c, http.StatusServiceUnavailable, ErrCodeStoreUnavailable, "durable store unavailable")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeSubmitFailed, err.Error())
		return
	}

	if noop {
		ok(c, http.StatusOK, SubmitActionResponse{Noop: true})
		return
	}
	ok(c, http.StatusCreated, SubmitActionResponse{Action: a})
}

// ListActions returns a page of actions, newest first, optionally filtered
// by chat_id and status.
func (h *Handlers) ListActions(c *gin.Context) {
	ctx := c.Request.Context()
	page, pageSize := clampPagination(c)

	var chatID int64
	if raw := c.Query("chat_id"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "chat_id must be an integer")
			return
		}
		chatID = v
	}

	var status domain.ActionStatus
	if raw := c.Query("status"); raw != "" {
		status = domain.ActionStatus(raw)
		switch status {
		case domain.StatusPending, domain.StatusInFlight, domain.StatusExecuted,
			domain.StatusFailed, domain.StatusCancelled:
		default:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown status: "+raw)
			return
		}
	}

	total, err := repo.CountActions(ctx, h.db, chatID, status)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	items, err := repo.ListActionsPage(ctx, h.db, chatID, status, (page-1)*pageSize, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListActionsResponse{
		Actions: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetAction returns a single action by id.
func (h *Handlers) GetAction(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "action id must be a UUID")
		return
	}

	a, err := repo.GetAction(c.Request.Context(), h.db, id)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "action not found")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, a)
}

// CancelAction cancels a pending action. Actions that already ran, failed,
// or were cancelled answer 409; unknown ids answer 404.
func (h *Handlers) CancelAction(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "action id must be a UUID")
		return
	}

	ctx := c.Request.Context()
	err := h.mod.CancelAction(ctx, id)
	switch {
	case err == nil:
		noContent(c)
	case errors.Is(err, engine.ErrStoreUnavailable):
		fail(c, http.StatusServiceUnavailable, ErrCodeStoreUnavailable, "durable store unavailable")
	case errors.Is(err, repo.ErrStaleStatus):
		// Distinguish a settled action from an unknown id.
		if _, getErr := repo.GetAction(ctx, h.db, id); errors.Is(getErr, repo.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "action not found")
			return
		}
		fail(c, http.StatusConflict, ErrCodeAlreadySettled, "action already settled")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}
