package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wagate/server/internal/logger"
	"github.com/wagate/server/internal/session"
	"github.com/wagate/server/pkg/types"
)

// SessionService is the supervisor surface the handlers drive.
type SessionService interface {
	Setup(ctx context.Context, id string) (session.SetupResult, error)
	Reload(ctx context.Context, id string) error
	Destroy(ctx context.Context, id string) error
	Delete(ctx context.Context, id string, liveness session.LivenessResult) error
	Flush(ctx context.Context, onlyInactive bool) error
}

// LivenessChecker probes one session's health.
type LivenessChecker interface {
	Check(ctx context.Context, id string) session.LivenessResult
}

// SessionStore persists per-session configuration across restarts.
type SessionStore interface {
	UpsertSession(ctx context.Context, id, webhookURL, status string, atMs int64) error
	DeleteSession(ctx context.Context, id string) error
}

// SessionsHandler exposes the session lifecycle over HTTP.
type SessionsHandler struct {
	service  SessionService
	checker  LivenessChecker
	registry *session.Registry
	store    SessionStore
}

// NewSessionsHandler creates a handler over the given collaborators.
func NewSessionsHandler(service SessionService, checker LivenessChecker, registry *session.Registry, store SessionStore) *SessionsHandler {
	return &SessionsHandler{service: service, checker: checker, registry: registry, store: store}
}

// List handles GET /v1/sessions
func (h *SessionsHandler) List(c *gin.Context) {
	handles := h.registry.GetAll()

	summaries := make([]types.SessionSummary, 0, len(handles))
	for _, handle := range handles {
		summaries = append(summaries, types.SessionSummary{
			ID:         handle.ID,
			Status:     handle.Status(),
			WebhookURL: handle.WebhookURL,
			CreatedAt:  handle.CreatedAt.UnixMilli(),
		})
	}

	c.JSON(http.StatusOK, types.SessionListResponse{Sessions: summaries})
}

// Start handles POST /v1/sessions/:id/start
func (h *SessionsHandler) Start(c *gin.Context) {
	id := c.Param("id")
	if !session.ValidID(id) {
		// Rejected before the row write so bad ids leave no state behind.
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "invalid session id"})
		return
	}

	var req types.StartSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "invalid request body"})
			return
		}
	}

	// The row goes in first so the webhook resolver sees the target during
	// setup.
	if h.store != nil {
		if err := h.store.UpsertSession(c.Request.Context(), id, req.WebhookURL, string(session.StatusStarting), time.Now().UnixMilli()); err != nil {
			logger.Errorf("session %s: persist failed: %v", id, err)
			c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: "failed to persist session"})
			return
		}
	}

	res, err := h.service.Setup(c.Request.Context(), id)
	switch {
	case errors.Is(err, session.ErrInvalidSessionID):
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: res.Message})
	case err != nil:
		logger.Errorf("session %s: setup failed: %v", id, err)
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: res.Message})
	case !res.Success:
		c.JSON(http.StatusConflict, types.ErrorResponse{Error: res.Message})
	default:
		c.JSON(http.StatusCreated, types.SuccessResponse{Success: true, Message: res.Message})
	}
}

// Status handles GET /v1/sessions/:id/status
func (h *SessionsHandler) Status(c *gin.Context) {
	id := c.Param("id")

	resp := types.SessionStatusResponse{
		ID:       id,
		Liveness: h.checker.Check(c.Request.Context(), id),
	}
	if handle := h.registry.Get(id); handle != nil {
		resp.Loaded = true
		resp.Status = handle.Status()
	}

	c.JSON(http.StatusOK, resp)
}

// QR handles GET /v1/sessions/:id/qr
func (h *SessionsHandler) QR(c *gin.Context) {
	id := c.Param("id")

	handle := h.registry.Get(id)
	if handle == nil {
		c.JSON(http.StatusNotFound, types.ErrorResponse{Error: "session not found"})
		return
	}
	qr := handle.QR()
	if qr == nil {
		c.JSON(http.StatusNotFound, types.ErrorResponse{Error: "no pending QR challenge"})
		return
	}

	c.JSON(http.StatusOK, types.QRResponse{ID: id, QR: qr})
}

// Restart handles POST /v1/sessions/:id/restart
func (h *SessionsHandler) Restart(c *gin.Context) {
	id := c.Param("id")

	if err := h.service.Reload(c.Request.Context(), id); err != nil {
		logger.Errorf("session %s: reload failed: %v", id, err)
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, types.SuccessResponse{Success: true, Message: "session restarted"})
}

// Terminate handles POST /v1/sessions/:id/terminate
func (h *SessionsHandler) Terminate(c *gin.Context) {
	id := c.Param("id")

	if err := h.service.Destroy(c.Request.Context(), id); err != nil {
		logger.Errorf("session %s: destroy failed: %v", id, err)
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, types.SuccessResponse{Success: true, Message: "session terminated"})
}

// Delete handles DELETE /v1/sessions/:id
func (h *SessionsHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	liveness := h.checker.Check(ctx, id)
	if err := h.service.Delete(ctx, id, liveness); err != nil {
		logger.Errorf("session %s: delete failed: %v", id, err)
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: err.Error()})
		return
	}

	if h.store != nil {
		if err := h.store.DeleteSession(ctx, id); err != nil {
			logger.Warnf("session %s: row cleanup failed: %v", id, err)
		}
	}

	c.JSON(http.StatusOK, types.SuccessResponse{Success: true, Message: "session deleted"})
}

// Flush handles POST /v1/sessions/flush
func (h *SessionsHandler) Flush(c *gin.Context) {
	var req types.FlushRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "invalid request body"})
			return
		}
	}

	if err := h.service.Flush(c.Request.Context(), req.OnlyInactive); err != nil {
		logger.Errorf("flush failed: %v", err)
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, types.SuccessResponse{Success: true, Message: "flush completed"})
}
