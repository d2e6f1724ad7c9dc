package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/DouglasDev222/ServerZap/internal/dispatch"
	"github.com/DouglasDev222/ServerZap/internal/persistence"
	"github.com/DouglasDev222/ServerZap/internal/session"
)

type Handler struct {
	controller *session.Controller
	pool       *dispatch.Pool
	queue      *persistence.Queue
	log        zerolog.Logger
}

func NewHandler(controller *session.Controller, pool *dispatch.Pool, queue *persistence.Queue, log zerolog.Logger) *Handler {
	return &Handler{
		controller: controller,
		pool:       pool,
		queue:      queue,
		log:        log.With().Str("component", "httpapi").Logger(),
	}
}

func NewRouter(handler *Handler, auth AuthConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", handler.Health)

	api := router.Group("/api/v1", APIKeyMiddleware(auth))
	api.GET("/session/status", handler.SessionStatus)
	api.GET("/session/qr", handler.SessionQR)
	api.POST("/session/restart", handler.RestartSession)
	api.POST("/messages", handler.SubmitMessage)
	api.GET("/messages/:job_id", handler.GetMessage)
	api.GET("/dead-letters", handler.DeadLetters)
	return router
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) SessionStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"connection_status": string(h.controller.Status())})
}

func (h *Handler) SessionQR(c *gin.Context) {
	encoded, raw, err := h.controller.QRCode()
	switch {
	case errors.Is(err, session.ErrAlreadyConnected):
		c.JSON(http.StatusConflict, gin.H{"error": "already_connected"})
	case errors.Is(err, session.ErrNoChallenge):
		c.JSON(http.StatusNotFound, gin.H{"error": "no_qr_available"})
	case err != nil:
		h.log.Error().Err(err).Msg("qr encoding failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode qr code"})
	default:
		c.JSON(http.StatusOK, gin.H{"qr": encoded, "raw": raw})
	}
}

func (h *Handler) RestartSession(c *gin.Context) {
	// The rebuild is I/O-bound; the request only triggers it.
	go func() {
		if err := h.controller.Initialize(context.Background()); err != nil {
			h.log.Error().Err(err).Msg("manual reinitialization failed")
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "restarting"})
}

type submitMessageRequest struct {
	Recipient string `json:"recipient"`
	Body      string `json:"body"`
}

func (h *Handler) SubmitMessage(c *gin.Context) {
	var req submitMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	jobID, err := h.pool.Submit(c.Request.Context(), req.Recipient, req.Body)
	switch {
	case errors.Is(err, dispatch.ErrRecipientRequired), errors.Is(err, dispatch.ErrBodyRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		h.log.Error().Err(err).Msg("enqueue failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue message"})
	default:
		c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
	}
}

type messageResponse struct {
	JobID         string     `json:"job_id"`
	Recipient     string     `json:"recipient"`
	Status        string     `json:"status"`
	Attempt       int        `json:"attempt"`
	MaxAttempts   int        `json:"max_attempts,omitempty"`
	MessageID     string     `json:"message_id,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

func (h *Handler) GetMessage(c *gin.Context) {
	jobID := strings.TrimSpace(c.Param("job_id"))
	snapshot, ok, err := h.queue.JobSnapshot(c.Request.Context(), jobID)
	if err != nil {
		h.log.Error().Err(err).Msg("job lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load job"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, messageResponse{
		JobID:         snapshot.JobID,
		Recipient:     snapshot.Recipient,
		Status:        snapshot.Status,
		Attempt:       snapshot.Attempt,
		MaxAttempts:   snapshot.MaxAttempts,
		MessageID:     snapshot.MessageID,
		FailureReason: snapshot.FailureReason,
		CompletedAt:   snapshot.CompletedAt,
	})
}

type deadLetterItem struct {
	JobID     string    `json:"job_id"`
	Recipient string    `json:"recipient"`
	Body      string    `json:"body"`
	Reason    string    `json:"reason"`
	Attempts  int       `json:"attempts"`
	FailedAt  time.Time `json:"failed_at"`
}

func (h *Handler) DeadLetters(c *gin.Context) {
	letters, err := h.queue.DeadLetters(c.Request.Context(), 0)
	if err != nil {
		h.log.Error().Err(err).Msg("dead letter lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load dead letters"})
		return
	}
	items := make([]deadLetterItem, 0, len(letters))
	for _, letter := range letters {
		items = append(items, deadLetterItem{
			JobID:     letter.JobID,
			Recipient: letter.Recipient,
			Body:      letter.Body,
			Reason:    letter.Reason,
			Attempts:  letter.Attempts,
			FailedAt:  letter.FailedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": len(items)})
}
