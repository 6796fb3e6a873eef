package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"folioassist/internal/auth"
	"folioassist/internal/chat"
	"folioassist/internal/models"
	"folioassist/internal/persona"
	"folioassist/internal/worker"
)

// SessionStore is the subset of worker.Registry the handlers need.
type SessionStore interface {
	Create() (models.Session, *chat.Widget, error)
	Get(ctx context.Context, id string) (*chat.Widget, error)
	Remove(ctx context.Context, id string) bool
}

// ExchangeLog reads persisted exchanges.
type ExchangeLog interface {
	ListBySession(ctx context.Context, sessionID string, limit int) ([]models.Exchange, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Handler wires HTTP routes to the session registry.
type Handler struct {
	sessions  SessionStore
	exchanges ExchangeLog
	persona   persona.Persona
	operators *auth.Service
	checks    map[string]HealthCheck
	log       zerolog.Logger
}

type HandlerOption func(*Handler)

func WithExchangeLog(l ExchangeLog) HandlerOption {
	return func(h *Handler) { h.exchanges = l }
}

func WithOperators(s *auth.Service) HandlerOption {
	return func(h *Handler) { h.operators = s }
}

func WithHealthCheck(name string, check HealthCheck) HandlerOption {
	return func(h *Handler) { h.checks[name] = check }
}

func WithLogger(l zerolog.Logger) HandlerOption {
	return func(h *Handler) { h.log = l }
}

// NewHandler constructs a Handler instance.
func NewHandler(sessions SessionStore, p persona.Persona, opts ...HandlerOption) *Handler {
	h := &Handler{
		sessions: sessions,
		persona:  p,
		checks:   make(map[string]HealthCheck),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes attaches the chat routes to the router. limiter guards the
// message route and may be nil.
func (h *Handler) RegisterRoutes(router *gin.Engine, limiter gin.HandlerFunc) {
	router.GET("/healthz", h.health)

	api := router.Group("/api")
	chatRoutes := api.Group("/chat")
	chatRoutes.GET("/suggestions", h.getSuggestions)
	chatRoutes.POST("/sessions", h.createSession)
	chatRoutes.GET("/sessions/:session_id/messages", h.getMessages)
	if limiter != nil {
		chatRoutes.POST("/sessions/:session_id/messages", limiter, h.postMessage)
	} else {
		chatRoutes.POST("/sessions/:session_id/messages", h.postMessage)
	}
	chatRoutes.DELETE("/sessions/:session_id", h.deleteSession)

	if h.operators.Enabled() && h.exchanges != nil {
		admin := api.Group("/admin")
		admin.Use(h.operators.Middleware())
		admin.GET("/sessions/:session_id/exchanges", h.listExchanges)
	}
}

func (h *Handler) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}
	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{"status": state, "checks": results})
}

func (h *Handler) getSuggestions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"suggestions": h.persona.Suggestions()})
}

func (h *Handler) createSession(c *gin.Context) {
	session, widget, err := h.sessions.Create()
	if err != nil {
		if errors.Is(err, worker.ErrRegistryFull) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "server is busy, please retry"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"session_id":  session.ID,
		"created_at":  session.CreatedAt,
		"messages":    widget.Snapshot(),
		"suggestions": h.suggestionsFor(widget),
	})
}

// lookup resolves the session widget or writes the error response.
func (h *Handler) lookup(c *gin.Context) (string, *chat.Widget, bool) {
	sessionID := c.Param("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return "", nil, false
	}
	widget, err := h.sessions.Get(c.Request.Context(), sessionID)
	if err != nil {
		switch {
		case errors.Is(err, worker.ErrSessionExpired):
			c.JSON(http.StatusGone, gin.H{"error": "session expired"})
		case errors.Is(err, worker.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return "", nil, false
	}
	return sessionID, widget, true
}

func (h *Handler) getMessages(c *gin.Context) {
	sessionID, widget, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id":  sessionID,
		"messages":    widget.Snapshot(),
		"busy":        widget.Busy(),
		"suggestions": h.suggestionsFor(widget),
	})
}

func (h *Handler) suggestionsFor(w *chat.Widget) []string {
	if !w.ShowSuggestions() {
		return []string{}
	}
	return w.Suggestions()
}

type messageRequest struct {
	Content string `json:"content"`
}

func (h *Handler) postMessage(c *gin.Context) {
	sessionID, widget, ok := h.lookup(c)
	if !ok {
		return
	}
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	pending, err := widget.TrySubmit(req.Content)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrEmptyInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": "content cannot be empty"})
		case errors.Is(err, chat.ErrBusy):
			c.JSON(http.StatusConflict, gin.H{"error": "a reply is already pending"})
		case errors.Is(err, chat.ErrClosed):
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	// SSE Request construction
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sendEvent := func(event string, payload interface{}) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "event: %s\n", event); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := sendEvent("ack", gin.H{"session_id": sessionID, "message": pending.User}); err != nil {
		return
	}
	// the reply is committed even if the client goes away
	reply, err := pending.Wait(c.Request.Context())
	if err != nil {
		if errors.Is(err, chat.ErrClosed) {
			_ = sendEvent("error", gin.H{"message": "session closed"})
			return
		}
		h.log.Debug().Err(err).Str("session_id", sessionID).Msg("client left before reply")
		return
	}
	_ = sendEvent("done", gin.H{"session_id": sessionID, "message": reply})
}

func (h *Handler) deleteSession(c *gin.Context) {
	if !h.sessions.Remove(c.Request.Context(), c.Param("session_id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listExchanges(c *gin.Context) {
	sessionID := c.Param("session_id")
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	exchanges, err := h.exchanges.ListBySession(c.Request.Context(), sessionID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "exchanges": exchanges})
}
