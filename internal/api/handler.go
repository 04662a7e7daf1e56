package api

import (
	"errors"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"

	"parking-status-backend/internal/broadcast"
	"parking-status-backend/internal/engine"
	"parking-status-backend/internal/queue"
	"parking-status-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store       store.Store
	engine      *engine.Engine
	queue       *queue.Queue
	broadcaster *broadcast.Broadcaster
	webpush     *webpush.Options
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, eng *engine.Engine, q *queue.Queue, b *broadcast.Broadcaster, webpushOptions *webpush.Options) *Handler {
	return &Handler{
		store:       s,
		engine:      eng,
		queue:       q,
		broadcaster: b,
		webpush:     webpushOptions,
	}
}

// abortWithError maps domain errors onto HTTP statuses.
func abortWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrConflict):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, engine.ErrInvalidPrediction), errors.Is(err, queue.ErrInvalidKind):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
