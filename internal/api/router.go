package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"parking-status-backend/internal/broadcast"
	"parking-status-backend/internal/engine"
	"parking-status-backend/internal/mw"
	"parking-status-backend/internal/queue"
	"parking-status-backend/internal/store"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(s store.Store, eng *engine.Engine, q *queue.Queue, b *broadcast.Broadcaster, webpushOptions *webpush.Options) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(s, eng, q, b, webpushOptions)

	// Rate limit: 10 requests per second with a burst of 5
	rateLimiter := mw.RateLimiter(rate.Limit(10), 5)

	// Slot listings change every second under the tracker, so the cache TTL
	// stays short.
	cacheStore := cache.New(time.Second, time.Minute)
	caching := mw.Cache(cacheStore, time.Second)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/lots", caching, handler.GetLots)
		api.GET("/lots/:lot_id/slots", caching, handler.GetLotSlots)
		api.GET("/lots/:lot_id/events", handler.StreamLotEvents)

		api.POST("/slots/:slot_id/book", handler.BookSlot)
		api.POST("/slots/:slot_id/release", handler.ReleaseSlot)
		api.POST("/lots/:lot_id/slots/bulk", handler.BulkUpdateSlots)

		api.POST("/lots/:lot_id/analysis", handler.EnqueueAnalysis)
		api.GET("/analysis", handler.GetQueueStatus)
		api.GET("/analysis/:job_id", handler.GetAnalysisJob)
		api.DELETE("/analysis/:job_id", handler.CancelAnalysisJob)

		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
