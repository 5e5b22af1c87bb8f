package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"laundry-orchestrator/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.Default()

	rateLimiter := mw.RateLimit(rate.Limit(h.cfg.Server.RateLimitPerSec), h.cfg.Server.RateLimitBurst)

	cacheTTL := time.Duration(h.cfg.Server.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(cacheTTL, 2*cacheTTL)
	caching := mw.CacheGET(cacheStore, cacheTTL)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		// Fleet view and health
		api.GET("/nodes", caching, h.GetTopology)
		api.POST("/nodes/health-check", h.RunHealthCheck)
		api.POST("/nodes/heartbeat", h.PostHeartbeat)

		// Rebalancing and diagnostics
		api.POST("/nodes/balance", h.PostBalance)
		api.POST("/nodes/network-test", h.PostNetworkTest)

		// Command queue
		api.POST("/commands", h.PostCommand)
		api.GET("/nodes/:node_id/commands", h.GetNodeCommands)
		api.POST("/commands/:command_id/ack", h.AckCommand)
		api.POST("/nodes/:node_id/release-credit", h.PostReleaseCredit)

		// Payments
		api.GET("/payments/methods", h.GetPaymentMethods)
		api.POST("/payments", h.PostPayment)
		api.POST("/payments/pix", h.PostPixCharge)
		api.GET("/payments/pix/:order_id", h.GetPixStatus)
		api.DELETE("/payments/pix/:order_id", h.CancelPixCharge)

		// Push subscriptions
		api.GET("/subscriptions", h.GetSubscription)
		api.PUT("/subscriptions", h.PutSubscription)
		api.DELETE("/subscriptions", h.DeleteSubscription)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)
	}

	return r
}
