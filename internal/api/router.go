package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"carguard-backend/config"
	"carguard-backend/internal/ledger"
	"carguard-backend/internal/mw"
	"carguard-backend/internal/realtime"
	"carguard-backend/internal/store"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg *config.Config, s store.Store, l *ledger.Ledger, hub *realtime.Hub, commands VehicleCommander, webpushOptions *webpush.Options) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(s, l, hub, commands, webpushOptions)

	// Initialize middleware
	rateLimiter := mw.RateLimiter(rate.Limit(cfg.Server.RateLimitPerSec), cfg.Server.RateLimitBurst)
	auth := mw.Auth(cfg.Auth.JWTSecret)
	contextRole := mw.ContextRole(s)

	// Cache: only the static VAPID key is cacheable here.
	cacheTTL := 5 * time.Minute
	if cfg.Server.CacheTTLSeconds > 0 {
		cacheTTL = time.Duration(cfg.Server.CacheTTLSeconds) * time.Second
	}
	cacheStore := cache.New(cacheTTL, 2*cacheTTL)
	caching := mw.Cache(cacheStore, cacheTTL)

	// API group
	api := r.Group("/api")
	api.Use(rateLimiter, auth, contextRole)
	{
		// Start-request lifecycle
		api.POST("/requests", handler.CreateRequest)
		api.GET("/requests/active", handler.GetActiveRequest)
		api.GET("/requests/:id/approvals", handler.GetRequestApprovals)

		// Authenticated decision channel
		api.POST("/decisions", handler.SubmitDecision)

		// Telemetry
		api.GET("/telemetry/latest", handler.GetLatestTelemetry)

		// Push subscriptions
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", caching, handler.GetVAPIDPublicKey)
	}

	// Real-time fan-out attach. Rate limiting would break long-lived
	// connections, so only auth applies.
	r.GET("/ws", auth, contextRole, handler.ServeWS)

	return r
}
