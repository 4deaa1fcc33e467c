// README: HTTP router registration.
package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dispatch/internal/http/handlers"
	"dispatch/internal/http/middleware"
)

// NewRouter builds the gin engine. streams bounds the lifetime of websocket
// streams.
func NewRouter(deps ServerDeps, streams context.Context) *gin.Engine {
	logger := deps.logger()

	r := gin.New()
	r.Use(
		middleware.RequestID(),
		middleware.Recovery(logger),
		middleware.Logging(logger),
		middleware.Metrics(),
	)

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.Use(middleware.NewRateLimiter(deps.RateLimitRPS, deps.RateLimitBurst).Middleware())

	jobHandler := handlers.NewJobHandler(deps.Jobs, deps.Matching, deps.Positions)
	api.GET("/drivers/:id/jobs", jobHandler.NearbyJobs)
	api.POST("/jobs/:id/claim", jobHandler.Claim)
	api.POST("/jobs/:id/advance", jobHandler.Advance)
	api.GET("/dispatch/load", jobHandler.Load)

	pricingHandler := handlers.NewPricingHandler(deps.Pricing, deps.Jobs)
	api.POST("/pricing/quote", pricingHandler.Quote)
	api.GET("/pricing/estimate", pricingHandler.Estimate)

	driverHandler := handlers.NewDriverHandler(deps.Drivers, deps.Tracking, deps.Provider, deps.Positions, logger)
	api.PUT("/drivers/:id/location", driverHandler.UpdateLocation)
	api.PUT("/drivers/:id/status", driverHandler.SetStatus)
	api.GET("/drivers/:id/eta", driverHandler.ETA)

	trackingHandler := handlers.NewTrackingHandler(deps.Jobs, deps.Tracking, streams, logger)
	r.GET("/ws/jobs/:id/tracking", trackingHandler.Stream)

	return r
}
