package main

import (
	"context"

	"agency-billing/internal/httpapi"
	"agency-billing/internal/obs"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

type routeDeps struct {
	handlers httpapi.Handlers
	authMW   gin.HandlerFunc
	limiter  *httpapi.RateLimiter
	health   func(ctx context.Context) error
	metrics  prometheus.Gatherer
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// public
	r.GET("/healthz", httpapi.Health(d.health))
	r.GET("/metrics", obs.Handler(d.metrics))

	// protected API group; the limiter runs after auth so it can key by account
	v1 := r.Group("/v1")
	v1.Use(d.authMW)
	v1.Use(d.limiter.Middleware())
	d.handlers.Register(v1)
}
