// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package contentgraph

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/contentgraph/services/contentgraph/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"
)

// RegisterRoutes registers all content graph routes with the router group.
//
// Description:
//
//	Registers the HTTP endpoints under /contentgraph on the given group.
//
// Endpoints:
//
//	GET  /v1/contentgraph/health - Health check
//	GET  /v1/contentgraph/ready - Readiness check
//	GET  /v1/contentgraph/dimensions - Active dimension space
//	GET  /v1/contentgraph/nodetypes - Node type schema
//
//	POST /v1/contentgraph/commands/:type - Run a command (?workspace=, ?wait=true)
//
//	GET  /v1/contentgraph/workspaces - List workspaces
//	POST /v1/contentgraph/workspaces - Create a workspace
//	GET  /v1/contentgraph/workspaces/:workspace - Workspace status
//	GET  /v1/contentgraph/workspaces/:workspace/history - Content stream history
//	POST /v1/contentgraph/workspaces/:workspace/publish - Publish to base or ancestor
//	POST /v1/contentgraph/workspaces/:workspace/rebase - Rebase onto base
//	POST /v1/contentgraph/workspaces/:workspace/discard - Drop all changes
//
//	GET  /v1/contentgraph/workspaces/:workspace/nodes/:id - Node by aggregate id
//	GET  /v1/contentgraph/workspaces/:workspace/nodes/:id/children - Child nodes
//	GET  /v1/contentgraph/workspaces/:workspace/nodes/:id/parent - Parent node
//	GET  /v1/contentgraph/workspaces/:workspace/nodes/:id/subtree - Subtree
//	GET  /v1/contentgraph/workspaces/:workspace/nodes/:id/path - Node by name path
//	GET  /v1/contentgraph/workspaces/:workspace/nodes/:id/references - Outgoing references
//	GET  /v1/contentgraph/workspaces/:workspace/nodes/:id/referencing - Incoming references
//	GET  /v1/contentgraph/workspaces/:workspace/occurrences/:nodeId - Node by node id
//
// Example:
//
//	handlers := contentgraph.NewHandlers(svc)
//	v1 := router.Group("/v1")
//	contentgraph.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	cg := rg.Group("/contentgraph")
	{
		cg.GET("/health", handlers.HandleHealth)
		cg.GET("/ready", handlers.HandleReady)
		cg.GET("/dimensions", handlers.HandleDimensions)
		cg.GET("/nodetypes", handlers.HandleNodeTypes)

		cg.POST("/commands/:type", handlers.HandleCommand)

		cg.GET("/workspaces", handlers.HandleListWorkspaces)
		cg.POST("/workspaces", handlers.HandleCreateWorkspace)

		ws := cg.Group("/workspaces/:workspace")
		{
			ws.GET("", handlers.HandleWorkspaceStatus)
			ws.GET("/history", handlers.HandleWorkspaceHistory)
			ws.POST("/publish", handlers.HandlePublish)
			ws.POST("/rebase", handlers.HandleRebase)
			ws.POST("/discard", handlers.HandleDiscard)

			ws.GET("/nodes/:id", handlers.HandleNode)
			ws.GET("/nodes/:id/children", handlers.HandleChildren)
			ws.GET("/nodes/:id/parent", handlers.HandleParent)
			ws.GET("/nodes/:id/subtree", handlers.HandleSubtree)
			ws.GET("/nodes/:id/path", handlers.HandlePath)
			ws.GET("/nodes/:id/references", handlers.HandleReferences)
			ws.GET("/nodes/:id/referencing", handlers.HandleReferencing)
			ws.GET("/occurrences/:nodeId", handlers.HandleNodeByIdentifier)
		}
	}
}

// NewRouter builds the gin engine serving the API and /metrics.
//
// Description:
//
//	Installs recovery, otelgin tracing, request metrics when m is non-nil
//	and request logging. The API group is rate limited when the service's
//	configuration sets a limit; /metrics is not.
func NewRouter(svc *Service, m *telemetry.Metrics) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("contentgraph"))
	if m != nil {
		router.Use(m.GinMiddleware())
	}
	router.Use(requestLogger(svc.logger))

	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))

	v1 := router.Group("/v1")
	if limit := svc.cfg.HTTP.RateLimit; limit > 0 {
		v1.Use(rateLimit(limit, svc.cfg.HTTP.RateBurst))
	}
	RegisterRoutes(v1, NewHandlers(svc).WithMetrics(m))
	return router
}

// rateLimit rejects requests beyond limit per second with 429.
func rateLimit(limit float64, burst int) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(limit), max(burst, 1))
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error: "rate limit exceeded",
				Code:  "rate_limited",
			})
			return
		}
		c.Next()
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)))
	}
}
