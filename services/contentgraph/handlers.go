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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/AleutianAI/contentgraph/pkg/logging"
	"github.com/AleutianAI/contentgraph/services/contentgraph/command"
	"github.com/AleutianAI/contentgraph/services/contentgraph/events"
	"github.com/AleutianAI/contentgraph/services/contentgraph/projection"
	"github.com/AleutianAI/contentgraph/services/contentgraph/telemetry"
	"github.com/AleutianAI/contentgraph/services/contentgraph/workspace"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Request headers read by the command endpoint.
const (
	headerRequestID     = "X-Request-ID"
	headerCorrelationID = "X-Correlation-ID"
	headerInitiator     = "X-Initiator"
)

// maxCommandBody caps command payloads.
const maxCommandBody = 1 << 20

// Handlers contains the HTTP handlers for the content graph.
type Handlers struct {
	svc     *Service
	metrics *telemetry.Metrics
	logger  *slog.Logger
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc, logger: logging.Component(svc.logger, "http")}
}

// WithMetrics counts failed requests by error kind.
func (h *Handlers) WithMetrics(m *telemetry.Metrics) *Handlers {
	h.metrics = m
	return h
}

// getOrCreateRequestID returns the caller's request id or a new one, and
// echoes it in the response.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader(headerRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header(headerRequestID, requestID)
	return requestID
}

func (h *Handlers) requestLogger(c *gin.Context, handler string) *slog.Logger {
	return h.logger.With(
		slog.String("request_id", getOrCreateRequestID(c)),
		slog.String("handler", handler))
}

// fail writes the error response for err.
func (h *Handlers) fail(c *gin.Context, logger *slog.Logger, err error) {
	code, status := errorCode(err)
	resp := ErrorResponse{Error: err.Error(), Code: code}
	var conflict *workspace.RebaseConflictError
	if errors.As(err, &conflict) {
		resp.Conflicts = conflict.Conflicts
	}
	if h.metrics != nil {
		h.metrics.RecordError(c, code)
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", slog.String("code", code), slog.String("error", err.Error()))
	} else {
		logger.Debug("request rejected", slog.String("code", code), slog.String("error", err.Error()))
	}
	c.AbortWithStatusJSON(status, resp)
}

// -----------------------------------------------------------------------------
// Health
// -----------------------------------------------------------------------------

// HandleHealth handles GET /v1/contentgraph/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Version: ServiceVersion})
}

// HandleReady handles GET /v1/contentgraph/ready.
//
// Response:
//
//	200 OK: The root workspace is readable.
//	503 Service Unavailable: Storage or registry failure.
func (h *Handlers) HandleReady(c *gin.Context) {
	if _, err := h.svc.Workspaces().Get(c.Request.Context(), h.svc.cfg.Workspaces.Root); err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: "not_ready"})
		return
	}
	c.JSON(http.StatusOK, HealthResponse{Status: "ready", Version: ServiceVersion})
}

// HandleDimensions handles GET /v1/contentgraph/dimensions.
func (h *Handlers) HandleDimensions(c *gin.Context) {
	snap := h.svc.Dimensions().Current()
	c.JSON(http.StatusOK, DimensionsResponse{
		Hash:        snap.Hash(),
		Dimensions:  snap.Dimensions(),
		LegalPoints: snap.Legal(),
	})
}

// HandleNodeTypes handles GET /v1/contentgraph/nodetypes.
func (h *Handlers) HandleNodeTypes(c *gin.Context) {
	names := h.svc.NodeTypes().Names()
	out := make(map[string]any, len(names))
	for _, name := range names {
		nt, err := h.svc.NodeTypes().Get(name)
		if err != nil {
			continue
		}
		out[name] = nt
	}
	c.JSON(http.StatusOK, gin.H{"nodeTypes": out})
}

// -----------------------------------------------------------------------------
// Commands
// -----------------------------------------------------------------------------

// HandleCommand handles POST /v1/contentgraph/commands/:type.
//
// Description:
//
//	Decodes the flat JSON body as the named command and runs it against
//	the content stream of a workspace. With wait=true the response is
//	written after the projection applied the events, so a following query
//	sees them.
//
// Query Parameters:
//
//	workspace - Target workspace (default: the root workspace)
//	wait - "true" to wait for the projection
//
// Response:
//
//	200 OK: CommandResponse, events applied
//	202 Accepted: CommandResponse, events appended but not yet applied
//	400 Bad Request: Malformed payload or rejected command
//	404 Not Found: Unknown workspace
//	409 Conflict: Concurrent write, retry
//	422 Unprocessable Entity: Node type constraint violated
//	503 Service Unavailable: Projection halted
func (h *Handlers) HandleCommand(c *gin.Context) {
	logger := h.requestLogger(c, "HandleCommand")
	ctx := c.Request.Context()

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCommandBody))
	if err != nil {
		h.fail(c, logger, fmt.Errorf("%w: %v", command.ErrInvalidCommandPayload, err))
		return
	}
	cmd, err := command.DecodeJSON(command.Type(c.Param("type")), body)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	wait, err := boolQuery(c, "wait")
	if err != nil {
		h.fail(c, logger, err)
		return
	}

	ws, err := h.svc.Workspaces().Get(ctx, c.DefaultQuery("workspace", h.svc.cfg.Workspaces.Root))
	if err != nil {
		h.fail(c, logger, err)
		return
	}

	correlation := c.GetHeader(headerCorrelationID)
	if correlation == "" {
		correlation = c.Writer.Header().Get(headerRequestID)
	}
	opts := []command.HandleOption{command.WithCorrelationID(correlation)}
	if initiator := c.GetHeader(headerInitiator); initiator != "" {
		opts = append(opts, command.WithInitiator(initiator))
	}

	res, err := h.svc.Commands().Handle(ctx, ws.ContentStreamID, cmd, opts...)
	if err != nil {
		h.fail(c, logger, err)
		return
	}

	resp := CommandResponse{Position: res.Position, Events: make([]events.Type, 0, len(res.Events))}
	for _, e := range res.Events {
		resp.Events = append(resp.Events, e.EventType())
	}
	if !wait {
		c.JSON(http.StatusAccepted, resp)
		return
	}
	if err := res.Wait(ctx); err != nil {
		if errors.Is(err, projection.ErrProjectionCatchupTimeout) {
			logger.Warn("command appended but not yet applied", slog.Uint64("version", res.Position.Version))
			c.JSON(http.StatusAccepted, resp)
			return
		}
		h.fail(c, logger, err)
		return
	}
	resp.Applied = true
	c.JSON(http.StatusOK, resp)
}

// -----------------------------------------------------------------------------
// Query parameter helpers
// -----------------------------------------------------------------------------

func boolQuery(c *gin.Context, name string) (bool, error) {
	v := c.Query(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrInvalidQuery, name, err)
	}
	return b, nil
}

func intQuery(c *gin.Context, name string, def int) (int, error) {
	v := c.Query(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidQuery, name, err)
	}
	return n, nil
}

func uintQuery(c *gin.Context, name string) (uint64, bool, error) {
	v := c.Query(name)
	if v == "" {
		return 0, false, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %s: %v", ErrInvalidQuery, name, err)
	}
	return n, true, nil
}
