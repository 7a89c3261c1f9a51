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

	"github.com/AleutianAI/contentgraph/services/contentgraph/workspace"
	"github.com/gin-gonic/gin"
)

// HandleListWorkspaces handles GET /v1/contentgraph/workspaces.
func (h *Handlers) HandleListWorkspaces(c *gin.Context) {
	list, err := h.svc.Workspaces().List(c.Request.Context())
	if err != nil {
		h.fail(c, h.requestLogger(c, "HandleListWorkspaces"), err)
		return
	}
	c.JSON(http.StatusOK, WorkspacesResponse{Workspaces: list})
}

// HandleCreateWorkspace handles POST /v1/contentgraph/workspaces.
//
// Request Body:
//
//	CreateWorkspaceRequest
//
// Response:
//
//	201 Created: workspace.Workspace
//	400 Bad Request: Invalid body, name taken or bad name
//	404 Not Found: Unknown base workspace
func (h *Handlers) HandleCreateWorkspace(c *gin.Context) {
	logger := h.requestLogger(c, "HandleCreateWorkspace")

	var req CreateWorkspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, logger, fmt.Errorf("%w: body: %v", ErrInvalidQuery, err))
		return
	}

	ctx := c.Request.Context()
	var opts []workspace.CreateOption
	if req.Title != "" {
		opts = append(opts, workspace.WithTitle(req.Title))
	}
	var (
		ws  workspace.Workspace
		err error
	)
	switch req.Kind {
	case workspace.KindRoot:
		if req.Owner != "" {
			opts = append(opts, workspace.WithOwner(req.Owner))
		}
		ws, err = h.svc.Workspaces().CreateRootWorkspace(ctx, req.Name, opts...)
	case workspace.KindPersonal:
		ws, err = h.svc.Workspaces().CreatePersonalWorkspace(ctx, req.Name, req.Base, req.Owner, opts...)
	default:
		if req.Owner != "" {
			opts = append(opts, workspace.WithOwner(req.Owner))
		}
		ws, err = h.svc.Workspaces().CreateSharedWorkspace(ctx, req.Name, req.Base, opts...)
	}
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	logger.Info("workspace created",
		slog.String("workspace", ws.Name),
		slog.String("kind", string(ws.Kind)),
		slog.String("stream", string(ws.ContentStreamID)))
	c.JSON(http.StatusCreated, ws)
}

// HandleWorkspaceStatus handles GET /v1/contentgraph/workspaces/:workspace.
func (h *Handlers) HandleWorkspaceStatus(c *gin.Context) {
	status, err := h.svc.Workspaces().Status(c.Request.Context(), c.Param("workspace"))
	if err != nil {
		h.fail(c, h.requestLogger(c, "HandleWorkspaceStatus"), err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// HandleWorkspaceHistory handles GET /v1/contentgraph/workspaces/:workspace/history.
func (h *Handlers) HandleWorkspaceHistory(c *gin.Context) {
	history, err := h.svc.Workspaces().History(c.Request.Context(), c.Param("workspace"))
	if err != nil {
		h.fail(c, h.requestLogger(c, "HandleWorkspaceHistory"), err)
		return
	}
	if history == nil {
		history = []workspace.Repoint{}
	}
	c.JSON(http.StatusOK, HistoryResponse{History: history})
}

// HandlePublish handles POST /v1/contentgraph/workspaces/:workspace/publish.
//
// Request Body:
//
//	PublishRequest (optional; defaults to the base workspace)
//
// Response:
//
//	200 OK: workspace.PublishResult
//	400 Bad Request: Target is not an ancestor
//	409 Conflict: Target changed during the publish, retry
//	422 Unprocessable Entity: ErrorResponse with conflicts
func (h *Handlers) HandlePublish(c *gin.Context) {
	logger := h.requestLogger(c, "HandlePublish")
	ctx := c.Request.Context()
	name := c.Param("workspace")

	var req PublishRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.fail(c, logger, fmt.Errorf("%w: body: %v", ErrInvalidQuery, err))
		return
	}
	if req.Target == "" {
		ws, err := h.svc.Workspaces().Get(ctx, name)
		if err != nil {
			h.fail(c, logger, err)
			return
		}
		if ws.BaseWorkspace == "" {
			h.fail(c, logger, fmt.Errorf("%w: workspace %s has no base", workspace.ErrWorkspaceBaseMismatch, name))
			return
		}
		req.Target = ws.BaseWorkspace
	}

	res, err := h.svc.Workspaces().Publish(ctx, name, req.Target)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	logger.Info("workspace published",
		slog.String("workspace", name),
		slog.String("target", req.Target),
		slog.Int("events", res.Events),
		slog.Bool("fast_forward", res.FastForward))
	c.JSON(http.StatusOK, res)
}

// HandleRebase handles POST /v1/contentgraph/workspaces/:workspace/rebase.
//
// Response:
//
//	200 OK: workspace.RebaseResult
//	422 Unprocessable Entity: ErrorResponse with conflicts; nothing changed
func (h *Handlers) HandleRebase(c *gin.Context) {
	logger := h.requestLogger(c, "HandleRebase")
	res, err := h.svc.Workspaces().Rebase(c.Request.Context(), c.Param("workspace"))
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// HandleDiscard handles POST /v1/contentgraph/workspaces/:workspace/discard.
// The workspace is pointed at a fresh fork of its base.
func (h *Handlers) HandleDiscard(c *gin.Context) {
	logger := h.requestLogger(c, "HandleDiscard")
	ws, err := h.svc.Workspaces().Discard(c.Request.Context(), c.Param("workspace"))
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, ws)
}
