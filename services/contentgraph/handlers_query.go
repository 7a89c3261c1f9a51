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
	"fmt"
	"net/http"
	"strings"

	"github.com/AleutianAI/contentgraph/services/contentgraph/dimension"
	"github.com/AleutianAI/contentgraph/services/contentgraph/events"
	"github.com/AleutianAI/contentgraph/services/contentgraph/eventstore"
	"github.com/AleutianAI/contentgraph/services/contentgraph/projection"
	"github.com/gin-gonic/gin"
)

// subgraph opens the read view named by the request.
//
// Description:
//
//	Resolves the workspace to its content stream and makes the projection
//	current before reading: with version=N it waits until event N was
//	applied, otherwise it catches up to the stream head.
//
// Query Parameters:
//
//	point - Dimension space point, "language=en,market=eu" (default: empty point)
//	includeDisabled - "true" to show disabled aggregates
//	version - Stream version the view must include
func (h *Handlers) subgraph(c *gin.Context) (*projection.Subgraph, error) {
	ctx := c.Request.Context()
	ws, err := h.svc.Workspaces().Get(ctx, c.Param("workspace"))
	if err != nil {
		return nil, err
	}
	point, err := dimension.ParsePoint(c.Query("point"))
	if err != nil {
		return nil, err
	}
	includeDisabled, err := boolQuery(c, "includeDisabled")
	if err != nil {
		return nil, err
	}
	version, pinned, err := uintQuery(c, "version")
	if err != nil {
		return nil, err
	}

	stream := ws.ContentStreamID
	if pinned {
		err = h.svc.Projection().WaitFor(ctx, eventstore.Position{Stream: stream, Version: version})
	} else {
		err = h.svc.Projection().CatchUp(ctx, stream)
	}
	if err != nil {
		return nil, err
	}
	return h.svc.Projection().Subgraph(ctx, stream, point,
		projection.VisibilityConstraints{IncludeDisabled: includeDisabled})
}

// typeFilter parses ?types=Vendor:Page,!Vendor:Text.
func typeFilter(c *gin.Context) projection.NodeTypeFilter {
	raw := c.Query("types")
	if raw == "" {
		return nil
	}
	var filter projection.NodeTypeFilter
	for _, entry := range strings.Split(raw, ",") {
		if entry = strings.TrimSpace(entry); entry != "" {
			filter = append(filter, entry)
		}
	}
	return filter
}

func aggregateParam(c *gin.Context) events.NodeAggregateID {
	return events.NodeAggregateID(c.Param("id"))
}

// respondNode writes the node, or 404 when nothing is visible.
func (h *Handlers) respondNode(c *gin.Context, handler string, node *projection.Node, err error) {
	if err == nil && node == nil {
		err = fmt.Errorf("%w: %s", ErrNodeNotFound, c.Request.URL.Path)
	}
	if err != nil {
		h.fail(c, h.requestLogger(c, handler), err)
		return
	}
	c.JSON(http.StatusOK, NodeResponse{Node: node})
}

// HandleNode handles GET /v1/contentgraph/workspaces/:workspace/nodes/:id.
//
// Response:
//
//	200 OK: NodeResponse
//	400 Bad Request: Malformed id, point or parameter
//	404 Not Found: Unknown workspace, or no visible node at the point
func (h *Handlers) HandleNode(c *gin.Context) {
	sg, err := h.subgraph(c)
	if err != nil {
		h.respondNode(c, "HandleNode", nil, err)
		return
	}
	node, err := sg.FindNodeByNodeAggregateIdentifier(aggregateParam(c))
	h.respondNode(c, "HandleNode", node, err)
}

// HandleNodeByIdentifier handles GET /v1/contentgraph/workspaces/:workspace/occurrences/:nodeId.
// The node is returned only if that occurrence is the one visible at the point.
func (h *Handlers) HandleNodeByIdentifier(c *gin.Context) {
	sg, err := h.subgraph(c)
	if err != nil {
		h.respondNode(c, "HandleNodeByIdentifier", nil, err)
		return
	}
	node, err := sg.FindNodeByIdentifier(events.NodeID(c.Param("nodeId")))
	h.respondNode(c, "HandleNodeByIdentifier", node, err)
}

// HandleChildren handles GET /v1/contentgraph/workspaces/:workspace/nodes/:id/children.
//
// Query Parameters:
//
//	types - Node type filter, "!" excludes (optional)
//	limit - Maximum number of children, 0 for all (default: 0)
//	offset - Children to skip (default: 0)
//
// Response:
//
//	200 OK: NodesResponse; total ignores limit and offset
func (h *Handlers) HandleChildren(c *gin.Context) {
	logger := h.requestLogger(c, "HandleChildren")
	limit, err := intQuery(c, "limit", 0)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	offset, err := intQuery(c, "offset", 0)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	sg, err := h.subgraph(c)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	filter := typeFilter(c)
	nodes, err := sg.FindChildNodes(aggregateParam(c), filter, limit, offset)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	total, err := sg.CountChildNodes(aggregateParam(c), filter)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	if nodes == nil {
		nodes = []*projection.Node{}
	}
	c.JSON(http.StatusOK, NodesResponse{Nodes: nodes, Total: total})
}

// HandleParent handles GET /v1/contentgraph/workspaces/:workspace/nodes/:id/parent.
// Root nodes have no parent: the response is 200 with a null node.
func (h *Handlers) HandleParent(c *gin.Context) {
	logger := h.requestLogger(c, "HandleParent")
	sg, err := h.subgraph(c)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	id := aggregateParam(c)
	self, err := sg.FindNodeByNodeAggregateIdentifier(id)
	if err == nil && self == nil {
		err = fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	parent, err := sg.FindParentNode(id)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, NodeResponse{Node: parent})
}

// HandleSubtree handles GET /v1/contentgraph/workspaces/:workspace/nodes/:id/subtree.
//
// Query Parameters:
//
//	depth - Maximum depth below the node, negative for unlimited (default: -1)
//	types - Node type filter for descendants (optional)
func (h *Handlers) HandleSubtree(c *gin.Context) {
	logger := h.requestLogger(c, "HandleSubtree")
	depth, err := intQuery(c, "depth", -1)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	sg, err := h.subgraph(c)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	trees, err := sg.FindSubtrees([]events.NodeAggregateID{aggregateParam(c)}, depth, typeFilter(c))
	if err == nil && len(trees) == 0 {
		err = fmt.Errorf("%w: %s", ErrNodeNotFound, aggregateParam(c))
	}
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, SubtreeResponse{Subtrees: trees})
}

// HandlePath handles GET /v1/contentgraph/workspaces/:workspace/nodes/:id/path?path=a/b.
// The path is resolved by node names starting below the node.
func (h *Handlers) HandlePath(c *gin.Context) {
	sg, err := h.subgraph(c)
	if err != nil {
		h.respondNode(c, "HandlePath", nil, err)
		return
	}
	node, err := sg.FindNodeByPath(c.Query("path"), aggregateParam(c))
	h.respondNode(c, "HandlePath", node, err)
}

// HandleReferences handles GET /v1/contentgraph/workspaces/:workspace/nodes/:id/references.
// With ?name= only references of that name are returned.
func (h *Handlers) HandleReferences(c *gin.Context) {
	h.references(c, "HandleReferences", (*projection.Subgraph).FindReferencedNodes)
}

// HandleReferencing handles GET /v1/contentgraph/workspaces/:workspace/nodes/:id/referencing.
func (h *Handlers) HandleReferencing(c *gin.Context) {
	h.references(c, "HandleReferencing", (*projection.Subgraph).FindReferencingNodes)
}

func (h *Handlers) references(c *gin.Context, handler string,
	find func(*projection.Subgraph, events.NodeAggregateID, string) ([]projection.Reference, error)) {
	logger := h.requestLogger(c, handler)
	sg, err := h.subgraph(c)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	refs, err := find(sg, aggregateParam(c), c.Query("name"))
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	if refs == nil {
		refs = []projection.Reference{}
	}
	c.JSON(http.StatusOK, ReferencesResponse{References: refs})
}
