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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/contentgraph/pkg/logging"
	"github.com/AleutianAI/contentgraph/services/contentgraph/config"
	"github.com/AleutianAI/contentgraph/services/contentgraph/telemetry"
	"github.com/AleutianAI/contentgraph/services/contentgraph/workspace"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

const testDimensions = `
dimensions:
  - name: language
    default: mul
    values:
      - value: mul
      - value: en
        generalizations: [mul]
`

const testNodeTypes = `
"Vendor:Text":
  properties:
    text: {type: string, default: ""}
"Vendor:Teaser": {}
"Vendor:Page":
  constraints: {"Vendor:Page": true, "Vendor:Text": true, "*": false}
  properties:
    title: {type: string, default: "untitled"}
`

const mulPoint = "language=mul"

func init() {
	gin.SetMode(gin.TestMode)
}

type apiHarness struct {
	svc    *Service
	router *gin.Engine
}

func newAPIHarness(t *testing.T, mutate ...func(*config.Config)) *apiHarness {
	t.Helper()
	dir := t.TempDir()
	dimsFile := filepath.Join(dir, "dimensions.yaml")
	typesFile := filepath.Join(dir, "nodetypes.yaml")
	require.NoError(t, os.WriteFile(dimsFile, []byte(testDimensions), 0o600))
	require.NoError(t, os.WriteFile(typesFile, []byte(testNodeTypes), 0o600))

	cfg := config.Default()
	cfg.Dimensions.File = dimsFile
	cfg.NodeTypes.File = typesFile
	cfg.HTTP.RateLimit = 0
	for _, fn := range mutate {
		fn(&cfg)
	}

	ctx := context.Background()
	svc, err := NewService(ctx, cfg, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	require.NoError(t, svc.Start(ctx))

	metrics, err := telemetry.NewMetrics(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	return &apiHarness{svc: svc, router: NewRouter(svc, metrics)}
}

func (h *apiHarness) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

// command runs a command with wait=true and requires success.
func (h *apiHarness) command(t *testing.T, ws, cmdType string, payload map[string]any) CommandResponse {
	t.Helper()
	w := h.request(t, http.MethodPost, "/v1/contentgraph/commands/"+cmdType+"?wait=true&workspace="+ws, payload)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp CommandResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// seed creates the root "sites" and the page "home" in live.
func (h *apiHarness) seed(t *testing.T) {
	t.Helper()
	h.command(t, "live", "CreateRootNodeAggregateWithNode", map[string]any{
		"nodeAggregateId": "sites",
		"nodeTypeName":    "ContentGraph:Root",
	})
	h.command(t, "live", "CreateNodeAggregateWithNode", page("home", "sites", "home", "Home"))
}

func page(id, parent, name, title string) map[string]any {
	return map[string]any{
		"nodeAggregateId":           id,
		"nodeTypeName":              "Vendor:Page",
		"originDimensionSpacePoint": map[string]string{"language": "mul"},
		"parentNodeAggregateId":     parent,
		"nodeName":                  name,
		"initialPropertyValues":     map[string]any{"title": title},
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// -----------------------------------------------------------------------------
// Health and metadata
// -----------------------------------------------------------------------------

func TestHandleHealth(t *testing.T) {
	h := newAPIHarness(t)
	w := h.request(t, http.MethodGet, "/v1/contentgraph/health", nil)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, ServiceVersion, resp.Version)
}

func TestHandleReady_RootWorkspaceCreated(t *testing.T) {
	h := newAPIHarness(t)
	w := h.request(t, http.MethodGet, "/v1/contentgraph/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequestIDIsEchoed(t *testing.T) {
	h := newAPIHarness(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/contentgraph/workspaces/nobody", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
}

func TestHandleDimensions(t *testing.T) {
	h := newAPIHarness(t)
	w := h.request(t, http.MethodGet, "/v1/contentgraph/dimensions", nil)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[DimensionsResponse](t, w)
	assert.NotEmpty(t, resp.Hash)
	require.Len(t, resp.Dimensions, 1)
	assert.Len(t, resp.LegalPoints, 2)
}

func TestHandleNodeTypes(t *testing.T) {
	h := newAPIHarness(t)
	w := h.request(t, http.MethodGet, "/v1/contentgraph/nodetypes", nil)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[map[string]map[string]any](t, w)
	assert.Contains(t, resp["nodeTypes"], "Vendor:Page")
	assert.Contains(t, resp["nodeTypes"], "ContentGraph:Root")
}

func TestMetricsEndpoint(t *testing.T) {
	h := newAPIHarness(t)
	w := h.request(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

// -----------------------------------------------------------------------------
// Commands
// -----------------------------------------------------------------------------

func TestHandleCommand_WaitAppliesEvents(t *testing.T) {
	h := newAPIHarness(t)
	h.command(t, "live", "CreateRootNodeAggregateWithNode", map[string]any{
		"nodeAggregateId": "sites",
		"nodeTypeName":    "ContentGraph:Root",
	})
	resp := h.command(t, "live", "CreateNodeAggregateWithNode", page("home", "sites", "home", "Home"))

	assert.True(t, resp.Applied)
	assert.Equal(t, uint64(3), resp.Position.Version)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "NodeAggregateWithNodeWasCreated", string(resp.Events[0]))

	w := h.request(t, http.MethodGet, "/v1/contentgraph/workspaces/live/nodes/home?point="+mulPoint, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	node := decode[NodeResponse](t, w).Node
	require.NotNil(t, node)
	assert.Equal(t, "Vendor:Page", node.NodeTypeName)
	assert.Equal(t, "Home", node.Properties["title"])
}

func TestHandleCommand_WithoutWaitIsAccepted(t *testing.T) {
	h := newAPIHarness(t)
	w := h.request(t, http.MethodPost, "/v1/contentgraph/commands/CreateRootNodeAggregateWithNode",
		map[string]any{"nodeAggregateId": "sites", "nodeTypeName": "ContentGraph:Root"})

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	resp := decode[CommandResponse](t, w)
	assert.False(t, resp.Applied)

	// queries catch up before reading
	w = h.request(t, http.MethodGet, "/v1/contentgraph/workspaces/live/nodes/sites?point="+mulPoint, nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestHandleCommand_Errors(t *testing.T) {
	h := newAPIHarness(t)
	h.seed(t)

	tests := []struct {
		name   string
		path   string
		body   any
		status int
		code   string
	}{
		{
			name:   "unknown command type",
			path:   "/v1/contentgraph/commands/DropEverything",
			body:   map[string]any{},
			status: http.StatusBadRequest,
			code:   "validation",
		},
		{
			name:   "unknown payload field",
			path:   "/v1/contentgraph/commands/RemoveNodeAggregate",
			body:   map[string]any{"nodeAggregateId": "home", "force": true},
			status: http.StatusBadRequest,
			code:   "validation",
		},
		{
			name:   "malformed json",
			path:   "/v1/contentgraph/commands/RemoveNodeAggregate",
			body:   `{"nodeAggregateId":`,
			status: http.StatusBadRequest,
			code:   "validation",
		},
		{
			name:   "bad wait flag",
			path:   "/v1/contentgraph/commands/RemoveNodeAggregate?wait=sometimes",
			body:   map[string]any{"nodeAggregateId": "home"},
			status: http.StatusBadRequest,
			code:   "validation",
		},
		{
			name:   "unknown workspace",
			path:   "/v1/contentgraph/commands/RemoveNodeAggregate?workspace=nowhere",
			body:   map[string]any{"nodeAggregateId": "home"},
			status: http.StatusNotFound,
			code:   codeNotFound,
		},
		{
			name:   "name already occupied",
			path:   "/v1/contentgraph/commands/CreateNodeAggregateWithNode",
			body:   page("home-2", "sites", "home", "Again"),
			status: http.StatusBadRequest,
			code:   "validation",
		},
		{
			name: "constraint violation",
			path: "/v1/contentgraph/commands/CreateNodeAggregateWithNode",
			body: map[string]any{
				"nodeAggregateId":           "teaser",
				"nodeTypeName":              "Vendor:Teaser",
				"originDimensionSpacePoint": map[string]string{"language": "mul"},
				"parentNodeAggregateId":     "home",
			},
			status: http.StatusUnprocessableEntity,
			code:   "invariant",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := h.request(t, http.MethodPost, tt.path, tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			resp := decode[ErrorResponse](t, w)
			assert.Equal(t, tt.code, resp.Code)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

// -----------------------------------------------------------------------------
// Queries
// -----------------------------------------------------------------------------

func TestQueries(t *testing.T) {
	h := newAPIHarness(t)
	h.seed(t)
	h.command(t, "live", "CreateNodeAggregateWithNode", page("about", "home", "about", "About"))
	h.command(t, "live", "CreateNodeAggregateWithNode", page("team", "about", "team", "Team"))
	h.command(t, "live", "CreateNodeAggregateWithNode", map[string]any{
		"nodeAggregateId":           "intro",
		"nodeTypeName":              "Vendor:Text",
		"originDimensionSpacePoint": map[string]string{"language": "mul"},
		"parentNodeAggregateId":     "home",
	})
	h.command(t, "live", "SetNodeReferences", map[string]any{
		"sourceNodeAggregateId":          "about",
		"sourceOriginDimensionSpacePoint": map[string]string{"language": "mul"},
		"referenceName":                   "related",
		"destinationNodeAggregateIds":     []string{"team"},
	})
	base := "/v1/contentgraph/workspaces/live/nodes/"

	t.Run("children", func(t *testing.T) {
		w := h.request(t, http.MethodGet, base+"home/children?point=language=en", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		resp := decode[NodesResponse](t, w)
		assert.Equal(t, 2, resp.Total)
		require.Len(t, resp.Nodes, 2)
		assert.Equal(t, "about", string(resp.Nodes[0].NodeAggregateID))
		assert.Equal(t, "intro", string(resp.Nodes[1].NodeAggregateID))
	})

	t.Run("children filtered and paged", func(t *testing.T) {
		w := h.request(t, http.MethodGet, base+"home/children?point="+mulPoint+"&types=!Vendor:Page", nil)
		require.Equal(t, http.StatusOK, w.Code)
		resp := decode[NodesResponse](t, w)
		assert.Equal(t, 1, resp.Total)
		assert.Equal(t, "intro", string(resp.Nodes[0].NodeAggregateID))

		w = h.request(t, http.MethodGet, base+"home/children?point="+mulPoint+"&limit=1&offset=1", nil)
		resp = decode[NodesResponse](t, w)
		assert.Equal(t, 2, resp.Total)
		require.Len(t, resp.Nodes, 1)
		assert.Equal(t, "intro", string(resp.Nodes[0].NodeAggregateID))
	})

	t.Run("parent", func(t *testing.T) {
		w := h.request(t, http.MethodGet, base+"team/parent?point="+mulPoint, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "about", string(decode[NodeResponse](t, w).Node.NodeAggregateID))

		w = h.request(t, http.MethodGet, base+"sites/parent?point="+mulPoint, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Nil(t, decode[NodeResponse](t, w).Node)
	})

	t.Run("path", func(t *testing.T) {
		w := h.request(t, http.MethodGet, base+"sites/path?path=home/about/team&point="+mulPoint, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "team", string(decode[NodeResponse](t, w).Node.NodeAggregateID))

		w = h.request(t, http.MethodGet, base+"sites/path?path=home/missing&point="+mulPoint, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("subtree depth", func(t *testing.T) {
		w := h.request(t, http.MethodGet, base+"home/subtree?depth=1&point="+mulPoint, nil)
		require.Equal(t, http.StatusOK, w.Code)
		trees := decode[SubtreeResponse](t, w).Subtrees
		require.Len(t, trees, 1)
		assert.Len(t, trees[0].Children, 2)
		for _, child := range trees[0].Children {
			assert.Empty(t, child.Children)
		}
	})

	t.Run("references both ways", func(t *testing.T) {
		w := h.request(t, http.MethodGet, base+"about/references?name=related&point="+mulPoint, nil)
		require.Equal(t, http.StatusOK, w.Code)
		refs := decode[ReferencesResponse](t, w).References
		require.Len(t, refs, 1)
		assert.Equal(t, "team", string(refs[0].Node.NodeAggregateID))

		w = h.request(t, http.MethodGet, base+"team/referencing?point="+mulPoint, nil)
		require.Equal(t, http.StatusOK, w.Code)
		refs = decode[ReferencesResponse](t, w).References
		require.Len(t, refs, 1)
		assert.Equal(t, "about", string(refs[0].Node.NodeAggregateID))
	})

	t.Run("node by node id", func(t *testing.T) {
		w := h.request(t, http.MethodGet, base+"home?point="+mulPoint, nil)
		node := decode[NodeResponse](t, w).Node
		require.NotNil(t, node)

		w = h.request(t, http.MethodGet, "/v1/contentgraph/workspaces/live/occurrences/"+string(node.NodeID)+"?point=language=en", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "home", string(decode[NodeResponse](t, w).Node.NodeAggregateID))
	})

	t.Run("disabled nodes", func(t *testing.T) {
		h.command(t, "live", "DisableNodeAggregate", map[string]any{
			"nodeAggregateId":            "about",
			"coveredDimensionSpacePoint": map[string]string{"language": "mul"},
		})
		w := h.request(t, http.MethodGet, base+"team?point="+mulPoint, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = h.request(t, http.MethodGet, base+"team?includeDisabled=true&point="+mulPoint, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestQueries_Errors(t *testing.T) {
	h := newAPIHarness(t)
	h.seed(t)

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"unknown workspace", "/v1/contentgraph/workspaces/nowhere/nodes/home", http.StatusNotFound},
		{"unknown node", "/v1/contentgraph/workspaces/live/nodes/ghost?point=" + mulPoint, http.StatusNotFound},
		{"point outside the node's coverage", "/v1/contentgraph/workspaces/live/nodes/home", http.StatusNotFound},
		{"malformed point", "/v1/contentgraph/workspaces/live/nodes/home?point=language", http.StatusBadRequest},
		{"malformed limit", "/v1/contentgraph/workspaces/live/nodes/home/children?limit=ten", http.StatusBadRequest},
		{"malformed version", "/v1/contentgraph/workspaces/live/nodes/home?version=-1", http.StatusBadRequest},
		{"malformed id", "/v1/contentgraph/workspaces/live/nodes/NOT%20VALID?point=" + mulPoint, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := h.request(t, http.MethodGet, tt.path, nil)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestQueries_VersionPinned(t *testing.T) {
	h := newAPIHarness(t)
	h.seed(t)
	resp := h.command(t, "live", "CreateNodeAggregateWithNode", page("about", "home", "about", "About"))

	path := "/v1/contentgraph/workspaces/live/nodes/about?point=" + mulPoint
	w := h.request(t, http.MethodGet, path+"&version="+jsonNumber(resp.Position.Version), nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func jsonNumber(v uint64) string {
	raw, _ := json.Marshal(v)
	return string(raw)
}

// -----------------------------------------------------------------------------
// Workspaces
// -----------------------------------------------------------------------------

func TestWorkspaceLifecycle(t *testing.T) {
	h := newAPIHarness(t)
	h.seed(t)

	w := h.request(t, http.MethodPost, "/v1/contentgraph/workspaces", CreateWorkspaceRequest{
		Name: "alice", Kind: workspace.KindPersonal, Base: "live", Owner: "alice",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	ws := decode[workspace.Workspace](t, w)
	assert.Equal(t, "live", ws.BaseWorkspace)

	h.command(t, "alice", "CreateNodeAggregateWithNode", page("blog", "home", "blog", "Blog"))

	blog := "/nodes/blog?point=" + mulPoint
	assert.Equal(t, http.StatusOK, h.request(t, http.MethodGet, "/v1/contentgraph/workspaces/alice"+blog, nil).Code)
	assert.Equal(t, http.StatusNotFound, h.request(t, http.MethodGet, "/v1/contentgraph/workspaces/live"+blog, nil).Code)

	w = h.request(t, http.MethodGet, "/v1/contentgraph/workspaces/alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[workspace.Status](t, w)
	assert.Equal(t, 1, status.PendingCommands)
	assert.False(t, status.Outdated)

	w = h.request(t, http.MethodPost, "/v1/contentgraph/workspaces/alice/publish", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	published := decode[workspace.PublishResult](t, w)
	assert.True(t, published.FastForward)
	assert.Equal(t, 1, published.Events)

	assert.Equal(t, http.StatusOK, h.request(t, http.MethodGet, "/v1/contentgraph/workspaces/live"+blog, nil).Code)

	w = h.request(t, http.MethodGet, "/v1/contentgraph/workspaces/alice/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode[HistoryResponse](t, w).History)

	w = h.request(t, http.MethodGet, "/v1/contentgraph/workspaces", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[WorkspacesResponse](t, w).Workspaces, 2)
}

func TestWorkspaceRebaseAndDiscard(t *testing.T) {
	h := newAPIHarness(t)
	h.seed(t)
	w := h.request(t, http.MethodPost, "/v1/contentgraph/workspaces", CreateWorkspaceRequest{
		Name: "review", Kind: workspace.KindShared, Base: "live",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	h.command(t, "review", "CreateNodeAggregateWithNode", page("draft", "home", "draft", "Draft"))
	h.command(t, "live", "CreateNodeAggregateWithNode", page("news", "home", "news", "News"))

	w = h.request(t, http.MethodPost, "/v1/contentgraph/workspaces/review/rebase", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rebased := decode[workspace.RebaseResult](t, w)
	assert.Equal(t, 1, rebased.Commands)

	news := "/v1/contentgraph/workspaces/review/nodes/news?point=" + mulPoint
	assert.Equal(t, http.StatusOK, h.request(t, http.MethodGet, news, nil).Code)

	w = h.request(t, http.MethodPost, "/v1/contentgraph/workspaces/review/discard", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	draft := "/v1/contentgraph/workspaces/review/nodes/draft?point=" + mulPoint
	assert.Equal(t, http.StatusNotFound, h.request(t, http.MethodGet, draft, nil).Code)
}

func TestWorkspacePublishConflict(t *testing.T) {
	h := newAPIHarness(t)
	h.seed(t)
	w := h.request(t, http.MethodPost, "/v1/contentgraph/workspaces", CreateWorkspaceRequest{
		Name: "carol", Kind: workspace.KindPersonal, Base: "live", Owner: "carol",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	h.command(t, "carol", "CreateNodeAggregateWithNode", page("carol-news", "home", "news", "Carol"))
	h.command(t, "live", "CreateNodeAggregateWithNode", page("live-news", "home", "news", "Live"))

	w = h.request(t, http.MethodPost, "/v1/contentgraph/workspaces/carol/publish", PublishRequest{Target: "live"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	resp := decode[ErrorResponse](t, w)
	assert.Equal(t, "invariant", resp.Code)
	assert.NotEmpty(t, resp.Conflicts)
}

func TestWorkspaceErrors(t *testing.T) {
	h := newAPIHarness(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"missing name", http.MethodPost, "/v1/contentgraph/workspaces", map[string]any{"kind": "shared", "base": "live"}, http.StatusBadRequest},
		{"unknown kind", http.MethodPost, "/v1/contentgraph/workspaces", map[string]any{"name": "x", "kind": "team", "base": "live"}, http.StatusBadRequest},
		{"personal without owner", http.MethodPost, "/v1/contentgraph/workspaces", map[string]any{"name": "x", "kind": "personal", "base": "live"}, http.StatusBadRequest},
		{"duplicate name", http.MethodPost, "/v1/contentgraph/workspaces", map[string]any{"name": "live", "kind": "root"}, http.StatusBadRequest},
		{"unknown base", http.MethodPost, "/v1/contentgraph/workspaces", map[string]any{"name": "x", "kind": "shared", "base": "nowhere"}, http.StatusNotFound},
		{"publish root", http.MethodPost, "/v1/contentgraph/workspaces/live/publish", nil, http.StatusBadRequest},
		{"status of unknown", http.MethodGet, "/v1/contentgraph/workspaces/nowhere", nil, http.StatusNotFound},
		{"rebase unknown", http.MethodPost, "/v1/contentgraph/workspaces/nowhere/rebase", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := h.request(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func TestRateLimit(t *testing.T) {
	h := newAPIHarness(t, func(cfg *config.Config) {
		cfg.HTTP.RateLimit = 0.001
		cfg.HTTP.RateBurst = 1
	})

	first := h.request(t, http.MethodGet, "/v1/contentgraph/health", nil)
	second := h.request(t, http.MethodGet, "/v1/contentgraph/health", nil)
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "rate_limited", decode[ErrorResponse](t, second).Code)

	// /metrics is outside the limited group
	assert.Equal(t, http.StatusOK, h.request(t, http.MethodGet, "/metrics", nil).Code)
}
