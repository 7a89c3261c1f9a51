// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package command

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/contentgraph/pkg/logging"
	"github.com/AleutianAI/contentgraph/services/contentgraph/dimension"
	"github.com/AleutianAI/contentgraph/services/contentgraph/events"
	"github.com/AleutianAI/contentgraph/services/contentgraph/eventstore"
	"github.com/AleutianAI/contentgraph/services/contentgraph/nodetype"
	"github.com/AleutianAI/contentgraph/services/contentgraph/projection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const schemaYAML = `
"Vendor:Content":
  abstract: true
"Vendor:Text":
  superTypes: ["Vendor:Content"]
  properties:
    text: {type: string, default: ""}
"Vendor:Collection":
  constraints: {"*": true}
"Vendor:Page":
  childNodes:
    main:
      type: "Vendor:Collection"
      constraints: {"Vendor:Text": true, "*": false}
  constraints: {"Vendor:Page": true, "Vendor:Text": true, "*": false}
  properties:
    title: {type: string, default: "untitled"}
    views: {type: integer}
"Vendor:Folder":
  constraints: {"Vendor:Page": true, "Vendor:Folder": true, "*": false}
"Vendor:Grid":
  childNodes:
    footer:
      type: "Vendor:Collection"
  constraints: {"*": true}
"Vendor:Landing":
  childNodes:
    main:
      type: "Vendor:Grid"
  constraints: {"*": true}
`

var (
	mul = dimension.Point{"language": "mul"}
	en  = dimension.Point{"language": "en"}
	de  = dimension.Point{"language": "de"}
)

func languages() []dimension.Dimension {
	return []dimension.Dimension{{
		Name:    "language",
		Default: "mul",
		Values: []dimension.Value{
			{Value: "mul"},
			{Value: "en", Generalizations: []string{"mul"}},
			{Value: "de", Generalizations: []string{"mul"}},
		},
	}}
}

type harness struct {
	store   *eventstore.MemoryStore
	proj    *projection.Projection
	handler *Handler
	stream  eventstore.StreamID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	reg := dimension.NewRegistry(logging.Discard())
	_, err := reg.Configure(ctx, languages())
	require.NoError(t, err)

	types, err := nodetype.Parse([]byte(schemaYAML))
	require.NoError(t, err)

	store := eventstore.NewMemoryStore(logging.Discard())
	proj := projection.New(store, projection.Options{
		Dimensions:     reg,
		NodeTypes:      types,
		CatchupTimeout: 2 * time.Second,
		Logger:         logging.Discard(),
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = proj.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = store.Close()
	})

	h, err := NewHandler(Options{
		Store:      store,
		Projection: proj,
		Dimensions: reg,
		NodeTypes:  types,
		Logger:     logging.Discard(),
	})
	require.NoError(t, err)

	hs := &harness{store: store, proj: proj, handler: h, stream: "live"}
	_, err = store.Create(ctx, hs.stream)
	require.NoError(t, err)
	return hs
}

// do handles cmd and waits for the projection to apply it.
func (h *harness) do(t *testing.T, cmd Command) *Result {
	t.Helper()
	res, err := h.try(cmd)
	require.NoError(t, err)
	require.NoError(t, res.Wait(context.Background()))
	return res
}

func (h *harness) try(cmd Command) (*Result, error) {
	return h.handler.Handle(context.Background(), h.stream, cmd)
}

func (h *harness) read(t *testing.T, fn func(g *projection.Graph)) {
	t.Helper()
	err := h.proj.Read(context.Background(), h.stream, func(g *projection.Graph) error {
		fn(g)
		return nil
	})
	require.NoError(t, err)
}

// site creates sites > home (Vendor:Page at mul) with its tethered main.
func (h *harness) site(t *testing.T) {
	t.Helper()
	h.do(t, CreateRootNodeAggregateWithNode{NodeAggregateID: "sites", NodeTypeName: nodetype.RootTypeName})
	h.do(t, CreateNodeAggregateWithNode{
		NodeAggregateID:       "home",
		NodeTypeName:          "Vendor:Page",
		OriginPoint:           mul,
		ParentNodeAggregateID: "sites",
		NodeName:              "home",
	})
}

func mainOf(id events.NodeAggregateID) events.NodeAggregateID {
	return events.TetheredNodeAggregateID(id, "main")
}

// -----------------------------------------------------------------------------
// Creation and variants
// -----------------------------------------------------------------------------

func TestNewHandler_RequiresCollaborators(t *testing.T) {
	_, err := NewHandler(Options{})
	assert.Error(t, err)
}

func TestHandle_CreateRootAndChild(t *testing.T) {
	h := newHarness(t)
	h.site(t)

	h.read(t, func(g *projection.Graph) {
		root, ok := g.Aggregate("sites")
		require.True(t, ok)
		assert.Equal(t, events.ClassificationRoot, root.Classification)
		assert.True(t, root.Covered.Equal(dimension.NewPointSet(mul, en, de)))

		home, ok := g.Aggregate("home")
		require.True(t, ok)
		assert.True(t, home.Covered.Equal(dimension.NewPointSet(mul, en, de)))
		assert.True(t, home.Origins.Equal(dimension.NewPointSet(mul)))

		occ, ok := g.OccurrenceAt("home", mul)
		require.True(t, ok)
		assert.Equal(t, "untitled", occ.Properties["title"])

		main, ok := g.Aggregate(mainOf("home"))
		require.True(t, ok)
		assert.Equal(t, events.ClassificationTethered, main.Classification)
		assert.Equal(t, "Vendor:Collection", main.TypeName)
		assert.True(t, main.Covered.Equal(home.Covered))
	})
}

func TestHandle_ChildVisibleOnlyWhereCovered(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.do(t, CreateRootNodeAggregateWithNode{NodeAggregateID: "sites", NodeTypeName: nodetype.RootTypeName})
	h.do(t, CreateNodeAggregateWithNode{
		NodeAggregateID:       "a",
		NodeTypeName:          "Vendor:Text",
		OriginPoint:           en,
		ParentNodeAggregateID: "sites",
		NodeName:              "a",
	})

	children := func(p dimension.Point) []events.NodeAggregateID {
		sg, err := h.proj.Subgraph(ctx, h.stream, p, projection.Frontend())
		require.NoError(t, err)
		nodes, err := sg.FindChildNodes("sites", nil, 0, 0)
		require.NoError(t, err)
		out := []events.NodeAggregateID{}
		for _, n := range nodes {
			out = append(out, n.NodeAggregateID)
		}
		return out
	}
	assert.Equal(t, []events.NodeAggregateID{"a"}, children(en))
	assert.Empty(t, children(de))
	assert.Empty(t, children(mul))
}

func TestHandle_SpecializationCarriesTethered(t *testing.T) {
	h := newHarness(t)
	h.site(t)

	res := h.do(t, CreateNodeSpecialization{NodeAggregateID: "home", SourceOrigin: mul, TargetOrigin: en})
	require.Len(t, res.Events, 2)
	variant, ok := res.Events[0].(*events.NodeSpecializationVariantWasCreated)
	require.True(t, ok)
	assert.True(t, variant.Coverage.Equal(dimension.NewPointSet(en)))

	h.read(t, func(g *projection.Graph) {
		occ, ok := g.CoveringOccurrence("home", en)
		require.True(t, ok)
		assert.True(t, occ.Origin.Equal(en))

		occ, ok = g.CoveringOccurrence("home", de)
		require.True(t, ok)
		assert.True(t, occ.Origin.Equal(mul))

		_, ok = g.OccurrenceAt(mainOf("home"), en)
		assert.True(t, ok)
	})
}

func TestHandle_GeneralizationAndPeer(t *testing.T) {
	h := newHarness(t)
	h.site(t)
	h.do(t, CreateNodeAggregateWithNode{
		NodeAggregateID:       "news",
		NodeTypeName:          "Vendor:Page",
		OriginPoint:           en,
		ParentNodeAggregateID: "home",
		NodeName:              "news",
	})

	h.do(t, CreateNodePeerVariant{NodeAggregateID: "news", SourceOrigin: en, TargetOrigin: de})
	h.read(t, func(g *projection.Graph) {
		info, _ := g.Aggregate("news")
		assert.True(t, info.Covered.Equal(dimension.NewPointSet(en, de)))
	})

	h.do(t, CreateNodeGeneralization{NodeAggregateID: "news", SourceOrigin: en, TargetOrigin: mul})
	h.read(t, func(g *projection.Graph) {
		info, _ := g.Aggregate("news")
		assert.True(t, info.Covered.Equal(dimension.NewPointSet(mul, en, de)))
		occ, ok := g.CoveringOccurrence("news", en)
		require.True(t, ok)
		assert.True(t, occ.Origin.Equal(en))
	})
}

func TestHandle_MetadataRecordsCommand(t *testing.T) {
	h := newHarness(t)
	h.site(t)

	res, err := h.handler.Handle(context.Background(), h.stream,
		SetNodeProperties{NodeAggregateID: "home", OriginPoint: mul, Properties: map[string]any{"title": "Welcome"}},
		WithCorrelationID("req-1"), WithInitiator("alice"))
	require.NoError(t, err)

	envs, err := eventstore.Collect(h.store.ReadFrom(context.Background(), h.stream, 1))
	require.NoError(t, err)
	last := envs[len(envs)-1]
	assert.Equal(t, res.Position.Version, last.Version)
	assert.Equal(t, string(TypeSetNodeProperties), last.Metadata.CommandType)
	assert.Equal(t, "req-1", last.Metadata.CorrelationID)
	assert.Equal(t, "alice", last.Metadata.Initiator)
	assert.NotEmpty(t, last.Metadata.CommandID)

	// the creation command recorded the generated tethered id
	var create eventstore.Envelope
	for _, env := range envs {
		if env.Metadata.CommandType == string(TypeCreateNodeAggregateWithNode) {
			create = env
			break
		}
	}
	cmd, err := DecodeJSON(TypeCreateNodeAggregateWithNode, create.Metadata.CommandPayload)
	require.NoError(t, err)
	c := cmd.(CreateNodeAggregateWithNode)
	assert.NotEmpty(t, c.NodeID)
	assert.NotEmpty(t, c.TetheredNodeIDs["main"])
}

// -----------------------------------------------------------------------------
// Preconditions
// -----------------------------------------------------------------------------

func TestHandle_Preconditions(t *testing.T) {
	h := newHarness(t)
	h.site(t)
	h.do(t, CreateNodeAggregateWithNode{
		NodeAggregateID: "enonly", NodeTypeName: "Vendor:Page", OriginPoint: en,
		ParentNodeAggregateID: "home", NodeName: "enonly",
	})
	h.do(t, CreateNodeAggregateWithNode{
		NodeAggregateID: "sub", NodeTypeName: "Vendor:Page", OriginPoint: en,
		ParentNodeAggregateID: "enonly", NodeName: "sub",
	})
	h.do(t, CreateNodeAggregateWithNode{
		NodeAggregateID: "folder", NodeTypeName: "Vendor:Folder", OriginPoint: mul,
		ParentNodeAggregateID: "sites", NodeName: "folder",
	})
	h.do(t, CreateNodeSpecialization{NodeAggregateID: "folder", SourceOrigin: mul, TargetOrigin: de})
	h.do(t, DisableNodeAggregate{NodeAggregateID: "sub", CoveredPoint: en})

	page := func(id events.NodeAggregateID, parent events.NodeAggregateID, name events.NodeName) CreateNodeAggregateWithNode {
		return CreateNodeAggregateWithNode{
			NodeAggregateID: id, NodeTypeName: "Vendor:Page", OriginPoint: mul,
			ParentNodeAggregateID: parent, NodeName: name,
		}
	}
	withType := func(c CreateNodeAggregateWithNode, typ string) CreateNodeAggregateWithNode {
		c.NodeTypeName = typ
		return c
	}
	withOrigin := func(c CreateNodeAggregateWithNode, p dimension.Point) CreateNodeAggregateWithNode {
		c.OriginPoint = p
		return c
	}

	tests := []struct {
		name string
		cmd  Command
		want error
		kind ErrorKind
	}{
		{"payload", RemoveNodeAggregate{NodeAggregateID: "Not An ID"}, ErrInvalidCommandPayload, KindValidation},
		{"exists", page("home", "sites", "other"), ErrNodeAggregateAlreadyExists, KindValidation},
		{"unknown type", withType(page("x", "home", "x"), "Vendor:Missing"), ErrNodeTypeNotFound, KindValidation},
		{"abstract", withType(page("x", "home", "x"), "Vendor:Content"), ErrNodeTypeIsAbstract, KindValidation},
		{"root type below parent", withType(page("x", "home", "x"), nodetype.RootTypeName), ErrNodeTypeIsRoot, KindValidation},
		{"non-root type as root", CreateRootNodeAggregateWithNode{NodeAggregateID: "x", NodeTypeName: "Vendor:Page"}, ErrNodeTypeIsNotRoot, KindValidation},
		{"illegal origin", withOrigin(page("x", "home", "x"), dimension.Point{"language": "fr"}), ErrDimensionSpacePointNotLegal, KindValidation},
		{"missing parent", page("x", "nowhere", "x"), ErrNodeAggregateNotFound, KindValidation},
		{"parent not visible", withOrigin(page("x", "enonly", "x"), de), ErrParentNodeNotVisible, KindValidation},
		{"constraint", withType(page("x", "folder", "x"), "Vendor:Text"), ErrNodeTypeConstraintViolation, KindInvariant},
		{"tethered constraint", page("x", mainOf("home"), "x"), ErrNodeTypeConstraintViolation, KindInvariant},
		{"name taken", page("x", "sites", "home"), ErrNodeNameIsAlreadyOccupied, KindValidation},
		{"sibling", func() Command {
			c := page("x", "home", "x")
			c.SucceedingSiblingID = "folder"
			return c
		}(), ErrSucceedingSiblingNotFound, KindValidation},
		{"property type", func() Command {
			c := page("x", "home", "x")
			c.Properties = map[string]any{"title": 5}
			return c
		}(), ErrPropertyTypeMismatch, KindValidation},
		{"no specialization", CreateNodeSpecialization{NodeAggregateID: "enonly", SourceOrigin: en, TargetOrigin: mul}, ErrDimensionSpacePointIsNoSpecialization, KindValidation},
		{"no generalization", CreateNodeGeneralization{NodeAggregateID: "home", SourceOrigin: mul, TargetOrigin: en}, ErrDimensionSpacePointIsNoGeneralization, KindValidation},
		{"no peer", CreateNodePeerVariant{NodeAggregateID: "home", SourceOrigin: mul, TargetOrigin: en}, ErrDimensionSpacePointIsNoPeer, KindValidation},
		{"source not occupied", CreateNodeSpecialization{NodeAggregateID: "home", SourceOrigin: en, TargetOrigin: de}, ErrNodeAggregateDoesNotOccupyPoint, KindValidation},
		{"already occupied", CreateNodeSpecialization{NodeAggregateID: "folder", SourceOrigin: mul, TargetOrigin: de}, ErrNodeOccurrenceAlreadyCoversPoint, KindValidation},
		{"generalization covered", CreateNodeGeneralization{NodeAggregateID: "folder", SourceOrigin: de, TargetOrigin: mul}, ErrNodeOccurrenceAlreadyCoversPoint, KindValidation},
		{"variant parent not visible", CreateNodePeerVariant{NodeAggregateID: "sub", SourceOrigin: en, TargetOrigin: de}, ErrParentNodeNotVisible, KindValidation},
		{"variant of root", CreateNodeSpecialization{NodeAggregateID: "sites", SourceOrigin: dimension.Point{}, TargetOrigin: en}, ErrNodeAggregateIsRoot, KindValidation},
		{"remove root", RemoveNodeAggregate{NodeAggregateID: "sites"}, ErrNodeAggregateIsRoot, KindValidation},
		{"remove tethered", RemoveNodeAggregate{NodeAggregateID: mainOf("home")}, ErrTetheredNodeConstraintViolation, KindInvariant},
		{"remove uncovered", RemoveNodesFromAggregate{NodeAggregateID: "enonly", CoveredPoint: de}, ErrNodeAggregateCurrentlyDoesNotCoverPoint, KindValidation},
		{"disable twice", DisableNodeAggregate{NodeAggregateID: "sub", CoveredPoint: en}, ErrNodeAggregateCurrentlyDisabled, KindValidation},
		{"enable enabled", EnableNodeAggregate{NodeAggregateID: "home", CoveredPoint: en}, ErrNodeAggregateCurrentlyEnabled, KindValidation},
		{"set nothing", SetNodeProperties{NodeAggregateID: "home", OriginPoint: mul}, ErrInvalidCommandPayload, KindValidation},
		{"properties off origin", SetNodeProperties{NodeAggregateID: "home", OriginPoint: en, Properties: map[string]any{"title": "x"}}, ErrNodeAggregateDoesNotOccupyPoint, KindValidation},
		{"reference target", SetNodeReferences{SourceNodeAggregateID: "home", SourceOriginPoint: mul, ReferenceName: "related", Targets: []events.NodeAggregateID{"nowhere"}}, ErrNodeAggregateNotFound, KindValidation},
		{"move into descendant", MoveNodeAggregate{NodeAggregateID: "enonly", NewParentNodeAggregateID: "sub"}, ErrMoveIntoOwnDescendant, KindInvariant},
		{"move into self", MoveNodeAggregate{NodeAggregateID: "enonly", NewParentNodeAggregateID: "enonly"}, ErrMoveIntoOwnDescendant, KindInvariant},
		{"move disallowed", MoveNodeAggregate{NodeAggregateID: "folder", NewParentNodeAggregateID: "home"}, ErrNodeTypeConstraintViolation, KindInvariant},
		{"move tethered", MoveNodeAggregate{NodeAggregateID: mainOf("home"), NewParentNodeAggregateID: "sites"}, ErrTetheredNodeConstraintViolation, KindInvariant},
		{"move root", MoveNodeAggregate{NodeAggregateID: "sites", NewParentNodeAggregateID: "home"}, ErrNodeAggregateIsRoot, KindValidation},
		{"change to abstract", ChangeNodeAggregateType{NodeAggregateID: "home", NewNodeTypeName: "Vendor:Content"}, ErrNodeTypeIsAbstract, KindValidation},
		{"change to root", ChangeNodeAggregateType{NodeAggregateID: "home", NewNodeTypeName: nodetype.RootTypeName}, ErrNodeTypeIsRoot, KindValidation},
		{"change root away", ChangeNodeAggregateType{NodeAggregateID: "sites", NewNodeTypeName: "Vendor:Page"}, ErrNodeTypeIsNotRoot, KindValidation},
		{"change disallowed by parent", ChangeNodeAggregateType{NodeAggregateID: "sub", NewNodeTypeName: "Vendor:Folder"}, ErrNodeTypeConstraintViolation, KindInvariant},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before, err := h.store.Info(context.Background(), h.stream)
			require.NoError(t, err)

			_, err = h.try(tt.cmd)
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.kind, Classify(err))

			after, err := h.store.Info(context.Background(), h.stream)
			require.NoError(t, err)
			assert.Equal(t, before.Version, after.Version, "nothing appended")
		})
	}
}

func TestHandle_ArchivedAndUnknownStreams(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.handler.Handle(ctx, "nowhere", RemoveNodeAggregate{NodeAggregateID: "x"})
	assert.ErrorIs(t, err, eventstore.ErrUnknownContentStream)
	assert.Equal(t, KindValidation, Classify(err))

	require.NoError(t, h.store.Archive(ctx, h.stream))
	_, err = h.try(CreateRootNodeAggregateWithNode{NodeAggregateID: "sites", NodeTypeName: nodetype.RootTypeName})
	assert.ErrorIs(t, err, eventstore.ErrContentStreamArchived)
}

// -----------------------------------------------------------------------------
// Content and structure
// -----------------------------------------------------------------------------

func TestHandle_PropertiesAndReferences(t *testing.T) {
	h := newHarness(t)
	h.site(t)
	h.do(t, CreateNodeAggregateWithNode{
		NodeAggregateID: "about", NodeTypeName: "Vendor:Page", OriginPoint: mul,
		ParentNodeAggregateID: "home", NodeName: "about",
	})

	h.do(t, SetNodeProperties{NodeAggregateID: "home", OriginPoint: mul, Properties: map[string]any{"views": int64(3)}})
	h.do(t, SetNodeProperties{NodeAggregateID: "home", OriginPoint: mul, Unset: []string{"title"}})
	h.do(t, SetNodeReferences{
		SourceNodeAggregateID: "home", SourceOriginPoint: mul,
		ReferenceName: "related", Targets: []events.NodeAggregateID{"about"},
	})

	h.read(t, func(g *projection.Graph) {
		occ, ok := g.OccurrenceAt("home", mul)
		require.True(t, ok)
		assert.EqualValues(t, 3, occ.Properties["views"])
		assert.NotContains(t, occ.Properties, "title")
		assert.Equal(t, []events.NodeAggregateID{"about"}, occ.References["related"])
	})
}

func TestHandle_DisableEnable(t *testing.T) {
	h := newHarness(t)
	h.site(t)

	res := h.do(t, DisableNodeAggregate{NodeAggregateID: "home", CoveredPoint: mul})
	disabled := res.Events[0].(*events.NodeAggregateWasDisabled)
	assert.True(t, disabled.AffectedPoints.Equal(dimension.NewPointSet(mul, en, de)))

	res = h.do(t, EnableNodeAggregate{NodeAggregateID: "home", CoveredPoint: de})
	enabled := res.Events[0].(*events.NodeAggregateWasEnabled)
	assert.True(t, enabled.AffectedPoints.Equal(dimension.NewPointSet(de)))

	h.read(t, func(g *projection.Graph) {
		assert.True(t, g.IsDisabled("home", mul))
		assert.True(t, g.IsDisabled("home", en))
		assert.False(t, g.IsDisabled("home", de))
	})
}

func TestHandle_RemoveCoverageAndAggregate(t *testing.T) {
	h := newHarness(t)
	h.site(t)
	h.do(t, CreateNodeAggregateWithNode{
		NodeAggregateID: "about", NodeTypeName: "Vendor:Page", OriginPoint: mul,
		ParentNodeAggregateID: "home", NodeName: "about",
	})

	h.do(t, RemoveNodesFromAggregate{NodeAggregateID: "about", CoveredPoint: en})
	h.read(t, func(g *projection.Graph) {
		assert.False(t, g.Covers("about", en))
		assert.True(t, g.Covers("about", de))
		assert.False(t, g.Covers(mainOf("about"), en))
	})

	h.do(t, RemoveNodeAggregate{NodeAggregateID: "about"})
	h.read(t, func(g *projection.Graph) {
		assert.False(t, g.HasAggregate("about"))
		assert.False(t, g.HasAggregate(mainOf("about")))
	})
}

func TestHandle_Move(t *testing.T) {
	h := newHarness(t)
	h.site(t)
	for _, id := range []events.NodeAggregateID{"a", "b"} {
		h.do(t, CreateNodeAggregateWithNode{
			NodeAggregateID: id, NodeTypeName: "Vendor:Page", OriginPoint: mul,
			ParentNodeAggregateID: "home", NodeName: events.NodeName(id),
		})
	}

	h.do(t, MoveNodeAggregate{NodeAggregateID: "b", NewParentNodeAggregateID: "a", CoveredPoint: de})
	h.read(t, func(g *projection.Graph) {
		p, _ := g.Parent("b", de)
		assert.Equal(t, events.NodeAggregateID("a"), p)
		p, _ = g.Parent("b", en)
		assert.Equal(t, events.NodeAggregateID("home"), p)
	})

	h.do(t, MoveNodeAggregate{NodeAggregateID: "b", NewParentNodeAggregateID: "home", NewSucceedingSiblingID: "a"})
	h.read(t, func(g *projection.Graph) {
		children := g.Children("home", mul)
		require.Len(t, children, 3)
		assert.Equal(t, events.NodeAggregateID("b"), children[1])
		assert.Equal(t, events.NodeAggregateID("a"), children[2])
	})
}

// -----------------------------------------------------------------------------
// Type changes
// -----------------------------------------------------------------------------

func TestHandle_ChangeType(t *testing.T) {
	setup := func(t *testing.T) *harness {
		h := newHarness(t)
		h.site(t)
		h.do(t, CreateNodeAggregateWithNode{
			NodeAggregateID: "intro", NodeTypeName: "Vendor:Text", OriginPoint: mul,
			ParentNodeAggregateID: "home", NodeName: "intro",
		})
		return h
	}

	t.Run("no strategy conflicts", func(t *testing.T) {
		h := setup(t)
		_, err := h.try(ChangeNodeAggregateType{NodeAggregateID: "home", NewNodeTypeName: "Vendor:Folder"})
		assert.ErrorIs(t, err, ErrNodeTypeConstraintConflict)
		assert.Equal(t, KindInvariant, Classify(err))
	})

	t.Run("no resolution conflicts", func(t *testing.T) {
		h := setup(t)
		_, err := h.try(ChangeNodeAggregateType{
			NodeAggregateID: "home", NewNodeTypeName: "Vendor:Folder", Strategy: StrategyNoResolution,
		})
		assert.ErrorIs(t, err, ErrNodeTypeConstraintConflict)
	})

	t.Run("delete children", func(t *testing.T) {
		h := setup(t)
		h.do(t, CreateNodeSpecialization{NodeAggregateID: "intro", SourceOrigin: mul, TargetOrigin: en})
		h.do(t, ChangeNodeAggregateType{
			NodeAggregateID: "home", NewNodeTypeName: "Vendor:Folder", Strategy: StrategyDeleteChildren,
		})
		h.read(t, func(g *projection.Graph) {
			info, ok := g.Aggregate("home")
			require.True(t, ok)
			assert.Equal(t, "Vendor:Folder", info.TypeName)
			assert.False(t, g.HasAggregate("intro"))
			assert.False(t, g.HasAggregate(mainOf("home")))
			for _, p := range []dimension.Point{mul, en, de} {
				assert.Empty(t, g.Children("home", p))
			}
		})
	})

	t.Run("kept tethered child takes the declared type", func(t *testing.T) {
		h := setup(t)
		h.do(t, CreateNodeAggregateWithNode{
			NodeAggregateID: "body", NodeTypeName: "Vendor:Text", OriginPoint: mul,
			ParentNodeAggregateID: mainOf("home"), NodeName: "body",
		})

		res := h.do(t, ChangeNodeAggregateType{NodeAggregateID: "home", NewNodeTypeName: "Vendor:Landing"})
		var retyped []events.NodeAggregateID
		for _, e := range res.Events {
			if changed, ok := e.(*events.NodeAggregateTypeWasChanged); ok {
				retyped = append(retyped, changed.NodeAggregateID)
			}
		}
		assert.Equal(t, []events.NodeAggregateID{"home", mainOf("home")}, retyped)

		h.read(t, func(g *projection.Graph) {
			main, ok := g.Aggregate(mainOf("home"))
			require.True(t, ok)
			assert.Equal(t, "Vendor:Grid", main.TypeName)

			footer, ok := g.Aggregate(events.TetheredNodeAggregateID(mainOf("home"), "footer"))
			require.True(t, ok)
			assert.Equal(t, events.ClassificationTethered, footer.Classification)
			assert.Equal(t, "Vendor:Collection", footer.TypeName)
			assert.True(t, footer.Covered.Equal(main.Covered))

			assert.True(t, g.HasAggregate("body"))
			assert.True(t, g.HasAggregate("intro"))
		})
	})

	t.Run("no conflict creates tethered", func(t *testing.T) {
		h := newHarness(t)
		h.do(t, CreateRootNodeAggregateWithNode{NodeAggregateID: "sites", NodeTypeName: nodetype.RootTypeName})
		h.do(t, CreateNodeAggregateWithNode{
			NodeAggregateID: "folder", NodeTypeName: "Vendor:Folder", OriginPoint: mul,
			ParentNodeAggregateID: "sites", NodeName: "folder",
		})
		h.do(t, CreateNodeSpecialization{NodeAggregateID: "folder", SourceOrigin: mul, TargetOrigin: de})

		h.do(t, ChangeNodeAggregateType{NodeAggregateID: "folder", NewNodeTypeName: "Vendor:Page"})
		h.read(t, func(g *projection.Graph) {
			main, ok := g.Aggregate(mainOf("folder"))
			require.True(t, ok)
			assert.True(t, main.Origins.Equal(dimension.NewPointSet(mul, de)))
			assert.True(t, main.Covered.Equal(dimension.NewPointSet(mul, en, de)))
		})
	})
}

// -----------------------------------------------------------------------------
// Concurrency
// -----------------------------------------------------------------------------

func TestHandle_RacingCommandsOneWins(t *testing.T) {
	h := newHarness(t)
	h.site(t)

	const racers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
		errs []error
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.try(CreateNodeAggregateWithNode{
				NodeAggregateID:       events.NodeAggregateID("racer-" + string(rune('a'+i))),
				NodeTypeName:          "Vendor:Page",
				OriginPoint:           mul,
				ParentNodeAggregateID: "home",
				NodeName:              "contested",
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
				return
			}
			errs = append(errs, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	for _, err := range errs {
		kind := Classify(err)
		assert.Contains(t, []ErrorKind{KindConcurrency, KindValidation}, kind, err.Error())
	}

	require.NoError(t, h.proj.CatchUp(context.Background(), h.stream))
	h.read(t, func(g *projection.Graph) {
		_, ok := g.ChildByName("home", "contested")
		assert.True(t, ok)
	})
}

// -----------------------------------------------------------------------------
// Decoding and classification
// -----------------------------------------------------------------------------

func TestDecode(t *testing.T) {
	cmd, err := Decode(TypeCreateNodeAggregateWithNode, map[string]any{
		"nodeAggregateId":           "home",
		"nodeTypeName":              "Vendor:Page",
		"originDimensionSpacePoint": map[string]any{"language": "mul"},
		"parentNodeAggregateId":     "sites",
		"initialPropertyValues":     map[string]any{"views": 3, "ratio": 0.5},
	})
	require.NoError(t, err)
	c, ok := cmd.(CreateNodeAggregateWithNode)
	require.True(t, ok)
	assert.Equal(t, events.NodeAggregateID("home"), c.NodeAggregateID)
	assert.True(t, c.OriginPoint.Equal(mul))
	assert.Equal(t, int64(3), c.Properties["views"])
	assert.Equal(t, 0.5, c.Properties["ratio"])

	_, err = Decode("Bogus", nil)
	assert.ErrorIs(t, err, ErrUnknownCommandType)

	_, err = Decode(TypeRemoveNodeAggregate, map[string]any{"nodeAggregateId": "x", "extra": true})
	assert.ErrorIs(t, err, ErrInvalidCommandPayload)

	_, err = Decode(TypeRemoveNodeAggregate, map[string]any{})
	assert.ErrorIs(t, err, ErrInvalidCommandPayload)

	_, err = Decode(TypeChangeNodeAggregateType, map[string]any{
		"nodeAggregateId": "x", "newNodeTypeName": "Vendor:Page", "strategy": "bogus",
	})
	assert.ErrorIs(t, err, ErrInvalidCommandPayload)

	_, err = Decode(TypeCreateNodeAggregateWithNode, map[string]any{
		"nodeAggregateId": "x", "nodeTypeName": "NoNamespace", "parentNodeAggregateId": "sites",
	})
	assert.ErrorIs(t, err, ErrInvalidCommandPayload)
}

func TestDecode_EveryType(t *testing.T) {
	for _, typ := range Types() {
		cmd, ok := newCommand(typ)
		require.True(t, ok, typ)
		assert.Equal(t, typ, cmd.CommandType())

		raw, err := json.Marshal(cmd)
		require.NoError(t, err)
		_, err = DecodeJSON(typ, raw)
		// zero values lack required ids
		assert.ErrorIs(t, err, ErrInvalidCommandPayload, typ)
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrorKind(""), Classify(nil))
	assert.Equal(t, KindConcurrency, Classify(eventstore.ErrConcurrencyConflict))
	assert.Equal(t, KindConcurrency, Classify(projection.ErrProjectionCatchupTimeout))
	assert.Equal(t, KindConcurrency, Classify(context.Canceled))
	assert.Equal(t, KindConsistency, Classify(projection.ErrProjectionHalted))
	assert.Equal(t, KindValidation, Classify(events.ErrMalformedIdentifier))
	assert.Equal(t, KindInternal, Classify(assert.AnError))
	assert.Equal(t, KindInvariant, Classify(kinded{}))
}

type kinded struct{}

func (kinded) Error() string        { return "kinded" }
func (kinded) ErrorKind() ErrorKind { return KindInvariant }
