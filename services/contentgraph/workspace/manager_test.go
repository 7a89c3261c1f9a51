// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workspace

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/contentgraph/pkg/logging"
	"github.com/AleutianAI/contentgraph/services/contentgraph/command"
	"github.com/AleutianAI/contentgraph/services/contentgraph/dimension"
	"github.com/AleutianAI/contentgraph/services/contentgraph/events"
	"github.com/AleutianAI/contentgraph/services/contentgraph/eventstore"
	"github.com/AleutianAI/contentgraph/services/contentgraph/nodetype"
	"github.com/AleutianAI/contentgraph/services/contentgraph/projection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const schemaYAML = `
"Vendor:Text":
  properties:
    text: {type: string, default: ""}
"Vendor:Page":
  constraints: {"Vendor:Page": true, "Vendor:Text": true, "*": false}
  properties:
    title: {type: string, default: "untitled"}
`

var mul = dimension.Point{"language": "mul"}

type harness struct {
	store    *eventstore.MemoryStore
	proj     *projection.Projection
	handler  *command.Handler
	registry *MemoryRegistry
	manager  *Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	dims := dimension.NewRegistry(logging.Discard())
	_, err := dims.Configure(ctx, []dimension.Dimension{{
		Name:    "language",
		Default: "mul",
		Values: []dimension.Value{
			{Value: "mul"},
			{Value: "en", Generalizations: []string{"mul"}},
		},
	}})
	require.NoError(t, err)

	types, err := nodetype.Parse([]byte(schemaYAML))
	require.NoError(t, err)

	store := eventstore.NewMemoryStore(logging.Discard())
	proj := projection.New(store, projection.Options{
		Dimensions:     dims,
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

	handler, err := command.NewHandler(command.Options{
		Store:      store,
		Projection: proj,
		Dimensions: dims,
		NodeTypes:  types,
		Logger:     logging.Discard(),
	})
	require.NoError(t, err)

	registry := NewMemoryRegistry()
	manager, err := NewManager(Options{
		Registry: registry,
		Store:    store,
		Commands: handler,
		Logger:   logging.Discard(),
	})
	require.NoError(t, err)

	return &harness{store: store, proj: proj, handler: handler, registry: registry, manager: manager}
}

// live creates the root workspace "live" holding the root aggregate
// "sites" and the page "home".
func (h *harness) live(t *testing.T) Workspace {
	t.Helper()
	ws, err := h.manager.CreateRootWorkspace(context.Background(), "live", WithTitle("Live"))
	require.NoError(t, err)
	h.do(t, "live", command.CreateRootNodeAggregateWithNode{NodeAggregateID: "sites", NodeTypeName: nodetype.RootTypeName})
	h.do(t, "live", page("home", "sites", "home"))
	return ws
}

func (h *harness) stream(t *testing.T, name string) eventstore.StreamID {
	t.Helper()
	ws, err := h.manager.Get(context.Background(), name)
	require.NoError(t, err)
	return ws.ContentStreamID
}

func (h *harness) do(t *testing.T, workspace string, cmd command.Command) {
	t.Helper()
	res, err := h.handler.Handle(context.Background(), h.stream(t, workspace), cmd)
	require.NoError(t, err)
	require.NoError(t, res.Wait(context.Background()))
}

func (h *harness) read(t *testing.T, workspace string, fn func(g *projection.Graph)) {
	t.Helper()
	stream := h.stream(t, workspace)
	require.NoError(t, h.proj.CatchUp(context.Background(), stream))
	err := h.proj.Read(context.Background(), stream, func(g *projection.Graph) error {
		fn(g)
		return nil
	})
	require.NoError(t, err)
}

func page(id, parent, name string) command.CreateNodeAggregateWithNode {
	return command.CreateNodeAggregateWithNode{
		NodeAggregateID:       events.NodeAggregateID(id),
		NodeTypeName:          "Vendor:Page",
		OriginPoint:           mul,
		ParentNodeAggregateID: events.NodeAggregateID(parent),
		NodeName:              events.NodeName(name),
	}
}

func retitle(id, title string) command.SetNodeProperties {
	return command.SetNodeProperties{
		NodeAggregateID: events.NodeAggregateID(id),
		OriginPoint:     mul,
		Properties:      map[string]any{"title": title},
	}
}

// -----------------------------------------------------------------------------
// Creation
// -----------------------------------------------------------------------------

func TestNewManager_RequiresCollaborators(t *testing.T) {
	_, err := NewManager(Options{})
	assert.Error(t, err)
}

func TestManager_Create(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	live := h.live(t)
	assert.Equal(t, KindRoot, live.Kind)
	assert.Equal(t, "Live", live.Title)

	alice, err := h.manager.CreatePersonalWorkspace(ctx, "alice", "live", "alice")
	require.NoError(t, err)
	assert.Equal(t, KindPersonal, alice.Kind)
	assert.NotEqual(t, live.ContentStreamID, alice.ContentStreamID)

	info, err := h.store.Info(ctx, alice.ContentStreamID)
	require.NoError(t, err)
	assert.Equal(t, live.ContentStreamID, info.Parent)

	// the fork sees everything live had at fork time
	h.read(t, "alice", func(g *projection.Graph) {
		assert.True(t, g.HasAggregate("sites"))
		assert.True(t, g.HasAggregate("home"))
	})

	team, err := h.manager.CreateSharedWorkspace(ctx, "team", "live", WithOwner("editors"))
	require.NoError(t, err)
	assert.Equal(t, KindShared, team.Kind)
	assert.Equal(t, "editors", team.Owner)

	_, err = h.manager.CreateSharedWorkspace(ctx, "team", "live")
	assert.ErrorIs(t, err, ErrWorkspaceAlreadyExists)

	_, err = h.manager.CreateSharedWorkspace(ctx, "orphan", "nowhere")
	assert.ErrorIs(t, err, ErrWorkspaceNotFound)

	_, err = h.manager.CreatePersonalWorkspace(ctx, "bob", "live", "")
	assert.Error(t, err)

	_, err = h.manager.CreateRootWorkspace(ctx, "Not Valid")
	assert.ErrorIs(t, err, ErrInvalidWorkspaceName)

	all, err := h.manager.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"alice", "live", "team"}, []string{all[0].Name, all[1].Name, all[2].Name})
}

func TestManager_ForkContentStream(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	live := h.live(t)

	before, err := h.store.Info(ctx, live.ContentStreamID)
	require.NoError(t, err)

	info, err := h.manager.ForkContentStream(ctx, live.ContentStreamID)
	require.NoError(t, err)
	assert.Equal(t, live.ContentStreamID, info.Parent)
	assert.Equal(t, before.Version, info.ForkVersion)
	assert.Equal(t, before.Version+1, info.Version)

	envs, err := eventstore.Collect(h.store.ReadFrom(ctx, info.ID, info.Version))
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, events.TypeContentStreamWasForked, envs[0].Type)

	_, err = h.manager.ForkContentStream(ctx, "missing")
	assert.ErrorIs(t, err, eventstore.ErrUnknownContentStream)
}

// -----------------------------------------------------------------------------
// Publish
// -----------------------------------------------------------------------------

func TestManager_PublishFastForward(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.live(t)
	alice, err := h.manager.CreatePersonalWorkspace(ctx, "alice", "live", "alice")
	require.NoError(t, err)

	h.do(t, "alice", page("about", "sites", "about"))
	h.do(t, "alice", retitle("home", "Welcome"))

	st, err := h.manager.Status(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, st.PendingCommands)
	assert.False(t, st.Outdated)

	res, err := h.manager.Publish(ctx, "alice", "live")
	require.NoError(t, err)
	assert.True(t, res.FastForward)
	assert.Equal(t, 2, res.Events)
	assert.NotEqual(t, alice.ContentStreamID, res.Workspace.ContentStreamID)
	require.NoError(t, h.proj.WaitFor(ctx, res.Target))

	h.read(t, "live", func(g *projection.Graph) {
		assert.True(t, g.HasAggregate("about"))
		occ, ok := g.OccurrenceAt("home", mul)
		require.True(t, ok)
		assert.Equal(t, "Welcome", occ.Properties["title"])
	})
	h.read(t, "alice", func(g *projection.Graph) {
		assert.True(t, g.HasAggregate("about"))
	})

	old, err := h.store.Info(ctx, alice.ContentStreamID)
	require.NoError(t, err)
	assert.True(t, old.Archived)

	st, err = h.manager.Status(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, st.PendingCommands)
	assert.False(t, st.Outdated)

	history, err := h.manager.History(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, alice.ContentStreamID, history[1].Old)
	assert.Equal(t, res.Workspace.ContentStreamID, history[1].New)
}

func TestManager_PublishNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.live(t)
	alice, err := h.manager.CreatePersonalWorkspace(ctx, "alice", "live", "alice")
	require.NoError(t, err)

	res, err := h.manager.Publish(ctx, "alice", "live")
	require.NoError(t, err)
	assert.Zero(t, res.Events)
	assert.Equal(t, alice.ContentStreamID, res.Workspace.ContentStreamID)
}

func TestManager_PublishRerunsOnAdvancedTarget(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.live(t)
	_, err := h.manager.CreatePersonalWorkspace(ctx, "alice", "live", "alice")
	require.NoError(t, err)
	_, err = h.manager.CreatePersonalWorkspace(ctx, "bob", "live", "bob")
	require.NoError(t, err)

	h.do(t, "alice", page("a", "sites", "a"))
	h.do(t, "bob", page("b", "sites", "b"))

	res, err := h.manager.Publish(ctx, "bob", "live")
	require.NoError(t, err)
	assert.True(t, res.FastForward)

	st, err := h.manager.Status(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, st.Outdated)

	res, err = h.manager.Publish(ctx, "alice", "live")
	require.NoError(t, err)
	assert.False(t, res.FastForward)
	assert.Equal(t, 1, res.Events)
	require.NoError(t, h.proj.WaitFor(ctx, res.Target))

	h.read(t, "live", func(g *projection.Graph) {
		assert.ElementsMatch(t, []events.NodeAggregateID{"home", "a", "b"}, g.ChildAggregates("sites"))
	})

	// re-run events keep the recorded command
	envs, err := eventstore.Collect(h.store.ReadFrom(ctx, res.Target.Stream, res.Target.Version))
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, string(command.TypeCreateNodeAggregateWithNode), envs[0].Metadata.CommandType)
}

func TestManager_PublishFailingRerunIsConflict(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.live(t)
	_, err := h.manager.CreatePersonalWorkspace(ctx, "alice", "live", "alice")
	require.NoError(t, err)
	_, err = h.manager.CreatePersonalWorkspace(ctx, "bob", "live", "bob")
	require.NoError(t, err)

	h.do(t, "alice", page("alice-news", "sites", "news"))
	h.do(t, "bob", page("bob-news", "sites", "news"))
	_, err = h.manager.Publish(ctx, "bob", "live")
	require.NoError(t, err)

	before := h.stream(t, "alice")
	_, err = h.manager.Publish(ctx, "alice", "live")
	var conflict *RebaseConflictError
	require.ErrorAs(t, err, &conflict)
	require.Len(t, conflict.Conflicts, 1)
	assert.Equal(t, string(command.TypeCreateNodeAggregateWithNode), conflict.Conflicts[0].CommandType)
	assert.Equal(t, command.KindInvariant, Classify(err))
	assert.Equal(t, before, h.stream(t, "alice"))

	h.read(t, "live", func(g *projection.Graph) {
		assert.False(t, g.HasAggregate("alice-news"))
	})
}

func TestManager_PublishTargetMustBeAncestor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.live(t)
	_, err := h.manager.CreateSharedWorkspace(ctx, "team", "live")
	require.NoError(t, err)
	_, err = h.manager.CreatePersonalWorkspace(ctx, "carol", "team", "carol")
	require.NoError(t, err)
	_, err = h.manager.CreatePersonalWorkspace(ctx, "dave", "live", "dave")
	require.NoError(t, err)

	h.do(t, "carol", page("draft", "sites", "draft"))

	_, err = h.manager.Publish(ctx, "carol", "dave")
	assert.ErrorIs(t, err, ErrWorkspaceBaseMismatch)
	assert.Equal(t, command.KindValidation, Classify(err))

	_, err = h.manager.Publish(ctx, "live", "live")
	assert.ErrorIs(t, err, ErrWorkspaceBaseMismatch)

	// an ancestor of the base is a valid target
	res, err := h.manager.Publish(ctx, "carol", "live")
	require.NoError(t, err)
	assert.False(t, res.FastForward)
	require.NoError(t, h.proj.WaitFor(ctx, res.Target))
	h.read(t, "live", func(g *projection.Graph) {
		assert.True(t, g.HasAggregate("draft"))
	})
	assert.Equal(t, "team", res.Workspace.BaseWorkspace)
}

// racingExecutor runs race once, before the first command the manager
// re-runs.
type racingExecutor struct {
	Executor
	race func(ctx context.Context) error
	once sync.Once
	err  error
}

func (r *racingExecutor) Handle(ctx context.Context, stream eventstore.StreamID, cmd command.Command, opts ...command.HandleOption) (*command.Result, error) {
	r.once.Do(func() { r.err = r.race(ctx) })
	return r.Executor.Handle(ctx, stream, cmd, opts...)
}

// racingManager returns a manager whose re-runs are preceded by race.
func (h *harness) racingManager(t *testing.T, race func(ctx context.Context) error) (*Manager, *racingExecutor) {
	t.Helper()
	racer := &racingExecutor{Executor: h.handler, race: race}
	m, err := NewManager(Options{Registry: h.registry, Store: h.store, Commands: racer, Logger: logging.Discard()})
	require.NoError(t, err)
	return m, racer
}

// commitTo handles cmd on stream directly, the way a client holding the
// stream id would.
func (h *harness) commitTo(stream eventstore.StreamID, cmd command.Command) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		res, err := h.handler.Handle(ctx, stream, cmd)
		if err != nil {
			return err
		}
		return res.Wait(ctx)
	}
}

func TestManager_PublishLosesToConcurrentWriter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	live := h.live(t)
	_, err := h.manager.CreatePersonalWorkspace(ctx, "alice", "live", "alice")
	require.NoError(t, err)
	h.do(t, "alice", page("a", "sites", "a"))
	// live moves on so the publish takes the re-run path
	h.do(t, "live", retitle("home", "Moved"))

	m, racer := h.racingManager(t, h.commitTo(live.ContentStreamID, page("b", "sites", "b")))

	before := h.stream(t, "alice")
	_, err = m.Publish(ctx, "alice", "live")
	require.NoError(t, racer.err)
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
	assert.Equal(t, command.KindConcurrency, Classify(err))
	assert.Equal(t, before, h.stream(t, "alice"))

	h.read(t, "live", func(g *projection.Graph) {
		assert.False(t, g.HasAggregate("a"))
		assert.True(t, g.HasAggregate("b"))
	})

	// the workspace stays writable after the failed publish
	h.do(t, "alice", page("c", "sites", "c"))
	st, err := h.manager.Status(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, st.PendingCommands)
}

func TestManager_PublishKeepsCommandsCommittedMeanwhile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.live(t)
	_, err := h.manager.CreatePersonalWorkspace(ctx, "alice", "live", "alice")
	require.NoError(t, err)
	h.do(t, "alice", page("a", "sites", "a"))
	h.do(t, "live", retitle("home", "Moved"))

	before := h.stream(t, "alice")
	m, racer := h.racingManager(t, h.commitTo(before, page("contact", "sites", "contact")))

	_, err = m.Publish(ctx, "alice", "live")
	require.NoError(t, racer.err)
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
	assert.Equal(t, before, h.stream(t, "alice"))

	info, err := h.store.Info(ctx, before)
	require.NoError(t, err)
	assert.False(t, info.Archived)
	h.read(t, "live", func(g *projection.Graph) {
		assert.False(t, g.HasAggregate("a"))
	})
	h.read(t, "alice", func(g *projection.Graph) {
		assert.True(t, g.HasAggregate("contact"))
	})

	res, err := h.manager.Publish(ctx, "alice", "live")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Events)
	require.NoError(t, h.proj.WaitFor(ctx, res.Target))
	h.read(t, "live", func(g *projection.Graph) {
		assert.True(t, g.HasAggregate("a"))
		assert.True(t, g.HasAggregate("contact"))
	})
}

// -----------------------------------------------------------------------------
// Rebase and discard
// -----------------------------------------------------------------------------

func TestManager_Rebase(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.live(t)
	_, err := h.manager.CreatePersonalWorkspace(ctx, "alice", "live", "alice")
	require.NoError(t, err)

	res, err := h.manager.Rebase(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, res.UpToDate)

	h.do(t, "alice", page("a", "sites", "a"))
	h.do(t, "live", page("b", "sites", "b"))

	old := h.stream(t, "alice")
	res, err = h.manager.Rebase(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, res.UpToDate)
	assert.Equal(t, 1, res.Commands)
	assert.NotEqual(t, old, res.Workspace.ContentStreamID)

	h.read(t, "alice", func(g *projection.Graph) {
		assert.True(t, g.HasAggregate("a"))
		assert.True(t, g.HasAggregate("b"))
	})

	st, err := h.manager.Status(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, st.Outdated)
	assert.Equal(t, 1, st.PendingCommands)

	info, err := h.store.Info(ctx, old)
	require.NoError(t, err)
	assert.True(t, info.Archived)

	// the rebased workspace publishes on the fast path
	pub, err := h.manager.Publish(ctx, "alice", "live")
	require.NoError(t, err)
	assert.True(t, pub.FastForward)
}

func TestManager_RebaseOverlapIsConflict(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.live(t)
	_, err := h.manager.CreatePersonalWorkspace(ctx, "alice", "live", "alice")
	require.NoError(t, err)

	h.do(t, "alice", retitle("home", "Alice"))
	h.do(t, "live", retitle("home", "Live"))

	before := h.stream(t, "alice")
	_, err = h.manager.Rebase(ctx, "alice")
	var conflict *RebaseConflictError
	require.True(t, errors.As(err, &conflict))
	assert.ErrorIs(t, err, ErrRebaseConflict)
	assert.Equal(t, "alice", conflict.Workspace)
	require.Len(t, conflict.Conflicts, 1)
	assert.Equal(t, []string{"home"}, conflict.Conflicts[0].Aggregates)
	assert.Equal(t, command.KindInvariant, Classify(err))

	assert.Equal(t, before, h.stream(t, "alice"))
	h.read(t, "alice", func(g *projection.Graph) {
		occ, ok := g.OccurrenceAt("home", mul)
		require.True(t, ok)
		assert.Equal(t, "Alice", occ.Properties["title"])
	})
}

func TestManager_RebaseKeepsCommandsCommittedMeanwhile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.live(t)
	_, err := h.manager.CreatePersonalWorkspace(ctx, "alice", "live", "alice")
	require.NoError(t, err)
	h.do(t, "alice", page("a", "sites", "a"))
	h.do(t, "live", page("b", "sites", "b"))

	before := h.stream(t, "alice")
	m, racer := h.racingManager(t, h.commitTo(before, page("contact", "sites", "contact")))

	_, err = m.Rebase(ctx, "alice")
	require.NoError(t, racer.err)
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
	assert.Equal(t, command.KindConcurrency, Classify(err))
	assert.Equal(t, before, h.stream(t, "alice"))

	info, err := h.store.Info(ctx, before)
	require.NoError(t, err)
	assert.False(t, info.Archived)
	h.read(t, "alice", func(g *projection.Graph) {
		assert.True(t, g.HasAggregate("contact"))
		assert.False(t, g.HasAggregate("b"))
	})

	res, err := h.manager.Rebase(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Commands)
	h.read(t, "alice", func(g *projection.Graph) {
		assert.True(t, g.HasAggregate("a"))
		assert.True(t, g.HasAggregate("b"))
		assert.True(t, g.HasAggregate("contact"))
	})
}

func TestManager_RebaseAfterSharedBasePublished(t *testing.T) {
	tests := []struct {
		name        string
		liveMoves   bool
		fastForward bool
	}{
		{name: "fast-forward publish", fastForward: true},
		{name: "re-run publish", liveMoves: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			h.live(t)
			_, err := h.manager.CreateSharedWorkspace(ctx, "team", "live")
			require.NoError(t, err)
			h.do(t, "team", page("draft", "sites", "draft"))
			_, err = h.manager.CreatePersonalWorkspace(ctx, "carol", "team", "carol")
			require.NoError(t, err)
			h.do(t, "carol", retitle("draft", "Carol"))
			if tt.liveMoves {
				h.do(t, "live", page("b", "sites", "b"))
			}

			pub, err := h.manager.Publish(ctx, "team", "live")
			require.NoError(t, err)
			assert.Equal(t, tt.fastForward, pub.FastForward)

			st, err := h.manager.Status(ctx, "carol")
			require.NoError(t, err)
			assert.True(t, st.Outdated)

			res, err := h.manager.Rebase(ctx, "carol")
			require.NoError(t, err)
			assert.Equal(t, 1, res.Commands)
			h.read(t, "carol", func(g *projection.Graph) {
				occ, ok := g.OccurrenceAt("draft", mul)
				require.True(t, ok)
				assert.Equal(t, "Carol", occ.Properties["title"])
				assert.Equal(t, tt.liveMoves, g.HasAggregate("b"))
			})
		})
	}
}

func TestManager_RebaseRoot(t *testing.T) {
	h := newHarness(t)
	h.live(t)
	_, err := h.manager.Rebase(context.Background(), "live")
	assert.ErrorIs(t, err, ErrWorkspaceBaseMismatch)

	_, err = h.manager.Rebase(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrWorkspaceNotFound)
}

func TestManager_Discard(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.live(t)
	_, err := h.manager.CreatePersonalWorkspace(ctx, "alice", "live", "alice")
	require.NoError(t, err)
	h.do(t, "alice", page("scratch", "sites", "scratch"))

	old := h.stream(t, "alice")
	ws, err := h.manager.Discard(ctx, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, old, ws.ContentStreamID)

	h.read(t, "alice", func(g *projection.Graph) {
		assert.False(t, g.HasAggregate("scratch"))
		assert.True(t, g.HasAggregate("home"))
	})

	st, err := h.manager.Status(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, st.PendingCommands)

	_, err = h.manager.Discard(ctx, "live")
	assert.ErrorIs(t, err, ErrWorkspaceBaseMismatch)
}
