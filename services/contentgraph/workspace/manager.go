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
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/contentgraph/pkg/logging"
	"github.com/AleutianAI/contentgraph/services/contentgraph/command"
	"github.com/AleutianAI/contentgraph/services/contentgraph/events"
	"github.com/AleutianAI/contentgraph/services/contentgraph/eventstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("contentgraph.workspace")

// Executor runs commands on a stream. *command.Handler implements it.
type Executor interface {
	Handle(ctx context.Context, stream eventstore.StreamID, cmd command.Command, opts ...command.HandleOption) (*command.Result, error)
}

var _ Executor = (*command.Handler)(nil)

// Options wires a Manager.
type Options struct {
	Registry Registry
	Store    eventstore.Store
	Commands Executor
	Logger   *slog.Logger
}

// Manager creates workspaces and moves changes between them.
//
// Thread Safety: Safe for concurrent use. Operations on one workspace race
// on the registry's pointer swap; the loser gets ErrConcurrencyConflict
// and leaves at most an archived, unreferenced stream behind. Publish and
// Rebase archive the workspace's stream before swapping it, so commands
// racing them fail instead of committing to a stream that is dropped.
type Manager struct {
	registry Registry
	store    eventstore.Store
	commands Executor
	logger   *slog.Logger
}

// NewManager creates a Manager.
func NewManager(opts Options) (*Manager, error) {
	switch {
	case opts.Registry == nil:
		return nil, errors.New("workspace manager: registry is required")
	case opts.Store == nil:
		return nil, errors.New("workspace manager: store is required")
	case opts.Commands == nil:
		return nil, errors.New("workspace manager: command executor is required")
	}
	return &Manager{
		registry: opts.Registry,
		store:    opts.Store,
		commands: opts.Commands,
		logger:   logging.Component(opts.Logger, "workspace"),
	}, nil
}

// CreateOption sets optional workspace fields.
type CreateOption func(*Workspace)

// WithTitle sets a human readable title.
func WithTitle(title string) CreateOption {
	return func(ws *Workspace) { ws.Title = title }
}

// WithOwner sets the owner of a shared or root workspace.
func WithOwner(owner string) CreateOption {
	return func(ws *Workspace) { ws.Owner = owner }
}

// observe ends span and counts the operation.
func observe(span trace.Span, op string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = string(Classify(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	operations.WithLabelValues(op, outcome).Inc()
	operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	span.End()
}

// -----------------------------------------------------------------------------
// Creation
// -----------------------------------------------------------------------------

// CreateRootWorkspace creates a workspace on a fresh content stream.
func (m *Manager) CreateRootWorkspace(ctx context.Context, name string, opts ...CreateOption) (ws Workspace, err error) {
	ctx, span := tracer.Start(ctx, "workspace.CreateRoot", trace.WithAttributes(attribute.String("workspace", name)))
	defer func(start time.Time) { observe(span, "create", start, err) }(time.Now())

	if err := m.checkFree(ctx, name); err != nil {
		return Workspace{}, err
	}
	stream := eventstore.NewStreamID()
	info, err := m.store.Create(ctx, stream)
	if err != nil {
		return Workspace{}, err
	}
	if _, err := m.store.Append(ctx, stream, info.Version, []eventstore.Pending{{Event: &events.ContentStreamWasCreated{}}}); err != nil {
		return Workspace{}, err
	}
	ws = Workspace{Name: name, Kind: KindRoot, ContentStreamID: stream}
	return m.register(ctx, ws, opts)
}

// CreatePersonalWorkspace creates a workspace owned by owner on a fork of
// base.
func (m *Manager) CreatePersonalWorkspace(ctx context.Context, name, base, owner string, opts ...CreateOption) (Workspace, error) {
	if owner == "" {
		return Workspace{}, fmt.Errorf("%w: personal workspace %s needs an owner", ErrInvalidWorkspaceName, name)
	}
	return m.createOnBase(ctx, Workspace{Name: name, Kind: KindPersonal, BaseWorkspace: base, Owner: owner}, opts)
}

// CreateSharedWorkspace creates a workspace on a fork of base.
func (m *Manager) CreateSharedWorkspace(ctx context.Context, name, base string, opts ...CreateOption) (Workspace, error) {
	return m.createOnBase(ctx, Workspace{Name: name, Kind: KindShared, BaseWorkspace: base}, opts)
}

func (m *Manager) createOnBase(ctx context.Context, ws Workspace, opts []CreateOption) (_ Workspace, err error) {
	ctx, span := tracer.Start(ctx, "workspace.Create", trace.WithAttributes(
		attribute.String("workspace", ws.Name),
		attribute.String("base", ws.BaseWorkspace),
		attribute.String("kind", string(ws.Kind)),
	))
	defer func(start time.Time) { observe(span, "create", start, err) }(time.Now())

	if err := m.checkFree(ctx, ws.Name); err != nil {
		return Workspace{}, err
	}
	base, err := m.registry.Get(ctx, ws.BaseWorkspace)
	if err != nil {
		return Workspace{}, err
	}
	info, err := m.ForkContentStream(ctx, base.ContentStreamID)
	if err != nil {
		return Workspace{}, err
	}
	ws.ContentStreamID = info.ID
	return m.register(ctx, ws, opts)
}

func (m *Manager) checkFree(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	_, err := m.registry.Get(ctx, name)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", ErrWorkspaceAlreadyExists, name)
	case errors.Is(err, ErrWorkspaceNotFound):
		return nil
	default:
		return err
	}
}

func (m *Manager) register(ctx context.Context, ws Workspace, opts []CreateOption) (Workspace, error) {
	for _, opt := range opts {
		opt(&ws)
	}
	if err := m.registry.Create(ctx, ws); err != nil {
		m.archive(ctx, ws.ContentStreamID)
		return Workspace{}, err
	}
	m.logger.Info("workspace created",
		slog.String("workspace", ws.Name),
		slog.String("kind", string(ws.Kind)),
		slog.String("base", ws.BaseWorkspace),
		slog.String("stream", string(ws.ContentStreamID)))
	return m.registry.Get(ctx, ws.Name)
}

// ForkContentStream forks source at its head into a new stream and
// records the lineage on the new stream.
func (m *Manager) ForkContentStream(ctx context.Context, source eventstore.StreamID) (eventstore.StreamInfo, error) {
	id := eventstore.NewStreamID()
	info, err := m.store.Fork(ctx, source, id)
	if err != nil {
		return eventstore.StreamInfo{}, err
	}
	pos, err := m.store.Append(ctx, id, info.Version, []eventstore.Pending{{
		Event: &events.ContentStreamWasForked{SourceStream: string(source), SourceVersion: info.ForkVersion},
	}})
	if err != nil {
		return eventstore.StreamInfo{}, err
	}
	info.Version = pos.Version
	return info, nil
}

// -----------------------------------------------------------------------------
// Queries
// -----------------------------------------------------------------------------

// Get returns a workspace.
func (m *Manager) Get(ctx context.Context, name string) (Workspace, error) {
	return m.registry.Get(ctx, name)
}

// List returns all workspaces sorted by name.
func (m *Manager) List(ctx context.Context) ([]Workspace, error) {
	return m.registry.List(ctx)
}

// History lists the content streams a workspace pointed at.
func (m *Manager) History(ctx context.Context, name string) ([]Repoint, error) {
	return m.registry.History(ctx, name)
}

// Status describes a workspace relative to its base.
type Status struct {
	Workspace Workspace `json:"workspace"`

	// PendingCommands counts commands not yet published.
	PendingCommands int `json:"pendingCommands"`

	// Outdated is set when the base advanced since the workspace forked.
	Outdated bool `json:"outdated"`
}

// Status reports pending changes and whether a rebase is due.
func (m *Manager) Status(ctx context.Context, name string) (Status, error) {
	ws, err := m.registry.Get(ctx, name)
	if err != nil {
		return Status{}, err
	}
	info, err := m.store.Info(ctx, ws.ContentStreamID)
	if err != nil {
		return Status{}, err
	}
	own, err := m.ownEvents(ctx, info)
	if err != nil {
		return Status{}, err
	}
	st := Status{Workspace: ws, PendingCommands: len(groupCommands(own))}
	if ws.BaseWorkspace == "" {
		return st, nil
	}
	base, err := m.registry.Get(ctx, ws.BaseWorkspace)
	if err != nil {
		return Status{}, err
	}
	baseInfo, err := m.store.Info(ctx, base.ContentStreamID)
	if err != nil {
		return Status{}, err
	}
	st.Outdated = info.Parent != base.ContentStreamID || baseInfo.Version != info.ForkVersion
	return st, nil
}

// -----------------------------------------------------------------------------
// Discard
// -----------------------------------------------------------------------------

// Discard drops unpublished changes by pointing the workspace at a fresh
// fork of its base.
func (m *Manager) Discard(ctx context.Context, name string) (ws Workspace, err error) {
	ctx, span := tracer.Start(ctx, "workspace.Discard", trace.WithAttributes(attribute.String("workspace", name)))
	defer func(start time.Time) { observe(span, "discard", start, err) }(time.Now())

	ws, err = m.registry.Get(ctx, name)
	if err != nil {
		return Workspace{}, err
	}
	base, err := m.base(ctx, ws)
	if err != nil {
		return Workspace{}, err
	}
	fork, err := m.ForkContentStream(ctx, base.ContentStreamID)
	if err != nil {
		return Workspace{}, err
	}
	return m.repoint(ctx, ws, fork.ID)
}

func (m *Manager) base(ctx context.Context, ws Workspace) (Workspace, error) {
	if ws.BaseWorkspace == "" {
		return Workspace{}, fmt.Errorf("%w: %s is a root workspace", ErrWorkspaceBaseMismatch, ws.Name)
	}
	return m.registry.Get(ctx, ws.BaseWorkspace)
}

// repoint swaps ws to next and archives the old stream. On a lost swap
// the new stream is archived instead.
func (m *Manager) repoint(ctx context.Context, ws Workspace, next eventstore.StreamID) (Workspace, error) {
	if err := m.registry.UpdateContentStream(ctx, ws.Name, ws.ContentStreamID, next); err != nil {
		m.archive(ctx, next)
		return Workspace{}, err
	}
	m.archive(ctx, ws.ContentStreamID)
	m.logger.Info("workspace repointed",
		slog.String("workspace", ws.Name),
		slog.String("old", string(ws.ContentStreamID)),
		slog.String("new", string(next)))
	return m.registry.Get(ctx, ws.Name)
}

// archive retires a stream. Failures only leave an unused stream behind.
func (m *Manager) archive(ctx context.Context, id eventstore.StreamID) {
	if err := m.store.Archive(ctx, id); err != nil && !errors.Is(err, eventstore.ErrContentStreamArchived) {
		m.logger.Warn("archiving content stream failed",
			slog.String("stream", string(id)),
			slog.String("error", err.Error()))
	}
}
