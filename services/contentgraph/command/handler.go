// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package command validates intended changes against the projected graph,
// the dimension space and the node type schema, and appends the resulting
// events to a content stream.
//
// Every handler is a decision over one consistent read of the stream's
// graph at version V followed by an append expecting V. A concurrent writer
// makes the append fail with eventstore.ErrConcurrencyConflict; nothing is
// ever partially appended.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/contentgraph/pkg/logging"
	"github.com/AleutianAI/contentgraph/services/contentgraph/dimension"
	"github.com/AleutianAI/contentgraph/services/contentgraph/events"
	"github.com/AleutianAI/contentgraph/services/contentgraph/eventstore"
	"github.com/AleutianAI/contentgraph/services/contentgraph/nodetype"
	"github.com/AleutianAI/contentgraph/services/contentgraph/projection"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// NodeTypeProvider answers the schema questions handlers ask.
// *nodetype.Manager implements it.
type NodeTypeProvider interface {
	Has(name string) bool
	IsAbstract(name string) bool
	IsRoot(name string) bool
	IsOfType(name, super string) bool
	AllowsChild(parent, child string) bool
	AllowsGrandchild(parent, tetheredName, grandchild string) bool
	TetheredChildren(name string) []nodetype.TetheredChild
	DefaultProperties(name string) map[string]any
	ValidateProperties(name string, props map[string]any) error
}

var _ NodeTypeProvider = (*nodetype.Manager)(nil)

// Options wires a Handler to its collaborators. All fields but Logger are
// required.
type Options struct {
	Store      eventstore.Store
	Projection *projection.Projection
	Dimensions *dimension.Registry
	NodeTypes  NodeTypeProvider
	Logger     *slog.Logger
}

// Handler executes commands.
//
// Thread Safety: Safe for concurrent use. Commands on the same stream race
// on the append; commands on different streams are independent.
type Handler struct {
	store  eventstore.Store
	proj   *projection.Projection
	dims   *dimension.Registry
	types  NodeTypeProvider
	logger *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(opts Options) (*Handler, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.New("command handler: store is required")
	case opts.Projection == nil:
		return nil, errors.New("command handler: projection is required")
	case opts.Dimensions == nil:
		return nil, errors.New("command handler: dimension registry is required")
	case opts.NodeTypes == nil:
		return nil, errors.New("command handler: node types are required")
	}
	return &Handler{
		store:  opts.Store,
		proj:   opts.Projection,
		dims:   opts.Dimensions,
		types:  opts.NodeTypes,
		logger: logging.Component(opts.Logger, "command"),
	}, nil
}

// HandleOption sets metadata recorded with the events of one command.
type HandleOption func(*eventstore.Metadata)

// WithCorrelationID records a caller supplied correlation id.
func WithCorrelationID(id string) HandleOption {
	return func(m *eventstore.Metadata) { m.CorrelationID = id }
}

// WithInitiator records who issued the command.
func WithInitiator(initiator string) HandleOption {
	return func(m *eventstore.Metadata) { m.Initiator = initiator }
}

// WithCommandID keeps the id of a command that is re-run on another
// stream, so both copies are recognised as the same change.
func WithCommandID(id string) HandleOption {
	return func(m *eventstore.Metadata) {
		if id != "" {
			m.CommandID = id
		}
	}
}

// Result is the outcome of a successful command.
type Result struct {
	// Position is the position of the last appended event.
	Position eventstore.Position `json:"position"`

	// Events are the appended events in order.
	Events []events.Event `json:"-"`

	// Command is the executed command with generated ids filled in.
	Command Command `json:"-"`

	proj *projection.Projection
}

// Wait blocks until the projection has applied the command's events.
func (r *Result) Wait(ctx context.Context) error {
	return r.proj.WaitFor(ctx, r.Position)
}

// Handle validates cmd against the stream and appends its events.
//
// Description:
//
//	Waits until the projection reached the stream's head, decides on the
//	events under one read of the graph at version V and appends them with
//	expected version V. The command, with generated identifiers filled in,
//	is recorded in every event's metadata so workspaces can re-run it.
//
// Inputs:
//
//	ctx - Cancellation before the append leaves the stream untouched.
//	stream - Target content stream.
//	cmd - One of the command types of this package, passed by value.
//	opts - Metadata options.
//
// Outputs:
//
//	*Result - Position and events on success.
//	error - A typed error; see Classify. Nothing was appended.
func (h *Handler) Handle(ctx context.Context, stream eventstore.StreamID, cmd Command, opts ...HandleOption) (*Result, error) {
	if cmd == nil {
		return nil, fmt.Errorf("%w: nil command", ErrInvalidCommandPayload)
	}
	ctx, span := tracer.Start(ctx, "command.Handle",
		trace.WithAttributes(
			attribute.String("command", string(cmd.CommandType())),
			attribute.String("stream", string(stream)),
		),
	)
	defer span.End()

	start := time.Now()
	res, err := h.handle(ctx, stream, cmd, opts)
	recordOutcome(cmd.CommandType(), start, err)
	if err != nil {
		kind := Classify(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		level := slog.LevelDebug
		if kind == KindConsistency || kind == KindInternal {
			level = slog.LevelError
		}
		h.logger.Log(ctx, level, "command rejected",
			slog.String("command", string(cmd.CommandType())),
			slog.String("stream", string(stream)),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()))
		return nil, err
	}

	span.SetAttributes(
		attribute.Int64("version", int64(res.Position.Version)),
		attribute.Int("events", len(res.Events)),
	)
	h.logger.Debug("command handled",
		slog.String("command", string(cmd.CommandType())),
		slog.String("stream", string(stream)),
		slog.Uint64("version", res.Position.Version),
		slog.Int("events", len(res.Events)))
	return res, nil
}

func (h *Handler) handle(ctx context.Context, stream eventstore.StreamID, cmd Command, opts []HandleOption) (*Result, error) {
	if err := stream.Validate(); err != nil {
		return nil, err
	}
	if err := validate.Struct(cmd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCommandPayload, err)
	}

	info, err := h.store.Info(ctx, stream)
	if err != nil {
		return nil, err
	}
	if info.Archived {
		return nil, fmt.Errorf("%w: %s", eventstore.ErrContentStreamArchived, stream)
	}
	if err := h.proj.WaitFor(ctx, info.Head()); err != nil {
		return nil, err
	}

	cmd = cmd.withGeneratedIDs()
	snap := h.dims.Current()

	var (
		decided []events.Event
		version uint64
	)
	err = h.proj.Read(ctx, stream, func(g *projection.Graph) error {
		version = g.Version()
		d := &decider{g: g, snap: snap, vg: snap.Graph(), types: h.types}
		var err error
		decided, err = d.decide(cmd)
		return err
	})
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode command: %w", err)
	}
	meta := eventstore.Metadata{
		CommandID:      uuid.NewString(),
		CommandType:    string(cmd.CommandType()),
		CommandPayload: payload,
	}
	for _, opt := range opts {
		opt(&meta)
	}
	pending := make([]eventstore.Pending, 0, len(decided))
	for _, e := range decided {
		pending = append(pending, eventstore.Pending{Event: e, Metadata: meta})
	}

	pos, err := h.store.Append(ctx, stream, version, pending)
	if err != nil {
		return nil, err
	}
	return &Result{Position: pos, Events: decided, Command: cmd, proj: h.proj}, nil
}
