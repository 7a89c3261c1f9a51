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
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/AleutianAI/contentgraph/services/contentgraph/command"
	"github.com/AleutianAI/contentgraph/services/contentgraph/events"
	"github.com/AleutianAI/contentgraph/services/contentgraph/eventstore"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// -----------------------------------------------------------------------------
// Own events
// -----------------------------------------------------------------------------

// ownEvents returns the events a stream committed itself, without the
// lineage events.
func (m *Manager) ownEvents(ctx context.Context, info eventstore.StreamInfo) ([]eventstore.Envelope, error) {
	var out []eventstore.Envelope
	for env, err := range m.store.ReadFrom(ctx, info.ID, info.ForkVersion+1) {
		if err != nil {
			return nil, err
		}
		if env.Stream != info.ID || informational(env.Type) {
			continue
		}
		out = append(out, env)
	}
	return out, nil
}

func informational(t events.Type) bool {
	return t == events.TypeContentStreamWasCreated || t == events.TypeContentStreamWasForked
}

// recorded is one command as recorded in event metadata.
type recorded struct {
	meta   eventstore.Metadata
	events []eventstore.Envelope
}

// groupCommands groups envelopes by command id in commit order. Events
// without a command id form a group of their own.
func groupCommands(envs []eventstore.Envelope) []recorded {
	var out []recorded
	index := map[string]int{}
	for _, env := range envs {
		id := env.Metadata.CommandID
		if i, ok := index[id]; ok && id != "" {
			out[i].events = append(out[i].events, env)
			continue
		}
		index[id] = len(out)
		out = append(out, recorded{meta: env.Metadata, events: []eventstore.Envelope{env}})
	}
	return out
}

func affected(envs []eventstore.Envelope) (map[events.NodeAggregateID]bool, error) {
	out := map[events.NodeAggregateID]bool{}
	for _, env := range envs {
		e, err := env.Event()
		if err != nil {
			return nil, err
		}
		for _, id := range e.AffectedAggregates() {
			out[id] = true
		}
	}
	return out, nil
}

// rerun executes recorded commands on stream in order.
func (m *Manager) rerun(ctx context.Context, workspace string, stream eventstore.StreamID, cmds []recorded, op string) error {
	for _, rec := range cmds {
		if rec.meta.CommandID == "" || rec.meta.CommandType == "" {
			return &RebaseConflictError{Workspace: workspace, Conflicts: []Conflict{{
				Reason: fmt.Sprintf("event %s at version %d has no recorded command", rec.events[0].Type, rec.events[0].Version),
			}}}
		}
		cmd, err := command.DecodeJSON(command.Type(rec.meta.CommandType), rec.meta.CommandPayload)
		if err == nil {
			_, err = m.commands.Handle(ctx, stream, cmd,
				command.WithCommandID(rec.meta.CommandID),
				command.WithCorrelationID(rec.meta.CorrelationID),
				command.WithInitiator(rec.meta.Initiator))
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if kind := command.Classify(err); kind == command.KindConsistency || kind == command.KindInternal {
				return err
			}
			return &RebaseConflictError{Workspace: workspace, Conflicts: []Conflict{{
				CommandID:   rec.meta.CommandID,
				CommandType: rec.meta.CommandType,
				Reason:      err.Error(),
			}}}
		}
		rerunCommands.WithLabelValues(op).Inc()
	}
	return nil
}

// seal archives the workspace's stream so that no command commits to it
// while its changes move elsewhere. When commands committed after seen
// the stream is reopened and ErrConcurrencyConflict returned.
func (m *Manager) seal(ctx context.Context, ws Workspace, seen eventstore.StreamInfo) error {
	if err := m.store.Archive(ctx, ws.ContentStreamID); err != nil {
		return err
	}
	after, err := m.store.Info(ctx, ws.ContentStreamID)
	if err != nil {
		m.unseal(ctx, ws)
		return err
	}
	if after.Version != seen.Version {
		m.unseal(ctx, ws)
		return fmt.Errorf("%w: workspace %s committed %d events while its changes were moved",
			ErrConcurrencyConflict, ws.Name, after.Version-seen.Version)
	}
	return nil
}

// unseal makes the workspace's stream writable again.
func (m *Manager) unseal(ctx context.Context, ws Workspace) {
	if err := m.store.Unarchive(context.WithoutCancel(ctx), ws.ContentStreamID); err != nil {
		m.logger.Error("reopening workspace stream failed",
			slog.String("workspace", ws.Name),
			slog.String("stream", string(ws.ContentStreamID)),
			slog.String("error", err.Error()))
	}
}

// copyEvents appends envs to target expecting version expected.
func (m *Manager) copyEvents(ctx context.Context, target eventstore.StreamID, expected uint64, envs []eventstore.Envelope) (eventstore.Position, error) {
	pending := make([]eventstore.Pending, 0, len(envs))
	for _, env := range envs {
		e, err := env.Event()
		if err != nil {
			return eventstore.Position{}, err
		}
		pending = append(pending, eventstore.Pending{Event: e, Metadata: env.Metadata})
	}
	return m.store.Append(ctx, target, expected, pending)
}

// -----------------------------------------------------------------------------
// Publish
// -----------------------------------------------------------------------------

// PublishResult describes a publish.
type PublishResult struct {
	// Workspace is the published workspace, now on a fresh fork of its base.
	Workspace Workspace `json:"workspace"`

	// Target is the head of the target stream after publishing.
	Target eventstore.Position `json:"target"`

	// Events is the number of events published.
	Events int `json:"events"`

	// FastForward is set when events were copied without re-running.
	FastForward bool `json:"fastForward"`
}

// Publish moves the workspace's unpublished changes onto target.
//
// Description:
//
//	target must be the workspace's base or one of the base's ancestors.
//	When the workspace forked from the target's current head, its events
//	are copied as they are. Otherwise the recorded commands are re-run on
//	a fork of the target's head and the fork's events are copied. Either
//	way the final append expects the target version seen at the start, so
//	a concurrent writer fails the publish with ErrConcurrencyConflict.
//	The workspace's stream is archived before the copy; a command that
//	committed to it after its events were read fails the publish with
//	ErrConcurrencyConflict and leaves the workspace as it was. On success
//	the workspace is pointed at a fresh fork of its base.
//
// Outputs:
//
//	PublishResult - The repointed workspace and the target head.
//	error - ErrWorkspaceBaseMismatch, *RebaseConflictError,
//	  ErrConcurrencyConflict or a store error.
func (m *Manager) Publish(ctx context.Context, name, target string) (res PublishResult, err error) {
	ctx, span := tracer.Start(ctx, "workspace.Publish", trace.WithAttributes(
		attribute.String("workspace", name),
		attribute.String("target", target),
	))
	defer func(start time.Time) { observe(span, "publish", start, err) }(time.Now())

	ws, err := m.registry.Get(ctx, name)
	if err != nil {
		return PublishResult{}, err
	}
	tgt, err := m.registry.Get(ctx, target)
	if err != nil {
		return PublishResult{}, err
	}
	if err := m.checkAncestor(ctx, ws, target); err != nil {
		return PublishResult{}, err
	}

	info, err := m.store.Info(ctx, ws.ContentStreamID)
	if err != nil {
		return PublishResult{}, err
	}
	tgtInfo, err := m.store.Info(ctx, tgt.ContentStreamID)
	if err != nil {
		return PublishResult{}, err
	}
	own, err := m.ownEvents(ctx, info)
	if err != nil {
		return PublishResult{}, err
	}
	res = PublishResult{Target: tgtInfo.Head(), Events: len(own)}
	if len(own) == 0 {
		res.Workspace = ws
		return res, nil
	}

	res.FastForward = info.Parent == tgt.ContentStreamID && info.ForkVersion == tgtInfo.Version
	toCopy := own
	if !res.FastForward {
		fork, err := m.ForkContentStream(ctx, tgt.ContentStreamID)
		if err != nil {
			return PublishResult{}, err
		}
		if fork.ForkVersion != tgtInfo.Version {
			m.archive(ctx, fork.ID)
			return PublishResult{}, fmt.Errorf("%w: target %s advanced to %d while publishing", ErrConcurrencyConflict, target, fork.ForkVersion)
		}
		if err := m.rerun(ctx, name, fork.ID, groupCommands(own), "publish"); err != nil {
			m.archive(ctx, fork.ID)
			return PublishResult{}, err
		}
		forkInfo, err := m.store.Info(ctx, fork.ID)
		if err != nil {
			return PublishResult{}, err
		}
		toCopy, err = m.ownEvents(ctx, forkInfo)
		m.archive(ctx, fork.ID)
		if err != nil {
			return PublishResult{}, err
		}
	}

	if err := m.seal(ctx, ws, info); err != nil {
		return PublishResult{}, err
	}
	pos, err := m.copyEvents(ctx, tgt.ContentStreamID, tgtInfo.Version, toCopy)
	if err != nil {
		m.unseal(ctx, ws)
		return PublishResult{}, err
	}
	res.Target = pos
	res.Events = len(toCopy)
	path := "rerun"
	if res.FastForward {
		path = "fast-forward"
	}
	publishedEvents.WithLabelValues(path).Add(float64(len(toCopy)))
	m.logger.Info("workspace published",
		slog.String("workspace", name),
		slog.String("target", target),
		slog.String("path", path),
		slog.Int("events", len(toCopy)),
		slog.Uint64("target_version", pos.Version))

	base, err := m.base(ctx, ws)
	if err != nil {
		return PublishResult{}, err
	}
	fresh, err := m.ForkContentStream(ctx, base.ContentStreamID)
	if err != nil {
		return PublishResult{}, err
	}
	res.Workspace, err = m.repoint(ctx, ws, fresh.ID)
	if err != nil {
		return PublishResult{}, err
	}
	return res, nil
}

// checkAncestor verifies that target is the base of ws or an ancestor of
// the base.
func (m *Manager) checkAncestor(ctx context.Context, ws Workspace, target string) error {
	seen := map[string]bool{ws.Name: true}
	for cur := ws.BaseWorkspace; cur != ""; {
		if cur == target {
			return nil
		}
		if seen[cur] {
			break
		}
		seen[cur] = true
		next, err := m.registry.Get(ctx, cur)
		if err != nil {
			return err
		}
		cur = next.BaseWorkspace
	}
	return fmt.Errorf("%w: %s is not a base of %s", ErrWorkspaceBaseMismatch, target, ws.Name)
}

// -----------------------------------------------------------------------------
// Rebase
// -----------------------------------------------------------------------------

// RebaseResult describes a rebase.
type RebaseResult struct {
	Workspace Workspace `json:"workspace"`

	// Commands is the number of re-run commands.
	Commands int `json:"commands"`

	// UpToDate is set when the workspace already sat on its base's head.
	UpToDate bool `json:"upToDate"`
}

// Rebase re-runs the workspace's commands on top of its base's head.
//
// Description:
//
//	Aggregates changed both by the base since the fork and by the
//	workspace are conflicts, and so is any re-run command that fails.
//	Conflicts are returned as *RebaseConflictError and leave the workspace
//	untouched, and so does a command committing to the workspace while
//	the rebase runs (ErrConcurrencyConflict). On success the workspace
//	points at the new stream and the old one is archived.
func (m *Manager) Rebase(ctx context.Context, name string) (res RebaseResult, err error) {
	ctx, span := tracer.Start(ctx, "workspace.Rebase", trace.WithAttributes(attribute.String("workspace", name)))
	defer func(start time.Time) { observe(span, "rebase", start, err) }(time.Now())

	ws, err := m.registry.Get(ctx, name)
	if err != nil {
		return RebaseResult{}, err
	}
	base, err := m.base(ctx, ws)
	if err != nil {
		return RebaseResult{}, err
	}
	info, err := m.store.Info(ctx, ws.ContentStreamID)
	if err != nil {
		return RebaseResult{}, err
	}
	baseInfo, err := m.store.Info(ctx, base.ContentStreamID)
	if err != nil {
		return RebaseResult{}, err
	}
	if info.Parent == base.ContentStreamID && info.ForkVersion == baseInfo.Version {
		return RebaseResult{Workspace: ws, UpToDate: true}, nil
	}

	own, err := m.ownEvents(ctx, info)
	if err != nil {
		return RebaseResult{}, err
	}
	if conflicts, err := m.overlaps(ctx, info, baseInfo, own); err != nil {
		return RebaseResult{}, err
	} else if len(conflicts) > 0 {
		return RebaseResult{}, &RebaseConflictError{Workspace: name, Conflicts: conflicts}
	}

	fork, err := m.ForkContentStream(ctx, base.ContentStreamID)
	if err != nil {
		return RebaseResult{}, err
	}
	cmds := groupCommands(own)
	if err := m.rerun(ctx, name, fork.ID, cmds, "rebase"); err != nil {
		m.archive(ctx, fork.ID)
		return RebaseResult{}, err
	}
	if err := m.seal(ctx, ws, info); err != nil {
		m.archive(ctx, fork.ID)
		return RebaseResult{}, err
	}
	updated, err := m.repoint(ctx, ws, fork.ID)
	if err != nil {
		return RebaseResult{}, err
	}
	return RebaseResult{Workspace: updated, Commands: len(cmds)}, nil
}

// overlaps reports aggregates the base changed since the workspace forked
// that the workspace changed too.
func (m *Manager) overlaps(ctx context.Context, info, baseInfo eventstore.StreamInfo, own []eventstore.Envelope) ([]Conflict, error) {
	mine, err := affected(own)
	if err != nil {
		return nil, err
	}
	if len(mine) == 0 {
		return nil, nil
	}

	var changed []eventstore.Envelope
	if info.Parent == baseInfo.ID {
		for env, err := range m.store.ReadFrom(ctx, baseInfo.ID, info.ForkVersion+1) {
			if err != nil {
				return nil, err
			}
			changed = append(changed, env)
		}
	} else {
		// the base moved to another stream. Published and re-run events
		// keep their command id, so changes are matched by command.
		known := map[string]bool{}
		for env, err := range m.store.ReadFrom(ctx, info.ID, 1) {
			if err != nil {
				return nil, err
			}
			if env.Version > info.ForkVersion {
				break
			}
			known[changeKey(env)] = true
		}
		for env, err := range m.store.ReadFrom(ctx, baseInfo.ID, 1) {
			if err != nil {
				return nil, err
			}
			if !known[changeKey(env)] {
				changed = append(changed, env)
			}
		}
	}
	theirs, err := affected(changed)
	if err != nil {
		return nil, err
	}

	var both []string
	for id := range mine {
		if theirs[id] {
			both = append(both, string(id))
		}
	}
	if len(both) == 0 {
		return nil, nil
	}
	sort.Strings(both)
	return []Conflict{{
		Aggregates: both,
		Reason:     fmt.Sprintf("%d node aggregates changed in both the workspace and its base", len(both)),
	}}, nil
}

// changeKey identifies the change an event belongs to across streams.
func changeKey(env eventstore.Envelope) string {
	if env.Metadata.CommandID != "" {
		return "cmd:" + env.Metadata.CommandID
	}
	return "evt:" + env.ID
}
