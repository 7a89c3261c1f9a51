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
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/contentgraph/services/contentgraph/eventstore"
)

// MemoryRegistry keeps workspaces in memory.
//
// Thread Safety: Safe for concurrent use.
type MemoryRegistry struct {
	mu         sync.RWMutex
	workspaces map[string]Workspace
	history    map[string][]Repoint
	now        func() time.Time
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		workspaces: make(map[string]Workspace),
		history:    make(map[string][]Repoint),
		now:        time.Now,
	}
}

// Create stores a new workspace.
func (r *MemoryRegistry) Create(ctx context.Context, ws Workspace) error {
	if err := ValidateName(ws.Name); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workspaces[ws.Name]; ok {
		return fmt.Errorf("%w: %s", ErrWorkspaceAlreadyExists, ws.Name)
	}
	now := r.now().UTC()
	if ws.CreatedAt.IsZero() {
		ws.CreatedAt = now
	}
	ws.UpdatedAt = now
	r.workspaces[ws.Name] = ws
	r.history[ws.Name] = append(r.history[ws.Name], Repoint{Workspace: ws.Name, New: ws.ContentStreamID, At: now})
	return nil
}

// Get returns one workspace.
func (r *MemoryRegistry) Get(ctx context.Context, name string) (Workspace, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ws, ok := r.workspaces[name]
	if !ok {
		return Workspace{}, fmt.Errorf("%w: %s", ErrWorkspaceNotFound, name)
	}
	return ws, nil
}

// List returns all workspaces sorted by name.
func (r *MemoryRegistry) List(ctx context.Context) ([]Workspace, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Workspace, 0, len(r.workspaces))
	for _, ws := range r.workspaces {
		out = append(out, ws)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// UpdateContentStream swaps the stream pointer if it equals expected.
func (r *MemoryRegistry) UpdateContentStream(ctx context.Context, name string, expected, next eventstore.StreamID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ws, ok := r.workspaces[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorkspaceNotFound, name)
	}
	if ws.ContentStreamID != expected {
		return fmt.Errorf("%w: workspace %s points at %s, expected %s", ErrConcurrencyConflict, name, ws.ContentStreamID, expected)
	}
	now := r.now().UTC()
	ws.ContentStreamID = next
	ws.UpdatedAt = now
	r.workspaces[name] = ws
	r.history[name] = append(r.history[name], Repoint{Workspace: name, Old: expected, New: next, At: now})
	return nil
}

// History lists the pointer changes of a workspace.
func (r *MemoryRegistry) History(ctx context.Context, name string) ([]Repoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.workspaces[name]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkspaceNotFound, name)
	}
	return append([]Repoint(nil), r.history[name]...), nil
}

// Close is a no-op.
func (r *MemoryRegistry) Close() error { return nil }
