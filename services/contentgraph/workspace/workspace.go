// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workspace maps workspace names to content streams and moves
// changes between them by forking, publishing and rebasing.
//
// Content streams never change once committed; a workspace's stream
// pointer is the only mutable state and is updated with compare-and-swap.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/AleutianAI/contentgraph/services/contentgraph/command"
	"github.com/AleutianAI/contentgraph/services/contentgraph/eventstore"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrWorkspaceAlreadyExists is returned when creating a taken name.
	ErrWorkspaceAlreadyExists = errors.New("workspace already exists")

	// ErrWorkspaceNotFound is returned for unknown workspace names.
	ErrWorkspaceNotFound = errors.New("workspace not found")

	// ErrInvalidWorkspaceName is returned for names that cannot be stored.
	ErrInvalidWorkspaceName = errors.New("invalid workspace name")

	// ErrWorkspaceBaseMismatch is returned when a publish target is neither
	// the base nor an ancestor of the workspace, or for operations that
	// need a base on a root workspace.
	ErrWorkspaceBaseMismatch = errors.New("workspace base mismatch")

	// ErrRebaseConflict is wrapped by RebaseConflictError.
	ErrRebaseConflict = errors.New("rebase conflict")

	// ErrConcurrencyConflict is returned when a workspace pointer or a
	// target stream moved during an operation. It is the event store's
	// sentinel so callers retry both the same way.
	ErrConcurrencyConflict = eventstore.ErrConcurrencyConflict
)

// Conflict is one reason a rebase or publish could not be applied.
type Conflict struct {
	CommandID   string   `json:"commandId,omitempty"`
	CommandType string   `json:"commandType,omitempty"`
	Aggregates  []string `json:"aggregates,omitempty"`
	Reason      string   `json:"reason"`
}

// RebaseConflictError lists the conflicts that stopped a rebase or a
// publish through re-running commands. Nothing was repointed.
type RebaseConflictError struct {
	Workspace string
	Conflicts []Conflict
}

func (e *RebaseConflictError) Error() string {
	if len(e.Conflicts) == 1 {
		return fmt.Sprintf("%s: workspace %s: %s", ErrRebaseConflict, e.Workspace, e.Conflicts[0].Reason)
	}
	return fmt.Sprintf("%s: workspace %s: %d conflicts", ErrRebaseConflict, e.Workspace, len(e.Conflicts))
}

// Unwrap returns ErrRebaseConflict.
func (e *RebaseConflictError) Unwrap() error { return ErrRebaseConflict }

// ErrorKind reports conflicts as invariant failures: the caller has to
// decide how to resolve them.
func (e *RebaseConflictError) ErrorKind() command.ErrorKind { return command.KindInvariant }

var _ command.KindedError = (*RebaseConflictError)(nil)

// Classify extends command.Classify with the workspace errors.
func Classify(err error) command.ErrorKind {
	for _, target := range []error{
		ErrWorkspaceAlreadyExists, ErrWorkspaceNotFound,
		ErrInvalidWorkspaceName, ErrWorkspaceBaseMismatch,
	} {
		if errors.Is(err, target) {
			return command.KindValidation
		}
	}
	return command.Classify(err)
}

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,63}$`)

// ValidateName checks a workspace name.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidWorkspaceName, name)
	}
	return nil
}

// Kind tells how a workspace was created.
type Kind string

// Workspace kinds.
const (
	KindRoot     Kind = "root"
	KindPersonal Kind = "personal"
	KindShared   Kind = "shared"
)

// Workspace is a named pointer to a content stream.
type Workspace struct {
	Name            string              `json:"name"`
	Kind            Kind                `json:"kind"`
	BaseWorkspace   string              `json:"baseWorkspace,omitempty"`
	ContentStreamID eventstore.StreamID `json:"contentStreamId"`
	Owner           string              `json:"owner,omitempty"`
	Title           string              `json:"title,omitempty"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
}

// Repoint records one change of a workspace's content stream.
type Repoint struct {
	Workspace string              `json:"workspace"`
	Old       eventstore.StreamID `json:"old,omitempty"`
	New       eventstore.StreamID `json:"new"`
	At        time.Time           `json:"at"`
}

// Registry stores workspaces.
//
// Thread Safety: Implementations are safe for concurrent use.
type Registry interface {
	// Create stores a new workspace. Returns ErrWorkspaceAlreadyExists
	// for a taken name.
	Create(ctx context.Context, ws Workspace) error

	// Get returns one workspace or ErrWorkspaceNotFound.
	Get(ctx context.Context, name string) (Workspace, error)

	// List returns all workspaces sorted by name.
	List(ctx context.Context) ([]Workspace, error)

	// UpdateContentStream points name at next if it currently points at
	// expected. Returns ErrConcurrencyConflict otherwise.
	UpdateContentStream(ctx context.Context, name string, expected, next eventstore.StreamID) error

	// History lists the pointer changes of a workspace, oldest first.
	History(ctx context.Context, name string) ([]Repoint, error)

	// Close releases resources.
	Close() error
}
