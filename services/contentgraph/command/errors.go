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
	"errors"

	"github.com/AleutianAI/contentgraph/services/contentgraph/dimension"
	"github.com/AleutianAI/contentgraph/services/contentgraph/events"
	"github.com/AleutianAI/contentgraph/services/contentgraph/eventstore"
	"github.com/AleutianAI/contentgraph/services/contentgraph/nodetype"
	"github.com/AleutianAI/contentgraph/services/contentgraph/projection"
)

// Input errors. The command was rejected before anything was appended and
// may be retried after correction.
var (
	// ErrInvalidCommandPayload is returned by Decode for payloads that do
	// not describe a valid command.
	ErrInvalidCommandPayload = errors.New("invalid command payload")

	// ErrUnknownCommandType is returned by Decode for unknown type names.
	ErrUnknownCommandType = errors.New("unknown command type")

	// ErrNodeAggregateAlreadyExists is returned when a creation command
	// names an aggregate id already used in the stream.
	ErrNodeAggregateAlreadyExists = errors.New("node aggregate already exists")

	// ErrNodeAggregateNotFound is returned when a referenced aggregate does
	// not exist in the stream.
	ErrNodeAggregateNotFound = errors.New("node aggregate not found")

	// ErrNodeAggregateDoesNotOccupyPoint is returned when no occurrence of
	// the aggregate has the given origin.
	ErrNodeAggregateDoesNotOccupyPoint = errors.New("node aggregate does not occupy dimension space point")

	// ErrNodeAggregateCurrentlyDoesNotCoverPoint is returned when the
	// aggregate is not visible at the given point.
	ErrNodeAggregateCurrentlyDoesNotCoverPoint = errors.New("node aggregate currently does not cover dimension space point")

	// ErrNodeAggregateCurrentlyDisabled is returned when disabling an
	// aggregate already disabled at the point.
	ErrNodeAggregateCurrentlyDisabled = errors.New("node aggregate currently disabled")

	// ErrNodeAggregateCurrentlyEnabled is returned when enabling an
	// aggregate not disabled at the point.
	ErrNodeAggregateCurrentlyEnabled = errors.New("node aggregate currently enabled")

	// ErrNodeAggregateIsRoot is returned for operations root aggregates do
	// not support.
	ErrNodeAggregateIsRoot = errors.New("node aggregate is a root")

	// ErrNodeTypeNotFound is the schema provider's error.
	ErrNodeTypeNotFound = nodetype.ErrNodeTypeNotFound

	// ErrPropertyTypeMismatch is the schema provider's error.
	ErrPropertyTypeMismatch = nodetype.ErrPropertyTypeMismatch

	// ErrNodeTypeIsAbstract is returned when creating nodes of an abstract
	// type.
	ErrNodeTypeIsAbstract = errors.New("node type is abstract")

	// ErrNodeTypeIsNotRoot is returned when creating a root aggregate of a
	// type not declared as root.
	ErrNodeTypeIsNotRoot = errors.New("node type is not a root type")

	// ErrNodeTypeIsRoot is returned when creating or converting a non-root
	// aggregate to a root type.
	ErrNodeTypeIsRoot = errors.New("node type is a root type")

	// ErrDimensionSpacePointNotLegal is returned for points outside the
	// configured dimension space.
	ErrDimensionSpacePointNotLegal = errors.New("dimension space point is not legal")

	// ErrDimensionSpacePointIsNoSpecialization is returned when a
	// specialization target does not specialize the source origin.
	ErrDimensionSpacePointIsNoSpecialization = errors.New("dimension space point is no specialization")

	// ErrDimensionSpacePointIsNoGeneralization is returned when a
	// generalization target does not generalize the source origin.
	ErrDimensionSpacePointIsNoGeneralization = errors.New("dimension space point is no generalization")

	// ErrDimensionSpacePointIsNoPeer is returned when a peer variant target
	// is related to the source origin by generalization.
	ErrDimensionSpacePointIsNoPeer = errors.New("dimension space point is no peer")

	// ErrNodeOccurrenceAlreadyCoversPoint is returned when a variant target
	// is already occupied or covered.
	ErrNodeOccurrenceAlreadyCoversPoint = errors.New("node occurrence already covers dimension space point")

	// ErrParentNodeNotVisible is returned when the parent does not cover a
	// point the node would cover.
	ErrParentNodeNotVisible = errors.New("parent node is not visible in dimension space point")

	// ErrNodeNameIsAlreadyOccupied is returned when the parent already has
	// a child of the same name.
	ErrNodeNameIsAlreadyOccupied = errors.New("node name is already occupied")

	// ErrSucceedingSiblingNotFound is returned when the succeeding sibling
	// is not a child of the parent.
	ErrSucceedingSiblingNotFound = errors.New("succeeding sibling is not a child of the parent")
)

// Invariant errors. The caller must change the request, for example pick
// a conflict resolution strategy.
var (
	// ErrNodeTypeConstraintViolation is returned when a parent does not
	// allow a child of the given type.
	ErrNodeTypeConstraintViolation = errors.New("node type constraint violation")

	// ErrNodeTypeConstraintConflict is returned when changing a type would
	// leave existing children disallowed and no strategy resolves it.
	ErrNodeTypeConstraintConflict = errors.New("node type constraint conflict")

	// ErrTetheredNodeConstraintViolation is returned for direct removal
	// or moving of tethered nodes.
	ErrTetheredNodeConstraintViolation = errors.New("tethered node constraint violation")

	// ErrMoveIntoOwnDescendant is returned when the new parent is the
	// aggregate itself or below it.
	ErrMoveIntoOwnDescendant = errors.New("cannot move node aggregate into its own descendant")
)

// ErrorKind is the coarse class of a command failure.
type ErrorKind string

// Error kinds.
const (
	// KindValidation: bad input, safe to retry after correction.
	KindValidation ErrorKind = "validation"

	// KindConcurrency: lost a race, safe to retry after re-reading.
	KindConcurrency ErrorKind = "concurrency"

	// KindInvariant: the request conflicts with domain rules and needs a
	// decision by the caller.
	KindInvariant ErrorKind = "invariant"

	// KindConsistency: the projection is corrupt and halted.
	KindConsistency ErrorKind = "consistency"

	// KindInternal: anything else, such as storage failures.
	KindInternal ErrorKind = "internal"
)

// KindedError is implemented by errors of other packages that know their
// kind, such as workspace rebase conflicts.
type KindedError interface {
	error
	ErrorKind() ErrorKind
}

var (
	validationErrors = []error{
		ErrInvalidCommandPayload, ErrUnknownCommandType,
		ErrNodeAggregateAlreadyExists, ErrNodeAggregateNotFound,
		ErrNodeAggregateDoesNotOccupyPoint, ErrNodeAggregateCurrentlyDoesNotCoverPoint,
		ErrNodeAggregateCurrentlyDisabled, ErrNodeAggregateCurrentlyEnabled,
		ErrNodeAggregateIsRoot, ErrNodeTypeNotFound, ErrPropertyTypeMismatch,
		ErrNodeTypeIsAbstract, ErrNodeTypeIsNotRoot, ErrNodeTypeIsRoot,
		ErrDimensionSpacePointNotLegal, ErrDimensionSpacePointIsNoSpecialization,
		ErrDimensionSpacePointIsNoGeneralization, ErrDimensionSpacePointIsNoPeer,
		ErrNodeOccurrenceAlreadyCoversPoint, ErrParentNodeNotVisible,
		ErrNodeNameIsAlreadyOccupied, ErrSucceedingSiblingNotFound,
		events.ErrMalformedIdentifier, nodetype.ErrInvalidNodeTypeName,
		dimension.ErrMalformedPoint,
		eventstore.ErrUnknownContentStream, eventstore.ErrContentStreamArchived,
		eventstore.ErrInvalidStreamID,
	}

	concurrencyErrors = []error{
		eventstore.ErrConcurrencyConflict,
		projection.ErrProjectionCatchupTimeout,
	}

	invariantErrors = []error{
		ErrNodeTypeConstraintViolation, ErrNodeTypeConstraintConflict,
		ErrTetheredNodeConstraintViolation, ErrMoveIntoOwnDescendant,
	}

	consistencyErrors = []error{
		projection.ErrProjectionConsistency,
		projection.ErrProjectionHalted,
	}
)

// Classify maps an error to its kind. Context cancellation counts as
// concurrency: nothing was appended and the command may be retried.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var kinded KindedError
	if errors.As(err, &kinded) {
		return kinded.ErrorKind()
	}
	for _, group := range []struct {
		kind ErrorKind
		errs []error
	}{
		{KindConsistency, consistencyErrors},
		{KindInvariant, invariantErrors},
		{KindConcurrency, concurrencyErrors},
		{KindValidation, validationErrors},
	} {
		for _, target := range group.errs {
			if errors.Is(err, target) {
				return group.kind
			}
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindConcurrency
	}
	return KindInternal
}
