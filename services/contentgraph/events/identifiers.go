// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

var (
	aggregateIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,63}$`)
	nodeNamePattern    = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,63}$`)
)

// tetheredNamespace seeds the deterministic ids of tethered children.
var tetheredNamespace = uuid.MustParse("6f0e3c52-94a4-4b1d-9d1a-3c1f6f2a7e10")

// ErrMalformedIdentifier is returned for identifiers that do not match
// their required syntax.
var ErrMalformedIdentifier = errors.New("malformed identifier")

// NodeAggregateID identifies a node aggregate within a content stream.
// Lower-case letters, digits and dashes, at most 64 characters; uuids fit.
type NodeAggregateID string

// NewNodeAggregateID returns a random aggregate id.
func NewNodeAggregateID() NodeAggregateID {
	return NodeAggregateID(uuid.NewString())
}

// TetheredNodeAggregateID derives the id of the tethered child name of
// parent. The same inputs always give the same id, in every stream.
func TetheredNodeAggregateID(parent NodeAggregateID, name NodeName) NodeAggregateID {
	return NodeAggregateID(uuid.NewSHA1(tetheredNamespace, []byte(string(parent)+"/"+string(name))).String())
}

// Validate checks the identifier syntax.
func (id NodeAggregateID) Validate() error {
	if !aggregateIDPattern.MatchString(string(id)) {
		return fmt.Errorf("%w: node aggregate id %q", ErrMalformedIdentifier, string(id))
	}
	return nil
}

// String implements fmt.Stringer.
func (id NodeAggregateID) String() string { return string(id) }

// NodeID identifies one node occurrence (an aggregate materialised at an
// origin point). Always a uuid.
type NodeID string

// NewNodeID returns a random occurrence id.
func NewNodeID() NodeID {
	return NodeID(uuid.NewString())
}

// Validate checks that the id is a uuid.
func (id NodeID) Validate() error {
	if _, err := uuid.Parse(string(id)); err != nil {
		return fmt.Errorf("%w: node id %q", ErrMalformedIdentifier, string(id))
	}
	return nil
}

// String implements fmt.Stringer.
func (id NodeID) String() string { return string(id) }

// NodeName is the path segment of a node below its parent.
type NodeName string

// Validate checks the name syntax. The empty name is valid (unnamed node).
func (n NodeName) Validate() error {
	if n == "" {
		return nil
	}
	if !nodeNamePattern.MatchString(string(n)) {
		return fmt.Errorf("%w: node name %q", ErrMalformedIdentifier, string(n))
	}
	return nil
}

// Classification distinguishes how an aggregate came to exist.
type Classification string

// Aggregate classifications.
const (
	ClassificationRoot     Classification = "root"
	ClassificationRegular  Classification = "regular"
	ClassificationTethered Classification = "tethered"
)
