// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package projection

import (
	"context"
	"maps"
	"sort"
	"strings"

	"github.com/AleutianAI/contentgraph/services/contentgraph/dimension"
	"github.com/AleutianAI/contentgraph/services/contentgraph/events"
	"github.com/AleutianAI/contentgraph/services/contentgraph/eventstore"
)

// VisibilityConstraints select which restricted nodes a subgraph shows.
type VisibilityConstraints struct {
	// IncludeDisabled shows disabled aggregates and their descendants.
	IncludeDisabled bool `json:"includeDisabled"`
}

// Frontend hides disabled aggregates and everything below them.
func Frontend() VisibilityConstraints {
	return VisibilityConstraints{}
}

// WithoutRestrictions shows every node.
func WithoutRestrictions() VisibilityConstraints {
	return VisibilityConstraints{IncludeDisabled: true}
}

// NodeTypeFilter restricts results by node type. Entries name types to
// include; entries prefixed with "!" name types to exclude. Inheritance
// applies when the projection has a TypeHierarchy. An empty filter
// matches everything.
type NodeTypeFilter []string

// Node is one node as seen in a subgraph.
type Node struct {
	NodeAggregateID events.NodeAggregateID `json:"nodeAggregateId"`
	NodeID          events.NodeID          `json:"nodeId"`
	NodeTypeName    string                 `json:"nodeTypeName"`
	Name            events.NodeName        `json:"nodeName,omitempty"`
	Classification  events.Classification  `json:"classification"`
	OriginPoint     dimension.Point        `json:"originDimensionSpacePoint"`
	Point           dimension.Point        `json:"dimensionSpacePoint"`
	Properties      map[string]any         `json:"properties"`
	Disabled        bool                   `json:"disabled"`
}

// Subtree is a node with its depth-bounded descendants.
type Subtree struct {
	Node     *Node      `json:"node"`
	Level    int        `json:"level"`
	Children []*Subtree `json:"children"`
}

// Reference is one named edge, reported from the other end.
type Reference struct {
	Name string `json:"name"`
	Node *Node  `json:"node"`
}

// Subgraph is the view of one stream at one point.
//
// Description:
//
//	Every query takes the stream's read lock for its own duration, so one
//	query sees one consistent graph. Not found is reported as nil or
//	empty; only malformed identifiers and halted streams are errors.
//	Queries run under the context the view was created with.
//
// Thread Safety: Safe for concurrent use.
type Subgraph struct {
	ctx        context.Context
	p          *Projection
	stream     eventstore.StreamID
	point      dimension.Point
	pointHash  string
	visibility VisibilityConstraints
}

// Subgraph returns the view of a stream at a point.
//
// Outputs:
//
//	*Subgraph - Query handle. Points outside the legal space yield
//	empty results.
//	error - ErrUnknownContentStream when the store has no such stream.
func (p *Projection) Subgraph(ctx context.Context, stream eventstore.StreamID, point dimension.Point, vis VisibilityConstraints) (*Subgraph, error) {
	if _, err := p.known(ctx, stream); err != nil {
		return nil, err
	}
	if point == nil {
		point = dimension.Point{}
	}
	return &Subgraph{
		ctx:        ctx,
		p:          p,
		stream:     stream,
		point:      point.Clone(),
		pointHash:  point.Hash(),
		visibility: vis,
	}, nil
}

// Stream returns the stream of the view.
func (s *Subgraph) Stream() eventstore.StreamID { return s.stream }

// Point returns the dimension space point of the view.
func (s *Subgraph) Point() dimension.Point { return s.point.Clone() }

// Visibility returns the view's constraints.
func (s *Subgraph) Visibility() VisibilityConstraints { return s.visibility }

func (s *Subgraph) read(fn func(g *Graph) error) error {
	return s.p.Read(s.ctx, s.stream, fn)
}

// visible reports whether the aggregate is shown at the view's point.
func (s *Subgraph) visible(g *Graph, id events.NodeAggregateID) bool {
	a, ok := g.aggregates[id]
	if !ok {
		return false
	}
	if _, ok := a.coverage[s.pointHash]; !ok {
		return false
	}
	if s.visibility.IncludeDisabled {
		return true
	}
	cur := id
	for range len(g.aggregates) {
		ca, ok := g.aggregates[cur]
		if !ok {
			return false
		}
		if _, off := ca.disabled[s.pointHash]; off {
			return false
		}
		parent, ok := g.parents[edgeKey{agg: cur, point: s.pointHash}]
		if !ok {
			return true
		}
		cur = parent
	}
	return false
}

func (s *Subgraph) node(g *Graph, id events.NodeAggregateID) *Node {
	a := g.aggregates[id]
	o := g.occurrences[a.coverage[s.pointHash]]
	_, disabled := a.disabled[s.pointHash]
	props := maps.Clone(o.properties)
	if props == nil {
		props = map[string]any{}
	}
	return &Node{
		NodeAggregateID: a.id,
		NodeID:          o.id,
		NodeTypeName:    a.typeName,
		Name:            a.name,
		Classification:  a.classification,
		OriginPoint:     o.origin.Clone(),
		Point:           s.point.Clone(),
		Properties:      props,
		Disabled:        disabled,
	}
}

func (s *Subgraph) matches(typeName string, filter NodeTypeFilter) bool {
	if len(filter) == 0 {
		return true
	}
	isOf := func(super string) bool {
		if typeName == super {
			return true
		}
		return s.p.opts.NodeTypes != nil && s.p.opts.NodeTypes.IsOfType(typeName, super)
	}
	included, hasPositive := false, false
	for _, entry := range filter {
		if neg, ok := strings.CutPrefix(entry, "!"); ok {
			if isOf(neg) {
				return false
			}
			continue
		}
		hasPositive = true
		if isOf(entry) {
			included = true
		}
	}
	return included || !hasPositive
}

// FindNodeByIdentifier returns the occurrence with the given node id if
// it is the one visible at the view's point.
func (s *Subgraph) FindNodeByIdentifier(id events.NodeID) (*Node, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	var out *Node
	err := s.read(func(g *Graph) error {
		o, ok := g.occurrences[id]
		if !ok {
			return nil
		}
		if _, ok := o.covered[s.pointHash]; !ok || !s.visible(g, o.aggregate) {
			return nil
		}
		out = s.node(g, o.aggregate)
		return nil
	})
	return out, err
}

// FindNodeByNodeAggregateIdentifier returns the aggregate's node at the
// view's point.
func (s *Subgraph) FindNodeByNodeAggregateIdentifier(id events.NodeAggregateID) (*Node, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	var out *Node
	err := s.read(func(g *Graph) error {
		if s.visible(g, id) {
			out = s.node(g, id)
		}
		return nil
	})
	return out, err
}

// FindChildNodes returns the visible children of parent in sibling order.
// A non-positive limit means no limit.
func (s *Subgraph) FindChildNodes(parent events.NodeAggregateID, filter NodeTypeFilter, limit, offset int) ([]*Node, error) {
	if err := parent.Validate(); err != nil {
		return nil, err
	}
	var out []*Node
	err := s.read(func(g *Graph) error {
		children := s.children(g, parent, filter)
		if offset > 0 {
			if offset >= len(children) {
				return nil
			}
			children = children[offset:]
		}
		if limit > 0 && limit < len(children) {
			children = children[:limit]
		}
		out = make([]*Node, 0, len(children))
		for _, id := range children {
			out = append(out, s.node(g, id))
		}
		return nil
	})
	return out, err
}

// CountChildNodes counts the visible children of parent.
func (s *Subgraph) CountChildNodes(parent events.NodeAggregateID, filter NodeTypeFilter) (int, error) {
	if err := parent.Validate(); err != nil {
		return 0, err
	}
	var n int
	err := s.read(func(g *Graph) error {
		n = len(s.children(g, parent, filter))
		return nil
	})
	return n, err
}

func (s *Subgraph) children(g *Graph, parent events.NodeAggregateID, filter NodeTypeFilter) []events.NodeAggregateID {
	if !s.visible(g, parent) {
		return nil
	}
	var out []events.NodeAggregateID
	for _, child := range g.children[edgeKey{agg: parent, point: s.pointHash}] {
		if s.visible(g, child) && s.matches(g.aggregates[child].typeName, filter) {
			out = append(out, child)
		}
	}
	return out
}

// FindParentNode returns the visible parent of child.
func (s *Subgraph) FindParentNode(child events.NodeAggregateID) (*Node, error) {
	if err := child.Validate(); err != nil {
		return nil, err
	}
	var out *Node
	err := s.read(func(g *Graph) error {
		if !s.visible(g, child) {
			return nil
		}
		parent, ok := g.parents[edgeKey{agg: child, point: s.pointHash}]
		if ok && s.visible(g, parent) {
			out = s.node(g, parent)
		}
		return nil
	})
	return out, err
}

// FindNodeByPath resolves a "/"-separated path of node names starting
// below start.
func (s *Subgraph) FindNodeByPath(path string, start events.NodeAggregateID) (*Node, error) {
	if err := start.Validate(); err != nil {
		return nil, err
	}
	var names []events.NodeName
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			continue
		}
		name := events.NodeName(seg)
		if err := name.Validate(); err != nil {
			return nil, err
		}
		names = append(names, name)
	}

	var out *Node
	err := s.read(func(g *Graph) error {
		if !s.visible(g, start) {
			return nil
		}
		cur := start
	segments:
		for _, name := range names {
			for _, child := range g.children[edgeKey{agg: cur, point: s.pointHash}] {
				if g.aggregates[child].name == name && s.visible(g, child) {
					cur = child
					continue segments
				}
			}
			return nil
		}
		out = s.node(g, cur)
		return nil
	})
	return out, err
}

// FindSubtrees returns the subtrees below each visible root, at most
// maxDepth levels deep (negative for unlimited). Descendants not matching
// filter are left out together with everything below them.
func (s *Subgraph) FindSubtrees(roots []events.NodeAggregateID, maxDepth int, filter NodeTypeFilter) ([]*Subtree, error) {
	for _, id := range roots {
		if err := id.Validate(); err != nil {
			return nil, err
		}
	}
	var out []*Subtree
	err := s.read(func(g *Graph) error {
		var build func(id events.NodeAggregateID, level int) *Subtree
		build = func(id events.NodeAggregateID, level int) *Subtree {
			t := &Subtree{Node: s.node(g, id), Level: level, Children: []*Subtree{}}
			if maxDepth >= 0 && level >= maxDepth {
				return t
			}
			for _, child := range s.children(g, id, filter) {
				t.Children = append(t.Children, build(child, level+1))
			}
			return t
		}
		for _, id := range roots {
			if s.visible(g, id) {
				out = append(out, build(id, 0))
			}
		}
		return nil
	})
	return out, err
}

// FindReferencedNodes returns the visible targets of source's references
// named name, or of all references when name is empty. Targets keep the
// order they were set in; names are sorted.
func (s *Subgraph) FindReferencedNodes(source events.NodeAggregateID, name string) ([]Reference, error) {
	if err := source.Validate(); err != nil {
		return nil, err
	}
	var out []Reference
	err := s.read(func(g *Graph) error {
		if !s.visible(g, source) {
			return nil
		}
		o := g.covering(source, s.pointHash)
		names := make([]string, 0, len(o.references))
		for refName := range o.references {
			if name == "" || refName == name {
				names = append(names, refName)
			}
		}
		sort.Strings(names)
		for _, refName := range names {
			for _, target := range o.references[refName] {
				if s.visible(g, target) {
					out = append(out, Reference{Name: refName, Node: s.node(g, target)})
				}
			}
		}
		return nil
	})
	return out, err
}

// FindReferencingNodes returns the visible nodes whose references named
// name (or any name when empty) point at target, sorted by aggregate id
// then reference name.
func (s *Subgraph) FindReferencingNodes(target events.NodeAggregateID, name string) ([]Reference, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	var out []Reference
	err := s.read(func(g *Graph) error {
		if !s.visible(g, target) {
			return nil
		}
		for _, id := range g.Aggregates() {
			if !s.visible(g, id) {
				continue
			}
			o := g.covering(id, s.pointHash)
			names := make([]string, 0, len(o.references))
			for refName, targets := range o.references {
				if name != "" && refName != name {
					continue
				}
				for _, t := range targets {
					if t == target {
						names = append(names, refName)
						break
					}
				}
			}
			sort.Strings(names)
			for _, refName := range names {
				out = append(out, Reference{Name: refName, Node: s.node(g, id)})
			}
		}
		return nil
	})
	return out, err
}
