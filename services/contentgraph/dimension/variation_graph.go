// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dimension

// VariationGraph is the inter-dimensional variation graph over the legal
// dimension space.
//
// Thread Safety: Immutable after construction; safe for concurrent reads.
// Query results are copies and may be modified by the caller.
type VariationGraph struct {
	dims  []*compiledDimension
	nodes map[string]*variationNode
}

type variationNode struct {
	point           Point
	weight          int
	generalizations []Point // fallback order, self excluded
	specializations PointSet
	primary         Point
}

// Contains reports whether p is a legal point of the graph.
func (g *VariationGraph) Contains(p Point) bool {
	_, ok := g.nodes[p.Hash()]
	return ok
}

// Len returns the number of legal points.
func (g *VariationGraph) Len() int {
	return len(g.nodes)
}

// Points returns all legal points sorted by hash.
func (g *VariationGraph) Points() []Point {
	set := make(PointSet, len(g.nodes))
	for h, n := range g.nodes {
		set[h] = n.point
	}
	return set.Points()
}

// Weight returns the sum of per-dimension specialization depths of p, or
// -1 for unknown points.
func (g *VariationGraph) Weight(p Point) int {
	n, ok := g.nodes[p.Hash()]
	if !ok {
		return -1
	}
	return n.weight
}

// Generalizations returns the strict generalizations of p in fallback
// order. Unknown points have none.
func (g *VariationGraph) Generalizations(p Point) []Point {
	n, ok := g.nodes[p.Hash()]
	if !ok {
		return nil
	}
	out := make([]Point, len(n.generalizations))
	copy(out, n.generalizations)
	return out
}

// Specializations returns the strict specializations of p.
func (g *VariationGraph) Specializations(p Point) PointSet {
	n, ok := g.nodes[p.Hash()]
	if !ok {
		return PointSet{}
	}
	return n.specializations.Clone()
}

// SpecializationsOrSelf returns p together with its specializations.
func (g *VariationGraph) SpecializationsOrSelf(p Point) PointSet {
	n, ok := g.nodes[p.Hash()]
	if !ok {
		return PointSet{}
	}
	out := n.specializations.Clone()
	out.Add(n.point)
	return out
}

// PrimaryGeneralization returns the closest generalization of p.
//
// Outputs:
//
//	Point - The primary generalization.
//	bool - False when p has no generalization or is unknown.
func (g *VariationGraph) PrimaryGeneralization(p Point) (Point, bool) {
	n, ok := g.nodes[p.Hash()]
	if !ok || n.primary == nil {
		return nil, false
	}
	return n.primary, true
}

// IsGeneralizationOf reports whether general strictly generalizes special.
func (g *VariationGraph) IsGeneralizationOf(general, special Point) bool {
	n, ok := g.nodes[special.Hash()]
	if !ok {
		return false
	}
	h := general.Hash()
	for _, q := range n.generalizations {
		if q.Hash() == h {
			return true
		}
	}
	return false
}

// IsSpecializationOf reports whether special strictly specializes general.
func (g *VariationGraph) IsSpecializationOf(special, general Point) bool {
	return g.IsGeneralizationOf(general, special)
}

// FallbackOrder returns p followed by its generalizations in fallback
// order. Unknown points yield nil.
func (g *VariationGraph) FallbackOrder(p Point) []Point {
	n, ok := g.nodes[p.Hash()]
	if !ok {
		return nil
	}
	out := make([]Point, 0, len(n.generalizations)+1)
	out = append(out, n.point)
	return append(out, n.generalizations...)
}

// BestOrigin returns the first point of p's fallback order that is in
// candidates.
func (g *VariationGraph) BestOrigin(p Point, candidates PointSet) (Point, bool) {
	for _, q := range g.FallbackOrder(p) {
		if candidates.Contains(q) {
			return q, true
		}
	}
	return nil, false
}
