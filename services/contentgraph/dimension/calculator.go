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

import (
	"sort"
)

// ComputeLegalCombinations returns every legal dimension space point.
//
// Description:
//
//	Builds the cartesian product of the declared values of every dimension
//	(in declaration order) and drops combinations rejected by
//	cross-dimension constraints. With no valued dimensions the result is
//	the single empty point.
//
// Inputs:
//
//	dims - The dimension configuration.
//
// Outputs:
//
//	PointSet - The legal points.
//	error - ErrInvalidDimensionConfiguration (as *ConfigError) when the
//	        configuration is inconsistent.
//
// Thread Safety: Pure function.
func ComputeLegalCombinations(dims []Dimension) (PointSet, error) {
	compiled, err := compile(dims)
	if err != nil {
		return nil, err
	}
	return legalCombinations(compiled), nil
}

func legalCombinations(dims []*compiledDimension) PointSet {
	partial := []Point{{}}
	for _, d := range dims {
		next := make([]Point, 0, len(partial)*len(d.Values))
		for _, p := range partial {
			for _, v := range d.Values {
				next = append(next, p.With(d.Name, v.Value))
			}
		}
		partial = next
	}

	legal := make(PointSet, len(partial))
	for _, p := range partial {
		if allowed(dims, p) {
			legal.Add(p)
		}
	}
	return legal
}

// ComputeVariationGraph derives the inter-dimensional variation graph.
//
// Description:
//
//	A legal point Q generalizes a legal point P (Q ≠ P) when every
//	coordinate of Q equals or transitively generalizes the coordinate of P.
//	Specializations are the inverse relation. The weight of a point is the
//	sum of its per-dimension specialization depths.
//
//	Generalizations of P are kept in fallback order: ascending relative
//	weight (sum of per-dimension distances from P), ties broken by the
//	first declared dimension whose distance differs (closer wins), then by
//	value declaration order, then by hash. The primary generalization is
//	the first entry.
//
// Inputs:
//
//	dims - The dimension configuration.
//	legal - The legal points, normally from ComputeLegalCombinations.
//
// Outputs:
//
//	*VariationGraph - The graph. Immutable.
//	error - ErrInvalidDimensionConfiguration on an inconsistent configuration.
//
// Thread Safety: Pure function.
func ComputeVariationGraph(dims []Dimension, legal PointSet) (*VariationGraph, error) {
	compiled, err := compile(dims)
	if err != nil {
		return nil, err
	}
	return buildVariationGraph(compiled, legal), nil
}

func buildVariationGraph(dims []*compiledDimension, legal PointSet) *VariationGraph {
	g := &VariationGraph{
		dims:  dims,
		nodes: make(map[string]*variationNode, len(legal)),
	}

	points := legal.Points()
	for _, p := range points {
		weight := 0
		for _, d := range dims {
			weight += d.depth(p[d.Name])
		}
		g.nodes[p.Hash()] = &variationNode{
			point:           p,
			weight:          weight,
			specializations: make(PointSet),
		}
	}

	for _, p := range points {
		pn := g.nodes[p.Hash()]
		for _, q := range points {
			if p.Hash() == q.Hash() || !g.coordinatesGeneralize(q, p) {
				continue
			}
			pn.generalizations = append(pn.generalizations, q)
			g.nodes[q.Hash()].specializations.Add(p)
		}
		sort.SliceStable(pn.generalizations, func(i, j int) bool {
			return g.fallbackLess(p, pn.generalizations[i], pn.generalizations[j])
		})
		if len(pn.generalizations) > 0 {
			pn.primary = pn.generalizations[0]
		}
	}

	return g
}

// coordinatesGeneralize reports whether every coordinate of general is the
// same as or an ancestor of the matching coordinate of special.
func (g *VariationGraph) coordinatesGeneralize(general, special Point) bool {
	for _, d := range g.dims {
		if _, ok := d.distance[special[d.Name]][general[d.Name]]; !ok {
			return false
		}
	}
	return true
}

// relativeWeight sums per-dimension distances from special to general.
func (g *VariationGraph) relativeWeight(special, general Point) int {
	w := 0
	for _, d := range g.dims {
		w += d.distance[special[d.Name]][general[d.Name]]
	}
	return w
}

// fallbackLess orders two generalizations a and b of p.
func (g *VariationGraph) fallbackLess(p, a, b Point) bool {
	wa, wb := g.relativeWeight(p, a), g.relativeWeight(p, b)
	if wa != wb {
		return wa < wb
	}
	for _, d := range g.dims {
		da := d.distance[p[d.Name]][a[d.Name]]
		db := d.distance[p[d.Name]][b[d.Name]]
		if da != db {
			return da < db
		}
	}
	for _, d := range g.dims {
		oa, ob := d.order[a[d.Name]], d.order[b[d.Name]]
		if oa != ob {
			return oa < ob
		}
	}
	return a.Hash() < b.Hash()
}
