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
	"sort"

	"github.com/AleutianAI/contentgraph/services/contentgraph/dimension"
	"github.com/AleutianAI/contentgraph/services/contentgraph/events"
)

// check re-validates the covering-set invariants of the touched
// aggregates that still exist.
//
// Description:
//
//	For each aggregate:
//	  - occurrences' covered sets are disjoint and their union is exactly
//	    the aggregate's coverage table;
//	  - every non-root occurrence covers its own origin;
//	  - each covered point is the origin or a specialization of it, when
//	    vg knows both points (points from a different configuration are
//	    not judged);
//	  - restrictions only name covered points;
//	  - a non-root aggregate has exactly one parent at every covered point,
//	    that parent covers the point and lists the aggregate once;
//	  - children listed at a covered point point back and cover it.
//
// Inputs:
//
//	t - Aggregates to check, in any order.
//	vg - Current variation graph, or nil to skip the origin check.
//
// Outputs:
//
//	error - A *violation naming the first offending aggregate.
func (g *Graph) check(t touched, vg *dimension.VariationGraph) error {
	ids := make([]events.NodeAggregateID, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		a, ok := g.aggregates[id]
		if !ok {
			continue
		}
		if err := g.checkAggregate(a, vg); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) checkAggregate(a *aggregate, vg *dimension.VariationGraph) error {
	isRoot := a.classification == events.ClassificationRoot
	seen := make(map[string]events.NodeID, len(a.coverage))

	for originHash, nodeID := range a.origins {
		o, ok := g.occurrences[nodeID]
		if !ok {
			return violationf(a.id, "occurrence %s is missing", nodeID)
		}
		if o.aggregate != a.id || o.origin.Hash() != originHash {
			return violationf(a.id, "occurrence %s is registered under the wrong origin", nodeID)
		}
		if len(o.covered) == 0 {
			return violationf(a.id, "occurrence %s covers nothing", nodeID)
		}
		if !isRoot && !o.covered.Contains(o.origin) {
			return violationf(a.id, "occurrence %s does not cover its origin %s", nodeID, o.origin)
		}
		for h, p := range o.covered {
			if other, dup := seen[h]; dup {
				return violationf(a.id, "point %s covered by %s and %s", p, other, nodeID)
			}
			seen[h] = nodeID
			if a.coverage[h] != nodeID {
				return violationf(a.id, "coverage table disagrees at %s", p)
			}
			if !isRoot && vg != nil && h != originHash &&
				vg.Contains(p) && vg.Contains(o.origin) && !vg.IsGeneralizationOf(o.origin, p) {
				return violationf(a.id, "origin %s does not generalize covered point %s", o.origin, p)
			}
		}
	}
	if len(seen) != len(a.coverage) {
		return violationf(a.id, "coverage table lists %d points, occurrences cover %d", len(a.coverage), len(seen))
	}

	for h, p := range a.disabled {
		if _, ok := a.coverage[h]; !ok {
			return violationf(a.id, "disabled at uncovered point %s", p)
		}
	}

	for h := range a.coverage {
		key := edgeKey{agg: a.id, point: h}
		parent, hasParent := g.parents[key]
		switch {
		case isRoot && hasParent:
			return violationf(a.id, "root aggregate has parent %s at %q", parent, h)
		case !isRoot && !hasParent:
			return violationf(a.id, "no parent at %q", h)
		case hasParent:
			pa, ok := g.aggregates[parent]
			if !ok {
				return violationf(a.id, "parent %s does not exist", parent)
			}
			if _, ok := pa.coverage[h]; !ok {
				return violationf(a.id, "parent %s does not cover %q", parent, h)
			}
			count := 0
			for _, c := range g.children[edgeKey{agg: parent, point: h}] {
				if c == a.id {
					count++
				}
			}
			if count != 1 {
				return violationf(a.id, "listed %d times below %s at %q", count, parent, h)
			}
		}

		for _, child := range g.children[key] {
			ca, ok := g.aggregates[child]
			if !ok {
				return violationf(a.id, "child %s does not exist", child)
			}
			if _, ok := ca.coverage[h]; !ok {
				return violationf(a.id, "child %s does not cover %q", child, h)
			}
			if g.parents[edgeKey{agg: child, point: h}] != a.id {
				return violationf(a.id, "child %s has a different parent at %q", child, h)
			}
		}
	}
	return nil
}
