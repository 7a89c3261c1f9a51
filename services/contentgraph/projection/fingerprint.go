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
	"encoding/hex"
	"encoding/json"
	"io"
	"sort"
	"strings"

	"lukechampine.com/blake3"
)

// Fingerprint digests the graph's canonical form with blake3.
//
// Description:
//
//	Aggregates are written in id order, occurrences in origin order, and
//	every set in sorted order. Node ids, properties, references, disabled
//	points, parents and child order are all included, so two graphs have
//	the same fingerprint exactly when they answer every query the same
//	way. The stream id and applied version are excluded.
func (g *Graph) Fingerprint() string {
	h := blake3.New(32, nil)
	g.writeCanonical(h)
	return hex.EncodeToString(h.Sum(nil))
}

func (g *Graph) writeCanonical(w io.Writer) {
	line := func(parts ...string) {
		_, _ = io.WriteString(w, strings.Join(parts, "\t"))
		_, _ = io.WriteString(w, "\n")
	}

	for _, id := range g.Aggregates() {
		a := g.aggregates[id]
		line("A", string(a.id), a.typeName, string(a.name), string(a.classification))
		line("D", strings.Join(a.disabled.Hashes(), ";"))

		origins := make([]string, 0, len(a.origins))
		for h := range a.origins {
			origins = append(origins, h)
		}
		sort.Strings(origins)
		for _, originHash := range origins {
			o := g.occurrences[a.origins[originHash]]
			props, _ := json.Marshal(o.properties)
			refs, _ := json.Marshal(o.references)
			line("O", originHash, string(o.id), strings.Join(o.covered.Hashes(), ";"), string(props), string(refs))
		}

		covered := make([]string, 0, len(a.coverage))
		for h := range a.coverage {
			covered = append(covered, h)
		}
		sort.Strings(covered)
		for _, h := range covered {
			key := edgeKey{agg: id, point: h}
			children := make([]string, 0, len(g.children[key]))
			for _, c := range g.children[key] {
				children = append(children, string(c))
			}
			line("E", h, string(g.parents[key]), strings.Join(children, ";"))
		}
	}
}
