// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dimension models content dimensions and the dimension space they
// span.
//
// A Dimension declares a finite set of values, a default, and variation
// edges from specialized to generalized values. The calculator derives the
// legal combinations of values (dimension space points) and the
// inter-dimensional variation graph used for fallback resolution.
//
// Everything derived from one configuration is bundled in an immutable
// Snapshot. The Registry publishes the current Snapshot through an atomic
// pointer; readers call Current() once per operation and keep using that
// snapshot even if a reload swaps in a new one meanwhile.
package dimension

import (
	"fmt"
)

// WildcardConstraint is the key in a constraint map that applies to every
// value of the constrained dimension without a specific entry.
const WildcardConstraint = "*"

// Dimension is one content dimension, for example "language".
//
// A dimension without values takes no part in the dimension space: it is
// absent from every point.
type Dimension struct {
	Name    string  `yaml:"name" json:"name"`
	Default string  `yaml:"default" json:"default"`
	Values  []Value `yaml:"values" json:"values"`
}

// Value is one allowed value of a dimension.
type Value struct {
	Value string `yaml:"value" json:"value"`

	// Generalizations lists the values this value falls back to.
	Generalizations []string `yaml:"generalizations,omitempty" json:"generalizations,omitempty"`

	// Constraints restricts which values of other dimensions may co-occur
	// with this one: {otherDimension: {"*": false, "en": true}}. Specific
	// entries override the wildcard; no wildcard means allowed.
	Constraints map[string]map[string]bool `yaml:"constraints,omitempty" json:"constraints,omitempty"`
}

// compiledDimension is a validated Dimension with precomputed lookups.
type compiledDimension struct {
	Dimension

	// order is the declaration index of each value.
	order map[string]int

	// decls maps a value to its declaration.
	decls map[string]*Value

	// distance[v][a] is the shortest number of generalization steps from v
	// to a. distance[v][v] == 0.
	distance map[string]map[string]int
}

func (d *compiledDimension) depth(value string) int {
	return d.distance[value][d.Default]
}

// compile validates the configuration and precomputes per-dimension
// lookups. Dimensions without values are dropped.
func compile(dims []Dimension) ([]*compiledDimension, error) {
	seen := make(map[string]bool, len(dims))
	out := make([]*compiledDimension, 0, len(dims))

	for i := range dims {
		d := dims[i]
		if d.Name == "" {
			return nil, &ConfigError{Reason: fmt.Sprintf("dimension #%d has no name", i)}
		}
		if seen[d.Name] {
			return nil, &ConfigError{Dimension: d.Name, Reason: "declared twice"}
		}
		seen[d.Name] = true

		if len(d.Values) == 0 {
			continue
		}

		cd, err := compileDimension(d)
		if err != nil {
			return nil, err
		}
		out = append(out, cd)
	}

	if err := validateConstraints(out); err != nil {
		return nil, err
	}
	return out, nil
}

func compileDimension(d Dimension) (*compiledDimension, error) {
	cd := &compiledDimension{
		Dimension: d,
		order:     make(map[string]int, len(d.Values)),
		decls:     make(map[string]*Value, len(d.Values)),
		distance:  make(map[string]map[string]int, len(d.Values)),
	}

	for i := range d.Values {
		v := &d.Values[i]
		if v.Value == "" {
			return nil, &ConfigError{Dimension: d.Name, Reason: fmt.Sprintf("value #%d is empty", i)}
		}
		if _, dup := cd.order[v.Value]; dup {
			return nil, &ConfigError{Dimension: d.Name, Value: v.Value, Reason: "declared twice"}
		}
		cd.order[v.Value] = i
		cd.decls[v.Value] = v
	}

	if _, ok := cd.order[d.Default]; !ok {
		return nil, &ConfigError{Dimension: d.Name, Value: d.Default, Reason: "default is not one of the declared values"}
	}

	for _, v := range d.Values {
		for _, g := range v.Generalizations {
			if _, ok := cd.order[g]; !ok {
				return nil, &ConfigError{Dimension: d.Name, Value: v.Value, Reason: fmt.Sprintf("generalization %q is not a declared value", g)}
			}
			if g == v.Value {
				return nil, &ConfigError{Dimension: d.Name, Value: v.Value, Reason: "value generalizes to itself"}
			}
		}
	}

	if cycle := findCycle(cd); cycle != "" {
		return nil, &ConfigError{Dimension: d.Name, Value: cycle, Reason: "variation graph is cyclic"}
	}

	for _, v := range d.Values {
		cd.distance[v.Value] = shortestDistances(cd, v.Value)
	}

	for _, v := range d.Values {
		if _, ok := cd.distance[v.Value][d.Default]; !ok {
			return nil, &ConfigError{Dimension: d.Name, Value: v.Value, Reason: "value has no generalization path to the default"}
		}
	}

	return cd, nil
}

// findCycle returns a value on a cycle, or "" when the edges form a DAG.
func findCycle(cd *compiledDimension) string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(cd.order))

	var visit func(v string) string
	visit = func(v string) string {
		color[v] = grey
		for _, g := range cd.decls[v].Generalizations {
			switch color[g] {
			case grey:
				return g
			case white:
				if c := visit(g); c != "" {
					return c
				}
			}
		}
		color[v] = black
		return ""
	}

	for _, v := range cd.Values {
		if color[v.Value] == white {
			if c := visit(v.Value); c != "" {
				return c
			}
		}
	}
	return ""
}

// shortestDistances runs a BFS along generalization edges from start.
func shortestDistances(cd *compiledDimension, start string) map[string]int {
	dist := map[string]int{start: 0}
	queue := []string{start}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		for _, g := range cd.decls[v].Generalizations {
			if _, ok := dist[g]; ok {
				continue
			}
			dist[g] = dist[v] + 1
			queue = append(queue, g)
		}
	}
	return dist
}

func validateConstraints(dims []*compiledDimension) error {
	byName := make(map[string]*compiledDimension, len(dims))
	for _, d := range dims {
		byName[d.Name] = d
	}

	for _, d := range dims {
		for _, v := range d.Values {
			for other, rules := range v.Constraints {
				od, ok := byName[other]
				if !ok {
					return &ConfigError{Dimension: d.Name, Value: v.Value, Reason: fmt.Sprintf("constraint references unknown dimension %q", other)}
				}
				if od == d {
					return &ConfigError{Dimension: d.Name, Value: v.Value, Reason: "constraint references its own dimension"}
				}
				for ov := range rules {
					if ov == WildcardConstraint {
						continue
					}
					if _, ok := od.order[ov]; !ok {
						return &ConfigError{Dimension: d.Name, Value: v.Value, Reason: fmt.Sprintf("constraint references unknown value %q of %q", ov, other)}
					}
				}
			}
		}
	}
	return nil
}

// allowed reports whether the point satisfies every cross-dimension
// constraint declared by its coordinates.
func allowed(dims []*compiledDimension, p Point) bool {
	for _, d := range dims {
		decl := d.decls[p[d.Name]]
		if decl == nil {
			return false
		}
		for other, rules := range decl.Constraints {
			ov, present := p[other]
			if !present {
				continue
			}
			if ok, specific := rules[ov]; specific {
				if !ok {
					return false
				}
				continue
			}
			if ok, wildcard := rules[WildcardConstraint]; wildcard && !ok {
				return false
			}
		}
	}
	return true
}
