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
	"encoding/json"
	"sort"
	"strings"
)

// Point is a dimension space point: one value per configured dimension.
//
// A Point is a value type in spirit. Methods that derive new points copy
// the map; callers must not mutate a Point after handing it to a PointSet
// or an event.
type Point map[string]string

// Hash returns the canonical identity of the point: "dim=value" pairs
// sorted by dimension name and joined by ",". The empty point hashes to "".
func (p Point) Hash() string {
	if len(p) == 0 {
		return ""
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(p[k])
	}
	return b.String()
}

// String renders the point for logs and error messages.
func (p Point) String() string {
	return "{" + p.Hash() + "}"
}

// Equal reports whether both points have the same coordinates.
func (p Point) Equal(other Point) bool {
	if len(p) != len(other) {
		return false
	}
	for k, v := range p {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// With returns a copy of the point with one coordinate replaced.
func (p Point) With(dimension, value string) Point {
	out := make(Point, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	out[dimension] = value
	return out
}

// Clone returns an independent copy.
func (p Point) Clone() Point {
	out := make(Point, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// ParsePoint parses the canonical hash form ("language=en,market=eu").
// The empty string yields the empty point.
func ParsePoint(s string) (Point, error) {
	p := Point{}
	s = strings.TrimSpace(s)
	if s == "" {
		return p, nil
	}
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || k == "" || v == "" {
			return nil, &MalformedPointError{Input: s}
		}
		if _, dup := p[k]; dup {
			return nil, &MalformedPointError{Input: s}
		}
		p[k] = v
	}
	return p, nil
}

// -----------------------------------------------------------------------------
// PointSet
// -----------------------------------------------------------------------------

// PointSet is a set of points keyed by hash.
//
// JSON encoding is an array of point objects sorted by hash, so encoded
// events and fingerprints are deterministic.
type PointSet map[string]Point

// NewPointSet builds a set from the given points.
func NewPointSet(points ...Point) PointSet {
	s := make(PointSet, len(points))
	for _, p := range points {
		s[p.Hash()] = p
	}
	return s
}

// Add inserts p. Adding an existing point is a no-op.
func (s PointSet) Add(p Point) {
	s[p.Hash()] = p
}

// Remove deletes p if present.
func (s PointSet) Remove(p Point) {
	delete(s, p.Hash())
}

// Contains reports whether p is in the set.
func (s PointSet) Contains(p Point) bool {
	_, ok := s[p.Hash()]
	return ok
}

// Hashes returns the sorted point hashes.
func (s PointSet) Hashes() []string {
	out := make([]string, 0, len(s))
	for h := range s {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// Points returns the points sorted by hash.
func (s PointSet) Points() []Point {
	hashes := s.Hashes()
	out := make([]Point, len(hashes))
	for i, h := range hashes {
		out[i] = s[h]
	}
	return out
}

// Clone returns an independent copy of the set. Points are shared.
func (s PointSet) Clone() PointSet {
	out := make(PointSet, len(s))
	for h, p := range s {
		out[h] = p
	}
	return out
}

// Union returns s ∪ other.
func (s PointSet) Union(other PointSet) PointSet {
	out := s.Clone()
	for h, p := range other {
		out[h] = p
	}
	return out
}

// Intersect returns s ∩ other.
func (s PointSet) Intersect(other PointSet) PointSet {
	out := make(PointSet)
	for h, p := range s {
		if _, ok := other[h]; ok {
			out[h] = p
		}
	}
	return out
}

// Minus returns s \ other.
func (s PointSet) Minus(other PointSet) PointSet {
	out := make(PointSet)
	for h, p := range s {
		if _, ok := other[h]; !ok {
			out[h] = p
		}
	}
	return out
}

// IsSubsetOf reports whether every point of s is in other.
func (s PointSet) IsSubsetOf(other PointSet) bool {
	for h := range s {
		if _, ok := other[h]; !ok {
			return false
		}
	}
	return true
}

// Overlaps reports whether s and other share a point.
func (s PointSet) Overlaps(other PointSet) bool {
	small, large := s, other
	if len(small) > len(large) {
		small, large = large, small
	}
	for h := range small {
		if _, ok := large[h]; ok {
			return true
		}
	}
	return false
}

// Equal reports set equality.
func (s PointSet) Equal(other PointSet) bool {
	return len(s) == len(other) && s.IsSubsetOf(other)
}

// MarshalJSON encodes the set as a sorted array of point objects.
func (s PointSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Points())
}

// UnmarshalJSON decodes an array of point objects.
func (s *PointSet) UnmarshalJSON(data []byte) error {
	var points []Point
	if err := json.Unmarshal(data, &points); err != nil {
		return err
	}
	out := make(PointSet, len(points))
	for _, p := range points {
		if p == nil {
			p = Point{}
		}
		out[p.Hash()] = p
	}
	*s = out
	return nil
}
