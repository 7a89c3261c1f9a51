// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package nodetype

import (
	"fmt"
	"regexp"
	"sort"
)

var childNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,63}$`)

// resolved is a node type with inherited declarations merged in.
type resolved struct {
	NodeType

	// ancestors lists every super type, depth first in declaration order.
	ancestors []string
}

// Manager answers schema questions about a fixed set of node types.
//
// Thread Safety: Immutable after NewManager; safe for concurrent use.
type Manager struct {
	types map[string]*resolved
}

// NewManager validates the declarations and resolves inheritance.
//
// Description:
//
//	Super type declarations are merged into each type: properties, child
//	nodes and constraints of super types apply unless the type overrides
//	the same key. Abstractness is not inherited. The built-in root type is
//	always present.
//
// Inputs:
//
//	types - Declarations keyed by node type name.
//
// Outputs:
//
//	*Manager - Ready to answer queries.
//	error - ErrInvalidSchema or ErrInvalidNodeTypeName on bad declarations.
func NewManager(types map[string]NodeType) (*Manager, error) {
	if _, ok := types[RootTypeName]; ok {
		return nil, fmt.Errorf("%w: %s is built in", ErrInvalidSchema, RootTypeName)
	}

	decl := make(map[string]NodeType, len(types)+1)
	for name, t := range types {
		if err := ValidateName(name); err != nil {
			return nil, err
		}
		t.Name = name
		decl[name] = t
	}
	decl[RootTypeName] = NodeType{Name: RootTypeName, Root: true}

	m := &Manager{types: make(map[string]*resolved, len(decl))}

	visiting := make(map[string]bool)
	var resolve func(name string) (*resolved, error)
	resolve = func(name string) (*resolved, error) {
		if r, ok := m.types[name]; ok {
			return r, nil
		}
		t, ok := decl[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNodeTypeNotFound, name)
		}
		if visiting[name] {
			return nil, fmt.Errorf("%w: super type cycle through %s", ErrInvalidSchema, name)
		}
		visiting[name] = true
		defer delete(visiting, name)

		r := &resolved{NodeType: NodeType{
			Name:        name,
			SuperTypes:  t.SuperTypes,
			Abstract:    t.Abstract,
			Root:        t.Root,
			ChildNodes:  map[string]ChildNode{},
			Constraints: map[string]bool{},
			Properties:  map[string]Property{},
		}}
		seen := map[string]bool{}
		for _, superName := range t.SuperTypes {
			super, err := resolve(superName)
			if err != nil {
				return nil, fmt.Errorf("%w: %s extends %s: %v", ErrInvalidSchema, name, superName, err)
			}
			for _, a := range append([]string{superName}, super.ancestors...) {
				if !seen[a] {
					seen[a] = true
					r.ancestors = append(r.ancestors, a)
				}
			}
			for k, v := range super.ChildNodes {
				r.ChildNodes[k] = v
			}
			for k, v := range super.Constraints {
				r.Constraints[k] = v
			}
			for k, v := range super.Properties {
				r.Properties[k] = v
			}
		}
		for k, v := range t.ChildNodes {
			r.ChildNodes[k] = v
		}
		for k, v := range t.Constraints {
			r.Constraints[k] = v
		}
		for k, v := range t.Properties {
			r.Properties[k] = v
		}

		m.types[name] = r
		return r, nil
	}

	for name := range decl {
		if _, err := resolve(name); err != nil {
			return nil, err
		}
	}

	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) validate() error {
	for name, t := range m.types {
		for childName, child := range t.ChildNodes {
			if !childNamePattern.MatchString(childName) {
				return fmt.Errorf("%w: %s: invalid tethered child name %q", ErrInvalidSchema, name, childName)
			}
			ct, ok := m.types[child.Type]
			if !ok {
				return fmt.Errorf("%w: %s: tethered child %q has unknown type %q", ErrInvalidSchema, name, childName, child.Type)
			}
			if ct.Abstract {
				return fmt.Errorf("%w: %s: tethered child %q has abstract type %q", ErrInvalidSchema, name, childName, child.Type)
			}
			if err := m.checkConstraintKeys(name, child.Constraints); err != nil {
				return err
			}
		}
		if err := m.checkConstraintKeys(name, t.Constraints); err != nil {
			return err
		}
		for propName, p := range t.Properties {
			if !p.Type.valid() {
				return fmt.Errorf("%w: %s: property %q has unknown type %q", ErrInvalidSchema, name, propName, p.Type)
			}
			if !p.Type.accepts(p.DefaultValue) {
				return fmt.Errorf("%w: %s: default of property %q is not a %s", ErrInvalidSchema, name, propName, p.Type)
			}
		}
	}

	// Tethered children are created recursively; the type graph they span
	// must be finite.
	state := map[string]int{}
	var walk func(name string) error
	walk = func(name string) error {
		switch state[name] {
		case 1:
			return fmt.Errorf("%w: tethered child cycle through %s", ErrInvalidSchema, name)
		case 2:
			return nil
		}
		state[name] = 1
		for _, child := range m.types[name].ChildNodes {
			if err := walk(child.Type); err != nil {
				return err
			}
		}
		state[name] = 2
		return nil
	}
	for name := range m.types {
		if err := walk(name); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) checkConstraintKeys(owner string, constraints map[string]bool) error {
	for key := range constraints {
		if key == Wildcard {
			continue
		}
		if _, ok := m.types[key]; !ok {
			return fmt.Errorf("%w: %s: constraint references unknown type %q", ErrInvalidSchema, owner, key)
		}
	}
	return nil
}

// Has reports whether the type is declared.
func (m *Manager) Has(name string) bool {
	_, ok := m.types[name]
	return ok
}

// Get returns the resolved declaration of a type.
func (m *Manager) Get(name string) (NodeType, error) {
	t, ok := m.types[name]
	if !ok {
		return NodeType{}, fmt.Errorf("%w: %s", ErrNodeTypeNotFound, name)
	}
	return t.NodeType, nil
}

// Names returns all type names sorted.
func (m *Manager) Names() []string {
	out := make([]string, 0, len(m.types))
	for name := range m.types {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// IsAbstract reports whether the type is abstract. Unknown types are not.
func (m *Manager) IsAbstract(name string) bool {
	t, ok := m.types[name]
	return ok && t.Abstract
}

// IsRoot reports whether the type may be used for root node aggregates.
func (m *Manager) IsRoot(name string) bool {
	t, ok := m.types[name]
	return ok && t.Root
}

// IsOfType reports whether name is super or inherits from it.
func (m *Manager) IsOfType(name, super string) bool {
	t, ok := m.types[name]
	if !ok {
		return false
	}
	if name == super {
		return true
	}
	for _, a := range t.ancestors {
		if a == super {
			return true
		}
	}
	return false
}

// AllowsChild reports whether a node of type parent may hold a direct
// child of type child.
func (m *Manager) AllowsChild(parent, child string) bool {
	p, ok := m.types[parent]
	if !ok {
		return false
	}
	if _, ok := m.types[child]; !ok {
		return false
	}
	return m.constraintAllows(p.Constraints, child)
}

// AllowsGrandchild reports whether the tethered child tetheredName of a
// node of type parent may hold a child of type grandchild. Both the
// tethered child's own type and the parent's declaration must agree.
func (m *Manager) AllowsGrandchild(parent, tetheredName, grandchild string) bool {
	p, ok := m.types[parent]
	if !ok {
		return false
	}
	tc, ok := p.ChildNodes[tetheredName]
	if !ok {
		return false
	}
	if !m.AllowsChild(tc.Type, grandchild) {
		return false
	}
	return m.constraintAllows(tc.Constraints, grandchild)
}

// constraintAllows resolves a constraint map for child: the direct entry,
// then the nearest super type entry, then the wildcard. An empty map or no
// matching entry allows.
func (m *Manager) constraintAllows(constraints map[string]bool, child string) bool {
	if len(constraints) == 0 {
		return true
	}
	if v, ok := constraints[child]; ok {
		return v
	}
	if ct, ok := m.types[child]; ok {
		for _, a := range ct.ancestors {
			if v, ok := constraints[a]; ok {
				return v
			}
		}
	}
	if v, ok := constraints[Wildcard]; ok {
		return v
	}
	return true
}

// TetheredChildren returns the tethered children of a type sorted by name.
func (m *Manager) TetheredChildren(name string) []TetheredChild {
	t, ok := m.types[name]
	if !ok {
		return nil
	}
	out := make([]TetheredChild, 0, len(t.ChildNodes))
	for childName, c := range t.ChildNodes {
		out = append(out, TetheredChild{Name: childName, Type: c.Type})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DefaultProperties returns the declared defaults of a type.
func (m *Manager) DefaultProperties(name string) map[string]any {
	out := map[string]any{}
	t, ok := m.types[name]
	if !ok {
		return out
	}
	for k, p := range t.Properties {
		if p.DefaultValue != nil {
			out[k] = p.DefaultValue
		}
	}
	return out
}

// ValidateProperties checks values against declared property types.
// Undeclared properties are accepted as untyped.
func (m *Manager) ValidateProperties(name string, props map[string]any) error {
	t, ok := m.types[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeTypeNotFound, name)
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		decl, declared := t.Properties[k]
		if !declared {
			continue
		}
		if !decl.Type.accepts(props[k]) {
			return fmt.Errorf("%w: %s.%s expects %s, got %T", ErrPropertyTypeMismatch, name, k, decl.Type, props[k])
		}
	}
	return nil
}
