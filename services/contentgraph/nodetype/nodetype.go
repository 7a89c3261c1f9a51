// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package nodetype is the node type schema provider of the content graph.
//
// Node types are declared in YAML under namespaced names such as
// "Vendor.Site:Page" or "Vendor:Text". A type may inherit from super types,
// declare tethered child nodes (created together with every node of the
// type), restrict which types may appear as its children, and declare typed
// properties with defaults.
//
// The Manager answers the questions command handlers ask: does a type
// exist, is it abstract, may type A hold a child of type B, which tethered
// children does it need.
package nodetype

import (
	"errors"
	"fmt"
	"regexp"
)

// RootTypeName is the built-in type of root node aggregates. It accepts
// children of any type.
const RootTypeName = "ContentGraph:Root"

// Wildcard is the constraint key matching every type without a more
// specific entry.
const Wildcard = "*"

var namePattern = regexp.MustCompile(`^[A-Za-z0-9]+(\.[A-Za-z0-9]+)*:[A-Za-z0-9]+(\.[A-Za-z0-9]+)*$`)

var (
	// ErrNodeTypeNotFound is returned for undeclared node types.
	ErrNodeTypeNotFound = errors.New("node type not found")

	// ErrInvalidNodeTypeName is returned for names not of the form
	// "Vendor.Package:Name".
	ErrInvalidNodeTypeName = errors.New("invalid node type name")

	// ErrInvalidSchema is returned when the declarations are inconsistent.
	ErrInvalidSchema = errors.New("invalid node type schema")

	// ErrPropertyTypeMismatch is returned when a property value does not
	// match its declared type.
	ErrPropertyTypeMismatch = errors.New("property value does not match declared type")
)

// ValidateName checks the namespaced form of a node type name.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidNodeTypeName, name)
	}
	return nil
}

// PropertyType is the declared type of a node property.
type PropertyType string

// Supported property types.
const (
	PropertyString  PropertyType = "string"
	PropertyInteger PropertyType = "integer"
	PropertyFloat   PropertyType = "float"
	PropertyBoolean PropertyType = "boolean"
	PropertyArray   PropertyType = "array"
	PropertyObject  PropertyType = "object"
	PropertyAny     PropertyType = "any"
)

func (t PropertyType) valid() bool {
	switch t {
	case PropertyString, PropertyInteger, PropertyFloat, PropertyBoolean,
		PropertyArray, PropertyObject, PropertyAny, "":
		return true
	}
	return false
}

// accepts reports whether v (as decoded from JSON or YAML) fits the type.
func (t PropertyType) accepts(v any) bool {
	if v == nil {
		return true
	}
	switch t {
	case PropertyString:
		_, ok := v.(string)
		return ok
	case PropertyInteger:
		switch n := v.(type) {
		case int, int32, int64:
			return true
		case float64:
			return n == float64(int64(n))
		}
		return false
	case PropertyFloat:
		switch v.(type) {
		case float32, float64, int, int32, int64:
			return true
		}
		return false
	case PropertyBoolean:
		_, ok := v.(bool)
		return ok
	case PropertyArray:
		_, ok := v.([]any)
		return ok
	case PropertyObject:
		_, ok := v.(map[string]any)
		return ok
	default:
		return true
	}
}

// Property declares one node property.
type Property struct {
	Type         PropertyType `yaml:"type" json:"type"`
	DefaultValue any          `yaml:"default,omitempty" json:"default,omitempty"`
}

// ChildNode declares a tethered child.
type ChildNode struct {
	Type string `yaml:"type" json:"type"`

	// Constraints restrict the children of the tethered node itself
	// (grandchildren of the declaring type).
	Constraints map[string]bool `yaml:"constraints,omitempty" json:"constraints,omitempty"`
}

// NodeType is one node type declaration.
type NodeType struct {
	Name        string               `yaml:"-" json:"name"`
	SuperTypes  []string             `yaml:"superTypes,omitempty" json:"superTypes,omitempty"`
	Abstract    bool                 `yaml:"abstract,omitempty" json:"abstract,omitempty"`
	Root        bool                 `yaml:"root,omitempty" json:"root,omitempty"`
	ChildNodes  map[string]ChildNode `yaml:"childNodes,omitempty" json:"childNodes,omitempty"`
	Constraints map[string]bool      `yaml:"constraints,omitempty" json:"constraints,omitempty"`
	Properties  map[string]Property  `yaml:"properties,omitempty" json:"properties,omitempty"`
}

// TetheredChild is a resolved tethered child declaration.
type TetheredChild struct {
	Name string
	Type string
}
