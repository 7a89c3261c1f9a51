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
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Parse decodes a YAML node type schema keyed by type name:
//
//	"Vendor:Page":
//	  superTypes: ["Vendor:Document"]
//	  childNodes:
//	    main:
//	      type: "Vendor:ContentCollection"
//	      constraints: {"*": false, "Vendor:Text": true}
//	  properties:
//	    title: {type: string, default: ""}
func Parse(data []byte) (*Manager, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	types := map[string]NodeType{}
	if err := dec.Decode(&types); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: parse yaml: %v", ErrInvalidSchema, err)
	}
	return NewManager(types)
}

// LoadFile reads a YAML node type schema. An empty path yields a manager
// holding only the built-in root type.
func LoadFile(path string) (*Manager, error) {
	if path == "" {
		return NewManager(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read node types %s: %w", path, err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}
