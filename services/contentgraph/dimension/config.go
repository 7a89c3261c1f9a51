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
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// configFile is the YAML document layout:
//
//	dimensions:
//	  - name: language
//	    default: mul
//	    values:
//	      - value: mul
//	      - value: en
//	        generalizations: [mul]
//	      - value: de
//	        generalizations: [mul]
//	        constraints:
//	          market: {"*": false, eu: true}
type configFile struct {
	Dimensions []Dimension `yaml:"dimensions"`
}

// Parse decodes a YAML dimension configuration and validates it.
//
// Unknown keys are rejected so typos surface instead of silently producing
// a different dimension space.
func Parse(data []byte) ([]Dimension, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file configFile
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: parse yaml: %v", ErrInvalidDimensionConfiguration, err)
	}

	if _, err := compile(file.Dimensions); err != nil {
		return nil, err
	}
	return file.Dimensions, nil
}

// LoadFile reads and parses a YAML dimension configuration file.
func LoadFile(path string) ([]Dimension, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dimension config %s: %w", path, err)
	}
	dims, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return dims, nil
}

// Marshal renders dims in the YAML layout accepted by Parse.
func Marshal(dims []Dimension) ([]byte, error) {
	return yaml.Marshal(configFile{Dimensions: dims})
}
