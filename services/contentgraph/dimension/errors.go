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
	"errors"
	"fmt"
)

// Sentinel errors for dimension configuration and point handling.
var (
	// ErrInvalidDimensionConfiguration is returned when the dimension model
	// is inconsistent: unknown default, dangling or cyclic variation edges,
	// values that cannot reach the default, duplicate names.
	ErrInvalidDimensionConfiguration = errors.New("invalid dimension configuration")

	// ErrMalformedPoint is returned when a point cannot be parsed.
	ErrMalformedPoint = errors.New("malformed dimension space point")

	// ErrUnknownPoint is returned by graph queries for points that are not
	// part of the legal dimension space.
	ErrUnknownPoint = errors.New("dimension space point is not part of the dimension space")
)

// ConfigError describes one problem in a dimension configuration.
type ConfigError struct {
	Dimension string
	Value     string
	Reason    string
}

func (e *ConfigError) Error() string {
	switch {
	case e.Dimension == "":
		return fmt.Sprintf("invalid dimension configuration: %s", e.Reason)
	case e.Value == "":
		return fmt.Sprintf("invalid dimension configuration: dimension %q: %s", e.Dimension, e.Reason)
	default:
		return fmt.Sprintf("invalid dimension configuration: dimension %q value %q: %s", e.Dimension, e.Value, e.Reason)
	}
}

// Unwrap lets errors.Is match ErrInvalidDimensionConfiguration.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidDimensionConfiguration
}

// MalformedPointError carries the input that failed to parse.
type MalformedPointError struct {
	Input string
}

func (e *MalformedPointError) Error() string {
	return fmt.Sprintf("malformed dimension space point %q", e.Input)
}

// Unwrap lets errors.Is match ErrMalformedPoint.
func (e *MalformedPointError) Unwrap() error {
	return ErrMalformedPoint
}
