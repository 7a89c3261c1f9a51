// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package command

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/AleutianAI/contentgraph/services/contentgraph/events"
	"github.com/AleutianAI/contentgraph/services/contentgraph/nodetype"
	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// validate checks command payload syntax. Initialized in init() with the
// identifier validators.
var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("aggregateid", validateAggregateID)
	_ = validate.RegisterValidation("nodetype", validateNodeTypeName)
	_ = validate.RegisterValidation("nodename", validateNodeName)
}

func validateAggregateID(fl validator.FieldLevel) bool {
	return events.NodeAggregateID(fl.Field().String()).Validate() == nil
}

func validateNodeTypeName(fl validator.FieldLevel) bool {
	return nodetype.ValidateName(fl.Field().String()) == nil
}

func validateNodeName(fl validator.FieldLevel) bool {
	return events.NodeName(fl.Field().String()).Validate() == nil
}

// =============================================================================
// Decoding
// =============================================================================

// newCommand returns the zero command of a type.
func newCommand(t Type) (Command, bool) {
	switch t {
	case TypeCreateRootNodeAggregateWithNode:
		return CreateRootNodeAggregateWithNode{}, true
	case TypeCreateNodeAggregateWithNode:
		return CreateNodeAggregateWithNode{}, true
	case TypeCreateNodeSpecialization:
		return CreateNodeSpecialization{}, true
	case TypeCreateNodeGeneralization:
		return CreateNodeGeneralization{}, true
	case TypeCreateNodePeerVariant:
		return CreateNodePeerVariant{}, true
	case TypeSetNodeProperties:
		return SetNodeProperties{}, true
	case TypeSetNodeReferences:
		return SetNodeReferences{}, true
	case TypeDisableNodeAggregate:
		return DisableNodeAggregate{}, true
	case TypeEnableNodeAggregate:
		return EnableNodeAggregate{}, true
	case TypeRemoveNodeAggregate:
		return RemoveNodeAggregate{}, true
	case TypeRemoveNodesFromAggregate:
		return RemoveNodesFromAggregate{}, true
	case TypeChangeNodeAggregateType:
		return ChangeNodeAggregateType{}, true
	case TypeMoveNodeAggregate:
		return MoveNodeAggregate{}, true
	}
	return nil, false
}

// Decode builds a command from a type name and a generic payload, as
// received over the HTTP surface.
//
// Outputs:
//
//	Command - The decoded command value.
//	error - ErrUnknownCommandType or ErrInvalidCommandPayload.
func Decode(t Type, payload map[string]any) (Command, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCommandPayload, err)
	}
	return DecodeJSON(t, raw)
}

// DecodeJSON builds a command from its JSON encoding. Unknown fields are
// rejected.
func DecodeJSON(t Type, raw []byte) (Command, error) {
	zero, ok := newCommand(t)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommandType, string(t))
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	dec.UseNumber()

	var (
		cmd Command
		err error
	)
	switch zero.(type) {
	case CreateRootNodeAggregateWithNode:
		cmd, err = decodeInto[CreateRootNodeAggregateWithNode](dec)
	case CreateNodeAggregateWithNode:
		cmd, err = decodeInto[CreateNodeAggregateWithNode](dec)
	case CreateNodeSpecialization:
		cmd, err = decodeInto[CreateNodeSpecialization](dec)
	case CreateNodeGeneralization:
		cmd, err = decodeInto[CreateNodeGeneralization](dec)
	case CreateNodePeerVariant:
		cmd, err = decodeInto[CreateNodePeerVariant](dec)
	case SetNodeProperties:
		cmd, err = decodeInto[SetNodeProperties](dec)
	case SetNodeReferences:
		cmd, err = decodeInto[SetNodeReferences](dec)
	case DisableNodeAggregate:
		cmd, err = decodeInto[DisableNodeAggregate](dec)
	case EnableNodeAggregate:
		cmd, err = decodeInto[EnableNodeAggregate](dec)
	case RemoveNodeAggregate:
		cmd, err = decodeInto[RemoveNodeAggregate](dec)
	case RemoveNodesFromAggregate:
		cmd, err = decodeInto[RemoveNodesFromAggregate](dec)
	case ChangeNodeAggregateType:
		cmd, err = decodeInto[ChangeNodeAggregateType](dec)
	case MoveNodeAggregate:
		cmd, err = decodeInto[MoveNodeAggregate](dec)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCommandPayload, t, err)
	}
	if err := validate.Struct(cmd); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCommandPayload, t, err)
	}
	return cmd, nil
}

func decodeInto[C Command](dec *json.Decoder) (Command, error) {
	var c C
	if err := dec.Decode(&c); err != nil {
		return nil, err
	}
	return normalizeNumbers(c), nil
}

// normalizeNumbers turns json.Number property values into int64 or
// float64 so property type checks see plain Go numbers.
func normalizeNumbers(c Command) Command {
	switch v := c.(type) {
	case CreateNodeAggregateWithNode:
		v.Properties = numbers(v.Properties)
		return v
	case SetNodeProperties:
		v.Properties = numbers(v.Properties)
		return v
	}
	return c
}

func numbers(props map[string]any) map[string]any {
	for k, v := range props {
		props[k] = number(v)
	}
	return props
}

func number(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any:
		return numbers(x)
	case []any:
		for i := range x {
			x[i] = number(x[i])
		}
		return x
	}
	return v
}
