// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrUnknownEventType is returned when decoding a type name this build
	// does not know.
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrMalformedPayload is returned when a payload does not decode into
	// its event type.
	ErrMalformedPayload = errors.New("malformed event payload")
)

// Encode serializes an event into its type name and JSON payload.
func Encode(e Event) (Type, json.RawMessage, error) {
	if e == nil {
		return "", nil, fmt.Errorf("%w: nil event", ErrMalformedPayload)
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s: %w", e.EventType(), err)
	}
	return e.EventType(), payload, nil
}

// Decode reconstructs an event from its type name and payload. Unknown
// payload fields are ignored.
func Decode(t Type, payload json.RawMessage) (Event, error) {
	e, err := newEvent(t)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, e); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, t, err)
		}
	}
	return e, nil
}

// newEvent returns a zero value of the event type named t.
func newEvent(t Type) (Event, error) {
	switch t {
	case TypeContentStreamWasCreated:
		return &ContentStreamWasCreated{}, nil
	case TypeContentStreamWasForked:
		return &ContentStreamWasForked{}, nil
	case TypeRootNodeAggregateWithNodeWasCreated:
		return &RootNodeAggregateWithNodeWasCreated{}, nil
	case TypeNodeAggregateWithNodeWasCreated:
		return &NodeAggregateWithNodeWasCreated{}, nil
	case TypeNodeSpecializationVariantWasCreated:
		return &NodeSpecializationVariantWasCreated{}, nil
	case TypeNodeGeneralizationVariantWasCreated:
		return &NodeGeneralizationVariantWasCreated{}, nil
	case TypeNodePeerVariantWasCreated:
		return &NodePeerVariantWasCreated{}, nil
	case TypeNodePropertiesWereSet:
		return &NodePropertiesWereSet{}, nil
	case TypeNodeReferencesWereSet:
		return &NodeReferencesWereSet{}, nil
	case TypeNodeAggregateWasDisabled:
		return &NodeAggregateWasDisabled{}, nil
	case TypeNodeAggregateWasEnabled:
		return &NodeAggregateWasEnabled{}, nil
	case TypeNodeAggregateWasRemoved:
		return &NodeAggregateWasRemoved{}, nil
	case TypeNodeAggregateCoverageWasRemoved:
		return &NodeAggregateCoverageWasRemoved{}, nil
	case TypeNodeAggregateTypeWasChanged:
		return &NodeAggregateTypeWasChanged{}, nil
	case TypeNodeAggregateWasMoved:
		return &NodeAggregateWasMoved{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, string(t))
	}
}
