// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package contentgraph

import (
	"errors"
	"net/http"

	"github.com/AleutianAI/contentgraph/services/contentgraph/command"
	"github.com/AleutianAI/contentgraph/services/contentgraph/eventstore"
	"github.com/AleutianAI/contentgraph/services/contentgraph/projection"
	"github.com/AleutianAI/contentgraph/services/contentgraph/workspace"
)

// Sentinel errors of the HTTP adapter.
var (
	// ErrNodeNotFound is returned by queries that found nothing visible.
	ErrNodeNotFound = errors.New("node not found")

	// ErrInvalidQuery is returned for malformed query parameters.
	ErrInvalidQuery = errors.New("invalid query parameter")
)

// codeNotFound refines the validation kind for missing resources.
const codeNotFound = "not_found"

var notFoundErrors = []error{
	ErrNodeNotFound,
	workspace.ErrWorkspaceNotFound,
	eventstore.ErrUnknownContentStream,
}

// errorCode returns the response code and HTTP status for err.
//
// Description:
//
//	Validation maps to 400 (404 for missing resources), concurrency to 409
//	(504 when the projection did not catch up in time), invariant to 422,
//	consistency to 503 and anything else to 500.
func errorCode(err error) (string, int) {
	if errors.Is(err, ErrInvalidQuery) {
		return string(command.KindValidation), http.StatusBadRequest
	}
	for _, target := range notFoundErrors {
		if errors.Is(err, target) {
			return codeNotFound, http.StatusNotFound
		}
	}
	kind := workspace.Classify(err)
	switch kind {
	case command.KindValidation:
		return string(kind), http.StatusBadRequest
	case command.KindConcurrency:
		if errors.Is(err, projection.ErrProjectionCatchupTimeout) {
			return string(kind), http.StatusGatewayTimeout
		}
		return string(kind), http.StatusConflict
	case command.KindInvariant:
		return string(kind), http.StatusUnprocessableEntity
	case command.KindConsistency:
		return string(kind), http.StatusServiceUnavailable
	default:
		return string(command.KindInternal), http.StatusInternalServerError
	}
}
