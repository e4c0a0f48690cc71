// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/openkaraoke/studio/internal/jobstore"
	"github.com/openkaraoke/studio/internal/log"
	"github.com/openkaraoke/studio/internal/media"
	"github.com/openkaraoke/studio/internal/store"
	"github.com/openkaraoke/studio/internal/types"
)

// Error codes on the wire.
const (
	codeValidation    = "VALIDATION_ERROR"
	codeMissingParams = "MISSING_PARAMETERS"
	codeNotFound      = "RESOURCE_NOT_FOUND"
	codeConflict      = "DUPLICATE_RESOURCE"
	codeInUse         = "RESOURCE_IN_USE"
	codeBadState      = "INVALID_JOB_STATE"
	codeUpstream      = "UPSTREAM_ERROR"
	codeUnavailable   = "STORE_UNAVAILABLE"
	codeInternal      = "INTERNAL_ERROR"
)

type errorBody struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErrorCode writes the error envelope.
func writeErrorCode(w http.ResponseWriter, status int, code, msg string, details map[string]string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code, Details: details})
}

// writeError maps a domain error onto the envelope. Unknown errors surface as
// a generic 500 without leaking internals.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	var status int
	var code string

	var mediaErr *media.Error
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, jobstore.ErrNotFound):
		status, code = http.StatusNotFound, codeNotFound
	case errors.Is(err, store.ErrConflict):
		status, code = http.StatusConflict, codeConflict
	case errors.Is(err, store.ErrInvalid):
		status, code = http.StatusBadRequest, codeValidation
	case errors.Is(err, store.ErrInUse):
		status, code = http.StatusUnprocessableEntity, codeInUse
	case errors.Is(err, jobstore.ErrBadTransition):
		status, code = http.StatusUnprocessableEntity, codeBadState
	case errors.Is(err, jobstore.ErrPersistence):
		status, code = http.StatusServiceUnavailable, codeUnavailable
	case errors.As(err, &mediaErr), errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusBadGateway, codeUpstream
	default:
		logger := log.WithContext(ctx, log.WithComponent("api"))
		logger.Error().Err(err).Msg("request failed")
		writeErrorCode(w, http.StatusInternalServerError, codeInternal, "internal error", nil)
		return
	}

	writeErrorCode(w, status, code, err.Error(), nil)
}

// writeUpstreamError reports a provider or fetcher failure.
func writeUpstreamError(ctx context.Context, w http.ResponseWriter, err error) {
	if media.KindOf(err) == types.ErrKindCancelled {
		return
	}
	logger := log.WithContext(ctx, log.WithComponent("api"))
	logger.Warn().Err(err).Msg("upstream call failed")
	writeErrorCode(w, http.StatusBadGateway, codeUpstream, "upstream provider failed", nil)
}

// decodeJSON parses a request body, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
