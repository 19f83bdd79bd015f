// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package apiserver

import (
	"encoding/json"
	"net/http"

	"github.com/juju/errors"

	"github.com/clickstore/clickstore/apiserver/params"
	"github.com/clickstore/clickstore/state"
)

// ErrPermissionDenied reports a caller without rights over the package.
const ErrPermissionDenied = errors.ConstError("permission denied")

// validationCodes maps each ingestion failure kind onto its wire code.
var validationCodes = map[errors.ConstError]string{
	state.ErrBadUpload:             params.CodeBadUpload,
	state.ErrMalformedManifest:     params.CodeMalformedManifest,
	state.ErrWrongPackage:          params.CodeWrongPackage,
	state.ErrInvalidChannel:        params.CodeInvalidChannel,
	state.ErrExistingVersion:       params.CodeExistingVersion,
	state.ErrNoAll:                 params.CodeNoAll,
	state.ErrNoNonAll:              params.CodeNoNonAll,
	state.ErrMismatchedFramework:   params.CodeMismatchedFramework,
	state.ErrMismatchedPermissions: params.CodeMismatchedPermissions,
	state.ErrNeedsManualReview:     params.CodeNeedsManualReview,
	state.ErrReviewFailed:          params.CodeReviewFailed,
}

// errorResponse translates an error into its wire form and HTTP status.
// Validation failures surface their stable message; anything
// unclassified is logged with full context and returned as a generic
// 500 so internals never leak.
func errorResponse(err error) (params.PackageResponse, int) {
	for kind, code := range validationCodes {
		if errors.Is(err, kind) {
			return params.PackageResponse{
				Error:     string(kind),
				ErrorCode: code,
			}, http.StatusBadRequest
		}
	}
	if errors.Is(err, errors.NotFound) {
		return params.PackageResponse{
			Error:     "not found",
			ErrorCode: params.CodeNotFound,
		}, http.StatusNotFound
	}
	if errors.Is(err, ErrPermissionDenied) {
		return params.PackageResponse{
			Error:     string(ErrPermissionDenied),
			ErrorCode: params.CodePermissionDenied,
		}, http.StatusForbidden
	}
	return params.PackageResponse{
		Error: "internal server error",
	}, http.StatusInternalServerError
}

// sendJSONError logs the failure and writes its wire form.
func sendJSONError(w http.ResponseWriter, r *http.Request, err error) {
	resp, status := errorResponse(err)
	if status == http.StatusInternalServerError {
		logger.Errorf("returning error from %s %s: %s", r.Method, r.URL, errors.Details(err))
	} else {
		logger.Debugf("returning error from %s %s: %v", r.Method, r.URL, err)
	}
	if err := sendStatusAndJSON(w, status, resp); err != nil {
		logger.Errorf("cannot return error to user: %v", err)
	}
}

// sendStatusAndJSON writes a JSON response body with the given status.
func sendStatusAndJSON(w http.ResponseWriter, status int, body interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		return errors.Annotate(err, "cannot encode response")
	}
	return nil
}
