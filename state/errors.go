// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import (
	"github.com/juju/errors"
)

// The ingestion pipeline fails fast with exactly one of these errors.
// The messages are user facing and stable: the HTTP layer maps each
// kind 1:1 onto a response body, so changing a message here changes the
// API. Match with errors.Is.
const (
	// ErrBadUpload reports that the uploaded file could not be read as
	// a click package at all.
	ErrBadUpload = errors.ConstError("upload is not a valid click package file")

	// ErrMalformedManifest reports a parsed archive whose manifest is
	// missing one of name, version or architecture.
	ErrMalformedManifest = errors.ConstError("malformed manifest")

	// ErrWrongPackage reports an archive whose manifest names a
	// different package id than the one being uploaded to.
	ErrWrongPackage = errors.ConstError("uploaded package does not match existing package id")

	// ErrInvalidChannel reports an upload into a channel the store does
	// not publish.
	ErrInvalidChannel = errors.ConstError("unknown channel")

	// ErrExistingVersion reports an exact duplicate of an existing
	// (version, channel, architecture) revision.
	ErrExistingVersion = errors.ConstError("a revision already exists with this version, channel and architecture")

	// ErrNoAll reports an "all" upload into a (version, channel) group
	// that already holds architecture-specific revisions.
	ErrNoAll = errors.ConstError("this version already has a revision for a specific architecture, cannot add a revision for all architectures")

	// ErrNoNonAll reports an architecture-specific upload into a
	// (version, channel) group that already holds an "all" revision.
	ErrNoNonAll = errors.ConstError("this version already has a revision for all architectures, cannot add a revision for a specific architecture")

	// ErrMismatchedFramework reports an upload whose framework differs
	// from the first revision of the same (version, channel) group.
	ErrMismatchedFramework = errors.ConstError("framework does not match existing revisions of this version")

	// ErrMismatchedPermissions reports an upload that requests a
	// permission absent from the first sibling revision's permissions.
	ErrMismatchedPermissions = errors.ConstError("permissions do not match existing revisions of this version")

	// ErrNeedsManualReview reports an upload the automated review
	// flagged for a human.
	ErrNeedsManualReview = errors.ConstError("this package requires manual review")

	// ErrReviewFailed reports an upload the automated review rejected.
	ErrReviewFailed = errors.ConstError("automated review rejected this package")
)

// validationErrors enumerates every ingestion failure kind, in the
// order the pipeline can raise them.
var validationErrors = []errors.ConstError{
	ErrBadUpload,
	ErrMalformedManifest,
	ErrWrongPackage,
	ErrInvalidChannel,
	ErrExistingVersion,
	ErrNoAll,
	ErrNoNonAll,
	ErrMismatchedFramework,
	ErrMismatchedPermissions,
	ErrNeedsManualReview,
	ErrReviewFailed,
}

// IsValidationError reports whether err is one of the enumerable
// ingestion failures, as opposed to an infrastructure fault.
func IsValidationError(err error) bool {
	for _, kind := range validationErrors {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
