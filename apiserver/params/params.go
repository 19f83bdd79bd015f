// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package params defines the wire types of the store's HTTP API.
package params

import (
	"time"
)

// Error codes returned alongside 4xx responses. Each ingestion
// validation failure maps 1:1 onto one of these.
const (
	CodeBadUpload             = "bad-upload"
	CodeMalformedManifest     = "malformed-manifest"
	CodeWrongPackage          = "wrong-package"
	CodeInvalidChannel        = "invalid-channel"
	CodeExistingVersion       = "existing-version"
	CodeNoAll                 = "no-all"
	CodeNoNonAll              = "no-non-all"
	CodeMismatchedFramework   = "mismatched-framework"
	CodeMismatchedPermissions = "mismatched-permissions"
	CodeNeedsManualReview     = "needs-manual-review"
	CodeReviewFailed          = "review-failed"
	CodeNotFound              = "not-found"
	CodePermissionDenied      = "permission-denied"
)

// RevisionInfo is the serialized form of one ledger entry.
type RevisionInfo struct {
	Revision       int       `json:"revision"`
	Version        string    `json:"version"`
	Channel        string    `json:"channel"`
	Architecture   string    `json:"architecture"`
	Framework      string    `json:"framework,omitempty"`
	Permissions    []string  `json:"permissions,omitempty"`
	DownloadURL    string    `json:"download_url,omitempty"`
	DownloadSha512 string    `json:"download_sha512,omitempty"`
	Filesize       int64     `json:"filesize,omitempty"`
	DownloadSize   int64     `json:"download_size,omitempty"`
	Downloads      int64     `json:"downloads"`
	CreatedDate    time.Time `json:"created_date"`
}

// PackageInfo is the serialized form of a package.
type PackageInfo struct {
	Id                    string         `json:"id"`
	Title                 string         `json:"title,omitempty"`
	Description           string         `json:"description,omitempty"`
	Maintainer            string         `json:"maintainer,omitempty"`
	Icon                  string         `json:"icon,omitempty"`
	Changelog             string         `json:"changelog,omitempty"`
	Architectures         []string       `json:"architectures,omitempty"`
	Channels              []string       `json:"channels,omitempty"`
	ChannelArchitectures  []string       `json:"channel_architectures,omitempty"`
	DeviceCompatibilities []string       `json:"device_compatibilities,omitempty"`
	Revisions             []RevisionInfo `json:"revisions,omitempty"`
}

// PackageResponse is the body of every package endpoint response. On
// success Package is set; on failure Error carries the stable message
// and ErrorCode the enumerable kind.
type PackageResponse struct {
	Package   *PackageInfo `json:"package,omitempty"`
	Error     string       `json:"error,omitempty"`
	ErrorCode string       `json:"error_code,omitempty"`
}
