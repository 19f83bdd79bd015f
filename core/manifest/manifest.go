// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package manifest defines the parsed form of a click package manifest,
// the contract between the archive parser and the ingestion pipeline.
package manifest

import (
	"github.com/juju/errors"
)

// Manifest is the parsed metadata of one click package archive.
type Manifest struct {
	// Name is the package id the archive claims to belong to.
	Name string

	// Version is the free-form version string; it is not required to be
	// semantic and is never ordered.
	Version string

	// Architecture is the target architecture tag, arch.All for an
	// architecture-independent package, or a legacy comma-joined list.
	Architecture string

	// Framework is the platform compatibility tag declared by the
	// package, e.g. "ubuntu-sdk-20.04".
	Framework string

	// Permissions are the apparmor policy groups requested by the
	// package's hooks.
	Permissions []string

	// Title and Description are presentation fields taken from the
	// manifest, used to refresh package metadata on default-channel
	// uploads.
	Title       string
	Description string

	// IconPath is the filesystem location the parser extracted the
	// package icon to, or empty if the package ships none.
	IconPath string

	// InstalledSize is the unpacked size in kilobytes as declared by
	// the archive control data.
	InstalledSize int64
}

// Validate returns an error satisfying errors.NotValid if any of the
// fields the ledger depends on are missing.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return errors.NotValidf("manifest without name")
	}
	if m.Version == "" {
		return errors.NotValidf("manifest without version")
	}
	if m.Architecture == "" {
		return errors.NotValidf("manifest without architecture")
	}
	return nil
}
