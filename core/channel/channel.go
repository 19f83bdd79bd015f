// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package channel holds the distribution channel vocabulary. A channel
// is a release line a package publishes into; every revision belongs to
// exactly one channel.
package channel

import (
	"fmt"

	"github.com/juju/errors"
)

const (
	// Xenial is the legacy 16.04 release line.
	Xenial = "xenial"

	// Focal is the 20.04 release line.
	Focal = "focal"
)

// Default is the channel that package-level presentation metadata is
// refreshed from on upload.
const Default = Focal

// Known returns the channels the store publishes, most recent last.
func Known() []string {
	return []string{Xenial, Focal}
}

// Validate returns an error satisfying errors.NotValid if the supplied
// name is not one of the known channels.
func Validate(name string) error {
	for _, known := range Known() {
		if name == known {
			return nil
		}
	}
	return errors.NotValidf("channel %q", name)
}

// CompatToken renders the channel:architecture token mirrored into the
// search index for fast filtering of listings.
func CompatToken(channel, architecture string) string {
	return fmt.Sprintf("%s:%s", channel, architecture)
}

// DeviceToken renders the channel:architecture:framework token used for
// device compatibility filtering.
func DeviceToken(channel, architecture, framework string) string {
	return fmt.Sprintf("%s:%s:%s", channel, architecture, framework)
}
