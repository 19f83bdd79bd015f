// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package arch holds the architecture vocabulary used by the package
// revision ledger. An architecture is a free-form CPU/ABI tag such as
// "armhf" or "arm64", or the wildcard All meaning the package is
// architecture independent.
package arch

import (
	"strings"

	"github.com/juju/collections/set"
)

// All is the wildcard architecture. A package that publishes an All
// revision serves every device from a single artifact.
const All = "all"

// IsAll reports whether the supplied architecture tag is the wildcard.
func IsAll(a string) bool {
	return a == All
}

// Matches reports whether the revision architecture encoding matches the
// requested architecture. Older uploads recorded multi-architecture
// revisions as a comma-joined list ("armhf,arm64"), so the match is by
// substring containment rather than equality.
func Matches(encoded, requested string) bool {
	return strings.Contains(encoded, requested)
}

// Transition returns the architecture set a package advertises after a
// revision for the supplied architecture lands:
//   - an All revision collapses the set to just All;
//   - a specific revision while the current set is exactly {All} replaces
//     the set with that architecture;
//   - otherwise architectures accumulate.
func Transition(current set.Strings, added string) set.Strings {
	if IsAll(added) {
		return set.NewStrings(All)
	}
	if current.Size() == 1 && current.Contains(All) {
		return set.NewStrings(added)
	}
	next := set.NewStrings(current.Values()...)
	next.Add(added)
	return next
}
