// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import (
	"github.com/clickstore/clickstore/core/arch"
)

// ResolveArgs narrows a revision lookup. The zero value of each field
// means "don't filter on this".
type ResolveArgs struct {
	// Channel must match the revision's channel exactly.
	Channel string

	// Architecture is the architecture the caller wants. Empty matches
	// any architecture.
	Architecture string

	// DetectAll makes an architecture-agnostic package resolve through
	// its generic bucket: when the package advertises arch.All, the
	// effective architecture becomes arch.All no matter what the caller
	// asked for. Download and serialization paths want this on; the
	// compatibility index builder needs it off to probe concrete pairs.
	DetectAll bool

	// Frameworks restricts matches to revisions whose framework is in
	// the set, when non-empty.
	Frameworks []string

	// Version restricts matches to one exact version, when non-empty.
	Version string
}

// LatestRevision resolves the best revision of the package for the
// supplied coordinates, returning the revision and its position in the
// ledger, or (nil, -1) when nothing matches. The position is what
// download counting increments against.
//
// The ledger is scanned without assuming any ordering, keeping the best
// candidate seen so far; the highest revision number wins and an equal
// number keeps the earliest-seen candidate. Equal numbers cannot occur
// while the monotonic numbering invariant holds, so a reachable tie is
// a data-integrity problem, not a feature.
//
// The resolver is pure: it never locks and is safe under arbitrary
// concurrent callers.
func (p *Package) LatestRevision(args ResolveArgs) (*Revision, int) {
	wanted := args.Architecture
	if args.DetectAll && p.Architectures().Contains(arch.All) {
		wanted = arch.All
	}

	frameworks := make(map[string]bool, len(args.Frameworks))
	for _, f := range args.Frameworks {
		frameworks[f] = true
	}

	bestIndex := -1
	bestNumber := 0
	for i := range p.doc.Revisions {
		rev := &p.doc.Revisions[i]
		if rev.Channel != args.Channel {
			continue
		}
		if wanted != "" && !arch.Matches(rev.Architecture, wanted) {
			continue
		}
		if len(frameworks) > 0 && !frameworks[rev.Framework] {
			continue
		}
		if args.Version != "" && rev.Version != args.Version {
			continue
		}
		if rev.Revision > bestNumber {
			bestIndex = i
			bestNumber = rev.Revision
		}
	}
	if bestIndex == -1 {
		return nil, -1
	}
	return &Revision{doc: p.doc.Revisions[bestIndex]}, bestIndex
}
