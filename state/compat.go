// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import (
	"github.com/juju/collections/set"

	"github.com/clickstore/clickstore/core/channel"
)

// UpdateCalculatedProperties rebuilds the denormalized fast-filter
// fields from the revision ledger and the package's current channel and
// architecture declarations. It is not triggered automatically: any
// caller that mutates the ledger, the channel set or the architecture
// set must invoke it before saving, or channel/architecture/framework
// filtering in listings silently goes stale.
func (p *Package) UpdateCalculatedProperties() {
	// A channel:architecture pair only counts if the ledger actually
	// holds a concrete revision for it; declaring an architecture
	// without ever uploading one must not surface in the index.
	// DetectAll is off so an "all" package doesn't vouch for pairs it
	// has no concrete bucket for.
	var pairs []string
	for _, ch := range p.Channels().SortedValues() {
		for _, a := range p.Architectures().SortedValues() {
			if _, i := p.LatestRevision(ResolveArgs{
				Channel:      ch,
				Architecture: a,
			}); i == -1 {
				continue
			}
			pairs = append(pairs, channel.CompatToken(ch, a))
		}
	}
	p.doc.ChannelArchitectures = pairs

	// Device compatibility covers every revision whose file is still
	// retained on disk; duplicates collapse.
	compat := set.NewStrings()
	for i := range p.doc.Revisions {
		rev := &p.doc.Revisions[i]
		if rev.DownloadURL == "" {
			continue
		}
		compat.Add(channel.DeviceToken(rev.Channel, rev.Architecture, rev.Framework))
	}
	p.doc.DeviceCompatibilities = compat.SortedValues()
}
