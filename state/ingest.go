// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/microcosm-cc/bluemonday"

	"github.com/clickstore/clickstore/core/arch"
	"github.com/clickstore/clickstore/core/channel"
	"github.com/clickstore/clickstore/core/manifest"
)

// iconExtensions is the allow-list of icon file types a package may
// install through an upload.
var iconExtensions = set.NewStrings(".png", ".svg", ".jpg", ".jpeg")

// changelogPolicy strips all markup from uploaded changelog notes.
var changelogPolicy = bluemonday.StrictPolicy()

// CreateRevisionFromClick runs the ingestion pipeline for one staged
// click upload: validate the archive against the ledger, place the
// artifact, append a revision and refresh package metadata.
//
// The caller must hold the RevisionLockName(p.Id()) lock: the pipeline
// is a read-modify-write of the whole package document, and two
// concurrent uploads that both load before either saves would silently
// lose a revision on the last-writer-wins save.
//
// All mutations are applied to the in-memory package only; nothing is
// persisted until the caller's single Save at the end, so a failure at
// any step leaves the stored document untouched. Each failure is one of
// the named validation errors in errors.go.
func (p *Package) CreateRevisionFromClick(clickPath, ch, changelog string) error {
	st := p.st

	m, err := st.parser.Parse(clickPath)
	if err != nil {
		return fmt.Errorf("parsing %q: %v%w", clickPath, err, errors.Hide(ErrBadUpload))
	}
	if err := m.Validate(); err != nil {
		return fmt.Errorf("%v%w", err, errors.Hide(ErrMalformedManifest))
	}
	if m.Name != p.doc.Id {
		return fmt.Errorf("manifest names %q, package is %q%w", m.Name, p.doc.Id, errors.Hide(ErrWrongPackage))
	}
	if err := st.validChannel(ch); err != nil {
		return fmt.Errorf("%v%w", err, errors.Hide(ErrInvalidChannel))
	}
	if err := p.validateAgainstLedger(m, ch); err != nil {
		return errors.Trace(err)
	}

	// Presentation metadata only follows uploads into the default
	// channel, except that the very first revision ever seeds it
	// whatever the channel. Later uploads into other channels record
	// the artifact and leave prior metadata alone.
	refreshMeta := ch == st.defaultChannel || len(p.doc.Revisions) == 0
	if refreshMeta {
		if m.Title != "" {
			p.doc.Title = m.Title
		}
		if m.Description != "" {
			p.doc.Description = m.Description
		}
	}

	sha, size, err := st.checksum.Digest(clickPath)
	if err != nil {
		return errors.Annotatef(err, "cannot digest %q", clickPath)
	}
	downloadURL, err := st.store.PutArtifact(clickPath, p.doc.Id, ch, m.Architecture, m.Version)
	if err != nil {
		return errors.Annotatef(err, "cannot place artifact for %q", p.doc.Id)
	}

	p.doc.Revisions = append(p.doc.Revisions, revisionDoc{
		Revision:       p.NextRevision(),
		Version:        m.Version,
		Channel:        ch,
		Architecture:   m.Architecture,
		Framework:      m.Framework,
		Permissions:    m.Permissions,
		DownloadURL:    downloadURL,
		DownloadSha512: sha,
		Filesize:       m.InstalledSize,
		DownloadSize:   size,
		Downloads:      0,
		CreatedDate:    st.clock.Now().UTC(),
	})

	if refreshMeta && m.IconPath != "" {
		ext := strings.ToLower(filepath.Ext(m.IconPath))
		if iconExtensions.Contains(ext) {
			icon, err := st.store.PutIcon(m.IconPath, p.doc.Id, m.Version)
			if err != nil {
				return errors.Annotatef(err, "cannot place icon for %q", p.doc.Id)
			}
			p.doc.Icon = icon
		}
	}

	if changelog != "" {
		p.prependChangelog(changelog)
	}

	channels := p.Channels()
	channels.Add(ch)
	p.doc.Channels = channels.SortedValues()
	p.doc.Architectures = arch.Transition(p.Architectures(), m.Architecture).SortedValues()

	logger.Debugf("package %q: appended revision %d (%s/%s/%s)",
		p.doc.Id, p.doc.Revisions[len(p.doc.Revisions)-1].Revision, m.Version, ch, m.Architecture)
	return nil
}

// validateAgainstLedger enforces the ledger invariants for the new
// (version, channel, architecture) coordinates.
func (p *Package) validateAgainstLedger(m *manifest.Manifest, ch string) error {
	var group []*revisionDoc
	for i := range p.doc.Revisions {
		rev := &p.doc.Revisions[i]
		if rev.Version != m.Version || rev.Channel != ch {
			continue
		}
		if rev.Architecture == m.Architecture {
			return fmt.Errorf("%s/%s/%s%w", m.Version, ch, m.Architecture, errors.Hide(ErrExistingVersion))
		}
		group = append(group, rev)
	}
	if len(group) == 0 {
		return nil
	}

	// A (version, channel) group is either all-generic or all-specific,
	// never mixed.
	groupHasAll := false
	for _, rev := range group {
		if arch.IsAll(rev.Architecture) {
			groupHasAll = true
			break
		}
	}
	if arch.IsAll(m.Architecture) && !groupHasAll {
		return fmt.Errorf("%s/%s%w", m.Version, ch, errors.Hide(ErrNoAll))
	}
	if !arch.IsAll(m.Architecture) && groupHasAll {
		return fmt.Errorf("%s/%s%w", m.Version, ch, errors.Hide(ErrNoNonAll))
	}

	// The first member of the group pins the framework and the
	// permission envelope for everything that follows.
	first := group[0]
	if m.Framework != first.Framework {
		return fmt.Errorf("%q != %q%w", m.Framework, first.Framework, errors.Hide(ErrMismatchedFramework))
	}
	granted := set.NewStrings(first.Permissions...)
	if !granted.IsEmpty() {
		for _, perm := range m.Permissions {
			if !granted.Contains(perm) {
				return fmt.Errorf("permission %q not granted to %s/%s%w", perm, m.Version, ch, errors.Hide(ErrMismatchedPermissions))
			}
		}
	}
	return nil
}

// prependChangelog adds a markup-stripped note above the existing
// changelog, newest first.
func (p *Package) prependChangelog(note string) {
	stripped := strings.TrimSpace(changelogPolicy.Sanitize(note))
	if stripped == "" {
		return
	}
	if p.doc.Changelog == "" {
		p.doc.Changelog = stripped
		return
	}
	p.doc.Changelog = stripped + "\n\n" + p.doc.Changelog
}

// validChannel checks the channel against the store's configured set,
// falling back to the built-in vocabulary.
func (st *State) validChannel(ch string) error {
	if len(st.channels) == 0 {
		return errors.Trace(channel.Validate(ch))
	}
	for _, known := range st.channels {
		if ch == known {
			return nil
		}
	}
	return errors.NotValidf("channel %q", ch)
}
