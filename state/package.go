// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import (
	"time"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
)

// revisionDoc represents one immutable entry of a package's revision
// ledger in MongoDB. Revisions are only ever appended by the ingestion
// pipeline; the single exception is DownloadURL, which a separate file
// retention process may clear while keeping the history entry.
type revisionDoc struct {
	// Revision is the package-scoped, monotonically increasing revision
	// number, starting at 1. Numbers are never reused or reordered.
	Revision int `bson:"revision"`

	Version      string `bson:"version"`
	Channel      string `bson:"channel"`
	Architecture string `bson:"architecture"`
	Framework    string `bson:"framework,omitempty"`

	// Permissions are the apparmor policy groups granted to this
	// revision's artifact.
	Permissions []string `bson:"permissions,omitempty"`

	// DownloadURL is the canonical location of the artifact, or empty
	// when the backing file has been removed but history is kept.
	DownloadURL    string `bson:"download_url,omitempty"`
	DownloadSha512 string `bson:"download_sha512,omitempty"`

	// Filesize is the unpacked size in kilobytes declared by the
	// archive; DownloadSize is the size of the artifact on disk.
	Filesize     int64 `bson:"filesize,omitempty"`
	DownloadSize int64 `bson:"download_size,omitempty"`

	Downloads   int64     `bson:"downloads"`
	CreatedDate time.Time `bson:"created_date"`
}

// packageDoc represents the internal state of a click package in
// MongoDB. The document is the aggregate root: the revision ledger is
// embedded and the whole document is saved in one write, serialised by
// the per-package revision lock.
type packageDoc struct {
	Id          string `bson:"_id"`
	Title       string `bson:"title,omitempty"`
	Description string `bson:"description,omitempty"`

	// Maintainer is a weak reference to the maintainer record's id; the
	// maintainer is not owned by the package.
	Maintainer string `bson:"maintainer,omitempty"`

	Icon      string `bson:"icon,omitempty"`
	Changelog string `bson:"changelog,omitempty"`

	// Architectures and Channels are the tags the package currently
	// advertises. ChannelArchitectures and DeviceCompatibilities are
	// derived from them and from the ledger by the compatibility index
	// builder, and mirrored into the search index.
	Architectures         []string `bson:"architectures,omitempty"`
	Channels              []string `bson:"channels,omitempty"`
	ChannelArchitectures  []string `bson:"channel_architectures,omitempty"`
	DeviceCompatibilities []string `bson:"device_compatibilities,omitempty"`

	Revisions []revisionDoc `bson:"revisions,omitempty"`

	CreatedDate time.Time `bson:"created_date"`
	UpdatedDate time.Time `bson:"updated_date,omitempty"`
}

// Revision represents one entry of a package's revision ledger.
type Revision struct {
	doc revisionDoc
}

// Number returns the package-scoped revision number.
func (r *Revision) Number() int {
	return r.doc.Revision
}

// Version returns the free-form version string of the revision.
func (r *Revision) Version() string {
	return r.doc.Version
}

// Channel returns the channel the revision was published to.
func (r *Revision) Channel() string {
	return r.doc.Channel
}

// Architecture returns the architecture tag of the revision, possibly a
// legacy comma-joined list.
func (r *Revision) Architecture() string {
	return r.doc.Architecture
}

// Framework returns the platform compatibility tag of the revision.
func (r *Revision) Framework() string {
	return r.doc.Framework
}

// Permissions returns the apparmor policy groups of the revision.
func (r *Revision) Permissions() []string {
	out := make([]string, len(r.doc.Permissions))
	copy(out, r.doc.Permissions)
	return out
}

// DownloadURL returns the canonical artifact location, or empty if the
// backing file has been removed.
func (r *Revision) DownloadURL() string {
	return r.doc.DownloadURL
}

// DownloadSha512 returns the content digest of the artifact.
func (r *Revision) DownloadSha512() string {
	return r.doc.DownloadSha512
}

// Filesize returns the unpacked size in kilobytes.
func (r *Revision) Filesize() int64 {
	return r.doc.Filesize
}

// DownloadSize returns the artifact size on disk in bytes.
func (r *Revision) DownloadSize() int64 {
	return r.doc.DownloadSize
}

// Downloads returns the download counter of the revision.
func (r *Revision) Downloads() int64 {
	return r.doc.Downloads
}

// CreatedDate returns the time the revision was appended.
func (r *Revision) CreatedDate() time.Time {
	return r.doc.CreatedDate
}

// Package represents the state of a click package in the store.
type Package struct {
	st  *State
	doc packageDoc
}

func newPackage(st *State, doc *packageDoc) *Package {
	return &Package{st: st, doc: *doc}
}

func (p *Package) String() string {
	return p.doc.Id
}

// Id returns the stable slug that identifies the package.
func (p *Package) Id() string {
	return p.doc.Id
}

// Title returns the presentation title of the package.
func (p *Package) Title() string {
	return p.doc.Title
}

// Description returns the presentation description of the package.
func (p *Package) Description() string {
	return p.doc.Description
}

// Maintainer returns the id of the maintainer record owning the
// package.
func (p *Package) Maintainer() string {
	return p.doc.Maintainer
}

// Icon returns the canonical icon location, or empty.
func (p *Package) Icon() string {
	return p.doc.Icon
}

// Changelog returns the accumulated changelog, newest entry first.
func (p *Package) Changelog() string {
	return p.doc.Changelog
}

// Architectures returns the architecture tags the package currently
// advertises.
func (p *Package) Architectures() set.Strings {
	return set.NewStrings(p.doc.Architectures...)
}

// Channels returns the channels the package has published into.
func (p *Package) Channels() set.Strings {
	return set.NewStrings(p.doc.Channels...)
}

// ChannelArchitectures returns the derived channel:architecture tokens.
func (p *Package) ChannelArchitectures() []string {
	out := make([]string, len(p.doc.ChannelArchitectures))
	copy(out, p.doc.ChannelArchitectures)
	return out
}

// DeviceCompatibilities returns the derived
// channel:architecture:framework tokens.
func (p *Package) DeviceCompatibilities() []string {
	out := make([]string, len(p.doc.DeviceCompatibilities))
	copy(out, p.doc.DeviceCompatibilities)
	return out
}

// Revisions returns the package's revision ledger in append order.
func (p *Package) Revisions() []*Revision {
	out := make([]*Revision, len(p.doc.Revisions))
	for i := range p.doc.Revisions {
		out[i] = &Revision{doc: p.doc.Revisions[i]}
	}
	return out
}

// Revision returns the ledger entry with the given revision number.
func (p *Package) Revision(number int) (*Revision, error) {
	for i := range p.doc.Revisions {
		if p.doc.Revisions[i].Revision == number {
			return &Revision{doc: p.doc.Revisions[i]}, nil
		}
	}
	return nil, errors.NotFoundf("revision %d of package %q", number, p.doc.Id)
}

// NextRevision returns the revision number the next appended entry will
// get: one above the highest number in the ledger, 1 for an empty one.
func (p *Package) NextRevision() int {
	next := 1
	for i := range p.doc.Revisions {
		if p.doc.Revisions[i].Revision >= next {
			next = p.doc.Revisions[i].Revision + 1
		}
	}
	return next
}

// Refresh reloads the package document from the database.
func (p *Package) Refresh() error {
	doc, err := p.st.packageDoc(p.doc.Id)
	if err != nil {
		return errors.Trace(err)
	}
	p.doc = *doc
	return nil
}

// Save persists the whole package document. The caller must hold the
// package's revision lock for any save that changes the ledger, the
// channel set or the architecture set; the write is last-writer-wins.
func (p *Package) Save() error {
	packages, closer := p.st.getCollection(packagesC)
	defer closer()

	p.doc.UpdatedDate = p.st.clock.Now().UTC()
	if err := packages.UpdateId(p.doc.Id, p.doc); err != nil {
		return errors.Annotatef(err, "cannot save package %q", p.doc.Id)
	}
	return nil
}
