// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package state implements the revision-management core of the store:
// the package/revision ledger, the revision resolver, the click
// ingestion pipeline and the compatibility index builder, all backed by
// a single authoritative MongoDB instance shared by every worker
// process.
package state

import (
	"fmt"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/mgo/v3"
	"github.com/juju/mgo/v3/bson"

	"github.com/clickstore/clickstore/core/manifest"
	"github.com/clickstore/clickstore/state/lock"
)

var logger = loggo.GetLogger("clickstore.state")

const (
	packagesC = "packages"
	locksC    = "locks"
)

// ClickParser parses a click archive on disk into its manifest. It is
// implemented by internal/click; tests substitute fakes.
type ClickParser interface {
	Parse(path string) (*manifest.Manifest, error)
}

// ArtifactStore places uploaded artifacts and icons at their canonical
// locations. It is implemented by internal/storage.
type ArtifactStore interface {
	// PutArtifact copies the staged upload to the canonical artifact
	// path for the supplied coordinates, removes the staging file, and
	// returns the canonical path.
	PutArtifact(stagedPath, id, channel, architecture, version string) (string, error)

	// PutIcon copies the extracted icon to the canonical icon path and
	// returns it.
	PutIcon(srcPath, id, version string) (string, error)
}

// Checksummer digests an artifact on disk.
type Checksummer interface {
	// Digest returns the sha512 hex digest and byte size of the file.
	Digest(path string) (string, int64, error)
}

// Params holds the collaborators and policy a State needs beyond its
// mongo session.
type Params struct {
	// Database is the mongo database name.
	Database string

	// Parser, Store and Checksum are the ingestion collaborators.
	Parser   ClickParser
	Store    ArtifactStore
	Checksum Checksummer

	// DefaultChannel is the channel whose uploads refresh package
	// presentation metadata.
	DefaultChannel string

	// Channels are the channels the store publishes.
	Channels []string

	// Clock is the time source; clock.WallClock outside tests.
	Clock clock.Clock

	// LockPolicy tunes lock acquisition; zero means defaults.
	LockPolicy lock.Policy
}

// State exposes the store's persistent state.
type State struct {
	session        *mgo.Session
	database       string
	parser         ClickParser
	store          ArtifactStore
	checksum       Checksummer
	defaultChannel string
	channels       []string
	clock          clock.Clock
	lockPolicy     lock.Policy
}

// NewState returns a State using the supplied session. The session is
// owned by the caller; every operation copies it, so the State is safe
// for concurrent use within a worker.
func NewState(session *mgo.Session, p Params) (*State, error) {
	if p.Database == "" {
		return nil, errors.NotValidf("empty database name")
	}
	if p.Clock == nil {
		return nil, errors.NotValidf("nil clock")
	}
	st := &State{
		session:        session,
		database:       p.Database,
		parser:         p.Parser,
		store:          p.Store,
		checksum:       p.Checksum,
		defaultChannel: p.DefaultChannel,
		channels:       p.Channels,
		clock:          p.Clock,
		lockPolicy:     p.LockPolicy,
	}
	return st, nil
}

// getCollection fetches a named collection on a fresh copy of the
// session, returning the collection and a closer for the copy.
func (st *State) getCollection(name string) (*mgo.Collection, func()) {
	session := st.session.Copy()
	return session.DB(st.database).C(name), session.Close
}

// EnsureIndexes creates the indexes the state layer relies on. The lock
// collection's uniqueness comes from _id; the expire index keeps stale
// lock purges cheap.
func (st *State) EnsureIndexes() error {
	locks, closer := st.getCollection(locksC)
	defer closer()
	if err := locks.EnsureIndex(mgo.Index{Key: []string{"expire"}}); err != nil {
		return errors.Annotate(err, "cannot ensure lock expiry index")
	}
	return nil
}

func (st *State) packageDoc(id string) (*packageDoc, error) {
	packages, closer := st.getCollection(packagesC)
	defer closer()

	var doc packageDoc
	err := packages.FindId(id).One(&doc)
	if err == mgo.ErrNotFound {
		return nil, errors.NotFoundf("package %q", id)
	}
	if err != nil {
		return nil, errors.Annotatef(err, "cannot get package %q", id)
	}
	return &doc, nil
}

// Package returns the package with the given id.
func (st *State) Package(id string) (*Package, error) {
	doc, err := st.packageDoc(id)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return newPackage(st, doc), nil
}

// AddPackage registers a new package with an empty ledger, owned by the
// supplied maintainer id.
func (st *State) AddPackage(id, maintainer string) (*Package, error) {
	if id == "" {
		return nil, errors.NotValidf("empty package id")
	}
	packages, closer := st.getCollection(packagesC)
	defer closer()

	doc := packageDoc{
		Id:          id,
		Maintainer:  maintainer,
		CreatedDate: st.clock.Now().UTC(),
	}
	err := packages.Insert(doc)
	if mgo.IsDup(err) {
		return nil, errors.AlreadyExistsf("package %q", id)
	}
	if err != nil {
		return nil, errors.Annotatef(err, "cannot add package %q", id)
	}
	return newPackage(st, &doc), nil
}

// IncrementDownloads atomically bumps the download counter of the
// ledger entry at the given position. It deliberately bypasses the
// revision lock: a counter bump does not conflict with ledger structure
// changes.
func (st *State) IncrementDownloads(p *Package, index int) error {
	if index < 0 || index >= len(p.doc.Revisions) {
		return errors.NotValidf("revision index %d", index)
	}
	packages, closer := st.getCollection(packagesC)
	defer closer()

	field := fmt.Sprintf("revisions.%d.downloads", index)
	err := packages.UpdateId(p.doc.Id, bson.M{"$inc": bson.M{field: 1}})
	if err != nil {
		return errors.Annotatef(err, "cannot count download of package %q", p.doc.Id)
	}
	return nil
}

// RevisionLockName returns the lock name that serialises ledger
// mutations for the package with the given id.
func RevisionLockName(id string) string {
	return "revision-" + id
}

// LockManager returns a lock manager over the state's lock collection.
// The returned manager owns a session copy; callers must Close it.
func (st *State) LockManager() *lock.Manager {
	session := st.session.Copy()
	return lock.NewManager(lock.ManagerConfig{
		Collection: session.DB(st.database).C(locksC),
		Closer:     session.Close,
		Clock:      st.clock,
		Policy:     st.lockPolicy,
	})
}
