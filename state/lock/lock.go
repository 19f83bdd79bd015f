// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package lock implements named, TTL-bounded mutual exclusion across
// worker processes, backed by the uniqueness of document ids in a
// shared MongoDB collection. It provides best-effort exclusion for
// human-rate upload traffic against a single authoritative database; it
// is not a general distributed lock service and offers no fencing
// tokens or partition guarantees.
package lock

import (
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/mgo/v3"
	"github.com/juju/mgo/v3/bson"
	"github.com/juju/retry"
)

var logger = loggo.GetLogger("clickstore.state.lock")

// Timeout is how long a held lock stays valid. A worker that dies
// mid-operation leaves a lock that self-expires after this long; the
// next acquirer purges it before inserting its own.
const Timeout = 30 * time.Second

const (
	defaultAttempts = 100
	defaultDelay    = 500 * time.Millisecond
)

// ErrTimeout is returned by Acquire when the retry budget is exhausted
// while another holder stays active.
const ErrTimeout = errors.ConstError("timed out waiting for lock")

// errContended distinguishes an active holder from an infrastructure
// fault inside the retry loop.
const errContended = errors.ConstError("lock is held")

// lockDoc is the transient coordination record. The name doubles as the
// document id, so the collection's unique _id index is the mutual
// exclusion constraint. Times are stored as UnixNano so no precision is
// lost across the round trip.
type lockDoc struct {
	Name     string `bson:"_id"`
	Expire   int64  `bson:"expire"`
	Inserted int64  `bson:"inserted"`
}

// Lock is a held lease. It is only ever produced by a successful
// Acquire.
type Lock struct {
	// Name is the lock's unique name.
	Name string

	// Expire is the absolute deadline after which the lock no longer
	// excludes anyone.
	Expire time.Time

	// Inserted is when the lock was taken.
	Inserted time.Time
}

// Policy tunes the acquire retry loop. It is injectable so tests can
// run the loop without real sleeping.
type Policy struct {
	// Attempts is the retry budget; 0 means the default of 100.
	Attempts int

	// Delay is the wait between attempts; 0 means the default of 500ms.
	Delay time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.Attempts == 0 {
		p.Attempts = defaultAttempts
	}
	if p.Delay == 0 {
		p.Delay = defaultDelay
	}
	return p
}

// ManagerConfig holds a Manager's collaborators.
type ManagerConfig struct {
	// Collection is the lock collection. The manager only ever touches
	// documents whose _id it is asked about.
	Collection *mgo.Collection

	// Closer releases the session backing Collection; may be nil.
	Closer func()

	// Clock is the time source.
	Clock clock.Clock

	// Policy tunes acquisition; the zero value means defaults.
	Policy Policy
}

// Manager acquires and releases named locks.
type Manager struct {
	coll   *mgo.Collection
	closer func()
	clock  clock.Clock
	policy Policy
}

// NewManager returns a Manager for the supplied configuration.
func NewManager(config ManagerConfig) *Manager {
	return &Manager{
		coll:   config.Collection,
		closer: config.Closer,
		clock:  config.Clock,
		policy: config.Policy.withDefaults(),
	}
}

// Close releases the session backing the manager's collection.
func (m *Manager) Close() {
	if m.closer != nil {
		m.closer()
	}
}

// Acquire takes the named lock, blocking while another unexpired holder
// exists. Each attempt first deletes any row for the name whose expiry
// has passed, then inserts a fresh row; only a duplicate-key failure is
// retried. Returns ErrTimeout once the retry budget is exhausted.
func (m *Manager) Acquire(name string) (*Lock, error) {
	var held *Lock
	var lastErr error
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			l, err := m.attempt(name)
			if err != nil {
				return errors.Trace(err)
			}
			held = l
			return nil
		},
		IsFatalError: func(err error) bool {
			return !errors.Is(err, errContended)
		},
		NotifyFunc: func(err error, attempt int) {
			logger.Tracef("lock %q held, attempt %d: %v", name, attempt, err)
			lastErr = err
		},
		Attempts: m.policy.Attempts,
		Delay:    m.policy.Delay,
		Clock:    m.clock,
	})
	if retry.IsAttemptsExceeded(err) {
		logger.Debugf("gave up on lock %q: %v", name, lastErr)
		return nil, errors.Annotatef(ErrTimeout, "lock %q", name)
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	return held, nil
}

// attempt purges a stale row for name and tries to insert our own.
func (m *Manager) attempt(name string) (*Lock, error) {
	now := m.clock.Now()

	// Self-healing against crashed holders: an expired row no longer
	// excludes anyone, so remove it before trying to insert. ErrNotFound
	// just means there was nothing stale.
	err := m.coll.Remove(bson.D{
		{Name: "_id", Value: name},
		{Name: "expire", Value: bson.D{{Name: "$lt", Value: now.UnixNano()}}},
	})
	if err != nil && err != mgo.ErrNotFound {
		return nil, errors.Annotatef(err, "cannot purge stale lock %q", name)
	}

	doc := lockDoc{
		Name:     name,
		Expire:   now.Add(Timeout).UnixNano(),
		Inserted: now.UnixNano(),
	}
	err = m.coll.Insert(doc)
	if mgo.IsDup(err) {
		return nil, errors.Annotatef(errContended, "lock %q", name)
	}
	if err != nil {
		return nil, errors.Annotatef(err, "cannot insert lock %q", name)
	}
	return &Lock{
		Name:     name,
		Expire:   time.Unix(0, doc.Expire),
		Inserted: time.Unix(0, doc.Inserted),
	}, nil
}

// Release drops the lock row. Failure to release is logged and
// swallowed: the row self-expires, and the surrounding request must not
// fail solely because cleanup did.
func (m *Manager) Release(l *Lock) {
	if l == nil {
		return
	}
	if err := m.coll.RemoveId(l.Name); err != nil && err != mgo.ErrNotFound {
		logger.Errorf("cannot release lock %q: %v", l.Name, err)
	}
}
