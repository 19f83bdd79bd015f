// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/clickstore/clickstore/core/manifest"
)

type fakeParser struct {
	manifests map[string]*manifest.Manifest
	err       error
}

func (f *fakeParser) Parse(path string) (*manifest.Manifest, error) {
	if f.err != nil {
		return nil, f.err
	}
	m, ok := f.manifests[path]
	if !ok {
		return nil, errors.Errorf("unexpected parse of %q", path)
	}
	return m, nil
}

type fakeStore struct {
	artifacts []string
	icons     []string
	putErr    error
}

func (f *fakeStore) PutArtifact(staged, id, channel, architecture, version string) (string, error) {
	if f.putErr != nil {
		return "", f.putErr
	}
	path := fmt.Sprintf("/data/%s-%s-%s-%s.click", id, channel, architecture, version)
	f.artifacts = append(f.artifacts, path)
	return path, nil
}

func (f *fakeStore) PutIcon(src, id, version string) (string, error) {
	path := fmt.Sprintf("/icons/%s-%s%s", id, version, filepath.Ext(src))
	f.icons = append(f.icons, path)
	return path, nil
}

type fakeChecksum struct{}

func (fakeChecksum) Digest(path string) (string, int64, error) {
	return "cafef00d", 4096, nil
}

type ingestSuite struct {
	testing.IsolationSuite
	parser *fakeParser
	store  *fakeStore
	clock  *testclock.Clock
	st     *State
}

var _ = gc.Suite(&ingestSuite{})

func (s *ingestSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.parser = &fakeParser{manifests: make(map[string]*manifest.Manifest)}
	s.store = &fakeStore{}
	s.clock = testclock.NewClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	s.st = &State{
		parser:         s.parser,
		store:          s.store,
		checksum:       fakeChecksum{},
		defaultChannel: "focal",
		channels:       []string{"xenial", "focal"},
		clock:          s.clock,
	}
}

func (s *ingestSuite) newPackage(revisions ...revisionDoc) *Package {
	return &Package{st: s.st, doc: packageDoc{
		Id:        "com.example.app",
		Revisions: revisions,
	}}
}

func (s *ingestSuite) stage(m *manifest.Manifest) string {
	path := fmt.Sprintf("/tmp/upload-%d.click", len(s.parser.manifests))
	s.parser.manifests[path] = m
	return path
}

func baseManifest() *manifest.Manifest {
	return &manifest.Manifest{
		Name:         "com.example.app",
		Version:      "1.0.0",
		Architecture: "arm64",
		Framework:    "ubuntu-sdk-20.04",
		Permissions:  []string{"networking"},
		Title:        "Example",
		Description:  "An example application.",
	}
}

func (s *ingestSuite) TestFirstRevision(c *gc.C) {
	p := s.newPackage()
	staged := s.stage(baseManifest())
	err := p.CreateRevisionFromClick(staged, "focal", "")
	c.Assert(err, jc.ErrorIsNil)

	revs := p.Revisions()
	c.Assert(revs, gc.HasLen, 1)
	c.Check(revs[0].Number(), gc.Equals, 1)
	c.Check(revs[0].Version(), gc.Equals, "1.0.0")
	c.Check(revs[0].Channel(), gc.Equals, "focal")
	c.Check(revs[0].Architecture(), gc.Equals, "arm64")
	c.Check(revs[0].Downloads(), gc.Equals, int64(0))
	c.Check(revs[0].DownloadSha512(), gc.Equals, "cafef00d")
	c.Check(revs[0].DownloadSize(), gc.Equals, int64(4096))
	c.Check(revs[0].DownloadURL(), gc.Equals, "/data/com.example.app-focal-arm64-1.0.0.click")
	c.Check(revs[0].CreatedDate(), gc.Equals, s.clock.Now().UTC())

	c.Check(p.Title(), gc.Equals, "Example")
	c.Check(p.Description(), gc.Equals, "An example application.")
	c.Check(p.Channels().SortedValues(), jc.DeepEquals, []string{"focal"})
	c.Check(p.Architectures().SortedValues(), jc.DeepEquals, []string{"arm64"})
}

func (s *ingestSuite) TestParseFailure(c *gc.C) {
	s.parser.err = errors.New("not an ar archive")
	p := s.newPackage()
	err := p.CreateRevisionFromClick("/tmp/bogus", "focal", "")
	c.Assert(err, jc.ErrorIs, ErrBadUpload)
	c.Check(p.Revisions(), gc.HasLen, 0)
}

func (s *ingestSuite) TestMalformedManifest(c *gc.C) {
	m := baseManifest()
	m.Version = ""
	p := s.newPackage()
	err := p.CreateRevisionFromClick(s.stage(m), "focal", "")
	c.Assert(err, jc.ErrorIs, ErrMalformedManifest)
}

func (s *ingestSuite) TestWrongPackage(c *gc.C) {
	m := baseManifest()
	m.Name = "com.example.other"
	p := s.newPackage()
	err := p.CreateRevisionFromClick(s.stage(m), "focal", "")
	c.Assert(err, jc.ErrorIs, ErrWrongPackage)
}

func (s *ingestSuite) TestInvalidChannel(c *gc.C) {
	p := s.newPackage()
	err := p.CreateRevisionFromClick(s.stage(baseManifest()), "bionic", "")
	c.Assert(err, jc.ErrorIs, ErrInvalidChannel)
}

func (s *ingestSuite) TestExistingVersion(c *gc.C) {
	p := s.newPackage(revisionDoc{
		Revision: 1, Version: "1.0.0", Channel: "focal", Architecture: "arm64",
		Framework: "ubuntu-sdk-20.04",
	})
	err := p.CreateRevisionFromClick(s.stage(baseManifest()), "focal", "")
	c.Assert(err, jc.ErrorIs, ErrExistingVersion)
	c.Check(p.Revisions(), gc.HasLen, 1)
}

func (s *ingestSuite) TestSameVersionDifferentChannelAllowed(c *gc.C) {
	p := s.newPackage(revisionDoc{
		Revision: 1, Version: "1.0.0", Channel: "xenial", Architecture: "arm64",
		Framework: "ubuntu-sdk-20.04",
	})
	err := p.CreateRevisionFromClick(s.stage(baseManifest()), "focal", "")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(p.Revisions(), gc.HasLen, 2)
	c.Check(p.Revisions()[1].Number(), gc.Equals, 2)
}

func (s *ingestSuite) TestNoAll(c *gc.C) {
	p := s.newPackage(revisionDoc{
		Revision: 1, Version: "1.0.0", Channel: "focal", Architecture: "armhf",
		Framework: "ubuntu-sdk-20.04",
	})
	m := baseManifest()
	m.Architecture = "all"
	err := p.CreateRevisionFromClick(s.stage(m), "focal", "")
	c.Assert(err, jc.ErrorIs, ErrNoAll)
}

func (s *ingestSuite) TestNoNonAll(c *gc.C) {
	p := s.newPackage(revisionDoc{
		Revision: 1, Version: "1.0.0", Channel: "focal", Architecture: "all",
		Framework: "ubuntu-sdk-20.04",
	})
	err := p.CreateRevisionFromClick(s.stage(baseManifest()), "focal", "")
	c.Assert(err, jc.ErrorIs, ErrNoNonAll)
}

func (s *ingestSuite) TestMismatchedFramework(c *gc.C) {
	p := s.newPackage(revisionDoc{
		Revision: 1, Version: "1.0.0", Channel: "focal", Architecture: "armhf",
		Framework: "ubuntu-sdk-16.04",
	})
	err := p.CreateRevisionFromClick(s.stage(baseManifest()), "focal", "")
	c.Assert(err, jc.ErrorIs, ErrMismatchedFramework)
}

func (s *ingestSuite) TestFrameworkPinnedByFirstGroupMember(c *gc.C) {
	// The first ledger entry of the (version, channel) group is the
	// reference, not the latest one.
	p := s.newPackage(
		revisionDoc{
			Revision: 1, Version: "1.0.0", Channel: "focal", Architecture: "armhf",
			Framework: "ubuntu-sdk-20.04",
		},
		revisionDoc{
			Revision: 2, Version: "1.0.0", Channel: "focal", Architecture: "amd64",
			Framework: "ubuntu-sdk-20.04",
		},
	)
	err := p.CreateRevisionFromClick(s.stage(baseManifest()), "focal", "")
	c.Assert(err, jc.ErrorIsNil)
}

func (s *ingestSuite) TestMismatchedPermissions(c *gc.C) {
	// A new group member may not introduce a permission the first
	// member was not granted.
	p := s.newPackage(revisionDoc{
		Revision: 1, Version: "1.0.0", Channel: "focal", Architecture: "armhf",
		Framework: "ubuntu-sdk-20.04", Permissions: []string{"networking"},
	})
	m := baseManifest()
	m.Permissions = []string{"networking", "camera"}
	err := p.CreateRevisionFromClick(s.stage(m), "focal", "")
	c.Assert(err, jc.ErrorIs, ErrMismatchedPermissions)
}

func (s *ingestSuite) TestPermissionsMayShrink(c *gc.C) {
	// The check is one-directional: staying within the envelope the
	// first member granted is fine, including dropping permissions.
	p := s.newPackage(revisionDoc{
		Revision: 1, Version: "1.0.0", Channel: "focal", Architecture: "armhf",
		Framework: "ubuntu-sdk-20.04", Permissions: []string{"networking", "camera"},
	})
	m := baseManifest()
	m.Permissions = []string{"camera"}
	err := p.CreateRevisionFromClick(s.stage(m), "focal", "")
	c.Assert(err, jc.ErrorIsNil)
}

func (s *ingestSuite) TestEmptyEnvelopePermitsAnything(c *gc.C) {
	// An empty permission set on the first member disables the check.
	p := s.newPackage(revisionDoc{
		Revision: 1, Version: "1.0.0", Channel: "focal", Architecture: "armhf",
		Framework: "ubuntu-sdk-20.04",
	})
	m := baseManifest()
	m.Permissions = []string{"camera", "microphone"}
	err := p.CreateRevisionFromClick(s.stage(m), "focal", "")
	c.Assert(err, jc.ErrorIsNil)
}

func (s *ingestSuite) TestMetadataPreservedOffDefaultChannel(c *gc.C) {
	p := s.newPackage(revisionDoc{
		Revision: 1, Version: "0.9.0", Channel: "focal", Architecture: "arm64",
		Framework: "ubuntu-sdk-20.04",
	})
	p.doc.Title = "Original"
	p.doc.Description = "Original description."

	m := baseManifest()
	m.Title = "Renamed"
	m.Description = "New description."
	err := p.CreateRevisionFromClick(s.stage(m), "xenial", "")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(p.Title(), gc.Equals, "Original")
	c.Check(p.Description(), gc.Equals, "Original description.")
}

func (s *ingestSuite) TestMetadataSeededByFirstRevisionEver(c *gc.C) {
	// The very first revision refreshes metadata even off the default
	// channel.
	p := s.newPackage()
	err := p.CreateRevisionFromClick(s.stage(baseManifest()), "xenial", "")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(p.Title(), gc.Equals, "Example")
}

func (s *ingestSuite) TestIconInstalled(c *gc.C) {
	m := baseManifest()
	m.IconPath = "/tmp/icon.png"
	p := s.newPackage()
	err := p.CreateRevisionFromClick(s.stage(m), "focal", "")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(p.Icon(), gc.Equals, "/icons/com.example.app-1.0.0.png")
}

func (s *ingestSuite) TestIconExtensionAllowList(c *gc.C) {
	m := baseManifest()
	m.IconPath = "/tmp/icon.exe"
	p := s.newPackage()
	err := p.CreateRevisionFromClick(s.stage(m), "focal", "")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(p.Icon(), gc.Equals, "")
	c.Check(s.store.icons, gc.HasLen, 0)
}

func (s *ingestSuite) TestChangelogPrependedAndStripped(c *gc.C) {
	p := s.newPackage()
	p.doc.Changelog = "older entry"
	err := p.CreateRevisionFromClick(s.stage(baseManifest()), "focal", "<b>Fixed</b> a <script>hack()</script>bug")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(p.Changelog(), gc.Equals, "Fixed a bug\n\nolder entry")
}

func (s *ingestSuite) TestArchitectureTransitionToAll(c *gc.C) {
	// Starts {"arm64"} with (1.0.0, focal, arm64); uploading
	// (2.0.0, focal, all) collapses the set to {"all"}.
	p := s.newPackage(revisionDoc{
		Revision: 1, Version: "1.0.0", Channel: "focal", Architecture: "arm64",
		Framework: "ubuntu-sdk-20.04",
	})
	p.doc.Architectures = []string{"arm64"}
	p.doc.Channels = []string{"focal"}

	m := baseManifest()
	m.Version = "2.0.0"
	m.Architecture = "all"
	err := p.CreateRevisionFromClick(s.stage(m), "focal", "")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(p.Architectures().SortedValues(), jc.DeepEquals, []string{"all"})

	p.UpdateCalculatedProperties()
	rev, i := p.LatestRevision(ResolveArgs{Channel: "focal", Architecture: "armhf", DetectAll: true})
	c.Assert(i, gc.Not(gc.Equals), -1)
	c.Check(rev.Architecture(), gc.Equals, "all")
}

func (s *ingestSuite) TestArchitectureTransitionFromAll(c *gc.C) {
	// Starts {"all"} with (1.0.0, focal, all); uploading
	// (2.0.0, focal, armhf) replaces the set with {"armhf"}.
	p := s.newPackage(revisionDoc{
		Revision: 1, Version: "1.0.0", Channel: "focal", Architecture: "all",
		Framework: "ubuntu-sdk-20.04",
	})
	p.doc.Architectures = []string{"all"}
	p.doc.Channels = []string{"focal"}

	m := baseManifest()
	m.Version = "2.0.0"
	m.Architecture = "armhf"
	err := p.CreateRevisionFromClick(s.stage(m), "focal", "")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(p.Architectures().SortedValues(), jc.DeepEquals, []string{"armhf"})
}

func (s *ingestSuite) TestValidationErrorsAreEnumerable(c *gc.C) {
	p := s.newPackage()
	s.parser.err = errors.New("boom")
	err := p.CreateRevisionFromClick("/tmp/x", "focal", "")
	c.Check(IsValidationError(err), jc.IsTrue)
	c.Check(IsValidationError(errors.New("boom")), jc.IsFalse)
}
