// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package click reads click package archives. A click is an ar
// container holding a control.tar.gz with the package manifest and a
// data.tar.gz with the installed tree; the parser surfaces the manifest
// fields the ingestion pipeline needs, the apparmor policy groups
// requested by the package's hooks, and the package icon.
package click

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/blakesmith/ar"
	"github.com/juju/collections/set"
	"github.com/juju/errors"

	"github.com/clickstore/clickstore/core/manifest"
)

const (
	controlMember = "control.tar.gz"
	dataMember    = "data.tar.gz"
	manifestPath  = "manifest.json"
)

// Parser implements the archive parser collaborator of the ingestion
// pipeline.
type Parser struct{}

// NewParser returns a click archive parser.
func NewParser() *Parser {
	return &Parser{}
}

// clickManifest mirrors the manifest.json layout inside a click's
// control member.
type clickManifest struct {
	Name          string               `json:"name"`
	Title         string               `json:"title"`
	Description   string               `json:"description"`
	Version       string               `json:"version"`
	Architecture  architectures        `json:"architecture"`
	Framework     string               `json:"framework"`
	Icon          string               `json:"icon"`
	InstalledSize string               `json:"installed-size"`
	Hooks         map[string]clickHook `json:"hooks"`
}

type clickHook struct {
	Apparmor string `json:"apparmor"`
}

// architectures tolerates both manifest encodings: a plain string or a
// list, which the ledger records comma-joined.
type architectures string

func (a *architectures) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*a = architectures(single)
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return errors.Annotate(err, "unexpected architecture encoding")
	}
	*a = architectures(strings.Join(many, ","))
	return nil
}

// apparmorProfile mirrors the hook files that declare the policy groups
// a package requests.
type apparmorProfile struct {
	PolicyGroups []string `json:"policy_groups"`
}

// Parse reads the click archive at path. The returned manifest's
// IconPath, when set, points at a temp file the caller owns.
func (p *Parser) Parse(path string) (*manifest.Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer f.Close()

	// The control member precedes the data member in every click ever
	// built, so a single sequential pass sees the manifest before it
	// has to decide which data entries to extract.
	var cm *clickManifest
	permissions := set.NewStrings()
	iconPath := ""

	archive := ar.NewReader(f)
	for {
		hdr, err := archive.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Annotatef(err, "cannot read click archive %q", path)
		}
		switch memberName(hdr.Name) {
		case controlMember:
			cm, err = readControl(archive)
			if err != nil {
				return nil, errors.Trace(err)
			}
		case dataMember:
			if cm == nil {
				return nil, errors.Errorf("click archive %q has no control member", path)
			}
			permissions, iconPath, err = readData(archive, cm)
			if err != nil {
				return nil, errors.Trace(err)
			}
		}
	}
	if cm == nil {
		return nil, errors.Errorf("click archive %q has no control member", path)
	}

	installedSize, _ := strconv.ParseInt(cm.InstalledSize, 10, 64)
	perms := permissions.Values()
	sort.Strings(perms)
	return &manifest.Manifest{
		Name:          cm.Name,
		Version:       cm.Version,
		Architecture:  string(cm.Architecture),
		Framework:     cm.Framework,
		Permissions:   perms,
		Title:         cm.Title,
		Description:   cm.Description,
		IconPath:      iconPath,
		InstalledSize: installedSize,
	}, nil
}

// memberName normalizes an ar member name; some writers pad names or
// terminate them with a slash.
func memberName(name string) string {
	return strings.TrimSuffix(strings.TrimSpace(name), "/")
}

// entryName normalizes a tar entry name relative to the archive root.
func entryName(name string) string {
	return strings.TrimPrefix(filepath.Clean(name), "./")
}

// readControl extracts the manifest from the control member.
func readControl(r io.Reader) (*clickManifest, error) {
	var cm *clickManifest
	err := walkTarGz(r, func(name string, content io.Reader) error {
		if entryName(name) != manifestPath {
			return nil
		}
		cm = &clickManifest{}
		if err := json.NewDecoder(content).Decode(cm); err != nil {
			return errors.Annotate(err, "cannot decode manifest.json")
		}
		return nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	if cm == nil {
		return nil, errors.New("click control member has no manifest.json")
	}
	return cm, nil
}

// readData streams the data member, collecting the policy groups of
// every apparmor hook and extracting the icon to a temp file.
func readData(r io.Reader, cm *clickManifest) (set.Strings, string, error) {
	apparmorFiles := set.NewStrings()
	for _, hook := range cm.Hooks {
		if hook.Apparmor != "" {
			apparmorFiles.Add(entryName(hook.Apparmor))
		}
	}

	permissions := set.NewStrings()
	iconPath := ""
	err := walkTarGz(r, func(name string, content io.Reader) error {
		name = entryName(name)
		if apparmorFiles.Contains(name) {
			var profile apparmorProfile
			if err := json.NewDecoder(content).Decode(&profile); err != nil {
				return errors.Annotatef(err, "cannot decode apparmor hook %q", name)
			}
			for _, group := range profile.PolicyGroups {
				permissions.Add(group)
			}
			return nil
		}
		if cm.Icon != "" && name == entryName(cm.Icon) {
			extracted, err := extractTemp(content, filepath.Ext(name))
			if err != nil {
				return errors.Trace(err)
			}
			iconPath = extracted
		}
		return nil
	})
	if err != nil {
		return set.NewStrings(), "", errors.Trace(err)
	}
	return permissions, iconPath, nil
}

// walkTarGz streams a gzipped tar, calling visit for every regular
// file.
func walkTarGz(r io.Reader, visit func(name string, content io.Reader) error) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return errors.Annotate(err, "cannot read gzip member")
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Annotate(err, "cannot read tar member")
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if err := visit(hdr.Name, tr); err != nil {
			return errors.Trace(err)
		}
	}
}

// extractTemp writes the entry content to a temp file preserving the
// extension, so downstream extension allow-lists see the real type.
func extractTemp(content io.Reader, ext string) (string, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, content); err != nil {
		return "", errors.Trace(err)
	}
	f, err := os.CreateTemp("", "click-icon-*"+ext)
	if err != nil {
		return "", errors.Trace(err)
	}
	defer f.Close()
	if _, err := f.Write(buf.Bytes()); err != nil {
		return "", errors.Trace(err)
	}
	return f.Name(), nil
}
