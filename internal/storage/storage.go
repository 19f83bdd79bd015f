// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package storage places uploaded click artifacts and icons at their
// canonical filesystem locations. It only copies and deletes files;
// retention policy belongs elsewhere.
package storage

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/juju/errors"
)

// Store implements the file placement and checksum collaborators of the
// ingestion pipeline.
type Store struct {
	dataDir string
	iconDir string
}

// NewStore returns a Store rooted at the supplied directories, creating
// them if necessary.
func NewStore(dataDir, iconDir string) (*Store, error) {
	for _, dir := range []string{dataDir, iconDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Annotatef(err, "cannot create storage directory %q", dir)
		}
	}
	return &Store{dataDir: dataDir, iconDir: iconDir}, nil
}

// ArtifactPath returns the canonical location for an artifact with the
// supplied coordinates.
func (s *Store) ArtifactPath(id, channel, architecture, version string) string {
	return filepath.Join(s.dataDir, fmt.Sprintf("%s-%s-%s-%s.click", id, channel, architecture, version))
}

// IconPath returns the canonical location for a package icon. ext must
// include the leading dot.
func (s *Store) IconPath(id, version, ext string) string {
	return filepath.Join(s.iconDir, fmt.Sprintf("%s-%s%s", id, version, ext))
}

// PutArtifact copies the staged upload to its canonical path, removes
// the staging file and returns the canonical path.
func (s *Store) PutArtifact(stagedPath, id, channel, architecture, version string) (string, error) {
	target := s.ArtifactPath(id, channel, architecture, version)
	if err := copyFile(target, stagedPath); err != nil {
		return "", errors.Trace(err)
	}
	if err := os.Remove(stagedPath); err != nil {
		return "", errors.Annotatef(err, "cannot remove staged upload %q", stagedPath)
	}
	return target, nil
}

// PutIcon copies an extracted icon to its canonical path and returns
// it. The source file is left alone; the parser owns its temp files.
func (s *Store) PutIcon(srcPath, id, version string) (string, error) {
	target := s.IconPath(id, version, filepath.Ext(srcPath))
	if err := copyFile(target, srcPath); err != nil {
		return "", errors.Trace(err)
	}
	return target, nil
}

// Remove deletes a stored file. Missing files are not an error; the
// retention process may already have taken them.
func (s *Store) Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return errors.Trace(err)
	}
	return nil
}

// Digest returns the sha512 hex digest and size in bytes of the file at
// path.
func (s *Store) Digest(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, errors.Trace(err)
	}
	defer f.Close()

	hash := sha512.New()
	size, err := io.Copy(hash, f)
	if err != nil {
		return "", 0, errors.Annotatef(err, "cannot digest %q", path)
	}
	return hex.EncodeToString(hash.Sum(nil)), size, nil
}

func copyFile(target, source string) error {
	in, err := os.Open(source)
	if err != nil {
		return errors.Trace(err)
	}
	defer in.Close()

	out, err := os.Create(target)
	if err != nil {
		return errors.Trace(err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Annotatef(err, "cannot copy %q to %q", source, target)
	}
	return errors.Trace(out.Close())
}
