// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package apiserver

import (
	"io"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/juju/errors"

	"github.com/clickstore/clickstore/apiserver/params"
	"github.com/clickstore/clickstore/state"
)

// maxUploadMemory bounds the multipart parse buffer; the file part
// spools to disk beyond this.
const maxUploadMemory = 32 << 20

// serveUpload ingests one click upload: stage the file, take the
// package's revision lock, run the pipeline, rebuild the compatibility
// index and save, then hand the result to the search indexer.
func (s *Server) serveUpload(w http.ResponseWriter, r *http.Request) error {
	id := mux.Vars(r)["id"]
	if err := s.config.Authorizer.Authorize(r, id); err != nil {
		return errors.Trace(err)
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		return errors.Annotate(err, "cannot parse upload")
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return errors.Annotate(err, "upload has no file field")
	}
	defer file.Close()
	channel := r.FormValue("channel")
	changelog := r.FormValue("changelog")

	stagedPath, err := writeClickToTempFile(file)
	if err != nil {
		return errors.Trace(err)
	}
	// The pipeline moves the staged file on success; clean up whatever
	// is left behind on every other path.
	defer func() {
		if err := os.Remove(stagedPath); err != nil && !os.IsNotExist(err) {
			logger.Errorf("cannot remove staged upload %q: %v", stagedPath, err)
		}
	}()

	if s.config.Reviewer != nil {
		if err := s.config.Reviewer.Review(stagedPath); err != nil {
			return errors.Trace(err)
		}
	}

	// The read-modify-write below is only safe while we hold the
	// package's revision lock; release is best-effort and never fails
	// the request.
	manager := s.config.State.LockManager()
	defer manager.Close()
	held, err := manager.Acquire(state.RevisionLockName(id))
	if err != nil {
		return errors.Annotatef(err, "cannot lock package %q for upload", id)
	}
	defer manager.Release(held)

	pkg, err := s.config.State.Package(id)
	if err != nil {
		return errors.Trace(err)
	}
	if err := pkg.CreateRevisionFromClick(stagedPath, channel, changelog); err != nil {
		return errors.Trace(err)
	}
	pkg.UpdateCalculatedProperties()
	if err := pkg.Save(); err != nil {
		return errors.Trace(err)
	}

	if err := s.config.Indexer.Index(pkg); err != nil {
		// The ledger is saved; a stale search index self-corrects on the
		// next save, so log rather than fail the upload.
		logger.Errorf("cannot index package %q: %v", pkg.Id(), err)
	}

	return errors.Trace(sendStatusAndJSON(w, http.StatusOK, params.PackageResponse{
		Package: serializePackage(pkg),
	}))
}

func writeClickToTempFile(r io.Reader) (string, error) {
	tempFile, err := os.CreateTemp("", "click-upload")
	if err != nil {
		return "", errors.Annotate(err, "creating temp file")
	}
	defer tempFile.Close()
	if _, err := io.Copy(tempFile, r); err != nil {
		return "", errors.Annotate(err, "processing upload")
	}
	return tempFile.Name(), nil
}
