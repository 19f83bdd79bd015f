// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package apiserver

import (
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/gorilla/mux"
	"github.com/juju/errors"

	"github.com/clickstore/clickstore/state"
)

// serveDownload resolves the latest matching revision and streams its
// artifact. The download counter is bumped asynchronously by ledger
// position; counting deliberately bypasses the revision lock.
func (s *Server) serveDownload(w http.ResponseWriter, r *http.Request) error {
	vars := mux.Vars(r)
	id := vars["id"]

	pkg, err := s.config.State.Package(id)
	if err != nil {
		return errors.Trace(err)
	}
	rev, index := pkg.LatestRevision(state.ResolveArgs{
		Channel:      vars["channel"],
		Architecture: vars["arch"],
		DetectAll:    true,
		Version:      r.URL.Query().Get("version"),
	})
	if index == -1 {
		return errors.NotFoundf("no revision of %q for %s/%s", id, vars["channel"], vars["arch"])
	}
	if rev.DownloadURL() == "" {
		return errors.NotFoundf("artifact of %q revision %d", id, rev.Number())
	}

	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", filepath.Base(rev.DownloadURL())))
	w.Header().Set("X-Click-Sha512", rev.DownloadSha512())
	http.ServeFile(w, r, rev.DownloadURL())

	go func() {
		if err := s.config.State.IncrementDownloads(pkg, index); err != nil {
			logger.Errorf("cannot count download of %q revision %d: %v", id, rev.Number(), err)
		}
	}()
	return nil
}
