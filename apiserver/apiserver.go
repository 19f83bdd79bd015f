// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package apiserver exposes the store's revision core over HTTP: click
// upload, artifact download and package serialization. Authentication,
// rating aggregation, search ranking and the rest of the REST surface
// live in their own services; this server only carries the endpoints
// that touch the revision ledger.
package apiserver

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/clickstore/clickstore/apiserver/params"
	"github.com/clickstore/clickstore/state"
)

var logger = loggo.GetLogger("clickstore.apiserver")

// Authorizer decides whether the caller of a request may modify a
// package. Implementations typically consult the session established by
// the outer auth middleware; failures must satisfy ErrPermissionDenied.
type Authorizer interface {
	Authorize(r *http.Request, packageID string) error
}

// Indexer mirrors a saved package into the external search index so
// listing filters stay in sync with the ledger.
type Indexer interface {
	Index(p *state.Package) error
}

// Reviewer runs the automated review over a staged upload before the
// ledger is touched. A nil Reviewer skips review.
type Reviewer interface {
	Review(path string) error
}

// OpenAuthorizer permits everything; the deployment wires the real
// check in front of the server.
type OpenAuthorizer struct{}

// Authorize is part of the Authorizer interface.
func (OpenAuthorizer) Authorize(*http.Request, string) error {
	return nil
}

// LogIndexer records index updates without an external search cluster.
type LogIndexer struct{}

// Index is part of the Indexer interface.
func (LogIndexer) Index(p *state.Package) error {
	logger.Debugf("index update for %q: %d channel architectures, %d device compatibilities",
		p.Id(), len(p.ChannelArchitectures()), len(p.DeviceCompatibilities()))
	return nil
}

// ServerConfig holds a Server's collaborators.
type ServerConfig struct {
	State      *state.State
	Authorizer Authorizer
	Indexer    Indexer
	Reviewer   Reviewer
}

// Validate returns an error if the configuration is incomplete.
func (c ServerConfig) Validate() error {
	if c.State == nil {
		return errors.NotValidf("nil State")
	}
	if c.Authorizer == nil {
		return errors.NotValidf("nil Authorizer")
	}
	if c.Indexer == nil {
		return errors.NotValidf("nil Indexer")
	}
	return nil
}

// Server handles the revision core's HTTP endpoints.
type Server struct {
	config ServerConfig
	router *mux.Router
}

// NewServer returns a Server routing the package endpoints.
func NewServer(config ServerConfig) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	s := &Server{config: config}

	r := mux.NewRouter()
	r.HandleFunc("/api/v1/packages/{id}", s.handle(s.servePackage)).Methods("GET")
	r.HandleFunc("/api/v1/packages/{id}/revisions", s.handle(s.serveUpload)).Methods("POST")
	r.HandleFunc("/api/v1/packages/{id}/download/{channel}/{arch}", s.handle(s.serveDownload)).Methods("GET")
	s.router = r
	return s, nil
}

// ServeHTTP is part of the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// failableHandlerFunc is a handler that reports its failure instead of
// writing it, so error rendering happens in exactly one place.
type failableHandlerFunc func(http.ResponseWriter, *http.Request) error

func (s *Server) handle(f failableHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := f(w, r); err != nil {
			sendJSONError(w, r, err)
		}
	}
}

// servePackage returns the serialized package.
func (s *Server) servePackage(w http.ResponseWriter, r *http.Request) error {
	pkg, err := s.config.State.Package(mux.Vars(r)["id"])
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(sendStatusAndJSON(w, http.StatusOK, params.PackageResponse{
		Package: serializePackage(pkg),
	}))
}

// serializePackage converts a state package into its wire form.
func serializePackage(p *state.Package) *params.PackageInfo {
	info := &params.PackageInfo{
		Id:                    p.Id(),
		Title:                 p.Title(),
		Description:           p.Description(),
		Maintainer:            p.Maintainer(),
		Icon:                  p.Icon(),
		Changelog:             p.Changelog(),
		Architectures:         p.Architectures().SortedValues(),
		Channels:              p.Channels().SortedValues(),
		ChannelArchitectures:  p.ChannelArchitectures(),
		DeviceCompatibilities: p.DeviceCompatibilities(),
	}
	for _, rev := range p.Revisions() {
		info.Revisions = append(info.Revisions, params.RevisionInfo{
			Revision:       rev.Number(),
			Version:        rev.Version(),
			Channel:        rev.Channel(),
			Architecture:   rev.Architecture(),
			Framework:      rev.Framework(),
			Permissions:    rev.Permissions(),
			DownloadURL:    rev.DownloadURL(),
			DownloadSha512: rev.DownloadSha512(),
			Filesize:       rev.Filesize(),
			DownloadSize:   rev.DownloadSize(),
			Downloads:      rev.Downloads(),
			CreatedDate:    rev.CreatedDate(),
		})
	}
	return info
}
