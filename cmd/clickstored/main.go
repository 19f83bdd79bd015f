// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// clickstored is the store's revision service: it owns the package
// revision ledger, ingests click uploads and serves downloads. Several
// instances may run against one mongo; the per-package revision locks
// keep their uploads from trampling each other.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"
	"github.com/juju/mgo/v3"

	"github.com/clickstore/clickstore/apiserver"
	"github.com/clickstore/clickstore/internal/click"
	"github.com/clickstore/clickstore/internal/config"
	"github.com/clickstore/clickstore/internal/storage"
	"github.com/clickstore/clickstore/state"
	"github.com/clickstore/clickstore/state/lock"
)

var logger = loggo.GetLogger("clickstore.cmd")

const dialTimeout = 10 * time.Second

// socketTimeout is deliberately generous: an upload request can spend
// most of a minute waiting on the revision lock plus archive parsing
// before its first database write.
const socketTimeout = 5 * time.Minute

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "clickstored: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		configPath string
		listenAddr string
		logConfig  string
	)
	flags := gnuflag.NewFlagSet("clickstored", gnuflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "path to the daemon configuration file")
	flags.StringVar(&listenAddr, "listen", "", "override the configured listen address")
	flags.StringVar(&logConfig, "log-config", "<root>=INFO", "loggo configuration")
	if err := flags.Parse(true, args); err != nil {
		return errors.Trace(err)
	}
	if err := loggo.ConfigureLoggers(logConfig); err != nil {
		return errors.Trace(err)
	}

	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Read(configPath); err != nil {
			return errors.Trace(err)
		}
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}

	session, err := mgo.DialWithTimeout(cfg.MongoURL, dialTimeout)
	if err != nil {
		return errors.Annotatef(err, "cannot dial mongo at %q", cfg.MongoURL)
	}
	defer session.Close()
	session.SetSocketTimeout(socketTimeout)

	store, err := storage.NewStore(cfg.DataDir, cfg.IconDir)
	if err != nil {
		return errors.Trace(err)
	}
	st, err := state.NewState(session, state.Params{
		Database:       cfg.Database,
		Parser:         click.NewParser(),
		Store:          store,
		Checksum:       store,
		DefaultChannel: cfg.DefaultChannel,
		Channels:       cfg.Channels,
		Clock:          clock.WallClock,
		LockPolicy: lock.Policy{
			Attempts: cfg.LockAttempts,
			Delay:    cfg.LockDelay,
		},
	})
	if err != nil {
		return errors.Trace(err)
	}
	if err := st.EnsureIndexes(); err != nil {
		return errors.Trace(err)
	}

	server, err := apiserver.NewServer(apiserver.ServerConfig{
		State:      st,
		Authorizer: apiserver.OpenAuthorizer{},
		Indexer:    apiserver.LogIndexer{},
	})
	if err != nil {
		return errors.Trace(err)
	}

	logger.Infof("serving on %s (database %q)", cfg.ListenAddr, cfg.Database)
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server,
		// Reads stay open across lock waits during upload.
		ReadTimeout:  socketTimeout,
		WriteTimeout: socketTimeout,
	}
	return errors.Trace(httpServer.ListenAndServe())
}
