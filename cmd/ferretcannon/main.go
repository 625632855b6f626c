// Copyright 2017 Vector Creations Ltd
// Copyright 2018 New Vector Ltd
// Copyright 2019-2020 The Matrix.org Foundation C.I.C.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command ferretcannon runs every component (roomserver, federationapi,
// clientapi, syncapi, eduserver) in a single process, wired together over
// the shared internal/jetstream bus the way a small single-binary Matrix
// homeserver deployment would. A larger deployment would instead run each
// component as its own process against the same JetStream cluster and
// databases.
package main

import (
	"context"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MFAshby/stdemuxerhook"
	"github.com/getsentry/sentry-go"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/EdGeraghty/FERRETCANNON-sub006/clientapi/auth"
	clientroute "github.com/EdGeraghty/FERRETCANNON-sub006/clientapi/routing"
	"github.com/EdGeraghty/FERRETCANNON-sub006/eduserver"
	fedapi "github.com/EdGeraghty/FERRETCANNON-sub006/federationapi/api"
	fedconsumers "github.com/EdGeraghty/FERRETCANNON-sub006/federationapi/consumers"
	"github.com/EdGeraghty/FERRETCANNON-sub006/federationapi/queue"
	fedroute "github.com/EdGeraghty/FERRETCANNON-sub006/federationapi/routing"
	fedstorage "github.com/EdGeraghty/FERRETCANNON-sub006/federationapi/storage"
	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
	"github.com/EdGeraghty/FERRETCANNON-sub006/internal/caching"
	"github.com/EdGeraghty/FERRETCANNON-sub006/internal/config"
	"github.com/EdGeraghty/FERRETCANNON-sub006/internal/jetstream"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/internal"
	rsstorage "github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/storage"
	"github.com/EdGeraghty/FERRETCANNON-sub006/syncapi"
	syncconsumers "github.com/EdGeraghty/FERRETCANNON-sub006/syncapi/consumers"
	"github.com/EdGeraghty/FERRETCANNON-sub006/syncapi/notifier"
	syncstorage "github.com/EdGeraghty/FERRETCANNON-sub006/syncapi/storage"
)

func main() {
	// Split levels below Warn to stdout and Warn-and-above to stderr instead
	// of logrus's default of writing everything to stderr.
	logrus.SetOutput(io.Discard)
	logrus.AddHook(stdemuxerhook.Hook())

	configPath := flag.String("config", "ferretcannon.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("ferretcannon: failed to load configuration")
	}
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: dsn}); err != nil {
			logrus.WithError(err).Error("ferretcannon: failed to initialise sentry")
		}
		defer sentry.Flush(2 * time.Second)
	}

	identity := cfg.SigningIdentity()
	logrus.WithField("server_name", cfg.Global.ServerName).Info("ferretcannon: starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	js, _, err := jetstream.Prepare(cfg.Global.JetStream.Addresses, cfg.Global.JetStream.InMemory)
	if err != nil {
		logrus.WithError(err).Fatal("ferretcannon: failed to prepare jetstream")
	}

	rsDB, err := openRoomServerDatabase(cfg.RoomServer.DatabaseURI)
	if err != nil {
		logrus.WithError(err).Fatal("ferretcannon: failed to open roomserver database")
	}
	fedDB, err := openFederationDatabase(cfg.FederationAPI.DatabaseURI)
	if err != nil {
		logrus.WithError(err).Fatal("ferretcannon: failed to open federationapi database")
	}

	cache := caching.NewRoomServerCaches(time.Hour)
	outputRoomEventTopic := cfg.Global.JetStream.Prefixed(jetstream.OutputRoomEvent)

	rsAPI := internal.NewRoomserverAPI(rsDB, js, outputRoomEventTopic, cfg.Global.ServerName, identity, cache)

	resolver := gomatrixserverlib.NewResolver()
	client := gomatrixserverlib.NewFederationClient(identity, resolver)

	keyRing := &gomatrixserverlib.KeyRing{
		Fetchers: buildKeyFetchers(client, cfg.RoomServer.PerspectiveServerNames),
		DB:       fedDB,
	}

	fsAPI := fedapi.NewFederationAPI(
		client,
		keyRing,
		cfg.Global.ServerName,
		cfg.RoomServer.PerspectiveServerNames,
		cfg.FederationAPI.FederationMinRetryBackoff,
		cfg.FederationAPI.FederationMaxRetryBackoff,
	)
	fsAPI.RoomServerQuerier = rsAPI.Queryer

	rsAPI.SetFederationAPI(fsAPI)

	outgoingQueues := queue.NewOutgoingQueues(fedDB, fsAPI, cfg.Global.ServerName)
	fedRoomConsumer := fedconsumers.NewRoomEventConsumer(
		ctx, js,
		outputRoomEventTopic,
		cfg.Global.JetStream.Durable("FederationAPIRoomEvent"),
		outgoingQueues,
		fsAPI,
	)
	if err := fedRoomConsumer.Start(); err != nil {
		logrus.WithError(err).Fatal("ferretcannon: failed to start federation room-event consumer")
	}

	syncStore := syncstorage.NewStorage()
	syncNotifier := notifier.New()
	syncRoomConsumer := syncconsumers.NewRoomEventConsumer(
		ctx, js,
		outputRoomEventTopic,
		cfg.Global.JetStream.Durable("SyncAPIRoomEvent"),
		syncStore,
		syncNotifier,
	)
	if err := syncRoomConsumer.Start(); err != nil {
		logrus.WithError(err).Fatal("ferretcannon: failed to start sync room-event consumer")
	}
	syncer := &syncapi.Syncer{Store: syncStore, Notifier: syncNotifier}

	edu := eduserver.New()
	devices := auth.NewDevices()

	router := mux.NewRouter()
	fedroute.SetupKeys(router, identity, fedDB, cfg.Global.WellKnownServerName)
	fedSubrouter := router.PathPrefix("/_matrix/federation").Subrouter()
	fedroute.Setup(fedSubrouter, cfg.Global.ServerName, rsAPI, fsAPI, identity, edu)
	clientroute.Setup(router, rsAPI, devices, identity, syncer)

	srv := &http.Server{
		Addr:              cfg.Global.ListenAddress,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logrus.WithField("addr", cfg.Global.ListenAddress).Info("ferretcannon: listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("ferretcannon: http server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logrus.Info("ferretcannon: shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("ferretcannon: graceful shutdown failed")
	}
	cancel()
}

// openRoomServerDatabase opens a Postgres database when dataSourceName is
// set, or an in-memory one for a zero-config single-process trial run.
func openRoomServerDatabase(dataSourceName string) (rsstorage.Database, error) {
	if dataSourceName == "" {
		return rsstorage.NewMemoryDatabase(), nil
	}
	return rsstorage.NewPostgresDatabase(dataSourceName)
}

// openFederationDatabase mirrors openRoomServerDatabase for the
// federationapi's own database (outbound queue state, key cache, blacklist).
func openFederationDatabase(dataSourceName string) (fedstorage.Database, error) {
	if dataSourceName == "" {
		return fedstorage.NewMemoryDatabase(), nil
	}
	return fedstorage.NewPostgresDatabase(dataSourceName)
}

// buildKeyFetchers returns the direct fetcher plus one perspective fetcher
// per configured notary server, in the order the KeyRing should try them:
// perspectives first (cheaper, a single trusted hop), direct last.
func buildKeyFetchers(client *gomatrixserverlib.FederationClient, perspectives []gomatrixserverlib.ServerName) []gomatrixserverlib.KeyFetcher {
	fetchers := make([]gomatrixserverlib.KeyFetcher, 0, len(perspectives)+1)
	for _, notary := range perspectives {
		fetchers = append(fetchers, &gomatrixserverlib.PerspectiveKeyFetcher{Client: client, Notary: notary})
	}
	fetchers = append(fetchers, &gomatrixserverlib.DirectKeyFetcher{Client: client})
	return fetchers
}
