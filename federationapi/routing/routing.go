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

// Package routing implements the HTTP handlers for the federation wire
// protocol (§4.7, §4.9): the PDU/EDU transaction endpoint, the
// join/leave/knock/invite handshakes, event and state lookups, and backfill
// support. Every handler except /v1/version is wrapped in
// httputil.FederationAuthMiddleware, so by the time one of those handler
// bodies runs, req.Context() already carries the verified origin
// (internal/httputil.OriginFromContext).
package routing

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/matrix-org/util"

	fedapi "github.com/EdGeraghty/FERRETCANNON-sub006/federationapi/api"
	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
	"github.com/EdGeraghty/FERRETCANNON-sub006/internal/httputil"
	rsapi "github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/api"
)

// Setup registers every federation endpoint this server answers under
// base (typically a subrouter rooted at /_matrix/federation).
func Setup(
	base *mux.Router,
	localServerName gomatrixserverlib.ServerName,
	rsAPI rsapi.RoomserverInternalAPI,
	fsAPI fedapi.FederationInternalAPI,
	identity gomatrixserverlib.SigningIdentity,
	eduWriter EDUWriter,
) {
	if eduWriter == nil {
		eduWriter = NopEDUWriter{}
	}

	v1 := base.PathPrefix("/v1").Subrouter()
	v2 := base.PathPrefix("/v2").Subrouter()

	wrap := func(handler func(*http.Request) util.JSONResponse) http.HandlerFunc {
		return httputil.MakeJSONAPI(httputil.FederationAuthMiddleware(localServerName, fsAPI.KeyRing(), handler))
	}

	v1.HandleFunc("/send/{txnID}", wrap(func(req *http.Request) util.JSONResponse {
		origin, _ := httputil.OriginFromContext(req.Context())
		vars := mux.Vars(req)
		return Send(req, origin, gomatrixserverlib.TransactionID(vars["txnID"]), rsAPI, eduWriter)
	})).Methods(http.MethodPut)

	v1.HandleFunc("/make_join/{roomID}/{userID}", wrap(func(req *http.Request) util.JSONResponse {
		vars := mux.Vars(req)
		return MakeJoin(req, identity, rsAPI, vars["roomID"], vars["userID"])
	})).Methods(http.MethodGet)

	v2.HandleFunc("/send_join/{roomID}/{eventID}", wrap(func(req *http.Request) util.JSONResponse {
		origin, _ := httputil.OriginFromContext(req.Context())
		vars := mux.Vars(req)
		return SendJoin(req, origin, rsAPI, vars["roomID"], vars["eventID"])
	})).Methods(http.MethodPut)

	v1.HandleFunc("/make_leave/{roomID}/{userID}", wrap(func(req *http.Request) util.JSONResponse {
		vars := mux.Vars(req)
		return MakeLeave(req, identity, rsAPI, vars["roomID"], vars["userID"])
	})).Methods(http.MethodGet)

	v2.HandleFunc("/send_leave/{roomID}/{eventID}", wrap(func(req *http.Request) util.JSONResponse {
		origin, _ := httputil.OriginFromContext(req.Context())
		vars := mux.Vars(req)
		return SendLeave(req, origin, rsAPI, vars["roomID"], vars["eventID"])
	})).Methods(http.MethodPut)

	v1.HandleFunc("/make_knock/{roomID}/{userID}", wrap(func(req *http.Request) util.JSONResponse {
		vars := mux.Vars(req)
		return MakeKnock(req, identity, rsAPI, vars["roomID"], vars["userID"])
	})).Methods(http.MethodGet)

	v1.HandleFunc("/send_knock/{roomID}/{eventID}", wrap(func(req *http.Request) util.JSONResponse {
		origin, _ := httputil.OriginFromContext(req.Context())
		vars := mux.Vars(req)
		return SendKnock(req, origin, identity, rsAPI, vars["roomID"], vars["eventID"])
	})).Methods(http.MethodPut)

	v2.HandleFunc("/invite/{roomID}/{eventID}", wrap(func(req *http.Request) util.JSONResponse {
		origin, _ := httputil.OriginFromContext(req.Context())
		vars := mux.Vars(req)
		return Invite(req, origin, identity, rsAPI, vars["roomID"], vars["eventID"])
	})).Methods(http.MethodPut)

	v1.HandleFunc("/event/{eventID}", wrap(func(req *http.Request) util.JSONResponse {
		vars := mux.Vars(req)
		return GetEvent(req, rsAPI, vars["eventID"])
	})).Methods(http.MethodGet)

	v1.HandleFunc("/get_missing_events/{roomID}", wrap(func(req *http.Request) util.JSONResponse {
		vars := mux.Vars(req)
		return GetMissingEvents(req, rsAPI, vars["roomID"])
	})).Methods(http.MethodPost)

	v1.HandleFunc("/state/{roomID}", wrap(func(req *http.Request) util.JSONResponse {
		vars := mux.Vars(req)
		return GetState(req, rsAPI, vars["roomID"])
	})).Methods(http.MethodGet)

	v1.HandleFunc("/state_ids/{roomID}", wrap(func(req *http.Request) util.JSONResponse {
		vars := mux.Vars(req)
		return GetStateIDs(req, rsAPI, vars["roomID"])
	})).Methods(http.MethodGet)

	v1.HandleFunc("/backfill/{roomID}", wrap(func(req *http.Request) util.JSONResponse {
		vars := mux.Vars(req)
		return GetBackfill(req, rsAPI, vars["roomID"])
	})).Methods(http.MethodGet)

	v1.HandleFunc("/event_auth/{roomID}/{eventID}", wrap(func(req *http.Request) util.JSONResponse {
		vars := mux.Vars(req)
		return GetEventAuth(req, rsAPI, vars["roomID"], vars["eventID"])
	})).Methods(http.MethodGet)

	v1.HandleFunc("/version", func(w http.ResponseWriter, req *http.Request) {
		util.JSONResponse{Code: http.StatusOK, JSON: gomatrixserverlib.RespVersion{}}.WriteTo(w)
	}).Methods(http.MethodGet)
}

// SetupKeys registers the key-distribution and server-discovery endpoints
// that, unlike Setup's endpoints other than /v1/version, must be reachable WITHOUT X-Matrix
// authentication: a server verifying its first signature from us has no key
// to check one with yet, and .well-known resolution precedes any federation
// request entirely. base is the bare mux.Router a caller would otherwise
// root at "/".
func SetupKeys(
	base *mux.Router,
	identity gomatrixserverlib.SigningIdentity,
	keyDB gomatrixserverlib.KeyDatabase,
	wellKnownServerName gomatrixserverlib.ServerName,
) {
	base.HandleFunc("/_matrix/key/v2/server", func(w http.ResponseWriter, req *http.Request) {
		GetServerKeys(req, identity).WriteTo(w)
	}).Methods(http.MethodGet)

	base.HandleFunc("/_matrix/key/v2/query", func(w http.ResponseWriter, req *http.Request) {
		QueryServerKeys(req, identity, keyDB).WriteTo(w)
	}).Methods(http.MethodPost)

	base.HandleFunc("/.well-known/matrix/server", GetWellKnownServer(wellKnownServerName)).Methods(http.MethodGet)
}
