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

// Package routing implements the client-facing HTTP handlers named in
// spec.md §8: createRoom, join, leave, send, state, sync, and messages.
// Grounded on federationapi/routing's gorilla/mux Setup idiom (PathPrefix
// subrouter, a `wrap` closure composing the auth middleware with
// httputil.MakeJSONAPI, one HandleFunc per endpoint), carried over onto the
// /_matrix/client/v3 prefix with auth.Middleware in place of
// httputil.FederationAuthMiddleware.
package routing

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/matrix-org/util"

	"github.com/EdGeraghty/FERRETCANNON-sub006/clientapi/auth"
	"github.com/EdGeraghty/FERRETCANNON-sub006/clientapi/producers"
	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
	"github.com/EdGeraghty/FERRETCANNON-sub006/internal/httputil"
	rsapi "github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/api"
)

// Syncer is the seam /sync and /rooms/{id}/messages call through,
// implemented by syncapi.Syncer the way federationapi/routing.EDUWriter is
// implemented by eduserver. Setup falls back to NopSyncer when given nil.
type Syncer interface {
	Sync(req *http.Request, userID, since string) util.JSONResponse
	Messages(req *http.Request, roomID string) util.JSONResponse
}

// NopSyncer reports an empty, immediately-returning sync with no events,
// the client API's behaviour when no syncapi is wired in.
type NopSyncer struct{}

func (NopSyncer) Sync(req *http.Request, userID, since string) util.JSONResponse {
	return util.JSONResponse{Code: http.StatusOK, JSON: emptySyncResponse(since)}
}

func (NopSyncer) Messages(req *http.Request, roomID string) util.JSONResponse {
	return util.JSONResponse{Code: http.StatusOK, JSON: struct {
		Chunk []interface{} `json:"chunk"`
		Start string        `json:"start"`
		End   string        `json:"end"`
	}{Chunk: []interface{}{}}}
}

// Setup registers every client API handler on router.
func Setup(
	router *mux.Router,
	rsAPI rsapi.RoomserverInternalAPI,
	devices *auth.Devices,
	identity gomatrixserverlib.SigningIdentity,
	syncer Syncer,
) {
	if syncer == nil {
		syncer = NopSyncer{}
	}
	producer := &producers.RoomEventProducer{RSAPI: rsAPI, Identity: identity}
	v3 := router.PathPrefix("/_matrix/client/v3").Subrouter()

	wrap := func(handler func(*http.Request) util.JSONResponse) http.HandlerFunc {
		return httputil.MakeJSONAPI(auth.Middleware(devices, handler))
	}

	v3.HandleFunc("/createRoom", wrap(func(req *http.Request) util.JSONResponse {
		return CreateRoom(req, rsAPI)
	})).Methods(http.MethodPost)

	v3.HandleFunc("/rooms/{roomID}/join", wrap(func(req *http.Request) util.JSONResponse {
		return JoinRoom(req, rsAPI, mux.Vars(req)["roomID"])
	})).Methods(http.MethodPost)

	v3.HandleFunc("/join/{roomIDOrAlias}", wrap(func(req *http.Request) util.JSONResponse {
		return JoinRoom(req, rsAPI, mux.Vars(req)["roomIDOrAlias"])
	})).Methods(http.MethodPost)

	v3.HandleFunc("/rooms/{roomID}/leave", wrap(func(req *http.Request) util.JSONResponse {
		return LeaveRoom(req, rsAPI, mux.Vars(req)["roomID"])
	})).Methods(http.MethodPost)

	v3.HandleFunc("/rooms/{roomID}/invite", wrap(func(req *http.Request) util.JSONResponse {
		return InviteToRoom(req, rsAPI, identity, mux.Vars(req)["roomID"])
	})).Methods(http.MethodPost)

	v3.HandleFunc("/rooms/{roomID}/send/{eventType}/{txnID}", wrap(func(req *http.Request) util.JSONResponse {
		vars := mux.Vars(req)
		return SendEvent(req, producer, vars["roomID"], vars["eventType"], vars["txnID"])
	})).Methods(http.MethodPut)

	v3.HandleFunc("/rooms/{roomID}/state/{eventType}", wrap(func(req *http.Request) util.JSONResponse {
		vars := mux.Vars(req)
		return SendStateEvent(req, producer, vars["roomID"], vars["eventType"], "")
	})).Methods(http.MethodPut)

	v3.HandleFunc("/rooms/{roomID}/state/{eventType}/{stateKey}", wrap(func(req *http.Request) util.JSONResponse {
		vars := mux.Vars(req)
		return SendStateEvent(req, producer, vars["roomID"], vars["eventType"], vars["stateKey"])
	})).Methods(http.MethodPut)

	v3.HandleFunc("/sync", wrap(func(req *http.Request) util.JSONResponse {
		device, _ := auth.DeviceFromContext(req.Context())
		return syncer.Sync(req, device.UserID, req.URL.Query().Get("since"))
	})).Methods(http.MethodGet)

	v3.HandleFunc("/rooms/{roomID}/messages", wrap(func(req *http.Request) util.JSONResponse {
		return syncer.Messages(req, mux.Vars(req)["roomID"])
	})).Methods(http.MethodGet)
}
