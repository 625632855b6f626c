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

package routing

import (
	"net/http"

	"github.com/matrix-org/util"

	"github.com/EdGeraghty/FERRETCANNON-sub006/clientapi/jsonerror"
	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
	rsapi "github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/api"
)

// GetEventAuth implements GET /_matrix/federation/v1/event_auth/{roomID}/{eventID}:
// the auth chain for a single event, reusing gatherAuthChain's BFS over
// auth_events with the requested event as its sole root.
func GetEventAuth(httpReq *http.Request, rsAPI rsapi.RoomserverInternalAPI, roomID, eventID string) util.JSONResponse {
	ctx := httpReq.Context()

	var eventRes rsapi.QueryEventsByIDResponse
	if err := rsAPI.QueryEventsByID(ctx, &rsapi.QueryEventsByIDRequest{EventIDs: []string{eventID}}, &eventRes); err != nil {
		return util.JSONResponse{Code: http.StatusInternalServerError, JSON: jsonerror.Unknown(err.Error())}
	}
	if len(eventRes.Events) == 0 {
		return util.JSONResponse{Code: http.StatusNotFound, JSON: jsonerror.NotFound("event not found")}
	}
	root := eventRes.Events[0]
	if root.RoomID() != roomID {
		return util.JSONResponse{Code: http.StatusNotFound, JSON: jsonerror.NotFound("event not found in room")}
	}

	authChain, err := gatherAuthChain(ctx, rsAPI, []gomatrixserverlib.HeaderedEvent{root})
	if err != nil {
		return util.JSONResponse{Code: http.StatusInternalServerError, JSON: jsonerror.Unknown(err.Error())}
	}
	// The requested event authenticates itself too, so its own auth_events
	// form the chain but the event itself isn't re-included unless it was
	// reached as someone else's dependency; gatherAuthChain already covers
	// that since the root's own auth_events are the chain's first frontier.
	return util.JSONResponse{Code: http.StatusOK, JSON: gomatrixserverlib.RespState{
		AuthEvents: rawJSONOf(authChain),
	}}
}
