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
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/matrix-org/util"

	"github.com/EdGeraghty/FERRETCANNON-sub006/clientapi/jsonerror"
	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
	rsapi "github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/api"
)

// errRoomNotFound is returned by currentStateAndAuthChain when the
// roomserver has no record of the room at all.
var errRoomNotFound = fmt.Errorf("routing: room not found")

// GetState implements GET /_matrix/federation/v1/state/{roomID}: the full
// current state of a room plus its auth chain, used by a joining server
// that already has the room's event graph but needs its state resolved.
func GetState(httpReq *http.Request, rsAPI rsapi.RoomserverInternalAPI, roomID string) util.JSONResponse {
	state, authChain, err := currentStateAndAuthChain(httpReq.Context(), rsAPI, roomID)
	if err != nil {
		return util.JSONResponse{Code: http.StatusNotFound, JSON: jsonerror.NotFound(err.Error())}
	}
	return util.JSONResponse{Code: http.StatusOK, JSON: gomatrixserverlib.RespState{
		AuthEvents:  rawJSONOf(authChain),
		StateEvents: rawJSONOf(state),
	}}
}

// GetStateIDs implements GET /_matrix/federation/v1/state_ids/{roomID}: the
// same as GetState but event IDs only, for a caller that already has most of
// the events and just needs to know what's missing.
func GetStateIDs(httpReq *http.Request, rsAPI rsapi.RoomserverInternalAPI, roomID string) util.JSONResponse {
	state, authChain, err := currentStateAndAuthChain(httpReq.Context(), rsAPI, roomID)
	if err != nil {
		return util.JSONResponse{Code: http.StatusNotFound, JSON: jsonerror.NotFound(err.Error())}
	}
	return util.JSONResponse{Code: http.StatusOK, JSON: gomatrixserverlib.RespStateIDs{
		AuthEventIDs:  idsOf(authChain),
		StateEventIDs: idsOf(state),
	}}
}

// currentStateAndAuthChain returns a room's full current state together
// with the auth chain those state events depend on (the transitive closure
// of auth_events), the shape /state, /state_ids and send_join all need.
func currentStateAndAuthChain(ctx context.Context, rsAPI rsapi.RoomserverInternalAPI, roomID string) (state, authChain []gomatrixserverlib.HeaderedEvent, err error) {
	var queryRes rsapi.QueryLatestEventsAndStateResponse
	if err = rsAPI.QueryLatestEventsAndState(ctx, &rsapi.QueryLatestEventsAndStateRequest{RoomID: roomID}, &queryRes); err != nil {
		return nil, nil, err
	}
	if !queryRes.RoomExists {
		return nil, nil, errRoomNotFound
	}
	state = queryRes.StateEvents

	authChain, err = gatherAuthChain(ctx, rsAPI, state)
	return state, authChain, err
}

// gatherAuthChain walks auth_events breadth-first from roots until no new
// event IDs are discovered, returning the full transitive closure.
func gatherAuthChain(ctx context.Context, rsAPI rsapi.RoomserverInternalAPI, roots []gomatrixserverlib.HeaderedEvent) ([]gomatrixserverlib.HeaderedEvent, error) {
	seen := map[string]bool{}
	var frontier []string
	for _, ev := range roots {
		for _, id := range ev.AuthEventIDs() {
			if !seen[id] {
				seen[id] = true
				frontier = append(frontier, id)
			}
		}
	}

	var chain []gomatrixserverlib.HeaderedEvent
	for len(frontier) > 0 {
		var res rsapi.QueryEventsByIDResponse
		if err := rsAPI.QueryEventsByID(ctx, &rsapi.QueryEventsByIDRequest{EventIDs: frontier}, &res); err != nil {
			return nil, err
		}
		frontier = nil
		for _, ev := range res.Events {
			chain = append(chain, ev)
			for _, id := range ev.AuthEventIDs() {
				if !seen[id] {
					seen[id] = true
					frontier = append(frontier, id)
				}
			}
		}
	}
	return chain, nil
}

func rawJSONOf(events []gomatrixserverlib.HeaderedEvent) []json.RawMessage {
	out := make([]json.RawMessage, len(events))
	for i, ev := range events {
		out[i] = json.RawMessage(ev.JSON())
	}
	return out
}

func idsOf(events []gomatrixserverlib.HeaderedEvent) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.EventID()
	}
	return out
}
