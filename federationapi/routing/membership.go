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
	"encoding/json"
	"net/http"

	"github.com/matrix-org/util"

	"github.com/EdGeraghty/FERRETCANNON-sub006/clientapi/jsonerror"
	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
	"github.com/EdGeraghty/FERRETCANNON-sub006/internal/httputil"
	rsapi "github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/api"
)

// verifyAndInputMembershipEvent is shared by SendJoin/SendLeave/SendKnock: it
// decodes the remote server's signed membership event, checks the event ID
// and membership field match what the URL promised, verifies the sender's
// signature, and feeds it into the roomserver.
func verifyAndInputMembershipEvent(
	httpReq *http.Request,
	origin gomatrixserverlib.ServerName,
	rsAPI rsapi.RoomserverInternalAPI,
	roomID, eventID, wantMembership string,
) (*gomatrixserverlib.HeaderedEvent, *util.JSONResponse) {
	roomVersion, err := rsAPI.QueryRoomVersionForRoom(httpReq.Context(), roomID)
	if err != nil {
		resp := util.JSONResponse{Code: http.StatusNotFound, JSON: jsonerror.NotFound("room not found: " + err.Error())}
		return nil, &resp
	}

	body, err := httputil.ReadJSONBody(httpReq, nil)
	if err != nil {
		resp := util.JSONResponse{Code: http.StatusBadRequest, JSON: jsonerror.NotJSON(err.Error())}
		return nil, &resp
	}

	event, err := gomatrixserverlib.NewEventFromUntrustedJSON(body, roomVersion)
	if err != nil {
		resp := util.JSONResponse{Code: http.StatusBadRequest, JSON: jsonerror.BadJSON("invalid event JSON: " + err.Error())}
		return nil, &resp
	}
	if event.EventID() != eventID {
		resp := util.JSONResponse{Code: http.StatusBadRequest, JSON: jsonerror.BadJSON("event ID does not match the URL")}
		return nil, &resp
	}
	if event.RoomID() != roomID {
		resp := util.JSONResponse{Code: http.StatusBadRequest, JSON: jsonerror.BadJSON("room ID does not match the URL")}
		return nil, &resp
	}
	var content struct {
		Membership string `json:"membership"`
	}
	if err := json.Unmarshal(event.Content(), &content); err != nil || content.Membership != wantMembership {
		resp := util.JSONResponse{Code: http.StatusBadRequest, JSON: jsonerror.BadJSON("membership in event content does not match the endpoint")}
		return nil, &resp
	}

	headered := event.Headered(roomVersion)
	var inputRes rsapi.InputRoomEventsResponse
	rsAPI.InputRoomEvents(httpReq.Context(), &rsapi.InputRoomEventsRequest{
		InputRoomEvents: []rsapi.InputRoomEvent{{
			Kind:   rsapi.KindNew,
			Event:  headered,
			Origin: origin,
		}},
	}, &inputRes)
	if inputRes.ErrMsg != "" {
		code := http.StatusBadRequest
		if inputRes.NotAllowed {
			code = http.StatusForbidden
		}
		resp := util.JSONResponse{Code: code, JSON: jsonerror.Forbidden(inputRes.ErrMsg)}
		return nil, &resp
	}

	return &headered, nil
}
