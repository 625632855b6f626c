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
	"time"

	"github.com/matrix-org/util"

	"github.com/EdGeraghty/FERRETCANNON-sub006/clientapi/jsonerror"
	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
	"github.com/EdGeraghty/FERRETCANNON-sub006/internal/eventutil"
	rsapi "github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/api"
)

// MakeJoin implements GET /_matrix/federation/v1/make_join/{roomID}/{userID}:
// hands back an unsigned join event template with auth_events, prev_events
// and depth already filled in, so the requesting server can sign it and
// present it back via send_join.
func MakeJoin(httpReq *http.Request, identity gomatrixserverlib.SigningIdentity, rsAPI rsapi.RoomserverInternalAPI, roomID, userID string) util.JSONResponse {
	proto, queryRes, errResp := makeMembershipProto(httpReq, rsAPI, roomID, userID, "join")
	if errResp != nil {
		return *errResp
	}
	return util.JSONResponse{Code: http.StatusOK, JSON: gomatrixserverlib.RespMakeJoin{
		Event:       *proto,
		RoomVersion: queryRes.RoomVersion,
	}}
}

// SendJoin implements PUT /_matrix/federation/v2/send_join/{roomID}/{eventID}:
// the requesting server hands back its own signed join event; we verify it,
// admit it into the room's event graph, and reply with enough current state
// for the joining server to resolve the room locally.
func SendJoin(httpReq *http.Request, origin gomatrixserverlib.ServerName, rsAPI rsapi.RoomserverInternalAPI, roomID, eventID string) util.JSONResponse {
	_, errResp := verifyAndInputMembershipEvent(httpReq, origin, rsAPI, roomID, eventID, "join")
	if errResp != nil {
		return *errResp
	}

	state, authChain, err := currentStateAndAuthChain(httpReq.Context(), rsAPI, roomID)
	if err != nil {
		return util.JSONResponse{Code: http.StatusInternalServerError, JSON: jsonerror.Unknown(err.Error())}
	}

	return util.JSONResponse{Code: http.StatusOK, JSON: gomatrixserverlib.RespSendJoin{
		Origin: origin,
		RespState: gomatrixserverlib.RespState{
			AuthEvents:  rawJSONOf(authChain),
			StateEvents: rawJSONOf(state),
		},
	}}
}

// makeMembershipProto builds and populates a proto membership event for
// userID in roomID, shared by MakeJoin/MakeLeave/MakeKnock.
func makeMembershipProto(httpReq *http.Request, rsAPI rsapi.RoomserverInternalAPI, roomID, userID, membership string) (*gomatrixserverlib.ProtoEvent, *rsapi.QueryLatestEventsAndStateResponse, *util.JSONResponse) {
	if _, err := rsAPI.QueryRoomVersionForRoom(httpReq.Context(), roomID); err != nil {
		resp := util.JSONResponse{Code: http.StatusNotFound, JSON: jsonerror.NotFound("room not found: " + err.Error())}
		return nil, nil, &resp
	}

	content, err := json.Marshal(map[string]interface{}{"membership": membership})
	if err != nil {
		resp := util.JSONResponse{Code: http.StatusInternalServerError, JSON: jsonerror.Unknown(err.Error())}
		return nil, nil, &resp
	}

	stateKey := userID
	proto := &gomatrixserverlib.ProtoEvent{
		RoomID:         roomID,
		Sender:         userID,
		Type:           "m.room.member",
		StateKey:       &stateKey,
		Content:        content,
		OriginServerTS: time.Now().UnixMilli(),
	}

	queryRes, err := eventutil.PopulateProtoEvent(httpReq.Context(), proto, rsAPI)
	if err != nil {
		if err == eventutil.ErrRoomNoExists {
			resp := util.JSONResponse{Code: http.StatusNotFound, JSON: jsonerror.NotFound("room does not exist")}
			return nil, nil, &resp
		}
		resp := util.JSONResponse{Code: http.StatusInternalServerError, JSON: jsonerror.Unknown(err.Error())}
		return nil, nil, &resp
	}
	return proto, queryRes, nil
}
