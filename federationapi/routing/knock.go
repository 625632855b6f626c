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

// knockRoomStateTypes are the event types stripped into invite_room_state /
// knock_room_state so a knocking or invited user's client can render
// something about the room before they've joined it.
var knockRoomStateTypes = map[string]bool{
	"m.room.create":          true,
	"m.room.name":            true,
	"m.room.avatar":          true,
	"m.room.topic":           true,
	"m.room.canonical_alias": true,
	"m.room.join_rules":      true,
	"m.room.encryption":      true,
}

// MakeKnock implements
// GET /_matrix/federation/v1/make_knock/{roomID}/{userID}.
func MakeKnock(httpReq *http.Request, identity gomatrixserverlib.SigningIdentity, rsAPI rsapi.RoomserverInternalAPI, roomID, userID string) util.JSONResponse {
	proto, queryRes, errResp := makeMembershipProto(httpReq, rsAPI, roomID, userID, "knock")
	if errResp != nil {
		return *errResp
	}
	return util.JSONResponse{Code: http.StatusOK, JSON: gomatrixserverlib.RespMakeKnock{
		Event:       *proto,
		RoomVersion: queryRes.RoomVersion,
	}}
}

// SendKnock implements
// PUT /_matrix/federation/v1/send_knock/{roomID}/{eventID}: on success the
// reply carries a stripped snapshot of room state so the knocking user's
// client has something to show while the knock is pending.
func SendKnock(httpReq *http.Request, origin gomatrixserverlib.ServerName, identity gomatrixserverlib.SigningIdentity, rsAPI rsapi.RoomserverInternalAPI, roomID, eventID string) util.JSONResponse {
	if _, errResp := verifyAndInputMembershipEvent(httpReq, origin, rsAPI, roomID, eventID, "knock"); errResp != nil {
		return *errResp
	}

	var queryRes rsapi.QueryLatestEventsAndStateResponse
	if err := rsAPI.QueryLatestEventsAndState(httpReq.Context(), &rsapi.QueryLatestEventsAndStateRequest{RoomID: roomID}, &queryRes); err != nil {
		return util.JSONResponse{Code: http.StatusInternalServerError, JSON: jsonerror.Unknown(err.Error())}
	}

	return util.JSONResponse{Code: http.StatusOK, JSON: gomatrixserverlib.RespSendKnock{
		KnockRoomState: strippedState(queryRes.StateEvents),
	}}
}

// strippedState reduces a full state event set down to the subset clients
// use to render a pending invite/knock preview.
func strippedState(state []gomatrixserverlib.HeaderedEvent) []gomatrixserverlib.InviteV2StrippedState {
	var out []gomatrixserverlib.InviteV2StrippedState
	for _, ev := range state {
		if !knockRoomStateTypes[ev.Type()] {
			continue
		}
		stateKey := ""
		if sk := ev.StateKey(); sk != nil {
			stateKey = *sk
		}
		out = append(out, gomatrixserverlib.InviteV2StrippedState{
			Content:  ev.Content(),
			StateKey: stateKey,
			Type:     ev.Type(),
			Sender:   ev.Sender(),
		})
	}
	return out
}
