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
	"net/http"
	"time"

	"github.com/matrix-org/util"

	"github.com/EdGeraghty/FERRETCANNON-sub006/clientapi/auth"
	"github.com/EdGeraghty/FERRETCANNON-sub006/clientapi/jsonerror"
	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
	"github.com/EdGeraghty/FERRETCANNON-sub006/internal/eventutil"
	"github.com/EdGeraghty/FERRETCANNON-sub006/internal/httputil"
	rsapi "github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/api"
)

// JoinRoom implements POST /rooms/{roomID}/join and POST
// /join/{roomIDOrAlias}: the roomserver does the make_join/send_join dance
// itself if roomIDOrAlias names a room we don't have locally.
func JoinRoom(httpReq *http.Request, rsAPI rsapi.RoomserverInternalAPI, roomIDOrAlias string) util.JSONResponse {
	device, _ := auth.DeviceFromContext(httpReq.Context())

	var content map[string]interface{}
	_, _ = httputil.ReadJSONBody(httpReq, &content)

	var res rsapi.PerformJoinResponse
	err := rsAPI.PerformJoin(httpReq.Context(), &rsapi.PerformJoinRequest{
		RoomIDOrAlias: roomIDOrAlias,
		UserID:        device.UserID,
		Content:       content,
	}, &res)
	if err != nil {
		return util.JSONResponse{Code: http.StatusForbidden, JSON: jsonerror.Forbidden(err.Error())}
	}

	return util.JSONResponse{Code: http.StatusOK, JSON: struct {
		RoomID string `json:"room_id"`
	}{RoomID: res.RoomID}}
}

// LeaveRoom implements POST /rooms/{roomID}/leave.
func LeaveRoom(httpReq *http.Request, rsAPI rsapi.RoomserverInternalAPI, roomID string) util.JSONResponse {
	device, _ := auth.DeviceFromContext(httpReq.Context())

	var res rsapi.PerformLeaveResponse
	if err := rsAPI.PerformLeave(httpReq.Context(), &rsapi.PerformLeaveRequest{
		RoomID: roomID,
		UserID: device.UserID,
	}, &res); err != nil {
		return util.JSONResponse{Code: http.StatusForbidden, JSON: jsonerror.Forbidden(err.Error())}
	}

	return util.JSONResponse{Code: http.StatusOK, JSON: struct{}{}}
}

// InviteToRoom implements POST /rooms/{roomID}/invite. Identity-server 3PID
// invites are out of scope (spec.md's Non-goals); only a direct Matrix user
// ID invite is handled.
func InviteToRoom(httpReq *http.Request, rsAPI rsapi.RoomserverInternalAPI, identity gomatrixserverlib.SigningIdentity, roomID string) util.JSONResponse {
	device, _ := auth.DeviceFromContext(httpReq.Context())

	var body struct {
		UserID string `json:"user_id"`
		Reason string `json:"reason,omitempty"`
	}
	if _, err := httputil.ReadJSONBody(httpReq, &body); err != nil {
		return util.JSONResponse{Code: http.StatusBadRequest, JSON: jsonerror.NotJSON("could not parse request body: " + err.Error())}
	}
	if body.UserID == "" {
		return util.JSONResponse{Code: http.StatusBadRequest, JSON: jsonerror.BadJSON("missing user_id")}
	}

	content, err := json.Marshal(struct {
		Membership string `json:"membership"`
		Reason     string `json:"reason,omitempty"`
	}{Membership: "invite", Reason: body.Reason})
	if err != nil {
		return util.JSONResponse{Code: http.StatusInternalServerError, JSON: jsonerror.Unknown(err.Error())}
	}

	event, err := buildInviteEvent(httpReq.Context(), rsAPI, identity, roomID, device.UserID, body.UserID, content)
	if err != nil {
		return util.JSONResponse{Code: http.StatusForbidden, JSON: jsonerror.Forbidden("building invite event: " + err.Error())}
	}

	var performRes rsapi.PerformInviteResponse
	if err := rsAPI.PerformInvite(httpReq.Context(), &rsapi.PerformInviteRequest{
		Event:        *event,
		SendAsServer: string(identity.ServerName),
	}, &performRes); err != nil {
		return util.JSONResponse{Code: http.StatusForbidden, JSON: jsonerror.Forbidden(err.Error())}
	}

	return util.JSONResponse{Code: http.StatusOK, JSON: struct{}{}}
}

func buildInviteEvent(
	ctx context.Context,
	rsAPI rsapi.RoomserverInternalAPI,
	identity gomatrixserverlib.SigningIdentity,
	roomID, sender, invitee string,
	content []byte,
) (*gomatrixserverlib.HeaderedEvent, error) {
	proto := gomatrixserverlib.ProtoEvent{
		RoomID:   roomID,
		Sender:   sender,
		Type:     "m.room.member",
		StateKey: &invitee,
		Content:  content,
	}
	var queryRes rsapi.QueryLatestEventsAndStateResponse
	return eventutil.QueryAndBuildEvent(ctx, &proto, identity, time.Now(), rsAPI, &queryRes)
}
