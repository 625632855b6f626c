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

// Invite implements PUT /_matrix/federation/v2/invite/{roomID}/{eventID}:
// the inviting server hands over an event signed by itself; the invitee's
// server (us) adds its own signature before storing and acknowledging it, the
// mirror image of FederationAPI.SendInvite on the outbound side.
func Invite(
	httpReq *http.Request,
	origin gomatrixserverlib.ServerName,
	identity gomatrixserverlib.SigningIdentity,
	rsAPI rsapi.RoomserverInternalAPI,
	roomID, eventID string,
) util.JSONResponse {
	var inviteReq gomatrixserverlib.InviteV2Request
	if _, err := httputil.ReadJSONBody(httpReq, &inviteReq); err != nil {
		return util.JSONResponse{Code: http.StatusBadRequest, JSON: jsonerror.NotJSON(err.Error())}
	}

	event, err := gomatrixserverlib.NewEventFromUntrustedJSON(inviteReq.Event, inviteReq.RoomVersion)
	if err != nil {
		return util.JSONResponse{Code: http.StatusBadRequest, JSON: jsonerror.BadJSON("invalid event JSON: " + err.Error())}
	}
	if event.EventID() != eventID || event.RoomID() != roomID {
		return util.JSONResponse{Code: http.StatusBadRequest, JSON: jsonerror.BadJSON("event ID or room ID does not match the URL")}
	}
	var content struct {
		Membership string `json:"membership"`
	}
	if err := json.Unmarshal(event.Content(), &content); err != nil || content.Membership != "invite" {
		return util.JSONResponse{Code: http.StatusBadRequest, JSON: jsonerror.BadJSON("not an invite event")}
	}

	countersignedJSON, err := gomatrixserverlib.SignEventJSON(identity.ServerName, identity.KeyID, identity.PrivateKey, event.JSON())
	if err != nil {
		return util.JSONResponse{Code: http.StatusInternalServerError, JSON: jsonerror.Unknown("countersigning invite: " + err.Error())}
	}
	countersigned, err := gomatrixserverlib.NewEventFromUntrustedJSON(countersignedJSON, inviteReq.RoomVersion)
	if err != nil {
		return util.JSONResponse{Code: http.StatusInternalServerError, JSON: jsonerror.Unknown("reparsing countersigned invite: " + err.Error())}
	}
	headered := countersigned.Headered(inviteReq.RoomVersion)

	var performRes rsapi.PerformInviteResponse
	if err := rsAPI.PerformInvite(httpReq.Context(), &rsapi.PerformInviteRequest{
		Event:           headered,
		InviteRoomState: inviteReq.InviteRoomState,
		SendAsServer:    string(origin),
	}, &performRes); err != nil {
		return util.JSONResponse{Code: http.StatusForbidden, JSON: jsonerror.Forbidden(err.Error())}
	}

	return util.JSONResponse{Code: http.StatusOK, JSON: struct {
		Event json.RawMessage `json:"event"`
	}{Event: json.RawMessage(headered.JSON())}}
}
