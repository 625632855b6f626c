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

	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
	rsapi "github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/api"
)

// MakeLeave implements
// GET /_matrix/federation/v1/make_leave/{roomID}/{userID}.
func MakeLeave(httpReq *http.Request, identity gomatrixserverlib.SigningIdentity, rsAPI rsapi.RoomserverInternalAPI, roomID, userID string) util.JSONResponse {
	proto, queryRes, errResp := makeMembershipProto(httpReq, rsAPI, roomID, userID, "leave")
	if errResp != nil {
		return *errResp
	}
	return util.JSONResponse{Code: http.StatusOK, JSON: gomatrixserverlib.RespMakeLeave{
		Event:       *proto,
		RoomVersion: queryRes.RoomVersion,
	}}
}

// SendLeave implements
// PUT /_matrix/federation/v2/send_leave/{roomID}/{eventID}: unlike
// send_join and send_knock this has no reply body beyond an empty object.
func SendLeave(httpReq *http.Request, origin gomatrixserverlib.ServerName, rsAPI rsapi.RoomserverInternalAPI, roomID, eventID string) util.JSONResponse {
	if _, errResp := verifyAndInputMembershipEvent(httpReq, origin, rsAPI, roomID, eventID, "leave"); errResp != nil {
		return *errResp
	}
	return util.JSONResponse{Code: http.StatusOK, JSON: struct{}{}}
}
