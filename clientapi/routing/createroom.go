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

	"github.com/EdGeraghty/FERRETCANNON-sub006/clientapi/auth"
	"github.com/EdGeraghty/FERRETCANNON-sub006/clientapi/jsonerror"
	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
	"github.com/EdGeraghty/FERRETCANNON-sub006/internal/httputil"
	rsapi "github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/api"
)

type createRoomRequest struct {
	Preset       string                          `json:"preset"`
	Name         string                          `json:"name"`
	Topic        string                          `json:"topic"`
	RoomVersion  string                          `json:"room_version"`
	IsDirect     bool                            `json:"is_direct"`
	InitialState []gomatrixserverlib.ProtoEvent  `json:"initial_state"`
}

type createRoomResponse struct {
	RoomID string `json:"room_id"`
}

// CreateRoom implements POST /createRoom.
func CreateRoom(httpReq *http.Request, rsAPI rsapi.RoomserverInternalAPI) util.JSONResponse {
	device, _ := auth.DeviceFromContext(httpReq.Context())

	var body createRoomRequest
	if _, err := httputil.ReadJSONBody(httpReq, &body); err != nil {
		return util.JSONResponse{Code: http.StatusBadRequest, JSON: jsonerror.NotJSON("could not parse request body: " + err.Error())}
	}

	roomVersion := gomatrixserverlib.RoomVersion(body.RoomVersion)
	if roomVersion != "" && !roomVersion.Supported() {
		return util.JSONResponse{Code: http.StatusBadRequest, JSON: jsonerror.UnsupportedRoomVersion("unknown room version " + body.RoomVersion)}
	}

	req := rsapi.PerformCreateRoomRequest{
		UserID:       device.UserID,
		RoomVersion:  roomVersion,
		Preset:       body.Preset,
		Name:         body.Name,
		Topic:        body.Topic,
		InitialState: body.InitialState,
		IsDirect:     body.IsDirect,
	}
	var res rsapi.PerformCreateRoomResponse
	if err := rsAPI.PerformCreateRoom(httpReq.Context(), &req, &res); err != nil {
		return util.JSONResponse{Code: http.StatusInternalServerError, JSON: jsonerror.Unknown(err.Error())}
	}

	return util.JSONResponse{Code: http.StatusOK, JSON: createRoomResponse{RoomID: res.RoomID}}
}
