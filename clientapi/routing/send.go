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
	"io"
	"net/http"

	"github.com/matrix-org/util"

	"github.com/EdGeraghty/FERRETCANNON-sub006/clientapi/auth"
	"github.com/EdGeraghty/FERRETCANNON-sub006/clientapi/jsonerror"
	"github.com/EdGeraghty/FERRETCANNON-sub006/clientapi/producers"
)

// SendEvent implements PUT /rooms/{roomID}/send/{eventType}/{txnID}: a
// timeline message, never a state event (stateKey is always nil here).
func SendEvent(httpReq *http.Request, producer *producers.RoomEventProducer, roomID, eventType, txnID string) util.JSONResponse {
	return send(httpReq, producer, roomID, eventType, nil, txnID)
}

// SendStateEvent implements PUT /rooms/{roomID}/state/{eventType}[/{stateKey}].
// stateKey defaults to the empty string when the URL omits it, matching the
// Matrix client-server API.
func SendStateEvent(httpReq *http.Request, producer *producers.RoomEventProducer, roomID, eventType, stateKey string) util.JSONResponse {
	return send(httpReq, producer, roomID, eventType, &stateKey, "")
}

func send(httpReq *http.Request, producer *producers.RoomEventProducer, roomID, eventType string, stateKey *string, txnID string) util.JSONResponse {
	device, _ := auth.DeviceFromContext(httpReq.Context())

	content, err := io.ReadAll(httpReq.Body)
	if err != nil {
		return util.JSONResponse{Code: http.StatusBadRequest, JSON: jsonerror.NotJSON("could not read request body: " + err.Error())}
	}

	eventID, err := producer.SendEvent(httpReq.Context(), roomID, device.UserID, eventType, stateKey, content, txnID)
	if err != nil {
		return util.JSONResponse{Code: http.StatusForbidden, JSON: jsonerror.Forbidden(err.Error())}
	}

	return util.JSONResponse{Code: http.StatusOK, JSON: struct {
		EventID string `json:"event_id"`
	}{EventID: eventID}}
}
