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
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
)

func TestSendLeaveRoomNotFound(t *testing.T) {
	rsAPI, _ := newTestRoomserverAPI(t)
	req := httptest.NewRequest(http.MethodPut, "/send_leave/!nope:example.org/$ev", bytes.NewReader([]byte(`{}`)))
	resp := SendLeave(req, "example.org", rsAPI, "!nope:example.org", "$ev")
	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestSendLeaveInvalidEventJSON(t *testing.T) {
	rsAPI, db := newTestRoomserverAPI(t)
	roomID := "!room:example.org"
	require.NoError(t, db.CreateRoomInfo(context.Background(), roomID, gomatrixserverlib.RoomVersionV9))

	req := httptest.NewRequest(http.MethodPut, "/send_leave/"+roomID+"/$ev", bytes.NewReader([]byte(`not json`)))
	resp := SendLeave(req, "example.org", rsAPI, roomID, "$ev")
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestSendLeaveEventIDMismatch(t *testing.T) {
	rsAPI, db := newTestRoomserverAPI(t)
	roomID := "!room:example.org"
	require.NoError(t, db.CreateRoomInfo(context.Background(), roomID, gomatrixserverlib.RoomVersionV9))
	sk := ""
	create := chainEvent(t, roomID, "m.room.create", &sk, `{"creator":"@alice:example.org"}`, nil, nil)
	storeChain(t, db, roomID, create)

	memberSK := "@bob:example.org"
	leaveEv := chainEvent(t, roomID, "m.room.member", &memberSK, `{"membership":"leave"}`, []string{create.EventID()}, []string{create.EventID()})

	req := httptest.NewRequest(http.MethodPut, "/send_leave/"+roomID+"/$wrong-id", bytes.NewReader(leaveEv.JSON()))
	resp := SendLeave(req, "example.org", rsAPI, roomID, "$wrong-id")
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestSendLeaveMembershipMismatch(t *testing.T) {
	rsAPI, db := newTestRoomserverAPI(t)
	roomID := "!room:example.org"
	require.NoError(t, db.CreateRoomInfo(context.Background(), roomID, gomatrixserverlib.RoomVersionV9))
	sk := ""
	create := chainEvent(t, roomID, "m.room.create", &sk, `{"creator":"@alice:example.org"}`, nil, nil)
	storeChain(t, db, roomID, create)

	memberSK := "@bob:example.org"
	joinEv := chainEvent(t, roomID, "m.room.member", &memberSK, `{"membership":"join"}`, []string{create.EventID()}, []string{create.EventID()})

	req := httptest.NewRequest(http.MethodPut, "/send_leave/"+roomID+"/"+joinEv.EventID(), bytes.NewReader(joinEv.JSON()))
	resp := SendLeave(req, "example.org", rsAPI, roomID, joinEv.EventID())
	require.Equal(t, http.StatusBadRequest, resp.Code)
}
