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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
)

func TestMakeLeaveReturnsProtoEvent(t *testing.T) {
	rsAPI, db := newTestRoomserverAPI(t)
	roomID := "!room:example.org"
	require.NoError(t, db.CreateRoomInfo(context.Background(), roomID, gomatrixserverlib.RoomVersionV9))

	sk := ""
	create := chainEvent(t, roomID, "m.room.create", &sk, `{"creator":"@alice:example.org"}`, nil, nil)
	storeChain(t, db, roomID, create)

	identity := testIdentity(t)
	req := httptest.NewRequest(http.MethodGet, "/make_leave/"+roomID+"/@bob:example.org", nil)
	resp := MakeLeave(req, identity, rsAPI, roomID, "@bob:example.org")
	require.Equal(t, http.StatusOK, resp.Code)

	makeLeave, ok := resp.JSON.(gomatrixserverlib.RespMakeLeave)
	require.True(t, ok)
	require.Equal(t, "@bob:example.org", makeLeave.Event.Sender)
}

func TestMakeLeaveUnknownRoom(t *testing.T) {
	rsAPI, _ := newTestRoomserverAPI(t)
	identity := testIdentity(t)
	req := httptest.NewRequest(http.MethodGet, "/make_leave/!nope:example.org/@bob:example.org", nil)
	resp := MakeLeave(req, identity, rsAPI, "!nope:example.org", "@bob:example.org")
	require.Equal(t, http.StatusNotFound, resp.Code)
}
