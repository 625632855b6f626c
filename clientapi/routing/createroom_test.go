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
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	rsapi "github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/api"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/storage"
)

func TestCreateRoomRejectsBadJSON(t *testing.T) {
	rsAPI := newFakeRoutingRSAPI(storage.NewMemoryDatabase())
	req := httptest.NewRequest(http.MethodPost, "/createRoom", strings.NewReader("not json"))
	res := CreateRoom(req, rsAPI)
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestCreateRoomRejectsUnsupportedRoomVersion(t *testing.T) {
	rsAPI := newFakeRoutingRSAPI(storage.NewMemoryDatabase())
	req := httptest.NewRequest(http.MethodPost, "/createRoom", strings.NewReader(`{"room_version":"bogus"}`))
	res := CreateRoom(req, rsAPI)
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestCreateRoomSucceeds(t *testing.T) {
	rsAPI := newFakeRoutingRSAPI(storage.NewMemoryDatabase())
	rsAPI.createRoomFn = func(ctx context.Context, req *rsapi.PerformCreateRoomRequest, res *rsapi.PerformCreateRoomResponse) error {
		require.Equal(t, "public_chat", req.Preset)
		res.RoomID = "!newroom:example.org"
		return nil
	}

	req := httptest.NewRequest(http.MethodPost, "/createRoom", strings.NewReader(`{"preset":"public_chat","name":"Test Room"}`))
	res := CreateRoom(req, rsAPI)
	require.Equal(t, http.StatusOK, res.Code)

	body, ok := res.JSON.(createRoomResponse)
	require.True(t, ok)
	require.Equal(t, "!newroom:example.org", body.RoomID)
}

func TestCreateRoomPropagatesPerformError(t *testing.T) {
	rsAPI := newFakeRoutingRSAPI(storage.NewMemoryDatabase())
	rsAPI.createRoomFn = func(ctx context.Context, req *rsapi.PerformCreateRoomRequest, res *rsapi.PerformCreateRoomResponse) error {
		return errTestCreateRoom
	}

	req := httptest.NewRequest(http.MethodPost, "/createRoom", strings.NewReader(`{}`))
	res := CreateRoom(req, rsAPI)
	require.Equal(t, http.StatusInternalServerError, res.Code)
}

var errTestCreateRoom = errCreateRoomForTest{}

type errCreateRoomForTest struct{}

func (errCreateRoomForTest) Error() string { return "create room failed for test" }
