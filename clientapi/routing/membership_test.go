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

func TestJoinRoomSucceeds(t *testing.T) {
	rsAPI := newFakeRoutingRSAPI(storage.NewMemoryDatabase())
	rsAPI.performJoinFn = func(ctx context.Context, req *rsapi.PerformJoinRequest, res *rsapi.PerformJoinResponse) error {
		require.Equal(t, "!room:example.org", req.RoomIDOrAlias)
		res.RoomID = "!room:example.org"
		return nil
	}

	req := httptest.NewRequest(http.MethodPost, "/rooms/!room:example.org/join", strings.NewReader("{}"))
	res := JoinRoom(req, rsAPI, "!room:example.org")
	require.Equal(t, http.StatusOK, res.Code)
}

func TestJoinRoomPropagatesPerformError(t *testing.T) {
	rsAPI := newFakeRoutingRSAPI(storage.NewMemoryDatabase())
	rsAPI.performJoinFn = func(ctx context.Context, req *rsapi.PerformJoinRequest, res *rsapi.PerformJoinResponse) error {
		return errCreateRoomForTest{}
	}

	req := httptest.NewRequest(http.MethodPost, "/rooms/!room:example.org/join", strings.NewReader("{}"))
	res := JoinRoom(req, rsAPI, "!room:example.org")
	require.Equal(t, http.StatusForbidden, res.Code)
}

func TestLeaveRoomSucceeds(t *testing.T) {
	rsAPI := newFakeRoutingRSAPI(storage.NewMemoryDatabase())
	rsAPI.performLeaveFn = func(ctx context.Context, req *rsapi.PerformLeaveRequest, res *rsapi.PerformLeaveResponse) error {
		require.Equal(t, "!room:example.org", req.RoomID)
		return nil
	}

	req := httptest.NewRequest(http.MethodPost, "/rooms/!room:example.org/leave", nil)
	res := LeaveRoom(req, rsAPI, "!room:example.org")
	require.Equal(t, http.StatusOK, res.Code)
}

func TestLeaveRoomPropagatesPerformError(t *testing.T) {
	rsAPI := newFakeRoutingRSAPI(storage.NewMemoryDatabase())
	rsAPI.performLeaveFn = func(ctx context.Context, req *rsapi.PerformLeaveRequest, res *rsapi.PerformLeaveResponse) error {
		return errCreateRoomForTest{}
	}

	req := httptest.NewRequest(http.MethodPost, "/rooms/!room:example.org/leave", nil)
	res := LeaveRoom(req, rsAPI, "!room:example.org")
	require.Equal(t, http.StatusForbidden, res.Code)
}

func TestInviteToRoomRejectsMissingUserID(t *testing.T) {
	db := storage.NewMemoryDatabase()
	rsAPI := newFakeRoutingRSAPI(db)
	identity := testIdentityFromKey(t)

	req := httptest.NewRequest(http.MethodPost, "/rooms/!room:example.org/invite", strings.NewReader(`{}`))
	res := InviteToRoom(req, rsAPI, identity, "!room:example.org")
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestInviteToRoomRejectsBadJSON(t *testing.T) {
	db := storage.NewMemoryDatabase()
	rsAPI := newFakeRoutingRSAPI(db)
	identity := testIdentityFromKey(t)

	req := httptest.NewRequest(http.MethodPost, "/rooms/!room:example.org/invite", strings.NewReader(`not json`))
	res := InviteToRoom(req, rsAPI, identity, "!room:example.org")
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestInviteToRoomUnknownRoomFailsBuildingEvent(t *testing.T) {
	db := storage.NewMemoryDatabase()
	rsAPI := newFakeRoutingRSAPI(db)
	identity := testIdentityFromKey(t)

	req := httptest.NewRequest(http.MethodPost, "/rooms/!room:example.org/invite", strings.NewReader(`{"user_id":"@bob:example.org"}`))
	res := InviteToRoom(req, rsAPI, identity, "!room:example.org")
	require.Equal(t, http.StatusForbidden, res.Code)
}

func TestInviteToRoomSucceeds(t *testing.T) {
	db := storage.NewMemoryDatabase()
	identity := testIdentityFromKey(t)
	roomID := seedRoutingRoom(t, db, identity)

	rsAPI := newFakeRoutingRSAPI(db)
	rsAPI.performInviteFn = func(ctx context.Context, req *rsapi.PerformInviteRequest, res *rsapi.PerformInviteResponse) error {
		require.Equal(t, "@bob:example.org", *req.Event.StateKey())
		return nil
	}

	req := httptest.NewRequest(http.MethodPost, "/rooms/"+roomID+"/invite", strings.NewReader(`{"user_id":"@bob:example.org","reason":"join us"}`))
	res := InviteToRoom(req, rsAPI, identity, roomID)
	require.Equal(t, http.StatusOK, res.Code)
}

func TestInviteToRoomPropagatesPerformError(t *testing.T) {
	db := storage.NewMemoryDatabase()
	identity := testIdentityFromKey(t)
	roomID := seedRoutingRoom(t, db, identity)

	rsAPI := newFakeRoutingRSAPI(db)
	rsAPI.performInviteFn = func(ctx context.Context, req *rsapi.PerformInviteRequest, res *rsapi.PerformInviteResponse) error {
		return errCreateRoomForTest{}
	}

	req := httptest.NewRequest(http.MethodPost, "/rooms/"+roomID+"/invite", strings.NewReader(`{"user_id":"@bob:example.org"}`))
	res := InviteToRoom(req, rsAPI, identity, roomID)
	require.Equal(t, http.StatusForbidden, res.Code)
}

