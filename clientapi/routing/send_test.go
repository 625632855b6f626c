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

	"github.com/EdGeraghty/FERRETCANNON-sub006/clientapi/producers"
	rsapi "github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/api"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/storage"
)

func TestSendEventHandlerSucceeds(t *testing.T) {
	db := storage.NewMemoryDatabase()
	identity := testIdentityFromKey(t)
	roomID := seedRoutingRoom(t, db, identity)

	rsAPI := newFakeRoutingRSAPI(db)
	rsAPI.inputRoomEventsFn = func(ctx context.Context, req *rsapi.InputRoomEventsRequest, res *rsapi.InputRoomEventsResponse) {
		require.Len(t, req.InputRoomEvents, 1)
		require.Nil(t, req.InputRoomEvents[0].Event.StateKey())
	}
	producer := &producers.RoomEventProducer{RSAPI: rsAPI, Identity: identity}

	req := httptest.NewRequest(http.MethodPut, "/rooms/"+roomID+"/send/m.room.message/txn1", strings.NewReader(`{"body":"hi"}`))
	res := SendEvent(req, producer, roomID, "m.room.message", "txn1")
	require.Equal(t, http.StatusOK, res.Code)
}

func TestSendEventHandlerPropagatesProducerError(t *testing.T) {
	db := storage.NewMemoryDatabase()
	identity := testIdentityFromKey(t)

	rsAPI := newFakeRoutingRSAPI(db)
	producer := &producers.RoomEventProducer{RSAPI: rsAPI, Identity: identity}

	req := httptest.NewRequest(http.MethodPut, "/rooms/!unknown:example.org/send/m.room.message/txn1", strings.NewReader(`{"body":"hi"}`))
	res := SendEvent(req, producer, "!unknown:example.org", "m.room.message", "txn1")
	require.Equal(t, http.StatusForbidden, res.Code)
}

func TestSendStateEventHandlerSucceeds(t *testing.T) {
	db := storage.NewMemoryDatabase()
	identity := testIdentityFromKey(t)
	roomID := seedRoutingRoom(t, db, identity)

	rsAPI := newFakeRoutingRSAPI(db)
	rsAPI.inputRoomEventsFn = func(ctx context.Context, req *rsapi.InputRoomEventsRequest, res *rsapi.InputRoomEventsResponse) {
		sk := req.InputRoomEvents[0].Event.StateKey()
		require.NotNil(t, sk)
		require.Equal(t, "", *sk)
	}
	producer := &producers.RoomEventProducer{RSAPI: rsAPI, Identity: identity}

	req := httptest.NewRequest(http.MethodPut, "/rooms/"+roomID+"/state/m.room.topic", strings.NewReader(`{"topic":"hi"}`))
	res := SendStateEvent(req, producer, roomID, "m.room.topic", "")
	require.Equal(t, http.StatusOK, res.Code)
}
