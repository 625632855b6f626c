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
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/ed25519"

	"github.com/stretchr/testify/require"

	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
	"github.com/EdGeraghty/FERRETCANNON-sub006/internal/caching"
	rsapi "github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/api"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/internal"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/storage"
)

var fixedBuildTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func testIdentity(t *testing.T) gomatrixserverlib.SigningIdentity {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return gomatrixserverlib.SigningIdentity{ServerName: "example.org", KeyID: "ed25519:1", PrivateKey: priv}
}

// chainEvent builds a signed event whose prev_events/auth_events point at
// parents, using a distinct signing key per event the way independently
// authored room events would be.
func chainEvent(t *testing.T, roomID, eventType string, stateKey *string, content string, prevEvents, authEvents []string) gomatrixserverlib.HeaderedEvent {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	builder := gomatrixserverlib.EventBuilder{
		ProtoEvent: gomatrixserverlib.ProtoEvent{
			RoomID:     roomID,
			Sender:     "@alice:example.org",
			Type:       eventType,
			StateKey:   stateKey,
			Content:    []byte(content),
			PrevEvents: prevEvents,
			AuthEvents: authEvents,
		},
		RoomVersion: gomatrixserverlib.RoomVersionV9,
	}
	ev, err := builder.Build(fixedBuildTime, "example.org", "ed25519:1", priv)
	require.NoError(t, err)
	return ev.Headered(gomatrixserverlib.RoomVersionV9)
}

func newTestRoomserverAPI(t *testing.T) (rsapi.RoomserverInternalAPI, *storage.MemoryDatabase) {
	t.Helper()
	db := storage.NewMemoryDatabase()
	identity := testIdentity(t)
	rsAPI := internal.NewRoomserverAPI(db, nil, "", "example.org", identity, caching.NewRoomServerCaches(time.Hour))
	return rsAPI, db
}

func storeChain(t *testing.T, db *storage.MemoryDatabase, roomID string, events ...gomatrixserverlib.HeaderedEvent) {
	t.Helper()
	ctx := context.Background()
	for _, ev := range events {
		_, _, err := db.StoreEvent(ctx, ev, false)
		require.NoError(t, err)
	}
}

func TestGetBackfillWalksPrevEvents(t *testing.T) {
	rsAPI, db := newTestRoomserverAPI(t)
	roomID := "!room:example.org"
	require.NoError(t, db.CreateRoomInfo(context.Background(), roomID, gomatrixserverlib.RoomVersionV9))

	sk := ""
	root := chainEvent(t, roomID, "m.room.create", &sk, `{"creator":"@alice:example.org"}`, nil, nil)
	second := chainEvent(t, roomID, "m.room.message", nil, `{"body":"one"}`, []string{root.EventID()}, []string{root.EventID()})
	third := chainEvent(t, roomID, "m.room.message", nil, `{"body":"two"}`, []string{second.EventID()}, []string{root.EventID()})
	storeChain(t, db, roomID, root, second, third)

	req := httptest.NewRequest(http.MethodGet, "/backfill/"+roomID+"?v="+third.EventID()+"&limit=10", nil)
	resp := GetBackfill(req, rsAPI, roomID)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %+v", resp.Code, resp.JSON)
	}
	respState, ok := resp.JSON.(gomatrixserverlib.RespState)
	require.True(t, ok)
	require.Len(t, respState.StateEvents, 3)
}

func TestGetBackfillRespectsLimit(t *testing.T) {
	rsAPI, db := newTestRoomserverAPI(t)
	roomID := "!room:example.org"
	require.NoError(t, db.CreateRoomInfo(context.Background(), roomID, gomatrixserverlib.RoomVersionV9))

	sk := ""
	root := chainEvent(t, roomID, "m.room.create", &sk, `{"creator":"@alice:example.org"}`, nil, nil)
	second := chainEvent(t, roomID, "m.room.message", nil, `{"body":"one"}`, []string{root.EventID()}, []string{root.EventID()})
	storeChain(t, db, roomID, root, second)

	req := httptest.NewRequest(http.MethodGet, "/backfill/"+roomID+"?v="+second.EventID()+"&limit=1", nil)
	resp := GetBackfill(req, rsAPI, roomID)
	require.Equal(t, http.StatusOK, resp.Code)
	respState := resp.JSON.(gomatrixserverlib.RespState)
	require.Len(t, respState.StateEvents, 1)
}

func TestGetBackfillMissingVParam(t *testing.T) {
	rsAPI, _ := newTestRoomserverAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/backfill/!room:example.org", nil)
	resp := GetBackfill(req, rsAPI, "!room:example.org")
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestGetBackfillUnknownRoom(t *testing.T) {
	rsAPI, _ := newTestRoomserverAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/backfill/!nope:example.org?v=$x", nil)
	resp := GetBackfill(req, rsAPI, "!nope:example.org")
	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestGetEventAuthGathersAuthChain(t *testing.T) {
	rsAPI, db := newTestRoomserverAPI(t)
	roomID := "!room:example.org"
	require.NoError(t, db.CreateRoomInfo(context.Background(), roomID, gomatrixserverlib.RoomVersionV9))

	sk := ""
	create := chainEvent(t, roomID, "m.room.create", &sk, `{"creator":"@alice:example.org"}`, nil, nil)
	memberSK := "@alice:example.org"
	member := chainEvent(t, roomID, "m.room.member", &memberSK, `{"membership":"join"}`, []string{create.EventID()}, []string{create.EventID()})
	msg := chainEvent(t, roomID, "m.room.message", nil, `{"body":"hi"}`, []string{member.EventID()}, []string{create.EventID(), member.EventID()})
	storeChain(t, db, roomID, create, member, msg)

	req := httptest.NewRequest(http.MethodGet, "/event_auth/"+roomID+"/"+msg.EventID(), nil)
	resp := GetEventAuth(req, rsAPI, roomID, msg.EventID())
	require.Equal(t, http.StatusOK, resp.Code)
	respState := resp.JSON.(gomatrixserverlib.RespState)
	require.Len(t, respState.AuthEvents, 2)
}

func TestGetEventAuthUnknownEvent(t *testing.T) {
	rsAPI, _ := newTestRoomserverAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/event_auth/!room:example.org/$nope", nil)
	resp := GetEventAuth(req, rsAPI, "!room:example.org", "$nope")
	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestGetEventAuthEventInDifferentRoom(t *testing.T) {
	rsAPI, db := newTestRoomserverAPI(t)
	roomID := "!room:example.org"
	require.NoError(t, db.CreateRoomInfo(context.Background(), roomID, gomatrixserverlib.RoomVersionV9))
	sk := ""
	create := chainEvent(t, roomID, "m.room.create", &sk, `{"creator":"@alice:example.org"}`, nil, nil)
	storeChain(t, db, roomID, create)

	req := httptest.NewRequest(http.MethodGet, "/event_auth/!other:example.org/"+create.EventID(), nil)
	resp := GetEventAuth(req, rsAPI, "!other:example.org", create.EventID())
	require.Equal(t, http.StatusNotFound, resp.Code)
}
