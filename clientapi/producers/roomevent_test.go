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

package producers

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ed25519"

	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
	rsapi "github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/api"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/internal/query"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/storage"
)

var fixedBuildTimeProducers = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// testRSAPI satisfies rsapi.RoomserverInternalAPI by composing a real
// *query.Queryer (RoomserverQueryAPI) with a swappable InputRoomEvents
// implementation (RoomserverInputAPI); the embedded nil
// RoomserverPerformAPI satisfies the rest of the interface statically
// without SendEvent ever calling through it.
type testRSAPI struct {
	*query.Queryer
	rsapi.RoomserverPerformAPI
	input func(ctx context.Context, req *rsapi.InputRoomEventsRequest, res *rsapi.InputRoomEventsResponse)
}

func (t *testRSAPI) InputRoomEvents(ctx context.Context, req *rsapi.InputRoomEventsRequest, res *rsapi.InputRoomEventsResponse) {
	t.input(ctx, req, res)
}

func newTestRSAPI(db storage.Database, input func(ctx context.Context, req *rsapi.InputRoomEventsRequest, res *rsapi.InputRoomEventsResponse)) *testRSAPI {
	return &testRSAPI{Queryer: query.NewQueryer(db), input: input}
}

func testIdentityForProducers(t *testing.T) gomatrixserverlib.SigningIdentity {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return gomatrixserverlib.SigningIdentity{ServerName: "example.org", KeyID: "ed25519:1", PrivateKey: priv}
}

func seedProducerRoom(t *testing.T, db storage.Database, identity gomatrixserverlib.SigningIdentity) string {
	t.Helper()
	roomID := "!room:example.org"
	sk := ""
	proto := gomatrixserverlib.ProtoEvent{
		RoomID:   roomID,
		Sender:   "@alice:example.org",
		Type:     "m.room.create",
		StateKey: &sk,
		Content:  []byte(`{"creator":"@alice:example.org"}`),
	}
	builder := gomatrixserverlib.EventBuilder{ProtoEvent: proto, RoomVersion: gomatrixserverlib.RoomVersionV9}
	ev, err := builder.Build(fixedBuildTimeProducers, identity.ServerName, identity.KeyID, identity.PrivateKey)
	require.NoError(t, err)

	require.NoError(t, db.CreateRoomInfo(context.Background(), roomID, gomatrixserverlib.RoomVersionV9))
	headered := ev.Headered(gomatrixserverlib.RoomVersionV9)
	_, _, err = db.StoreEvent(context.Background(), headered, false)
	require.NoError(t, err)
	group, err := db.AddState(context.Background(), roomID, 0, nil, []storage.StateEntry{{
		StateKeyTuple: gomatrixserverlib.StateKeyTuple{EventType: "m.room.create", StateKey: ""},
		EventID:       ev.EventID(),
	}})
	require.NoError(t, err)
	require.NoError(t, db.SetState(context.Background(), ev.EventID(), group))
	require.NoError(t, db.SetLatestEvents(context.Background(), roomID, []string{ev.EventID()}, 1))
	return roomID
}

func TestSendEventBuildsSignsAndInputsEvent(t *testing.T) {
	db := storage.NewMemoryDatabase()
	identity := testIdentityForProducers(t)
	roomID := seedProducerRoom(t, db, identity)

	var captured rsapi.InputRoomEvent
	rsAPI := newTestRSAPI(db, func(ctx context.Context, req *rsapi.InputRoomEventsRequest, res *rsapi.InputRoomEventsResponse) {
		require.Len(t, req.InputRoomEvents, 1)
		captured = req.InputRoomEvents[0]
	})

	p := &RoomEventProducer{RSAPI: rsAPI, Identity: identity}
	eventID, err := p.SendEvent(context.Background(), roomID, "@alice:example.org", "m.room.message", nil, []byte(`{"body":"hi"}`), "")
	require.NoError(t, err)
	require.NotEmpty(t, eventID)
	require.Equal(t, eventID, captured.Event.EventID())
	require.Equal(t, rsapi.KindNew, captured.Kind)
	require.Equal(t, "example.org", captured.SendAsServer)
	require.Nil(t, captured.TransactionID)
}

func TestSendEventAttachesTransactionID(t *testing.T) {
	db := storage.NewMemoryDatabase()
	identity := testIdentityForProducers(t)
	roomID := seedProducerRoom(t, db, identity)

	var captured rsapi.InputRoomEvent
	rsAPI := newTestRSAPI(db, func(ctx context.Context, req *rsapi.InputRoomEventsRequest, res *rsapi.InputRoomEventsResponse) {
		captured = req.InputRoomEvents[0]
	})

	p := &RoomEventProducer{RSAPI: rsAPI, Identity: identity}
	_, err := p.SendEvent(context.Background(), roomID, "@alice:example.org", "m.room.message", nil, []byte(`{"body":"hi"}`), "txn1")
	require.NoError(t, err)
	require.NotNil(t, captured.TransactionID)
	require.Equal(t, "txn1", captured.TransactionID.TransactionID)
}

func TestSendEventBuildsStateEventWithStateKey(t *testing.T) {
	db := storage.NewMemoryDatabase()
	identity := testIdentityForProducers(t)
	roomID := seedProducerRoom(t, db, identity)

	var captured rsapi.InputRoomEvent
	rsAPI := newTestRSAPI(db, func(ctx context.Context, req *rsapi.InputRoomEventsRequest, res *rsapi.InputRoomEventsResponse) {
		captured = req.InputRoomEvents[0]
	})

	stateKey := ""
	p := &RoomEventProducer{RSAPI: rsAPI, Identity: identity}
	_, err := p.SendEvent(context.Background(), roomID, "@alice:example.org", "m.room.topic", &stateKey, []byte(`{"topic":"hello"}`), "")
	require.NoError(t, err)
	require.NotNil(t, captured.Event.StateKey())
	require.Equal(t, "", *captured.Event.StateKey())
}

func TestSendEventPropagatesInputerRejection(t *testing.T) {
	db := storage.NewMemoryDatabase()
	identity := testIdentityForProducers(t)
	roomID := seedProducerRoom(t, db, identity)

	rsAPI := newTestRSAPI(db, func(ctx context.Context, req *rsapi.InputRoomEventsRequest, res *rsapi.InputRoomEventsResponse) {
		res.ErrMsg = "rejected for test"
	})

	p := &RoomEventProducer{RSAPI: rsAPI, Identity: identity}
	_, err := p.SendEvent(context.Background(), roomID, "@alice:example.org", "m.room.message", nil, []byte(`{"body":"hi"}`), "")
	require.Error(t, err)
}

func TestSendEventPropagatesUnknownRoomError(t *testing.T) {
	db := storage.NewMemoryDatabase()
	identity := testIdentityForProducers(t)

	rsAPI := newTestRSAPI(db, func(ctx context.Context, req *rsapi.InputRoomEventsRequest, res *rsapi.InputRoomEventsResponse) {
		t.Fatal("InputRoomEvents should not be called when event building fails")
	})

	p := &RoomEventProducer{RSAPI: rsAPI, Identity: identity}
	_, err := p.SendEvent(context.Background(), "!unknown:example.org", "@alice:example.org", "m.room.message", nil, []byte(`{"body":"hi"}`), "")
	require.Error(t, err)
}
