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

package state_test

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"golang.org/x/crypto/ed25519"

	"github.com/stretchr/testify/require"

	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/state"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/storage"
)

func buildTestEvent(t *testing.T, proto gomatrixserverlib.ProtoEvent) gomatrixserverlib.Event {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	builder := gomatrixserverlib.EventBuilder{ProtoEvent: proto, RoomVersion: gomatrixserverlib.RoomVersionV9}
	ev, err := builder.Build(time.Now(), "example.com", "ed25519:1", priv)
	require.NoError(t, err)
	return *ev
}

func TestCalculateStateBeforeCreateEventIsEmpty(t *testing.T) {
	db := storage.NewMemoryDatabase()
	ctx := context.Background()
	roomID := "!room:example.com"
	require.NoError(t, db.CreateRoomInfo(ctx, roomID, gomatrixserverlib.RoomVersionV9))

	create := buildTestEvent(t, gomatrixserverlib.ProtoEvent{
		RoomID: roomID, Sender: "@alice:example.com", Type: "m.room.create",
		StateKey: strPtr(""), Content: []byte(`{"creator":"@alice:example.com"}`),
	})

	sr := state.NewStateResolution(db, storage.RoomInfo{RoomID: roomID, RoomVersion: gomatrixserverlib.RoomVersionV9})
	group, err := sr.CalculateAndStoreStateBeforeEvent(ctx, create, false)
	require.NoError(t, err)
	require.Equal(t, int64(0), group)
}

func TestCalculateStateBeforeEventWithSinglePrev(t *testing.T) {
	db := storage.NewMemoryDatabase()
	ctx := context.Background()
	roomID := "!room:example.com"
	require.NoError(t, db.CreateRoomInfo(ctx, roomID, gomatrixserverlib.RoomVersionV9))

	create := buildTestEvent(t, gomatrixserverlib.ProtoEvent{
		RoomID: roomID, Sender: "@alice:example.com", Type: "m.room.create",
		StateKey: strPtr(""), Content: []byte(`{"creator":"@alice:example.com"}`),
	})
	entry := storage.StateEntry{
		StateKeyTuple: gomatrixserverlib.StateKeyTuple{EventType: "m.room.create", StateKey: ""},
		EventID:       create.EventID(),
	}
	group, err := db.AddState(ctx, roomID, 0, nil, []storage.StateEntry{entry})
	require.NoError(t, err)
	require.NoError(t, db.SetState(ctx, create.EventID(), group))

	join := buildTestEvent(t, gomatrixserverlib.ProtoEvent{
		RoomID: roomID, Sender: "@alice:example.com", Type: "m.room.member",
		StateKey: strPtr("@alice:example.com"), Content: []byte(`{"membership":"join"}`),
		PrevEvents: []string{create.EventID()},
	})

	sr := state.NewStateResolution(db, storage.RoomInfo{RoomID: roomID, RoomVersion: gomatrixserverlib.RoomVersionV9})
	gotGroup, err := sr.CalculateAndStoreStateBeforeEvent(ctx, join, false)
	require.NoError(t, err)
	require.Equal(t, group, gotGroup)
}

func strPtr(s string) *string { return &s }
