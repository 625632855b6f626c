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

package storage_test

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"golang.org/x/crypto/ed25519"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/storage"
)

var fixedTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func buildEvent(t *testing.T, roomID, eventType string, stateKey *string, content string) gomatrixserverlib.HeaderedEvent {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	builder := gomatrixserverlib.EventBuilder{
		ProtoEvent: gomatrixserverlib.ProtoEvent{
			RoomID:   roomID,
			Sender:   "@alice:example.com",
			Type:     eventType,
			StateKey: stateKey,
			Content:  []byte(content),
			PrevEvents: []string{},
			AuthEvents: []string{},
		},
		RoomVersion: gomatrixserverlib.RoomVersionV9,
	}
	ev, err := builder.Build(fixedTime, "example.com", "ed25519:1", priv)
	require.NoError(t, err)
	return ev.Headered(gomatrixserverlib.RoomVersionV9)
}

func TestMemoryDatabaseStoreAndFetchEvent(t *testing.T) {
	db := storage.NewMemoryDatabase()
	ctx := context.Background()
	require.NoError(t, db.CreateRoomInfo(ctx, "!room:example.com", gomatrixserverlib.RoomVersionV9))

	ev := buildEvent(t, "!room:example.com", "m.room.message", nil, `{"body":"hi"}`)
	_, _, err := db.StoreEvent(ctx, ev, false)
	require.NoError(t, err)

	fetched, err := db.EventsFromIDs(ctx, []string{ev.EventID()})
	require.NoError(t, err)
	require.Len(t, fetched, 1)
	assert.Equal(t, ev.EventID(), fetched[0].EventID())
}

func TestMemoryDatabaseStateGroupRoundTrips(t *testing.T) {
	db := storage.NewMemoryDatabase()
	ctx := context.Background()
	sk := ""
	ev := buildEvent(t, "!room:example.com", "m.room.name", &sk, `{"name":"test"}`)

	entry := storage.StateEntry{
		StateKeyTuple: gomatrixserverlib.StateKeyTuple{EventType: "m.room.name", StateKey: ""},
		EventID:       ev.EventID(),
	}
	group1, err := db.AddState(ctx, "!room:example.com", 0, nil, []storage.StateEntry{entry})
	require.NoError(t, err)

	state, err := db.StateEntriesForGroup(ctx, group1)
	require.NoError(t, err)
	assert.Equal(t, ev.EventID(), state[entry.StateKeyTuple])
}
