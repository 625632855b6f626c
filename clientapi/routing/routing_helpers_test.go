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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ed25519"

	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/storage"
)

var fixedBuildTimeRouting = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func testIdentityFromKey(t *testing.T) gomatrixserverlib.SigningIdentity {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return gomatrixserverlib.SigningIdentity{ServerName: "example.org", KeyID: "ed25519:1", PrivateKey: priv}
}

// seedRoutingRoom stores a single m.room.create event and its state so
// handlers relying on eventutil.QueryAndBuildEvent (invite, send) have
// somewhere to build their next event against.
func seedRoutingRoom(t *testing.T, db storage.Database, identity gomatrixserverlib.SigningIdentity) string {
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
	ev, err := builder.Build(fixedBuildTimeRouting, identity.ServerName, identity.KeyID, identity.PrivateKey)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, db.CreateRoomInfo(ctx, roomID, gomatrixserverlib.RoomVersionV9))
	headered := ev.Headered(gomatrixserverlib.RoomVersionV9)
	_, _, err = db.StoreEvent(ctx, headered, false)
	require.NoError(t, err)
	group, err := db.AddState(ctx, roomID, 0, nil, []storage.StateEntry{{
		StateKeyTuple: gomatrixserverlib.StateKeyTuple{EventType: "m.room.create", StateKey: ""},
		EventID:       ev.EventID(),
	}})
	require.NoError(t, err)
	require.NoError(t, db.SetState(ctx, ev.EventID(), group))
	require.NoError(t, db.SetLatestEvents(ctx, roomID, []string{ev.EventID()}, 1))
	return roomID
}
