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

package perform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/api"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/storage"
)

// PerformPeek's success path ends in publishOutputEvent, which panics on a
// nil nats.JetStreamContext the way jetstream.Publish always dereferences
// its argument; only the three validation branches ahead of that call are
// exercised here, the same boundary observed for the peek/unpeek federation
// operations in federationapi/routing.

func TestPerformPeekRejectsAlias(t *testing.T) {
	p := NewPeeker(storage.NewMemoryDatabase(), nil, "")
	var res api.PerformPeekResponse
	err := p.PerformPeek(context.Background(), &api.PerformPeekRequest{RoomIDOrAlias: "#room:example.org", UserID: "@alice:example.org"}, &res)
	require.Error(t, err)
}

func TestPerformPeekRejectsUnknownRoom(t *testing.T) {
	p := NewPeeker(storage.NewMemoryDatabase(), nil, "")
	var res api.PerformPeekResponse
	err := p.PerformPeek(context.Background(), &api.PerformPeekRequest{RoomIDOrAlias: "!room:example.org", UserID: "@alice:example.org"}, &res)
	require.Error(t, err)
}

func TestPerformPeekRejectsInvalidUserID(t *testing.T) {
	db := storage.NewMemoryDatabase()
	require.NoError(t, db.CreateRoomInfo(context.Background(), "!room:example.org", gomatrixserverlib.RoomVersionV9))

	p := NewPeeker(db, nil, "")
	var res api.PerformPeekResponse
	err := p.PerformPeek(context.Background(), &api.PerformPeekRequest{RoomIDOrAlias: "!room:example.org", UserID: "not-a-user-id"}, &res)
	require.Error(t, err)
}

func TestNewPeekerDefaultsOutputTopic(t *testing.T) {
	p := NewPeeker(storage.NewMemoryDatabase(), nil, "")
	require.NotEmpty(t, p.OutputTopic)
}
