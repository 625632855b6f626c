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

func buildInviteEvent(t *testing.T, identity gomatrixserverlib.SigningIdentity, roomID, sender, target string) gomatrixserverlib.HeaderedEvent {
	t.Helper()
	stateKey := target
	proto := gomatrixserverlib.ProtoEvent{
		RoomID:   roomID,
		Sender:   sender,
		Type:     "m.room.member",
		StateKey: &stateKey,
		Content:  []byte(`{"membership":"invite"}`),
		Depth:    2,
	}
	builder := gomatrixserverlib.EventBuilder{ProtoEvent: proto, RoomVersion: gomatrixserverlib.RoomVersionV9}
	ev, err := builder.Build(fixedBuildTimeJoiner, identity.ServerName, identity.KeyID, identity.PrivateKey)
	require.NoError(t, err)
	return ev.Headered(gomatrixserverlib.RoomVersionV9)
}

func TestPerformInviteRejectsInvalidTarget(t *testing.T) {
	identity := testIdentityForPerform(t)
	stateKey := "not-a-user-id"
	proto := gomatrixserverlib.ProtoEvent{
		RoomID:   "!room:example.org",
		Sender:   "@alice:example.org",
		Type:     "m.room.member",
		StateKey: &stateKey,
		Content:  []byte(`{"membership":"invite"}`),
	}
	builder := gomatrixserverlib.EventBuilder{ProtoEvent: proto, RoomVersion: gomatrixserverlib.RoomVersionV9}
	ev, err := builder.Build(fixedBuildTimeJoiner, identity.ServerName, identity.KeyID, identity.PrivateKey)
	require.NoError(t, err)

	db := storage.NewMemoryDatabase()
	i := &Inviter{DB: db, FSAPI: &fakeFedAPI{}, Inputer: &linearInputer{db: db}, LocalServerName: "example.org"}
	var res api.PerformInviteResponse
	err = i.PerformInvite(context.Background(), &api.PerformInviteRequest{Event: ev.Headered(gomatrixserverlib.RoomVersionV9)}, &res)
	require.Error(t, err)
}

func TestPerformInviteLocalTargetSkipsSendInvite(t *testing.T) {
	identity := testIdentityForPerform(t)
	ev := buildInviteEvent(t, identity, "!room:example.org", "@alice:example.org", "@bob:example.org")

	db := storage.NewMemoryDatabase()
	i := &Inviter{DB: db, FSAPI: &fakeFedAPI{sendInviteErr: errTestMakeJoin}, Inputer: &linearInputer{db: db}, LocalServerName: "example.org"}
	var res api.PerformInviteResponse
	err := i.PerformInvite(context.Background(), &api.PerformInviteRequest{Event: ev}, &res)
	require.NoError(t, err)

	membership, ok, merr := db.MembershipForUser(context.Background(), "!room:example.org", "@bob:example.org")
	require.NoError(t, merr)
	require.True(t, ok)
	require.Equal(t, "invite", membership)
}

func TestPerformInviteRemoteTargetUsesSendInviteResult(t *testing.T) {
	identity := testIdentityForPerform(t)
	ev := buildInviteEvent(t, identity, "!room:example.org", "@alice:example.org", "@bob:remote.example.org")
	countersigned := buildInviteEvent(t, identity, "!room:example.org", "@alice:example.org", "@bob:remote.example.org")

	db := storage.NewMemoryDatabase()
	i := &Inviter{DB: db, FSAPI: &fakeFedAPI{sendInvite: countersigned}, Inputer: &linearInputer{db: db}, LocalServerName: "example.org"}
	var res api.PerformInviteResponse
	err := i.PerformInvite(context.Background(), &api.PerformInviteRequest{Event: ev}, &res)
	require.NoError(t, err)

	membership, ok, merr := db.MembershipForUser(context.Background(), "!room:example.org", "@bob:remote.example.org")
	require.NoError(t, merr)
	require.True(t, ok)
	require.Equal(t, "invite", membership)
}

func TestPerformInviteRemoteTargetPropagatesSendInviteError(t *testing.T) {
	identity := testIdentityForPerform(t)
	ev := buildInviteEvent(t, identity, "!room:example.org", "@alice:example.org", "@bob:remote.example.org")

	db := storage.NewMemoryDatabase()
	i := &Inviter{DB: db, FSAPI: &fakeFedAPI{sendInviteErr: errTestMakeJoin}, Inputer: &linearInputer{db: db}, LocalServerName: "example.org"}
	var res api.PerformInviteResponse
	err := i.PerformInvite(context.Background(), &api.PerformInviteRequest{Event: ev}, &res)
	require.Error(t, err)
}

func TestPerformInvitePropagatesInputerRejection(t *testing.T) {
	identity := testIdentityForPerform(t)
	ev := buildInviteEvent(t, identity, "!room:example.org", "@alice:example.org", "@bob:example.org")

	db := storage.NewMemoryDatabase()
	i := &Inviter{DB: db, FSAPI: &fakeFedAPI{}, Inputer: rejectingInputer{}, LocalServerName: "example.org"}
	var res api.PerformInviteResponse
	err := i.PerformInvite(context.Background(), &api.PerformInviteRequest{Event: ev}, &res)
	require.Error(t, err)
}
