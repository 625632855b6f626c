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
	"crypto/rand"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ed25519"

	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/api"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/internal/query"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/storage"
)

// linearInputer is a minimal, test-only api.RoomserverInputAPI that accepts
// every event unconditionally and threads state groups through one at a
// time, the shape PerformCreateRoom's own event sequence produces (each
// event's only prev/auth dependency is the one immediately before it, never
// a merge of concurrent branches). It stands in for the real Inputer, which
// needs a JetStream connection this package's tests have no business
// standing up.
type linearInputer struct {
	db storage.Database
}

func (l *linearInputer) InputRoomEvents(ctx context.Context, req *api.InputRoomEventsRequest, res *api.InputRoomEventsResponse) {
	for _, ire := range req.InputRoomEvents {
		if err := l.inputOne(ctx, ire.Event); err != nil {
			res.ErrMsg = err.Error()
			return
		}
	}
}

func (l *linearInputer) inputOne(ctx context.Context, event gomatrixserverlib.HeaderedEvent) error {
	roomID := event.RoomID()
	if _, _, err := l.db.StoreEvent(ctx, event, false); err != nil {
		return err
	}

	var baseGroup int64
	latest, depth, err := l.db.LatestEvents(ctx, roomID)
	if err != nil {
		return err
	}
	if len(latest) > 0 {
		if sa, ok, err := l.db.StateAtEvent(ctx, latest[0]); err != nil {
			return err
		} else if ok {
			baseGroup = sa.BeforeStateGroup
		}
	}

	group := baseGroup
	if sk := event.StateKey(); sk != nil {
		tuple := gomatrixserverlib.StateKeyTuple{EventType: event.Type(), StateKey: *sk}
		entry := storage.StateEntry{StateKeyTuple: tuple, EventID: event.EventID()}
		group, err = l.db.AddState(ctx, roomID, baseGroup, nil, []storage.StateEntry{entry})
		if err != nil {
			return err
		}
	}
	if err := l.db.SetState(ctx, event.EventID(), group); err != nil {
		return err
	}
	if err := l.db.SetLatestEvents(ctx, roomID, []string{event.EventID()}, depth+1); err != nil {
		return err
	}

	if event.Type() == "m.room.member" {
		var content struct {
			Membership string `json:"membership"`
		}
		if err := json.Unmarshal(event.Content(), &content); err != nil {
			return err
		}
		if sk := event.StateKey(); sk != nil {
			if err := l.db.SetMembership(ctx, roomID, *sk, content.Membership, event.EventID()); err != nil {
				return err
			}
		}
	}
	return nil
}

func newTestCreator(t *testing.T) (*Creator, storage.Database) {
	t.Helper()
	db := storage.NewMemoryDatabase()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return &Creator{
		DB:              db,
		Inputer:         &linearInputer{db: db},
		Queryer:         query.NewQueryer(db),
		Identity:        gomatrixserverlib.SigningIdentity{ServerName: "example.org", KeyID: "ed25519:1", PrivateKey: priv},
		LocalServerName: "example.org",
	}, db
}

func TestPerformCreateRoomBuildsDefaultEventGraph(t *testing.T) {
	c, db := newTestCreator(t)
	req := &api.PerformCreateRoomRequest{UserID: "@alice:example.org"}
	var res api.PerformCreateRoomResponse

	require.NoError(t, c.PerformCreateRoom(context.Background(), req, &res))
	require.True(t, strings.HasPrefix(res.RoomID, "!"))
	require.True(t, strings.HasSuffix(res.RoomID, ":example.org"))

	membership, ok, err := db.MembershipForUser(context.Background(), res.RoomID, "@alice:example.org")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "join", membership)

	latest, depth, err := db.LatestEvents(context.Background(), res.RoomID)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	require.Equal(t, int64(5), depth) // create, member, power_levels, join_rules, history_visibility
}

func TestPerformCreateRoomDefaultsToInviteJoinRule(t *testing.T) {
	c, db := newTestCreator(t)
	req := &api.PerformCreateRoomRequest{UserID: "@alice:example.org"}
	var res api.PerformCreateRoomResponse
	require.NoError(t, c.PerformCreateRoom(context.Background(), req, &res))

	var queryRes api.QueryLatestEventsAndStateResponse
	require.NoError(t, c.Queryer.QueryLatestEventsAndState(context.Background(), &api.QueryLatestEventsAndStateRequest{
		RoomID:       res.RoomID,
		StateToFetch: []gomatrixserverlib.StateKeyTuple{{EventType: "m.room.join_rules", StateKey: ""}},
	}, &queryRes))
	require.Len(t, queryRes.StateEvents, 1)

	var content struct {
		JoinRule string `json:"join_rule"`
	}
	require.NoError(t, json.Unmarshal(queryRes.StateEvents[0].Content(), &content))
	require.Equal(t, "invite", content.JoinRule)
	_ = db
}

func TestPerformCreateRoomPublicChatPresetAllowsPublicJoin(t *testing.T) {
	c, _ := newTestCreator(t)
	req := &api.PerformCreateRoomRequest{UserID: "@alice:example.org", Preset: "public_chat"}
	var res api.PerformCreateRoomResponse
	require.NoError(t, c.PerformCreateRoom(context.Background(), req, &res))

	var queryRes api.QueryLatestEventsAndStateResponse
	require.NoError(t, c.Queryer.QueryLatestEventsAndState(context.Background(), &api.QueryLatestEventsAndStateRequest{
		RoomID:       res.RoomID,
		StateToFetch: []gomatrixserverlib.StateKeyTuple{{EventType: "m.room.join_rules", StateKey: ""}},
	}, &queryRes))
	require.Len(t, queryRes.StateEvents, 1)

	var content struct {
		JoinRule string `json:"join_rule"`
	}
	require.NoError(t, json.Unmarshal(queryRes.StateEvents[0].Content(), &content))
	require.Equal(t, "public", content.JoinRule)
}

func TestPerformCreateRoomSetsNameAndTopicWhenGiven(t *testing.T) {
	c, _ := newTestCreator(t)
	req := &api.PerformCreateRoomRequest{UserID: "@alice:example.org", Name: "Test Room", Topic: "a topic"}
	var res api.PerformCreateRoomResponse
	require.NoError(t, c.PerformCreateRoom(context.Background(), req, &res))

	var queryRes api.QueryLatestEventsAndStateResponse
	require.NoError(t, c.Queryer.QueryLatestEventsAndState(context.Background(), &api.QueryLatestEventsAndStateRequest{
		RoomID: res.RoomID,
		StateToFetch: []gomatrixserverlib.StateKeyTuple{
			{EventType: "m.room.name", StateKey: ""},
			{EventType: "m.room.topic", StateKey: ""},
		},
	}, &queryRes))
	require.Len(t, queryRes.StateEvents, 2)
}

func TestPerformCreateRoomAppliesInitialState(t *testing.T) {
	c, _ := newTestCreator(t)
	sk := "example.org"
	req := &api.PerformCreateRoomRequest{
		UserID: "@alice:example.org",
		InitialState: []gomatrixserverlib.ProtoEvent{
			{
				Type:     "m.room.server_acl",
				StateKey: &sk,
				Content:  []byte(`{"allow":["*"]}`),
			},
		},
	}
	var res api.PerformCreateRoomResponse
	require.NoError(t, c.PerformCreateRoom(context.Background(), req, &res))

	var queryRes api.QueryLatestEventsAndStateResponse
	require.NoError(t, c.Queryer.QueryLatestEventsAndState(context.Background(), &api.QueryLatestEventsAndStateRequest{
		RoomID:       res.RoomID,
		StateToFetch: []gomatrixserverlib.StateKeyTuple{{EventType: "m.room.server_acl", StateKey: "example.org"}},
	}, &queryRes))
	require.Len(t, queryRes.StateEvents, 1)
}

func TestPerformCreateRoomPropagatesInputerRejection(t *testing.T) {
	db := storage.NewMemoryDatabase()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	c := &Creator{
		DB:              db,
		Inputer:         rejectingInputer{},
		Queryer:         query.NewQueryer(db),
		Identity:        gomatrixserverlib.SigningIdentity{ServerName: "example.org", KeyID: "ed25519:1", PrivateKey: priv},
		LocalServerName: "example.org",
	}
	req := &api.PerformCreateRoomRequest{UserID: "@alice:example.org"}
	var res api.PerformCreateRoomResponse
	require.Error(t, c.PerformCreateRoom(context.Background(), req, &res))
}

type rejectingInputer struct{}

func (rejectingInputer) InputRoomEvents(ctx context.Context, req *api.InputRoomEventsRequest, res *api.InputRoomEventsResponse) {
	res.ErrMsg = "rejected for test"
}
