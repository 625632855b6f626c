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

package input_test

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"golang.org/x/crypto/ed25519"

	"github.com/stretchr/testify/require"

	fedapi "github.com/EdGeraghty/FERRETCANNON-sub006/federationapi/api"
	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/api"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/internal/input"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/storage"
)

// stubFederationAPI satisfies fedapi.FederationInternalAPI without making
// any network calls; tests that exercise paths which shouldn't need
// federation fail loudly if they're called.
type stubFederationAPI struct {
	t *testing.T
}

func (s *stubFederationAPI) GetEventAuth(context.Context, gomatrixserverlib.ServerName, gomatrixserverlib.RoomVersion, string, string) ([]gomatrixserverlib.Event, error) {
	s.t.Fatal("unexpected GetEventAuth call")
	return nil, nil
}

func (s *stubFederationAPI) LookupServerKeys(context.Context, gomatrixserverlib.ServerName) (gomatrixserverlib.ServerKeys, error) {
	s.t.Fatal("unexpected LookupServerKeys call")
	return gomatrixserverlib.ServerKeys{}, nil
}

func (s *stubFederationAPI) QueryJoinedHostServerNamesInRoom(_ context.Context, _ *fedapi.QueryJoinedHostServerNamesInRoomRequest, res *fedapi.QueryJoinedHostServerNamesInRoomResponse) error {
	res.ServerNames = nil
	return nil
}

func (s *stubFederationAPI) IsBlacklisted(gomatrixserverlib.ServerName) bool { return false }
func (s *stubFederationAPI) MarkServerAlive(gomatrixserverlib.ServerName)    {}
func (s *stubFederationAPI) MarkServerFailure(gomatrixserverlib.ServerName) {}
func (s *stubFederationAPI) KeyRing() gomatrixserverlib.JSONVerifier        { return nil }

func (s *stubFederationAPI) MakeJoin(context.Context, gomatrixserverlib.ServerName, string, string) (gomatrixserverlib.RespMakeJoin, error) {
	s.t.Fatal("unexpected MakeJoin call")
	return gomatrixserverlib.RespMakeJoin{}, nil
}

func (s *stubFederationAPI) SendJoin(context.Context, gomatrixserverlib.ServerName, gomatrixserverlib.HeaderedEvent) (gomatrixserverlib.RespSendJoin, error) {
	s.t.Fatal("unexpected SendJoin call")
	return gomatrixserverlib.RespSendJoin{}, nil
}

func (s *stubFederationAPI) MakeLeave(context.Context, gomatrixserverlib.ServerName, string, string) (gomatrixserverlib.RespMakeJoin, error) {
	s.t.Fatal("unexpected MakeLeave call")
	return gomatrixserverlib.RespMakeJoin{}, nil
}

func (s *stubFederationAPI) SendLeave(context.Context, gomatrixserverlib.ServerName, gomatrixserverlib.HeaderedEvent) error {
	s.t.Fatal("unexpected SendLeave call")
	return nil
}

func (s *stubFederationAPI) MakeKnock(context.Context, gomatrixserverlib.ServerName, string, string) (gomatrixserverlib.RespMakeKnock, error) {
	s.t.Fatal("unexpected MakeKnock call")
	return gomatrixserverlib.RespMakeKnock{}, nil
}

func (s *stubFederationAPI) SendKnock(context.Context, gomatrixserverlib.ServerName, gomatrixserverlib.HeaderedEvent) (gomatrixserverlib.RespSendKnock, error) {
	s.t.Fatal("unexpected SendKnock call")
	return gomatrixserverlib.RespSendKnock{}, nil
}

func (s *stubFederationAPI) SendInvite(context.Context, gomatrixserverlib.ServerName, gomatrixserverlib.HeaderedEvent, []gomatrixserverlib.InviteV2StrippedState) (gomatrixserverlib.HeaderedEvent, error) {
	s.t.Fatal("unexpected SendInvite call")
	return gomatrixserverlib.HeaderedEvent{}, nil
}

func (s *stubFederationAPI) GetEvent(context.Context, gomatrixserverlib.ServerName, gomatrixserverlib.RoomVersion, string) (gomatrixserverlib.Event, error) {
	s.t.Fatal("unexpected GetEvent call")
	return gomatrixserverlib.Event{}, nil
}

func (s *stubFederationAPI) LookupMissingEvents(context.Context, gomatrixserverlib.ServerName, gomatrixserverlib.RoomVersion, string, gomatrixserverlib.MissingEventsRequest) ([]gomatrixserverlib.Event, error) {
	s.t.Fatal("unexpected LookupMissingEvents call")
	return nil, nil
}

func (s *stubFederationAPI) SendTransaction(context.Context, gomatrixserverlib.ServerName, gomatrixserverlib.Transaction) (gomatrixserverlib.RespSend, error) {
	s.t.Fatal("unexpected SendTransaction call")
	return gomatrixserverlib.RespSend{}, nil
}

func buildEvent(t *testing.T, proto gomatrixserverlib.ProtoEvent) gomatrixserverlib.HeaderedEvent {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	builder := gomatrixserverlib.EventBuilder{ProtoEvent: proto, RoomVersion: gomatrixserverlib.RoomVersionV9}
	ev, err := builder.Build(time.Now(), "example.com", "ed25519:1", priv)
	require.NoError(t, err)
	return ev.Headered(gomatrixserverlib.RoomVersionV9)
}

func strPtr(s string) *string { return &s }

func TestInputRoomEventsAcceptsOutlierCreateEvent(t *testing.T) {
	db := storage.NewMemoryDatabase()
	ctx := context.Background()
	roomID := "!room:example.com"
	require.NoError(t, db.CreateRoomInfo(ctx, roomID, gomatrixserverlib.RoomVersionV9))

	create := buildEvent(t, gomatrixserverlib.ProtoEvent{
		RoomID: roomID, Sender: "@alice:example.com", Type: "m.room.create",
		StateKey: strPtr(""), Content: []byte(`{"creator":"@alice:example.com"}`),
	})

	inputer := input.NewInputer(db, &stubFederationAPI{t: t}, nil, "", "example.com")

	req := &api.InputRoomEventsRequest{InputRoomEvents: []api.InputRoomEvent{{
		Kind:  api.KindOutlier,
		Event: create,
	}}}
	res := &api.InputRoomEventsResponse{}
	inputer.InputRoomEvents(ctx, req, res)
	require.Empty(t, res.ErrMsg)

	stored, err := db.EventsFromIDs(ctx, []string{create.EventID()})
	require.NoError(t, err)
	require.Len(t, stored, 1)
}

func TestInputRoomEventsRejectsNewEventMissingPrevEvents(t *testing.T) {
	db := storage.NewMemoryDatabase()
	ctx := context.Background()
	roomID := "!room:example.com"
	require.NoError(t, db.CreateRoomInfo(ctx, roomID, gomatrixserverlib.RoomVersionV9))

	join := buildEvent(t, gomatrixserverlib.ProtoEvent{
		RoomID: roomID, Sender: "@bob:example.com", Type: "m.room.member",
		StateKey:   strPtr("@bob:example.com"),
		Content:    []byte(`{"membership":"join"}`),
		PrevEvents: []string{"$missing:example.com"},
	})

	inputer := input.NewInputer(db, &stubFederationAPI{t: t}, nil, "", "example.com")

	req := &api.InputRoomEventsRequest{InputRoomEvents: []api.InputRoomEvent{{
		Kind:  api.KindNew,
		Event: join,
	}}}
	res := &api.InputRoomEventsResponse{}
	inputer.InputRoomEvents(ctx, req, res)
	require.True(t, res.NotAllowed)
	require.NotEmpty(t, res.ErrMsg)
}
