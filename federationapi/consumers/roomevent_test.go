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

package consumers

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ed25519"

	fedapi "github.com/EdGeraghty/FERRETCANNON-sub006/federationapi/api"
	"github.com/EdGeraghty/FERRETCANNON-sub006/federationapi/queue"
	"github.com/EdGeraghty/FERRETCANNON-sub006/federationapi/storage"
	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
	rsapi "github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/api"
)

var fixedTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func buildEvent(t *testing.T, roomID, sender, eventType string) gomatrixserverlib.HeaderedEvent {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	builder := gomatrixserverlib.EventBuilder{
		ProtoEvent: gomatrixserverlib.ProtoEvent{
			RoomID:         roomID,
			Sender:         sender,
			Type:           eventType,
			Content:        []byte(`{}`),
			OriginServerTS: fixedTime.UnixMilli(),
		},
		RoomVersion: gomatrixserverlib.RoomVersionV9,
	}
	ev, err := builder.Build(fixedTime, "example.org", "ed25519:1", priv)
	require.NoError(t, err)
	return ev.Headered(gomatrixserverlib.RoomVersionV9)
}

// stubFederationInternalAPI implements fedapi.FederationInternalAPI with
// QueryJoinedHostServerNamesInRoom and SendTransaction (via sendErr)
// configurable; every other method is a zero-value stub.
type stubFederationInternalAPI struct {
	names   []gomatrixserverlib.ServerName
	err     error
	sendErr error
}

func (s *stubFederationInternalAPI) QueryJoinedHostServerNamesInRoom(ctx context.Context, req *fedapi.QueryJoinedHostServerNamesInRoomRequest, res *fedapi.QueryJoinedHostServerNamesInRoomResponse) error {
	if s.err != nil {
		return s.err
	}
	res.ServerNames = s.names
	return nil
}
func (s *stubFederationInternalAPI) GetEventAuth(ctx context.Context, destination gomatrixserverlib.ServerName, roomVersion gomatrixserverlib.RoomVersion, roomID, eventID string) ([]gomatrixserverlib.Event, error) {
	return nil, nil
}
func (s *stubFederationInternalAPI) LookupServerKeys(ctx context.Context, destination gomatrixserverlib.ServerName) (gomatrixserverlib.ServerKeys, error) {
	return gomatrixserverlib.ServerKeys{}, nil
}
func (s *stubFederationInternalAPI) IsBlacklisted(destination gomatrixserverlib.ServerName) bool {
	return false
}
func (s *stubFederationInternalAPI) MarkServerAlive(destination gomatrixserverlib.ServerName)   {}
func (s *stubFederationInternalAPI) MarkServerFailure(destination gomatrixserverlib.ServerName) {}
func (s *stubFederationInternalAPI) KeyRing() gomatrixserverlib.JSONVerifier                     { return nil }
func (s *stubFederationInternalAPI) MakeJoin(ctx context.Context, destination gomatrixserverlib.ServerName, roomID, userID string) (gomatrixserverlib.RespMakeJoin, error) {
	return gomatrixserverlib.RespMakeJoin{}, nil
}
func (s *stubFederationInternalAPI) SendJoin(ctx context.Context, destination gomatrixserverlib.ServerName, event gomatrixserverlib.HeaderedEvent) (gomatrixserverlib.RespSendJoin, error) {
	return gomatrixserverlib.RespSendJoin{}, nil
}
func (s *stubFederationInternalAPI) MakeLeave(ctx context.Context, destination gomatrixserverlib.ServerName, roomID, userID string) (gomatrixserverlib.RespMakeJoin, error) {
	return gomatrixserverlib.RespMakeJoin{}, nil
}
func (s *stubFederationInternalAPI) SendLeave(ctx context.Context, destination gomatrixserverlib.ServerName, event gomatrixserverlib.HeaderedEvent) error {
	return nil
}
func (s *stubFederationInternalAPI) MakeKnock(ctx context.Context, destination gomatrixserverlib.ServerName, roomID, userID string) (gomatrixserverlib.RespMakeKnock, error) {
	return gomatrixserverlib.RespMakeKnock{}, nil
}
func (s *stubFederationInternalAPI) SendKnock(ctx context.Context, destination gomatrixserverlib.ServerName, event gomatrixserverlib.HeaderedEvent) (gomatrixserverlib.RespSendKnock, error) {
	return gomatrixserverlib.RespSendKnock{}, nil
}
func (s *stubFederationInternalAPI) SendInvite(ctx context.Context, destination gomatrixserverlib.ServerName, event gomatrixserverlib.HeaderedEvent, strippedState []gomatrixserverlib.InviteV2StrippedState) (gomatrixserverlib.HeaderedEvent, error) {
	return gomatrixserverlib.HeaderedEvent{}, nil
}
func (s *stubFederationInternalAPI) GetEvent(ctx context.Context, destination gomatrixserverlib.ServerName, roomVersion gomatrixserverlib.RoomVersion, eventID string) (gomatrixserverlib.Event, error) {
	return gomatrixserverlib.Event{}, nil
}
func (s *stubFederationInternalAPI) LookupMissingEvents(ctx context.Context, destination gomatrixserverlib.ServerName, roomVersion gomatrixserverlib.RoomVersion, roomID string, req gomatrixserverlib.MissingEventsRequest) ([]gomatrixserverlib.Event, error) {
	return nil, nil
}
func (s *stubFederationInternalAPI) SendTransaction(ctx context.Context, destination gomatrixserverlib.ServerName, txn gomatrixserverlib.Transaction) (gomatrixserverlib.RespSend, error) {
	if s.sendErr != nil {
		return gomatrixserverlib.RespSend{}, s.sendErr
	}
	return gomatrixserverlib.RespSend{}, nil
}

func newTestConsumer(t *testing.T, fsAPI *stubFederationInternalAPI) (*RoomEventConsumer, *storage.MemoryDatabase) {
	t.Helper()
	db := storage.NewMemoryDatabase()
	queues := queue.NewOutgoingQueues(db, fsAPI, "local.example.org")
	return &RoomEventConsumer{queues: queues, fsAPI: fsAPI}, db
}

func TestOnNewRoomEventQueuesForJoinedServers(t *testing.T) {
	// sendErr keeps the background delivery worker from draining the queue
	// before the assertion below runs: SendEvent starts a real
	// OutgoingQueues worker goroutine, and a successful send would race
	// with GetPendingPDUs here.
	fsAPI := &stubFederationInternalAPI{
		names:   []gomatrixserverlib.ServerName{"remote.example.org"},
		sendErr: context.DeadlineExceeded,
	}
	c, db := newTestConsumer(t, fsAPI)

	ev := buildEvent(t, "!room:example.org", "@alice:example.org", "m.room.message")
	ok := c.onNewRoomEvent(context.Background(), &rsapi.OutputNewRoomEvent{
		Event:        ev,
		SendAsServer: "local.example.org",
	})
	require.True(t, ok)

	pdus, err := db.GetPendingPDUs(context.Background(), "remote.example.org", 10)
	require.NoError(t, err)
	require.Len(t, pdus, 1)
	require.Equal(t, ev.EventID(), pdus[0].EventID)
}

func TestOnNewRoomEventNilEventIsNoop(t *testing.T) {
	fsAPI := &stubFederationInternalAPI{}
	c, _ := newTestConsumer(t, fsAPI)
	require.True(t, c.onNewRoomEvent(context.Background(), nil))
}

func TestOnNewRoomEventWithoutSendAsServerIsNoop(t *testing.T) {
	fsAPI := &stubFederationInternalAPI{names: []gomatrixserverlib.ServerName{"remote.example.org"}}
	c, db := newTestConsumer(t, fsAPI)

	ev := buildEvent(t, "!room:example.org", "@alice:example.org", "m.room.message")
	ok := c.onNewRoomEvent(context.Background(), &rsapi.OutputNewRoomEvent{Event: ev})
	require.True(t, ok)

	pdus, err := db.GetPendingPDUs(context.Background(), "remote.example.org", 10)
	require.NoError(t, err)
	require.Empty(t, pdus)
}

func TestOnNewRoomEventNoDestinationsIsNoop(t *testing.T) {
	fsAPI := &stubFederationInternalAPI{}
	c, _ := newTestConsumer(t, fsAPI)

	ev := buildEvent(t, "!room:example.org", "@alice:example.org", "m.room.message")
	ok := c.onNewRoomEvent(context.Background(), &rsapi.OutputNewRoomEvent{
		Event:        ev,
		SendAsServer: "local.example.org",
	})
	require.True(t, ok)
}

func TestOnNewRoomEventDestinationsErrorIsAcked(t *testing.T) {
	fsAPI := &stubFederationInternalAPI{err: context.DeadlineExceeded}
	c, _ := newTestConsumer(t, fsAPI)

	ev := buildEvent(t, "!room:example.org", "@alice:example.org", "m.room.message")
	ok := c.onNewRoomEvent(context.Background(), &rsapi.OutputNewRoomEvent{
		Event:        ev,
		SendAsServer: "local.example.org",
	})
	require.True(t, ok, "a destination-lookup failure acks the message rather than retrying forever")
}

func TestOnNewInviteEventIsAlwaysAcked(t *testing.T) {
	c, _ := newTestConsumer(t, &stubFederationInternalAPI{})
	require.True(t, c.onNewInviteEvent(context.Background(), nil))
	require.True(t, c.onNewInviteEvent(context.Background(), &rsapi.OutputNewInviteEvent{}))
}

func TestDestinationsForRoomPropagatesQuerierError(t *testing.T) {
	fsAPI := &stubFederationInternalAPI{err: context.DeadlineExceeded}
	c, _ := newTestConsumer(t, fsAPI)
	_, err := c.destinationsForRoom(context.Background(), "!room:example.org")
	require.Error(t, err)
}

func TestDestinationsForRoomReturnsQuerierResult(t *testing.T) {
	fsAPI := &stubFederationInternalAPI{names: []gomatrixserverlib.ServerName{"a.example.org", "b.example.org"}}
	c, _ := newTestConsumer(t, fsAPI)
	dests, err := c.destinationsForRoom(context.Background(), "!room:example.org")
	require.NoError(t, err)
	require.Equal(t, []gomatrixserverlib.ServerName{"a.example.org", "b.example.org"}, dests)
}
