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

package queue

import (
	"context"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ed25519"

	fedapi "github.com/EdGeraghty/FERRETCANNON-sub006/federationapi/api"
	"github.com/EdGeraghty/FERRETCANNON-sub006/federationapi/storage"
	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
)

var fixedTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func buildEvent(t *testing.T, roomID, sender, eventType string, content string) gomatrixserverlib.HeaderedEvent {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	_ = pub

	builder := gomatrixserverlib.EventBuilder{
		ProtoEvent: gomatrixserverlib.ProtoEvent{
			RoomID:         roomID,
			Sender:         sender,
			Type:           eventType,
			Content:        []byte(content),
			OriginServerTS: fixedTime.UnixMilli(),
		},
		RoomVersion: gomatrixserverlib.RoomVersionV9,
	}
	ev, err := builder.Build(fixedTime, "example.org", "ed25519:1", priv)
	require.NoError(t, err)
	return ev.Headered(gomatrixserverlib.RoomVersionV9)
}

type fakeFederationInternalAPI struct {
	mu sync.Mutex

	blacklisted map[gomatrixserverlib.ServerName]bool
	failures    map[gomatrixserverlib.ServerName]int
	alive       map[gomatrixserverlib.ServerName]int

	sendErr  error
	sentTxns []gomatrixserverlib.Transaction
}

func newFakeFederationInternalAPI() *fakeFederationInternalAPI {
	return &fakeFederationInternalAPI{
		blacklisted: map[gomatrixserverlib.ServerName]bool{},
		failures:    map[gomatrixserverlib.ServerName]int{},
		alive:       map[gomatrixserverlib.ServerName]int{},
	}
}

func (f *fakeFederationInternalAPI) IsBlacklisted(destination gomatrixserverlib.ServerName) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blacklisted[destination]
}

func (f *fakeFederationInternalAPI) MarkServerAlive(destination gomatrixserverlib.ServerName) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive[destination]++
}

func (f *fakeFederationInternalAPI) MarkServerFailure(destination gomatrixserverlib.ServerName) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[destination]++
}

func (f *fakeFederationInternalAPI) SendTransaction(ctx context.Context, destination gomatrixserverlib.ServerName, txn gomatrixserverlib.Transaction) (gomatrixserverlib.RespSend, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return gomatrixserverlib.RespSend{}, f.sendErr
	}
	f.sentTxns = append(f.sentTxns, txn)
	return gomatrixserverlib.RespSend{}, nil
}

func (f *fakeFederationInternalAPI) transactionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sentTxns)
}

// The remaining FederationInternalAPI methods are never called by
// OutgoingQueues; stubbed out only so fakeFederationInternalAPI satisfies
// the interface.
func (f *fakeFederationInternalAPI) GetEventAuth(ctx context.Context, destination gomatrixserverlib.ServerName, roomVersion gomatrixserverlib.RoomVersion, roomID, eventID string) ([]gomatrixserverlib.Event, error) {
	return nil, nil
}
func (f *fakeFederationInternalAPI) LookupServerKeys(ctx context.Context, destination gomatrixserverlib.ServerName) (gomatrixserverlib.ServerKeys, error) {
	return gomatrixserverlib.ServerKeys{}, nil
}
func (f *fakeFederationInternalAPI) QueryJoinedHostServerNamesInRoom(ctx context.Context, req *fedapi.QueryJoinedHostServerNamesInRoomRequest, res *fedapi.QueryJoinedHostServerNamesInRoomResponse) error {
	return nil
}
func (f *fakeFederationInternalAPI) KeyRing() gomatrixserverlib.JSONVerifier { return nil }
func (f *fakeFederationInternalAPI) MakeJoin(ctx context.Context, destination gomatrixserverlib.ServerName, roomID, userID string) (gomatrixserverlib.RespMakeJoin, error) {
	return gomatrixserverlib.RespMakeJoin{}, nil
}
func (f *fakeFederationInternalAPI) SendJoin(ctx context.Context, destination gomatrixserverlib.ServerName, event gomatrixserverlib.HeaderedEvent) (gomatrixserverlib.RespSendJoin, error) {
	return gomatrixserverlib.RespSendJoin{}, nil
}
func (f *fakeFederationInternalAPI) MakeLeave(ctx context.Context, destination gomatrixserverlib.ServerName, roomID, userID string) (gomatrixserverlib.RespMakeJoin, error) {
	return gomatrixserverlib.RespMakeJoin{}, nil
}
func (f *fakeFederationInternalAPI) SendLeave(ctx context.Context, destination gomatrixserverlib.ServerName, event gomatrixserverlib.HeaderedEvent) error {
	return nil
}
func (f *fakeFederationInternalAPI) MakeKnock(ctx context.Context, destination gomatrixserverlib.ServerName, roomID, userID string) (gomatrixserverlib.RespMakeKnock, error) {
	return gomatrixserverlib.RespMakeKnock{}, nil
}
func (f *fakeFederationInternalAPI) SendKnock(ctx context.Context, destination gomatrixserverlib.ServerName, event gomatrixserverlib.HeaderedEvent) (gomatrixserverlib.RespSendKnock, error) {
	return gomatrixserverlib.RespSendKnock{}, nil
}
func (f *fakeFederationInternalAPI) SendInvite(ctx context.Context, destination gomatrixserverlib.ServerName, event gomatrixserverlib.HeaderedEvent, strippedState []gomatrixserverlib.InviteV2StrippedState) (gomatrixserverlib.HeaderedEvent, error) {
	return gomatrixserverlib.HeaderedEvent{}, nil
}
func (f *fakeFederationInternalAPI) GetEvent(ctx context.Context, destination gomatrixserverlib.ServerName, roomVersion gomatrixserverlib.RoomVersion, eventID string) (gomatrixserverlib.Event, error) {
	return gomatrixserverlib.Event{}, nil
}
func (f *fakeFederationInternalAPI) LookupMissingEvents(ctx context.Context, destination gomatrixserverlib.ServerName, roomVersion gomatrixserverlib.RoomVersion, roomID string, req gomatrixserverlib.MissingEventsRequest) ([]gomatrixserverlib.Event, error) {
	return nil, nil
}

func newTestOutgoingQueues(t *testing.T) (*OutgoingQueues, *storage.MemoryDatabase, *fakeFederationInternalAPI) {
	t.Helper()
	db := storage.NewMemoryDatabase()
	fsAPI := newFakeFederationInternalAPI()
	oq := &OutgoingQueues{
		db:              db,
		fsAPI:           fsAPI,
		localServerName: "local.example.org",
		workers:         map[gomatrixserverlib.ServerName]chan struct{}{},
	}
	return oq, db, fsAPI
}

func TestSendEventQueuesPendingPDU(t *testing.T) {
	oq, db, _ := newTestOutgoingQueues(t)
	ev := buildEvent(t, "!room:example.org", "@alice:example.org", "m.room.message", `{"body":"hi"}`)

	err := oq.SendEvent(context.Background(), ev, []gomatrixserverlib.ServerName{"remote.example.org"})
	require.NoError(t, err)

	pdus, err := db.GetPendingPDUs(context.Background(), "remote.example.org", 10)
	require.NoError(t, err)
	require.Len(t, pdus, 1)
	require.Equal(t, ev.EventID(), pdus[0].EventID)
}

func TestSendEventSkipsLocalServerName(t *testing.T) {
	oq, db, _ := newTestOutgoingQueues(t)
	ev := buildEvent(t, "!room:example.org", "@alice:example.org", "m.room.message", `{"body":"hi"}`)

	err := oq.SendEvent(context.Background(), ev, []gomatrixserverlib.ServerName{"local.example.org"})
	require.NoError(t, err)

	pdus, err := db.GetPendingPDUs(context.Background(), "local.example.org", 10)
	require.NoError(t, err)
	require.Empty(t, pdus)
}

func TestSendEDUQueuesPendingEDU(t *testing.T) {
	oq, db, _ := newTestOutgoingQueues(t)
	edu := gomatrixserverlib.EDU{Type: "m.typing"}

	err := oq.SendEDU(context.Background(), edu, []gomatrixserverlib.ServerName{"remote.example.org"})
	require.NoError(t, err)

	edus, err := db.GetPendingEDUs(context.Background(), "remote.example.org", 10)
	require.NoError(t, err)
	require.Len(t, edus, 1)
}

func TestDeliverOneTransactionReturnsFalseWhenEmpty(t *testing.T) {
	oq, _, _ := newTestOutgoingQueues(t)
	sent, err := oq.deliverOneTransaction("remote.example.org")
	require.NoError(t, err)
	require.False(t, sent)
}

func TestDeliverOneTransactionSendsAndCleansQueue(t *testing.T) {
	oq, db, fsAPI := newTestOutgoingQueues(t)
	ev := buildEvent(t, "!room:example.org", "@alice:example.org", "m.room.message", `{"body":"hi"}`)
	require.NoError(t, db.AddPendingPDU(context.Background(), "remote.example.org", ev))
	require.NoError(t, db.AddPendingEDU(context.Background(), "remote.example.org", gomatrixserverlib.EDU{Type: "m.typing"}))

	sent, err := oq.deliverOneTransaction("remote.example.org")
	require.NoError(t, err)
	require.True(t, sent)
	require.Equal(t, 1, fsAPI.transactionCount())

	pdus, err := db.GetPendingPDUs(context.Background(), "remote.example.org", 10)
	require.NoError(t, err)
	require.Empty(t, pdus)

	edus, err := db.GetPendingEDUs(context.Background(), "remote.example.org", 10)
	require.NoError(t, err)
	require.Empty(t, edus)
}

func TestDeliverOneTransactionLeavesQueueOnSendFailure(t *testing.T) {
	oq, db, fsAPI := newTestOutgoingQueues(t)
	ev := buildEvent(t, "!room:example.org", "@alice:example.org", "m.room.message", `{"body":"hi"}`)
	require.NoError(t, db.AddPendingPDU(context.Background(), "remote.example.org", ev))
	fsAPI.sendErr = context.DeadlineExceeded

	sent, err := oq.deliverOneTransaction("remote.example.org")
	require.Error(t, err)
	require.True(t, sent)

	pdus, err := db.GetPendingPDUs(context.Background(), "remote.example.org", 10)
	require.NoError(t, err)
	require.Len(t, pdus, 1)
}
