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
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/EdGeraghty/FERRETCANNON-sub006/federationapi/storage"
	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
)

func TestCleanPendingPDUsRemovesOnlyNamedEvents(t *testing.T) {
	db := storage.NewMemoryDatabase()
	ctx := context.Background()
	dest := gomatrixserverlib.ServerName("remote.example.org")

	ev1 := gomatrixserverlib.HeaderedEvent{}
	require.NoError(t, db.AddPendingPDU(ctx, dest, ev1))

	pdus, err := db.GetPendingPDUs(ctx, dest, 10)
	require.NoError(t, err)
	require.Len(t, pdus, 1)

	require.NoError(t, db.CleanPendingPDUs(ctx, dest, []string{"$nonexistent"}))
	pdus, err = db.GetPendingPDUs(ctx, dest, 10)
	require.NoError(t, err)
	require.Len(t, pdus, 1, "cleaning an unrelated event ID must not remove the pending one")

	require.NoError(t, db.CleanPendingPDUs(ctx, dest, []string{pdus[0].EventID}))
	pdus, err = db.GetPendingPDUs(ctx, dest, 10)
	require.NoError(t, err)
	require.Empty(t, pdus)
}

func TestCleanPendingEDUsRemovesOnlyNamedIDs(t *testing.T) {
	db := storage.NewMemoryDatabase()
	ctx := context.Background()
	dest := gomatrixserverlib.ServerName("remote.example.org")

	require.NoError(t, db.AddPendingEDU(ctx, dest, gomatrixserverlib.EDU{Type: "m.typing"}))
	require.NoError(t, db.AddPendingEDU(ctx, dest, gomatrixserverlib.EDU{Type: "m.receipt"}))

	edus, err := db.GetPendingEDUs(ctx, dest, 10)
	require.NoError(t, err)
	require.Len(t, edus, 2)

	require.NoError(t, db.CleanPendingEDUs(ctx, dest, []int64{edus[0].ID}))
	edus, err = db.GetPendingEDUs(ctx, dest, 10)
	require.NoError(t, err)
	require.Len(t, edus, 1)
	require.Equal(t, "m.receipt", mustEDUType(t, edus[0].JSON))
}

func mustEDUType(t *testing.T, raw []byte) string {
	t.Helper()
	var edu gomatrixserverlib.EDU
	require.NoError(t, json.Unmarshal(raw, &edu))
	return edu.Type
}

func TestGetPendingPDUsRespectsLimit(t *testing.T) {
	db := storage.NewMemoryDatabase()
	ctx := context.Background()
	dest := gomatrixserverlib.ServerName("remote.example.org")

	for i := 0; i < 5; i++ {
		require.NoError(t, db.AddPendingPDU(ctx, dest, gomatrixserverlib.HeaderedEvent{}))
	}

	pdus, err := db.GetPendingPDUs(ctx, dest, 2)
	require.NoError(t, err)
	require.Len(t, pdus, 2)
}

func TestPendingDestinationsCoversBothPDUsAndEDUs(t *testing.T) {
	db := storage.NewMemoryDatabase()
	ctx := context.Background()

	require.NoError(t, db.AddPendingPDU(ctx, "pdu-only.example.org", gomatrixserverlib.HeaderedEvent{}))
	require.NoError(t, db.AddPendingEDU(ctx, "edu-only.example.org", gomatrixserverlib.EDU{Type: "m.typing"}))
	require.NoError(t, db.AddPendingPDU(ctx, "both.example.org", gomatrixserverlib.HeaderedEvent{}))
	require.NoError(t, db.AddPendingEDU(ctx, "both.example.org", gomatrixserverlib.EDU{Type: "m.typing"}))

	dests, err := db.PendingDestinations(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []gomatrixserverlib.ServerName{"pdu-only.example.org", "edu-only.example.org", "both.example.org"}, dests)
}

func TestPendingDestinationsEmptyWhenNothingQueued(t *testing.T) {
	db := storage.NewMemoryDatabase()
	dests, err := db.PendingDestinations(context.Background())
	require.NoError(t, err)
	require.Empty(t, dests)
}

func TestFetchKeysUnknownServerReturnsFalse(t *testing.T) {
	db := storage.NewMemoryDatabase()
	_, ok, err := db.FetchKeys(context.Background(), "remote.example.org")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStoreKeysThenFetchKeysRoundTrips(t *testing.T) {
	db := storage.NewMemoryDatabase()
	ctx := context.Background()
	dest := gomatrixserverlib.ServerName("remote.example.org")
	keys := gomatrixserverlib.ServerKeys{
		ServerName: dest,
		VerifyKeys: map[gomatrixserverlib.KeyID]gomatrixserverlib.VerifyKey{
			"ed25519:1": {Key: []byte("fake-key")},
		},
	}

	require.NoError(t, db.StoreKeys(ctx, dest, keys, time.Now()))
	got, ok, err := db.FetchKeys(ctx, dest)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, dest, got.ServerName)
	require.Contains(t, got.VerifyKeys, gomatrixserverlib.KeyID("ed25519:1"))
}
