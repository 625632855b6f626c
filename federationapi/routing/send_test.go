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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
)

type spyEDUWriter struct {
	mu    sync.Mutex
	edus  []gomatrixserverlib.EDU
	origin gomatrixserverlib.ServerName
}

func (s *spyEDUWriter) InputEDU(ctx context.Context, origin gomatrixserverlib.ServerName, edu gomatrixserverlib.EDU) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.origin = origin
	s.edus = append(s.edus, edu)
	return nil
}

func (s *spyEDUWriter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.edus)
}

func TestSendInvalidRequestBody(t *testing.T) {
	rsAPI, _ := newTestRoomserverAPI(t)
	req := httptest.NewRequest(http.MethodPut, "/send/txn1", bytes.NewReader([]byte(`not json`)))
	resp := Send(req, "remote.example.org", "txn1", rsAPI, NopEDUWriter{})
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestSendTransactionExceedsPDULimit(t *testing.T) {
	rsAPI, _ := newTestRoomserverAPI(t)
	pdus := make([]json.RawMessage, maxPDUsPerTransaction+1)
	for i := range pdus {
		pdus[i] = json.RawMessage(`{}`)
	}
	body, err := json.Marshal(struct {
		PDUs []json.RawMessage `json:"pdus"`
	}{PDUs: pdus})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPut, "/send/txn1", bytes.NewReader(body))
	resp := Send(req, "remote.example.org", "txn1", rsAPI, NopEDUWriter{})
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestSendTransactionExceedsEDULimit(t *testing.T) {
	rsAPI, _ := newTestRoomserverAPI(t)
	edus := make([]gomatrixserverlib.EDU, maxEDUsPerTransaction+1)
	for i := range edus {
		edus[i] = gomatrixserverlib.EDU{Type: "m.typing"}
	}
	body, err := json.Marshal(struct {
		EDUs []gomatrixserverlib.EDU `json:"edus"`
	}{EDUs: edus})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPut, "/send/txn1", bytes.NewReader(body))
	resp := Send(req, "remote.example.org", "txn1", rsAPI, NopEDUWriter{})
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestSendSkipsPDUForUnknownRoom(t *testing.T) {
	rsAPI, _ := newTestRoomserverAPI(t)
	body, err := json.Marshal(struct {
		PDUs []json.RawMessage `json:"pdus"`
	}{PDUs: []json.RawMessage{json.RawMessage(`{"room_id":"!nope:example.org"}`)}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPut, "/send/txn1", bytes.NewReader(body))
	resp := Send(req, "remote.example.org", "txn1", rsAPI, NopEDUWriter{})
	require.Equal(t, http.StatusOK, resp.Code)

	respSend, ok := resp.JSON.(gomatrixserverlib.RespSend)
	require.True(t, ok)
	require.Empty(t, respSend.PDUs)
}

func TestSendSkipsPDUWithBadEventJSON(t *testing.T) {
	rsAPI, db := newTestRoomserverAPI(t)
	roomID := "!room:example.org"
	require.NoError(t, db.CreateRoomInfo(context.Background(), roomID, gomatrixserverlib.RoomVersionV9))

	body, err := json.Marshal(struct {
		PDUs []json.RawMessage `json:"pdus"`
	}{PDUs: []json.RawMessage{json.RawMessage(`{"room_id":"` + roomID + `","type":"m.room.message"}`)}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPut, "/send/txn1", bytes.NewReader(body))
	resp := Send(req, "remote.example.org", "txn1", rsAPI, NopEDUWriter{})
	require.Equal(t, http.StatusOK, resp.Code)

	respSend, ok := resp.JSON.(gomatrixserverlib.RespSend)
	require.True(t, ok)
	require.Empty(t, respSend.PDUs)
}

func TestSendRoutesEDUsToWriter(t *testing.T) {
	rsAPI, _ := newTestRoomserverAPI(t)
	spy := &spyEDUWriter{}

	body, err := json.Marshal(struct {
		EDUs []gomatrixserverlib.EDU `json:"edus"`
	}{EDUs: []gomatrixserverlib.EDU{{Type: "m.typing"}, {Type: "m.receipt"}}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPut, "/send/txn1", bytes.NewReader(body))
	resp := Send(req, "remote.example.org", "txn1", rsAPI, spy)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, 2, spy.count())
	require.Equal(t, gomatrixserverlib.ServerName("remote.example.org"), spy.origin)
}

func TestNopEDUWriterDiscardsEDU(t *testing.T) {
	w := NopEDUWriter{}
	err := w.InputEDU(context.Background(), "remote.example.org", gomatrixserverlib.EDU{Type: "m.typing"})
	require.NoError(t, err)
}
