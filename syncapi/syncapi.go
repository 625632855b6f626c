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

// Package syncapi implements clientapi/routing.Syncer against
// syncapi/storage and syncapi/notifier: GET /sync long-polls for the next
// position past the caller's "since" token, and GET /rooms/{id}/messages
// reads back a room's recorded timeline. Grounded on SPEC_FULL.md §4.10's
// "notifier wake-up over a tracked stream position" description; the
// concrete response shapes follow the Matrix client-server API directly
// since no pack example's syncapi got past the types-only file referenced
// in DESIGN.md.
package syncapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/matrix-org/util"

	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
	"github.com/EdGeraghty/FERRETCANNON-sub006/syncapi/notifier"
	"github.com/EdGeraghty/FERRETCANNON-sub006/syncapi/storage"
	"github.com/EdGeraghty/FERRETCANNON-sub006/syncapi/types"
)

// defaultMessagesLimit is used when a client doesn't pass ?limit= to
// GET /rooms/{roomID}/messages.
const defaultMessagesLimit = 20

// Syncer implements clientapi/routing.Syncer.
type Syncer struct {
	Store    *storage.Storage
	Notifier *notifier.Notifier
}

type joinedRoom struct {
	Timeline struct {
		Events []eventJSON `json:"events"`
		Limited bool       `json:"limited"`
	} `json:"timeline"`
	State struct {
		Events []eventJSON `json:"events"`
	} `json:"state"`
}

type invitedRoom struct {
	InviteState struct {
		Events []eventJSON `json:"events"`
	} `json:"invite_state"`
}

type leftRoom struct {
	Timeline struct {
		Events []eventJSON `json:"events"`
	} `json:"timeline"`
}

type eventJSON = gomatrixserverlib.HeaderedEvent

type syncResponse struct {
	NextBatch string `json:"next_batch"`
	Rooms     struct {
		Join   map[string]joinedRoom  `json:"join"`
		Invite map[string]invitedRoom `json:"invite"`
		Leave  map[string]leftRoom    `json:"leave"`
	} `json:"rooms"`
}

// Sync implements clientapi/routing.Syncer.
func (s *Syncer) Sync(req *http.Request, userID, since string) util.JSONResponse {
	sinceToken, err := types.NewStreamTokenFromString(since)
	if err != nil {
		sinceToken = types.StreamingToken{}
	}

	s.waitForUpdate(req.Context(), req.URL.Query().Get("timeout"), sinceToken)

	resp := syncResponse{}
	resp.Rooms.Join = map[string]joinedRoom{}
	resp.Rooms.Invite = map[string]invitedRoom{}
	resp.Rooms.Leave = map[string]leftRoom{}

	for _, roomID := range s.Store.JoinedRooms(userID) {
		jr := joinedRoom{}
		jr.Timeline.Events = s.Store.TimelineSince(roomID, sinceToken.PDUPosition, 0)
		jr.State.Events = s.Store.State(roomID)
		resp.Rooms.Join[roomID] = jr
	}
	for roomID, ev := range s.Store.InvitedRooms(userID) {
		ir := invitedRoom{}
		ir.InviteState.Events = []eventJSON{ev}
		resp.Rooms.Invite[roomID] = ir
	}
	for _, roomID := range s.Store.LeftRooms(userID) {
		resp.Rooms.Leave[roomID] = leftRoom{}
	}

	resp.NextBatch = types.StreamingToken{PDUPosition: s.Store.CurrentPosition()}.String()
	return util.JSONResponse{Code: http.StatusOK, JSON: resp}
}

// waitForUpdate returns at once if the store's position is already past
// since; otherwise it blocks until the next notifier broadcast (a new event
// or an invite change), the client's requested timeout elapses, or the
// request is cancelled — whichever comes first. A client that didn't ask to
// long-poll (no ?timeout=) returns immediately either way.
func (s *Syncer) waitForUpdate(ctx context.Context, timeoutParam string, since types.StreamingToken) {
	if s.Store.CurrentPosition() > since.PDUPosition {
		return
	}
	timeoutMS, _ := strconv.Atoi(timeoutParam)
	if timeoutMS <= 0 {
		return
	}
	waitCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMS)*time.Millisecond)
	defer cancel()
	s.Notifier.Wait(waitCtx, s.Notifier.Generation())
}

type messagesResponse struct {
	Chunk []eventJSON `json:"chunk"`
	Start string      `json:"start"`
	End   string      `json:"end"`
}

// Messages implements clientapi/routing.Syncer: returns the most recently
// recorded events for roomID. Only backwards pagination from the live edge
// is supported — this process's in-memory storage has no older history to
// page into (see syncapi/storage's package comment).
func (s *Syncer) Messages(req *http.Request, roomID string) util.JSONResponse {
	limit := defaultMessagesLimit
	if v := req.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	events := s.Store.RoomTimeline(roomID, limit)
	end := types.StreamingToken{PDUPosition: s.Store.CurrentPosition()}.String()
	return util.JSONResponse{Code: http.StatusOK, JSON: messagesResponse{
		Chunk: events,
		Start: req.URL.Query().Get("from"),
		End:   end,
	}}
}
