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

// Package query implements the roomserver's read-side internal API:
// current/historic state and event lookups backed by roomserver/storage.
// Grounded on the teacher's roomserver/internal/query.Queryer, adapted from
// its NID-indexed storage calls onto this module's string-keyed
// roomserver/storage.Database.
package query

import (
	"context"
	"fmt"

	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
	rsapi "github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/api"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/storage"
)

// Queryer implements rsapi.RoomserverQueryAPI.
type Queryer struct {
	DB storage.Database
}

var _ rsapi.RoomserverQueryAPI = (*Queryer)(nil)

// NewQueryer constructs a Queryer over db.
func NewQueryer(db storage.Database) *Queryer {
	return &Queryer{DB: db}
}

func (q *Queryer) QueryLatestEventsAndState(ctx context.Context, req *rsapi.QueryLatestEventsAndStateRequest, res *rsapi.QueryLatestEventsAndStateResponse) error {
	roomInfo, err := q.DB.RoomInfo(ctx, req.RoomID)
	if err == storage.ErrRoomNotFound {
		res.RoomExists = false
		return nil
	}
	if err != nil {
		return fmt.Errorf("query: RoomInfo: %w", err)
	}
	res.RoomExists = true
	res.RoomVersion = roomInfo.RoomVersion

	latest, depth, err := q.DB.LatestEvents(ctx, req.RoomID)
	if err != nil {
		return fmt.Errorf("query: LatestEvents: %w", err)
	}
	res.LatestEvents = latest
	res.Depth = depth + 1

	if len(latest) == 0 {
		return nil
	}
	sa, ok, err := q.DB.StateAtEvent(ctx, latest[0])
	if err != nil {
		return fmt.Errorf("query: StateAtEvent: %w", err)
	}
	if !ok {
		return nil
	}
	stateMap, err := q.DB.StateEntriesForGroup(ctx, sa.BeforeStateGroup)
	if err != nil {
		return fmt.Errorf("query: StateEntriesForGroup: %w", err)
	}
	res.StateEvents, err = q.selectEvents(ctx, stateMap, req.StateToFetch)
	return err
}

func (q *Queryer) QueryStateAfterEvents(ctx context.Context, req *rsapi.QueryStateAfterEventsRequest, res *rsapi.QueryStateAfterEventsResponse) error {
	roomInfo, err := q.DB.RoomInfo(ctx, req.RoomID)
	if err == storage.ErrRoomNotFound {
		res.RoomExists = false
		return nil
	}
	if err != nil {
		return fmt.Errorf("query: RoomInfo: %w", err)
	}
	res.RoomExists = true
	_ = roomInfo

	merged := map[gomatrixserverlib.StateKeyTuple]string{}
	for _, eventID := range req.PrevEventIDs {
		sa, ok, err := q.DB.StateAtEvent(ctx, eventID)
		if err != nil {
			return fmt.Errorf("query: StateAtEvent: %w", err)
		}
		if !ok {
			continue
		}
		stateMap, err := q.DB.StateEntriesForGroup(ctx, sa.BeforeStateGroup)
		if err != nil {
			return fmt.Errorf("query: StateEntriesForGroup: %w", err)
		}
		for tuple, id := range stateMap {
			merged[tuple] = id
		}
	}
	var err2 error
	res.StateEvents, err2 = q.selectEvents(ctx, merged, req.StateToFetch)
	return err2
}

func (q *Queryer) QueryEventsByID(ctx context.Context, req *rsapi.QueryEventsByIDRequest, res *rsapi.QueryEventsByIDResponse) error {
	events, err := q.DB.EventsFromIDs(ctx, req.EventIDs)
	if err != nil {
		return fmt.Errorf("query: EventsFromIDs: %w", err)
	}
	res.Events = events
	return nil
}

func (q *Queryer) QueryMembershipForUser(ctx context.Context, req *rsapi.QueryMembershipForUserRequest, res *rsapi.QueryMembershipForUserResponse) error {
	_, err := q.DB.RoomInfo(ctx, req.RoomID)
	if err == storage.ErrRoomNotFound {
		res.RoomExists = false
		return nil
	}
	if err != nil {
		return fmt.Errorf("query: RoomInfo: %w", err)
	}
	res.RoomExists = true
	membership, ok, err := q.DB.MembershipForUser(ctx, req.RoomID, req.UserID)
	if err != nil {
		return fmt.Errorf("query: MembershipForUser: %w", err)
	}
	res.IsInRoom = ok && membership == "join"
	res.Membership = membership
	return nil
}

func (q *Queryer) QueryServerJoinedToRoom(ctx context.Context, req *rsapi.QueryServerJoinedToRoomRequest, res *rsapi.QueryServerJoinedToRoomResponse) error {
	_, err := q.DB.RoomInfo(ctx, req.RoomID)
	if err == storage.ErrRoomNotFound {
		res.RoomExists = false
		return nil
	}
	if err != nil {
		return fmt.Errorf("query: RoomInfo: %w", err)
	}
	res.RoomExists = true
	users, err := q.DB.LocalJoinedUsers(ctx, req.RoomID, req.ServerName)
	if err != nil {
		return fmt.Errorf("query: LocalJoinedUsers: %w", err)
	}
	res.Joined = len(users) > 0
	return nil
}

// JoinedServerNamesInRoom satisfies the narrowed querier interface the
// federationapi package depends on to decide who to federate new events to.
func (q *Queryer) JoinedServerNamesInRoom(ctx context.Context, roomID string) ([]gomatrixserverlib.ServerName, error) {
	return q.DB.JoinedServersInRoom(ctx, roomID)
}

func (q *Queryer) QueryRoomVersionForRoom(ctx context.Context, roomID string) (gomatrixserverlib.RoomVersion, error) {
	roomInfo, err := q.DB.RoomInfo(ctx, roomID)
	if err != nil {
		return "", err
	}
	return roomInfo.RoomVersion, nil
}

func (q *Queryer) selectEvents(ctx context.Context, stateMap map[gomatrixserverlib.StateKeyTuple]string, want []gomatrixserverlib.StateKeyTuple) ([]gomatrixserverlib.HeaderedEvent, error) {
	var ids []string
	if len(want) == 0 {
		for _, id := range stateMap {
			ids = append(ids, id)
		}
	} else {
		for _, tuple := range want {
			if id, ok := stateMap[tuple]; ok {
				ids = append(ids, id)
			}
		}
	}
	return q.DB.EventsFromIDs(ctx, ids)
}
