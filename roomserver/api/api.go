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

// Package api declares the roomserver's internal API: the request/response
// types and interface every other component (clientapi, federationapi,
// syncapi, eduserver) calls into instead of touching roomserver storage
// directly.
package api

import (
	"context"

	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
)

// RoomserverInputAPI is the write side: feeding new events (local or
// federated) into a room's event graph.
type RoomserverInputAPI interface {
	InputRoomEvents(ctx context.Context, req *InputRoomEventsRequest, res *InputRoomEventsResponse)
}

// RoomserverQueryAPI is the read side: current/historic state and event
// lookups, used by every component that needs to know what a room looks
// like right now.
type RoomserverQueryAPI interface {
	QueryLatestEventsAndState(ctx context.Context, req *QueryLatestEventsAndStateRequest, res *QueryLatestEventsAndStateResponse) error
	QueryStateAfterEvents(ctx context.Context, req *QueryStateAfterEventsRequest, res *QueryStateAfterEventsResponse) error
	QueryEventsByID(ctx context.Context, req *QueryEventsByIDRequest, res *QueryEventsByIDResponse) error
	QueryMembershipForUser(ctx context.Context, req *QueryMembershipForUserRequest, res *QueryMembershipForUserResponse) error
	QueryServerJoinedToRoom(ctx context.Context, req *QueryServerJoinedToRoomRequest, res *QueryServerJoinedToRoomResponse) error
	QueryRoomVersionForRoom(ctx context.Context, roomID string) (gomatrixserverlib.RoomVersion, error)
}

// RoomserverPerformAPI is the orchestration surface: the multi-step
// operations (join, invite, leave, knock, peek, forget, backfill) that need
// more than a single state read/write.
type RoomserverPerformAPI interface {
	PerformCreateRoom(ctx context.Context, req *PerformCreateRoomRequest, res *PerformCreateRoomResponse) error
	PerformJoin(ctx context.Context, req *PerformJoinRequest, res *PerformJoinResponse) error
	PerformLeave(ctx context.Context, req *PerformLeaveRequest, res *PerformLeaveResponse) error
	PerformInvite(ctx context.Context, req *PerformInviteRequest, res *PerformInviteResponse) error
	PerformKnock(ctx context.Context, req *PerformKnockRequest, res *PerformKnockResponse) error
	PerformPeek(ctx context.Context, req *PerformPeekRequest, res *PerformPeekResponse) error
	PerformUnpeek(ctx context.Context, req *PerformUnpeekRequest, res *PerformUnpeekResponse) error
	PerformForget(ctx context.Context, req *PerformForgetRequest, res *PerformForgetResponse) error
	PerformBackfill(ctx context.Context, req *PerformBackfillRequest, res *PerformBackfillResponse) error
}

// RoomserverInternalAPI is the full surface every other component depends
// on. A concrete implementation is composed of an Inputer, Queryer, and a
// set of per-operation performers (see roomserver/internal).
type RoomserverInternalAPI interface {
	RoomserverInputAPI
	RoomserverQueryAPI
	RoomserverPerformAPI
}

// InputRoomEventsRequest asks the roomserver to ingest one or more events.
type InputRoomEventsRequest struct {
	InputRoomEvents []InputRoomEvent
	Asynchronous    bool
}

// InputRoomEvent is a single event entering the ingestion pipeline, tagged
// with how it arrived (local creation, federation send, backfill, ...).
type InputRoomEvent struct {
	Kind          InputEventKind                  `json:"kind"`
	Event         gomatrixserverlib.HeaderedEvent `json:"event"`
	Origin        gomatrixserverlib.ServerName    `json:"origin"`
	HasState      bool                            `json:"has_state"`
	StateEventIDs []string                        `json:"state_event_ids"`
	SendAsServer  string                          `json:"send_as_server"`
	TransactionID *TransactionID                  `json:"transaction_id,omitempty"`
}

// InputEventKind distinguishes how an InputRoomEvent reached the roomserver.
type InputEventKind int

const (
	// KindNew is a newly created or freshly federated event extending the
	// room's current forward extremities.
	KindNew InputEventKind = iota
	// KindOutlier is an event referenced as an auth/prev event but not (yet)
	// part of the room's known DAG, e.g. fetched incidentally while
	// resolving state.
	KindOutlier
	// KindBackfill is a historical event fetched via backfill.
	KindBackfill
)

// InputRoomEventsResponse reports the per-event outcome of an ingest call.
type InputRoomEventsResponse struct {
	ErrMsg     string
	NotAllowed bool
}

// QueryLatestEventsAndStateRequest asks for a room's forward extremities and
// a subset of its current state.
type QueryLatestEventsAndStateRequest struct {
	RoomID       string
	StateToFetch []gomatrixserverlib.StateKeyTuple
}

// QueryLatestEventsAndStateResponse is the roomserver's answer.
type QueryLatestEventsAndStateResponse struct {
	RoomExists  bool
	RoomVersion gomatrixserverlib.RoomVersion
	Depth       int64
	LatestEvents []string
	StateEvents  []gomatrixserverlib.HeaderedEvent
}

// QueryStateAfterEventsRequest asks for the state immediately following a
// given set of prev events, used when building a new event's auth_events.
type QueryStateAfterEventsRequest struct {
	RoomID       string
	PrevEventIDs []string
	StateToFetch []gomatrixserverlib.StateKeyTuple
}

// QueryStateAfterEventsResponse is the roomserver's answer.
type QueryStateAfterEventsResponse struct {
	RoomExists bool
	StateEvents []gomatrixserverlib.HeaderedEvent
}

// QueryEventsByIDRequest asks for specific events by ID.
type QueryEventsByIDRequest struct {
	EventIDs []string
}

// QueryEventsByIDResponse is the roomserver's answer.
type QueryEventsByIDResponse struct {
	Events []gomatrixserverlib.HeaderedEvent
}

// QueryMembershipForUserRequest asks for a user's membership in a room.
type QueryMembershipForUserRequest struct {
	RoomID string
	UserID string
}

// QueryMembershipForUserResponse is the roomserver's answer.
type QueryMembershipForUserResponse struct {
	RoomExists   bool
	IsInRoom     bool
	Membership   string
	EventID      string
}

// QueryServerJoinedToRoomRequest asks whether a server has any joined user in
// a room, the basis for deciding whether to accept federation traffic about
// that room from it.
type QueryServerJoinedToRoomRequest struct {
	RoomID     string
	ServerName gomatrixserverlib.ServerName
}

// QueryServerJoinedToRoomResponse is the roomserver's answer.
type QueryServerJoinedToRoomResponse struct {
	RoomExists bool
	Joined     bool
}

// PerformCreateRoomRequest asks the roomserver to create a brand new room
// owned by a local user, the client-facing POST /createRoom operation.
type PerformCreateRoomRequest struct {
	UserID      string
	RoomVersion gomatrixserverlib.RoomVersion
	// Preset is one of "private_chat", "public_chat", "trusted_private_chat"
	// (matrix.org CS API §10.1), deciding the default join_rules/history_visibility.
	Preset string
	Name   string
	Topic  string
	// InitialState is applied after the preset defaults, the way the real CS
	// API lets a creator override any single state event at creation time.
	InitialState []gomatrixserverlib.ProtoEvent
	IsDirect     bool
}

// PerformCreateRoomResponse is the roomserver's answer.
type PerformCreateRoomResponse struct {
	RoomID string
}

// PerformJoinRequest asks the roomserver to join a user to a room, performing
// the make_join/send_join federation dance if the room isn't already local.
type PerformJoinRequest struct {
	RoomIDOrAlias string
	UserID        string
	Content       map[string]interface{}
	ServerNames   []gomatrixserverlib.ServerName
}

// PerformJoinResponse is the roomserver's answer.
type PerformJoinResponse struct {
	RoomID  string
	JoinedVia gomatrixserverlib.ServerName
}

// PerformLeaveRequest asks the roomserver to remove a user from a room
// (including rescinding an invite or knock).
type PerformLeaveRequest struct {
	RoomID string
	UserID string
}

// PerformLeaveResponse is the roomserver's answer.
type PerformLeaveResponse struct{}

// PerformInviteRequest asks the roomserver to process a new invite, local or
// received over federation.
type PerformInviteRequest struct {
	Event           gomatrixserverlib.HeaderedEvent
	InviteRoomState []gomatrixserverlib.InviteV2StrippedState
	SendAsServer    string
}

// PerformInviteResponse is the roomserver's answer.
type PerformInviteResponse struct{}

// PerformKnockRequest asks the roomserver to knock on a room on a user's
// behalf.
type PerformKnockRequest struct {
	RoomIDOrAlias string
	UserID        string
	Reason        string
	ServerNames   []gomatrixserverlib.ServerName
}

// PerformKnockResponse is the roomserver's answer.
type PerformKnockResponse struct {
	RoomID string
}

// PerformPeekRequest asks the roomserver to start peeking a room on a
// server's behalf (§4.3's supplemented peeking feature).
type PerformPeekRequest struct {
	RoomIDOrAlias string
	UserID        string
	ServerNames   []gomatrixserverlib.ServerName
}

// PerformPeekResponse is the roomserver's answer.
type PerformPeekResponse struct {
	RoomID string
}

// PerformUnpeekRequest asks the roomserver to stop peeking a room.
type PerformUnpeekRequest struct {
	RoomID string
	UserID string
}

// PerformUnpeekResponse is the roomserver's answer.
type PerformUnpeekResponse struct{}

// PerformForgetRequest asks the roomserver to mark a room as forgotten for a
// user who has already left it.
type PerformForgetRequest struct {
	RoomID string
	UserID string
}

// PerformForgetResponse is the roomserver's answer.
type PerformForgetResponse struct{}

// PerformBackfillRequest asks the roomserver to backfill history for a room.
type PerformBackfillRequest struct {
	RoomID        string
	BackwardsExtremities []string
	Limit         int
	ServerNames   []gomatrixserverlib.ServerName
}

// PerformBackfillResponse is the roomserver's answer.
type PerformBackfillResponse struct {
	Events []gomatrixserverlib.HeaderedEvent
}
