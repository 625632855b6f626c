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

// Package storage defines the roomserver's persistence contract and ships
// two implementations: an in-memory reference backend (storage_memory.go)
// used by tests and single-process deployments, and a Postgres backend
// (storage_postgres.go) for production. Grounded on the storage.Database
// interface dendrite's roomserver/storage package exposes, simplified to
// address events by their string event ID rather than dendrite's internal
// numeric ID (NID) schema — an intentional simplification: NIDs are a
// storage-layer space optimization, not a protocol requirement, and the
// spec's Event Store module (§4.4) is specified purely in terms of event
// IDs and state-key tuples.
package storage

import (
	"context"
	"errors"

	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
)

// ErrRoomNotFound is returned by RoomInfo when no room with that ID is known.
var ErrRoomNotFound = errors.New("storage: room not found")

// RoomInfo is what the roomserver needs to know about a room to process
// further events in it.
type RoomInfo struct {
	RoomID      string
	RoomVersion gomatrixserverlib.RoomVersion
	// IsStub is true for a room known only because we were invited to it or
	// are peeking at it, with no events of our own stored yet.
	IsStub bool
}

// StateAtEvent records which state group applied immediately before a given
// event, and whether that group should replace (rather than merge with) the
// room's existing forward-extremity state.
type StateAtEvent struct {
	BeforeStateGroup int64
	Overwrite        bool
}

// StateEntry pairs a state group with the event that satisfies a particular
// (type, state_key) tuple in that group.
type StateEntry struct {
	StateKeyTuple gomatrixserverlib.StateKeyTuple
	EventID       string
}

// Database is the roomserver's storage contract.
type Database interface {
	// RoomInfo returns what's known about roomID, or ErrRoomNotFound.
	RoomInfo(ctx context.Context, roomID string) (*RoomInfo, error)
	// CreateRoomInfo registers a new room at the given version, called when
	// the first event in a room (its m.room.create) is stored.
	CreateRoomInfo(ctx context.Context, roomID string, version gomatrixserverlib.RoomVersion) error

	// EventsFromIDs returns every known stored event among eventIDs, in no
	// particular order; unknown IDs are silently omitted.
	EventsFromIDs(ctx context.Context, eventIDs []string) ([]gomatrixserverlib.HeaderedEvent, error)
	// StoreEvent persists event, recording whether it was rejected by auth
	// rules. If storing it causes some other event to become redacted (its
	// redaction event having just arrived), redactedEventID/redactionEvent
	// describe that; otherwise redactedEventID is empty.
	StoreEvent(ctx context.Context, event gomatrixserverlib.HeaderedEvent, isRejected bool) (redactedEventID string, redactionEvent *gomatrixserverlib.Event, err error)
	// IsRejected reports whether a stored event was marked rejected.
	IsRejected(ctx context.Context, eventID string) (bool, error)

	// StateEntriesForEventIDs resolves each of eventIDs to the
	// (type, state_key) tuple it satisfies, for events that are state events.
	StateEntriesForEventIDs(ctx context.Context, eventIDs []string) ([]StateEntry, error)
	// AddState stores a new state group built from a base group (0 for
	// none) plus added/removed entries, returning its ID. Every call
	// creates a new group; identical groups are not merged.
	AddState(ctx context.Context, roomID string, baseStateGroup int64, removed, added []StateEntry) (int64, error)
	// StateEntriesForGroup returns the full resolved state map for a group.
	StateEntriesForGroup(ctx context.Context, stateGroup int64) (map[gomatrixserverlib.StateKeyTuple]string, error)
	// SetState records which state group applies immediately before eventID.
	SetState(ctx context.Context, eventID string, stateGroup int64) error
	// StateAtEvent returns the state recorded for eventID by a prior SetState.
	StateAtEvent(ctx context.Context, eventID string) (StateAtEvent, bool, error)

	// LatestEvents returns a room's current forward-extremity event IDs and
	// maximum depth.
	LatestEvents(ctx context.Context, roomID string) (eventIDs []string, depth int64, err error)
	// SetLatestEvents replaces a room's forward extremities.
	SetLatestEvents(ctx context.Context, roomID string, eventIDs []string, depth int64) error

	// MembershipForUser returns a user's current membership in a room, or
	// ("", false, nil) if they have none on record.
	MembershipForUser(ctx context.Context, roomID, userID string) (membership string, ok bool, err error)
	// SetMembership records a user's membership, called whenever a
	// m.room.member event for them is accepted into room state.
	SetMembership(ctx context.Context, roomID, userID, membership, eventID string) error
	// LocalJoinedUsers returns local user IDs currently joined to roomID,
	// used to decide whether incoming state should overwrite or merge
	// (an empty join set means whatever state we hold may be stale).
	LocalJoinedUsers(ctx context.Context, roomID string, localServerName gomatrixserverlib.ServerName) ([]string, error)

	// ForgottenRooms returns the room IDs userID has called /forget on.
	ForgottenRooms(ctx context.Context, userID string) (map[string]bool, error)
	// SetForgotten records userID's /forget on roomID.
	SetForgotten(ctx context.Context, userID, roomID string, forgotten bool) error

	// JoinedServersInRoom returns the distinct server names of every
	// currently-joined member of roomID, local or remote, the basis for
	// deciding which servers to federate a new event to (§4.8).
	JoinedServersInRoom(ctx context.Context, roomID string) ([]gomatrixserverlib.ServerName, error)

	// AddPeek records that a user on serverName is peeking roomID (§4.3's
	// supplemented peeking feature).
	AddPeek(ctx context.Context, roomID, userID string, serverName gomatrixserverlib.ServerName) error
	// DeletePeek removes a previously recorded peek.
	DeletePeek(ctx context.Context, roomID, userID string) error
	// PeekingServers returns the distinct server names currently peeking
	// roomID.
	PeekingServers(ctx context.Context, roomID string) ([]gomatrixserverlib.ServerName, error)
}
