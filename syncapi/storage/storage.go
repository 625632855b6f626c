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

// Package storage is syncapi's per-room timeline and current-state cache,
// built up by syncapi/consumers from the roomserver's output stream and read
// back by the HTTP sync/messages handlers. Grounded on
// federationapi/storage/storage_memory.go's mutex-guarded in-memory map
// shape (this module's other from-scratch storage layer); a Postgres-backed
// sibling is not built here since no pack example carries a sync timeline
// schema forward, and the same caveat federationapi/storage_memory.go
// documents applies doubly here: restart loses sync state, forcing every
// client back to an initial sync.
package storage

import (
	"encoding/json"
	"sync"

	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
	"github.com/EdGeraghty/FERRETCANNON-sub006/syncapi/types"
)

// TimelineEvent is one entry in a room's timeline, tagged with the stream
// position it was recorded at so Messages/Sync can page from a token.
type TimelineEvent struct {
	Position types.StreamPosition
	Event    gomatrixserverlib.HeaderedEvent
}

type roomData struct {
	timeline []TimelineEvent
	state    map[string]gomatrixserverlib.HeaderedEvent
}

func stateKey(eventType, stateKey string) string {
	return eventType + "\x1f" + stateKey
}

// Storage is syncapi's in-memory view of every room it has observed.
type Storage struct {
	mu      sync.RWMutex
	pos     types.StreamPosition
	rooms   map[string]*roomData
	invites map[string]map[string]gomatrixserverlib.HeaderedEvent // roomID -> invited user -> invite event
}

// NewStorage constructs an empty Storage.
func NewStorage() *Storage {
	return &Storage{
		rooms:   map[string]*roomData{},
		invites: map[string]map[string]gomatrixserverlib.HeaderedEvent{},
	}
}

// NextPosition advances and returns the stream position the caller's event
// should be recorded at. Callers must hold no lock; NextPosition takes its
// own.
func (s *Storage) NextPosition() types.StreamPosition {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos++
	return s.pos
}

// CurrentPosition returns the latest position recorded so far, for building
// the next_batch token on an empty/no-op sync response.
func (s *Storage) CurrentPosition() types.StreamPosition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pos
}

// AddEvent appends event to roomID's timeline at position, folding any
// accompanying state deltas into the room's current-state snapshot.
func (s *Storage) AddEvent(roomID string, position types.StreamPosition, event gomatrixserverlib.HeaderedEvent, addsState []gomatrixserverlib.HeaderedEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room := s.room(roomID)
	room.timeline = append(room.timeline, TimelineEvent{Position: position, Event: event})
	for _, se := range addsState {
		if se.StateKey() == nil {
			continue
		}
		room.state[stateKey(se.Type(), *se.StateKey())] = se
	}
	if event.StateKey() != nil {
		room.state[stateKey(event.Type(), *event.StateKey())] = event
	}
}

// AddInvite records an active invite for userID in roomID.
func (s *Storage) AddInvite(roomID, userID string, event gomatrixserverlib.HeaderedEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byUser, ok := s.invites[roomID]
	if !ok {
		byUser = map[string]gomatrixserverlib.HeaderedEvent{}
		s.invites[roomID] = byUser
	}
	byUser[userID] = event
}

// RetireInvite removes a previously active invite, whatever superseded it
// (join, reject, or a newer invite already handled via AddEvent's state
// update for the m.room.member key).
func (s *Storage) RetireInvite(roomID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.invites[roomID], userID)
}

func (s *Storage) room(roomID string) *roomData {
	r, ok := s.rooms[roomID]
	if !ok {
		r = &roomData{state: map[string]gomatrixserverlib.HeaderedEvent{}}
		s.rooms[roomID] = r
	}
	return r
}

// membership reads the "membership" key out of an m.room.member event's
// content, defaulting to "leave" on any parse failure (treat unreadable
// membership as "not in the room" rather than erroring the whole sync).
func membership(event gomatrixserverlib.HeaderedEvent) string {
	var content struct {
		Membership string `json:"membership"`
	}
	if err := json.Unmarshal(event.Content(), &content); err != nil {
		return "leave"
	}
	return content.Membership
}

// JoinedRooms returns every room ID whose current state has userID as a
// member with membership "join".
func (s *Storage) JoinedRooms(userID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var joined []string
	for roomID, room := range s.rooms {
		if ev, ok := room.state[stateKey("m.room.member", userID)]; ok && membership(ev) == "join" {
			joined = append(joined, roomID)
		}
	}
	return joined
}

// InvitedRooms returns every room ID with an active invite for userID,
// alongside the invite event itself (needed to render invite_state).
func (s *Storage) InvitedRooms(userID string) map[string]gomatrixserverlib.HeaderedEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := map[string]gomatrixserverlib.HeaderedEvent{}
	for roomID, byUser := range s.invites {
		if ev, ok := byUser[userID]; ok {
			result[roomID] = ev
		}
	}
	return result
}

// LeftRooms returns every room ID whose current state has userID as a
// member with membership "leave" or "ban".
func (s *Storage) LeftRooms(userID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var left []string
	for roomID, room := range s.rooms {
		if ev, ok := room.state[stateKey("m.room.member", userID)]; ok {
			m := membership(ev)
			if m == "leave" || m == "ban" {
				left = append(left, roomID)
			}
		}
	}
	return left
}

// TimelineSince returns roomID's timeline events recorded strictly after
// since, newest-last, capped at limit (0 means unlimited).
func (s *Storage) TimelineSince(roomID string, since types.StreamPosition, limit int) []gomatrixserverlib.HeaderedEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	var out []gomatrixserverlib.HeaderedEvent
	for _, te := range room.timeline {
		if te.Position > since {
			out = append(out, te.Event)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// State returns roomID's full current-state snapshot.
func (s *Storage) State(roomID string) []gomatrixserverlib.HeaderedEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]gomatrixserverlib.HeaderedEvent, 0, len(room.state))
	for _, ev := range room.state {
		out = append(out, ev)
	}
	return out
}

// RoomTimeline returns the most recent limit events recorded for roomID,
// oldest-first, for GET /rooms/{roomID}/messages (dir=b from the live edge;
// this module doesn't persist beyond process lifetime so there is no older
// history to page into — see the package comment).
func (s *Storage) RoomTimeline(roomID string, limit int) []gomatrixserverlib.HeaderedEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	start := 0
	if limit > 0 && len(room.timeline) > limit {
		start = len(room.timeline) - limit
	}
	out := make([]gomatrixserverlib.HeaderedEvent, 0, len(room.timeline)-start)
	for _, te := range room.timeline[start:] {
		out = append(out, te.Event)
	}
	return out
}
