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

package storage

import (
	"context"
	"sync"

	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
)

// MemoryDatabase is the in-memory reference Database implementation, used by
// tests and single-process deployments that don't need durability across
// restarts. Grounded on the teacher's reference in-memory storage style
// (a single mutex-guarded struct of maps) used throughout its storage
// packages' unit tests.
type MemoryDatabase struct {
	mu sync.RWMutex

	rooms map[string]*RoomInfo
	events map[string]gomatrixserverlib.HeaderedEvent
	rejected map[string]bool

	stateGroups   map[int64]map[gomatrixserverlib.StateKeyTuple]string
	nextStateGrp  int64
	stateAtEvent  map[string]StateAtEvent

	latestEvents map[string][]string
	latestDepth  map[string]int64

	membership map[string]map[string]membershipRecord
	forgotten  map[string]map[string]bool

	peeks map[string]map[string]gomatrixserverlib.ServerName
}

type membershipRecord struct {
	membership string
	eventID    string
}

// NewMemoryDatabase constructs an empty MemoryDatabase.
func NewMemoryDatabase() *MemoryDatabase {
	return &MemoryDatabase{
		rooms:        map[string]*RoomInfo{},
		events:       map[string]gomatrixserverlib.HeaderedEvent{},
		rejected:     map[string]bool{},
		stateGroups:  map[int64]map[gomatrixserverlib.StateKeyTuple]string{},
		stateAtEvent: map[string]StateAtEvent{},
		latestEvents: map[string][]string{},
		latestDepth:  map[string]int64{},
		membership:   map[string]map[string]membershipRecord{},
		forgotten:    map[string]map[string]bool{},
		peeks:        map[string]map[string]gomatrixserverlib.ServerName{},
	}
}

func (d *MemoryDatabase) RoomInfo(_ context.Context, roomID string) (*RoomInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ri, ok := d.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	cp := *ri
	return &cp, nil
}

func (d *MemoryDatabase) CreateRoomInfo(_ context.Context, roomID string, version gomatrixserverlib.RoomVersion) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.rooms[roomID]; ok {
		return nil
	}
	d.rooms[roomID] = &RoomInfo{RoomID: roomID, RoomVersion: version}
	return nil
}

func (d *MemoryDatabase) EventsFromIDs(_ context.Context, eventIDs []string) ([]gomatrixserverlib.HeaderedEvent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]gomatrixserverlib.HeaderedEvent, 0, len(eventIDs))
	for _, id := range eventIDs {
		if ev, ok := d.events[id]; ok {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (d *MemoryDatabase) StoreEvent(_ context.Context, event gomatrixserverlib.HeaderedEvent, isRejected bool) (string, *gomatrixserverlib.Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events[event.EventID()] = event
	d.rejected[event.EventID()] = isRejected

	if event.Type() == "m.room.redaction" && event.Redacts() != "" {
		if target, ok := d.events[event.Redacts()]; ok && !d.rejected[event.Redacts()] {
			targetEvent := target.Event
			if redacted, err := targetEvent.Redact(); err == nil {
				targetEvent = redacted
			}
			d.events[event.Redacts()] = targetEvent.Headered(target.RoomVersion)
			redactionEvent := event.Event
			return event.Redacts(), &redactionEvent, nil
		}
	}
	return "", nil, nil
}

func (d *MemoryDatabase) IsRejected(_ context.Context, eventID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rejected[eventID], nil
}

func (d *MemoryDatabase) StateEntriesForEventIDs(_ context.Context, eventIDs []string) ([]StateEntry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]StateEntry, 0, len(eventIDs))
	for _, id := range eventIDs {
		ev, ok := d.events[id]
		if !ok || ev.StateKey() == nil {
			continue
		}
		out = append(out, StateEntry{
			StateKeyTuple: gomatrixserverlib.StateKeyTuple{EventType: ev.Type(), StateKey: *ev.StateKey()},
			EventID:       id,
		})
	}
	return out, nil
}

func (d *MemoryDatabase) AddState(_ context.Context, _ string, baseStateGroup int64, removed, added []StateEntry) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	base := map[gomatrixserverlib.StateKeyTuple]string{}
	if existing, ok := d.stateGroups[baseStateGroup]; ok {
		for k, v := range existing {
			base[k] = v
		}
	}
	for _, r := range removed {
		delete(base, r.StateKeyTuple)
	}
	for _, a := range added {
		base[a.StateKeyTuple] = a.EventID
	}
	d.nextStateGrp++
	id := d.nextStateGrp
	d.stateGroups[id] = base
	return id, nil
}

func (d *MemoryDatabase) StateEntriesForGroup(_ context.Context, stateGroup int64) (map[gomatrixserverlib.StateKeyTuple]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := map[gomatrixserverlib.StateKeyTuple]string{}
	for k, v := range d.stateGroups[stateGroup] {
		out[k] = v
	}
	return out, nil
}

func (d *MemoryDatabase) SetState(_ context.Context, eventID string, stateGroup int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stateAtEvent[eventID] = StateAtEvent{BeforeStateGroup: stateGroup}
	return nil
}

func (d *MemoryDatabase) StateAtEvent(_ context.Context, eventID string) (StateAtEvent, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.stateAtEvent[eventID]
	return s, ok, nil
}

func (d *MemoryDatabase) LatestEvents(_ context.Context, roomID string) ([]string, int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	evs := append([]string(nil), d.latestEvents[roomID]...)
	return evs, d.latestDepth[roomID], nil
}

func (d *MemoryDatabase) SetLatestEvents(_ context.Context, roomID string, eventIDs []string, depth int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.latestEvents[roomID] = append([]string(nil), eventIDs...)
	d.latestDepth[roomID] = depth
	return nil
}

func (d *MemoryDatabase) MembershipForUser(_ context.Context, roomID, userID string) (string, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	room, ok := d.membership[roomID]
	if !ok {
		return "", false, nil
	}
	rec, ok := room[userID]
	if !ok {
		return "", false, nil
	}
	return rec.membership, true, nil
}

func (d *MemoryDatabase) SetMembership(_ context.Context, roomID, userID, membership, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	room, ok := d.membership[roomID]
	if !ok {
		room = map[string]membershipRecord{}
		d.membership[roomID] = room
	}
	room[userID] = membershipRecord{membership: membership, eventID: eventID}
	return nil
}

func (d *MemoryDatabase) LocalJoinedUsers(_ context.Context, roomID string, localServerName gomatrixserverlib.ServerName) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []string
	for userID, rec := range d.membership[roomID] {
		if rec.membership != "join" {
			continue
		}
		_, domain, err := gomatrixserverlib.SplitID('@', userID)
		if err == nil && gomatrixserverlib.ServerName(domain) == localServerName {
			out = append(out, userID)
		}
	}
	return out, nil
}

func (d *MemoryDatabase) ForgottenRooms(_ context.Context, userID string) (map[string]bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := map[string]bool{}
	for roomID, users := range d.forgotten {
		if users[userID] {
			out[roomID] = true
		}
	}
	return out, nil
}

func (d *MemoryDatabase) SetForgotten(_ context.Context, userID, roomID string, forgotten bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	room, ok := d.forgotten[roomID]
	if !ok {
		room = map[string]bool{}
		d.forgotten[roomID] = room
	}
	room[userID] = forgotten
	return nil
}

func (d *MemoryDatabase) JoinedServersInRoom(_ context.Context, roomID string) ([]gomatrixserverlib.ServerName, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	seen := map[gomatrixserverlib.ServerName]bool{}
	var out []gomatrixserverlib.ServerName
	for userID, rec := range d.membership[roomID] {
		if rec.membership != "join" {
			continue
		}
		_, domain, err := gomatrixserverlib.SplitID('@', userID)
		if err != nil {
			continue
		}
		serverName := gomatrixserverlib.ServerName(domain)
		if !seen[serverName] {
			seen[serverName] = true
			out = append(out, serverName)
		}
	}
	return out, nil
}

func (d *MemoryDatabase) AddPeek(_ context.Context, roomID, userID string, serverName gomatrixserverlib.ServerName) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	room, ok := d.peeks[roomID]
	if !ok {
		room = map[string]gomatrixserverlib.ServerName{}
		d.peeks[roomID] = room
	}
	room[userID] = serverName
	return nil
}

func (d *MemoryDatabase) DeletePeek(_ context.Context, roomID, userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.peeks[roomID], userID)
	return nil
}

func (d *MemoryDatabase) PeekingServers(_ context.Context, roomID string) ([]gomatrixserverlib.ServerName, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	seen := map[gomatrixserverlib.ServerName]bool{}
	var out []gomatrixserverlib.ServerName
	for _, serverName := range d.peeks[roomID] {
		if !seen[serverName] {
			seen[serverName] = true
			out = append(out, serverName)
		}
	}
	return out, nil
}
