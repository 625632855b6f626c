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

// Package receipts tracks m.receipt ephemeral state: last-writer-wins per
// (room, user, event) as spec.md §4.11 requires, ordered by the receipt's
// own timestamp rather than arrival order so an out-of-order redelivery
// can't regress a read marker.
package receipts

import "sync"

// Entry is one user's most recent read receipt in a room.
type Entry struct {
	EventID   string
	Timestamp int64
}

// Tracker is a room → user → Entry table.
type Tracker struct {
	mu     sync.Mutex
	byRoom map[string]map[string]Entry
}

// New constructs an empty Tracker.
func New() *Tracker {
	return &Tracker{byRoom: map[string]map[string]Entry{}}
}

// SetReceipt applies a receipt if ts is at least as new as any previously
// recorded one for (roomID, userID), returning whether it was applied.
func (t *Tracker) SetReceipt(roomID, userID, eventID string, ts int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	byUser, ok := t.byRoom[roomID]
	if !ok {
		byUser = map[string]Entry{}
		t.byRoom[roomID] = byUser
	}
	if existing, ok := byUser[userID]; ok && existing.Timestamp > ts {
		return false
	}
	byUser[userID] = Entry{EventID: eventID, Timestamp: ts}
	return true
}

// Receipts returns every user's current receipt in roomID.
func (t *Tracker) Receipts(roomID string) map[string]Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Entry, len(t.byRoom[roomID]))
	for userID, e := range t.byRoom[roomID] {
		out[userID] = e
	}
	return out
}
