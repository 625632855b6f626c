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

// Package typing tracks m.typing ephemeral state: spec.md §4.11 gives
// typing notifications a 30-second expiry from receipt. Grounded on the
// same mutex-guarded map shape federationapi/storage/storage_memory.go
// uses for its own in-memory tables.
package typing

import (
	"sync"
	"time"
)

// DefaultTimeout is used when an incoming m.typing EDU omits timeout, and
// caps any caller-supplied value — the spec names 30 seconds as the expiry,
// not merely a default.
const DefaultTimeout = 30 * time.Second

type entry struct {
	expiresAt time.Time
}

// Tracker is a room → user → expiry table.
type Tracker struct {
	mu    sync.Mutex
	rooms map[string]map[string]entry
}

// New constructs an empty Tracker.
func New() *Tracker {
	return &Tracker{rooms: map[string]map[string]entry{}}
}

// SetTyping records or clears userID's typing state in roomID. typing=false
// clears it immediately regardless of any previously recorded expiry.
func (t *Tracker) SetTyping(roomID, userID string, typing bool, timeout time.Duration, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !typing {
		delete(t.rooms[roomID], userID)
		return
	}
	if timeout <= 0 || timeout > DefaultTimeout {
		timeout = DefaultTimeout
	}
	byUser, ok := t.rooms[roomID]
	if !ok {
		byUser = map[string]entry{}
		t.rooms[roomID] = byUser
	}
	byUser[userID] = entry{expiresAt: now.Add(timeout)}
}

// UsersTyping returns every user currently typing in roomID as of now,
// purging any entries that have expired along the way.
func (t *Tracker) UsersTyping(roomID string, now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	byUser, ok := t.rooms[roomID]
	if !ok {
		return nil
	}
	var users []string
	for userID, e := range byUser {
		if now.After(e.expiresAt) {
			delete(byUser, userID)
			continue
		}
		users = append(users, userID)
	}
	return users
}
