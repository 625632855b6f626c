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

// Package presence tracks m.presence ephemeral state: per-user
// last-writer-wins with age, per spec.md §4.11.
package presence

import (
	"sync"
	"time"
)

// Status is one user's most recently recorded presence.
type Status struct {
	Presence    string // "online", "unavailable", "offline"
	StatusMsg   string
	LastActive  time.Time
	RecordedAt  time.Time
}

// Tracker is a user → Status table.
type Tracker struct {
	mu     sync.Mutex
	byUser map[string]Status
}

// New constructs an empty Tracker.
func New() *Tracker {
	return &Tracker{byUser: map[string]Status{}}
}

// SetPresence applies a presence update if recordedAt is at least as new as
// any previously recorded one for userID, returning whether it was applied.
func (t *Tracker) SetPresence(userID, presenceState, statusMsg string, lastActive, recordedAt time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.byUser[userID]; ok && existing.RecordedAt.After(recordedAt) {
		return false
	}
	t.byUser[userID] = Status{
		Presence:   presenceState,
		StatusMsg:  statusMsg,
		LastActive: lastActive,
		RecordedAt: recordedAt,
	}
	return true
}

// Get returns userID's current presence, if any has been recorded.
func (t *Tracker) Get(userID string) (Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byUser[userID]
	return s, ok
}
