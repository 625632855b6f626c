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

package internal

import "sync"

// MutexByRoom hands out a *sync.Mutex per room ID, lazily created on first
// use. The roomserver input path uses one to serialize processing of events
// for the same room while letting unrelated rooms proceed concurrently.
type MutexByRoom struct {
	mu      sync.Mutex
	byRoom  map[string]*sync.Mutex
}

// NewMutexByRoom constructs an empty MutexByRoom.
func NewMutexByRoom() *MutexByRoom {
	return &MutexByRoom{byRoom: map[string]*sync.Mutex{}}
}

// Lock locks the mutex associated with roomID, creating it if necessary.
func (m *MutexByRoom) Lock(roomID string) {
	m.mu.Lock()
	roomMu, ok := m.byRoom[roomID]
	if !ok {
		roomMu = &sync.Mutex{}
		m.byRoom[roomID] = roomMu
	}
	m.mu.Unlock()
	roomMu.Lock()
}

// Unlock unlocks the mutex associated with roomID.
func (m *MutexByRoom) Unlock(roomID string) {
	m.mu.Lock()
	roomMu, ok := m.byRoom[roomID]
	m.mu.Unlock()
	if ok {
		roomMu.Unlock()
	}
}
