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

// Package devicelist tracks the device-list/cross-signing key-change update
// stream: each inbound m.device_list_update EDU carries a per-origin-server
// stream_id the rest of this module uses only to detect gaps (full key
// storage and cross-signing verification are out of scope — spec.md's
// Non-goals exclude "E2EE key management logic beyond opaque transport of
// key blobs"; this package is exactly that opaque transport layer).
package devicelist

import "sync"

// Update is the latest recorded device-list change for one user.
type Update struct {
	Origin   string
	StreamID int64
	Content  []byte
}

// Tracker is a user → latest Update table, plus the per-origin stream
// position used to detect a missed update (stream_id not exactly
// previous+1).
type Tracker struct {
	mu        sync.Mutex
	latest    map[string]Update
	streamPos map[string]int64 // keyed by origin server name
}

// New constructs an empty Tracker.
func New() *Tracker {
	return &Tracker{latest: map[string]Update{}, streamPos: map[string]int64{}}
}

// Apply records an update for userID, reporting whether a gap was detected
// in origin's stream (the caller may want to resync via a key query in that
// case rather than trust this opaque blob alone).
func (t *Tracker) Apply(origin, userID string, streamID int64, content []byte) (gap bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.streamPos[origin]; ok && streamID != prev+1 {
		gap = true
	}
	t.streamPos[origin] = streamID
	t.latest[userID] = Update{Origin: origin, StreamID: streamID, Content: content}
	return gap
}

// Get returns the latest recorded update for userID, if any.
func (t *Tracker) Get(userID string) (Update, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.latest[userID]
	return u, ok
}
