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

// Package todevice queues m.direct_to_device EDUs for local delivery,
// deduplicating by (sender, message_id) so a redelivered transaction can't
// double-queue the same message, per spec.md §4.11's "exactly-once by
// (sender, message_id)" requirement.
package todevice

import "sync"

// Message is one to-device message queued for a local user.
type Message struct {
	Sender   string
	Type     string
	Content  []byte
}

// Store is the dedup table plus per-user pending queue.
type Store struct {
	mu      sync.Mutex
	seen    map[string]struct{} // sender + "\x1f" + messageID
	pending map[string][]Message
}

// New constructs an empty Store.
func New() *Store {
	return &Store{seen: map[string]struct{}{}, pending: map[string][]Message{}}
}

func dedupKey(sender, messageID string) string {
	return sender + "\x1f" + messageID
}

// Enqueue queues msg for userID unless (sender, messageID) has already been
// seen, returning whether it was newly queued.
func (s *Store) Enqueue(userID, sender, messageID string, msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := dedupKey(sender, messageID)
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	s.pending[userID] = append(s.pending[userID], msg)
	return true
}

// Drain removes and returns every message queued for userID.
func (s *Store) Drain(userID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.pending[userID]
	delete(s.pending, userID)
	return msgs
}
