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

// Package helpers holds small auth-adjacent utilities shared by
// roomserver/internal/input and roomserver/internal/perform that don't
// belong to either one specifically. Grounded on
// roomserver/internal/helpers.CheckForSoftFail in the teacher.
package helpers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/storage"
)

// CheckForSoftFail reports whether event should be "soft-failed": accepted
// and stored, but excluded from the room's forward extremities and hidden
// from local users, because it fails auth against the *current* resolved
// room state even though it passed auth against its own auth_events. This
// is the mechanism that stops a malicious server from editing history by
// crafting events whose auth_events predate a power demotion.
func CheckForSoftFail(ctx context.Context, db storage.Database, event gomatrixserverlib.Event, stateEventIDs []string) (bool, error) {
	var currentStateIDs []string
	if len(stateEventIDs) > 0 {
		currentStateIDs = stateEventIDs
	} else {
		latest, _, err := db.LatestEvents(ctx, event.RoomID())
		if err != nil {
			return false, fmt.Errorf("helpers: LatestEvents: %w", err)
		}
		currentStateIDs = latest
	}

	stateEvents, err := db.EventsFromIDs(ctx, currentStateIDs)
	if err != nil {
		return false, fmt.Errorf("helpers: EventsFromIDs: %w", err)
	}
	plain := make([]gomatrixserverlib.Event, 0, len(stateEvents))
	for _, ev := range stateEvents {
		plain = append(plain, ev.Event)
	}

	authEvents, err := gomatrixserverlib.NewAuthEvents(plain)
	if err != nil {
		return false, fmt.Errorf("helpers: NewAuthEvents: %w", err)
	}
	if err := gomatrixserverlib.Allowed(event, &authEvents); err != nil {
		return true, nil
	}
	return false, nil
}

// UpdateMembership records event's membership in db if event is an
// m.room.member state event, a no-op for anything else. Called for every
// event accepted into a room's current state, and for each membership event
// in a remote join/knock's seeded initial state snapshot.
func UpdateMembership(ctx context.Context, db storage.Database, event gomatrixserverlib.Event) error {
	if event.Type() != "m.room.member" || event.StateKey() == nil {
		return nil
	}
	var content struct {
		Membership string `json:"membership"`
	}
	if err := json.Unmarshal(event.Content(), &content); err != nil {
		return fmt.Errorf("helpers: decoding membership content: %w", err)
	}
	if content.Membership == "" {
		return nil
	}
	return db.SetMembership(ctx, event.RoomID(), *event.StateKey(), content.Membership, event.EventID())
}
