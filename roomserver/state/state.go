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

// Package state wraps gomatrixserverlib's state-resolution v2 algorithm with
// the storage-facing half of the job: computing the state before a new
// event from its prev_events, partitioning unconflicted/conflicted state,
// invoking the resolver, and materializing the result as a new state group.
// Grounded on calculateAndSetState/CalculateAndStoreStateBeforeEvent in the
// teacher's roomserver/internal/input package.
package state

import (
	"context"
	"fmt"

	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/storage"
)

// StateResolution computes and stores resolved room state for a given room.
type StateResolution struct {
	DB       storage.Database
	RoomInfo storage.RoomInfo
}

// NewStateResolution builds a StateResolution scoped to roomInfo.
func NewStateResolution(db storage.Database, roomInfo storage.RoomInfo) StateResolution {
	return StateResolution{DB: db, RoomInfo: roomInfo}
}

// CalculateAndStoreStateBeforeEvent computes the state immediately before
// event from its prev_events' stored state, resolving any conflicts, and
// persists the result as a new state group, returning its ID.
func (s StateResolution) CalculateAndStoreStateBeforeEvent(ctx context.Context, event gomatrixserverlib.Event, isRejected bool) (int64, error) {
	prevEventIDs := event.PrevEventIDs()
	if len(prevEventIDs) == 0 {
		// The only event with no prev_events is the room's m.room.create.
		return 0, nil
	}

	stateGroups := make(map[string]int64, len(prevEventIDs))
	for _, prevID := range prevEventIDs {
		sa, ok, err := s.DB.StateAtEvent(ctx, prevID)
		if err != nil {
			return 0, fmt.Errorf("state: StateAtEvent(%s): %w", prevID, err)
		}
		if !ok {
			continue
		}
		stateGroups[prevID] = sa.BeforeStateGroup
	}

	if len(stateGroups) == 0 {
		return 0, nil
	}
	if len(stateGroups) == 1 {
		for _, g := range stateGroups {
			return g, nil
		}
	}

	resolved, err := s.resolveConflicts(ctx, stateGroups)
	if err != nil {
		return 0, err
	}

	entries := make([]storage.StateEntry, 0, len(resolved))
	for tuple, eventID := range resolved {
		entries = append(entries, storage.StateEntry{StateKeyTuple: tuple, EventID: eventID})
	}
	return s.DB.AddState(ctx, s.RoomInfo.RoomID, 0, nil, entries)
}

// resolveConflicts loads the full state maps for each distinct state group,
// partitions them into unconflicted/conflicted per spec.md §4.6, and invokes
// the v2 algorithm.
func (s StateResolution) resolveConflicts(ctx context.Context, stateGroups map[string]int64) (map[gomatrixserverlib.StateKeyTuple]string, error) {
	distinctGroups := map[int64]bool{}
	for _, g := range stateGroups {
		distinctGroups[g] = true
	}
	if len(distinctGroups) == 1 {
		for g := range distinctGroups {
			return s.DB.StateEntriesForGroup(ctx, g)
		}
	}

	branches := make([]map[gomatrixserverlib.StateKeyTuple]string, 0, len(distinctGroups))
	for g := range distinctGroups {
		m, err := s.DB.StateEntriesForGroup(ctx, g)
		if err != nil {
			return nil, err
		}
		branches = append(branches, m)
	}

	unconflicted := map[gomatrixserverlib.StateKeyTuple]string{}
	conflicted := map[gomatrixserverlib.StateKeyTuple][]string{}
	seenValues := map[gomatrixserverlib.StateKeyTuple]map[string]bool{}
	presentIn := map[gomatrixserverlib.StateKeyTuple]int{}

	for _, branch := range branches {
		for tuple, eventID := range branch {
			if seenValues[tuple] == nil {
				seenValues[tuple] = map[string]bool{}
			}
			seenValues[tuple][eventID] = true
			presentIn[tuple]++
		}
	}
	for tuple, values := range seenValues {
		if len(values) == 1 && presentIn[tuple] == len(branches) {
			for eventID := range values {
				unconflicted[tuple] = eventID
			}
		} else {
			ids := make([]string, 0, len(values))
			for eventID := range values {
				ids = append(ids, eventID)
			}
			conflicted[tuple] = ids
		}
	}

	// Any tuple present in some branches but absent in others is itself a
	// conflict: one branch's "no value" competes with another's event.
	for tuple := range conflicted {
		delete(unconflicted, tuple)
	}

	eventsByID := map[string]gomatrixserverlib.Event{}
	var allIDs []string
	for _, ids := range conflicted {
		allIDs = append(allIDs, ids...)
	}
	for tuple, id := range unconflicted {
		allIDs = append(allIDs, id)
		_ = tuple
	}
	fetched, err := s.DB.EventsFromIDs(ctx, allIDs)
	if err != nil {
		return nil, err
	}
	for _, ev := range fetched {
		eventsByID[ev.EventID()] = ev.Event
	}

	resolver := gomatrixserverlib.StateResolverV2{Events: eventsByID}
	return resolver.ResolveStateConflictsV2(unconflicted, conflicted)
}
