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

package gomatrixserverlib

// TopologicalOrderBy selects which event references ReverseTopologicalOrdering
// follows when deciding what counts as a "dependency" of an event.
type TopologicalOrderBy int

const (
	// TopologicalOrderByAuthEvents orders strictly by auth_events, so that
	// every event in the result appears after its own auth chain — the
	// order an auth chain fetched via event_auth must be replayed in for
	// each event's auth check to see its auth_events already processed.
	TopologicalOrderByAuthEvents TopologicalOrderBy = iota
	// TopologicalOrderByPrevEvents orders by prev_events instead, the order
	// a chain of backfilled history must be replayed in so each event's
	// prev_events are already stored before it.
	TopologicalOrderByPrevEvents
)

// ReverseTopologicalOrdering sorts events so each one appears after every
// event it depends on (per orderBy) that's also present in the input.
// References to events outside the input set are treated as already
// satisfied. Cycles (which a well-formed auth chain never has) are broken
// arbitrarily by visit order rather than causing an error.
func ReverseTopologicalOrdering(events []Event, orderBy TopologicalOrderBy) []Event {
	byID := make(map[string]Event, len(events))
	for _, ev := range events {
		byID[ev.EventID()] = ev
	}

	visited := make(map[string]bool, len(events))
	ordered := make([]Event, 0, len(events))

	var visit func(ev Event)
	visit = func(ev Event) {
		id := ev.EventID()
		if visited[id] {
			return
		}
		visited[id] = true
		var refs []string
		switch orderBy {
		case TopologicalOrderByAuthEvents:
			refs = ev.AuthEventIDs()
		case TopologicalOrderByPrevEvents:
			refs = ev.PrevEventIDs()
		}
		for _, ref := range refs {
			if dep, ok := byID[ref]; ok {
				visit(dep)
			}
		}
		ordered = append(ordered, ev)
	}

	for _, ev := range events {
		visit(ev)
	}
	return ordered
}
