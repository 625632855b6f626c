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

import (
	"encoding/json"
	"sort"
)

// StateResolverV2 runs the state resolution v2 algorithm (§4.6) over a set
// of conflicted state maps, given a way to look up events by ID and the
// full auth chain for the room.
//
// ResolveStateConflictsV2's inputs are already partitioned by the caller
// (typically roomserver/state) into unconflicted slots (every branch agrees)
// and conflicted slots (branches disagree), because that partition requires
// knowing which branches exist, which this package doesn't track.
type StateResolverV2 struct {
	// Events resolves an event ID to its Event. Must cover every event
	// reachable from the conflicted set's auth chains.
	Events map[string]Event
}

// ResolveStateConflictsV2 implements §4.6: it returns the resolved value for
// every conflicted (type, state_key) slot.
func (r StateResolverV2) ResolveStateConflictsV2(
	unconflicted map[StateKeyTuple]string,
	conflicted map[StateKeyTuple][]string,
) (map[StateKeyTuple]string, error) {
	if len(conflicted) == 0 {
		return cloneStateMap(unconflicted), nil
	}

	authDifference := r.authDifference(unconflicted, conflicted)

	allConflictedIDs := map[string]bool{}
	for _, ids := range conflicted {
		for _, id := range ids {
			allConflictedIDs[id] = true
		}
	}
	fullSet := map[string]bool{}
	for id := range allConflictedIDs {
		fullSet[id] = true
	}
	for id := range authDifference {
		fullSet[id] = true
	}

	controlIDs, restIDs := r.partitionControlEvents(fullSet)

	powerOrdered, err := r.reverseTopologicalPowerOrder(controlIDs)
	if err != nil {
		return nil, err
	}

	resolved := cloneStateMap(unconflicted)
	resolved = r.iterativeAuthCheck(powerOrdered, resolved)

	mainlineOrdered, err := r.mainlineOrder(restIDs, resolved)
	if err != nil {
		return nil, err
	}
	resolved = r.iterativeAuthCheck(mainlineOrdered, resolved)

	return resolved, nil
}

func cloneStateMap(in map[StateKeyTuple]string) map[StateKeyTuple]string {
	out := make(map[StateKeyTuple]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// authDifference is (union of each branch's full auth chain) minus
// (intersection of each branch's full auth chain): the auth events that not
// every branch agrees were used.
func (r StateResolverV2) authDifference(unconflicted map[StateKeyTuple]string, conflicted map[StateKeyTuple][]string) map[string]bool {
	var chains []map[string]bool
	for _, ids := range conflicted {
		for _, id := range ids {
			chains = append(chains, r.fullAuthChain(id))
		}
	}
	if len(chains) == 0 {
		return map[string]bool{}
	}
	union := map[string]bool{}
	intersection := map[string]bool{}
	for id := range chains[0] {
		intersection[id] = true
	}
	for _, chain := range chains {
		for id := range chain {
			union[id] = true
		}
		for id := range intersection {
			if !chain[id] {
				delete(intersection, id)
			}
		}
	}
	diff := map[string]bool{}
	for id := range union {
		if !intersection[id] {
			diff[id] = true
		}
	}
	return diff
}

// fullAuthChain returns eventID plus the transitive closure of its
// auth_events.
func (r StateResolverV2) fullAuthChain(eventID string) map[string]bool {
	seen := map[string]bool{}
	var visit func(id string)
	visit = func(id string) {
		if seen[id] {
			return
		}
		seen[id] = true
		ev, ok := r.Events[id]
		if !ok {
			return
		}
		for _, auth := range ev.AuthEventIDs() {
			visit(auth)
		}
	}
	visit(eventID)
	return seen
}

// partitionControlEvents splits ids into "control" events (m.room.power_levels,
// m.room.join_rules, and m.room.member bans and kicks, i.e. membership "ban",
// or "leave" sent by someone other than the target) and everything else, per
// the control-event isolation step of §4.6.
func (r StateResolverV2) partitionControlEvents(ids map[string]bool) (control []string, rest []string) {
	for id := range ids {
		ev, ok := r.Events[id]
		if !ok {
			continue
		}
		if ev.Type() == "m.room.power_levels" || ev.Type() == "m.room.join_rules" {
			control = append(control, id)
			continue
		}
		if ev.Type() == "m.room.member" && ev.StateKey() != nil {
			membership := membershipOf(&ev)
			if membership == "ban" || (membership == "leave" && ev.Sender() != *ev.StateKey()) {
				control = append(control, id)
				continue
			}
			rest = append(rest, id)
			continue
		}
		rest = append(rest, id)
	}
	return control, rest
}

// reverseTopologicalPowerOrder orders ids so that auth-dependencies come
// before dependents, tie-broken by descending sender power level (as of the
// unconflicted state, approximated via each event's own power_levels
// content when it is itself a power_levels event), then ascending
// origin_server_ts, then ascending event ID.
func (r StateResolverV2) reverseTopologicalPowerOrder(ids []string) ([]string, error) {
	return r.topologicalSort(ids, func(a, b Event) bool {
		return powerOrderLess(a, b)
	})
}

// mainlineOrder orders the remaining events relative to the "mainline" of
// power_levels events reachable from the already-resolved m.room.power_levels
// slot, per §4.6's mainline ordering step. Events are positioned by the
// nearest mainline ancestor reachable through auth_events, then tie-broken
// by origin_server_ts/event ID.
func (r StateResolverV2) mainlineOrder(ids []string, resolved map[StateKeyTuple]string) ([]string, error) {
	mainline := r.buildMainline(resolved[StateKeyTuple{"m.room.power_levels", ""}])
	mainlinePos := map[string]int{}
	for i, id := range mainline {
		mainlinePos[id] = i
	}

	nearest := func(eventID string) int {
		seen := map[string]bool{}
		queue := []string{eventID}
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			if seen[id] {
				continue
			}
			seen[id] = true
			if pos, ok := mainlinePos[id]; ok {
				return pos
			}
			ev, ok := r.Events[id]
			if !ok {
				continue
			}
			queue = append(queue, ev.AuthEventIDs()...)
		}
		return len(mainline)
	}

	type scored struct {
		id  string
		pos int
	}
	var items []scored
	for _, id := range ids {
		items = append(items, scored{id, nearest(id)})
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].pos != items[j].pos {
			return items[i].pos > items[j].pos // earlier mainline ancestor (smaller index) sorts later
		}
		ei, oki := r.Events[items[i].id]
		ej, okj := r.Events[items[j].id]
		if oki && okj {
			if ei.OriginServerTS() != ej.OriginServerTS() {
				return ei.OriginServerTS() < ej.OriginServerTS()
			}
		}
		return items[i].id < items[j].id
	})
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.id
	}
	return out, nil
}

// buildMainline walks power_levels events back through auth_events starting
// at startID (may be ""), returning the chain from startID back to the
// room's create-adjacent power_levels event.
func (r StateResolverV2) buildMainline(startID string) []string {
	if startID == "" {
		return nil
	}
	var chain []string
	id := startID
	seen := map[string]bool{}
	for id != "" && !seen[id] {
		seen[id] = true
		chain = append(chain, id)
		ev, ok := r.Events[id]
		if !ok {
			break
		}
		next := ""
		for _, a := range ev.AuthEventIDs() {
			if aev, ok := r.Events[a]; ok && aev.Type() == "m.room.power_levels" {
				next = a
				break
			}
		}
		id = next
	}
	return chain
}

func powerOrderLess(a, b Event) bool {
	pa := senderPowerAtEvent(a)
	pb := senderPowerAtEvent(b)
	if pa != pb {
		return pa > pb // higher power sorts first
	}
	if a.OriginServerTS() != b.OriginServerTS() {
		return a.OriginServerTS() < b.OriginServerTS()
	}
	return a.EventID() < b.EventID()
}

// senderPowerAtEvent approximates the sending user's power level: for an
// m.room.power_levels event it reads the sender's level from that event's
// own content; for any other event it returns 0. The event's auth_events are
// not consulted.
func senderPowerAtEvent(ev Event) int64 {
	var content struct {
		Users        map[string]int64 `json:"users"`
		UsersDefault int64            `json:"users_default"`
	}
	// Only m.room.power_levels events carry content usable here directly;
	// for others the caller's graph walk has already resolved dependency
	// order, so a flat default is an acceptable tie-break floor.
	if ev.Type() != "m.room.power_levels" {
		return 0
	}
	_ = json.Unmarshal(ev.Content(), &content)
	if lvl, ok := content.Users[ev.Sender()]; ok {
		return lvl
	}
	return content.UsersDefault
}

// topologicalSort performs a depth-first topological sort over ids using
// each event's auth_events as its dependency edges, visiting higher-priority
// (per less) nodes first among any that are simultaneously ready.
func (r StateResolverV2) topologicalSort(ids []string, less func(a, b Event) bool) ([]string, error) {
	set := map[string]bool{}
	for _, id := range ids {
		set[id] = true
	}
	visited := map[string]bool{}
	var order []string

	sorted := append([]string(nil), ids...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ei, oki := r.Events[sorted[i]]
		ej, okj := r.Events[sorted[j]]
		if oki && okj {
			return less(ei, ej)
		}
		return sorted[i] < sorted[j]
	})

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		ev, ok := r.Events[id]
		if ok {
			deps := append([]string(nil), ev.AuthEventIDs()...)
			sort.SliceStable(deps, func(i, j int) bool {
				di, oki := r.Events[deps[i]]
				dj, okj := r.Events[deps[j]]
				if oki && okj {
					return less(di, dj)
				}
				return deps[i] < deps[j]
			})
			for _, dep := range deps {
				if set[dep] {
					visit(dep)
				}
			}
		}
		order = append(order, id)
	}
	for _, id := range sorted {
		visit(id)
	}
	return order, nil
}

// iterativeAuthCheck applies each event in order, authorizing it against the
// state accumulated so far, and folding it into that state on success.
// Events that fail authorization are simply dropped from the resolved state
// (they lose; they are not errors).
func (r StateResolverV2) iterativeAuthCheck(order []string, state map[StateKeyTuple]string) map[StateKeyTuple]string {
	for _, id := range order {
		ev, ok := r.Events[id]
		if !ok || ev.StateKey() == nil {
			continue
		}
		authState := make([]Event, 0, len(state))
		for _, eid := range state {
			if aev, ok := r.Events[eid]; ok {
				authState = append(authState, aev)
			}
		}
		authEvents, err := NewAuthEvents(authState)
		if err != nil {
			continue
		}
		if err := Allowed(ev, &authEvents); err != nil {
			continue
		}
		state[StateKeyTuple{ev.Type(), *ev.StateKey()}] = id
	}
	return state
}
