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

package routing

// emptySyncResponse is the shape GET /sync replies with when there is
// nothing to report: a real implementation (syncapi) fills in rooms/presence
// incrementally keyed by the "since" token, but NopSyncer has no state to
// report from, so it always hands back the same empty body next-batched on
// whatever token the caller sent.
func emptySyncResponse(since string) interface{} {
	nextBatch := since
	if nextBatch == "" {
		nextBatch = "s0"
	}
	return struct {
		NextBatch string      `json:"next_batch"`
		Rooms     interface{} `json:"rooms"`
		Presence  interface{} `json:"presence"`
	}{
		NextBatch: nextBatch,
		Rooms: struct {
			Join   map[string]interface{} `json:"join"`
			Invite map[string]interface{} `json:"invite"`
			Leave  map[string]interface{} `json:"leave"`
		}{
			Join:   map[string]interface{}{},
			Invite: map[string]interface{}{},
			Leave:  map[string]interface{}{},
		},
		Presence: struct {
			Events []interface{} `json:"events"`
		}{Events: []interface{}{}},
	}
}
