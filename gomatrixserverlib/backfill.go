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
	"context"
	"fmt"
)

// BackfillRequester is the roomserver-side capability RequestBackfill needs:
// a way to ask a specific server for earlier events and to check which IDs
// are already stored locally, per §4.4.
type BackfillRequester interface {
	// BackfillFromServer fetches up to `limit` events before `fromEventIDs`
	// from `server`.
	BackfillFromServer(ctx context.Context, server ServerName, roomID string, fromEventIDs []string, limit int) ([]Event, error)
	// HaveEvents reports which of the given event IDs are already known
	// locally. RequestBackfill itself does not call it.
	HaveEvents(ctx context.Context, eventIDs []string) (map[string]bool, error)
	// JoinedServers returns candidate servers to backfill from, ordered by
	// preference (e.g. servers that were already in the room, then the
	// event's origin).
	JoinedServers(ctx context.Context, roomID string) ([]ServerName, error)
}

// RequestBackfill orchestrates §4.4's backfill procedure: it asks successive
// candidate servers for up to `limit` events before frontierEventIDs and
// returns the first non-empty batch, unchanged. Batches are not merged
// across servers, and events already held locally are not filtered out.
// If every server errors it returns the last error; if every server answers
// with nothing it returns nil, nil.
func RequestBackfill(ctx context.Context, req BackfillRequester, roomID string, frontierEventIDs []string, limit int) ([]Event, error) {
	servers, err := req.JoinedServers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("gomatrixserverlib: no candidate servers to backfill %q from", roomID)
	}

	var lastErr error
	for _, server := range servers {
		events, err := req.BackfillFromServer(ctx, server, roomID, frontierEventIDs, limit)
		if err != nil {
			lastErr = err
			continue
		}
		if len(events) == 0 {
			continue
		}
		return events, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("gomatrixserverlib: backfill of %q failed against every candidate server: %w", roomID, lastErr)
	}
	return nil, nil
}
