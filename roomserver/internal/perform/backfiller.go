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

package perform

import (
	"context"
	"fmt"

	fedapi "github.com/EdGeraghty/FERRETCANNON-sub006/federationapi/api"
	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/api"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/storage"
)

// defaultBackfillLimit bounds a single PerformBackfill call when the caller
// doesn't specify one.
const defaultBackfillLimit = 100

// Backfiller implements PerformBackfill: walking a room's history backwards
// from a set of extremities via federation, the recovery path for an event
// whose prev_events the input pipeline couldn't resolve (see
// roomserver/internal/input's deliberate scope decision not to chase missing
// history itself).
type Backfiller struct {
	DB      storage.Database
	FSAPI   fedapi.FederationInternalAPI
	Inputer api.RoomserverInputAPI
}

func (b *Backfiller) PerformBackfill(ctx context.Context, req *api.PerformBackfillRequest, res *api.PerformBackfillResponse) error {
	roomInfo, err := b.DB.RoomInfo(ctx, req.RoomID)
	if err != nil {
		return fmt.Errorf("perform: RoomInfo: %w", err)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultBackfillLimit
	}

	frontier := append([]string(nil), req.BackwardsExtremities...)
	seen := map[string]bool{}
	var fetched []gomatrixserverlib.Event

	for len(frontier) > 0 && len(fetched) < limit {
		id := frontier[0]
		frontier = frontier[1:]
		if seen[id] {
			continue
		}
		seen[id] = true

		known, err := b.DB.EventsFromIDs(ctx, []string{id})
		if err != nil {
			return fmt.Errorf("perform: EventsFromIDs: %w", err)
		}
		if len(known) > 0 {
			continue
		}

		ev, err := b.fetchFromAnyServer(ctx, roomInfo.RoomVersion, id, req.ServerNames)
		if err != nil {
			continue
		}
		fetched = append(fetched, ev)
		frontier = append(frontier, ev.PrevEventIDs()...)
	}

	if len(fetched) == 0 {
		return nil
	}

	ordered := gomatrixserverlib.ReverseTopologicalOrdering(fetched, gomatrixserverlib.TopologicalOrderByPrevEvents)
	inputEvents := make([]api.InputRoomEvent, 0, len(ordered))
	headered := make([]gomatrixserverlib.HeaderedEvent, 0, len(ordered))
	for i := range ordered {
		h := ordered[i].Headered(roomInfo.RoomVersion)
		headered = append(headered, h)
		inputEvents = append(inputEvents, api.InputRoomEvent{Kind: api.KindBackfill, Event: h})
	}

	var inputRes api.InputRoomEventsResponse
	b.Inputer.InputRoomEvents(ctx, &api.InputRoomEventsRequest{InputRoomEvents: inputEvents, Asynchronous: true}, &inputRes)
	if inputRes.ErrMsg != "" {
		return fmt.Errorf("perform: backfilled event rejected: %s", inputRes.ErrMsg)
	}

	res.Events = headered
	return nil
}

func (b *Backfiller) fetchFromAnyServer(ctx context.Context, roomVersion gomatrixserverlib.RoomVersion, eventID string, servers []gomatrixserverlib.ServerName) (gomatrixserverlib.Event, error) {
	var lastErr error
	for _, destination := range servers {
		ev, err := b.FSAPI.GetEvent(ctx, destination, roomVersion, eventID)
		if err != nil {
			lastErr = err
			continue
		}
		return ev, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no servers offered to fetch %s from", eventID)
	}
	return gomatrixserverlib.Event{}, lastErr
}
