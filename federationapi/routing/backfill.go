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

import (
	"context"
	"net/http"
	"strconv"

	"github.com/matrix-org/util"

	"github.com/EdGeraghty/FERRETCANNON-sub006/clientapi/jsonerror"
	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
	rsapi "github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/api"
)

const defaultBackfillRequestLimit = 100

// GetBackfill implements GET /_matrix/federation/v1/backfill/{roomID}: walks
// the room's event graph backwards from the requested frontier (`v`) for up
// to `limit` events, the mirror image of
// roomserver/internal/perform.Backfiller's outbound walk over
// LookupMissingEvents/GetEvent.
func GetBackfill(httpReq *http.Request, rsAPI rsapi.RoomserverInternalAPI, roomID string) util.JSONResponse {
	query := httpReq.URL.Query()
	frontier := query["v"]
	if len(frontier) == 0 {
		return util.JSONResponse{Code: http.StatusBadRequest, JSON: jsonerror.InvalidParam("missing required query parameter v")}
	}
	limit := defaultBackfillRequestLimit
	if v := query.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	var queryRes rsapi.QueryLatestEventsAndStateResponse
	if err := rsAPI.QueryLatestEventsAndState(httpReq.Context(), &rsapi.QueryLatestEventsAndStateRequest{RoomID: roomID}, &queryRes); err != nil || !queryRes.RoomExists {
		return util.JSONResponse{Code: http.StatusNotFound, JSON: jsonerror.NotFound("room not found")}
	}

	events, err := walkBackwards(httpReq.Context(), rsAPI, frontier, limit)
	if err != nil {
		return util.JSONResponse{Code: http.StatusInternalServerError, JSON: jsonerror.Unknown(err.Error())}
	}

	return util.JSONResponse{Code: http.StatusOK, JSON: gomatrixserverlib.RespState{
		StateEvents: rawJSONOf(events),
	}}
}

// walkBackwards performs a breadth-first walk over prev_events starting from
// frontier, returning up to limit events this server actually holds.
func walkBackwards(ctx context.Context, rsAPI rsapi.RoomserverInternalAPI, frontier []string, limit int) ([]gomatrixserverlib.HeaderedEvent, error) {
	seen := map[string]bool{}
	queue := append([]string(nil), frontier...)
	var out []gomatrixserverlib.HeaderedEvent

	for len(queue) > 0 && len(out) < limit {
		var res rsapi.QueryEventsByIDResponse
		if err := rsAPI.QueryEventsByID(ctx, &rsapi.QueryEventsByIDRequest{EventIDs: queue}, &res); err != nil {
			return nil, err
		}
		queue = nil
		for _, ev := range res.Events {
			if seen[ev.EventID()] {
				continue
			}
			seen[ev.EventID()] = true
			out = append(out, ev)
			if len(out) >= limit {
				break
			}
			for _, id := range ev.PrevEventIDs() {
				if !seen[id] {
					queue = append(queue, id)
				}
			}
		}
	}
	return out, nil
}
