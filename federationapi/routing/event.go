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
	"net/http"

	"github.com/matrix-org/util"

	"github.com/EdGeraghty/FERRETCANNON-sub006/clientapi/jsonerror"
	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
	"github.com/EdGeraghty/FERRETCANNON-sub006/internal/httputil"
	rsapi "github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/api"
)

// GetEvent implements GET /_matrix/federation/v1/event/{eventID}: a single
// event lookup by ID, the building block backfill and the /send gap-filling
// path both rely on.
func GetEvent(httpReq *http.Request, rsAPI rsapi.RoomserverInternalAPI, eventID string) util.JSONResponse {
	var res rsapi.QueryEventsByIDResponse
	if err := rsAPI.QueryEventsByID(httpReq.Context(), &rsapi.QueryEventsByIDRequest{EventIDs: []string{eventID}}, &res); err != nil {
		return util.JSONResponse{Code: http.StatusInternalServerError, JSON: jsonerror.Unknown(err.Error())}
	}
	if len(res.Events) == 0 {
		return util.JSONResponse{Code: http.StatusNotFound, JSON: jsonerror.NotFound("event not found")}
	}
	ev := res.Events[0]
	return util.JSONResponse{Code: http.StatusOK, JSON: gomatrixserverlib.Transaction{
		OriginServerTS: ev.OriginServerTS(),
		PDUs:           rawJSONOf(res.Events[:1]),
	}}
}

// maxMissingEventsLimit caps how many events a single get_missing_events
// call can be asked to return, regardless of what the caller requests.
const maxMissingEventsLimit = 20

// GetMissingEvents implements
// POST /_matrix/federation/v1/get_missing_events/{roomID}: walks backwards
// from latest_events, stopping at earliest_events or min_depth, to fill the
// gap a requesting server's event graph has relative to ours. The
// latest_events themselves are not returned.
func GetMissingEvents(httpReq *http.Request, rsAPI rsapi.RoomserverInternalAPI, roomID string) util.JSONResponse {
	var req gomatrixserverlib.MissingEventsRequest
	if _, err := httputil.ReadJSONBody(httpReq, &req); err != nil {
		return util.JSONResponse{Code: http.StatusBadRequest, JSON: jsonerror.NotJSON(err.Error())}
	}
	limit := req.Limit
	if limit <= 0 || limit > maxMissingEventsLimit {
		limit = maxMissingEventsLimit
	}

	earliest := map[string]bool{}
	for _, id := range req.EarliestEvents {
		earliest[id] = true
	}

	visited := map[string]bool{}
	latest := map[string]bool{}
	var missing []gomatrixserverlib.HeaderedEvent
	frontier := append([]string{}, req.LatestEvents...)
	for _, id := range frontier {
		visited[id] = true
		latest[id] = true
	}

	for len(frontier) > 0 && len(missing) < limit {
		var res rsapi.QueryEventsByIDResponse
		if err := rsAPI.QueryEventsByID(httpReq.Context(), &rsapi.QueryEventsByIDRequest{EventIDs: frontier}, &res); err != nil {
			return util.JSONResponse{Code: http.StatusInternalServerError, JSON: jsonerror.Unknown(err.Error())}
		}
		var next []string
		for _, ev := range res.Events {
			if earliest[ev.EventID()] {
				continue
			}
			if req.MinDepth > 0 && ev.Depth() < req.MinDepth {
				continue
			}
			if !latest[ev.EventID()] {
				missing = append(missing, ev)
				if len(missing) >= limit {
					break
				}
			}
			for _, prevID := range ev.PrevEventIDs() {
				if !visited[prevID] {
					visited[prevID] = true
					next = append(next, prevID)
				}
			}
		}
		frontier = next
	}

	return util.JSONResponse{Code: http.StatusOK, JSON: gomatrixserverlib.RespMissingEvents{
		Events: rawJSONOf(missing),
	}}
}
