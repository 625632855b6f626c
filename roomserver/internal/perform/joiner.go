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
	"encoding/json"
	"fmt"
	"time"

	fedapi "github.com/EdGeraghty/FERRETCANNON-sub006/federationapi/api"
	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
	"github.com/EdGeraghty/FERRETCANNON-sub006/internal/eventutil"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/api"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/internal/helpers"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/storage"
)

// Joiner implements PerformJoin: joining a user to a room that's either
// already known locally, or has to be joined via the make_join/send_join
// federation handshake (spec.md §4.7).
type Joiner struct {
	DB              storage.Database
	FSAPI           fedapi.FederationInternalAPI
	Inputer         api.RoomserverInputAPI
	Queryer         api.RoomserverQueryAPI
	Identity        gomatrixserverlib.SigningIdentity
	LocalServerName gomatrixserverlib.ServerName
}

func (j *Joiner) PerformJoin(ctx context.Context, req *api.PerformJoinRequest, res *api.PerformJoinResponse) error {
	roomID, err := roomIDFromAlias(req.RoomIDOrAlias)
	if err != nil {
		return err
	}

	_, err = j.DB.RoomInfo(ctx, roomID)
	switch err {
	case nil:
		return j.performLocalJoin(ctx, roomID, req, res)
	case storage.ErrRoomNotFound:
		return j.performRemoteJoin(ctx, roomID, req, res)
	default:
		return fmt.Errorf("perform: RoomInfo: %w", err)
	}
}

// performLocalJoin builds and signs the join event ourselves, the room's
// existing state supplying everything the event builder needs.
func (j *Joiner) performLocalJoin(ctx context.Context, roomID string, req *api.PerformJoinRequest, res *api.PerformJoinResponse) error {
	content := map[string]interface{}{"membership": "join"}
	for k, v := range req.Content {
		content[k] = v
	}
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("perform: marshalling join content: %w", err)
	}

	stateKey := req.UserID
	proto := gomatrixserverlib.ProtoEvent{
		RoomID:   roomID,
		Sender:   req.UserID,
		Type:     "m.room.member",
		StateKey: &stateKey,
		Content:  contentJSON,
	}

	var queryRes api.QueryLatestEventsAndStateResponse
	event, err := eventutil.QueryAndBuildEvent(ctx, &proto, j.Identity, time.Now(), j.Queryer, &queryRes)
	if err != nil {
		return fmt.Errorf("perform: building join event: %w", err)
	}

	var inputRes api.InputRoomEventsResponse
	j.Inputer.InputRoomEvents(ctx, &api.InputRoomEventsRequest{
		InputRoomEvents: []api.InputRoomEvent{{Kind: api.KindNew, Event: *event}},
	}, &inputRes)
	if inputRes.ErrMsg != "" {
		return fmt.Errorf("perform: join rejected: %s", inputRes.ErrMsg)
	}

	res.RoomID = roomID
	res.JoinedVia = j.LocalServerName
	return nil
}

// performRemoteJoin runs make_join/send_join against each candidate server
// in turn until one succeeds, seeding our local event store from the reply.
func (j *Joiner) performRemoteJoin(ctx context.Context, roomID string, req *api.PerformJoinRequest, res *api.PerformJoinResponse) error {
	var lastErr error
	for _, destination := range req.ServerNames {
		joinedVia, err := j.joinViaServer(ctx, roomID, destination, req)
		if err != nil {
			lastErr = err
			continue
		}
		res.RoomID = roomID
		res.JoinedVia = joinedVia
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("perform: no server names offered to join %s via", roomID)
	}
	return fmt.Errorf("perform: remote join failed: %w", lastErr)
}

func (j *Joiner) joinViaServer(ctx context.Context, roomID string, destination gomatrixserverlib.ServerName, req *api.PerformJoinRequest) (gomatrixserverlib.ServerName, error) {
	madeJoin, err := j.FSAPI.MakeJoin(ctx, destination, roomID, req.UserID)
	if err != nil {
		return "", fmt.Errorf("make_join via %s: %w", destination, err)
	}

	proto := madeJoin.Event
	if len(req.Content) > 0 {
		content := map[string]interface{}{}
		if err := json.Unmarshal(proto.Content, &content); err != nil {
			return "", fmt.Errorf("decoding make_join template content: %w", err)
		}
		for k, v := range req.Content {
			content[k] = v
		}
		if proto.Content, err = json.Marshal(content); err != nil {
			return "", fmt.Errorf("re-encoding join content: %w", err)
		}
	}

	builder := gomatrixserverlib.EventBuilder{ProtoEvent: proto, RoomVersion: madeJoin.RoomVersion}
	signedEvent, err := builder.Build(time.Now(), j.Identity.ServerName, j.Identity.KeyID, j.Identity.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("signing join event: %w", err)
	}
	headered := signedEvent.Headered(madeJoin.RoomVersion)

	sendJoinResp, err := j.FSAPI.SendJoin(ctx, destination, headered)
	if err != nil {
		return "", fmt.Errorf("send_join via %s: %w", destination, err)
	}

	if err := j.DB.CreateRoomInfo(ctx, roomID, madeJoin.RoomVersion); err != nil {
		return "", fmt.Errorf("registering room: %w", err)
	}

	stateEventIDs, err := seedRoomFromSendJoin(ctx, j.DB, j.Inputer, madeJoin.RoomVersion, destination, sendJoinResp.RespState)
	if err != nil {
		return "", err
	}

	var inputRes api.InputRoomEventsResponse
	j.Inputer.InputRoomEvents(ctx, &api.InputRoomEventsRequest{
		InputRoomEvents: []api.InputRoomEvent{{
			Kind:          api.KindNew,
			Event:         headered,
			Origin:        destination,
			HasState:      true,
			StateEventIDs: stateEventIDs,
		}},
	}, &inputRes)
	if inputRes.ErrMsg != "" {
		return "", fmt.Errorf("join event rejected: %s", inputRes.ErrMsg)
	}

	return destination, nil
}

// seedRoomFromSendJoin stores a send_join reply's auth chain and state as
// outliers (each already known to the remote server, so they arrive
// out-of-band of our own event graph) and returns the resulting state event
// IDs for the caller to pass as the join event's explicit state. Since
// outliers skip the input pipeline's own state-group bookkeeping, membership
// rows for the room's existing members are recorded directly here instead.
func seedRoomFromSendJoin(ctx context.Context, db storage.Database, inputer api.RoomserverInputAPI, roomVersion gomatrixserverlib.RoomVersion, origin gomatrixserverlib.ServerName, state gomatrixserverlib.RespState) ([]string, error) {
	authChain, err := parseRawEvents(state.AuthEvents, roomVersion)
	if err != nil {
		return nil, fmt.Errorf("parsing auth chain: %w", err)
	}
	stateEvents, err := parseRawEvents(state.StateEvents, roomVersion)
	if err != nil {
		return nil, fmt.Errorf("parsing state events: %w", err)
	}
	ordered := gomatrixserverlib.ReverseTopologicalOrdering(append(append([]gomatrixserverlib.Event{}, authChain...), stateEvents...), gomatrixserverlib.TopologicalOrderByAuthEvents)

	outliers := make([]api.InputRoomEvent, 0, len(ordered))
	for i := range ordered {
		outliers = append(outliers, api.InputRoomEvent{
			Kind:   api.KindOutlier,
			Event:  ordered[i].Headered(roomVersion),
			Origin: origin,
		})
	}
	var res api.InputRoomEventsResponse
	inputer.InputRoomEvents(ctx, &api.InputRoomEventsRequest{InputRoomEvents: outliers, Asynchronous: true}, &res)

	ids := make([]string, 0, len(stateEvents))
	for _, ev := range stateEvents {
		ids = append(ids, ev.EventID())
		if err := helpers.UpdateMembership(ctx, db, ev); err != nil {
			return nil, fmt.Errorf("recording seeded membership: %w", err)
		}
	}
	return ids, nil
}

func parseRawEvents(raw []json.RawMessage, roomVersion gomatrixserverlib.RoomVersion) ([]gomatrixserverlib.Event, error) {
	out := make([]gomatrixserverlib.Event, 0, len(raw))
	for _, r := range raw {
		ev, err := gomatrixserverlib.NewEventFromUntrustedJSON(r, roomVersion)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}
