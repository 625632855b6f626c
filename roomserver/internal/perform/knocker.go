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
	"time"

	fedapi "github.com/EdGeraghty/FERRETCANNON-sub006/federationapi/api"
	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
	"github.com/EdGeraghty/FERRETCANNON-sub006/internal/eventutil"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/api"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/storage"
)

// Knocker implements PerformKnock: the make_knock/send_knock handshake
// (spec.md §4.7) for a room we don't belong to, or a plain local knock event
// for a room we already know.
type Knocker struct {
	DB              storage.Database
	FSAPI           fedapi.FederationInternalAPI
	Inputer         api.RoomserverInputAPI
	Queryer         api.RoomserverQueryAPI
	Identity        gomatrixserverlib.SigningIdentity
	LocalServerName gomatrixserverlib.ServerName
}

func (k *Knocker) PerformKnock(ctx context.Context, req *api.PerformKnockRequest, res *api.PerformKnockResponse) error {
	roomID, err := roomIDFromAlias(req.RoomIDOrAlias)
	if err != nil {
		return err
	}

	_, err = k.DB.RoomInfo(ctx, roomID)
	switch err {
	case nil:
		return k.performLocalKnock(ctx, roomID, req, res)
	case storage.ErrRoomNotFound:
		return k.performRemoteKnock(ctx, roomID, req, res)
	default:
		return fmt.Errorf("perform: RoomInfo: %w", err)
	}
}

func (k *Knocker) performLocalKnock(ctx context.Context, roomID string, req *api.PerformKnockRequest, res *api.PerformKnockResponse) error {
	content := map[string]interface{}{"membership": "knock"}
	if req.Reason != "" {
		content["reason"] = req.Reason
	}
	contentJSON, err := marshalContent(content)
	if err != nil {
		return err
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
	event, err := eventutil.QueryAndBuildEvent(ctx, &proto, k.Identity, time.Now(), k.Queryer, &queryRes)
	if err != nil {
		return fmt.Errorf("perform: building knock event: %w", err)
	}

	var inputRes api.InputRoomEventsResponse
	k.Inputer.InputRoomEvents(ctx, &api.InputRoomEventsRequest{
		InputRoomEvents: []api.InputRoomEvent{{Kind: api.KindNew, Event: *event}},
	}, &inputRes)
	if inputRes.ErrMsg != "" {
		return fmt.Errorf("perform: knock rejected: %s", inputRes.ErrMsg)
	}
	res.RoomID = roomID
	return nil
}

func (k *Knocker) performRemoteKnock(ctx context.Context, roomID string, req *api.PerformKnockRequest, res *api.PerformKnockResponse) error {
	var lastErr error
	for _, destination := range req.ServerNames {
		if err := k.knockViaServer(ctx, roomID, destination, req); err != nil {
			lastErr = err
			continue
		}
		res.RoomID = roomID
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("perform: no server names offered to knock on %s via", roomID)
	}
	return fmt.Errorf("perform: remote knock failed: %w", lastErr)
}

func (k *Knocker) knockViaServer(ctx context.Context, roomID string, destination gomatrixserverlib.ServerName, req *api.PerformKnockRequest) error {
	madeKnock, err := k.FSAPI.MakeKnock(ctx, destination, roomID, req.UserID)
	if err != nil {
		return fmt.Errorf("make_knock via %s: %w", destination, err)
	}

	proto := madeKnock.Event
	if req.Reason != "" {
		content := map[string]interface{}{}
		if err := unmarshalContent(proto.Content, &content); err != nil {
			return fmt.Errorf("decoding make_knock template content: %w", err)
		}
		content["reason"] = req.Reason
		if proto.Content, err = marshalContent(content); err != nil {
			return fmt.Errorf("re-encoding knock content: %w", err)
		}
	}

	builder := gomatrixserverlib.EventBuilder{ProtoEvent: proto, RoomVersion: madeKnock.RoomVersion}
	signed, err := builder.Build(time.Now(), k.Identity.ServerName, k.Identity.KeyID, k.Identity.PrivateKey)
	if err != nil {
		return fmt.Errorf("signing knock event: %w", err)
	}
	headered := signed.Headered(madeKnock.RoomVersion)

	if _, err := k.FSAPI.SendKnock(ctx, destination, headered); err != nil {
		return fmt.Errorf("send_knock via %s: %w", destination, err)
	}

	if err := k.DB.CreateRoomInfo(ctx, roomID, madeKnock.RoomVersion); err != nil {
		return fmt.Errorf("registering room: %w", err)
	}

	var inputRes api.InputRoomEventsResponse
	k.Inputer.InputRoomEvents(ctx, &api.InputRoomEventsRequest{
		InputRoomEvents: []api.InputRoomEvent{{Kind: api.KindOutlier, Event: headered, Origin: destination}},
	}, &inputRes)
	if inputRes.ErrMsg != "" {
		return fmt.Errorf("knock event rejected: %s", inputRes.ErrMsg)
	}
	return nil
}
