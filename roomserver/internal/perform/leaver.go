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

// Leaver implements PerformLeave: removing a user from a room, including
// rescinding a still-pending invite or knock, locally or via the
// make_leave/send_leave federation handshake when we hold no state of our
// own for the room (we were only ever invited to it).
type Leaver struct {
	DB              storage.Database
	FSAPI           fedapi.FederationInternalAPI
	Inputer         api.RoomserverInputAPI
	Queryer         api.RoomserverQueryAPI
	Identity        gomatrixserverlib.SigningIdentity
	LocalServerName gomatrixserverlib.ServerName
}

func (l *Leaver) PerformLeave(ctx context.Context, req *api.PerformLeaveRequest, res *api.PerformLeaveResponse) error {
	_, err := l.DB.RoomInfo(ctx, req.RoomID)
	if err == storage.ErrRoomNotFound {
		return l.performRemoteLeave(ctx, req)
	}
	if err != nil {
		return fmt.Errorf("perform: RoomInfo: %w", err)
	}

	stateKey := req.UserID
	proto := gomatrixserverlib.ProtoEvent{
		RoomID:   req.RoomID,
		Sender:   req.UserID,
		Type:     "m.room.member",
		StateKey: &stateKey,
		Content:  []byte(`{"membership":"leave"}`),
	}

	var queryRes api.QueryLatestEventsAndStateResponse
	event, err := eventutil.QueryAndBuildEvent(ctx, &proto, l.Identity, time.Now(), l.Queryer, &queryRes)
	if err != nil {
		return fmt.Errorf("perform: building leave event: %w", err)
	}

	var inputRes api.InputRoomEventsResponse
	l.Inputer.InputRoomEvents(ctx, &api.InputRoomEventsRequest{
		InputRoomEvents: []api.InputRoomEvent{{Kind: api.KindNew, Event: *event}},
	}, &inputRes)
	if inputRes.ErrMsg != "" {
		return fmt.Errorf("perform: leave rejected: %s", inputRes.ErrMsg)
	}
	return nil
}

// performRemoteLeave handles rejecting an invite to a room we never joined
// (so hold no state for): run make_leave/send_leave against the server that
// invited us instead of building the event ourselves.
func (l *Leaver) performRemoteLeave(ctx context.Context, req *api.PerformLeaveRequest) error {
	_, destination, err := gomatrixserverlib.SplitID('!', req.RoomID)
	if err != nil || destination == "" {
		return fmt.Errorf("perform: cannot determine origin server for unjoined room %s: reject requires an inviting server", req.RoomID)
	}

	madeLeave, err := l.FSAPI.MakeLeave(ctx, destination, req.RoomID, req.UserID)
	if err != nil {
		return fmt.Errorf("perform: make_leave via %s: %w", destination, err)
	}

	builder := gomatrixserverlib.EventBuilder{ProtoEvent: madeLeave.Event, RoomVersion: madeLeave.RoomVersion}
	signed, err := builder.Build(time.Now(), l.Identity.ServerName, l.Identity.KeyID, l.Identity.PrivateKey)
	if err != nil {
		return fmt.Errorf("perform: signing leave event: %w", err)
	}

	return l.FSAPI.SendLeave(ctx, destination, signed.Headered(madeLeave.RoomVersion))
}
