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

// Inviter implements PerformInvite: processing a new invite, whether it
// originated locally (and needs delivering to the invitee's server) or
// arrived over federation already countersigned.
type Inviter struct {
	DB              storage.Database
	FSAPI           fedapi.FederationInternalAPI
	Inputer         api.RoomserverInputAPI
	LocalServerName gomatrixserverlib.ServerName
}

func (i *Inviter) PerformInvite(ctx context.Context, req *api.PerformInviteRequest, res *api.PerformInviteResponse) error {
	event := req.Event
	_, targetDomain, err := gomatrixserverlib.SplitID('@', *event.StateKey())
	if err != nil {
		return fmt.Errorf("perform: invalid invite target: %w", err)
	}

	if targetDomain != i.LocalServerName {
		countersigned, err := i.FSAPI.SendInvite(ctx, targetDomain, event, req.InviteRoomState)
		if err != nil {
			return fmt.Errorf("perform: delivering invite to %s: %w", targetDomain, err)
		}
		event = countersigned
	}

	var inputRes api.InputRoomEventsResponse
	i.Inputer.InputRoomEvents(ctx, &api.InputRoomEventsRequest{
		InputRoomEvents: []api.InputRoomEvent{{
			Kind:         api.KindNew,
			Event:        event,
			SendAsServer: req.SendAsServer,
		}},
	}, &inputRes)
	if inputRes.ErrMsg != "" {
		return fmt.Errorf("perform: invite rejected: %s", inputRes.ErrMsg)
	}
	return nil
}
