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

// Package producers bridges client-facing actions into the roomserver's
// input API: building, signing, and handing off the event a client "send"
// or "state" request describes. Grounded on
// other_examples/91dc1704_rbarraud-dendrite__src-github.com-matrix-org-dendrite-clientapi-writers-membership.go.go's
// producers.RoomserverProducer.SendEvents call, adapted to call
// roomserver/api.RoomserverInternalAPI directly the way this module's
// federationapi/routing does, rather than through a separate producer
// interface.
package producers

import (
	"context"
	"fmt"
	"time"

	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
	"github.com/EdGeraghty/FERRETCANNON-sub006/internal/eventutil"
	rsapi "github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/api"
)

// RoomEventProducer builds and inputs a single client-originated event.
type RoomEventProducer struct {
	RSAPI    rsapi.RoomserverInternalAPI
	Identity gomatrixserverlib.SigningIdentity
}

// SendEvent builds, signs, and inputs a new event of eventType in roomID on
// sender's behalf, returning the resulting event ID. stateKey is nil for a
// timeline message, non-nil (possibly empty) for a state event. txnID, when
// non-empty, is attached so a retried client request against the same
// transaction can be recognised downstream (roomserver/api.TransactionID).
func (p *RoomEventProducer) SendEvent(ctx context.Context, roomID, sender, eventType string, stateKey *string, content []byte, txnID string) (string, error) {
	proto := gomatrixserverlib.ProtoEvent{
		RoomID:   roomID,
		Sender:   sender,
		Type:     eventType,
		StateKey: stateKey,
		Content:  content,
	}

	var queryRes rsapi.QueryLatestEventsAndStateResponse
	event, err := eventutil.QueryAndBuildEvent(ctx, &proto, p.Identity, time.Now(), p.RSAPI, &queryRes)
	if err != nil {
		return "", fmt.Errorf("producers: building event: %w", err)
	}

	inputEvent := rsapi.InputRoomEvent{
		Kind:         rsapi.KindNew,
		Event:        *event,
		SendAsServer: string(p.Identity.ServerName),
	}
	if txnID != "" {
		inputEvent.TransactionID = &rsapi.TransactionID{TransactionID: txnID}
	}

	var inputRes rsapi.InputRoomEventsResponse
	p.RSAPI.InputRoomEvents(ctx, &rsapi.InputRoomEventsRequest{
		InputRoomEvents: []rsapi.InputRoomEvent{inputEvent},
	}, &inputRes)
	if inputRes.ErrMsg != "" {
		return "", fmt.Errorf("producers: event rejected: %s", inputRes.ErrMsg)
	}
	return event.EventID(), nil
}
