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

// Package eventutil is the glue between a component that wants to build a
// new room event (clientapi handling a client send, roomserver handling a
// perform.Join) and the roomserver's query API: filling in prev_events,
// auth_events, and depth, then running the result through the event builder
// and signing it. Grounded directly on dendrite's internal/eventutil package.
package eventutil

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/api"
)

// ErrRoomNoExists is returned when the room being built into doesn't exist
// in the roomserver.
var ErrRoomNoExists = errors.New("eventutil: room does not exist")

// roomQuerier is the subset of the roomserver API QueryAndBuildEvent needs;
// narrowed to ease unit testing with a fake.
type roomQuerier interface {
	QueryLatestEventsAndState(ctx context.Context, req *api.QueryLatestEventsAndStateRequest, res *api.QueryLatestEventsAndStateResponse) error
}

// QueryAndBuildEvent builds a complete, signed event from proto, asking rsAPI
// for the room's current state to fill in auth_events/prev_events/depth.
// Returns ErrRoomNoExists if the room doesn't exist.
func QueryAndBuildEvent(
	ctx context.Context,
	proto *gomatrixserverlib.ProtoEvent,
	identity gomatrixserverlib.SigningIdentity,
	evTime time.Time,
	rsAPI roomQuerier,
	queryRes *api.QueryLatestEventsAndStateResponse,
) (*gomatrixserverlib.HeaderedEvent, error) {
	if queryRes == nil {
		queryRes = &api.QueryLatestEventsAndStateResponse{}
	}
	eventsNeeded, err := queryRequiredEventsForBuilder(ctx, proto, rsAPI, queryRes)
	if err != nil {
		return nil, err
	}
	return BuildEvent(proto, identity, evTime, eventsNeeded, queryRes)
}

// BuildEvent finishes a proto-event already populated with the state it
// needs, signs it, and wraps it as a HeaderedEvent.
func BuildEvent(
	proto *gomatrixserverlib.ProtoEvent,
	identity gomatrixserverlib.SigningIdentity,
	evTime time.Time,
	eventsNeeded *gomatrixserverlib.StateNeeded,
	queryRes *api.QueryLatestEventsAndStateResponse,
) (*gomatrixserverlib.HeaderedEvent, error) {
	if err := addPrevEventsToEvent(proto, eventsNeeded, queryRes); err != nil {
		return nil, err
	}
	builder := gomatrixserverlib.EventBuilder{
		ProtoEvent:  *proto,
		RoomVersion: queryRes.RoomVersion,
	}
	ev, err := builder.Build(evTime, identity.ServerName, identity.KeyID, identity.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("eventutil: building event: %w", err)
	}
	headered := ev.Headered(queryRes.RoomVersion)
	return &headered, nil
}

// PopulateProtoEvent fills proto's depth, auth_events and prev_events from
// the room's current state without signing it, the shape an inbound
// make_join/make_knock handler hands back to the requesting server so it
// can sign the event itself. Returns ErrRoomNoExists if the room doesn't
// exist locally.
func PopulateProtoEvent(
	ctx context.Context,
	proto *gomatrixserverlib.ProtoEvent,
	rsAPI roomQuerier,
) (*api.QueryLatestEventsAndStateResponse, error) {
	var queryRes api.QueryLatestEventsAndStateResponse
	eventsNeeded, err := queryRequiredEventsForBuilder(ctx, proto, rsAPI, &queryRes)
	if err != nil {
		return nil, err
	}
	if err := addPrevEventsToEvent(proto, eventsNeeded, &queryRes); err != nil {
		return nil, err
	}
	return &queryRes, nil
}

func queryRequiredEventsForBuilder(
	ctx context.Context,
	proto *gomatrixserverlib.ProtoEvent,
	rsAPI roomQuerier,
	queryRes *api.QueryLatestEventsAndStateResponse,
) (*gomatrixserverlib.StateNeeded, error) {
	eventsNeeded, err := gomatrixserverlib.StateNeededForProtoEvent(proto)
	if err != nil {
		return nil, fmt.Errorf("eventutil: StateNeededForProtoEvent: %w", err)
	}
	if len(eventsNeeded.Tuples()) == 0 {
		return nil, errors.New("eventutil: expecting state tuples for event builder, got none")
	}
	queryReq := api.QueryLatestEventsAndStateRequest{
		RoomID:       proto.RoomID,
		StateToFetch: eventsNeeded.Tuples(),
	}
	if err := rsAPI.QueryLatestEventsAndState(ctx, &queryReq, queryRes); err != nil {
		return nil, err
	}
	return &eventsNeeded, nil
}

// addPrevEventsToEvent fills proto's Depth, AuthEvents, and PrevEvents from
// the room's current state.
func addPrevEventsToEvent(
	proto *gomatrixserverlib.ProtoEvent,
	eventsNeeded *gomatrixserverlib.StateNeeded,
	queryRes *api.QueryLatestEventsAndStateResponse,
) error {
	if !queryRes.RoomExists {
		return ErrRoomNoExists
	}
	proto.Depth = queryRes.Depth + 1

	authEvents, err := gomatrixserverlib.NewAuthEvents(nil)
	if err != nil {
		return fmt.Errorf("eventutil: NewAuthEvents: %w", err)
	}
	for i := range queryRes.StateEvents {
		if err := authEvents.AddEvent(&queryRes.StateEvents[i].Event); err != nil {
			return fmt.Errorf("eventutil: authEvents.AddEvent: %w", err)
		}
	}

	refs, err := eventsNeeded.AuthEventReferences(authEvents)
	if err != nil {
		return fmt.Errorf("eventutil: AuthEventReferences: %w", err)
	}

	proto.AuthEvents, proto.PrevEvents = truncateAuthAndPrevEvents(refs, queryRes.LatestEvents)
	return nil
}

// truncateAuthAndPrevEvents caps the number of IDs placed into an event's
// auth_events/prev_events so the event stays small enough that other
// implementations won't reject it outright.
// NOTSPEC: the limits are arbitrary; see matrix-doc issue #2307.
func truncateAuthAndPrevEvents(auth, prev []string) (truncAuth, truncPrev []string) {
	truncAuth, truncPrev = auth, prev
	if len(truncAuth) > 10 {
		truncAuth = truncAuth[:10]
	}
	if len(truncPrev) > 20 {
		truncPrev = truncPrev[:20]
	}
	return
}

// RedactEvent redacts redactedEvent in place and stamps its unsigned field,
// called by downstream components when the roomserver emits an
// OutputTypeRedactedEvent.
func RedactEvent(redactionEvent, redactedEvent *gomatrixserverlib.Event) error {
	if redactionEvent.Type() != "m.room.redaction" {
		return fmt.Errorf("eventutil: RedactEvent: redactionEvent isn't a redaction event, is %q", redactionEvent.Type())
	}
	redacted, err := redactedEvent.Redact()
	if err != nil {
		return err
	}
	if redacted, err = redacted.SetUnsignedField("redacted_because", redactionEvent); err != nil {
		return err
	}
	// NOTSPEC: some client test suites rely on this unspecced field existing.
	if redacted, err = redacted.SetUnsignedField("redacted_by", redactionEvent.EventID()); err != nil {
		return err
	}
	*redactedEvent = redacted
	return nil
}
