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

package api

import (
	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
)

// OutputType identifies the shape of an OutputEvent published to the
// roomserver's output stream.
type OutputType string

const (
	// OutputTypeNewRoomEvent indicates the event is an OutputNewRoomEvent.
	OutputTypeNewRoomEvent OutputType = "new_room_event"
	// OutputTypeNewInviteEvent indicates the event is an OutputNewInviteEvent.
	OutputTypeNewInviteEvent OutputType = "new_invite_event"
	// OutputTypeRetireInviteEvent indicates the event is an OutputRetireInviteEvent.
	OutputTypeRetireInviteEvent OutputType = "retire_invite_event"
	// OutputTypeRedactedEvent indicates the event is an OutputRedactedEvent.
	OutputTypeRedactedEvent OutputType = "redacted_event"
	// OutputTypeNewPeek indicates a server has started peeking a room.
	OutputTypeNewPeek OutputType = "new_peek"
	// OutputTypeRetirePeek indicates a server has stopped peeking a room.
	OutputTypeRetirePeek OutputType = "retire_peek"
)

// OutputEvent is one entry published to the roomserver's NATS output subject.
// Consumers switch on Type to decide which field is populated.
type OutputEvent struct {
	Type              OutputType               `json:"type"`
	NewRoomEvent      *OutputNewRoomEvent      `json:"new_room_event,omitempty"`
	NewInviteEvent    *OutputNewInviteEvent    `json:"new_invite_event,omitempty"`
	RetireInviteEvent *OutputRetireInviteEvent `json:"retire_invite_event,omitempty"`
	RedactedEvent     *OutputRedactedEvent     `json:"redacted_event,omitempty"`
	NewPeek           *OutputNewPeek           `json:"new_peek,omitempty"`
	RetirePeek        *OutputRetirePeek        `json:"retire_peek,omitempty"`
}

// OutputNewRoomEvent is written when the roomserver accepts a new event. It
// carries enough of the state delta for downstream components (syncapi,
// federationapi's sender, the EDU bus's device-list tracker) to maintain
// their own view of current state without re-deriving it.
type OutputNewRoomEvent struct {
	Event                      gomatrixserverlib.HeaderedEvent   `json:"event"`
	Historical                 bool                              `json:"historical"`
	LatestEventIDs             []string                          `json:"latest_event_ids"`
	AddsStateEventIDs          []string                          `json:"adds_state_event_ids"`
	AddStateEvents             []gomatrixserverlib.HeaderedEvent `json:"adds_state_events"`
	RemovesStateEventIDs       []string                          `json:"removes_state_event_ids"`
	LastSentEventID            string                            `json:"last_sent_event_id"`
	StateBeforeAddsEventIDs    []string                          `json:"state_before_adds_event_ids"`
	StateBeforeRemovesEventIDs []string                          `json:"state_before_removes_event_ids"`
	// SendAsServer is the server name the federation sender should push this
	// event as, or empty if it shouldn't be pushed over federation at all.
	SendAsServer string `json:"send_as_server"`
}

// AddsState returns every added state event, folding in Event itself when its
// ID appears in AddsStateEventIDs (it is omitted from AddStateEvents to avoid
// duplicating the (usually much larger) event payload).
func (o *OutputNewRoomEvent) AddsState() []gomatrixserverlib.HeaderedEvent {
	for _, id := range o.AddsStateEventIDs {
		if id == o.Event.EventID() {
			return append(o.AddStateEvents, o.Event)
		}
	}
	return o.AddStateEvents
}

// OutputNewInviteEvent is written whenever an invite becomes active, tracked
// separately since the invited server may not otherwise be in the room.
type OutputNewInviteEvent struct {
	RoomVersion gomatrixserverlib.RoomVersion   `json:"room_version"`
	Event       gomatrixserverlib.HeaderedEvent `json:"event"`
}

// OutputRetireInviteEvent is written whenever a previously active invite
// stops being active (accepted, rejected, or superseded).
type OutputRetireInviteEvent struct {
	RoomID           string `json:"room_id"`
	EventID          string `json:"event_id"`
	TargetUserID     string `json:"target_user_id"`
	RetiredByEventID string `json:"retired_by_event_id"`
	Membership       string `json:"membership"`
}

// OutputRedactedEvent is written once a redaction has been validated (both
// the redaction and its target are known locally). Downstream components
// must redact their stored copy of RedactedEventID on receipt.
type OutputRedactedEvent struct {
	RedactedEventID string                          `json:"redacted_event_id"`
	RedactedBecause gomatrixserverlib.HeaderedEvent `json:"redacted_because"`
}

// OutputNewPeek is written when a remote server starts peeking a room (§4.3's
// supplemented peeking feature), so the federation sender knows to include
// that server in the room's event fan-out despite it having no membership.
type OutputNewPeek struct {
	RoomID     string                  `json:"room_id"`
	ServerName gomatrixserverlib.ServerName `json:"server_name"`
}

// OutputRetirePeek is written when a peek ends.
type OutputRetirePeek struct {
	RoomID     string                  `json:"room_id"`
	ServerName gomatrixserverlib.ServerName `json:"server_name"`
}

// TransactionID identifies the client-supplied transaction a locally created
// event originated from, so clientapi can deduplicate retried sends.
type TransactionID struct {
	SessionID    int64  `json:"session_id"`
	TransactionID string `json:"id"`
}
