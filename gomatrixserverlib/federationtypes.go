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

package gomatrixserverlib

import "encoding/json"

// Transaction is the body of a PUT /_matrix/federation/v1/send/{txnId}
// request: a batch of PDUs and EDUs pushed by one server to another (§4.7).
type Transaction struct {
	TransactionID          string            `json:"-"`
	Origin                 ServerName        `json:"origin"`
	OriginServerTS         int64             `json:"origin_server_ts"`
	PreviousIDs            []string          `json:"previous_ids,omitempty"`
	PDUs                   []json.RawMessage `json:"pdus"`
	EDUs                   []EDU             `json:"edus,omitempty"`
}

// EDU is one ephemeral data unit: typing, receipts, presence, device list
// updates, or to-device messages (§4.11). Content is left as raw JSON since
// its shape is EDUType-specific.
type EDU struct {
	Type    string          `json:"edu_type"`
	Origin  ServerName      `json:"origin,omitempty"`
	Content json.RawMessage `json:"content"`
}

// PDUResult is one entry of a /send response's pdus map: the per-event
// outcome of processing a transaction, keyed by event ID by the caller.
type PDUResult struct {
	Error string `json:"error,omitempty"`
}

// RespSend is the response body of PUT /_matrix/federation/v1/send/{txnId}.
type RespSend struct {
	PDUs map[string]PDUResult `json:"pdus"`
}

// RespState is the response body of GET /_matrix/federation/v1/state/{roomId}.
type RespState struct {
	AuthEvents []json.RawMessage `json:"auth_chain"`
	StateEvents []json.RawMessage `json:"pdus"`
}

// RespStateIDs is the response body of
// GET /_matrix/federation/v1/state_ids/{roomId}.
type RespStateIDs struct {
	AuthEventIDs  []string `json:"auth_chain_ids"`
	StateEventIDs []string `json:"pdu_ids"`
}

// RespMissingEvents is the response body of
// POST /_matrix/federation/v1/get_missing_events/{roomId}.
type RespMissingEvents struct {
	Events []json.RawMessage `json:"events"`
}

// MissingEventsRequest is the request body sent to get_missing_events.
type MissingEventsRequest struct {
	EarliestEvents []string `json:"earliest_events"`
	LatestEvents   []string `json:"latest_events"`
	Limit          int      `json:"limit"`
	MinDepth       int64    `json:"min_depth"`
}

// RespMakeJoin is the response body of
// GET /_matrix/federation/v1/make_join/{roomId}/{userId}.
type RespMakeJoin struct {
	Event       ProtoEvent `json:"event"`
	RoomVersion RoomVersion `json:"room_version"`
}

// RespSendJoin is the response body of
// PUT /_matrix/federation/v2/send_join/{roomId}/{eventId}.
type RespSendJoin struct {
	RespState
	Origin ServerName `json:"origin"`
}

// RespMakeLeave is the response body of
// GET /_matrix/federation/v1/make_leave/{roomId}/{userId}.
type RespMakeLeave struct {
	Event       ProtoEvent  `json:"event"`
	RoomVersion RoomVersion `json:"room_version"`
}

// InviteV2Request is the request body of
// PUT /_matrix/federation/v2/invite/{roomId}/{eventId}.
type InviteV2Request struct {
	Event           json.RawMessage         `json:"event"`
	RoomVersion     RoomVersion             `json:"room_version"`
	InviteRoomState []InviteV2StrippedState `json:"invite_room_state,omitempty"`
}

// InviteV2StrippedState is one stripped state event included in an invite so
// the invitee's client can render the room before joining.
type InviteV2StrippedState struct {
	Content  json.RawMessage `json:"content"`
	StateKey string          `json:"state_key"`
	Type     string          `json:"type"`
	Sender   string          `json:"sender"`
}

// RespMakeKnock is the response body of
// GET /_matrix/federation/v1/make_knock/{roomId}/{userId}.
type RespMakeKnock struct {
	Event       ProtoEvent  `json:"event"`
	RoomVersion RoomVersion `json:"room_version"`
}

// RespSendKnock is the response body of
// PUT /_matrix/federation/v1/send_knock/{roomId}/{eventId}.
type RespSendKnock struct {
	KnockRoomState []InviteV2StrippedState `json:"knock_room_state"`
}

// RespQueryDirectory is the response body of
// GET /_matrix/federation/v1/query/directory.
type RespQueryDirectory struct {
	RoomID  string       `json:"room_id"`
	Servers []ServerName `json:"servers"`
}

// RespVersion is the response body of GET /_matrix/federation/v1/version.
type RespVersion struct {
	Server struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"server"`
}
