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

// Package perform implements the roomserver's orchestration surface: the
// multi-step membership and history operations (join, invite, leave, knock,
// peek, unpeek, forget, backfill) that need more than a single state
// read/write, each of which drives the federation handshake described in
// spec.md §4.7 before feeding the result back through the input pipeline.
// Grounded on the teacher's roomserver/internal/perform package layout (one
// type per operation, composed into the full RoomserverInternalAPI by
// roomserver/internal/api.go) with dendrite's own NID-indexed guts replaced
// by this module's string-keyed roomserver/storage.Database throughout.
package perform

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/EdGeraghty/FERRETCANNON-sub006/internal/jetstream"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/api"
)

// roomIDFromAlias rejects room aliases outright: resolving a `#alias:server`
// to a room ID is the directory's job (clientapi's room directory /
// federation's query/directory), which must run before calling into any
// performer here. Performers only ever see room IDs.
func roomIDFromAlias(roomIDOrAlias string) (string, error) {
	if strings.HasPrefix(roomIDOrAlias, "!") {
		return roomIDOrAlias, nil
	}
	return "", fmt.Errorf("perform: %q is not a room ID; resolve aliases before calling perform", roomIDOrAlias)
}

func marshalContent(content map[string]interface{}) (json.RawMessage, error) {
	b, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("perform: marshalling content: %w", err)
	}
	return b, nil
}

func unmarshalContent(raw json.RawMessage, content *map[string]interface{}) error {
	return json.Unmarshal(raw, content)
}

// publishOutputEvent is the peek/unpeek performers' equivalent of
// input.Inputer.WriteOutputEvents: neither operation produces a room event
// of its own, so they publish straight to the output topic instead of going
// through the input pipeline.
func publishOutputEvent(js nats.JetStreamContext, outputTopic, roomID string, event api.OutputEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("perform: marshalling output event: %w", err)
	}
	return jetstream.Publish(js, outputTopic, payload, map[string]string{"room_id": roomID})
}
