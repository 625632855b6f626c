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

// Package input implements the roomserver's write side: accepting new,
// outlier, and backfilled events and feeding them through auth checking,
// state resolution, and forward-extremity bookkeeping before publishing the
// result on the internal output bus. Grounded on the teacher's
// roomserver/internal/input package, adapted from its NID-indexed,
// Kafka-backed pipeline onto this module's string-keyed
// roomserver/storage.Database and NATS JetStream output bus.
package input

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
	"github.com/EdGeraghty/FERRETCANNON-sub006/internal"
	"github.com/EdGeraghty/FERRETCANNON-sub006/internal/jetstream"
	fedapi "github.com/EdGeraghty/FERRETCANNON-sub006/federationapi/api"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/acls"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/api"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/storage"
)

// Inputer implements api.RoomserverInputAPI.
type Inputer struct {
	DB              storage.Database
	FSAPI           fedapi.FederationInternalAPI
	JetStream       nats.JetStreamContext
	OutputTopic     string
	LocalServerName gomatrixserverlib.ServerName
	// ACLs, if set, causes events originating from a server banned by a
	// room's m.room.server_acl to be rejected outright, and is updated
	// whenever such an event is itself accepted. Left nil, no ACL
	// enforcement happens — used by tests that don't need it.
	ACLs *acls.ServerACLs

	roomMu *internal.MutexByRoom
}

var _ api.RoomserverInputAPI = (*Inputer)(nil)

// NewInputer constructs an Inputer. outputTopic is the JetStream subject
// (usually jetstream.OutputRoomEvent) events are published on after
// acceptance.
func NewInputer(db storage.Database, fsAPI fedapi.FederationInternalAPI, js nats.JetStreamContext, outputTopic string, localServerName gomatrixserverlib.ServerName) *Inputer {
	if outputTopic == "" {
		outputTopic = jetstream.OutputRoomEvent
	}
	return &Inputer{
		DB:              db,
		FSAPI:           fsAPI,
		JetStream:       js,
		OutputTopic:     outputTopic,
		LocalServerName: localServerName,
		roomMu:          internal.NewMutexByRoom(),
	}
}

// InputRoomEvents processes every event in req in order, recording the first
// failure (if any) in res. Per-room processing is serialized by roomMu so
// that concurrent InputRoomEvents calls touching the same room can't race on
// its forward extremities; unrelated rooms proceed concurrently.
func (r *Inputer) InputRoomEvents(ctx context.Context, req *api.InputRoomEventsRequest, res *api.InputRoomEventsResponse) {
	for i := range req.InputRoomEvents {
		ire := &req.InputRoomEvents[i]
		roomID := ire.Event.RoomID()
		r.roomMu.Lock(roomID)
		err := r.processRoomEvent(ctx, ire)
		r.roomMu.Unlock(roomID)
		if err != nil {
			if res.ErrMsg == "" {
				res.ErrMsg = err.Error()
			}
			res.NotAllowed = true
			if !req.Asynchronous {
				return
			}
		}
	}
}

// WriteOutputEvents publishes events for roomID to the configured output
// subject, one JetStream message per event.
func (r *Inputer) WriteOutputEvents(roomID string, events []api.OutputEvent) error {
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("input: marshalling output event: %w", err)
		}
		if err := jetstream.Publish(r.JetStream, r.OutputTopic, payload, map[string]string{"room_id": roomID}); err != nil {
			return fmt.Errorf("input: publishing output event: %w", err)
		}
	}
	return nil
}

func (r *Inputer) logger() *logrus.Entry {
	return logrus.WithField("component", "roomserver/input")
}
