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

// Package consumers feeds syncapi/storage from the roomserver's output
// stream, the same NATS subject federationapi/consumers.RoomEventConsumer
// reads, grounded on the same
// other_examples/6f9a4105_ike20013-dendrite__federationapi-consumers-keychange.go.go
// constructor/onMessage shape: a durable pull-consumer whose handler
// type-switches on api.OutputEvent.Type.
package consumers

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/EdGeraghty/FERRETCANNON-sub006/internal/jetstream"
	rsapi "github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/api"
	"github.com/EdGeraghty/FERRETCANNON-sub006/syncapi/notifier"
	"github.com/EdGeraghty/FERRETCANNON-sub006/syncapi/storage"
)

// RoomEventConsumer keeps syncapi/storage current with the roomserver's
// output stream and wakes blocked GET /sync calls as new positions land.
type RoomEventConsumer struct {
	ctx      context.Context
	js       nats.JetStreamContext
	durable  string
	topic    string
	store    *storage.Storage
	notifier *notifier.Notifier
}

// NewRoomEventConsumer constructs a RoomEventConsumer. topic and durable are
// pre-namespaced by the caller (config.JetStream.Prefixed/.Durable), the
// same convention roomserver/internal/input.NewInputer and
// federationapi/consumers.NewRoomEventConsumer follow.
func NewRoomEventConsumer(ctx context.Context, js nats.JetStreamContext, topic, durable string, store *storage.Storage, n *notifier.Notifier) *RoomEventConsumer {
	return &RoomEventConsumer{ctx: ctx, js: js, durable: durable, topic: topic, store: store, notifier: n}
}

// Start begins consuming. Non-blocking; the underlying fetch loop runs on
// its own goroutine.
func (c *RoomEventConsumer) Start() error {
	return jetstream.Consumer(c.ctx, c.js, c.topic, c.durable, 1, c.onMessage, nats.DeliverAll())
}

func (c *RoomEventConsumer) onMessage(ctx context.Context, msgs []*nats.Msg) bool {
	for _, msg := range msgs {
		var output rsapi.OutputEvent
		if err := json.Unmarshal(msg.Data, &output); err != nil {
			logrus.WithError(err).Warn("syncapi: discarding unparsable output event")
			continue
		}
		switch output.Type {
		case rsapi.OutputTypeNewRoomEvent:
			c.onNewRoomEvent(output.NewRoomEvent)
		case rsapi.OutputTypeNewInviteEvent:
			c.onNewInviteEvent(output.NewInviteEvent)
		case rsapi.OutputTypeRetireInviteEvent:
			c.onRetireInviteEvent(output.RetireInviteEvent)
		}
	}
	return true
}

func (c *RoomEventConsumer) onNewRoomEvent(ev *rsapi.OutputNewRoomEvent) {
	if ev == nil {
		return
	}
	pos := c.store.NextPosition()
	c.store.AddEvent(ev.Event.RoomID(), pos, ev.Event, ev.AddsState())
	c.notifier.Broadcast()
}

func (c *RoomEventConsumer) onNewInviteEvent(ev *rsapi.OutputNewInviteEvent) {
	if ev == nil || ev.Event.StateKey() == nil {
		return
	}
	c.store.AddInvite(ev.Event.RoomID(), *ev.Event.StateKey(), ev.Event)
	c.notifier.Broadcast()
}

func (c *RoomEventConsumer) onRetireInviteEvent(ev *rsapi.OutputRetireInviteEvent) {
	if ev == nil {
		return
	}
	c.store.RetireInvite(ev.RoomID, ev.TargetUserID)
	c.notifier.Broadcast()
}
