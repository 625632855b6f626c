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

// Package consumers holds the federationapi's NATS JetStream consumers: the
// bridge between the roomserver's output stream and OutgoingQueues' outbound
// fan-out. Grounded on
// other_examples/6f9a4105_ike20013-dendrite__federationapi-consumers-keychange.go.go's
// KeyChangeConsumer shape (NewXConsumer constructor, onMessage switch,
// per-update destination computation, queues.SendEvent/SendEDU at the end),
// adapted onto this module's internal/jetstream.Consumer helper rather than
// a direct nats.JetStreamContext.PullSubscribe call.
package consumers

import (
	"context"
	"encoding/json"

	"github.com/getsentry/sentry-go"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	fedapi "github.com/EdGeraghty/FERRETCANNON-sub006/federationapi/api"
	"github.com/EdGeraghty/FERRETCANNON-sub006/federationapi/queue"
	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
	"github.com/EdGeraghty/FERRETCANNON-sub006/internal/jetstream"
	rsapi "github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/api"
)

// RoomEventConsumer consumes the roomserver's OutputRoomEvent stream and
// forwards newly-accepted local events to the remote servers participating
// in the room.
type RoomEventConsumer struct {
	ctx     context.Context
	js      nats.JetStreamContext
	durable string
	topic   string
	queues  *queue.OutgoingQueues
	fsAPI   fedapi.FederationInternalAPI
}

// NewRoomEventConsumer constructs a RoomEventConsumer. topic and durable are
// expected to already be namespaced by the caller (config.JetStream.Prefixed
// / .Durable), the same convention roomserver/internal/input.NewInputer
// uses for its own output topic. Call Start to begin consuming.
func NewRoomEventConsumer(
	ctx context.Context,
	js nats.JetStreamContext,
	topic, durable string,
	queues *queue.OutgoingQueues,
	fsAPI fedapi.FederationInternalAPI,
) *RoomEventConsumer {
	return &RoomEventConsumer{
		ctx:     ctx,
		js:      js,
		durable: durable,
		topic:   topic,
		queues:  queues,
		fsAPI:   fsAPI,
	}
}

// Start begins consuming from the roomserver's output topic.
func (c *RoomEventConsumer) Start() error {
	return jetstream.Consumer(c.ctx, c.js, c.topic, c.durable, 1, c.onMessage, nats.DeliverAll())
}

func (c *RoomEventConsumer) onMessage(ctx context.Context, msgs []*nats.Msg) bool {
	msg := msgs[0]
	var output rsapi.OutputEvent
	if err := json.Unmarshal(msg.Data, &output); err != nil {
		sentry.CaptureException(err)
		logrus.WithError(err).Error("federationapi: failed to unmarshal roomserver output event")
		return true
	}
	switch output.Type {
	case rsapi.OutputTypeNewRoomEvent:
		return c.onNewRoomEvent(ctx, output.NewRoomEvent)
	case rsapi.OutputTypeNewInviteEvent:
		return c.onNewInviteEvent(ctx, output.NewInviteEvent)
	default:
		return true
	}
}

func (c *RoomEventConsumer) onNewRoomEvent(ctx context.Context, ev *rsapi.OutputNewRoomEvent) bool {
	if ev == nil || ev.SendAsServer == "" {
		return true
	}
	event := ev.Event
	logger := logrus.WithFields(logrus.Fields{
		"event_id": event.EventID(),
		"room_id":  event.RoomID(),
	})

	destinations, err := c.destinationsForRoom(ctx, event.RoomID())
	if err != nil {
		sentry.CaptureException(err)
		logger.WithError(err).Error("federationapi: failed to compute destinations for room event")
		return true
	}
	if len(destinations) == 0 {
		return true
	}
	if err := c.queues.SendEvent(ctx, event, destinations); err != nil {
		sentry.CaptureException(err)
		logger.WithError(err).Error("federationapi: failed to queue room event for delivery")
		return false
	}
	return true
}

func (c *RoomEventConsumer) onNewInviteEvent(ctx context.Context, ev *rsapi.OutputNewInviteEvent) bool {
	if ev == nil {
		return true
	}
	// Invites are fanned out to their single target server directly by the
	// /invite routing handler's countersigning step (see
	// federationapi/routing/invite.go), not by this consumer; nothing to do
	// here beyond acknowledging the message.
	return true
}

// destinationsForRoom asks the roomserver which remote servers currently
// have a joined member in roomID.
func (c *RoomEventConsumer) destinationsForRoom(ctx context.Context, roomID string) ([]gomatrixserverlib.ServerName, error) {
	req := &fedapi.QueryJoinedHostServerNamesInRoomRequest{RoomID: roomID, ExcludeSelf: true}
	res := &fedapi.QueryJoinedHostServerNamesInRoomResponse{}
	if err := c.fsAPI.QueryJoinedHostServerNamesInRoom(ctx, req, res); err != nil {
		return nil, err
	}
	return res.ServerNames, nil
}
