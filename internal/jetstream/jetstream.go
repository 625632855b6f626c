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

// Package jetstream is the internal pub/sub backbone components use instead
// of calling each other's APIs directly: output events are published to
// JetStream subjects and consumed durably by downstream components. Grounded
// on the nats.JetStreamContext / nats.DeliverAll / nats.ManualAck consumer
// construction idiom seen in the pack's federationapi/consumers packages.
package jetstream

import (
	"context"
	"fmt"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// pullTimeout bounds how long a Consumer's pull-subscription fetch blocks
// before it loops to re-check ctx.Done().
const pullTimeout = 5 * time.Second

// Subject names published on the internal bus. Components prefix these with
// the deployment's configured TopicPrefix before subscribing/publishing.
const (
	OutputRoomEvent      = "OutputRoomEvent"
	OutputClientData     = "OutputClientData"
	OutputTypingEvent    = "OutputTypingEvent"
	OutputReceiptEvent   = "OutputReceiptEvent"
	OutputSendToDeviceEvent = "OutputSendToDeviceEvent"
	OutputKeyChangeEvent = "OutputKeyChangeEvent"
	InputFederationEvent = "InputFederationEvent"
)

// Prepare connects to the given NATS addresses, or starts an embedded
// in-process server when addresses is empty, and returns a JetStreamContext
// every component publishes/subscribes through.
func Prepare(addresses []string, inMemory bool) (nats.JetStreamContext, *nats.Conn, error) {
	if inMemory || len(addresses) == 0 {
		return prepareInMemory()
	}
	nc, err := nats.Connect(addresses[0], nats.MaxReconnects(-1))
	if err != nil {
		return nil, nil, fmt.Errorf("jetstream: connecting to %q: %w", addresses[0], err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: acquiring context: %w", err)
	}
	return js, nc, nil
}

// prepareInMemory starts an embedded, in-process NATS server with JetStream
// enabled, for single-process deployments that don't want an external NATS
// dependency.
func prepareInMemory() (nats.JetStreamContext, *nats.Conn, error) {
	opts := &natsserver.Options{
		Port:      -1,
		JetStream: true,
		NoLog:     true,
		NoSigs:    true,
	}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("jetstream: starting embedded server: %w", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(10 * time.Second) {
		return nil, nil, fmt.Errorf("jetstream: embedded server did not become ready")
	}
	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		return nil, nil, fmt.Errorf("jetstream: connecting to embedded server: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: acquiring context: %w", err)
	}
	return js, nc, nil
}

// MessageHandler processes a batch of delivered messages and returns whether
// they should be acknowledged; returning false leaves them for redelivery.
type MessageHandler func(ctx context.Context, msgs []*nats.Msg) bool

// Consumer subscribes durable to subject with the given ack wait and batch
// size, invoking handler for each delivered batch and acking on success.
// Grounded on the t.jetstream.QueueSubscribe pattern used by the pack's
// keychange/typing/receipt consumers.
func Consumer(ctx context.Context, js nats.JetStreamContext, subject, durable string, batch int, handler MessageHandler, opts ...nats.SubOpt) error {
	opts = append(opts, nats.Durable(durable), nats.ManualAck())
	sub, err := js.PullSubscribe(subject, durable, opts...)
	if err != nil {
		return fmt.Errorf("jetstream: subscribing to %q: %w", subject, err)
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			msgs, err := sub.Fetch(batch, nats.MaxWait(pullTimeout))
			if err != nil {
				if err != nats.ErrTimeout {
					logrus.WithError(err).WithField("subject", subject).Warn("jetstream: fetch failed")
				}
				continue
			}
			if handler(ctx, msgs) {
				for _, m := range msgs {
					_ = m.Ack()
				}
			} else {
				for _, m := range msgs {
					_ = m.Nak()
				}
			}
		}
	}()
	return nil
}

// Publish marshals nothing itself; callers pass already-encoded payloads so
// every producer controls its own wire format (JSON, typically).
func Publish(js nats.JetStreamContext, subject string, payload []byte, headers map[string]string) error {
	msg := nats.NewMsg(subject)
	msg.Data = payload
	for k, v := range headers {
		msg.Header.Set(k, v)
	}
	_, err := js.PublishMsg(msg)
	return err
}
