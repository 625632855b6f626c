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

	"github.com/nats-io/nats.go"

	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
	"github.com/EdGeraghty/FERRETCANNON-sub006/internal/jetstream"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/api"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/storage"
)

// Peeker implements PerformPeek: starting a read-only, non-member
// observation of a local room on a server's behalf (§4.3's supplemented
// peeking feature). Unlike join/invite/knock this never crosses federation
// itself — it's the local side of either a server peeking our room, or the
// record of us peeking someone else's (InboundPeeker and Peeker share this
// one type since both just flip a row in storage.Database's peek table).
type Peeker struct {
	DB          storage.Database
	JetStream   nats.JetStreamContext
	OutputTopic string
}

// NewPeeker constructs a Peeker, defaulting OutputTopic to
// jetstream.OutputRoomEvent like input.NewInputer does.
func NewPeeker(db storage.Database, js nats.JetStreamContext, outputTopic string) *Peeker {
	if outputTopic == "" {
		outputTopic = jetstream.OutputRoomEvent
	}
	return &Peeker{DB: db, JetStream: js, OutputTopic: outputTopic}
}

func (p *Peeker) PerformPeek(ctx context.Context, req *api.PerformPeekRequest, res *api.PerformPeekResponse) error {
	roomID, err := roomIDFromAlias(req.RoomIDOrAlias)
	if err != nil {
		return err
	}
	if _, err := p.DB.RoomInfo(ctx, roomID); err != nil {
		return fmt.Errorf("perform: cannot peek unknown room %s: %w", roomID, err)
	}

	_, domain, err := gomatrixserverlib.SplitID('@', req.UserID)
	if err != nil {
		return fmt.Errorf("perform: invalid peeking user %q: %w", req.UserID, err)
	}
	if err := p.DB.AddPeek(ctx, roomID, req.UserID, domain); err != nil {
		return fmt.Errorf("perform: AddPeek: %w", err)
	}

	if err := publishOutputEvent(p.JetStream, p.OutputTopic, roomID, api.OutputEvent{
		Type:    api.OutputTypeNewPeek,
		NewPeek: &api.OutputNewPeek{RoomID: roomID, ServerName: domain},
	}); err != nil {
		return fmt.Errorf("perform: publishing new_peek: %w", err)
	}

	res.RoomID = roomID
	return nil
}
