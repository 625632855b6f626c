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

// Unpeeker implements PerformUnpeek: ending a previously started peek.
type Unpeeker struct {
	DB          storage.Database
	JetStream   nats.JetStreamContext
	OutputTopic string
}

// NewUnpeeker constructs an Unpeeker, defaulting OutputTopic like NewPeeker.
func NewUnpeeker(db storage.Database, js nats.JetStreamContext, outputTopic string) *Unpeeker {
	if outputTopic == "" {
		outputTopic = jetstream.OutputRoomEvent
	}
	return &Unpeeker{DB: db, JetStream: js, OutputTopic: outputTopic}
}

func (u *Unpeeker) PerformUnpeek(ctx context.Context, req *api.PerformUnpeekRequest, res *api.PerformUnpeekResponse) error {
	_, domain, err := gomatrixserverlib.SplitID('@', req.UserID)
	if err != nil {
		return fmt.Errorf("perform: invalid peeking user %q: %w", req.UserID, err)
	}
	if err := u.DB.DeletePeek(ctx, req.RoomID, req.UserID); err != nil {
		return fmt.Errorf("perform: DeletePeek: %w", err)
	}

	return publishOutputEvent(u.JetStream, u.OutputTopic, req.RoomID, api.OutputEvent{
		Type:       api.OutputTypeRetirePeek,
		RetirePeek: &api.OutputRetirePeek{RoomID: req.RoomID, ServerName: domain},
	})
}
