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

	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/api"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/storage"
)

// Forgetter implements PerformForget: local bookkeeping marking a room as
// forgotten for a user who has already left it, layered on top of leave per
// spec.md's room lifecycle.
type Forgetter struct {
	DB storage.Database
}

func (f *Forgetter) PerformForget(ctx context.Context, req *api.PerformForgetRequest, res *api.PerformForgetResponse) error {
	membership, ok, err := f.DB.MembershipForUser(ctx, req.RoomID, req.UserID)
	if err != nil {
		return fmt.Errorf("perform: MembershipForUser: %w", err)
	}
	if ok && (membership == "join" || membership == "invite" || membership == "knock") {
		return fmt.Errorf("perform: cannot forget %s in room %s while membership is %q", req.UserID, req.RoomID, membership)
	}
	return f.DB.SetForgotten(ctx, req.UserID, req.RoomID, true)
}
