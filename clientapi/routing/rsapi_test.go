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

package routing

import (
	"context"

	rsapi "github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/api"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/internal/query"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/storage"
)

// fakeRoutingRSAPI satisfies rsapi.RoomserverInternalAPI for the handlers in
// this package. It embeds a real *query.Queryer (so eventutil's prev/auth
// event resolution runs for real against an in-memory room) plus nil
// RoomserverInputAPI/RoomserverPerformAPI values to satisfy the rest of the
// interface statically; tests override only the Perform methods they
// exercise by defining them directly on the struct, which Go resolves ahead
// of the promoted (and unused) embedded-interface versions.
type fakeRoutingRSAPI struct {
	*query.Queryer
	rsapi.RoomserverInputAPI
	rsapi.RoomserverPerformAPI

	createRoomFn      func(ctx context.Context, req *rsapi.PerformCreateRoomRequest, res *rsapi.PerformCreateRoomResponse) error
	performJoinFn     func(ctx context.Context, req *rsapi.PerformJoinRequest, res *rsapi.PerformJoinResponse) error
	performLeaveFn    func(ctx context.Context, req *rsapi.PerformLeaveRequest, res *rsapi.PerformLeaveResponse) error
	performInviteFn   func(ctx context.Context, req *rsapi.PerformInviteRequest, res *rsapi.PerformInviteResponse) error
	inputRoomEventsFn func(ctx context.Context, req *rsapi.InputRoomEventsRequest, res *rsapi.InputRoomEventsResponse)
}

func (f *fakeRoutingRSAPI) InputRoomEvents(ctx context.Context, req *rsapi.InputRoomEventsRequest, res *rsapi.InputRoomEventsResponse) {
	f.inputRoomEventsFn(ctx, req, res)
}

func (f *fakeRoutingRSAPI) PerformCreateRoom(ctx context.Context, req *rsapi.PerformCreateRoomRequest, res *rsapi.PerformCreateRoomResponse) error {
	return f.createRoomFn(ctx, req, res)
}

func (f *fakeRoutingRSAPI) PerformJoin(ctx context.Context, req *rsapi.PerformJoinRequest, res *rsapi.PerformJoinResponse) error {
	return f.performJoinFn(ctx, req, res)
}

func (f *fakeRoutingRSAPI) PerformLeave(ctx context.Context, req *rsapi.PerformLeaveRequest, res *rsapi.PerformLeaveResponse) error {
	return f.performLeaveFn(ctx, req, res)
}

func (f *fakeRoutingRSAPI) PerformInvite(ctx context.Context, req *rsapi.PerformInviteRequest, res *rsapi.PerformInviteResponse) error {
	return f.performInviteFn(ctx, req, res)
}

func newFakeRoutingRSAPI(db storage.Database) *fakeRoutingRSAPI {
	return &fakeRoutingRSAPI{Queryer: query.NewQueryer(db)}
}
