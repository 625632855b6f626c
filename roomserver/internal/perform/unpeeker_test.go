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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/api"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/storage"
)

// PerformUnpeek, like PerformPeek, ends in publishOutputEvent; only its one
// validation branch ahead of that call (an invalid peeking user ID) is safe
// to exercise without a live JetStream connection.

func TestPerformUnpeekRejectsInvalidUserID(t *testing.T) {
	u := NewUnpeeker(storage.NewMemoryDatabase(), nil, "")
	var res api.PerformUnpeekResponse
	err := u.PerformUnpeek(context.Background(), &api.PerformUnpeekRequest{RoomID: "!room:example.org", UserID: "not-a-user-id"}, &res)
	require.Error(t, err)
}

func TestNewUnpeekerDefaultsOutputTopic(t *testing.T) {
	u := NewUnpeeker(storage.NewMemoryDatabase(), nil, "")
	require.NotEmpty(t, u.OutputTopic)
}
