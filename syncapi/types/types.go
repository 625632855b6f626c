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

// Package types holds the position/token types syncapi's streams and
// notifier are built around. Grounded on
// other_examples/517faf6d_element-hq-dendrite__syncapi-types-v4types.go.go's
// StreamingToken/position shape, narrowed to the single PDU stream this
// module tracks (no separate typing/receipt/account-data streams exist).
package types

import (
	"fmt"
	"strconv"
	"strings"
)

// StreamPosition is a strictly increasing counter over every OutputNewRoomEvent
// the roomserver has published, the event-count analogue of dendrite's log
// offset. Invite events are recorded without taking a position.
type StreamPosition int64

// StreamingToken is the "since"/"next_batch" value handed to and returned
// from GET /sync. Serializes as "s<position>", the same "s"-prefixed shape
// dendrite's sync tokens use, without the additional stream kinds (typing,
// receipt, account data, …) this module doesn't track yet.
type StreamingToken struct {
	PDUPosition StreamPosition
}

func (t StreamingToken) String() string {
	return fmt.Sprintf("s%d", t.PDUPosition)
}

// IsAfter reports whether t is strictly ahead of other.
func (t StreamingToken) IsAfter(other StreamingToken) bool {
	return t.PDUPosition > other.PDUPosition
}

// NewStreamTokenFromString parses a token previously produced by String.
// An empty string is treated as the zero token (an initial sync).
func NewStreamTokenFromString(s string) (StreamingToken, error) {
	if s == "" {
		return StreamingToken{}, nil
	}
	if !strings.HasPrefix(s, "s") {
		return StreamingToken{}, fmt.Errorf("types: malformed sync token %q", s)
	}
	pos, err := strconv.ParseInt(strings.TrimPrefix(s, "s"), 10, 64)
	if err != nil {
		return StreamingToken{}, fmt.Errorf("types: malformed sync token %q: %w", s, err)
	}
	return StreamingToken{PDUPosition: StreamPosition(pos)}, nil
}
