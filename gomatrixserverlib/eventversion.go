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

package gomatrixserverlib

import "fmt"

// RoomVersion identifies the room version grammar a room was created with.
// https://spec.matrix.org/latest/rooms/
type RoomVersion string

// StateResAlgorithm identifies a version of the state resolution algorithm.
type StateResAlgorithm int

// EventFormat identifies the formatting of prev_events/auth_events on the
// wire: as bare event ID strings (v3+) or as [id, hash] event references
// (v1/v2).
type EventFormat int

// EventIDFormat identifies how an event ID is derived.
type EventIDFormat int

// Room version constants. These are strings, not integers, because the
// room version grammar explicitly allows for future non-numeric versions.
const (
	RoomVersionV1 RoomVersion = "1"
	RoomVersionV2 RoomVersion = "2"
	RoomVersionV3 RoomVersion = "3"
	RoomVersionV4 RoomVersion = "4"
	RoomVersionV5 RoomVersion = "5"
	RoomVersionV6 RoomVersion = "6"
	RoomVersionV9 RoomVersion = "9"
)

const (
	// EventFormatV1 carries prev_events/auth_events as [eventID, hashes] pairs.
	EventFormatV1 EventFormat = iota + 1
	// EventFormatV2 carries prev_events/auth_events as bare event ID strings.
	EventFormatV2
)

const (
	// EventIDFormatV1 derives event IDs from a random local part chosen by
	// the sending server (no relationship to event content).
	EventIDFormatV1 EventIDFormat = iota + 1
	// EventIDFormatV2 is the same shape as V1 but is additionally bound to
	// the event's reference hash through `hashes`.
	EventIDFormatV2
	// EventIDFormatV3 derives the event ID as "$" + unpadded base64url of
	// the reference hash. This is the format §4.2 of the spec describes.
	EventIDFormatV3
)

const (
	// StateResV1 is the original, deprecated resolution algorithm.
	StateResV1 StateResAlgorithm = iota + 1
	// StateResV2 is the algorithm described in §4.6: required for every room
	// version this package supports.
	StateResV2
)

// EventFormat returns the event reference format used by this room version.
func (v RoomVersion) EventFormat() (EventFormat, error) {
	switch v {
	case RoomVersionV1, RoomVersionV2:
		return EventFormatV1, nil
	case RoomVersionV3, RoomVersionV4, RoomVersionV5, RoomVersionV6, RoomVersionV9:
		return EventFormatV2, nil
	default:
		return 0, UnsupportedRoomVersionError{Version: v}
	}
}

// EventIDFormat returns how event IDs are derived in this room version.
func (v RoomVersion) EventIDFormat() (EventIDFormat, error) {
	switch v {
	case RoomVersionV1:
		return EventIDFormatV1, nil
	case RoomVersionV2:
		return EventIDFormatV2, nil
	case RoomVersionV3, RoomVersionV4, RoomVersionV5, RoomVersionV6, RoomVersionV9:
		return EventIDFormatV3, nil
	default:
		return 0, UnsupportedRoomVersionError{Version: v}
	}
}

// StateResAlgorithm returns the state resolution algorithm used by this room
// version. Every supported version uses v2; v1 is kept only as a named
// constant for historical clarity in error messages.
func (v RoomVersion) StateResAlgorithm() (StateResAlgorithm, error) {
	switch v {
	case RoomVersionV1, RoomVersionV2, RoomVersionV3, RoomVersionV4, RoomVersionV5, RoomVersionV6, RoomVersionV9:
		return StateResV2, nil
	default:
		return 0, UnsupportedRoomVersionError{Version: v}
	}
}

// Supported reports whether this package knows how to handle the room
// version at all.
func (v RoomVersion) Supported() bool {
	_, err := v.EventFormat()
	return err == nil
}

// UnsupportedRoomVersionError is returned whenever an operation is asked to
// act on a room version this package has no rules for.
type UnsupportedRoomVersionError struct {
	Version RoomVersion
}

func (e UnsupportedRoomVersionError) Error() string {
	return fmt.Sprintf("gomatrixserverlib: unsupported room version %q", e.Version)
}
