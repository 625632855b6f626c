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

// Package gomatrixserverlib implements the pieces of the Matrix federation
// protocol that every homeserver component needs a single, agreed-upon
// implementation of: canonical JSON, event identity and hashing, event
// signing and verification, the per-room-version auth rules, state
// resolution, and the federation wire types and client used to talk to
// other homeservers.
//
// Nothing in this package knows about how events are stored or how the
// local server decides to create them; that belongs to roomserver.
package gomatrixserverlib
