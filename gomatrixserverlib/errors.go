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

// EventValidationError is returned by event/event graph validation (event ID
// mismatch, missing required field, content-hash mismatch) — distinct from
// NotAllowed, which is strictly an auth-rules verdict.
type EventValidationError struct {
	Code    string
	Message string
}

func (e *EventValidationError) Error() string {
	return fmt.Sprintf("gomatrixserverlib: %s: %s", e.Code, e.Message)
}

// Well-known EventValidationError codes.
const (
	ErrCodeBadJSON          = "BAD_JSON"
	ErrCodeMissingField     = "MISSING_FIELD"
	ErrCodeContentHashMismatch = "CONTENT_HASH_MISMATCH"
	ErrCodeUnsupportedVersion  = "UNSUPPORTED_ROOM_VERSION"
)

func validationErrorf(code, format string, args ...interface{}) error {
	return &EventValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}
