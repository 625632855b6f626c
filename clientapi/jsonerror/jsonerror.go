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

// Package jsonerror holds the closed errcode catalogue both the client API
// and federation API hand back to callers: {errcode, error} bodies with a
// deterministic errcode and a purely diagnostic error string. Grounded on the
// jsonerror.NotJSON/BadJSON/NotFound call sites seen across the pack's
// routing packages (clientapi/writers, federationapi/routing).
package jsonerror

import "net/http"

// MatrixError is the {errcode, error} body every endpoint in the catalogue
// returns.
type MatrixError struct {
	Code    string `json:"errcode"`
	Message string `json:"error"`
}

func (e MatrixError) Error() string {
	return e.Code + ": " + e.Message
}

func matrixError(code, msg string) *MatrixError {
	return &MatrixError{Code: code, Message: msg}
}

// NotJSON is returned when a request body could not be parsed as JSON at all.
func NotJSON(msg string) *MatrixError { return matrixError("M_NOT_JSON", msg) }

// BadJSON is returned when a request body parsed as JSON but failed
// structural validation (missing/invalid fields).
func BadJSON(msg string) *MatrixError { return matrixError("M_BAD_JSON", msg) }

// NotFound is returned for an unknown room, event, user, or alias.
func NotFound(msg string) *MatrixError { return matrixError("M_NOT_FOUND", msg) }

// Forbidden is returned when auth rules reject an action.
func Forbidden(msg string) *MatrixError { return matrixError("M_FORBIDDEN", msg) }

// Unauthorized is returned when the caller's own auth failed to verify.
func Unauthorized(msg string) *MatrixError { return matrixError("M_UNAUTHORIZED", msg) }

// UnknownToken is returned when a client access token doesn't map to a
// session.
func UnknownToken(msg string) *MatrixError { return matrixError("M_UNKNOWN_TOKEN", msg) }

// MissingToken is returned when an endpoint requires auth and none was sent.
func MissingToken(msg string) *MatrixError { return matrixError("M_MISSING_TOKEN", msg) }

// InvalidParam is returned for a well-formed but semantically invalid
// parameter (bad room alias syntax, invalid limit, etc).
func InvalidParam(msg string) *MatrixError { return matrixError("M_INVALID_PARAM", msg) }

// LimitExceeded is returned when a caller is being rate-limited.
func LimitExceeded(msg string) *MatrixError { return matrixError("M_LIMIT_EXCEEDED", msg) }

// TooLarge is returned when a PDU/EDU batch or event exceeds a size limit.
func TooLarge(msg string) *MatrixError { return matrixError("M_TOO_LARGE", msg) }

// UnsupportedRoomVersion is returned when createRoom or make_join names a
// room version this server doesn't implement.
func UnsupportedRoomVersion(msg string) *MatrixError {
	return matrixError("M_UNSUPPORTED_ROOM_VERSION", msg)
}

// Unrecognized is returned for an unknown endpoint or method.
func Unrecognized(msg string) *MatrixError { return matrixError("M_UNRECOGNIZED", msg) }

// Unknown is the catch-all for errors with no more specific errcode.
func Unknown(msg string) *MatrixError { return matrixError("M_UNKNOWN", msg) }

// StatusCode maps an errcode to the HTTP status the catalogue in spec.md §7
// pairs it with.
func (e *MatrixError) StatusCode() int {
	switch e.Code {
	case "M_FORBIDDEN", "M_UNAUTHORIZED":
		return http.StatusForbidden
	case "M_UNKNOWN_TOKEN", "M_MISSING_TOKEN":
		return http.StatusUnauthorized
	case "M_NOT_FOUND":
		return http.StatusNotFound
	case "M_LIMIT_EXCEEDED":
		return http.StatusTooManyRequests
	case "M_TOO_LARGE":
		return http.StatusRequestEntityTooLarge
	case "M_UNRECOGNIZED":
		return http.StatusNotFound
	case "M_BAD_JSON", "M_NOT_JSON", "M_INVALID_PARAM", "M_UNSUPPORTED_ROOM_VERSION":
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
