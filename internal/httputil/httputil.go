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

// Package httputil is the ambient HTTP handler plumbing every routing
// package builds on: wrapping a handler func that returns a
// util.JSONResponse, and the X-Matrix server-to-server auth middleware.
// Mirrors the teacher's direct use of github.com/matrix-org/util throughout
// its routing packages.
package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/matrix-org/util"

	"github.com/EdGeraghty/FERRETCANNON-sub006/clientapi/jsonerror"
	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
)

// MakeJSONAPI wraps a handler that returns a util.JSONResponse into a plain
// http.HandlerFunc, the shape gorilla/mux routes register.
func MakeJSONAPI(handler func(*http.Request) util.JSONResponse) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		res := handler(req)
		res.WriteTo(w)
	}
}

// MaxRequestBodyBytes bounds how much of an incoming request body is ever
// read, so a hostile peer can't exhaust memory with an oversized PDU batch.
const MaxRequestBodyBytes = 8 << 20

// ReadJSONBody reads and JSON-decodes req.Body into v, enforcing
// MaxRequestBodyBytes.
func ReadJSONBody(req *http.Request, v interface{}) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(req.Body, MaxRequestBodyBytes))
	if err != nil {
		return nil, err
	}
	if v != nil {
		if err := json.Unmarshal(body, v); err != nil {
			return body, err
		}
	}
	return body, nil
}

// FederationAuthMiddleware wraps a handler so it only runs once the request
// carries a valid X-Matrix signature for localServerName, attaching the
// verified origin to the request context under originContextKey.
func FederationAuthMiddleware(localServerName gomatrixserverlib.ServerName, verifier gomatrixserverlib.JSONVerifier, handler func(*http.Request) util.JSONResponse) func(*http.Request) util.JSONResponse {
	return func(req *http.Request) util.JSONResponse {
		body, err := ReadJSONBody(req, nil)
		if err != nil {
			return util.JSONResponse{Code: http.StatusBadRequest, JSON: jsonerror.NotJSON("could not read request body: " + err.Error())}
		}
		origin, err := gomatrixserverlib.VerifyRequest(req.Context(), req, body, localServerName, verifier)
		if err != nil {
			util.GetLogger(req.Context()).WithError(err).Warn("federation request auth failed")
			return util.JSONResponse{Code: http.StatusForbidden, JSON: jsonerror.Forbidden(err.Error())}
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
		ctx := context.WithValue(req.Context(), originContextKey{}, origin)
		*req = *req.WithContext(ctx)
		return handler(req)
	}
}

type originContextKey struct{}

// OriginFromContext retrieves the verified federation origin attached by
// FederationAuthMiddleware.
func OriginFromContext(ctx context.Context) (gomatrixserverlib.ServerName, bool) {
	origin, ok := ctx.Value(originContextKey{}).(gomatrixserverlib.ServerName)
	return origin, ok
}
