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

// Package auth is the client API's access-token layer: resolving a bearer
// token to the local device/user it belongs to, and the middleware routing
// handlers wrap themselves in to require one. Grounded on
// other_examples/91dc1704_rbarraud-dendrite__src-github.com-matrix-org-dendrite-clientapi-writers-membership.go.go's
// use of an authtypes.Device pulled out of the request by the caller,
// simplified down to this module's single in-memory token store since no
// pack example carries a full accounts/devices storage layer forward.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"strings"
	"sync"

	"github.com/matrix-org/util"

	"github.com/EdGeraghty/FERRETCANNON-sub006/clientapi/jsonerror"
)

// Device identifies the local user and device an access token was minted
// for.
type Device struct {
	UserID      string
	DeviceID    string
	AccessToken string
}

// Devices is the access-token → Device lookup every authenticated client
// endpoint consults. The in-memory implementation is sufficient for a
// single-process deployment; a real deployment would back this the way
// federationapi/storage backs OutgoingQueues, but no client account store
// exists yet in this module (see SPEC_FULL.md's Non-goals: account
// management itself is out of scope, only the resulting device/token
// concept clientapi needs is carried).
type Devices struct {
	mu      sync.RWMutex
	byToken map[string]Device
}

// NewDevices constructs an empty Devices store.
func NewDevices() *Devices {
	return &Devices{byToken: map[string]Device{}}
}

// Login mints a new access token for userID/deviceID, overwriting any
// previous token issued to that device.
func (d *Devices) Login(userID, deviceID string) (Device, error) {
	if deviceID == "" {
		var err error
		deviceID, err = generateDeviceID()
		if err != nil {
			return Device{}, err
		}
	}
	token, err := generateAccessToken()
	if err != nil {
		return Device{}, err
	}
	device := Device{UserID: userID, DeviceID: deviceID, AccessToken: token}
	d.mu.Lock()
	for tok, existing := range d.byToken {
		if existing.UserID == userID && existing.DeviceID == deviceID {
			delete(d.byToken, tok)
		}
	}
	d.byToken[token] = device
	d.mu.Unlock()
	return device, nil
}

// Lookup resolves an access token to its Device, reporting false if the
// token is unknown.
func (d *Devices) Lookup(token string) (Device, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	device, ok := d.byToken[token]
	return device, ok
}

func generateAccessToken() (string, error) {
	var buf [24]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf[:]), nil
}

func generateDeviceID() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf[:]), nil
}

type deviceContextKey struct{}

// DeviceFromContext retrieves the Device attached by Middleware.
func DeviceFromContext(ctx context.Context) (Device, bool) {
	device, ok := ctx.Value(deviceContextKey{}).(Device)
	return device, ok
}

// Middleware wraps a handler so it only runs once the request carries a
// valid bearer access token, attaching the resolved Device to the request
// context. Matches httputil.FederationAuthMiddleware's
// "verify, then call through" shape on the client-auth side.
func Middleware(devices *Devices, handler func(*http.Request) util.JSONResponse) func(*http.Request) util.JSONResponse {
	return func(req *http.Request) util.JSONResponse {
		token, err := extractAccessToken(req)
		if err != nil {
			return util.JSONResponse{Code: http.StatusUnauthorized, JSON: jsonerror.MissingToken(err.Error())}
		}
		device, ok := devices.Lookup(token)
		if !ok {
			return util.JSONResponse{Code: http.StatusUnauthorized, JSON: jsonerror.UnknownToken("unrecognised access token")}
		}
		ctx := context.WithValue(req.Context(), deviceContextKey{}, device)
		*req = *req.WithContext(ctx)
		return handler(req)
	}
}

func extractAccessToken(req *http.Request) (string, error) {
	if header := req.Header.Get("Authorization"); header != "" {
		if strings.HasPrefix(header, "Bearer ") {
			return strings.TrimPrefix(header, "Bearer "), nil
		}
	}
	if token := req.URL.Query().Get("access_token"); token != "" {
		return token, nil
	}
	return "", errMissingToken
}

var errMissingToken = missingTokenError{}

type missingTokenError struct{}

func (missingTokenError) Error() string { return "missing access token" }
