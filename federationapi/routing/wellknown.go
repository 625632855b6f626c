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
	"net/http"

	"github.com/matrix-org/util"

	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
)

// wellKnownServerResponse is the body of GET /.well-known/matrix/server.
type wellKnownServerResponse struct {
	Server string `json:"m.server"`
}

// GetWellKnownServer implements GET /.well-known/matrix/server: points a
// server resolving localServerName at delegatedServerName (host[:port]),
// the first step of server name resolution (§4.2) when the two differ.
func GetWellKnownServer(delegatedServerName gomatrixserverlib.ServerName) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		util.JSONResponse{Code: http.StatusOK, JSON: wellKnownServerResponse{
			Server: string(delegatedServerName),
		}}.WriteTo(w)
	}
}
