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
	"encoding/json"
	"net/http"
	"time"

	"github.com/matrix-org/util"
	"golang.org/x/crypto/ed25519"

	"github.com/EdGeraghty/FERRETCANNON-sub006/clientapi/jsonerror"
	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
)

// keyValidityWindow is how long this server's own verify keys are advertised
// as valid for before a client must refetch, per §4.3.
const keyValidityWindow = 24 * time.Hour

// GetServerKeys implements GET /_matrix/key/v2/server: this server's own
// current signing key, self-signed, for any remote server to bootstrap
// trust from before it can verify anything else this server sends.
func GetServerKeys(httpReq *http.Request, identity gomatrixserverlib.SigningIdentity) util.JSONResponse {
	body, err := signedOwnKeys(identity)
	if err != nil {
		return util.JSONResponse{Code: http.StatusInternalServerError, JSON: jsonerror.Unknown(err.Error())}
	}
	return util.JSONResponse{Code: http.StatusOK, JSON: json.RawMessage(body)}
}

// signedOwnKeys builds and self-signs this server's ServerKeys document.
func signedOwnKeys(identity gomatrixserverlib.SigningIdentity) ([]byte, error) {
	keys := gomatrixserverlib.ServerKeys{
		ServerName:   identity.ServerName,
		ValidUntilTS: time.Now().Add(keyValidityWindow).UnixNano() / int64(time.Millisecond),
		VerifyKeys: map[gomatrixserverlib.KeyID]gomatrixserverlib.VerifyKey{
			identity.KeyID: {Key: identity.PrivateKey.Public().(ed25519.PublicKey)},
		},
	}
	raw, err := json.Marshal(keys)
	if err != nil {
		return nil, err
	}
	return gomatrixserverlib.SignJSON(identity.ServerName, identity.KeyID, identity.PrivateKey, raw)
}

// keyQueryRequest is the body of POST /_matrix/key/v2/query: a set of
// servers (each optionally pinned to specific key IDs) the caller wants
// fresh key sets for.
type keyQueryRequest struct {
	ServerKeys map[gomatrixserverlib.ServerName]map[gomatrixserverlib.KeyID]struct {
		MinValidUntilTS int64 `json:"minimum_valid_until_ts"`
	} `json:"server_keys"`
}

// keyQueryResponse is the response body of POST /_matrix/key/v2/query.
type keyQueryResponse struct {
	ServerKeys []json.RawMessage `json:"server_keys"`
}

// QueryServerKeys implements POST /_matrix/key/v2/query: this server acting
// as a notary, answering with its own keys directly and, for any other
// server named in the request, whatever this server's KeyRing already has
// cached (no fresh network fetch — a notary only vouches for what it has
// itself already verified).
func QueryServerKeys(httpReq *http.Request, identity gomatrixserverlib.SigningIdentity, keyDB gomatrixserverlib.KeyDatabase) util.JSONResponse {
	var req keyQueryRequest
	if err := json.NewDecoder(httpReq.Body).Decode(&req); err != nil {
		return util.JSONResponse{Code: http.StatusBadRequest, JSON: jsonerror.BadJSON("invalid JSON body")}
	}

	resp := keyQueryResponse{}
	for serverName := range req.ServerKeys {
		if serverName == identity.ServerName {
			raw, err := signedOwnKeys(identity)
			if err == nil {
				resp.ServerKeys = append(resp.ServerKeys, raw)
			}
			continue
		}
		if keyDB == nil {
			continue
		}
		keys, ok, err := keyDB.FetchKeys(httpReq.Context(), serverName)
		if err != nil || !ok {
			continue
		}
		if len(keys.Raw) > 0 {
			resp.ServerKeys = append(resp.ServerKeys, keys.Raw)
		}
	}
	return util.JSONResponse{Code: http.StatusOK, JSON: resp}
}
