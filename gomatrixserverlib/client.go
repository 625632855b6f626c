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

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// FederationClient is the outbound half of the federation wire protocol
// (§4.7/§4.9): it turns the Matrix federation HTTP API into typed Go calls,
// attaching X-Matrix request signing and resolving destinations per §4.9
// before every call.
type FederationClient struct {
	identity SigningIdentity
	resolver *Resolver
	client   *http.Client
}

// NewFederationClient constructs a FederationClient that signs requests as
// `identity` and resolves destinations using `resolver`.
func NewFederationClient(identity SigningIdentity, resolver *Resolver) *FederationClient {
	return &FederationClient{
		identity: identity,
		resolver: resolver,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (f *FederationClient) doSigned(ctx context.Context, destination ServerName, method, path string, reqBody, respBody interface{}) error {
	dest, err := f.resolver.Resolve(ctx, destination)
	if err != nil {
		return fmt.Errorf("gomatrixserverlib: resolving %q: %w", destination, err)
	}

	var bodyBytes []byte
	if reqBody != nil {
		bodyBytes, err = json.Marshal(reqBody)
		if err != nil {
			return err
		}
	}

	url := fmt.Sprintf("https://%s%s", dest.Address, path)
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return err
	}
	req.Host = string(dest.ServerName)
	if len(bodyBytes) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	fedReq := FederationRequest{
		Method:      method,
		RequestURI:  path,
		Origin:      f.identity.ServerName,
		Destination: destination,
		Content:     bodyBytes,
	}
	authHeader, err := fedReq.Sign(f.identity)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", authHeader)

	logrus.WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"destination": destination,
	}).Debug("federation request")

	res, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	respData, err := io.ReadAll(io.LimitReader(res.Body, 8<<20))
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return &FederationHTTPError{Code: res.StatusCode, Body: respData}
	}
	if respBody == nil {
		return nil
	}
	return json.Unmarshal(respData, respBody)
}

// FederationHTTPError is returned when a federation peer responds with a
// non-2xx status.
type FederationHTTPError struct {
	Code int
	Body []byte
}

func (e *FederationHTTPError) Error() string {
	return fmt.Sprintf("gomatrixserverlib: federation request failed with HTTP %d: %s", e.Code, string(e.Body))
}

// MakeJoin calls GET /_matrix/federation/v1/make_join/{roomID}/{userID}.
func (f *FederationClient) MakeJoin(ctx context.Context, destination ServerName, roomID, userID string) (RespMakeJoin, error) {
	var resp RespMakeJoin
	path := fmt.Sprintf("/_matrix/federation/v1/make_join/%s/%s", roomID, userID)
	err := f.doSigned(ctx, destination, http.MethodGet, path, nil, &resp)
	return resp, err
}

// SendJoin calls PUT /_matrix/federation/v2/send_join/{roomID}/{eventID}.
func (f *FederationClient) SendJoin(ctx context.Context, destination ServerName, roomID, eventID string, event json.RawMessage) (RespSendJoin, error) {
	var resp RespSendJoin
	path := fmt.Sprintf("/_matrix/federation/v2/send_join/%s/%s", roomID, eventID)
	err := f.doSigned(ctx, destination, http.MethodPut, path, event, &resp)
	return resp, err
}

// MakeLeave calls GET /_matrix/federation/v1/make_leave/{roomID}/{userID}.
func (f *FederationClient) MakeLeave(ctx context.Context, destination ServerName, roomID, userID string) (RespMakeJoin, error) {
	var resp RespMakeJoin
	path := fmt.Sprintf("/_matrix/federation/v1/make_leave/%s/%s", roomID, userID)
	err := f.doSigned(ctx, destination, http.MethodGet, path, nil, &resp)
	return resp, err
}

// SendLeave calls PUT /_matrix/federation/v2/send_leave/{roomID}/{eventID}.
func (f *FederationClient) SendLeave(ctx context.Context, destination ServerName, roomID, eventID string, event json.RawMessage) error {
	path := fmt.Sprintf("/_matrix/federation/v2/send_leave/%s/%s", roomID, eventID)
	return f.doSigned(ctx, destination, http.MethodPut, path, event, nil)
}

// SendInviteV2 calls PUT /_matrix/federation/v2/invite/{roomID}/{eventID}.
func (f *FederationClient) SendInviteV2(ctx context.Context, destination ServerName, roomID, eventID string, req InviteV2Request) (json.RawMessage, error) {
	var resp struct {
		Event json.RawMessage `json:"event"`
	}
	path := fmt.Sprintf("/_matrix/federation/v2/invite/%s/%s", roomID, eventID)
	err := f.doSigned(ctx, destination, http.MethodPut, path, req, &resp)
	return resp.Event, err
}

// SendTransaction calls PUT /_matrix/federation/v1/send/{txnID}.
func (f *FederationClient) SendTransaction(ctx context.Context, destination ServerName, txn Transaction) (RespSend, error) {
	var resp RespSend
	path := fmt.Sprintf("/_matrix/federation/v1/send/%s", txn.TransactionID)
	err := f.doSigned(ctx, destination, http.MethodPut, path, txn, &resp)
	return resp, err
}

// GetEventAuth calls GET /_matrix/federation/v1/event_auth/{roomID}/{eventID}.
func (f *FederationClient) GetEventAuth(ctx context.Context, destination ServerName, roomID, eventID string) ([]json.RawMessage, error) {
	var resp struct {
		AuthChain []json.RawMessage `json:"auth_chain"`
	}
	path := fmt.Sprintf("/_matrix/federation/v1/event_auth/%s/%s", roomID, eventID)
	err := f.doSigned(ctx, destination, http.MethodGet, path, nil, &resp)
	return resp.AuthChain, err
}

// GetEvent calls GET /_matrix/federation/v1/event/{eventID}.
func (f *FederationClient) GetEvent(ctx context.Context, destination ServerName, eventID string) ([]json.RawMessage, error) {
	var resp struct {
		Origin          ServerName        `json:"origin"`
		OriginServerTS  int64             `json:"origin_server_ts"`
		PDUs            []json.RawMessage `json:"pdus"`
	}
	path := fmt.Sprintf("/_matrix/federation/v1/event/%s", eventID)
	err := f.doSigned(ctx, destination, http.MethodGet, path, nil, &resp)
	return resp.PDUs, err
}

// LookupState calls GET /_matrix/federation/v1/state/{roomID}.
func (f *FederationClient) LookupState(ctx context.Context, destination ServerName, roomID, eventID string) (RespState, error) {
	var resp RespState
	path := fmt.Sprintf("/_matrix/federation/v1/state/%s?event_id=%s", roomID, eventID)
	err := f.doSigned(ctx, destination, http.MethodGet, path, nil, &resp)
	return resp, err
}

// LookupStateIDs calls GET /_matrix/federation/v1/state_ids/{roomID}.
func (f *FederationClient) LookupStateIDs(ctx context.Context, destination ServerName, roomID, eventID string) (RespStateIDs, error) {
	var resp RespStateIDs
	path := fmt.Sprintf("/_matrix/federation/v1/state_ids/%s?event_id=%s", roomID, eventID)
	err := f.doSigned(ctx, destination, http.MethodGet, path, nil, &resp)
	return resp, err
}

// LookupMissingEvents calls POST /_matrix/federation/v1/get_missing_events/{roomID}.
func (f *FederationClient) LookupMissingEvents(ctx context.Context, destination ServerName, roomID string, req MissingEventsRequest) (RespMissingEvents, error) {
	var resp RespMissingEvents
	path := fmt.Sprintf("/_matrix/federation/v1/get_missing_events/%s", roomID)
	err := f.doSigned(ctx, destination, http.MethodPost, path, req, &resp)
	return resp, err
}

// LookupServerKeys calls GET /_matrix/key/v2/server directly against
// destination (used by the direct KeyFetcher; perspective fetchers instead
// call a notary server's /_matrix/key/v2/query).
func (f *FederationClient) LookupServerKeys(ctx context.Context, destination ServerName) (ServerKeys, error) {
	var resp ServerKeys
	err := f.doSigned(ctx, destination, http.MethodGet, "/_matrix/key/v2/server", nil, &resp)
	return resp, err
}

// notaryKeyQueryRequest is the body of POST /_matrix/key/v2/query.
type notaryKeyQueryRequest struct {
	ServerKeys map[ServerName]map[KeyID]struct {
		MinimumValidUntilTS int64 `json:"minimum_valid_until_ts"`
	} `json:"server_keys"`
}

type notaryKeyQueryResponse struct {
	ServerKeys []ServerKeys `json:"server_keys"`
}

// LookupServerKeysViaNotary asks notary (a trusted perspective server) to
// fetch and countersign ofServer's current keys via POST
// /_matrix/key/v2/query, rather than contacting ofServer directly.
func (f *FederationClient) LookupServerKeysViaNotary(ctx context.Context, notary, ofServer ServerName) (ServerKeys, error) {
	req := notaryKeyQueryRequest{ServerKeys: map[ServerName]map[KeyID]struct {
		MinimumValidUntilTS int64 `json:"minimum_valid_until_ts"`
	}{
		ofServer: {"": {MinimumValidUntilTS: 0}},
	}}
	var resp notaryKeyQueryResponse
	err := f.doSigned(ctx, notary, http.MethodPost, "/_matrix/key/v2/query", req, &resp)
	if err != nil {
		return ServerKeys{}, err
	}
	for _, keys := range resp.ServerKeys {
		if keys.ServerName == ofServer {
			return keys, nil
		}
	}
	return ServerKeys{}, fmt.Errorf("gomatrixserverlib: notary %q returned no keys for %q", notary, ofServer)
}

// MakeKnock calls GET /_matrix/federation/v1/make_knock/{roomID}/{userID}.
func (f *FederationClient) MakeKnock(ctx context.Context, destination ServerName, roomID, userID string) (RespMakeKnock, error) {
	var resp RespMakeKnock
	path := fmt.Sprintf("/_matrix/federation/v1/make_knock/%s/%s", roomID, userID)
	err := f.doSigned(ctx, destination, http.MethodGet, path, nil, &resp)
	return resp, err
}

// SendKnock calls PUT /_matrix/federation/v1/send_knock/{roomID}/{eventID}.
func (f *FederationClient) SendKnock(ctx context.Context, destination ServerName, roomID, eventID string, event json.RawMessage) (RespSendKnock, error) {
	var resp RespSendKnock
	path := fmt.Sprintf("/_matrix/federation/v1/send_knock/%s/%s", roomID, eventID)
	err := f.doSigned(ctx, destination, http.MethodPut, path, event, &resp)
	return resp, err
}

// QueryDirectory calls GET /_matrix/federation/v1/query/directory.
func (f *FederationClient) QueryDirectory(ctx context.Context, destination ServerName, roomAlias string) (RespQueryDirectory, error) {
	var resp RespQueryDirectory
	path := fmt.Sprintf("/_matrix/federation/v1/query/directory?room_alias=%s", roomAlias)
	err := f.doSigned(ctx, destination, http.MethodGet, path, nil, &resp)
	return resp, err
}
