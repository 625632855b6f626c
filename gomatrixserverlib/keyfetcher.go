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

import "context"

// DirectKeyFetcher fetches a server's keys by asking that server directly,
// via GET /_matrix/key/v2/server.
type DirectKeyFetcher struct {
	Client *FederationClient
}

// FetchServerKeys implements KeyFetcher.
func (f *DirectKeyFetcher) FetchServerKeys(ctx context.Context, serverName ServerName) (ServerKeys, error) {
	return f.Client.LookupServerKeys(ctx, serverName)
}

// PerspectiveKeyFetcher fetches a server's keys indirectly, via a trusted
// notary server's POST /_matrix/key/v2/query, the way a server behind a
// firewall that blocks outbound key lookups would still resolve keys (§4.3's
// "perspective" configuration).
type PerspectiveKeyFetcher struct {
	Client *FederationClient
	Notary ServerName
}

// FetchServerKeys implements KeyFetcher.
func (f *PerspectiveKeyFetcher) FetchServerKeys(ctx context.Context, serverName ServerName) (ServerKeys, error) {
	return f.Client.LookupServerKeysViaNotary(ctx, f.Notary, serverName)
}
