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
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/ed25519"
)

// VerifyKey is one current signing key of a server.
type VerifyKey struct {
	Key ed25519.PublicKey `json:"key"`
}

// OldVerifyKey is a retired signing key, retained so historic signatures
// made before ExpiredTS can still be checked (§4.3's grace-period rule).
type OldVerifyKey struct {
	Key       ed25519.PublicKey `json:"key"`
	ExpiredTS int64             `json:"expired_ts"`
}

// ServerKeys is the signed response body served at /_matrix/key/v2/server:
// a server's current and historic verify keys plus the window the current
// set is valid for.
type ServerKeys struct {
	ServerName     ServerName              `json:"server_name"`
	ValidUntilTS   int64                   `json:"valid_until_ts"`
	VerifyKeys     map[KeyID]VerifyKey     `json:"verify_keys"`
	OldVerifyKeys  map[KeyID]OldVerifyKey  `json:"old_verify_keys"`
	Raw            []byte                  `json:"-"`
}

// Expired reports whether the current verify key set is no longer valid as
// of `at`.
func (sk ServerKeys) Expired(at time.Time) bool {
	return at.UnixNano()/int64(time.Millisecond) > sk.ValidUntilTS
}

// CacheExpiry is when a ServerKeys response should be evicted from the
// local cache: min(valid_until_ts, now + 7 days), per §4.3.
func (sk ServerKeys) CacheExpiry(fetchedAt time.Time) time.Time {
	cap := fetchedAt.Add(7 * 24 * time.Hour)
	validUntil := time.Unix(0, sk.ValidUntilTS*int64(time.Millisecond))
	if validUntil.Before(cap) {
		return validUntil
	}
	return cap
}

// HalfLife is the point at which a cached key set should be proactively
// refetched, per §4.3 ("refetched proactively at half-life").
func (sk ServerKeys) HalfLife(fetchedAt time.Time) time.Time {
	expiry := sk.CacheExpiry(fetchedAt)
	return fetchedAt.Add(expiry.Sub(fetchedAt) / 2)
}

// KeyDatabase is the local cache of fetched server keys.
type KeyDatabase interface {
	FetchKeys(ctx context.Context, serverName ServerName) (ServerKeys, bool, error)
	StoreKeys(ctx context.Context, serverName ServerName, keys ServerKeys, fetchedAt time.Time) error
}

// KeyFetcher retrieves a server's current key set over the network (direct
// /key/v2/server, or via a trusted perspective/notary server).
type KeyFetcher interface {
	FetchServerKeys(ctx context.Context, serverName ServerName) (ServerKeys, error)
}

// VerifyJSONRequest asks a KeyRing to check one signature.
type VerifyJSONRequest struct {
	ServerName           ServerName
	Message              []byte
	AtTS                 int64 // origin_server_ts (or equivalent) the signature was made under
}

// VerifyJSONResult is the outcome of one VerifyJSONRequest.
type VerifyJSONResult struct {
	Error error
}

// JSONVerifier is the capability every federation-facing component needs:
// "is this JSON validly signed by this server". roomserver and
// federationapi depend on this interface, not on a concrete KeyRing, so
// tests can substitute a fake.
type JSONVerifier interface {
	VerifyJSONs(ctx context.Context, requests []VerifyJSONRequest) ([]VerifyJSONResult, error)
}

// KeyRing resolves and caches server signing keys and verifies JSON
// signatures against them. Reads are concurrent-safe; refresh is
// single-writer and debounced per server name (§5).
type KeyRing struct {
	Fetchers []KeyFetcher
	DB       KeyDatabase

	mu         sync.Mutex
	inFlight   map[ServerName]chan struct{}
}

// ErrUnknownKey is returned when no fetcher can resolve a server's key.
type ErrUnknownKey struct {
	ServerName ServerName
	KeyID      KeyID
}

func (e ErrUnknownKey) Error() string {
	return fmt.Sprintf("gomatrixserverlib: unknown key %q for server %q", e.KeyID, e.ServerName)
}

// ErrKeyExpired is returned when a signature is dated after the signing
// key's valid_until_ts (or, for an old key, its expired_ts).
type ErrKeyExpired struct {
	ServerName ServerName
	KeyID      KeyID
}

func (e ErrKeyExpired) Error() string {
	return fmt.Sprintf("gomatrixserverlib: key %q for server %q had expired at signature time", e.KeyID, e.ServerName)
}

// fetchKeys returns the cached key set for serverName, refreshing it if
// absent or past its valid_until_ts. The 7-day cap of CacheExpiry applies
// only where DB itself evicts entries by it, as caching.ServerKeyCache
// does. Concurrent callers for the same server name share a single
// in-flight refresh.
func (k *KeyRing) fetchKeys(ctx context.Context, serverName ServerName) (ServerKeys, error) {
	if k.DB != nil {
		if keys, ok, err := k.DB.FetchKeys(ctx, serverName); err == nil && ok && !keys.Expired(time.Now()) {
			return keys, nil
		}
	}

	k.mu.Lock()
	if k.inFlight == nil {
		k.inFlight = map[ServerName]chan struct{}{}
	}
	if ch, ok := k.inFlight[serverName]; ok {
		k.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ServerKeys{}, ctx.Err()
		}
		if k.DB != nil {
			if keys, ok, err := k.DB.FetchKeys(ctx, serverName); err == nil && ok {
				return keys, nil
			}
		}
		return ServerKeys{}, ErrUnknownKey{ServerName: serverName}
	}
	ch := make(chan struct{})
	k.inFlight[serverName] = ch
	k.mu.Unlock()

	defer func() {
		k.mu.Lock()
		delete(k.inFlight, serverName)
		k.mu.Unlock()
		close(ch)
	}()

	var lastErr error
	for _, f := range k.Fetchers {
		keys, err := f.FetchServerKeys(ctx, serverName)
		if err != nil {
			lastErr = err
			continue
		}
		if k.DB != nil {
			_ = k.DB.StoreKeys(ctx, serverName, keys, time.Now())
		}
		return keys, nil
	}
	if lastErr == nil {
		lastErr = ErrUnknownKey{ServerName: serverName}
	}
	return ServerKeys{}, lastErr
}

// VerifyJSONs checks each request's signature under its claimed server
// name, honouring the old_verify_keys grace window.
func (k *KeyRing) VerifyJSONs(ctx context.Context, requests []VerifyJSONRequest) ([]VerifyJSONResult, error) {
	results := make([]VerifyJSONResult, len(requests))
	for i, req := range requests {
		results[i] = VerifyJSONResult{Error: k.verifyOne(ctx, req)}
	}
	return results, nil
}

func (k *KeyRing) verifyOne(ctx context.Context, req VerifyJSONRequest) error {
	keys, err := k.fetchKeys(ctx, req.ServerName)
	if err != nil {
		return err
	}

	sigs := gjsonGet(req.Message, "signatures."+escapeGJSONKey(string(req.ServerName))).Map()
	if len(sigs) == 0 {
		return fmt.Errorf("gomatrixserverlib: no signature from %q", req.ServerName)
	}
	toVerify, err := stripKeys(req.Message, "signatures", "unsigned")
	if err != nil {
		return err
	}
	canonical, err := CanonicalJSON(toVerify)
	if err != nil {
		return err
	}

	var lastErr error = ErrUnknownKey{ServerName: req.ServerName}
	for keyIDStr, v := range sigs {
		keyID := KeyID(keyIDStr)
		sig, err := decodeUnpaddedBase64(v.String())
		if err != nil {
			lastErr = err
			continue
		}
		if vk, ok := keys.VerifyKeys[keyID]; ok {
			if ed25519.Verify(vk.Key, canonical, sig) {
				return nil
			}
			lastErr = fmt.Errorf("gomatrixserverlib: signature from %q/%q did not verify", req.ServerName, keyID)
			continue
		}
		if ovk, ok := keys.OldVerifyKeys[keyID]; ok {
			if req.AtTS > ovk.ExpiredTS {
				lastErr = ErrKeyExpired{ServerName: req.ServerName, KeyID: keyID}
				continue
			}
			if ed25519.Verify(ovk.Key, canonical, sig) {
				return nil
			}
			lastErr = fmt.Errorf("gomatrixserverlib: signature from %q/%q did not verify", req.ServerName, keyID)
			continue
		}
		lastErr = ErrUnknownKey{ServerName: req.ServerName, KeyID: keyID}
	}
	return lastErr
}

// VerifyAllEventSignatures checks that every event in `events` carries a
// valid signature from its sending domain (and, for room versions using
// EventIDFormatV1/V2, implicitly from the event ID's origin via the same
// domain since those IDs are minted by the sender's server).
func VerifyAllEventSignatures(ctx context.Context, events []Event, verifier JSONVerifier) error {
	requests := make([]VerifyJSONRequest, len(events))
	for i, ev := range events {
		_, domain, err := SplitID('@', ev.Sender())
		if err != nil {
			return fmt.Errorf("gomatrixserverlib: cannot verify event %s: %w", ev.EventID(), err)
		}
		requests[i] = VerifyJSONRequest{
			ServerName: domain,
			Message:    ev.JSON(),
			AtTS:       ev.OriginServerTS(),
		}
	}
	results, err := verifier.VerifyJSONs(ctx, requests)
	if err != nil {
		return err
	}
	for i, r := range results {
		if r.Error != nil {
			return fmt.Errorf("gomatrixserverlib: signature verification failed for event %s: %w", events[i].EventID(), r.Error)
		}
	}
	return nil
}

// SplitID splits a Matrix identifier of the form sigil+localpart:domain,
// e.g. "@alice:example.com", into its localpart and domain.
func SplitID(sigil byte, id string) (localpart string, domain ServerName, err error) {
	if len(id) == 0 || id[0] != sigil {
		return "", "", fmt.Errorf("gomatrixserverlib: identifier %q does not start with %q", id, string(sigil))
	}
	for i := 1; i < len(id); i++ {
		if id[i] == ':' {
			return id[1:i], ServerName(id[i+1:]), nil
		}
	}
	return "", "", fmt.Errorf("gomatrixserverlib: identifier %q is missing a domain", id)
}
