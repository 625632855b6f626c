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

// Package caching provides the in-process caches shared across components:
// server keys, parsed events, and room state lookups. Backed by
// patrickmn/go-cache rather than a hand-rolled LRU, matching the expiring
// key-value cache style the rest of the pack reaches for.
package caching

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
)

// RoomServerCaches is every cache the roomserver (and its internal API
// callers) consult before hitting storage.
type RoomServerCaches struct {
	roomVersions *gocache.Cache
	serverACLs   *gocache.Cache
	events       *gocache.Cache
}

// NewRoomServerCaches builds caches with the given default TTL; entries are
// swept for expiry every ttl/2.
func NewRoomServerCaches(ttl time.Duration) RoomServerCaches {
	sweep := ttl / 2
	if sweep <= 0 {
		sweep = time.Minute
	}
	return RoomServerCaches{
		roomVersions: gocache.New(ttl, sweep),
		serverACLs:   gocache.New(ttl, sweep),
		events:       gocache.New(ttl, sweep),
	}
}

// GetRoomVersion returns a cached room version for roomID, if present.
func (c RoomServerCaches) GetRoomVersion(roomID string) (gomatrixserverlib.RoomVersion, bool) {
	v, ok := c.roomVersions.Get(roomID)
	if !ok {
		return "", false
	}
	return v.(gomatrixserverlib.RoomVersion), true
}

// StoreRoomVersion caches a room's version; room versions never change once
// a room is created, so this entry never needs invalidating, only eviction
// under memory pressure.
func (c RoomServerCaches) StoreRoomVersion(roomID string, version gomatrixserverlib.RoomVersion) {
	c.roomVersions.SetDefault(roomID, version)
}

// GetEvent returns a cached parsed event by ID.
func (c RoomServerCaches) GetEvent(eventID string) (gomatrixserverlib.Event, bool) {
	v, ok := c.events.Get(eventID)
	if !ok {
		return gomatrixserverlib.Event{}, false
	}
	return v.(gomatrixserverlib.Event), true
}

// StoreEvent caches a parsed event by ID.
func (c RoomServerCaches) StoreEvent(ev gomatrixserverlib.Event) {
	c.events.SetDefault(ev.EventID(), ev)
}

// InvalidateServerACL evicts a room's cached server ACL, called whenever a
// new m.room.server_acl event is accepted.
func (c RoomServerCaches) InvalidateServerACL(roomID string) {
	c.serverACLs.Delete(roomID)
}

// ServerKeyCache caches fetched ServerKeys, implementing
// gomatrixserverlib.KeyDatabase on top of an in-process expiring cache —
// suitable for a single-process deployment; a multi-process deployment
// would back this with the storage layer instead.
type ServerKeyCache struct {
	keys *gocache.Cache
}

// NewServerKeyCache builds a ServerKeyCache. Expiry is set per-entry via
// ServerKeys.CacheExpiry rather than a fixed TTL, so StoreKeys passes an
// explicit duration.
func NewServerKeyCache() *ServerKeyCache {
	return &ServerKeyCache{keys: gocache.New(gocache.NoExpiration, time.Hour)}
}

type serverKeyEntry struct {
	keys      gomatrixserverlib.ServerKeys
	fetchedAt time.Time
}

// FetchKeys implements gomatrixserverlib.KeyDatabase.
func (c *ServerKeyCache) FetchKeys(_ context.Context, serverName gomatrixserverlib.ServerName) (gomatrixserverlib.ServerKeys, bool, error) {
	v, ok := c.keys.Get(string(serverName))
	if !ok {
		return gomatrixserverlib.ServerKeys{}, false, nil
	}
	entry := v.(serverKeyEntry)
	return entry.keys, true, nil
}

// StoreKeys implements gomatrixserverlib.KeyDatabase.
func (c *ServerKeyCache) StoreKeys(_ context.Context, serverName gomatrixserverlib.ServerName, keys gomatrixserverlib.ServerKeys, fetchedAt time.Time) error {
	ttl := keys.CacheExpiry(fetchedAt).Sub(fetchedAt)
	c.keys.Set(string(serverName), serverKeyEntry{keys: keys, fetchedAt: fetchedAt}, ttl)
	return nil
}
