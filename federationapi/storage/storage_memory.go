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

package storage

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
)

// MemoryDatabase is the in-memory reference Database implementation, used by
// tests and single-process deployments that don't need durability across
// restarts. Grounded on roomserver/storage.MemoryDatabase's single
// mutex-guarded struct-of-maps shape.
type MemoryDatabase struct {
	mu sync.RWMutex

	pdus map[gomatrixserverlib.ServerName][]PendingPDU
	edus map[gomatrixserverlib.ServerName][]PendingEDU
	nextEDUID int64

	keys map[gomatrixserverlib.ServerName]keyEntry
}

type keyEntry struct {
	keys      gomatrixserverlib.ServerKeys
	fetchedAt time.Time
}

// NewMemoryDatabase constructs an empty MemoryDatabase.
func NewMemoryDatabase() *MemoryDatabase {
	return &MemoryDatabase{
		pdus: map[gomatrixserverlib.ServerName][]PendingPDU{},
		edus: map[gomatrixserverlib.ServerName][]PendingEDU{},
		keys: map[gomatrixserverlib.ServerName]keyEntry{},
	}
}

func (d *MemoryDatabase) AddPendingPDU(_ context.Context, destination gomatrixserverlib.ServerName, event gomatrixserverlib.HeaderedEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pdus[destination] = append(d.pdus[destination], PendingPDU{
		EventID: event.EventID(),
		RoomID:  event.RoomID(),
		JSON:    append([]byte(nil), event.JSON()...),
	})
	return nil
}

func (d *MemoryDatabase) AddPendingEDU(_ context.Context, destination gomatrixserverlib.ServerName, edu gomatrixserverlib.EDU) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextEDUID++
	raw, err := json.Marshal(edu)
	if err != nil {
		return err
	}
	d.edus[destination] = append(d.edus[destination], PendingEDU{ID: d.nextEDUID, JSON: raw})
	return nil
}

func (d *MemoryDatabase) GetPendingPDUs(_ context.Context, destination gomatrixserverlib.ServerName, limit int) ([]PendingPDU, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	pending := d.pdus[destination]
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return append([]PendingPDU(nil), pending...), nil
}

func (d *MemoryDatabase) GetPendingEDUs(_ context.Context, destination gomatrixserverlib.ServerName, limit int) ([]PendingEDU, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	pending := d.edus[destination]
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return append([]PendingEDU(nil), pending...), nil
}

func (d *MemoryDatabase) CleanPendingPDUs(_ context.Context, destination gomatrixserverlib.ServerName, eventIDs []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	remove := make(map[string]bool, len(eventIDs))
	for _, id := range eventIDs {
		remove[id] = true
	}
	kept := d.pdus[destination][:0]
	for _, p := range d.pdus[destination] {
		if !remove[p.EventID] {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		delete(d.pdus, destination)
	} else {
		d.pdus[destination] = kept
	}
	return nil
}

func (d *MemoryDatabase) CleanPendingEDUs(_ context.Context, destination gomatrixserverlib.ServerName, ids []int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	remove := make(map[int64]bool, len(ids))
	for _, id := range ids {
		remove[id] = true
	}
	kept := d.edus[destination][:0]
	for _, e := range d.edus[destination] {
		if !remove[e.ID] {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(d.edus, destination)
	} else {
		d.edus[destination] = kept
	}
	return nil
}

func (d *MemoryDatabase) PendingDestinations(_ context.Context) ([]gomatrixserverlib.ServerName, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	seen := map[gomatrixserverlib.ServerName]bool{}
	var out []gomatrixserverlib.ServerName
	for dest := range d.pdus {
		if !seen[dest] {
			seen[dest] = true
			out = append(out, dest)
		}
	}
	for dest := range d.edus {
		if !seen[dest] {
			seen[dest] = true
			out = append(out, dest)
		}
	}
	return out, nil
}

func (d *MemoryDatabase) FetchKeys(_ context.Context, serverName gomatrixserverlib.ServerName) (gomatrixserverlib.ServerKeys, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.keys[serverName]
	if !ok {
		return gomatrixserverlib.ServerKeys{}, false, nil
	}
	return entry.keys, true, nil
}

func (d *MemoryDatabase) StoreKeys(_ context.Context, serverName gomatrixserverlib.ServerName, keys gomatrixserverlib.ServerKeys, fetchedAt time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys[serverName] = keyEntry{keys: keys, fetchedAt: fetchedAt}
	return nil
}
