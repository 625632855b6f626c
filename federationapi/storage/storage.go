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

// Package storage defines the federationapi's persistence contract: the
// durable backing for OutgoingQueues' per-destination pending PDU/EDU
// queues, plus the server-key cache gomatrixserverlib.KeyRing reads through.
// Grounded on roomserver/storage's contract-plus-two-implementations shape
// (storage.go here mirrors roomserver/storage/storage.go; storage_memory.go
// mirrors storage_memory.go).
package storage

import (
	"context"

	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
)

// PendingPDU is one event queued for delivery to a destination.
type PendingPDU struct {
	EventID string
	RoomID  string
	JSON    []byte
}

// PendingEDU is one ephemeral unit queued for delivery to a destination.
// EDUs ride the same durable per-destination queue as PDUs, so a
// transaction batches both together and a failed transaction leaves both
// queued for the next attempt.
type PendingEDU struct {
	ID   int64
	JSON []byte
}

// Database is the federationapi's storage contract. The in-memory
// implementation (storage_memory.go) is sufficient for a single-process
// deployment and for tests; a production deployment backs this with
// Postgres the way roomserver/storage does, following the same contract.
type Database interface {
	gomatrixserverlib.KeyDatabase

	// AddPendingPDU queues event for delivery to destination.
	AddPendingPDU(ctx context.Context, destination gomatrixserverlib.ServerName, event gomatrixserverlib.HeaderedEvent) error
	// AddPendingEDU queues edu for delivery to destination.
	AddPendingEDU(ctx context.Context, destination gomatrixserverlib.ServerName, edu gomatrixserverlib.EDU) error
	// GetPendingPDUs returns up to limit queued events for destination, in
	// the order they were queued.
	GetPendingPDUs(ctx context.Context, destination gomatrixserverlib.ServerName, limit int) ([]PendingPDU, error)
	// GetPendingEDUs returns up to limit queued EDUs for destination.
	GetPendingEDUs(ctx context.Context, destination gomatrixserverlib.ServerName, limit int) ([]PendingEDU, error)
	// CleanPendingPDUs removes the named events from destination's queue,
	// called once a transaction carrying them has been accepted.
	CleanPendingPDUs(ctx context.Context, destination gomatrixserverlib.ServerName, eventIDs []string) error
	// CleanPendingEDUs removes the named EDUs from destination's queue.
	CleanPendingEDUs(ctx context.Context, destination gomatrixserverlib.ServerName, ids []int64) error
	// PendingDestinations returns every destination with at least one queued
	// PDU or EDU, the set OutgoingQueues restores worker goroutines for on
	// startup.
	PendingDestinations(ctx context.Context) ([]gomatrixserverlib.ServerName, error)
}
