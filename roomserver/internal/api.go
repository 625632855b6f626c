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

// Package internal composes the roomserver's write side (input.Inputer),
// read side (query.Queryer), and orchestration surface
// (roomserver/internal/perform's Creator/Joiner/Inviter/Leaver/Knocker/
// Peeker/Unpeeker/Forgetter/Backfiller) into the single RoomserverInternalAPI
// every other component depends on.
package internal

import (
	fedapi "github.com/EdGeraghty/FERRETCANNON-sub006/federationapi/api"
	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
	"github.com/EdGeraghty/FERRETCANNON-sub006/internal/caching"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/acls"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/api"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/internal/input"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/internal/perform"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/internal/query"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/storage"
	"github.com/nats-io/nats.go"
)

// RoomserverInternalAPI is the concrete implementation of
// api.RoomserverInternalAPI.
type RoomserverInternalAPI struct {
	*input.Inputer
	*query.Queryer
	*perform.Creator
	*perform.Joiner
	*perform.Inviter
	*perform.Leaver
	*perform.Knocker
	*perform.Peeker
	*perform.Unpeeker
	*perform.Forgetter
	*perform.Backfiller

	DB                   storage.Database
	ServerName           gomatrixserverlib.ServerName
	Identity             gomatrixserverlib.SigningIdentity
	JetStream            nats.JetStreamContext
	OutputRoomEventTopic string
	Cache                caching.RoomServerCaches
	ACLs                 *acls.ServerACLs

	fsAPI fedapi.FederationInternalAPI
}

var _ api.RoomserverInternalAPI = (*RoomserverInternalAPI)(nil)

// NewRoomserverAPI builds the parts of the roomserver that don't depend on
// federation: the read side and the performers that never leave the local
// server (Peeker, Unpeeker, Forgetter). Call SetFederationAPI once a
// federationapi.FederationInternalAPI is available to complete construction
// — Inputer and the remaining performers all need somewhere to send
// make_join/send_join-style traffic, and federationapi in turn needs this
// roomserver's Queryer (via its RoomServerQuerier field) to know which
// servers are joined to a room, so neither side can be fully built first.
func NewRoomserverAPI(
	db storage.Database,
	js nats.JetStreamContext,
	outputRoomEventTopic string,
	serverName gomatrixserverlib.ServerName,
	identity gomatrixserverlib.SigningIdentity,
	cache caching.RoomServerCaches,
) *RoomserverInternalAPI {
	queryer := query.NewQueryer(db)
	return &RoomserverInternalAPI{
		DB:                   db,
		ServerName:           serverName,
		Identity:             identity,
		JetStream:            js,
		OutputRoomEventTopic: outputRoomEventTopic,
		Cache:                cache,
		ACLs:                 acls.NewServerACLs(cache),
		Queryer:              queryer,
		Peeker:               perform.NewPeeker(db, js, outputRoomEventTopic),
		Unpeeker:             perform.NewUnpeeker(db, js, outputRoomEventTopic),
		Forgetter:            &perform.Forgetter{DB: db},
	}
}

// SetFederationAPI completes construction once a federation internal API is
// available, wiring the Inputer and the federation-capable performers
// (Joiner, Inviter, Leaver, Knocker, Backfiller) to it.
func (r *RoomserverInternalAPI) SetFederationAPI(fsAPI fedapi.FederationInternalAPI) {
	r.fsAPI = fsAPI
	r.Inputer = input.NewInputer(r.DB, fsAPI, r.JetStream, r.OutputRoomEventTopic, r.ServerName)
	r.Inputer.ACLs = r.ACLs

	r.Creator = &perform.Creator{
		DB:              r.DB,
		Inputer:         r.Inputer,
		Queryer:         r.Queryer,
		Identity:        r.Identity,
		LocalServerName: r.ServerName,
	}
	r.Joiner = &perform.Joiner{
		DB:              r.DB,
		FSAPI:           fsAPI,
		Inputer:         r.Inputer,
		Queryer:         r.Queryer,
		Identity:        r.Identity,
		LocalServerName: r.ServerName,
	}
	r.Inviter = &perform.Inviter{
		DB:              r.DB,
		FSAPI:           fsAPI,
		Inputer:         r.Inputer,
		LocalServerName: r.ServerName,
	}
	r.Leaver = &perform.Leaver{
		DB:              r.DB,
		FSAPI:           fsAPI,
		Inputer:         r.Inputer,
		Queryer:         r.Queryer,
		Identity:        r.Identity,
		LocalServerName: r.ServerName,
	}
	r.Knocker = &perform.Knocker{
		DB:              r.DB,
		FSAPI:           fsAPI,
		Inputer:         r.Inputer,
		Queryer:         r.Queryer,
		Identity:        r.Identity,
		LocalServerName: r.ServerName,
	}
	r.Backfiller = &perform.Backfiller{
		DB:      r.DB,
		FSAPI:   fsAPI,
		Inputer: r.Inputer,
	}
}
