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
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
)

// PostgresDatabase is the production Database backend, storing events,
// state groups, and membership in Postgres tables. Grounded on the plain
// database/sql + lib/pq usage the pack's Postgres-backed storage packages
// use (plain ExecContext/QueryContext calls over sqlx-free database/sql), traded off against
// dendrite's sqlutil migration framework for this module's smaller schema.
type PostgresDatabase struct {
	db *sql.DB
}

// NewPostgresDatabase opens dataSourceName and ensures the schema exists.
func NewPostgresDatabase(dataSourceName string) (*PostgresDatabase, error) {
	db, err := sql.Open("postgres", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("storage: opening postgres: %w", err)
	}
	p := &PostgresDatabase{db: db}
	if err := p.migrate(context.Background()); err != nil {
		return nil, err
	}
	return p, nil
}

// NewPostgresDatabaseFromConn wraps an already-open *sql.DB, the shape
// go-sqlmock tests construct against.
func NewPostgresDatabaseFromConn(db *sql.DB) *PostgresDatabase {
	return &PostgresDatabase{db: db}
}

func (p *PostgresDatabase) migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS roomserver_rooms (
	room_id TEXT PRIMARY KEY,
	room_version TEXT NOT NULL,
	is_stub BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE TABLE IF NOT EXISTS roomserver_events (
	event_id TEXT PRIMARY KEY,
	room_id TEXT NOT NULL,
	room_version TEXT NOT NULL,
	event_json JSONB NOT NULL,
	rejected BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE TABLE IF NOT EXISTS roomserver_state_groups (
	state_group BIGSERIAL PRIMARY KEY,
	event_type TEXT NOT NULL,
	state_key TEXT NOT NULL,
	event_id TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS roomserver_state_at_event (
	event_id TEXT PRIMARY KEY,
	state_group BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS roomserver_latest_events (
	room_id TEXT PRIMARY KEY,
	event_ids TEXT[] NOT NULL,
	depth BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS roomserver_membership (
	room_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	membership TEXT NOT NULL,
	event_id TEXT NOT NULL,
	PRIMARY KEY (room_id, user_id)
);
CREATE TABLE IF NOT EXISTS roomserver_forgotten (
	room_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	forgotten BOOLEAN NOT NULL,
	PRIMARY KEY (room_id, user_id)
);
CREATE TABLE IF NOT EXISTS roomserver_peeks (
	room_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	server_name TEXT NOT NULL,
	PRIMARY KEY (room_id, user_id)
);
`

func (p *PostgresDatabase) RoomInfo(ctx context.Context, roomID string) (*RoomInfo, error) {
	var ri RoomInfo
	ri.RoomID = roomID
	var version string
	err := p.db.QueryRowContext(ctx,
		`SELECT room_version, is_stub FROM roomserver_rooms WHERE room_id = $1`, roomID,
	).Scan(&version, &ri.IsStub)
	if err == sql.ErrNoRows {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	ri.RoomVersion = gomatrixserverlib.RoomVersion(version)
	return &ri, nil
}

func (p *PostgresDatabase) CreateRoomInfo(ctx context.Context, roomID string, version gomatrixserverlib.RoomVersion) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO roomserver_rooms (room_id, room_version) VALUES ($1, $2)
		 ON CONFLICT (room_id) DO NOTHING`, roomID, string(version))
	return err
}

func (p *PostgresDatabase) EventsFromIDs(ctx context.Context, eventIDs []string) ([]gomatrixserverlib.HeaderedEvent, error) {
	out := make([]gomatrixserverlib.HeaderedEvent, 0, len(eventIDs))
	for _, id := range eventIDs {
		var eventJSON []byte
		var version string
		err := p.db.QueryRowContext(ctx,
			`SELECT event_json, room_version FROM roomserver_events WHERE event_id = $1`, id,
		).Scan(&eventJSON, &version)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, err
		}
		ev, err := gomatrixserverlib.NewEventFromUntrustedJSON(eventJSON, gomatrixserverlib.RoomVersion(version))
		if err != nil {
			return nil, fmt.Errorf("storage: decoding stored event %s: %w", id, err)
		}
		out = append(out, ev.Headered(gomatrixserverlib.RoomVersion(version)))
	}
	return out, nil
}

func (p *PostgresDatabase) StoreEvent(ctx context.Context, event gomatrixserverlib.HeaderedEvent, isRejected bool) (string, *gomatrixserverlib.Event, error) {
	eventJSON, err := json.Marshal(event.Event)
	if err != nil {
		return "", nil, err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO roomserver_events (event_id, room_id, room_version, event_json, rejected)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (event_id) DO UPDATE SET rejected = EXCLUDED.rejected`,
		event.EventID(), event.RoomID(), string(event.RoomVersion), eventJSON, isRejected)
	if err != nil {
		return "", nil, err
	}

	if event.Type() == "m.room.redaction" && event.Redacts() != "" {
		targets, err := p.EventsFromIDs(ctx, []string{event.Redacts()})
		if err != nil {
			return "", nil, err
		}
		if len(targets) == 1 {
			target := targets[0].Event
			if redacted, err := target.Redact(); err == nil {
				target = redacted
			}
			redactedJSON, err := json.Marshal(target)
			if err != nil {
				return "", nil, err
			}
			if _, err := p.db.ExecContext(ctx,
				`UPDATE roomserver_events SET event_json = $1 WHERE event_id = $2`,
				redactedJSON, event.Redacts(),
			); err != nil {
				return "", nil, err
			}
			redactionEvent := event.Event
			return event.Redacts(), &redactionEvent, nil
		}
	}
	return "", nil, nil
}

func (p *PostgresDatabase) IsRejected(ctx context.Context, eventID string) (bool, error) {
	var rejected bool
	err := p.db.QueryRowContext(ctx,
		`SELECT rejected FROM roomserver_events WHERE event_id = $1`, eventID,
	).Scan(&rejected)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return rejected, err
}

func (p *PostgresDatabase) StateEntriesForEventIDs(ctx context.Context, eventIDs []string) ([]StateEntry, error) {
	events, err := p.EventsFromIDs(ctx, eventIDs)
	if err != nil {
		return nil, err
	}
	out := make([]StateEntry, 0, len(events))
	for _, ev := range events {
		if ev.StateKey() == nil {
			continue
		}
		out = append(out, StateEntry{
			StateKeyTuple: gomatrixserverlib.StateKeyTuple{EventType: ev.Type(), StateKey: *ev.StateKey()},
			EventID:       ev.EventID(),
		})
	}
	return out, nil
}

func (p *PostgresDatabase) AddState(ctx context.Context, _ string, baseStateGroup int64, removed, added []StateEntry) (int64, error) {
	base, err := p.StateEntriesForGroup(ctx, baseStateGroup)
	if err != nil {
		return 0, err
	}
	for _, r := range removed {
		delete(base, r.StateKeyTuple)
	}
	for _, a := range added {
		base[a.StateKeyTuple] = a.EventID
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback() // nolint:errcheck

	var groupID int64
	for tuple, eventID := range base {
		if err := tx.QueryRowContext(ctx,
			`INSERT INTO roomserver_state_groups (event_type, state_key, event_id) VALUES ($1, $2, $3)
			 RETURNING state_group`,
			tuple.EventType, tuple.StateKey, eventID,
		).Scan(&groupID); err != nil {
			return 0, err
		}
	}
	return groupID, tx.Commit()
}

// StateEntriesForGroup rebuilds a state group's map by replaying every row
// tagged with that group ID. Simplified relative to dendrite's real
// shared-group dedup scheme for this module's scale.
func (p *PostgresDatabase) StateEntriesForGroup(ctx context.Context, stateGroup int64) (map[gomatrixserverlib.StateKeyTuple]string, error) {
	out := map[gomatrixserverlib.StateKeyTuple]string{}
	if stateGroup == 0 {
		return out, nil
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT event_type, state_key, event_id FROM roomserver_state_groups WHERE state_group = $1`, stateGroup)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var t gomatrixserverlib.StateKeyTuple
		var eventID string
		if err := rows.Scan(&t.EventType, &t.StateKey, &eventID); err != nil {
			return nil, err
		}
		out[t] = eventID
	}
	return out, rows.Err()
}

func (p *PostgresDatabase) SetState(ctx context.Context, eventID string, stateGroup int64) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO roomserver_state_at_event (event_id, state_group) VALUES ($1, $2)
		 ON CONFLICT (event_id) DO UPDATE SET state_group = EXCLUDED.state_group`,
		eventID, stateGroup)
	return err
}

func (p *PostgresDatabase) StateAtEvent(ctx context.Context, eventID string) (StateAtEvent, bool, error) {
	var sg int64
	err := p.db.QueryRowContext(ctx,
		`SELECT state_group FROM roomserver_state_at_event WHERE event_id = $1`, eventID,
	).Scan(&sg)
	if err == sql.ErrNoRows {
		return StateAtEvent{}, false, nil
	}
	if err != nil {
		return StateAtEvent{}, false, err
	}
	return StateAtEvent{BeforeStateGroup: sg}, true, nil
}

func (p *PostgresDatabase) LatestEvents(ctx context.Context, roomID string) ([]string, int64, error) {
	var eventIDs []string
	var depth int64
	err := p.db.QueryRowContext(ctx,
		`SELECT event_ids, depth FROM roomserver_latest_events WHERE room_id = $1`, roomID,
	).Scan(pq.Array(&eventIDs), &depth)
	if err == sql.ErrNoRows {
		return nil, 0, nil
	}
	return eventIDs, depth, err
}

func (p *PostgresDatabase) SetLatestEvents(ctx context.Context, roomID string, eventIDs []string, depth int64) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO roomserver_latest_events (room_id, event_ids, depth) VALUES ($1, $2, $3)
		 ON CONFLICT (room_id) DO UPDATE SET event_ids = EXCLUDED.event_ids, depth = EXCLUDED.depth`,
		roomID, pq.Array(eventIDs), depth)
	return err
}

func (p *PostgresDatabase) MembershipForUser(ctx context.Context, roomID, userID string) (string, bool, error) {
	var membership string
	err := p.db.QueryRowContext(ctx,
		`SELECT membership FROM roomserver_membership WHERE room_id = $1 AND user_id = $2`, roomID, userID,
	).Scan(&membership)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	return membership, err == nil, err
}

func (p *PostgresDatabase) SetMembership(ctx context.Context, roomID, userID, membership, eventID string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO roomserver_membership (room_id, user_id, membership, event_id) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (room_id, user_id) DO UPDATE SET membership = EXCLUDED.membership, event_id = EXCLUDED.event_id`,
		roomID, userID, membership, eventID)
	return err
}

func (p *PostgresDatabase) LocalJoinedUsers(ctx context.Context, roomID string, localServerName gomatrixserverlib.ServerName) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT user_id FROM roomserver_membership WHERE room_id = $1 AND membership = 'join'`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		if _, domain, err := gomatrixserverlib.SplitID('@', userID); err == nil && gomatrixserverlib.ServerName(domain) == localServerName {
			out = append(out, userID)
		}
	}
	return out, rows.Err()
}

func (p *PostgresDatabase) ForgottenRooms(ctx context.Context, userID string) (map[string]bool, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT room_id, forgotten FROM roomserver_forgotten WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]bool{}
	for rows.Next() {
		var roomID string
		var forgotten bool
		if err := rows.Scan(&roomID, &forgotten); err != nil {
			return nil, err
		}
		if forgotten {
			out[roomID] = true
		}
	}
	return out, rows.Err()
}

func (p *PostgresDatabase) SetForgotten(ctx context.Context, userID, roomID string, forgotten bool) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO roomserver_forgotten (room_id, user_id, forgotten) VALUES ($1, $2, $3)
		 ON CONFLICT (room_id, user_id) DO UPDATE SET forgotten = EXCLUDED.forgotten`,
		roomID, userID, forgotten)
	return err
}

func (p *PostgresDatabase) JoinedServersInRoom(ctx context.Context, roomID string) ([]gomatrixserverlib.ServerName, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT user_id FROM roomserver_membership WHERE room_id = $1 AND membership = 'join'`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	seen := map[gomatrixserverlib.ServerName]bool{}
	var out []gomatrixserverlib.ServerName
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		_, domain, err := gomatrixserverlib.SplitID('@', userID)
		if err != nil {
			continue
		}
		serverName := gomatrixserverlib.ServerName(domain)
		if !seen[serverName] {
			seen[serverName] = true
			out = append(out, serverName)
		}
	}
	return out, rows.Err()
}

func (p *PostgresDatabase) AddPeek(ctx context.Context, roomID, userID string, serverName gomatrixserverlib.ServerName) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO roomserver_peeks (room_id, user_id, server_name) VALUES ($1, $2, $3)
		 ON CONFLICT (room_id, user_id) DO UPDATE SET server_name = EXCLUDED.server_name`,
		roomID, userID, string(serverName))
	return err
}

func (p *PostgresDatabase) DeletePeek(ctx context.Context, roomID, userID string) error {
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM roomserver_peeks WHERE room_id = $1 AND user_id = $2`, roomID, userID)
	return err
}

func (p *PostgresDatabase) PeekingServers(ctx context.Context, roomID string) ([]gomatrixserverlib.ServerName, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT DISTINCT server_name FROM roomserver_peeks WHERE room_id = $1`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []gomatrixserverlib.ServerName
	for rows.Next() {
		var serverName string
		if err := rows.Scan(&serverName); err != nil {
			return nil, err
		}
		out = append(out, gomatrixserverlib.ServerName(serverName))
	}
	return out, rows.Err()
}
