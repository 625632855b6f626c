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
	"time"

	"github.com/lib/pq"

	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
)

// PostgresDatabase is the production Database backend. Grounded on
// roomserver/storage.PostgresDatabase's plain database/sql + lib/pq idiom
// (plain ExecContext/QueryContext calls over sqlx-free database/sql).
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
CREATE TABLE IF NOT EXISTS federationapi_queue_pdus (
	id BIGSERIAL PRIMARY KEY,
	destination TEXT NOT NULL,
	event_id TEXT NOT NULL,
	room_id TEXT NOT NULL,
	event_json JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS federationapi_queue_pdus_dest_idx ON federationapi_queue_pdus(destination);
CREATE TABLE IF NOT EXISTS federationapi_queue_edus (
	id BIGSERIAL PRIMARY KEY,
	destination TEXT NOT NULL,
	edu_json JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS federationapi_queue_edus_dest_idx ON federationapi_queue_edus(destination);
CREATE TABLE IF NOT EXISTS federationapi_server_keys (
	server_name TEXT PRIMARY KEY,
	keys_json JSONB NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL
);
`

func (p *PostgresDatabase) AddPendingPDU(ctx context.Context, destination gomatrixserverlib.ServerName, event gomatrixserverlib.HeaderedEvent) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO federationapi_queue_pdus (destination, event_id, room_id, event_json) VALUES ($1, $2, $3, $4)`,
		string(destination), event.EventID(), event.RoomID(), []byte(event.JSON()),
	)
	return err
}

func (p *PostgresDatabase) AddPendingEDU(ctx context.Context, destination gomatrixserverlib.ServerName, edu gomatrixserverlib.EDU) error {
	raw, err := json.Marshal(edu)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO federationapi_queue_edus (destination, edu_json) VALUES ($1, $2)`,
		string(destination), raw,
	)
	return err
}

func (p *PostgresDatabase) GetPendingPDUs(ctx context.Context, destination gomatrixserverlib.ServerName, limit int) ([]PendingPDU, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT event_id, room_id, event_json FROM federationapi_queue_pdus WHERE destination = $1 ORDER BY id ASC LIMIT $2`,
		string(destination), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PendingPDU
	for rows.Next() {
		var pdu PendingPDU
		if err := rows.Scan(&pdu.EventID, &pdu.RoomID, &pdu.JSON); err != nil {
			return nil, err
		}
		out = append(out, pdu)
	}
	return out, rows.Err()
}

func (p *PostgresDatabase) GetPendingEDUs(ctx context.Context, destination gomatrixserverlib.ServerName, limit int) ([]PendingEDU, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, edu_json FROM federationapi_queue_edus WHERE destination = $1 ORDER BY id ASC LIMIT $2`,
		string(destination), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PendingEDU
	for rows.Next() {
		var edu PendingEDU
		if err := rows.Scan(&edu.ID, &edu.JSON); err != nil {
			return nil, err
		}
		out = append(out, edu)
	}
	return out, rows.Err()
}

func (p *PostgresDatabase) CleanPendingPDUs(ctx context.Context, destination gomatrixserverlib.ServerName, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM federationapi_queue_pdus WHERE destination = $1 AND event_id = ANY($2)`,
		string(destination), pq.Array(eventIDs),
	)
	return err
}

func (p *PostgresDatabase) CleanPendingEDUs(ctx context.Context, destination gomatrixserverlib.ServerName, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM federationapi_queue_edus WHERE destination = $1 AND id = ANY($2)`,
		string(destination), pq.Array(ids),
	)
	return err
}

func (p *PostgresDatabase) PendingDestinations(ctx context.Context) ([]gomatrixserverlib.ServerName, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT destination FROM federationapi_queue_pdus
		UNION
		SELECT destination FROM federationapi_queue_edus
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []gomatrixserverlib.ServerName
	for rows.Next() {
		var dest string
		if err := rows.Scan(&dest); err != nil {
			return nil, err
		}
		out = append(out, gomatrixserverlib.ServerName(dest))
	}
	return out, rows.Err()
}

func (p *PostgresDatabase) FetchKeys(ctx context.Context, serverName gomatrixserverlib.ServerName) (gomatrixserverlib.ServerKeys, bool, error) {
	var raw []byte
	var fetchedAt time.Time
	err := p.db.QueryRowContext(ctx,
		`SELECT keys_json, fetched_at FROM federationapi_server_keys WHERE server_name = $1`, string(serverName),
	).Scan(&raw, &fetchedAt)
	if err == sql.ErrNoRows {
		return gomatrixserverlib.ServerKeys{}, false, nil
	}
	if err != nil {
		return gomatrixserverlib.ServerKeys{}, false, err
	}
	var keys gomatrixserverlib.ServerKeys
	if err := json.Unmarshal(raw, &keys); err != nil {
		return gomatrixserverlib.ServerKeys{}, false, fmt.Errorf("storage: decoding cached server keys for %s: %w", serverName, err)
	}
	return keys, true, nil
}

func (p *PostgresDatabase) StoreKeys(ctx context.Context, serverName gomatrixserverlib.ServerName, keys gomatrixserverlib.ServerKeys, fetchedAt time.Time) error {
	raw, err := json.Marshal(keys)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO federationapi_server_keys (server_name, keys_json, fetched_at) VALUES ($1, $2, $3)
		ON CONFLICT (server_name) DO UPDATE SET keys_json = EXCLUDED.keys_json, fetched_at = EXCLUDED.fetched_at
	`, string(serverName), raw, fetchedAt)
	return err
}
