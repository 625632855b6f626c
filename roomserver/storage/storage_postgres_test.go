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

package storage_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/storage"
)

func TestPostgresDatabaseCreateRoomInfo(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO roomserver_rooms").
		WithArgs("!room:example.com", string(gomatrixserverlib.RoomVersionV9)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	p := storage.NewPostgresDatabaseFromConn(db)
	err = p.CreateRoomInfo(context.Background(), "!room:example.com", gomatrixserverlib.RoomVersionV9)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDatabaseRoomInfoPropagatesQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT room_version, is_stub FROM roomserver_rooms").
		WithArgs("!missing:example.com").
		WillReturnError(sqlmock.ErrCancelled)

	p := storage.NewPostgresDatabaseFromConn(db)
	_, err = p.RoomInfo(context.Background(), "!missing:example.com")
	require.Error(t, err)
}
