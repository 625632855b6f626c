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
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ed25519"
)

func mustSigningIdentity(t *testing.T) (SigningIdentity, ed25519.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return SigningIdentity{
		ServerName: "example.com",
		KeyID:      "ed25519:1",
		PrivateKey: priv,
	}, pub
}

func TestEventBuilderRoundTrip(t *testing.T) {
	identity, pub := mustSigningIdentity(t)

	b := NewEventBuilder(RoomVersionV9)
	b.RoomID = "!room:example.com"
	b.Sender = "@alice:example.com"
	b.Type = "m.room.message"
	b.PrevEvents = []string{}
	b.AuthEvents = []string{}
	require.NoError(t, b.SetContent(map[string]string{"body": "hello"}))

	ev, err := b.Build(time.Unix(0, 0), identity.ServerName, identity.KeyID, identity.PrivateKey)
	require.NoError(t, err)

	assert.NotEmpty(t, ev.EventID())
	assert.Equal(t, "m.room.message", ev.Type())

	valid, err := ev.ContentValid()
	require.NoError(t, err)
	assert.True(t, valid)

	ok, err := VerifyEventSignature(*ev, identity.ServerName, pub)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEventIDIsStableUnderReparsing(t *testing.T) {
	identity, _ := mustSigningIdentity(t)
	b := NewEventBuilder(RoomVersionV9)
	b.RoomID = "!room:example.com"
	b.Sender = "@alice:example.com"
	b.Type = "m.room.create"
	require.NoError(t, b.SetContent(map[string]string{"creator": "@alice:example.com"}))

	ev, err := b.Build(time.Unix(100, 0), identity.ServerName, identity.KeyID, identity.PrivateKey)
	require.NoError(t, err)

	reparsed, err := NewEventFromUntrustedJSON(ev.JSON(), RoomVersionV9)
	require.NoError(t, err)
	assert.Equal(t, ev.EventID(), reparsed.EventID())
}

func TestRedactStripsDisallowedContentKeys(t *testing.T) {
	identity, _ := mustSigningIdentity(t)
	b := NewEventBuilder(RoomVersionV9)
	b.RoomID = "!room:example.com"
	b.Sender = "@alice:example.com"
	b.Type = "m.room.member"
	sk := "@alice:example.com"
	b.StateKey = &sk
	require.NoError(t, b.SetContent(map[string]string{
		"membership":  "join",
		"displayname": "Alice",
	}))

	ev, err := b.Build(time.Unix(0, 0), identity.ServerName, identity.KeyID, identity.PrivateKey)
	require.NoError(t, err)

	redacted, err := ev.Redact()
	require.NoError(t, err)

	var content struct {
		Membership  string `json:"membership"`
		DisplayName string `json:"displayname"`
	}
	require.NoError(t, unmarshalJSON(redacted.Content(), &content))
	assert.Equal(t, "join", content.Membership)
	assert.Empty(t, content.DisplayName)
}

func TestRedactionPreservesReferenceHash(t *testing.T) {
	identity, _ := mustSigningIdentity(t)
	b := NewEventBuilder(RoomVersionV9)
	b.RoomID = "!room:example.com"
	b.Sender = "@alice:example.com"
	b.Type = "m.room.message"
	require.NoError(t, b.SetContent(map[string]string{"body": "hello", "extra": "dropped on redaction"}))

	ev, err := b.Build(time.Unix(0, 0), identity.ServerName, identity.KeyID, identity.PrivateKey)
	require.NoError(t, err)

	before := ev.EventReference()
	redacted, err := ev.Redact()
	require.NoError(t, err)
	after := redacted.EventReference()

	assert.Equal(t, before.EventSHA256, after.EventSHA256)
}
