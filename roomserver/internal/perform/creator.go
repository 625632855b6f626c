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

package perform

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/EdGeraghty/FERRETCANNON-sub006/gomatrixserverlib"
	"github.com/EdGeraghty/FERRETCANNON-sub006/internal/eventutil"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/api"
	"github.com/EdGeraghty/FERRETCANNON-sub006/roomserver/storage"
)

// Creator implements PerformCreateRoom: the client-facing POST /createRoom
// operation, building the initial event graph (create, creator's own join,
// power_levels, join_rules, history_visibility, any InitialState overrides)
// one event at a time, each one building on the room state the previous
// left behind — the same one-event-at-a-time idiom Joiner/Knocker use to
// seed a room from a federated join/knock.
type Creator struct {
	DB              storage.Database
	Inputer         api.RoomserverInputAPI
	Queryer         api.RoomserverQueryAPI
	Identity        gomatrixserverlib.SigningIdentity
	LocalServerName gomatrixserverlib.ServerName
}

// defaultRoomVersion is used when a PerformCreateRoomRequest doesn't name
// one explicitly.
const defaultRoomVersion = gomatrixserverlib.RoomVersionV9

func (c *Creator) PerformCreateRoom(ctx context.Context, req *api.PerformCreateRoomRequest, res *api.PerformCreateRoomResponse) error {
	roomVersion := req.RoomVersion
	if roomVersion == "" {
		roomVersion = defaultRoomVersion
	}

	roomID, err := newRoomID(c.LocalServerName)
	if err != nil {
		return fmt.Errorf("perform: generating room ID: %w", err)
	}

	if err := c.DB.CreateRoomInfo(ctx, roomID, roomVersion); err != nil {
		return fmt.Errorf("perform: registering room: %w", err)
	}

	if err := c.createAndInput(ctx, roomID, roomVersion, req.UserID, "m.room.create", "", map[string]interface{}{
		"creator":      req.UserID,
		"room_version": string(roomVersion),
	}); err != nil {
		return err
	}

	if err := c.buildAndInput(ctx, roomID, req.UserID, "m.room.member", req.UserID, map[string]interface{}{
		"membership": "join",
	}); err != nil {
		return fmt.Errorf("perform: creator join event: %w", err)
	}

	if err := c.buildAndInput(ctx, roomID, req.UserID, "m.room.power_levels", "", defaultPowerLevelsContent(req.UserID)); err != nil {
		return fmt.Errorf("perform: power_levels event: %w", err)
	}

	joinRule, historyVisibility := presetDefaults(req.Preset)
	if err := c.buildAndInput(ctx, roomID, req.UserID, "m.room.join_rules", "", map[string]interface{}{
		"join_rule": joinRule,
	}); err != nil {
		return fmt.Errorf("perform: join_rules event: %w", err)
	}
	if err := c.buildAndInput(ctx, roomID, req.UserID, "m.room.history_visibility", "", map[string]interface{}{
		"history_visibility": historyVisibility,
	}); err != nil {
		return fmt.Errorf("perform: history_visibility event: %w", err)
	}

	if req.Name != "" {
		if err := c.buildAndInput(ctx, roomID, req.UserID, "m.room.name", "", map[string]interface{}{"name": req.Name}); err != nil {
			return fmt.Errorf("perform: name event: %w", err)
		}
	}
	if req.Topic != "" {
		if err := c.buildAndInput(ctx, roomID, req.UserID, "m.room.topic", "", map[string]interface{}{"topic": req.Topic}); err != nil {
			return fmt.Errorf("perform: topic event: %w", err)
		}
	}

	for i := range req.InitialState {
		proto := req.InitialState[i]
		proto.RoomID = roomID
		proto.Sender = req.UserID
		if err := c.buildProtoAndInput(ctx, &proto); err != nil {
			return fmt.Errorf("perform: initial_state event %d: %w", i, err)
		}
	}

	res.RoomID = roomID
	return nil
}

// createAndInput builds and signs the m.room.create event directly: it has
// no auth_events/prev_events by definition (gomatrixserverlib.auth.go's
// stateNeededForEvent special-cases it the same way), so it can't go
// through eventutil.QueryAndBuildEvent, which requires at least one state
// tuple to fetch.
func (c *Creator) createAndInput(ctx context.Context, roomID string, roomVersion gomatrixserverlib.RoomVersion, sender, eventType, stateKey string, content map[string]interface{}) error {
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("perform: marshalling create content: %w", err)
	}
	proto := gomatrixserverlib.ProtoEvent{
		RoomID:   roomID,
		Sender:   sender,
		Type:     eventType,
		StateKey: &stateKey,
		Content:  contentJSON,
		Depth:    1,
	}
	builder := gomatrixserverlib.EventBuilder{ProtoEvent: proto, RoomVersion: roomVersion}
	event, err := builder.Build(time.Now(), c.Identity.ServerName, c.Identity.KeyID, c.Identity.PrivateKey)
	if err != nil {
		return fmt.Errorf("perform: signing create event: %w", err)
	}
	headered := event.Headered(roomVersion)

	var inputRes api.InputRoomEventsResponse
	c.Inputer.InputRoomEvents(ctx, &api.InputRoomEventsRequest{
		InputRoomEvents: []api.InputRoomEvent{{Kind: api.KindNew, Event: headered}},
	}, &inputRes)
	if inputRes.ErrMsg != "" {
		return fmt.Errorf("perform: create event rejected: %s", inputRes.ErrMsg)
	}
	return nil
}

func (c *Creator) buildAndInput(ctx context.Context, roomID, sender, eventType, stateKey string, content map[string]interface{}) error {
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("perform: marshalling content: %w", err)
	}
	proto := gomatrixserverlib.ProtoEvent{
		RoomID:   roomID,
		Sender:   sender,
		Type:     eventType,
		StateKey: &stateKey,
		Content:  contentJSON,
	}
	return c.buildProtoAndInput(ctx, &proto)
}

func (c *Creator) buildProtoAndInput(ctx context.Context, proto *gomatrixserverlib.ProtoEvent) error {
	var queryRes api.QueryLatestEventsAndStateResponse
	event, err := eventutil.QueryAndBuildEvent(ctx, proto, c.Identity, time.Now(), c.Queryer, &queryRes)
	if err != nil {
		return err
	}
	var inputRes api.InputRoomEventsResponse
	c.Inputer.InputRoomEvents(ctx, &api.InputRoomEventsRequest{
		InputRoomEvents: []api.InputRoomEvent{{Kind: api.KindNew, Event: *event}},
	}, &inputRes)
	if inputRes.ErrMsg != "" {
		return fmt.Errorf("event rejected: %s", inputRes.ErrMsg)
	}
	return nil
}

// defaultPowerLevelsContent mirrors the matrix.org CS API's documented
// createRoom power_levels defaults, granting the creator level 100.
func defaultPowerLevelsContent(creator string) map[string]interface{} {
	return map[string]interface{}{
		"ban":             50,
		"kick":            50,
		"redact":          50,
		"invite":          0,
		"state_default":   50,
		"events_default":  0,
		"users_default":   0,
		"users":           map[string]interface{}{creator: 100},
		"events": map[string]interface{}{
			"m.room.power_levels":       100,
			"m.room.name":               50,
			"m.room.topic":              50,
			"m.room.avatar":             50,
			"m.room.canonical_alias":    50,
			"m.room.history_visibility": 100,
			"m.room.tombstone":          100,
			"m.room.server_acl":         100,
			"m.room.encryption":         100,
		},
		"notifications": map[string]interface{}{"room": 50},
	}
}

// presetDefaults maps a createRoom preset to its join_rule/history_visibility
// defaults (matrix.org CS API §10.1). Unrecognized presets fall back to
// private_chat's defaults.
func presetDefaults(preset string) (joinRule, historyVisibility string) {
	switch preset {
	case "public_chat":
		return "public", "shared"
	default:
		return "invite", "shared"
	}
}

func newRoomID(serverName gomatrixserverlib.ServerName) (string, error) {
	var buf [12]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return fmt.Sprintf("!%s:%s", base64.RawURLEncoding.EncodeToString(buf[:]), serverName), nil
}
