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

import "github.com/tidwall/sjson"

// allowedContentKeys lists, per event type, the content keys that survive
// redaction. Event types not listed here lose their entire content. This
// table is purely structural and deterministic: the same event always
// redacts to the same bytes.
var allowedContentKeys = map[string][]string{
	"m.room.member":            {"membership", "join_authorised_via_users_server"},
	"m.room.create":            {"creator"},
	"m.room.join_rules":        {"join_rule", "allow"},
	"m.room.power_levels": {
		"ban", "events", "events_default", "kick", "redact", "state_default",
		"users", "users_default", "invite",
	},
	"m.room.history_visibility": {"history_visibility"},
	"m.room.redaction":          {"redact_id"},
	"m.room.aliases":            {"aliases"},
}

// topLevelAllowedKeys are the event envelope keys a redacted event keeps;
// every other key, "unsigned" included, is dropped. "content" is listed but
// rebuilt separately from allowedContentKeys.
var topLevelAllowedKeys = []string{
	"event_id", "type", "room_id", "sender", "state_key", "content", "hashes",
	"signatures", "depth", "prev_events", "auth_events", "origin", "origin_server_ts",
	"membership",
}

// RedactEventJSON returns the redacted canonical form of an event's raw JSON:
// the content object is pruned to the per-type whitelist and every envelope
// key outside topLevelAllowedKeys is removed. Redaction never touches
// `hashes`, since the reference hash is computed over the redacted form with
// hashes retained.
func RedactEventJSON(eventType string, eventJSON []byte) ([]byte, error) {
	var raw map[string]interface{}
	if err := unmarshalJSON(eventJSON, &raw); err != nil {
		return nil, err
	}

	allowedContent, ok := allowedContentKeys[eventType]
	if !ok {
		allowedContent = nil
	}

	content, _ := raw["content"].(map[string]interface{})
	prunedContent := make(map[string]interface{}, len(allowedContent))
	for _, key := range allowedContent {
		if v, ok := content[key]; ok {
			prunedContent[key] = v
		}
	}

	out := make(map[string]interface{}, len(topLevelAllowedKeys))
	for _, key := range topLevelAllowedKeys {
		if key == "content" {
			continue
		}
		if v, ok := raw[key]; ok {
			out[key] = v
		}
	}
	out["content"] = prunedContent

	return marshalJSON(out)
}

// redactInPlace applies RedactEventJSON and, if the content whitelist left
// nothing behind, removes the now-empty "content" key entirely so the
// redacted form matches what a minimal event would produce.
func redactInPlace(eventType string, eventJSON []byte) ([]byte, error) {
	redacted, err := RedactEventJSON(eventType, eventJSON)
	if err != nil {
		return nil, err
	}
	if gjsonGet(redacted, "content").IsObject() && len(gjsonGet(redacted, "content").Map()) == 0 {
		redacted, err = sjson.DeleteBytes(redacted, "content")
		if err != nil {
			return nil, err
		}
	}
	return redacted, nil
}
