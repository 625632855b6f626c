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
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/crypto/ed25519"
)

// ProtoEvent is the mutable, unsigned, unhashed draft of an event: what a
// room's protocol engine assembles before a signing identity turns it into
// an immutable Event. It is also the shape returned by /make_join and
// friends, before the joining server fills in signatures.
type ProtoEvent struct {
	RoomID           string          `json:"room_id"`
	Sender           string          `json:"sender"`
	Type             string          `json:"type"`
	StateKey         *string         `json:"state_key,omitempty"`
	Content          json.RawMessage `json:"content"`
	PrevEvents       []string        `json:"prev_events"`
	AuthEvents       []string        `json:"auth_events"`
	Depth            int64           `json:"depth"`
	Redacts          string          `json:"redacts,omitempty"`
	OriginServerTS   int64           `json:"origin_server_ts,omitempty"`
}

// SetContent replaces the event's content with the encoding/json encoding
// of v; it is canonicalised later, when the event is hashed and signed.
func (p *ProtoEvent) SetContent(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	p.Content = b
	return nil
}

// EventBuilder assembles a ProtoEvent into a signed, hashed Event for a
// specific room version.
type EventBuilder struct {
	ProtoEvent
	RoomVersion RoomVersion
}

// NewEventBuilder starts a builder for the given room version.
func NewEventBuilder(roomVersion RoomVersion) *EventBuilder {
	return &EventBuilder{RoomVersion: roomVersion}
}

// Build stamps origin_server_ts, computes the content hash, signs the
// event with the given identity, and derives the event ID according to the
// builder's room version. The returned Event is immutable.
func (b *EventBuilder) Build(now time.Time, origin ServerName, keyID KeyID, sk ed25519.PrivateKey) (*Event, error) {
	if !b.RoomVersion.Supported() {
		return nil, UnsupportedRoomVersionError{Version: b.RoomVersion}
	}
	if b.Content == nil {
		b.Content = json.RawMessage("{}")
	}
	b.OriginServerTS = now.UnixNano() / int64(time.Millisecond)

	raw, err := json.Marshal(struct {
		ProtoEvent
		Origin string `json:"origin"`
	}{b.ProtoEvent, string(origin)})
	if err != nil {
		return nil, err
	}

	raw, err = addContentHashToEvent(raw)
	if err != nil {
		return nil, err
	}

	signed, err := SignEventJSON(origin, keyID, sk, raw)
	if err != nil {
		return nil, err
	}

	return newEventFromTrustedJSON(signed, b.RoomVersion)
}

// Event is an immutable, parsed PDU. Its only representation of truth is
// the raw JSON it was constructed from; accessor methods read out of that
// JSON rather than a separately-maintained struct, so re-serializing an
// Event always reproduces byte-identical content (modulo key order, which
// canonicalisation normalises when hashing/signing).
type Event struct {
	raw         []byte
	eventID     string
	roomID      string
	sender      string
	eventType   string
	stateKey    *string
	prevEvents  []string
	authEvents  []string
	depth       int64
	originTS    int64
	redacts     string
	roomVersion RoomVersion
}

// NewEventFromUntrustedJSON parses eventJSON as an event of the given room
// version, deriving (and for v3+ rooms, verifying) the event ID, but
// performing no signature verification — callers MUST run
// VerifyAllEventSignatures afterwards before trusting the event.
func NewEventFromUntrustedJSON(eventJSON []byte, roomVersion RoomVersion) (Event, error) {
	if !roomVersion.Supported() {
		return Event{}, UnsupportedRoomVersionError{Version: roomVersion}
	}
	idFormat, err := roomVersion.EventIDFormat()
	if err != nil {
		return Event{}, err
	}

	eventType := gjsonGet(eventJSON, "type").String()

	var eventID string
	switch idFormat {
	case EventIDFormatV3:
		eventID, err = eventIDForEvent(eventType, eventJSON)
		if err != nil {
			return Event{}, err
		}
	default:
		eventID = gjsonGet(eventJSON, "event_id").String()
		if eventID == "" {
			return Event{}, fmt.Errorf("gomatrixserverlib: event of room version %q is missing event_id", roomVersion)
		}
	}

	ev, err := parseEvent(eventJSON, roomVersion)
	if err != nil {
		return Event{}, err
	}
	ev.eventID = eventID
	return ev, nil
}

// newEventFromTrustedJSON is used right after Build(), where we derived the
// JSON ourselves and trust its shape without re-deriving the ID from
// scratch via the untrusted path (though the computation is identical).
func newEventFromTrustedJSON(eventJSON []byte, roomVersion RoomVersion) (*Event, error) {
	ev, err := NewEventFromUntrustedJSON(eventJSON, roomVersion)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func parseEvent(eventJSON []byte, roomVersion RoomVersion) (Event, error) {
	var fields struct {
		RoomID         string          `json:"room_id"`
		Sender         string          `json:"sender"`
		Type           string          `json:"type"`
		StateKey       *string         `json:"state_key"`
		PrevEvents     json.RawMessage `json:"prev_events"`
		AuthEvents     json.RawMessage `json:"auth_events"`
		Depth          int64           `json:"depth"`
		OriginServerTS int64           `json:"origin_server_ts"`
		Redacts        string          `json:"redacts"`
	}
	if err := unmarshalJSON(eventJSON, &fields); err != nil {
		return Event{}, fmt.Errorf("gomatrixserverlib: invalid event JSON: %w", err)
	}
	if fields.RoomID == "" || fields.Sender == "" || fields.Type == "" {
		return Event{}, fmt.Errorf("gomatrixserverlib: event missing required field (room_id/sender/type)")
	}

	format, err := roomVersion.EventFormat()
	if err != nil {
		return Event{}, err
	}
	prevIDs, err := extractEventIDs(format, fields.PrevEvents)
	if err != nil {
		return Event{}, fmt.Errorf("gomatrixserverlib: bad prev_events: %w", err)
	}
	authIDs, err := extractEventIDs(format, fields.AuthEvents)
	if err != nil {
		return Event{}, fmt.Errorf("gomatrixserverlib: bad auth_events: %w", err)
	}

	return Event{
		raw:         append([]byte(nil), eventJSON...),
		roomID:      fields.RoomID,
		sender:      fields.Sender,
		eventType:   fields.Type,
		stateKey:    fields.StateKey,
		prevEvents:  prevIDs,
		authEvents:  authIDs,
		depth:       fields.Depth,
		originTS:    fields.OriginServerTS,
		redacts:     fields.Redacts,
		roomVersion: roomVersion,
	}, nil
}

// extractEventIDs reads prev_events/auth_events in either wire shape:
// EventFormatV2 rooms store bare ID strings; EventFormatV1 rooms store
// [id, {sha256: ...}] pairs, of which only the id is needed here.
func extractEventIDs(format EventFormat, raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	switch format {
	case EventFormatV2:
		var ids []string
		if err := json.Unmarshal(raw, &ids); err != nil {
			return nil, err
		}
		return ids, nil
	default:
		var refs [][2]json.RawMessage
		if err := json.Unmarshal(raw, &refs); err != nil {
			return nil, err
		}
		ids := make([]string, len(refs))
		for i, r := range refs {
			var id string
			if err := json.Unmarshal(r[0], &id); err != nil {
				return nil, err
			}
			ids[i] = id
		}
		return ids, nil
	}
}

func (e Event) EventID() string           { return e.eventID }
func (e Event) RoomID() string            { return e.roomID }
func (e Event) Sender() string            { return e.sender }
func (e Event) Type() string              { return e.eventType }
func (e Event) StateKey() *string         { return e.stateKey }
func (e Event) PrevEventIDs() []string    { return e.prevEvents }
func (e Event) AuthEventIDs() []string    { return e.authEvents }
func (e Event) Depth() int64              { return e.depth }
func (e Event) OriginServerTS() int64     { return e.originTS }
func (e Event) Redacts() string           { return e.redacts }
// Version returns the room version this event was parsed/built against.
// Named Version rather than RoomVersion to avoid colliding with the
// embedded EventHeader.RoomVersion field promoted onto HeaderedEvent.
func (e Event) Version() RoomVersion      { return e.roomVersion }
func (e Event) JSON() []byte              { return e.raw }
func (e Event) Content() []byte           { return []byte(gjsonGet(e.raw, "content").Raw) }
func (e Event) Unsigned() []byte          { return []byte(gjsonGet(e.raw, "unsigned").Raw) }

// StateKeyEquals reports whether this event is a state event with the given
// state key.
func (e Event) StateKeyEquals(key string) bool {
	return e.stateKey != nil && *e.stateKey == key
}

// Sha256HashOfContent returns hashes.sha256 as carried by the event's own
// JSON (the content hash inserted at build time, not recomputed here).
func (e Event) Sha256HashOfContent() string {
	return gjsonGet(e.raw, "hashes.sha256").String()
}

// ContentValid recomputes the content hash and compares it against what's
// carried in hashes.sha256, satisfying the "recompute content hash and
// compare" requirement of inbound PDU validation (§4.8).
func (e Event) ContentValid() (bool, error) {
	want := e.Sha256HashOfContent()
	if want == "" {
		return false, nil
	}
	got, err := computeContentHash(e.raw)
	if err != nil {
		return false, err
	}
	return encodeUnpaddedBase64(got[:]) == want, nil
}

// EventReference is the [event_id, {sha256: hash}] pair used to reference
// an event in EventFormatV1 rooms, and is also a convenient (id, hash) pair
// for deduplication regardless of room version.
type EventReference struct {
	EventID     string
	EventSHA256 []byte
}

// EventReference returns this event's reference, recomputing the reference
// hash over its redacted form.
func (e Event) EventReference() EventReference {
	hash, err := computeReferenceHash(e.eventType, e.raw)
	if err != nil {
		return EventReference{EventID: e.eventID}
	}
	return EventReference{EventID: e.eventID, EventSHA256: hash[:]}
}

// Redact returns the redacted form of this event as a new Event value. The
// original is left untouched.
func (e Event) Redact() (Event, error) {
	redacted, err := redactInPlace(e.eventType, e.raw)
	if err != nil {
		return Event{}, err
	}
	out := e
	out.raw = redacted
	return out, nil
}

// SetUnsignedField sets unsigned.<path> to v and returns the updated Event.
// unsigned is explicitly excluded from hashing and signing, so this never
// invalidates the event's identity.
func (e Event) SetUnsignedField(path string, v interface{}) (Event, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Event{}, err
	}
	raw, err := sjson.SetRawBytes(e.raw, "unsigned."+path, b)
	if err != nil {
		return Event{}, err
	}
	out := e
	out.raw = raw
	return out, nil
}

// Headered attaches a RoomVersion header, producing the wire form used
// between internal components so downstream code never has to look the
// room version up separately.
func (e Event) Headered(v RoomVersion) HeaderedEvent {
	return HeaderedEvent{EventHeader: EventHeader{RoomVersion: v}, Event: e}
}

// EventHeader carries metadata about an event that travels alongside it
// between internal components without being part of the signed event body.
type EventHeader struct {
	RoomVersion RoomVersion `json:"room_version"`
}

// HeaderedEvent pairs an Event with the room version needed to interpret
// its prev_events/auth_events format and redaction rules, matching the
// wire shape dendrite's internal APIs pass between components.
type HeaderedEvent struct {
	EventHeader
	Event
}

// Unwrap strips the header, returning the bare Event.
func (h HeaderedEvent) Unwrap() Event { return h.Event }

// MarshalJSON implements json.Marshaler: the event's own JSON plus the
// room_version header field spliced in.
func (h HeaderedEvent) MarshalJSON() ([]byte, error) {
	return sjson.SetBytes(h.Event.raw, "room_version", string(h.RoomVersion))
}

// UnmarshalJSON implements json.Unmarshaler.
func (h *HeaderedEvent) UnmarshalJSON(data []byte) error {
	rv := gjson.GetBytes(data, "room_version").String()
	if rv == "" {
		return fmt.Errorf("gomatrixserverlib: headered event missing room_version")
	}
	ev, err := NewEventFromUntrustedJSON(data, RoomVersion(rv))
	if err != nil {
		return err
	}
	h.RoomVersion = RoomVersion(rv)
	h.Event = ev
	return nil
}

// UnwrapEventHeaders strips headers from a slice of HeaderedEvents.
func UnwrapEventHeaders(hs []HeaderedEvent) []Event {
	out := make([]Event, len(hs))
	for i := range hs {
		out[i] = hs[i].Unwrap()
	}
	return out
}
