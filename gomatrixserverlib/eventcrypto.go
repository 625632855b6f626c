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
	"crypto/sha256"
	"encoding/base64"

	"github.com/tidwall/sjson"
)

// encodeUnpaddedBase64 renders b as unpadded standard Base64, the encoding
// every Matrix hash/signature/event-ID field uses.
func encodeUnpaddedBase64(b []byte) string {
	return base64.RawStdEncoding.EncodeToString(b)
}

// encodeUnpaddedBase64URL is used only for event IDs in EventIDFormatV3,
// which are URL-safe so they can appear unescaped in federation request
// paths.
func encodeUnpaddedBase64URL(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// decodeUnpaddedBase64 decodes an unpadded standard-base64 string, the
// encoding used for every hash/signature field on the wire.
func decodeUnpaddedBase64(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(s)
}

// contentHashInput returns the canonical JSON of the event with `hashes`,
// `signatures`, `unsigned` and `age_ts` removed.
func contentHashInput(eventJSON []byte) ([]byte, error) {
	stripped, err := stripKeys(eventJSON, "hashes", "signatures", "unsigned", "age_ts")
	if err != nil {
		return nil, err
	}
	return CanonicalJSON(stripped)
}

// computeContentHash returns sha256(contentHashInput(eventJSON)).
func computeContentHash(eventJSON []byte) ([32]byte, error) {
	input, err := contentHashInput(eventJSON)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(input), nil
}

// addContentHashToEvent sets hashes.sha256 on the given event JSON to the
// content hash of the event's current form, and returns the updated JSON.
// It must be called before signing, since the event signature covers
// hashes.sha256 along with the rest of the event.
func addContentHashToEvent(eventJSON []byte) ([]byte, error) {
	hash, err := computeContentHash(eventJSON)
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(eventJSON, "hashes.sha256", encodeUnpaddedBase64(hash[:]))
}

// referenceHashInput returns the canonical JSON of the redacted event with
// `signatures`, `unsigned` and `age_ts` removed. `hashes` is retained, which
// is what makes the reference hash (and therefore the event ID) bind to the
// content hash computed a moment earlier.
func referenceHashInput(eventType string, eventJSON []byte) ([]byte, error) {
	redacted, err := redactInPlace(eventType, eventJSON)
	if err != nil {
		return nil, err
	}
	stripped, err := stripKeys(redacted, "signatures", "unsigned", "age_ts")
	if err != nil {
		return nil, err
	}
	return CanonicalJSON(stripped)
}

// computeReferenceHash returns sha256(referenceHashInput(eventType, eventJSON)).
func computeReferenceHash(eventType string, eventJSON []byte) ([32]byte, error) {
	input, err := referenceHashInput(eventType, eventJSON)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(input), nil
}

// eventIDForEvent derives the event ID for room versions using
// EventIDFormatV3: "$" + unpadded_base64url(reference_hash). Earlier room
// versions carry event_id in the JSON itself, which NewEventFromUntrustedJSON
// reads instead; Build does not mint one, so it returns an error for those
// versions.
func eventIDForEvent(eventType string, eventJSON []byte) (string, error) {
	hash, err := computeReferenceHash(eventType, eventJSON)
	if err != nil {
		return "", err
	}
	return "$" + encodeUnpaddedBase64URL(hash[:]), nil
}

// stripKeys removes the named top-level keys from eventJSON and returns the
// result. Missing keys are a no-op.
func stripKeys(eventJSON []byte, keys ...string) ([]byte, error) {
	out := eventJSON
	var err error
	for _, k := range keys {
		out, err = sjson.DeleteBytes(out, k)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
