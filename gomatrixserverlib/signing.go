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
	"fmt"

	"github.com/tidwall/sjson"
	"golang.org/x/crypto/ed25519"
)

// KeyID identifies a single Ed25519 key, e.g. "ed25519:a_1".
type KeyID string

// ServerName is the DNS name or IP address (optionally with a port) a
// homeserver is identified by on the federation network.
// https://spec.matrix.org/latest/appendices/#server-name
type ServerName string

// SigningIdentity bundles everything a component needs to sign events and
// requests as a given server: the server's own name, which of its keys to
// sign with, and the private key material. Every event-builder and
// request-signer in this repo takes one of these instead of passing bare
// key material around.
type SigningIdentity struct {
	ServerName ServerName
	KeyID      KeyID
	PrivateKey ed25519.PrivateKey
}

// SignJSON signs the canonical JSON form of `obj` (with any existing
// `signatures` and `unsigned` keys removed first) and inserts the result
// under signatures[serverName][keyID], returning the updated JSON.
func SignJSON(serverName ServerName, keyID KeyID, sk ed25519.PrivateKey, obj []byte) ([]byte, error) {
	toSign, err := stripKeys(obj, "signatures", "unsigned")
	if err != nil {
		return nil, err
	}
	canonical, err := CanonicalJSON(toSign)
	if err != nil {
		return nil, err
	}
	sig := ed25519.Sign(sk, canonical)
	path := fmt.Sprintf("signatures.%s.%s", escapeSJSONKey(string(serverName)), escapeSJSONKey(string(keyID)))
	return sjson.SetBytes(obj, path, encodeUnpaddedBase64(sig))
}

// SignEventJSON is SignJSON specialised for events: it additionally strips
// `age_ts`, which (like `unsigned`) is never covered by an event signature.
func SignEventJSON(serverName ServerName, keyID KeyID, sk ed25519.PrivateKey, eventJSON []byte) ([]byte, error) {
	stripped, err := stripKeys(eventJSON, "age_ts")
	if err != nil {
		return nil, err
	}
	return SignJSON(serverName, keyID, sk, stripped)
}

// escapeSJSONKey escapes '.' and '*' and '?' in a JSON object key so sjson's
// path syntax doesn't interpret it as a path separator/wildcard. Server
// names and key IDs may legitimately contain dots (DNS names do).
func escapeSJSONKey(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '.', '*', '?':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}

// VerifyJSON reports whether `signature` (an unpadded-base64 Ed25519
// signature) verifies over the canonical JSON form of obj (signatures and
// unsigned stripped) using publicKey.
func VerifyJSON(obj []byte, publicKey ed25519.PublicKey, signature []byte) (bool, error) {
	stripped, err := stripKeys(obj, "signatures", "unsigned")
	if err != nil {
		return false, err
	}
	canonical, err := CanonicalJSON(stripped)
	if err != nil {
		return false, err
	}
	return ed25519.Verify(publicKey, canonical, signature), nil
}

// VerifyEventSignature reports whether the event carries at least one valid
// signature from serverName, checked against the given public key. Per
// §4.3, only one valid signature under signatures[serverName] is required.
func VerifyEventSignature(ev Event, serverName ServerName, publicKey ed25519.PublicKey) (bool, error) {
	sigs := gjsonGet(ev.raw, "signatures."+escapeGJSONKey(string(serverName))).Map()
	if len(sigs) == 0 {
		return false, nil
	}
	toVerify, err := stripKeys(ev.raw, "signatures", "unsigned", "age_ts")
	if err != nil {
		return false, err
	}
	canonical, err := CanonicalJSON(toVerify)
	if err != nil {
		return false, err
	}
	for _, v := range sigs {
		sig, err := decodeUnpaddedBase64(v.String())
		if err != nil {
			continue
		}
		if ed25519.Verify(publicKey, canonical, sig) {
			return true, nil
		}
	}
	return false, nil
}

func escapeGJSONKey(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '.' || s[i] == '*' || s[i] == '?' {
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
