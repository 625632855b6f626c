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
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/sjson"
	"golang.org/x/crypto/ed25519"
)

// FederationRequest models one outbound/inbound federation HTTP request for
// the purposes of X-Matrix request signing: the bits of the request that
// are actually covered by the signature.
type FederationRequest struct {
	Method      string
	RequestURI  string
	Origin      ServerName
	Destination ServerName
	Content     []byte
}

type requestAuthBody struct {
	Method      string          `json:"method"`
	URI         string          `json:"uri"`
	Origin      ServerName      `json:"origin"`
	Destination ServerName      `json:"destination"`
	Content     json.RawMessage `json:"content,omitempty"`
}

// Sign computes an X-Matrix Authorization header value for this request,
// signed by the given identity, per §4.3:
//
//	Authorization: X-Matrix origin="…",destination="…",key="ed25519:…",sig="…"
func (r FederationRequest) Sign(identity SigningIdentity) (string, error) {
	body := requestAuthBody{
		Method:      r.Method,
		URI:         r.RequestURI,
		Origin:      r.Origin,
		Destination: r.Destination,
	}
	if len(r.Content) > 0 {
		body.Content = r.Content
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	canonical, err := CanonicalJSON(raw)
	if err != nil {
		return "", err
	}
	sig := ed25519.Sign(identity.PrivateKey, canonical)
	return fmt.Sprintf(
		`X-Matrix origin="%s",destination="%s",key="%s",sig="%s"`,
		identity.ServerName, r.Destination, identity.KeyID, encodeUnpaddedBase64(sig),
	), nil
}

// ParsedFederationAuth is one origin="…" / key="…" / sig="…" triple parsed
// out of an X-Matrix Authorization header. A single header may carry
// multiple comma-separated signatures if the request was co-signed.
type ParsedFederationAuth struct {
	Origin      ServerName
	Destination ServerName
	KeyID       KeyID
	Signature   []byte
}

// ParseFederationAuthHeader parses the value of an incoming Authorization
// header (without the leading "X-Matrix " already stripped by the caller is
// also accepted) into its component fields.
func ParseFederationAuthHeader(header string) (ParsedFederationAuth, error) {
	header = strings.TrimSpace(header)
	header = strings.TrimPrefix(header, "X-Matrix ")
	fields := map[string]string{}
	for _, part := range splitAuthFields(header) {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		fields[strings.TrimSpace(kv[0])] = strings.Trim(strings.TrimSpace(kv[1]), `"`)
	}
	origin, ok := fields["origin"]
	if !ok {
		return ParsedFederationAuth{}, fmt.Errorf("gomatrixserverlib: X-Matrix header missing origin")
	}
	keyIDStr, ok := fields["key"]
	if !ok {
		return ParsedFederationAuth{}, fmt.Errorf("gomatrixserverlib: X-Matrix header missing key")
	}
	sigStr, ok := fields["sig"]
	if !ok {
		return ParsedFederationAuth{}, fmt.Errorf("gomatrixserverlib: X-Matrix header missing sig")
	}
	sig, err := decodeUnpaddedBase64(sigStr)
	if err != nil {
		return ParsedFederationAuth{}, fmt.Errorf("gomatrixserverlib: bad signature encoding: %w", err)
	}
	return ParsedFederationAuth{
		Origin:      ServerName(origin),
		Destination: ServerName(fields["destination"]),
		KeyID:       KeyID(keyIDStr),
		Signature:   sig,
	}, nil
}

// splitAuthFields splits on commas that are not inside a quoted value.
func splitAuthFields(s string) []string {
	var out []string
	var cur strings.Builder
	inQuotes := false
	for _, r := range s {
		switch r {
		case '"':
			inQuotes = !inQuotes
			cur.WriteRune(r)
		case ',':
			if inQuotes {
				cur.WriteRune(r)
			} else {
				out = append(out, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// VerifyRequest checks an inbound request's X-Matrix authorization: the
// destination, when the header carries one, must match the local server
// name (a header without one is accepted), and at least one
// signature over {method, uri, origin, destination, content?} must verify
// against the claimed origin's keys.
func VerifyRequest(ctx context.Context, req *http.Request, body []byte, expectedDestination ServerName, verifier JSONVerifier) (ServerName, error) {
	header := req.Header.Get("Authorization")
	if header == "" {
		return "", fmt.Errorf("gomatrixserverlib: missing Authorization header")
	}
	parsed, err := ParseFederationAuthHeader(header)
	if err != nil {
		return "", err
	}
	if parsed.Destination != "" && parsed.Destination != expectedDestination {
		return "", fmt.Errorf("gomatrixserverlib: X-Matrix destination %q does not match local server name %q", parsed.Destination, expectedDestination)
	}

	authBody := requestAuthBody{
		Method:      req.Method,
		URI:         req.URL.RequestURI(),
		Origin:      parsed.Origin,
		Destination: expectedDestination,
	}
	if len(body) > 0 {
		authBody.Content = body
	}
	raw, err := json.Marshal(authBody)
	if err != nil {
		return "", err
	}
	signed, err := withSignature(raw, parsed.Origin, parsed.KeyID, parsed.Signature)
	if err != nil {
		return "", err
	}

	results, err := verifier.VerifyJSONs(ctx, []VerifyJSONRequest{{
		ServerName: parsed.Origin,
		Message:    signed,
		AtTS:       time.Now().UnixNano() / int64(time.Millisecond),
	}})
	if err != nil {
		return "", err
	}
	if results[0].Error != nil {
		return "", results[0].Error
	}
	return parsed.Origin, nil
}

func withSignature(obj []byte, serverName ServerName, keyID KeyID, sig []byte) ([]byte, error) {
	path := fmt.Sprintf("signatures.%s.%s", escapeSJSONKey(string(serverName)), escapeSJSONKey(string(keyID)))
	return sjson.SetBytes(obj, path, encodeUnpaddedBase64(sig))
}
