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

package config

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// decodeSigningKeySeed parses the Matrix signing-key-file format:
//
//	ed25519 <key_id> <unpadded base64 seed>
//
// the same on-disk shape synapse/dendrite signing keys use, so operators can
// reuse an existing key across implementations.
func decodeSigningKeySeed(data []byte) ([]byte, error) {
	fields := strings.Fields(string(data))
	if len(fields) != 3 || fields[0] != "ed25519" {
		return nil, fmt.Errorf("expected \"ed25519 <key_id> <seed>\", got %d fields", len(fields))
	}
	seed, err := base64.RawStdEncoding.DecodeString(fields[2])
	if err != nil {
		// Some tools pad the seed; tolerate standard padded encoding too.
		seed, err = base64.StdEncoding.DecodeString(fields[2])
		if err != nil {
			return nil, fmt.Errorf("decoding base64 seed: %w", err)
		}
	}
	if len(seed) != 32 {
		return nil, fmt.Errorf("expected a 32-byte seed, got %d bytes", len(seed))
	}
	return seed, nil
}
