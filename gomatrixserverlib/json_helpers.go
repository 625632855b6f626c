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
	"bytes"
	"encoding/json"

	"github.com/tidwall/gjson"
)

// unmarshalJSON centralises the encoding/json calls used for structural
// event surgery (redaction, hash/signature stripping) so every call site
// uses json.Number, avoiding silent float conversion of large integer
// timestamps.
func unmarshalJSON(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func marshalJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func gjsonGet(data []byte, path string) gjson.Result {
	return gjson.GetBytes(data, path)
}
