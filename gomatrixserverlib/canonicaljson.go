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
	"fmt"
	"math"
	"sort"
	"unicode/utf8"
)

// maxSafeInteger and minSafeInteger bound the integers canonical JSON numbers
// are allowed to take: 2^53-1, matching the JavaScript safe-integer range
// that every other Matrix implementation has to live with.
const (
	maxSafeInteger = 1<<53 - 1
	minSafeInteger = -(1<<53 - 1)
)

// CanonicalJSONError is returned by CanonicalJSON when the input cannot be
// represented as canonical JSON, e.g. it contains a float or a number
// outside the safe-integer range.
type CanonicalJSONError struct {
	Reason string
}

func (e CanonicalJSONError) Error() string {
	return fmt.Sprintf("gomatrixserverlib: bad JSON: %s", e.Reason)
}

// CanonicalJSON takes a JSON encoded object and returns a new JSON encoded
// object with the same top-level keys but with all of the keys sorted
// lexicographically by UTF-8 codepoint, no insignificant whitespace, and
// numbers rendered without decimal points. Two JSON values that are
// semantically equal always produce identical bytes.
//
// Returns a CanonicalJSONError if the input uses a float, a non-integer
// number, a number outside the safe-integer range, or isn't valid UTF-8.
func CanonicalJSON(input []byte) ([]byte, error) {
	if !utf8.Valid(input) {
		return nil, CanonicalJSONError{"input is not valid UTF-8"}
	}
	dec := json.NewDecoder(bytes.NewReader(input))
	dec.UseNumber()
	var value interface{}
	if err := dec.Decode(&value); err != nil {
		return nil, CanonicalJSONError{err.Error()}
	}
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCanonical(buf *bytes.Buffer, value interface{}) error {
	switch v := value.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if v {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		return encodeCanonicalNumber(buf, v)
	case string:
		encodeCanonicalString(buf, v)
	case []interface{}:
		return encodeCanonicalArray(buf, v)
	case map[string]interface{}:
		return encodeCanonicalObject(buf, v)
	default:
		return CanonicalJSONError{fmt.Sprintf("unsupported JSON value of type %T", value)}
	}
	return nil
}

func encodeCanonicalNumber(buf *bytes.Buffer, n json.Number) error {
	if f, err := n.Float64(); err == nil {
		if math.Trunc(f) != f || math.IsInf(f, 0) || math.IsNaN(f) {
			return CanonicalJSONError{fmt.Sprintf("number %s is not an integer", n.String())}
		}
	}
	i, err := n.Int64()
	if err != nil {
		return CanonicalJSONError{fmt.Sprintf("number %s is not a safe integer", n.String())}
	}
	if i > maxSafeInteger || i < minSafeInteger {
		return CanonicalJSONError{fmt.Sprintf("number %d is outside the safe integer range", i)}
	}
	buf.WriteString(n.String())
	return nil
}

func encodeCanonicalArray(buf *bytes.Buffer, arr []interface{}) error {
	buf.WriteByte('[')
	for i, elem := range arr {
		if i != 0 {
			buf.WriteByte(',')
		}
		if err := encodeCanonical(buf, elem); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

func encodeCanonicalObject(buf *bytes.Buffer, obj map[string]interface{}) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i != 0 {
			buf.WriteByte(',')
		}
		encodeCanonicalString(buf, k)
		buf.WriteByte(':')
		if err := encodeCanonical(buf, obj[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

// encodeCanonicalString writes the minimal-escaping JSON string form
// required by the canonical JSON spec: only the mandatory escapes, and
// \u00XX for C0 control characters. Everything else, including non-ASCII
// UTF-8, is copied through verbatim.
func encodeCanonicalString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(buf, `\u%04x`, r)
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}
