/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
)

// SheetSentinel marks a line carrying a legacy UI-markup sheet. Such lines
// are not JSON and must be forwarded verbatim instead of decoded.
const SheetSentinel = "<ui version="

// ErrNoClass is returned when encoding a command without a class field.
var ErrNoClass = errors.New("wire: command has no class field")

// Message is a decoded protocol envelope. The server is free to add fields
// at any time, so the envelope stays an open map with typed accessors
// rather than a closed struct.
type Message map[string]interface{}

// Class returns the class discriminator, or "" if absent.
func (m Message) Class() string {
	return m.String("class")
}

// Function returns the function sub-discriminator used by getlist
// messages, or "" if absent.
func (m Message) Function() string {
	return m.String("function")
}

// Has reports whether the key is present.
func (m Message) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// String returns the value at key as a string, or "" when the key is
// absent or not a string.
func (m Message) String(key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// Bool returns the value at key as a bool. JSON booleans and the strings
// "true"/"false" are both accepted, matching the loosely typed wire format.
func (m Message) Bool(key string) bool {
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

// Float returns the value at key as a float64, or 0 when absent. Numeric
// strings are accepted as well; timestamps have been observed in both forms.
func (m Message) Float(key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return 0
}

// Map returns the value at key as a nested Message, or an empty one.
func (m Message) Map(key string) Message {
	if v, ok := m[key].(map[string]interface{}); ok {
		return Message(v)
	}
	return Message{}
}

// List returns the value at key as a raw list, or nil.
func (m Message) List(key string) []interface{} {
	if v, ok := m[key].([]interface{}); ok {
		return v
	}
	return nil
}

// StringList returns the value at key as a list of strings. Non-string
// elements are skipped.
func (m Message) StringList(key string) []string {
	raw := m.List(key)
	if raw == nil {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Decode parses one newline-delimited JSON line into a Message. The caller
// is expected to have stripped the trailing newline already.
func Decode(line []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(line, &m); err != nil {
		return nil, fmt.Errorf("wire: invalid json: %w", err)
	}
	return m, nil
}

// Encode serializes a command for the wire, stamping a fresh commandid.
// The commandid is a per-command random integer used for correlation only;
// it carries no ordering guarantee. The returned string is the stamped id.
func Encode(cmd Message) ([]byte, string, error) {
	if cmd.Class() == "" {
		return nil, "", ErrNoClass
	}
	full := make(Message, len(cmd)+1)
	for k, v := range cmd {
		full[k] = v
	}
	commandid := int(rand.Int31())
	full["commandid"] = commandid
	raw, err := json.Marshal(full)
	if err != nil {
		return nil, "", fmt.Errorf("wire: encode %s: %w", cmd.Class(), err)
	}
	return raw, strconv.Itoa(commandid), nil
}

// IsSheet reports whether a raw line is a legacy UI-markup sheet rather
// than a JSON envelope.
func IsSheet(line []byte) bool {
	return bytes.HasPrefix(line, []byte(SheetSentinel))
}
