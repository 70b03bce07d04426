// Package hostbridge exchanges messages with the embedding game client.
package hostbridge

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Message is one recognised shape of an inbound host message.
type Message interface {
	hostMessage()
}

// Visibility reports window focus. A nil field was absent from the message.
type Visibility struct {
	Focused *bool
	Tabbed  *bool
}

type Identity struct {
	UserID string
}

type Position struct {
	X float64
	Y float64
}

type Wallet struct {
	Amount float64
}

// Unrecognized is anything the bridge does not understand.
type Unrecognized struct {
	Raw json.RawMessage
}

func (Visibility) hostMessage()   {}
func (Identity) hostMessage()     {}
func (Position) hostMessage()     {}
func (Wallet) hostMessage()       {}
func (Unrecognized) hostMessage() {}

// Decode classifies a raw host message. The payload may be wrapped in a
// "data" object, and one message can carry several shapes at once, so every
// match is returned. The result is never empty.
func Decode(raw []byte) []Message {
	unknown := []Message{Unrecognized{Raw: append(json.RawMessage(nil), raw...)}}

	var outer map[string]json.RawMessage
	if err := json.Unmarshal(raw, &outer); err != nil || outer == nil {
		return unknown
	}
	payload := outer
	if inner, ok := outer["data"]; ok && !isNull(inner) {
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(inner, &nested); err != nil || nested == nil {
			return unknown
		}
		payload = nested
	}

	var out []Message
	if focused, ok := boolField(payload, "focused"); ok {
		v := Visibility{Focused: &focused}
		if tabbed, ok := boolField(payload, "tabbed"); ok {
			v.Tabbed = &tabbed
		}
		out = append(out, v)
	}
	if id := idField(payload, "user_id"); id != "" {
		out = append(out, Identity{UserID: id})
	}
	x, okX := numberField(payload, "pos_x")
	y, okY := numberField(payload, "pos_y")
	if okX && okY {
		out = append(out, Position{X: x, Y: y})
	}
	if amount, ok := numberField(payload, "wallet"); ok {
		out = append(out, Wallet{Amount: amount})
	}
	if len(out) == 0 {
		return unknown
	}
	return out
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

func boolField(m map[string]json.RawMessage, key string) (bool, bool) {
	raw, ok := m[key]
	if !ok {
		return false, false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, false
	}
	return b, true
}

func numberField(m map[string]json.RawMessage, key string) (float64, bool) {
	raw, ok := m[key]
	if !ok {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	return f, true
}

func idField(m map[string]json.RawMessage, key string) string {
	raw, ok := m[key]
	if !ok || isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// Outbound commands. All are fire-and-forget.

type namedDataRequest struct {
	Type string   `json:"type"`
	Keys []string `json:"keys"`
}

type waypointCommand struct {
	Type string  `json:"type"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

type simpleCommand struct {
	Type string `json:"type"`
}

func GetNamedData(keys ...string) any {
	return namedDataRequest{Type: "getNamedData", Keys: keys}
}

func SetWaypoint(x, y float64) any {
	return waypointCommand{Type: "setWaypoint", X: x, Y: y}
}

func Pin() any     { return simpleCommand{Type: "pin"} }
func GetData() any { return simpleCommand{Type: "getData"} }
