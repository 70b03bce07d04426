package transport

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"OverlayCompanion/internal/domain"
)

// Backend payloads are loosely typed: ids arrive as numbers or strings and
// collections may be missing. Everything is normalised here so the rest of
// the module only sees domain types.

type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	raw := string(b)
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		raw = strings.TrimSpace(s)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexInt(v)
	return nil
}

// flexBool accepts true/false, 0/1 and their string forms. Anything else
// reads as false.
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*f = false
	if len(b) == 0 {
		return nil
	}
	raw := string(b)
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		raw = strings.ToLower(strings.TrimSpace(s))
	}
	switch raw {
	case "true", "yes", "on":
		*f = true
		return nil
	}
	if v, err := strconv.ParseFloat(raw, 64); err == nil && v != 0 {
		*f = true
	}
	return nil
}

type flexTime time.Time

func (f *flexTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*f = flexTime(time.Time{})
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
			if t, err := time.Parse(layout, s); err == nil {
				*f = flexTime(t.UTC())
				return nil
			}
		}
		return nil
	}
	ms, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return nil
	}
	*f = flexTime(time.UnixMilli(ms).UTC())
	return nil
}

type wireFriend struct {
	FriendID        flexID   `json:"friend_id"`
	Name            string   `json:"name"`
	Online          flexBool `json:"online"`
	SessionDuration flexInt  `json:"sessionDuration"`
	Server          string   `json:"server"`
	SharingLocation flexBool `json:"sharing_location"`
}

type wireFriendRequest struct {
	SenderID   flexID   `json:"sender_id"`
	ReceiverID flexID   `json:"receiver_id"`
	SenderName string   `json:"sender_name"`
	CreatedAt  flexTime `json:"created_at"`
}

type wireLocationRequest struct {
	RequesterID   flexID `json:"requester_id"`
	RequesterName string `json:"requester_name"`
	TargetID      flexID `json:"target_id"`
	Status        string `json:"status"`
}

type wireSharedLocation struct {
	SharerID   flexID  `json:"sharer_id"`
	SharerName string  `json:"sharer_name"`
	X          float64 `json:"pos_x"`
	Y          float64 `json:"pos_y"`
}

func decodeInto(data json.RawMessage, v any) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, v)
}

func DecodeFriends(data json.RawMessage) ([]domain.Friend, error) {
	var body struct {
		Friends []wireFriend `json:"friends"`
	}
	if err := decodeInto(data, &body); err != nil {
		return nil, err
	}
	out := make([]domain.Friend, 0, len(body.Friends))
	for _, f := range body.Friends {
		if f.FriendID == "" {
			continue
		}
		out = append(out, domain.Friend{
			ID:              string(f.FriendID),
			Name:            f.Name,
			Online:          bool(f.Online),
			SessionDuration: int64(f.SessionDuration),
			Server:          f.Server,
			SharingLocation: bool(f.SharingLocation),
		})
	}
	return out, nil
}

func DecodeFriendRequests(data json.RawMessage) ([]domain.FriendRequest, error) {
	var body struct {
		Requests []wireFriendRequest `json:"requests"`
	}
	if err := decodeInto(data, &body); err != nil {
		return nil, err
	}
	out := make([]domain.FriendRequest, 0, len(body.Requests))
	seen := make(map[[2]string]bool, len(body.Requests))
	for _, r := range body.Requests {
		key := [2]string{string(r.SenderID), string(r.ReceiverID)}
		if r.SenderID == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, domain.FriendRequest{
			SenderID:   string(r.SenderID),
			ReceiverID: string(r.ReceiverID),
			SenderName: r.SenderName,
			CreatedAt:  time.Time(r.CreatedAt),
		})
	}
	return out, nil
}

func DecodeLocationRequests(data json.RawMessage) ([]domain.LocationRequest, error) {
	var body struct {
		Requests []wireLocationRequest `json:"requests"`
	}
	if err := decodeInto(data, &body); err != nil {
		return nil, err
	}
	out := make([]domain.LocationRequest, 0, len(body.Requests))
	for _, r := range body.Requests {
		status := domain.LocationStatus(strings.ToLower(strings.TrimSpace(r.Status)))
		switch status {
		case domain.LocationStatusPending, domain.LocationStatusActive:
		default:
			continue
		}
		out = append(out, domain.LocationRequest{
			RequesterID:   string(r.RequesterID),
			RequesterName: r.RequesterName,
			TargetID:      string(r.TargetID),
			Status:        status,
		})
	}
	return out, nil
}

func DecodeSharedLocations(data json.RawMessage) ([]domain.SharedLocation, error) {
	var body struct {
		Locations []wireSharedLocation `json:"locations"`
	}
	if err := decodeInto(data, &body); err != nil {
		return nil, err
	}
	out := make([]domain.SharedLocation, 0, len(body.Locations))
	for _, l := range body.Locations {
		out = append(out, l.domain())
	}
	return out, nil
}

// DecodeSharedLocation reads a single location-shared event.
func DecodeSharedLocation(data json.RawMessage) (domain.SharedLocation, bool, error) {
	var body struct {
		Location *wireSharedLocation `json:"location"`
	}
	if err := decodeInto(data, &body); err != nil {
		return domain.SharedLocation{}, false, err
	}
	if body.Location == nil {
		return domain.SharedLocation{}, false, nil
	}
	return body.Location.domain(), true, nil
}

func (l wireSharedLocation) domain() domain.SharedLocation {
	return domain.SharedLocation{SharerID: string(l.SharerID), SharerName: l.SharerName, X: l.X, Y: l.Y}
}

type ActionResult struct {
	Success bool
	Message string
}

func DecodeActionResult(data json.RawMessage) (ActionResult, error) {
	var body struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := decodeInto(data, &body); err != nil {
		return ActionResult{}, err
	}
	msg := body.Message
	if !body.Success && body.Error != "" {
		msg = body.Error
	}
	return ActionResult{Success: body.Success, Message: msg}, nil
}

// Peer is the other user named by a relationship event.
type Peer struct {
	ID   string
	Name string
}

func DecodePeer(data json.RawMessage) (Peer, error) {
	var body struct {
		FriendID     flexID `json:"friend_id"`
		SenderID     flexID `json:"sender_id"`
		ReceiverID   flexID `json:"receiver_id"`
		BlockerID    flexID `json:"blocker_id"`
		UserID       flexID `json:"user_id"`
		Name         string `json:"name"`
		SenderName   string `json:"sender_name"`
		ReceiverName string `json:"receiver_name"`
	}
	if err := decodeInto(data, &body); err != nil {
		return Peer{}, err
	}
	var p Peer
	for _, id := range []flexID{body.FriendID, body.SenderID, body.ReceiverID, body.BlockerID, body.UserID} {
		if id != "" {
			p.ID = string(id)
			break
		}
	}
	for _, n := range []string{body.Name, body.SenderName, body.ReceiverName} {
		if n != "" {
			p.Name = n
			break
		}
	}
	return p, nil
}

func DecodeMessage(data json.RawMessage) (string, error) {
	var body struct {
		Message string `json:"message"`
	}
	if err := decodeInto(data, &body); err != nil {
		return "", err
	}
	return strings.TrimSpace(body.Message), nil
}
