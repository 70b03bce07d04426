package domain

import "time"

// Friend is one entry of a friends snapshot. SessionDuration is the value the
// server reported at snapshot time; callers extrapolate, never mutate it.
type Friend struct {
	ID              string `json:"friend_id"`
	Name            string `json:"name"`
	Online          bool   `json:"online"`
	SessionDuration int64  `json:"sessionDuration"`
	Server          string `json:"server,omitempty"`
	SharingLocation bool   `json:"sharing_location,omitempty"`
}

type FriendRequest struct {
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	SenderName string    `json:"sender_name,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type LocationStatus string

const (
	LocationStatusPending LocationStatus = "pending"
	LocationStatusActive  LocationStatus = "active"
)

type LocationRequest struct {
	RequesterID   string         `json:"requester_id"`
	RequesterName string         `json:"requester_name,omitempty"`
	TargetID      string         `json:"target_id"`
	Status        LocationStatus `json:"status"`
}

// TrackingState is the requester-side view of one (requester, target) pair.
type TrackingState string

const (
	TrackingNone    TrackingState = "none"
	TrackingPending TrackingState = "pending"
	TrackingActive  TrackingState = "active"
)

type Position struct {
	X float64 `json:"pos_x"`
	Y float64 `json:"pos_y"`
}

// SharedLocation is a position another user shared with the local user.
type SharedLocation struct {
	SharerID   string  `json:"sharer_id"`
	SharerName string  `json:"sharer_name,omitempty"`
	X          float64 `json:"pos_x"`
	Y          float64 `json:"pos_y"`
}
