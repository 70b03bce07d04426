package transport

import (
	"encoding/json"

	"OverlayCompanion/internal/domain"

	"github.com/google/uuid"
)

// Inbound push events.
const (
	EventFriendsUpdate          = "friends-update"
	EventFriendRequestsUpdate   = "friend-requests-update"
	EventLocationRequestsUpdate = "location-requests-update"
	EventLocationTrackingUpdate = "location-tracking-update"
	EventReceivedLocations      = "received-locations-update"
	EventFriendRequestReceived  = "friend-request-received"
	EventFriendRequestDeclined  = "friend-request-declined"
	EventFriendAdded            = "friend-added"
	EventFriendRemoved          = "friend-removed"
	EventUserBlocked            = "user-blocked"
	EventLocationShared         = "location-shared"
	EventServerRestarting       = "server-restarting"
	EventAdminNotification      = "admin-notification"
	EventForceReload            = "force-reload"
	EventActionResult           = "action-result"
	EventJoined                 = "joined"
)

// Outbound commands.
const (
	CmdJoin                  = "join"
	CmdSendFriendRequest     = "send-friend-request"
	CmdAcceptFriendRequest   = "accept-friend-request"
	CmdDeclineFriendRequest  = "decline-friend-request"
	CmdRemoveFriend          = "remove-friend"
	CmdBlockUser             = "block-user"
	CmdUnblockUser           = "unblock-user"
	CmdToggleLocation        = "toggle-location-tracking"
	CmdAcceptLocationRequest = "accept-location-request"
	CmdDenyLocationRequest   = "deny-location-request"
	CmdSetFriendName         = "set-friend-name"
	CmdShareLocation         = "share-location"
	CmdGetFriends            = "get-friends"
	CmdGetFriendRequests     = "get-friend-requests"
	CmdGetLocationRequests   = "get-location-requests"
	CmdGetLocationTracking   = "get-location-tracking"
	CmdGetReceivedLocations  = "get-received-locations"
)

// Envelope is the push channel frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type Command struct {
	ID      string
	Name    string
	Payload any
}

func NewCommand(name string, payload any) Command {
	return Command{ID: uuid.NewString(), Name: name, Payload: payload}
}

type Via string

const (
	ViaPush Via = "push"
	ViaPoll Via = "poll"
)

// Result describes what happened to a command. Push deliveries are
// fire-and-forget, so Success only means the frame was written.
type Result struct {
	Via     Via
	Success bool
	Message string
}

type UserPayload struct {
	UserID string `json:"user_id"`
}

type FriendRequestPayload struct {
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
}

type FriendPayload struct {
	UserID   string `json:"user_id"`
	FriendID string `json:"friend_id"`
}

type FriendNamePayload struct {
	UserID   string `json:"user_id"`
	FriendID string `json:"friend_id"`
	Name     string `json:"name"`
}

type BlockPayload struct {
	BlockerID string `json:"blocker_id"`
	BlockedID string `json:"blocked_id"`
}

type LocationTogglePayload struct {
	RequesterID string `json:"requester_id"`
	TargetID    string `json:"target_id"`
	Active      bool   `json:"active"`
}

type LocationPairPayload struct {
	RequesterID string `json:"requester_id"`
	TargetID    string `json:"target_id"`
}

type ShareLocationPayload struct {
	SharerID    string          `json:"sharer_id"`
	RequesterID string          `json:"requester_id"`
	Location    domain.Position `json:"location"`
}
