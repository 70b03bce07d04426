package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"OverlayCompanion/internal/domain"
	"OverlayCompanion/internal/reconcile"
	"OverlayCompanion/internal/transport"
)

const maxFriendNameLen = 32

var allRefreshCommands = []string{
	transport.CmdGetFriends,
	transport.CmdGetFriendRequests,
	transport.CmdGetLocationRequests,
	transport.CmdGetLocationTracking,
	transport.CmdGetReceivedLocations,
}

// FriendsService is the command layer for relationships. It also binds the
// reconciler to the relationship events of the transport.
type FriendsService struct {
	Session    *domain.Session
	Transport  CommandSender
	Reconciler *reconcile.Reconciler
	Notifier   Notifier
	Publisher  Publisher
	Logger     *slog.Logger
}

func (s *FriendsService) SendRequest(ctx context.Context, receiverID string) error {
	userID, err := requireUser(s.Session, s.Notifier)
	if err != nil {
		return err
	}
	receiverID = strings.TrimSpace(receiverID)
	if receiverID == "" {
		return domain.NewValidationError(map[string]string{"receiver_id": "required"})
	}
	if receiverID == userID {
		return domain.NewValidationError(map[string]string{"receiver_id": "cannot friend yourself"})
	}

	cmd := transport.NewCommand(transport.CmdSendFriendRequest, transport.FriendRequestPayload{SenderID: userID, ReceiverID: receiverID})
	res, err := runAction(ctx, s.Transport, s.Notifier, cmd)
	if err != nil {
		return err
	}
	s.succeeded(res, "Friend request sent!")
	return nil
}

func (s *FriendsService) AcceptRequest(ctx context.Context, senderID string) error {
	userID, err := requireUser(s.Session, s.Notifier)
	if err != nil {
		return err
	}
	if senderID = strings.TrimSpace(senderID); senderID == "" {
		return domain.NewValidationError(map[string]string{"sender_id": "required"})
	}

	cmd := transport.NewCommand(transport.CmdAcceptFriendRequest, transport.FriendRequestPayload{SenderID: senderID, ReceiverID: userID})
	res, err := runAction(ctx, s.Transport, s.Notifier, cmd)
	if err != nil {
		return err
	}
	afterAction(ctx, s.Transport, s.logger(), res, userID, transport.CmdGetFriendRequests, transport.CmdGetFriends)
	s.succeeded(res, "Friend request accepted!")
	return nil
}

func (s *FriendsService) DeclineRequest(ctx context.Context, senderID string) error {
	userID, err := requireUser(s.Session, s.Notifier)
	if err != nil {
		return err
	}
	if senderID = strings.TrimSpace(senderID); senderID == "" {
		return domain.NewValidationError(map[string]string{"sender_id": "required"})
	}

	cmd := transport.NewCommand(transport.CmdDeclineFriendRequest, transport.FriendRequestPayload{SenderID: senderID, ReceiverID: userID})
	res, err := runAction(ctx, s.Transport, s.Notifier, cmd)
	if err != nil {
		return err
	}
	afterAction(ctx, s.Transport, s.logger(), res, userID, transport.CmdGetFriendRequests)
	s.succeeded(res, "Friend request declined")
	return nil
}

// RemoveFriend suppresses the offline notice the removal itself causes.
func (s *FriendsService) RemoveFriend(ctx context.Context, friendID string) error {
	userID, err := requireUser(s.Session, s.Notifier)
	if err != nil {
		return err
	}
	if friendID = strings.TrimSpace(friendID); friendID == "" {
		return domain.NewValidationError(map[string]string{"friend_id": "required"})
	}

	s.Reconciler.SuppressOffline()
	cmd := transport.NewCommand(transport.CmdRemoveFriend, transport.FriendPayload{UserID: userID, FriendID: friendID})
	res, err := runAction(ctx, s.Transport, s.Notifier, cmd)
	if err != nil {
		return err
	}
	s.Reconciler.ForgetUser(friendID)
	afterAction(ctx, s.Transport, s.logger(), res, userID, transport.CmdGetFriends)
	s.succeeded(res, "Friend removed")
	return nil
}

func (s *FriendsService) BlockUser(ctx context.Context, blockedID string) error {
	userID, err := requireUser(s.Session, s.Notifier)
	if err != nil {
		return err
	}
	if blockedID = strings.TrimSpace(blockedID); blockedID == "" {
		return domain.NewValidationError(map[string]string{"blocked_id": "required"})
	}
	if blockedID == userID {
		return domain.NewValidationError(map[string]string{"blocked_id": "cannot block yourself"})
	}

	s.Reconciler.SuppressOffline()
	cmd := transport.NewCommand(transport.CmdBlockUser, transport.BlockPayload{BlockerID: userID, BlockedID: blockedID})
	res, err := runAction(ctx, s.Transport, s.Notifier, cmd)
	if err != nil {
		return err
	}
	s.Reconciler.ForgetUser(blockedID)
	afterAction(ctx, s.Transport, s.logger(), res, userID, transport.CmdGetFriends, transport.CmdGetFriendRequests)
	s.succeeded(res, "User blocked")
	return nil
}

func (s *FriendsService) UnblockUser(ctx context.Context, blockedID string) error {
	userID, err := requireUser(s.Session, s.Notifier)
	if err != nil {
		return err
	}
	if blockedID = strings.TrimSpace(blockedID); blockedID == "" {
		return domain.NewValidationError(map[string]string{"blocked_id": "required"})
	}

	cmd := transport.NewCommand(transport.CmdUnblockUser, transport.BlockPayload{BlockerID: userID, BlockedID: blockedID})
	res, err := runAction(ctx, s.Transport, s.Notifier, cmd)
	if err != nil {
		return err
	}
	s.succeeded(res, "User unblocked")
	return nil
}

func (s *FriendsService) SetFriendName(ctx context.Context, friendID, name string) error {
	userID, err := requireUser(s.Session, s.Notifier)
	if err != nil {
		return err
	}
	friendID = strings.TrimSpace(friendID)
	name = strings.TrimSpace(name)
	fields := map[string]string{}
	if friendID == "" {
		fields["friend_id"] = "required"
	}
	if name == "" {
		fields["name"] = "required"
	} else if utf8.RuneCountInString(name) > maxFriendNameLen {
		fields["name"] = "too long"
	}
	if len(fields) > 0 {
		return domain.NewValidationError(fields)
	}

	cmd := transport.NewCommand(transport.CmdSetFriendName, transport.FriendNamePayload{UserID: userID, FriendID: friendID, Name: name})
	res, err := runAction(ctx, s.Transport, s.Notifier, cmd)
	if err != nil {
		return err
	}
	afterAction(ctx, s.Transport, s.logger(), res, userID, transport.CmdGetFriends)
	s.succeeded(res, "Friend name updated")
	return nil
}

// RefreshAll pulls every collection. Without a session it does nothing.
func (s *FriendsService) RefreshAll(ctx context.Context) error {
	userID, ok := s.Session.UserID()
	if !ok {
		return nil
	}
	return refreshNow(ctx, s.Transport, userID, allRefreshCommands...)
}

// RunPoller refreshes on every tick while the push channel is down. Each
// refresh runs on its own goroutine, so a slow response never delays the
// next tick.
func (s *FriendsService) RunPoller(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if s.Transport.State() == domain.ConnectionConnectedPush {
				continue
			}
			go func() {
				rctx, cancel := context.WithTimeout(ctx, interval*2)
				defer cancel()
				if err := s.RefreshAll(rctx); err != nil {
					s.logger().Warn("periodic refresh failed", "err", err)
				}
			}()
		}
	}
}

// succeeded reports a poll-confirmed action. Push results arrive as an
// action-result event instead.
func (s *FriendsService) succeeded(res transport.Result, msg string) {
	if res.Via != transport.ViaPoll {
		return
	}
	if res.Message != "" {
		msg = res.Message
	}
	notifierOrNoop(s.Notifier).Notify(msg, domain.SeveritySuccess)
}

// Bind registers the relationship event handlers on t.
func (s *FriendsService) Bind(t EventSource) {
	t.OnUpdate(transport.EventFriendsUpdate, s.handleFriends)
	t.OnUpdate(transport.EventFriendRequestsUpdate, s.handleFriendRequests)
	t.OnUpdate(transport.EventFriendRequestReceived, s.handleRequestReceived)
	t.OnUpdate(transport.EventFriendRequestDeclined, s.handleRequestDeclined)
	t.OnUpdate(transport.EventFriendAdded, s.handleFriendAdded)
	t.OnUpdate(transport.EventFriendRemoved, s.handleFriendRemoved)
	t.OnUpdate(transport.EventUserBlocked, s.handleUserBlocked)
	t.OnUpdate(transport.EventAdminNotification, s.handleAdminNotification)
	t.OnUpdate(transport.EventActionResult, s.handleActionResult)
	t.OnUpdate(transport.EventServerRestarting, s.handleServerRestarting)
	t.OnUpdate(transport.EventJoined, s.handleJoined)
	t.OnConnected(s.Reconciler.MarkReconnected)
}

func (s *FriendsService) handleFriends(data json.RawMessage) {
	friends, err := transport.DecodeFriends(data)
	if err != nil {
		s.logger().Warn("bad friends payload", "err", err)
		return
	}
	s.Reconciler.ApplyFriends(friends)
	s.changed("friends")
}

func (s *FriendsService) handleFriendRequests(data json.RawMessage) {
	reqs, err := transport.DecodeFriendRequests(data)
	if err != nil {
		s.logger().Warn("bad friend requests payload", "err", err)
		return
	}
	s.Reconciler.ApplyFriendRequests(reqs)
	s.changed("friend_requests")
}

// handleRequestReceived only refreshes; the count diff raises the notice.
func (s *FriendsService) handleRequestReceived(json.RawMessage) {
	s.refreshInBackground(transport.CmdGetFriendRequests)
}

func (s *FriendsService) handleRequestDeclined(data json.RawMessage) {
	peer, err := transport.DecodePeer(data)
	if err != nil {
		s.logger().Warn("bad decline payload", "err", err)
		return
	}
	notifierOrNoop(s.Notifier).Notify(peerName(peer)+" declined your friend request", domain.SeverityInfo)
}

func (s *FriendsService) handleFriendAdded(data json.RawMessage) {
	peer, err := transport.DecodePeer(data)
	if err != nil {
		s.logger().Warn("bad friend-added payload", "err", err)
		return
	}
	notifierOrNoop(s.Notifier).Notify(peerName(peer)+" is now your friend", domain.SeveritySuccess)
	s.refreshInBackground(transport.CmdGetFriends, transport.CmdGetFriendRequests)
}

func (s *FriendsService) handleFriendRemoved(data json.RawMessage) {
	s.Reconciler.SuppressOffline()
	if peer, err := transport.DecodePeer(data); err == nil && peer.ID != "" {
		s.Reconciler.ForgetUser(peer.ID)
	}
	s.refreshInBackground(transport.CmdGetFriends)
}

func (s *FriendsService) handleUserBlocked(data json.RawMessage) {
	s.Reconciler.SuppressOffline()
	if peer, err := transport.DecodePeer(data); err == nil && peer.ID != "" {
		s.Reconciler.ForgetUser(peer.ID)
	}
	s.refreshInBackground(transport.CmdGetFriends, transport.CmdGetFriendRequests)
}

func (s *FriendsService) handleAdminNotification(data json.RawMessage) {
	msg, err := transport.DecodeMessage(data)
	if err != nil || msg == "" {
		return
	}
	notifierOrNoop(s.Notifier).Notify(msg, domain.SeverityInfo)
}

func (s *FriendsService) handleActionResult(data json.RawMessage) {
	res, err := transport.DecodeActionResult(data)
	if err != nil {
		s.logger().Warn("bad action-result payload", "err", err)
		return
	}
	n := notifierOrNoop(s.Notifier)
	switch {
	case !res.Success:
		msg := res.Message
		if msg == "" {
			msg = "Request failed"
		}
		n.Notify(msg, domain.SeverityError)
	case res.Message != "":
		n.Notify(res.Message, domain.SeveritySuccess)
	}
}

func (s *FriendsService) handleServerRestarting(json.RawMessage) {
	s.Reconciler.SetRestarting()
	s.logger().Info("server restarting")
}

func (s *FriendsService) handleJoined(json.RawMessage) {
	s.refreshInBackground(allRefreshCommands...)
}

func (s *FriendsService) refreshInBackground(names ...string) {
	userID, ok := s.Session.UserID()
	if !ok {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := refreshNow(ctx, s.Transport, userID, names...); err != nil {
			s.logger().Warn("refresh failed", "err", err)
		}
	}()
}

func (s *FriendsService) changed(what string) {
	publisherOrNoop(s.Publisher).Publish(TopicStateChanged, map[string]string{"collection": what})
}

func (s *FriendsService) logger() *slog.Logger { return loggerOrDefault(s.Logger) }

func peerName(p transport.Peer) string {
	switch {
	case p.Name != "":
		return p.Name
	case p.ID != "":
		return p.ID
	default:
		return "Someone"
	}
}
