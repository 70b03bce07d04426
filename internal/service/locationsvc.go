package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"OverlayCompanion/internal/domain"
	"OverlayCompanion/internal/hostbridge"
	"OverlayCompanion/internal/reconcile"
	"OverlayCompanion/internal/transport"
)

type ToggleResult struct {
	TargetID string               `json:"target_id"`
	State    domain.TrackingState `json:"state"`
	Dropped  bool                 `json:"dropped,omitempty"`
}

// LocationService handles tracking requests in both directions and moves
// positions between the host and the backend.
type LocationService struct {
	Session    *domain.Session
	Transport  CommandSender
	Reconciler *reconcile.Reconciler
	Notifier   Notifier
	Host       HostSender
	Publisher  Publisher
	Logger     *slog.Logger

	mu sync.Mutex
	// pendingShare is the requester of a one-shot share waiting for the
	// next position from the host.
	pendingShare string
	pendingAuto  bool
}

// Toggle flips tracking of target. A repeat inside the cooldown is dropped
// without error.
func (s *LocationService) Toggle(ctx context.Context, targetID string) (ToggleResult, error) {
	userID, err := requireUser(s.Session, s.Notifier)
	if err != nil {
		return ToggleResult{}, err
	}
	targetID = strings.TrimSpace(targetID)
	if targetID == userID {
		return ToggleResult{}, domain.NewValidationError(map[string]string{"target_id": "cannot track yourself"})
	}

	d, err := s.Reconciler.BeginToggle(targetID)
	if err != nil {
		if errors.Is(err, domain.ErrCooldown) {
			return ToggleResult{TargetID: targetID, State: s.Reconciler.Tracking(targetID), Dropped: true}, nil
		}
		return ToggleResult{}, err
	}
	s.changed("tracking")

	cmd := transport.NewCommand(transport.CmdToggleLocation, transport.LocationTogglePayload{
		RequesterID: userID,
		TargetID:    targetID,
		Active:      d.Active,
	})
	res, err := runAction(ctx, s.Transport, s.Notifier, cmd)
	if err != nil {
		return ToggleResult{TargetID: targetID, State: d.To}, err
	}
	if res.Via == transport.ViaPoll {
		if d.Active {
			s.notify("Location request sent to "+targetID, domain.SeveritySuccess)
		} else {
			s.notify("Location tracking stopped for "+targetID, domain.SeverityInfo)
		}
	}
	afterAction(ctx, s.Transport, s.logger(), res, userID, transport.CmdGetLocationTracking)
	return ToggleResult{TargetID: targetID, State: s.Reconciler.Tracking(targetID)}, nil
}

// AcceptRequest starts sharing the local position with requester.
func (s *LocationService) AcceptRequest(ctx context.Context, requesterID string) error {
	userID, err := requireUser(s.Session, s.Notifier)
	if err != nil {
		return err
	}
	if requesterID = strings.TrimSpace(requesterID); requesterID == "" {
		return domain.NewValidationError(map[string]string{"requester_id": "required"})
	}

	cmd := transport.NewCommand(transport.CmdAcceptLocationRequest, transport.LocationPairPayload{RequesterID: requesterID, TargetID: userID})
	res, err := runAction(ctx, s.Transport, s.Notifier, cmd)
	if err != nil {
		return err
	}
	s.Reconciler.AddSharingTo(requesterID)
	s.changed("sharing")
	afterAction(ctx, s.Transport, s.logger(), res, userID, transport.CmdGetLocationRequests)
	if res.Via == transport.ViaPoll {
		s.notify("Location sharing started", domain.SeveritySuccess)
	}
	return nil
}

func (s *LocationService) DenyRequest(ctx context.Context, requesterID string) error {
	userID, err := requireUser(s.Session, s.Notifier)
	if err != nil {
		return err
	}
	if requesterID = strings.TrimSpace(requesterID); requesterID == "" {
		return domain.NewValidationError(map[string]string{"requester_id": "required"})
	}

	cmd := transport.NewCommand(transport.CmdDenyLocationRequest, transport.LocationPairPayload{RequesterID: requesterID, TargetID: userID})
	res, err := runAction(ctx, s.Transport, s.Notifier, cmd)
	if err != nil {
		return err
	}
	s.Reconciler.RemoveSharingTo(requesterID)
	s.changed("sharing")
	afterAction(ctx, s.Transport, s.logger(), res, userID, transport.CmdGetLocationRequests)
	if res.Via == transport.ViaPoll {
		s.notify("Location request denied", domain.SeverityInfo)
	}
	return nil
}

// StopSharing ends an accepted request from the target side.
func (s *LocationService) StopSharing(ctx context.Context, requesterID string) error {
	userID, err := requireUser(s.Session, s.Notifier)
	if err != nil {
		return err
	}
	if requesterID = strings.TrimSpace(requesterID); requesterID == "" {
		return domain.NewValidationError(map[string]string{"requester_id": "required"})
	}

	cmd := transport.NewCommand(transport.CmdToggleLocation, transport.LocationTogglePayload{RequesterID: requesterID, TargetID: userID, Active: false})
	res, err := runAction(ctx, s.Transport, s.Notifier, cmd)
	if err != nil {
		return err
	}
	s.Reconciler.RemoveSharingTo(requesterID)
	s.changed("sharing")
	afterAction(ctx, s.Transport, s.logger(), res, userID, transport.CmdGetLocationRequests)
	if res.Via == transport.ViaPoll {
		s.notify("Location tracking stopped", domain.SeverityInfo)
	}
	return nil
}

// ShareOnce asks the host for the current position and sends it to
// requester when it arrives.
func (s *LocationService) ShareOnce(ctx context.Context, requesterID string) error {
	if _, err := requireUser(s.Session, s.Notifier); err != nil {
		return err
	}
	if requesterID = strings.TrimSpace(requesterID); requesterID == "" {
		return domain.NewValidationError(map[string]string{"requester_id": "required"})
	}

	s.mu.Lock()
	s.pendingShare = requesterID
	s.mu.Unlock()

	if err := s.requestPosition(); err != nil {
		s.mu.Lock()
		s.pendingShare = ""
		s.mu.Unlock()
		s.notify("Game client not connected", domain.SeverityError)
		return err
	}
	return nil
}

// RunAutoShare asks the host for a position on every tick while someone is
// allowed to track the local user.
func (s *LocationService) RunAutoShare(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.autoShareTick()
		}
	}
}

func (s *LocationService) autoShareTick() {
	if _, ok := s.Session.UserID(); !ok {
		return
	}
	if len(s.Reconciler.SharingTo()) == 0 {
		return
	}
	s.mu.Lock()
	s.pendingAuto = true
	s.mu.Unlock()
	if err := s.requestPosition(); err != nil {
		s.logger().Debug("auto share skipped", "err", err)
	}
}

func (s *LocationService) requestPosition() error {
	if s.Host == nil {
		return domain.ErrUnavailable
	}
	return s.Host.Send(hostbridge.GetNamedData("pos_x", "pos_y"))
}

// HandlePosition consumes the pending purposes for a position from the
// host. Both flags are cleared whether or not anything is sent.
func (s *LocationService) HandlePosition(p hostbridge.Position) {
	userID, ok := s.Session.UserID()
	if !ok {
		return
	}

	s.mu.Lock()
	oneShot := s.pendingShare
	auto := s.pendingAuto
	s.pendingShare = ""
	s.pendingAuto = false
	s.mu.Unlock()

	var targets []string
	if oneShot != "" {
		targets = append(targets, oneShot)
	}
	if auto {
		for _, id := range s.Reconciler.SharingTo() {
			if id != oneShot {
				targets = append(targets, id)
			}
		}
	}
	if len(targets) == 0 {
		return
	}

	loc := domain.Position{X: p.X, Y: p.Y}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, requesterID := range targets {
		cmd := transport.NewCommand(transport.CmdShareLocation, transport.ShareLocationPayload{
			SharerID:    userID,
			RequesterID: requesterID,
			Location:    loc,
		})
		if _, err := s.Transport.SendCommand(ctx, cmd); err != nil {
			s.logger().Warn("share location failed", "requester_id", requesterID, "err", err)
		}
	}
}

func (s *LocationService) Bind(t EventSource) {
	t.OnUpdate(transport.EventLocationRequestsUpdate, s.handleLocationRequests)
	t.OnUpdate(transport.EventLocationTrackingUpdate, s.handleLocationTracking)
	t.OnUpdate(transport.EventReceivedLocations, s.handleReceivedLocations)
	t.OnUpdate(transport.EventLocationShared, s.handleLocationShared)
}

func (s *LocationService) handleLocationRequests(data json.RawMessage) {
	reqs, err := transport.DecodeLocationRequests(data)
	if err != nil {
		s.logger().Warn("bad location requests payload", "err", err)
		return
	}
	s.Reconciler.ApplyLocationRequests(reqs)
	s.changed("location_requests")
}

func (s *LocationService) handleLocationTracking(data json.RawMessage) {
	reqs, err := transport.DecodeLocationRequests(data)
	if err != nil {
		s.logger().Warn("bad location tracking payload", "err", err)
		return
	}
	s.Reconciler.ApplyLocationTracking(reqs)
	s.changed("tracking")
}

func (s *LocationService) handleReceivedLocations(data json.RawMessage) {
	locs, err := transport.DecodeSharedLocations(data)
	if err != nil {
		s.logger().Warn("bad received locations payload", "err", err)
		return
	}
	for _, loc := range s.Reconciler.ApplyReceivedLocations(locs) {
		s.setWaypoint(loc)
	}
	s.changed("received_locations")
}

func (s *LocationService) handleLocationShared(data json.RawMessage) {
	loc, ok, err := transport.DecodeSharedLocation(data)
	if err != nil {
		s.logger().Warn("bad location-shared payload", "err", err)
		return
	}
	if !ok {
		return
	}
	s.Reconciler.ApplySharedLocation(loc)
	s.setWaypoint(loc)
	s.changed("received_locations")
}

func (s *LocationService) setWaypoint(loc domain.SharedLocation) {
	if s.Host == nil {
		return
	}
	if err := s.Host.Send(hostbridge.SetWaypoint(loc.X, loc.Y)); err != nil {
		s.logger().Debug("waypoint not sent", "sharer_id", loc.SharerID, "err", err)
	}
}

func (s *LocationService) notify(msg string, sev domain.Severity) {
	notifierOrNoop(s.Notifier).Notify(msg, sev)
}

func (s *LocationService) changed(what string) {
	publisherOrNoop(s.Publisher).Publish(TopicStateChanged, map[string]string{"collection": what})
}

func (s *LocationService) logger() *slog.Logger { return loggerOrDefault(s.Logger) }
