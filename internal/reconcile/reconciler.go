// Package reconcile keeps the canonical local copy of the friends panel state
// and turns server snapshots into user notifications.
package reconcile

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"OverlayCompanion/internal/domain"
)

const (
	OfflineSuppressWindow = time.Second
	RestartGrace          = 5 * time.Second
	// MaxRestartWindow bounds suppression when the push channel never drops.
	MaxRestartWindow      = 2 * time.Minute
	ToggleCooldown        = 2 * time.Second
)

const (
	msgNewFriendRequest   = "New friend request received!"
	msgNewLocationRequest = "New location tracking request!"
)

type Notifier interface {
	Notify(message string, severity domain.Severity)
}

type Options struct {
	Notifier Notifier
	Now      func() time.Time
	Logger   *slog.Logger
}

// Reconciler is safe for concurrent use. Server snapshots replace local
// collections wholesale; optimistic tracking marks survive only until the
// next authoritative tracking update.
type Reconciler struct {
	notifier Notifier
	now      func() time.Time
	log      *slog.Logger

	mu sync.Mutex

	friends       []domain.Friend
	friendsAt     time.Time
	friendsLoaded bool
	prevOnline    map[string]bool

	suppressUntil  time.Time
	restarting     bool
	restartClearAt time.Time

	requests         []domain.FriendRequest
	lastRequestCount int

	incoming          []domain.LocationRequest
	lastIncomingCount int

	tracking         map[string]domain.TrackingState
	optimistic       map[string]bool
	sharingTo        map[string]bool
	waypointNotified map[string]bool
	lastToggle       map[string]time.Time
	received         []domain.SharedLocation
}

func New(opts Options) *Reconciler {
	r := &Reconciler{
		notifier:          opts.Notifier,
		now:               opts.Now,
		log:               opts.Logger,
		prevOnline:        make(map[string]bool),
		lastRequestCount:  -1,
		lastIncomingCount: -1,
		tracking:          make(map[string]domain.TrackingState),
		optimistic:        make(map[string]bool),
		sharingTo:         make(map[string]bool),
		waypointNotified:  make(map[string]bool),
		lastToggle:        make(map[string]time.Time),
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	return r
}

type notice struct {
	message  string
	severity domain.Severity
}

// emit delivers notices outside the lock so a notifier may read state back.
func (r *Reconciler) emit(notices []notice) {
	if r.notifier == nil {
		return
	}
	for _, n := range notices {
		r.notifier.Notify(n.message, n.severity)
	}
}

// ApplyFriends diffs a full friends snapshot against the previous one.
func (r *Reconciler) ApplyFriends(friends []domain.Friend) {
	r.mu.Lock()
	now := r.now()

	online := make(map[string]bool, len(friends))
	for _, f := range friends {
		if f.Online {
			online[f.ID] = true
		}
	}

	var notices []notice
	if r.friendsLoaded {
		for _, f := range friends {
			if f.Online && !r.prevOnline[f.ID] {
				notices = append(notices, notice{displayName(f) + " came online", domain.SeveritySuccess})
			}
		}
		if !r.offlineSuppressedLocked(now) {
			for _, id := range sortedKeys(r.prevOnline) {
				if online[id] {
					continue
				}
				notices = append(notices, notice{r.nameFor(id, friends) + " went offline", domain.SeverityInfo})
			}
		}
	}

	r.friends = append([]domain.Friend(nil), friends...)
	r.friendsAt = now
	r.prevOnline = online
	r.friendsLoaded = true
	r.mu.Unlock()

	r.log.Debug("friends snapshot applied", "count", len(friends), "online", len(online), "notices", len(notices))
	r.emit(notices)
}

func (r *Reconciler) nameFor(id string, current []domain.Friend) string {
	for _, f := range current {
		if f.ID == id {
			return displayName(f)
		}
	}
	for _, f := range r.friends {
		if f.ID == id {
			return displayName(f)
		}
	}
	return id
}

func displayName(f domain.Friend) string {
	if f.Name != "" {
		return f.Name
	}
	return f.ID
}

func (r *Reconciler) offlineSuppressedLocked(now time.Time) bool {
	if now.Before(r.suppressUntil) {
		return true
	}
	if !r.restarting {
		return false
	}
	if !r.restartClearAt.IsZero() && !now.Before(r.restartClearAt) {
		r.restarting = false
		r.restartClearAt = time.Time{}
		return false
	}
	return true
}

// SuppressOffline silences "went offline" notices for a short window. Used
// around friend removal, where the server reports the friend as offline.
func (r *Reconciler) SuppressOffline() {
	r.mu.Lock()
	defer r.mu.Unlock()
	until := r.now().Add(OfflineSuppressWindow)
	if until.After(r.suppressUntil) {
		r.suppressUntil = until
	}
}

// SetRestarting suppresses offline notices until RestartGrace after the
// next reconnect, or MaxRestartWindow from now, whichever comes first.
func (r *Reconciler) SetRestarting() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.restarting = true
	r.restartClearAt = r.now().Add(MaxRestartWindow)
}

func (r *Reconciler) MarkReconnected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.restarting {
		return
	}
	if clearAt := r.now().Add(RestartGrace); clearAt.Before(r.restartClearAt) {
		r.restartClearAt = clearAt
	}
}

func (r *Reconciler) Restarting() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.restarting && (r.restartClearAt.IsZero() || r.now().Before(r.restartClearAt))
}

// ApplyFriendRequests stores the pending incoming requests and announces a
// growing count.
func (r *Reconciler) ApplyFriendRequests(reqs []domain.FriendRequest) {
	r.mu.Lock()
	var notices []notice
	if r.lastRequestCount >= 0 && len(reqs) > r.lastRequestCount {
		notices = append(notices, notice{msgNewFriendRequest, domain.SeverityInfo})
	}
	r.lastRequestCount = len(reqs)
	r.requests = append([]domain.FriendRequest(nil), reqs...)
	r.mu.Unlock()

	r.emit(notices)
}

// ApplyLocationRequests stores requests where the local user is the target.
// Active ones are added to the sharing set, which only shrinks through
// explicit removal.
func (r *Reconciler) ApplyLocationRequests(reqs []domain.LocationRequest) {
	r.mu.Lock()
	pending := 0
	for _, req := range reqs {
		switch req.Status {
		case domain.LocationStatusPending:
			pending++
		case domain.LocationStatusActive:
			r.sharingTo[req.RequesterID] = true
		}
	}
	var notices []notice
	if r.lastIncomingCount >= 0 && pending > r.lastIncomingCount {
		notices = append(notices, notice{msgNewLocationRequest, domain.SeverityInfo})
	}
	r.lastIncomingCount = pending
	r.incoming = append([]domain.LocationRequest(nil), reqs...)
	r.mu.Unlock()

	r.emit(notices)
}

// ApplyLocationTracking replaces the outgoing tracking state. Any optimistic
// mark is discarded whether or not the server agrees with it.
func (r *Reconciler) ApplyLocationTracking(reqs []domain.LocationRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[string]domain.TrackingState, len(reqs))
	for _, req := range reqs {
		switch req.Status {
		case domain.LocationStatusActive:
			next[req.TargetID] = domain.TrackingActive
		case domain.LocationStatusPending:
			if next[req.TargetID] != domain.TrackingActive {
				next[req.TargetID] = domain.TrackingPending
			}
		}
	}
	for id := range r.waypointNotified {
		if _, ok := next[id]; !ok {
			delete(r.waypointNotified, id)
		}
	}
	r.tracking = next
	r.optimistic = make(map[string]bool)
}

// ApplyReceivedLocations stores positions shared with the local user and
// returns the ones that should become waypoints. The first waypoint from
// each sharer is announced.
func (r *Reconciler) ApplyReceivedLocations(locs []domain.SharedLocation) []domain.SharedLocation {
	r.mu.Lock()
	r.received = append([]domain.SharedLocation(nil), locs...)
	notices := r.markWaypointsLocked(locs)
	r.mu.Unlock()

	r.emit(notices)
	return append([]domain.SharedLocation(nil), locs...)
}

// ApplySharedLocation handles a single pushed location.
func (r *Reconciler) ApplySharedLocation(loc domain.SharedLocation) {
	r.mu.Lock()
	replaced := false
	for i := range r.received {
		if r.received[i].SharerID == loc.SharerID {
			r.received[i] = loc
			replaced = true
		}
	}
	if !replaced {
		r.received = append(r.received, loc)
	}
	notices := r.markWaypointsLocked([]domain.SharedLocation{loc})
	r.mu.Unlock()

	r.emit(notices)
}

func (r *Reconciler) markWaypointsLocked(locs []domain.SharedLocation) []notice {
	var notices []notice
	for _, loc := range locs {
		if loc.SharerID == "" || r.waypointNotified[loc.SharerID] {
			continue
		}
		r.waypointNotified[loc.SharerID] = true
		name := loc.SharerName
		if name == "" {
			name = loc.SharerID
		}
		notices = append(notices, notice{"Waypoint set from " + name, domain.SeveritySuccess})
	}
	return notices
}

// ToggleDecision is the optimistic outcome of a tracking toggle.
type ToggleDecision struct {
	TargetID string
	From     domain.TrackingState
	To       domain.TrackingState
	// Active is the flag sent to the server.
	Active bool
}

// BeginToggle applies a tracking toggle locally before the command is sent.
// A second toggle for the same target inside ToggleCooldown returns
// ErrCooldown and changes nothing.
func (r *Reconciler) BeginToggle(targetID string) (ToggleDecision, error) {
	if targetID == "" {
		return ToggleDecision{}, domain.NewValidationError(map[string]string{"target_id": "required"})
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if last, ok := r.lastToggle[targetID]; ok && now.Sub(last) < ToggleCooldown {
		return ToggleDecision{}, fmt.Errorf("toggle %s: %w", targetID, domain.ErrCooldown)
	}
	r.lastToggle[targetID] = now

	from := r.trackingLocked(targetID)
	d := ToggleDecision{TargetID: targetID, From: from}
	if from == domain.TrackingNone {
		d.To = domain.TrackingPending
		d.Active = true
		r.tracking[targetID] = domain.TrackingPending
		r.optimistic[targetID] = true
		return d, nil
	}
	d.To = domain.TrackingNone
	delete(r.tracking, targetID)
	delete(r.waypointNotified, targetID)
	r.optimistic[targetID] = true
	return d, nil
}

func (r *Reconciler) Tracking(targetID string) domain.TrackingState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trackingLocked(targetID)
}

func (r *Reconciler) trackingLocked(targetID string) domain.TrackingState {
	if s, ok := r.tracking[targetID]; ok {
		return s
	}
	return domain.TrackingNone
}

func (r *Reconciler) Optimistic(targetID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.optimistic[targetID]
}

func (r *Reconciler) PendingTargets() []string {
	return r.targetsIn(domain.TrackingPending)
}

func (r *Reconciler) ActiveTargets() []string {
	return r.targetsIn(domain.TrackingActive)
}

func (r *Reconciler) targetsIn(state domain.TrackingState) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []string{}
	for id, s := range r.tracking {
		if s == state {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (r *Reconciler) AddSharingTo(requesterID string) {
	if requesterID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sharingTo[requesterID] = true
}

func (r *Reconciler) RemoveSharingTo(requesterID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sharingTo, requesterID)
	delete(r.waypointNotified, requesterID)
}

// ForgetUser drops every local relationship with a removed or blocking user.
func (r *Reconciler) ForgetUser(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sharingTo, userID)
	delete(r.waypointNotified, userID)
	delete(r.tracking, userID)
	delete(r.optimistic, userID)
}

func (r *Reconciler) SharingTo() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedKeys(r.sharingTo)
}

func (r *Reconciler) Online() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedKeys(r.prevOnline)
}

// State is a point-in-time copy for presentation.
type State struct {
	Friends           []domain.Friend                 `json:"friends"`
	FriendsAt         time.Time                       `json:"friends_at"`
	FriendsLoaded     bool                            `json:"friends_loaded"`
	Online            []string                        `json:"online"`
	FriendRequests    []domain.FriendRequest          `json:"friend_requests"`
	LocationRequests  []domain.LocationRequest        `json:"location_requests"`
	Tracking          map[string]domain.TrackingState `json:"tracking"`
	SharingTo         []string                        `json:"sharing_to"`
	ReceivedLocations []domain.SharedLocation         `json:"received_locations"`
}

func (r *Reconciler) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	tracking := make(map[string]domain.TrackingState, len(r.tracking))
	for k, v := range r.tracking {
		tracking[k] = v
	}
	return State{
		Friends:           append([]domain.Friend{}, r.friends...),
		FriendsAt:         r.friendsAt,
		FriendsLoaded:     r.friendsLoaded,
		Online:            sortedKeys(r.prevOnline),
		FriendRequests:    append([]domain.FriendRequest{}, r.requests...),
		LocationRequests:  append([]domain.LocationRequest{}, r.incoming...),
		Tracking:          tracking,
		SharingTo:         sortedKeys(r.sharingTo),
		ReceivedLocations: append([]domain.SharedLocation{}, r.received...),
	}
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k, ok := range m {
		if ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
