package reconcile

import (
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"OverlayCompanion/internal/domain"
)

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *recordingNotifier) Notify(message string, _ domain.Severity) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, message)
}

func (n *recordingNotifier) take() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.msgs
	n.msgs = nil
	return out
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestReconciler() (*Reconciler, *recordingNotifier, *fakeClock) {
	n := &recordingNotifier{}
	clk := &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	r := New(Options{Notifier: n, Now: clk.Now, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	return r, n, clk
}

func TestFirstSnapshotIsSilent(t *testing.T) {
	r, n, _ := newTestReconciler()
	r.ApplyFriends([]domain.Friend{{ID: "1", Name: "Ann", Online: true}, {ID: "2", Online: true}})
	if msgs := n.take(); len(msgs) != 0 {
		t.Fatalf("first snapshot produced notifications: %v", msgs)
	}
	if got := r.Online(); !reflect.DeepEqual(got, []string{"1", "2"}) {
		t.Fatalf("unexpected online set %v", got)
	}
}

func TestCameOnlineScenario(t *testing.T) {
	r, n, _ := newTestReconciler()
	r.ApplyFriends([]domain.Friend{{ID: "5", Online: false}})
	r.ApplyFriends([]domain.Friend{{ID: "5", Name: "Ann", Online: true}})

	if msgs := n.take(); !reflect.DeepEqual(msgs, []string{"Ann came online"}) {
		t.Fatalf("unexpected notifications %v", msgs)
	}
	if got := r.Online(); !reflect.DeepEqual(got, []string{"5"}) {
		t.Fatalf("unexpected online set %v", got)
	}
}

func TestReplayingSnapshotIsIdempotent(t *testing.T) {
	r, n, _ := newTestReconciler()
	r.ApplyFriends([]domain.Friend{{ID: "1", Online: false}, {ID: "2", Online: true}})
	snap := []domain.Friend{{ID: "1", Name: "A", Online: true}, {ID: "2", Name: "B", Online: false}}
	r.ApplyFriends(snap)
	if msgs := n.take(); len(msgs) != 2 {
		t.Fatalf("expected online and offline notices, got %v", msgs)
	}
	before := r.Snapshot()

	r.ApplyFriends(snap)
	if msgs := n.take(); len(msgs) != 0 {
		t.Fatalf("replay produced notifications: %v", msgs)
	}
	after := r.Snapshot()
	if !reflect.DeepEqual(before.Friends, after.Friends) || !reflect.DeepEqual(before.Online, after.Online) {
		t.Fatalf("replay changed state")
	}
}

func TestWentOfflineIncludesMissingFriends(t *testing.T) {
	r, n, _ := newTestReconciler()
	r.ApplyFriends([]domain.Friend{{ID: "1", Name: "Ann", Online: true}})
	r.ApplyFriends(nil)
	if msgs := n.take(); !reflect.DeepEqual(msgs, []string{"Ann went offline"}) {
		t.Fatalf("unexpected notifications %v", msgs)
	}
}

func TestOfflineSuppressionWindow(t *testing.T) {
	r, n, clk := newTestReconciler()
	online := []domain.Friend{{ID: "1", Name: "Ann", Online: true}}
	offline := []domain.Friend{{ID: "1", Name: "Ann", Online: false}}

	r.ApplyFriends(online)
	r.SuppressOffline()
	clk.Advance(900 * time.Millisecond)
	r.ApplyFriends(offline)
	if msgs := n.take(); len(msgs) != 0 {
		t.Fatalf("offline inside suppression window notified: %v", msgs)
	}

	r.ApplyFriends(online)
	n.take()
	r.SuppressOffline()
	clk.Advance(OfflineSuppressWindow + time.Millisecond)
	r.ApplyFriends(offline)
	if msgs := n.take(); !reflect.DeepEqual(msgs, []string{"Ann went offline"}) {
		t.Fatalf("offline after window: %v", msgs)
	}
}

func TestRestartSuppressionClearsAfterGrace(t *testing.T) {
	r, n, clk := newTestReconciler()
	online := []domain.Friend{{ID: "1", Name: "Ann", Online: true}}
	offline := []domain.Friend{{ID: "1", Name: "Ann", Online: false}}

	r.ApplyFriends(online)
	r.SetRestarting()
	clk.Advance(time.Minute)
	r.ApplyFriends(offline)
	if msgs := n.take(); len(msgs) != 0 {
		t.Fatalf("offline during restart notified: %v", msgs)
	}

	r.MarkReconnected()
	r.ApplyFriends(online)
	n.take()
	clk.Advance(RestartGrace - time.Second)
	r.ApplyFriends(offline)
	if msgs := n.take(); len(msgs) != 0 {
		t.Fatalf("offline inside restart grace notified: %v", msgs)
	}
	if !r.Restarting() {
		t.Fatalf("expected restart flag still set")
	}

	r.ApplyFriends(online)
	n.take()
	clk.Advance(2 * time.Second)
	r.ApplyFriends(offline)
	if msgs := n.take(); !reflect.DeepEqual(msgs, []string{"Ann went offline"}) {
		t.Fatalf("offline after grace: %v", msgs)
	}
	if r.Restarting() {
		t.Fatalf("restart flag should be cleared")
	}
}

func TestRestartSuppressionBoundedWithoutReconnect(t *testing.T) {
	r, n, clk := newTestReconciler()
	online := []domain.Friend{{ID: "1", Name: "Ann", Online: true}}
	offline := []domain.Friend{{ID: "1", Name: "Ann", Online: false}}

	r.ApplyFriends(online)
	r.SetRestarting()
	clk.Advance(MaxRestartWindow - time.Second)
	if !r.Restarting() {
		t.Fatalf("expected restart flag inside window")
	}

	clk.Advance(2 * time.Second)
	r.ApplyFriends(offline)
	if msgs := n.take(); !reflect.DeepEqual(msgs, []string{"Ann went offline"}) {
		t.Fatalf("offline after restart window: %v", msgs)
	}
	if r.Restarting() {
		t.Fatalf("restart flag should be cleared")
	}
}

func TestFriendRequestCountDiff(t *testing.T) {
	r, n, _ := newTestReconciler()
	one := []domain.FriendRequest{{SenderID: "a", ReceiverID: "me"}}
	two := append(one, domain.FriendRequest{SenderID: "b", ReceiverID: "me"})

	r.ApplyFriendRequests(one)
	if msgs := n.take(); len(msgs) != 0 {
		t.Fatalf("initial load notified: %v", msgs)
	}
	r.ApplyFriendRequests(two)
	if msgs := n.take(); !reflect.DeepEqual(msgs, []string{msgNewFriendRequest}) {
		t.Fatalf("rise 1->2: %v", msgs)
	}
	r.ApplyFriendRequests(nil)
	if msgs := n.take(); len(msgs) != 0 {
		t.Fatalf("fall 2->0 notified: %v", msgs)
	}
}

func TestLocationRequestsAccumulateSharing(t *testing.T) {
	r, n, _ := newTestReconciler()
	r.ApplyLocationRequests([]domain.LocationRequest{{RequesterID: "a", TargetID: "me", Status: domain.LocationStatusActive}})
	r.ApplyLocationRequests([]domain.LocationRequest{{RequesterID: "b", TargetID: "me", Status: domain.LocationStatusPending}})

	if msgs := n.take(); !reflect.DeepEqual(msgs, []string{msgNewLocationRequest}) {
		t.Fatalf("unexpected notifications %v", msgs)
	}
	if got := r.SharingTo(); !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("sharing set should accumulate, got %v", got)
	}
	r.RemoveSharingTo("a")
	if got := r.SharingTo(); len(got) != 0 {
		t.Fatalf("explicit removal failed: %v", got)
	}
}

func TestToggleCooldown(t *testing.T) {
	r, _, clk := newTestReconciler()
	if _, err := r.BeginToggle("T"); err != nil {
		t.Fatalf("first toggle: %v", err)
	}
	clk.Advance(1500 * time.Millisecond)
	if _, err := r.BeginToggle("T"); !errors.Is(err, domain.ErrCooldown) {
		t.Fatalf("expected cooldown, got %v", err)
	}
	if _, err := r.BeginToggle("U"); err != nil {
		t.Fatalf("cooldown must be keyed by target: %v", err)
	}
	clk.Advance(time.Second)
	if _, err := r.BeginToggle("T"); err != nil {
		t.Fatalf("toggle after cooldown: %v", err)
	}
}

func TestTrackingStateMachine(t *testing.T) {
	r, _, clk := newTestReconciler()

	d, err := r.BeginToggle("T")
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if d.To != domain.TrackingPending || !d.Active {
		t.Fatalf("expected none -> pending, got %+v", d)
	}
	if !reflect.DeepEqual(r.PendingTargets(), []string{"T"}) || !r.Optimistic("T") {
		t.Fatalf("optimistic pending not applied")
	}

	r.ApplyLocationTracking([]domain.LocationRequest{{RequesterID: "me", TargetID: "T", Status: domain.LocationStatusActive}})
	if r.Tracking("T") != domain.TrackingActive || r.Optimistic("T") {
		t.Fatalf("server confirmation not applied")
	}
	r.ApplyReceivedLocations([]domain.SharedLocation{{SharerID: "T", SharerName: "Tee"}})

	clk.Advance(ToggleCooldown)
	d, err = r.BeginToggle("T")
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if d.From != domain.TrackingActive || d.To != domain.TrackingNone || d.Active {
		t.Fatalf("expected active -> none, got %+v", d)
	}
	if len(r.PendingTargets()) != 0 || len(r.ActiveTargets()) != 0 {
		t.Fatalf("T still tracked: pending=%v active=%v", r.PendingTargets(), r.ActiveTargets())
	}
}

func TestToggleNeverProducesActive(t *testing.T) {
	r, _, clk := newTestReconciler()
	for i := 0; i < 6; i++ {
		d, err := r.BeginToggle("T")
		if err != nil {
			t.Fatalf("toggle %d: %v", i, err)
		}
		if d.To == domain.TrackingActive {
			t.Fatalf("local toggle produced active")
		}
		clk.Advance(ToggleCooldown)
	}
}

func TestAuthoritativeTrackingDropsOptimisticMarks(t *testing.T) {
	r, _, _ := newTestReconciler()
	if _, err := r.BeginToggle("T"); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	r.ApplyLocationTracking(nil)
	if r.Tracking("T") != domain.TrackingNone || r.Optimistic("T") {
		t.Fatalf("optimistic pending survived authoritative update")
	}
}

func TestWaypointNoticeOncePerSharer(t *testing.T) {
	r, n, _ := newTestReconciler()
	r.ApplyLocationTracking([]domain.LocationRequest{{TargetID: "9", Status: domain.LocationStatusActive}})
	locs := []domain.SharedLocation{{SharerID: "9", SharerName: "Cy", X: 1, Y: 2}}

	if got := r.ApplyReceivedLocations(locs); len(got) != 1 {
		t.Fatalf("expected one waypoint, got %v", got)
	}
	r.ApplyReceivedLocations(locs)
	r.ApplySharedLocation(domain.SharedLocation{SharerID: "9", SharerName: "Cy", X: 3, Y: 4})
	if msgs := n.take(); !reflect.DeepEqual(msgs, []string{"Waypoint set from Cy"}) {
		t.Fatalf("unexpected notifications %v", msgs)
	}

	r.ApplyLocationTracking(nil)
	r.ApplyReceivedLocations(locs)
	if msgs := n.take(); len(msgs) != 1 {
		t.Fatalf("marker should reset once tracking ends, got %v", msgs)
	}
	if got := r.Snapshot().ReceivedLocations; len(got) != 1 || got[0].X != 1 {
		t.Fatalf("unexpected received locations %v", got)
	}
}

func TestForgetUser(t *testing.T) {
	r, _, _ := newTestReconciler()
	r.AddSharingTo("x")
	r.ApplyLocationTracking([]domain.LocationRequest{{TargetID: "x", Status: domain.LocationStatusPending}})
	r.ForgetUser("x")
	if len(r.SharingTo()) != 0 || r.Tracking("x") != domain.TrackingNone {
		t.Fatalf("user not forgotten: %+v", r.Snapshot())
	}
}
