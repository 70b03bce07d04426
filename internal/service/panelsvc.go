package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"OverlayCompanion/internal/domain"
	"OverlayCompanion/internal/hostbridge"
	"OverlayCompanion/internal/reconcile"
)

// betaServer is the region code the panel tags with [BETA].
const betaServer = "njyvop"

type ConnectionReporter interface {
	State() domain.ConnectionState
}

type VisibilityState struct {
	Focused     bool `json:"focused"`
	Tabbed      bool `json:"tabbed"`
	Pinned      bool `json:"pinned"`
	Visible     bool `json:"visible"`
	Highlighted bool `json:"highlighted"`
}

type FriendRow struct {
	ID              string               `json:"friend_id"`
	Name            string               `json:"name"`
	Label           string               `json:"label"`
	Beta            bool                 `json:"beta,omitempty"`
	DurationSeconds int64                `json:"duration_seconds"`
	Duration        string               `json:"duration"`
	Tracking        domain.TrackingState `json:"tracking"`
}

// PanelView is everything the friends panel draws on one frame.
type PanelView struct {
	Visible          bool                   `json:"visible"`
	Header           string                 `json:"header"`
	Connection       domain.ConnectionState `json:"connection"`
	UserID           string                 `json:"user_id,omitempty"`
	Online           []FriendRow            `json:"online"`
	FriendRequests   int                    `json:"friend_requests"`
	LocationRequests int                    `json:"location_requests"`
	SharingTo        []string               `json:"sharing_to"`
	Window           VisibilityState        `json:"window"`
}

type PanelService struct {
	Session    *domain.Session
	Reconciler *reconcile.Reconciler
	Prefs      *PreferencesService
	Connection ConnectionReporter
	Publisher  Publisher
	Now        func() time.Time

	mu      sync.Mutex
	focused bool
	tabbed  bool
	pinned  bool
}

// SetVisibility merges a host focus message. Absent fields keep their last
// known value.
func (s *PanelService) SetVisibility(v hostbridge.Visibility) VisibilityState {
	s.mu.Lock()
	if v.Focused != nil {
		s.focused = *v.Focused
	}
	if v.Tabbed != nil {
		s.tabbed = *v.Tabbed
	}
	st := s.visibilityLocked()
	s.mu.Unlock()

	publisherOrNoop(s.Publisher).Publish(TopicVisibility, st)
	return st
}

// SetPinned keeps the overlay shown while the game is not focused.
func (s *PanelService) SetPinned(pinned bool) VisibilityState {
	s.mu.Lock()
	s.pinned = pinned
	st := s.visibilityLocked()
	s.mu.Unlock()

	publisherOrNoop(s.Publisher).Publish(TopicVisibility, st)
	return st
}

func (s *PanelService) Visibility() VisibilityState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visibilityLocked()
}

func (s *PanelService) visibilityLocked() VisibilityState {
	return VisibilityState{
		Focused:     s.focused,
		Tabbed:      s.tabbed,
		Pinned:      s.pinned,
		Visible:     s.focused || s.tabbed || s.pinned,
		Highlighted: s.focused || s.pinned,
	}
}

// TogglePanel flips the persisted panel-visible flag.
func (s *PanelService) TogglePanel(ctx context.Context) (bool, error) {
	visible := !s.Prefs.PanelVisible()
	if _, err := s.Prefs.Update(ctx, SettingsPatch{PanelVisible: &visible}); err != nil {
		return !visible, err
	}
	return visible, nil
}

func (s *PanelService) View() PanelView {
	st := s.Reconciler.Snapshot()
	now := s.now()
	hideIDs := false
	panelVisible := false
	if s.Prefs != nil {
		hideIDs = s.Prefs.HideIDs()
		panelVisible = s.Prefs.PanelVisible()
	}

	view := PanelView{
		Visible:   panelVisible && len(st.Friends) > 0,
		Online:    []FriendRow{},
		SharingTo: st.SharingTo,
		Window:    s.Visibility(),
	}
	if s.Connection != nil {
		view.Connection = s.Connection.State()
	} else {
		view.Connection = domain.ConnectionDisconnected
	}
	if s.Session != nil {
		view.UserID, _ = s.Session.UserID()
	}

	for _, f := range st.Friends {
		if !f.Online {
			continue
		}
		secs := ConnectedSeconds(f, st.FriendsAt, now)
		tracking := st.Tracking[f.ID]
		if tracking == "" {
			tracking = domain.TrackingNone
		}
		view.Online = append(view.Online, FriendRow{
			ID:              f.ID,
			Name:            f.Name,
			Label:           friendLabel(f, hideIDs),
			Beta:            f.Server == betaServer,
			DurationSeconds: secs,
			Duration:        FormatDuration(secs),
			Tracking:        tracking,
		})
	}
	view.Header = fmt.Sprintf("Friends Online (%d)", len(view.Online))
	view.FriendRequests = len(st.FriendRequests)
	for _, r := range st.LocationRequests {
		if r.Status == domain.LocationStatusPending {
			view.LocationRequests++
		}
	}
	return view
}

func friendLabel(f domain.Friend, hideIDs bool) string {
	label := f.Name
	if label == "" {
		label = f.ID
	} else if !hideIDs {
		label += " (ID: " + f.ID + ")"
	}
	if f.Server == betaServer {
		label += " [BETA]"
	}
	return label
}

// ConnectedSeconds extrapolates a friend's reported session length to now.
// The snapshot itself is never modified. Offline friends report zero.
func ConnectedSeconds(f domain.Friend, snapshotAt, now time.Time) int64 {
	if !f.Online {
		return 0
	}
	base := f.SessionDuration
	if base < 0 {
		base = 0
	}
	if snapshotAt.IsZero() {
		return base
	}
	elapsed := int64(now.Sub(snapshotAt) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	return base + elapsed
}

func FormatDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%dh %dm %ds", seconds/3600, (seconds%3600)/60, seconds%60)
}

// RunRenderLoop publishes a fresh view on every tick so durations keep
// counting between snapshots.
func (s *PanelService) RunRenderLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			view := s.View()
			if !view.Visible {
				continue
			}
			publisherOrNoop(s.Publisher).Publish(TopicPanelRender, view)
		}
	}
}

func (s *PanelService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
