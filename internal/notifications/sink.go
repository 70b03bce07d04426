package notifications

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"OverlayCompanion/internal/domain"

	"github.com/google/uuid"
)

const (
	ShowDelay    = 100 * time.Millisecond
	VisibleFor   = 5 * time.Second
	FadeDuration = 300 * time.Millisecond
)

// Topics published for every notification.
const (
	TopicShown     = "notification.shown"
	TopicDismissed = "notification.dismissed"
	TopicRemoved   = "notification.removed"
	TopicSound     = "notification.sound"
)

type Publisher interface {
	Publish(topic string, payload any)
}

// Player emits the audio cue. Failures are ignored.
type Player interface {
	Play(ctx context.Context) error
}

// Mirror forwards a notification to another device.
type Mirror interface {
	Forward(ctx context.Context, n domain.Notification) error
}

type Phase string

const (
	PhasePending   Phase = "pending"
	PhaseShown     Phase = "shown"
	PhaseDismissed Phase = "dismissed"
)

type Active struct {
	domain.Notification
	Phase Phase `json:"phase"`
}

// Sink raises transient notifications. Notify never blocks the caller;
// every later step runs on timers.
type Sink struct {
	Publisher    Publisher
	Player       Player
	Mirror       Mirror
	SoundEnabled func() bool
	Logger       *slog.Logger
	Now          func() time.Time
	AfterFunc    func(time.Duration, func())
	NewID        func() string

	mu      sync.Mutex
	entries []*Active
}

func (s *Sink) Notify(message string, severity domain.Severity) {
	if message == "" {
		return
	}
	if severity == "" {
		severity = domain.SeverityInfo
	}
	n := domain.Notification{
		ID:        s.newID(),
		Message:   message,
		Severity:  severity,
		CreatedAt: s.now(),
		Sound:     s.SoundEnabled != nil && s.SoundEnabled(),
	}

	s.mu.Lock()
	s.entries = append(s.entries, &Active{Notification: n, Phase: PhasePending})
	s.mu.Unlock()

	s.logger().Debug("notification raised", "id", n.ID, "severity", string(n.Severity))

	if n.Sound && s.Player != nil {
		go func() { _ = s.Player.Play(context.Background()) }()
	}
	if s.Mirror != nil {
		go s.forward(n)
	}

	s.after(ShowDelay, func() {
		if s.setPhase(n.ID, PhaseShown) {
			s.publish(TopicShown, n)
		}
	})
	s.after(VisibleFor, func() {
		if !s.setPhase(n.ID, PhaseDismissed) {
			return
		}
		s.publish(TopicDismissed, n)
		s.after(FadeDuration, func() {
			if s.remove(n.ID) {
				s.publish(TopicRemoved, n)
			}
		})
	})
}

func (s *Sink) forward(n domain.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Mirror.Forward(ctx, n); err != nil {
		s.logger().Warn("notification mirror failed", "id", n.ID, "err", err)
	}
}

// Active lists notifications that have not been removed yet, oldest first.
func (s *Sink) Active() []Active {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Active, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	return out
}

func (s *Sink) setPhase(id string, p Phase) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.ID == id {
			e.Phase = p
			return true
		}
	}
	return false
}

func (s *Sink) remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.ID == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Sink) publish(topic string, n domain.Notification) {
	if s.Publisher != nil {
		s.Publisher.Publish(topic, n)
	}
}

func (s *Sink) after(d time.Duration, f func()) {
	if s.AfterFunc != nil {
		s.AfterFunc(d, f)
		return
	}
	time.AfterFunc(d, f)
}

func (s *Sink) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Sink) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s *Sink) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// CuePlayer turns the audio cue into an event for the renderer, which owns
// the actual playback.
type CuePlayer struct {
	Publisher Publisher
}

func (p CuePlayer) Play(context.Context) error {
	if p.Publisher != nil {
		p.Publisher.Publish(TopicSound, map[string]any{"volume": 0.1})
	}
	return nil
}
