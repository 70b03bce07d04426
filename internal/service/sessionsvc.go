package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"OverlayCompanion/internal/domain"
	"OverlayCompanion/internal/transport"
)

// ReloadDelay is how long a force-reload notice stays on screen before the
// session is rebuilt.
const ReloadDelay = time.Second

// SessionService owns identity and the force-reload lifecycle of one
// session-scoped object graph.
type SessionService struct {
	Session   *domain.Session
	Prefs     *PreferencesService
	Notifier  Notifier
	Publisher Publisher
	Logger    *slog.Logger

	// Reload tears the session down and builds a new one.
	Reload    func()
	AfterFunc func(d time.Duration, f func())

	once sync.Once
}

// SetUserID assigns the identity manually. Repeating the current id is
// accepted; a different id is refused because identity is set once.
func (s *SessionService) SetUserID(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", domain.NewValidationError(map[string]string{"user_id": "required"})
	}
	if s.Session.SetUserID(userID) {
		loggerOrDefault(s.Logger).Info("session identity set", "user_id", userID)
		publisherOrNoop(s.Publisher).Publish(TopicStateChanged, map[string]string{"collection": "session"})
		return userID, nil
	}
	current, _ := s.Session.UserID()
	if current == userID {
		return userID, nil
	}
	return current, domain.NewValidationError(map[string]string{"user_id": "already set"})
}

// Resume restores the identity recorded by a previous force-reload.
func (s *SessionService) Resume(ctx context.Context) (string, bool) {
	if s.Prefs == nil {
		return "", false
	}
	userID, ok, err := s.Prefs.ConsumeResumeMarker(ctx)
	if err != nil {
		loggerOrDefault(s.Logger).Warn("read resume marker failed", "err", err)
		return "", false
	}
	if !ok || !s.Session.SetUserID(userID) {
		return "", false
	}
	loggerOrDefault(s.Logger).Info("session resumed", "user_id", userID)
	return userID, true
}

func (s *SessionService) Bind(t EventSource) {
	t.OnUpdate(transport.EventForceReload, s.handleForceReload)
}

// handleForceReload persists the resume marker and schedules a single
// rebuild; further notices for this session are ignored.
func (s *SessionService) handleForceReload(data json.RawMessage) {
	s.once.Do(func() {
		log := loggerOrDefault(s.Logger)
		msg, _ := transport.DecodeMessage(data)
		if msg == "" {
			msg = "Reloading..."
		}
		notifierOrNoop(s.Notifier).Notify(msg, domain.SeverityInfo)

		if userID, ok := s.Session.UserID(); ok && s.Prefs != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := s.Prefs.SetResumeMarker(ctx, userID); err != nil {
				log.Warn("save resume marker failed", "err", err)
			}
			cancel()
		}

		log.Info("force reload requested")
		s.after(ReloadDelay, func() {
			publisherOrNoop(s.Publisher).Publish(TopicReload, map[string]string{"reason": "force-reload"})
			if s.Reload != nil {
				s.Reload()
			}
		})
	})
}

func (s *SessionService) after(d time.Duration, f func()) {
	if s.AfterFunc != nil {
		s.AfterFunc(d, f)
		return
	}
	time.AfterFunc(d, f)
}
