package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"OverlayCompanion/internal/domain"
)

type PrefsStore interface {
	Get(ctx context.Context, key string) (domain.Preference, error)
	Set(ctx context.Context, key, value string, when time.Time) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]domain.Preference, error)
}

// Settings is the flag subset of the preferences the overlay edits.
type Settings struct {
	SoundEnabled   bool `json:"sound_enabled"`
	PanelVisible   bool `json:"panel_visible"`
	HideIDs        bool `json:"hide_ids"`
	TrackerPinned  bool `json:"tracker_pinned"`
	CompactTracker bool `json:"tracker_compact"`
}

// SettingsPatch carries only the flags a caller wants to change.
type SettingsPatch struct {
	SoundEnabled   *bool `json:"sound_enabled"`
	PanelVisible   *bool `json:"panel_visible"`
	HideIDs        *bool `json:"hide_ids"`
	TrackerPinned  *bool `json:"tracker_pinned"`
	CompactTracker *bool `json:"tracker_compact"`
}

// PreferencesService keeps a write-through cache over a PrefsStore so the
// render loop never touches the database.
type PreferencesService struct {
	Store     PrefsStore
	Publisher Publisher
	Logger    *slog.Logger
	Now       func() time.Time

	mu    sync.RWMutex
	cache map[string]string
}

func (s *PreferencesService) Load(ctx context.Context) error {
	prefs, err := s.Store.List(ctx)
	if err != nil {
		return fmt.Errorf("load preferences: %w", err)
	}
	cache := make(map[string]string, len(prefs))
	for _, p := range prefs {
		cache[p.Key] = p.Value
	}
	s.mu.Lock()
	s.cache = cache
	s.mu.Unlock()
	return nil
}

func (s *PreferencesService) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.cache[key]
	return v, ok
}

func (s *PreferencesService) Set(ctx context.Context, key, value string) error {
	if err := s.Store.Set(ctx, key, value, s.now()); err != nil {
		return fmt.Errorf("set preference %s: %w", key, err)
	}
	s.mu.Lock()
	if s.cache == nil {
		s.cache = make(map[string]string)
	}
	s.cache[key] = value
	s.mu.Unlock()
	return nil
}

func (s *PreferencesService) Delete(ctx context.Context, key string) error {
	if err := s.Store.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete preference %s: %w", key, err)
	}
	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()
	return nil
}

// Sound is on unless it was explicitly turned off.
func (s *PreferencesService) SoundEnabled() bool { return s.flag(domain.PrefSoundEnabled, true) }

func (s *PreferencesService) PanelVisible() bool { return s.flag(domain.PrefPanelVisible, false) }

func (s *PreferencesService) HideIDs() bool { return s.flag(domain.PrefHideIDs, false) }

func (s *PreferencesService) flag(key string, def bool) bool {
	v, ok := s.Get(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func (s *PreferencesService) Settings() Settings {
	return Settings{
		SoundEnabled:   s.SoundEnabled(),
		PanelVisible:   s.PanelVisible(),
		HideIDs:        s.HideIDs(),
		TrackerPinned:  s.flag(domain.PrefTrackerPinned, false),
		CompactTracker: s.flag(domain.PrefCompactTracker, false),
	}
}

func (s *PreferencesService) Update(ctx context.Context, patch SettingsPatch) (Settings, error) {
	fields := []struct {
		key string
		val *bool
	}{
		{domain.PrefSoundEnabled, patch.SoundEnabled},
		{domain.PrefPanelVisible, patch.PanelVisible},
		{domain.PrefHideIDs, patch.HideIDs},
		{domain.PrefTrackerPinned, patch.TrackerPinned},
		{domain.PrefCompactTracker, patch.CompactTracker},
	}
	for _, f := range fields {
		if f.val == nil {
			continue
		}
		if err := s.Set(ctx, f.key, strconv.FormatBool(*f.val)); err != nil {
			return s.Settings(), err
		}
	}
	settings := s.Settings()
	publisherOrNoop(s.Publisher).Publish(TopicPreferences, settings)
	return settings, nil
}

func (s *PreferencesService) Window(name string) (domain.WindowGeometry, bool, error) {
	if err := validateWindowName(name); err != nil {
		return domain.WindowGeometry{}, false, err
	}
	var g domain.WindowGeometry
	ok, err := s.LoadJSON(domain.PrefWindowPrefix+name, &g)
	return g, ok, err
}

func (s *PreferencesService) SetWindow(ctx context.Context, name string, g domain.WindowGeometry) error {
	if err := validateWindowName(name); err != nil {
		return err
	}
	if g.Width < 0 || g.Height < 0 {
		return domain.NewValidationError(map[string]string{"size": "must not be negative"})
	}
	return s.SaveJSON(ctx, domain.PrefWindowPrefix+name, g)
}

func validateWindowName(name string) error {
	if name == "" || len(name) > 32 {
		return domain.NewValidationError(map[string]string{"name": "must be 1-32 characters"})
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return domain.NewValidationError(map[string]string{"name": "contains invalid characters"})
		}
	}
	return nil
}

// SetResumeMarker records that a reload was requested for userID.
func (s *PreferencesService) SetResumeMarker(ctx context.Context, userID string) error {
	return s.Set(ctx, domain.PrefResumeMarker, userID)
}

// ConsumeResumeMarker returns and clears the marker left by a reload.
func (s *PreferencesService) ConsumeResumeMarker(ctx context.Context) (string, bool, error) {
	v, ok := s.Get(domain.PrefResumeMarker)
	if !ok {
		return "", false, nil
	}
	if err := s.Delete(ctx, domain.PrefResumeMarker); err != nil {
		return "", false, err
	}
	return v, v != "", nil
}

// LoadJSON decodes a structured preference into dst and reports whether it
// was present.
func (s *PreferencesService) LoadJSON(key string, dst any) (bool, error) {
	v, ok := s.Get(key)
	if !ok || v == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(v), dst); err != nil {
		return false, fmt.Errorf("decode preference %s: %w", key, err)
	}
	return true, nil
}

func (s *PreferencesService) SaveJSON(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode preference %s: %w", key, err)
	}
	return s.Set(ctx, key, string(b))
}

func (s *PreferencesService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
