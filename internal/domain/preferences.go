package domain

import "time"

// Preference keys. Values are plain strings; structured values are JSON.
const (
	PrefSoundEnabled   = "sound_enabled"
	PrefPanelVisible   = "panel_visible"
	PrefHideIDs        = "hide_ids"
	PrefResumeMarker   = "resume_marker"
	PrefEarnings       = "earnings"
	PrefWindowPrefix   = "window."
	PrefTrackerPinned  = "tracker_pinned"
	PrefCompactTracker = "tracker_compact"
)

type Preference struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WindowGeometry is the saved position and size of one overlay panel.
type WindowGeometry struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
}
