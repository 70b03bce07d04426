package httpapi

import (
	"encoding/json"
	"net/http"
	"testing"

	"OverlayCompanion/internal/domain"
	"OverlayCompanion/internal/service"
)

func TestPrefsGetDefaults(t *testing.T) {
	app := newTestApp(t, "", nil)

	rr := app.do(http.MethodGet, "/v1/preferences", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var got service.Settings
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.SoundEnabled || got.PanelVisible || got.HideIDs {
		t.Fatalf("settings = %+v", got)
	}
}

func TestPrefsPatch(t *testing.T) {
	app := newTestApp(t, "", nil)

	rr := app.do(http.MethodPatch, "/v1/preferences", `{"sound_enabled":false,"tracker_pinned":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	if app.prefs.SoundEnabled() {
		t.Fatalf("sound should be off")
	}
	if !app.panel.Visibility().Pinned {
		t.Fatalf("pinning the tracker should reach the panel")
	}

	rr = app.do(http.MethodPatch, "/v1/preferences", `{"volume":3}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown field status = %d", rr.Code)
	}

	rr = app.do(http.MethodPatch, "/v1/preferences", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("empty patch status = %d", rr.Code)
	}
}

func TestPrefsWindowGeometry(t *testing.T) {
	app := newTestApp(t, "", nil)

	rr := app.do(http.MethodGet, "/v1/preferences/windows/friends", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing window status = %d", rr.Code)
	}

	rr = app.do(http.MethodPut, "/v1/preferences/windows/friends", `{"x":12,"y":34,"width":300,"height":180}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("put status = %d body=%s", rr.Code, rr.Body.String())
	}

	rr = app.do(http.MethodGet, "/v1/preferences/windows/friends", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}
	var g domain.WindowGeometry
	if err := json.NewDecoder(rr.Body).Decode(&g); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if g != (domain.WindowGeometry{X: 12, Y: 34, Width: 300, Height: 180}) {
		t.Fatalf("geometry = %+v", g)
	}

	rr = app.do(http.MethodPut, "/v1/preferences/windows/Bad%20Name", `{"x":1,"y":1}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad name status = %d", rr.Code)
	}
}

func TestPanelToggle(t *testing.T) {
	app := newTestApp(t, "", nil)

	rr := app.do(http.MethodPost, "/v1/panel/toggle", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var got map[string]bool
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got["visible"] || !app.prefs.PanelVisible() {
		t.Fatalf("panel should now be visible: %+v", got)
	}
}

func TestEarningsRoutes(t *testing.T) {
	app := newTestApp(t, "", nil)

	rr := app.do(http.MethodPost, "/v1/earnings/start", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("start without wallet status = %d", rr.Code)
	}

	rr = app.do(http.MethodGet, "/v1/earnings", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var sum service.EarningsSummary
	if err := json.NewDecoder(rr.Body).Decode(&sum); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sum.Tracking || len(sum.Log) != 1 {
		t.Fatalf("summary = %+v", sum)
	}

	rr = app.do(http.MethodPost, "/v1/earnings/reset", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("reset status = %d", rr.Code)
	}
}
