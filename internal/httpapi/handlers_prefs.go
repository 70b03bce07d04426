package httpapi

import (
	"net/http"
	"strings"

	"OverlayCompanion/internal/domain"
	"OverlayCompanion/internal/service"

	"github.com/gorilla/mux"
)

func (a *api) handlePrefsGet(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, a.prefsSvc.Settings())
}

func (a *api) handlePrefsPatch(w http.ResponseWriter, r *http.Request) {
	var patch service.SettingsPatch
	empty, err := decodeJSONAllowEmpty(w, r, &patch)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "bad_json", "invalid json")
		return
	}
	if empty {
		WriteJSON(w, http.StatusOK, a.prefsSvc.Settings())
		return
	}

	settings, err := a.prefsSvc.Update(r.Context(), patch)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	if patch.TrackerPinned != nil && a.panelSvc != nil {
		a.panelSvc.SetPinned(settings.TrackerPinned)
	}
	WriteJSON(w, http.StatusOK, settings)
}

func (a *api) handleWindowGet(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(mux.Vars(r)["name"])
	g, ok, err := a.prefsSvc.Window(name)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	if !ok {
		WriteDomainError(w, domain.ErrNotFound)
		return
	}
	WriteJSON(w, http.StatusOK, g)
}

func (a *api) handleWindowPut(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(mux.Vars(r)["name"])
	var g domain.WindowGeometry
	if err := decodeJSON(w, r, &g); err != nil {
		WriteError(w, http.StatusBadRequest, "bad_json", "invalid json")
		return
	}

	if err := a.prefsSvc.SetWindow(r.Context(), name, g); err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, g)
}
