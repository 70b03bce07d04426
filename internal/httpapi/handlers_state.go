package httpapi

import (
	"net/http"

	"OverlayCompanion/internal/domain"
	"OverlayCompanion/internal/hostbridge"
	"OverlayCompanion/internal/notifications"
	"OverlayCompanion/internal/reconcile"
	"OverlayCompanion/internal/service"
)

type stateResponse struct {
	UserID        string                   `json:"user_id,omitempty"`
	Connection    domain.ConnectionState   `json:"connection"`
	HostConnected int                      `json:"host_connected"`
	Panel         *service.PanelView       `json:"panel,omitempty"`
	Collections   *reconcile.State         `json:"collections,omitempty"`
	Notifications []notifications.Active   `json:"notifications"`
	Earnings      *service.EarningsSummary `json:"earnings,omitempty"`
	Preferences   *service.Settings        `json:"preferences,omitempty"`
}

func (a *api) handleState(w http.ResponseWriter, _ *http.Request) {
	out := stateResponse{
		Connection:    domain.ConnectionDisconnected,
		Notifications: []notifications.Active{},
	}
	if a.sessionSvc != nil && a.sessionSvc.Session != nil {
		out.UserID, _ = a.sessionSvc.Session.UserID()
	}
	if a.conn != nil {
		out.Connection = a.conn.State()
	}
	if a.host != nil {
		out.HostConnected = a.host.Connected()
	}
	if a.panelSvc != nil {
		view := a.panelSvc.View()
		out.Panel = &view
	}
	if rec := a.reconciler(); rec != nil {
		st := rec.Snapshot()
		out.Collections = &st
	}
	if a.notes != nil {
		out.Notifications = append(out.Notifications, a.notes.Active()...)
	}
	if a.earnSvc != nil {
		sum := a.earnSvc.Summary()
		out.Earnings = &sum
	}
	if a.prefsSvc != nil {
		settings := a.prefsSvc.Settings()
		out.Preferences = &settings
	}
	WriteJSON(w, http.StatusOK, out)
}

func (a *api) reconciler() *reconcile.Reconciler {
	switch {
	case a.panelSvc != nil && a.panelSvc.Reconciler != nil:
		return a.panelSvc.Reconciler
	case a.friendsSvc != nil:
		return a.friendsSvc.Reconciler
	default:
		return nil
	}
}

type sessionRequest struct {
	UserID string `json:"user_id"`
}

func (a *api) handleSessionSet(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "bad_json", "invalid json")
		return
	}

	id, err := a.sessionSvc.SetUserID(req.UserID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"user_id": id})
}

// handleHostPin forwards the pin shortcut to the game client.
func (a *api) handleHostPin(w http.ResponseWriter, _ *http.Request) {
	if err := a.host.Send(hostbridge.Pin()); err != nil {
		WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handlePanelView(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, a.panelSvc.View())
}

func (a *api) handlePanelToggle(w http.ResponseWriter, r *http.Request) {
	visible, err := a.panelSvc.TogglePanel(r.Context())
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"visible": visible})
}
