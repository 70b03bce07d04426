package httpapi

import (
	"context"
	"net/http"
)

func (a *api) handleLocationToggle(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	res, err := a.locSvc.Toggle(r.Context(), id)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

func (a *api) handleLocationShare(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	if err := a.locSvc.ShareOnce(r.Context(), id); err != nil {
		WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *api) handleLocationAccept(w http.ResponseWriter, r *http.Request) {
	a.locationRequestAction(w, r, a.locSvc.AcceptRequest)
}

func (a *api) handleLocationDeny(w http.ResponseWriter, r *http.Request) {
	a.locationRequestAction(w, r, a.locSvc.DenyRequest)
}

func (a *api) handleLocationStop(w http.ResponseWriter, r *http.Request) {
	a.locationRequestAction(w, r, a.locSvc.StopSharing)
}

func (a *api) locationRequestAction(w http.ResponseWriter, r *http.Request, action func(context.Context, string) error) {
	id, err := pathID(r, "id")
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	if err := action(r.Context(), id); err != nil {
		WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
