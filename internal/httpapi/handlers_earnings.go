package httpapi

import "net/http"

func (a *api) handleEarningsGet(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, a.earnSvc.Summary())
}

func (a *api) handleEarningsStart(w http.ResponseWriter, r *http.Request) {
	sum, err := a.earnSvc.Start(r.Context())
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, sum)
}

func (a *api) handleEarningsStop(w http.ResponseWriter, r *http.Request) {
	sum, err := a.earnSvc.Stop(r.Context())
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, sum)
}

func (a *api) handleEarningsReset(w http.ResponseWriter, r *http.Request) {
	sum, err := a.earnSvc.Reset(r.Context())
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, sum)
}
