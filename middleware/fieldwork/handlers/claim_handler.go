package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	fwengine "fieldproof-backend/middleware/fieldwork"
	"fieldproof-backend/middleware/fieldwork/middleware"
)

// ClaimHandler handles claim-related HTTP endpoints
type ClaimHandler struct {
	engine *fwengine.Engine
}

// NewClaimHandler creates a new claim handler
func NewClaimHandler(engine *fwengine.Engine) *ClaimHandler {
	return &ClaimHandler{engine: engine}
}

// Claim handles POST /api/tasks/{taskID}/claims
func (h *ClaimHandler) Claim(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	var body struct {
		Wallet string `json:"wallet_address,omitempty"`
	}
	if !decode(w, r, &body) {
		return
	}
	agg, claim, err := h.engine.Claim(r.Context(), caller, chi.URLParam(r, "taskID"), body.Wallet)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	respond(w, http.StatusCreated, agg, claim)
}

// Unclaim handles DELETE /api/tasks/{taskID}/claims/{claimID}
func (h *ClaimHandler) Unclaim(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	agg, err := h.engine.Unclaim(r.Context(), caller, chi.URLParam(r, "taskID"), chi.URLParam(r, "claimID"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	respond(w, http.StatusOK, agg, nil)
}
