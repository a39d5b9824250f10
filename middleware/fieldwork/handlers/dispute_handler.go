package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"fieldproof-backend/core/fieldwork"
	fwengine "fieldproof-backend/middleware/fieldwork"
	"fieldproof-backend/middleware/fieldwork/middleware"
)

const timeLayout = time.RFC3339

// DisputeHandler handles dispute, evidence and jury endpoints
type DisputeHandler struct {
	engine *fwengine.Engine
}

// NewDisputeHandler creates a new dispute handler
func NewDisputeHandler(engine *fwengine.Engine) *DisputeHandler {
	return &DisputeHandler{engine: engine}
}

// Open handles POST /api/tasks/{taskID}/submissions/{submissionID}/disputes
func (h *DisputeHandler) Open(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	var body struct {
		Evidence []fieldwork.EvidenceInput `json:"evidence"`
	}
	if !decode(w, r, &body) {
		return
	}
	agg, err := h.engine.OpenDispute(r.Context(), caller, chi.URLParam(r, "taskID"), chi.URLParam(r, "submissionID"), body.Evidence)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	respond(w, http.StatusCreated, agg, agg.OpenDispute())
}

// EvidenceUploadURL handles POST /api/tasks/{taskID}/disputes/{disputeID}/evidence-url
func (h *DisputeHandler) EvidenceUploadURL(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	var body uploadRequest
	if !decode(w, r, &body) {
		return
	}
	signed, key, err := h.engine.EvidenceUploadURL(r.Context(), caller, chi.URLParam(r, "taskID"), chi.URLParam(r, "disputeID"), body.Filename)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.JSON(w, http.StatusOK, uploadResponse{
		Key:       key,
		URL:       signed.URL,
		Method:    signed.Method,
		ExpiresAt: signed.ExpiresAt.UTC().Format(timeLayout),
	})
}

// Evidence handles POST /api/tasks/{taskID}/disputes/{disputeID}/evidence
func (h *DisputeHandler) Evidence(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	var body fieldwork.EvidenceInput
	if !decode(w, r, &body) {
		return
	}
	agg, err := h.engine.SubmitEvidence(r.Context(), caller, chi.URLParam(r, "taskID"), chi.URLParam(r, "disputeID"), body)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	respond(w, http.StatusCreated, agg, nil)
}

// Vote handles POST /api/tasks/{taskID}/disputes/{disputeID}/votes
func (h *DisputeHandler) Vote(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	var body struct {
		Vote   fieldwork.Vote `json:"vote"`
		Reason string         `json:"reason,omitempty"`
	}
	if !decode(w, r, &body) {
		return
	}
	agg, err := h.engine.CastVote(r.Context(), caller, chi.URLParam(r, "taskID"), chi.URLParam(r, "disputeID"), body.Vote, body.Reason)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	respond(w, http.StatusCreated, agg, nil)
}

// Resolve handles POST /api/tasks/{taskID}/disputes/{disputeID}/resolve
func (h *DisputeHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	var body struct {
		Type                fieldwork.ResolutionType `json:"resolution_type"`
		WorkerPayoutPercent int                      `json:"worker_payout_percent,omitempty"`
		Reason              string                   `json:"reason,omitempty"`
	}
	if !decode(w, r, &body) {
		return
	}
	disputeID := chi.URLParam(r, "disputeID")
	agg, err := h.engine.ResolveDispute(r.Context(), caller, chi.URLParam(r, "taskID"), disputeID, body.Type, body.WorkerPayoutPercent, body.Reason)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	respond(w, http.StatusOK, agg, agg.Dispute(disputeID))
}
