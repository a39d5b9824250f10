package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"fieldproof-backend/core/fieldwork"
	fwengine "fieldproof-backend/middleware/fieldwork"
	"fieldproof-backend/middleware/fieldwork/middleware"
)

// SubmissionHandler handles proof bundle endpoints
type SubmissionHandler struct {
	engine *fwengine.Engine
}

// NewSubmissionHandler creates a new submission handler
func NewSubmissionHandler(engine *fwengine.Engine) *SubmissionHandler {
	return &SubmissionHandler{engine: engine}
}

// Create handles POST /api/tasks/{taskID}/submissions
func (h *SubmissionHandler) Create(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	var body struct {
		ClaimID string `json:"claim_id"`
	}
	if !decode(w, r, &body) {
		return
	}
	agg, sub, err := h.engine.CreateSubmission(r.Context(), caller, chi.URLParam(r, "taskID"), body.ClaimID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	respond(w, http.StatusCreated, agg, sub)
}

type uploadRequest struct {
	Filename string `json:"filename"`
}

type uploadResponse struct {
	Key       string `json:"key"`
	URL       string `json:"url"`
	Method    string `json:"method"`
	ExpiresAt string `json:"expires_at"`
}

// UploadURL handles POST /api/tasks/{taskID}/submissions/{submissionID}/upload-url
func (h *SubmissionHandler) UploadURL(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	var body uploadRequest
	if !decode(w, r, &body) {
		return
	}
	signed, key, err := h.engine.UploadURL(r.Context(), caller, chi.URLParam(r, "taskID"), chi.URLParam(r, "submissionID"), body.Filename)
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

// AddArtefact handles POST /api/tasks/{taskID}/submissions/{submissionID}/artefacts
func (h *SubmissionHandler) AddArtefact(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	var body struct {
		Key string `json:"key"`
	}
	if !decode(w, r, &body) {
		return
	}
	agg, err := h.engine.AddArtefact(r.Context(), caller, chi.URLParam(r, "taskID"), chi.URLParam(r, "submissionID"), body.Key)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	respond(w, http.StatusOK, agg, nil)
}

// Finalise handles POST /api/tasks/{taskID}/submissions/{submissionID}/finalise
func (h *SubmissionHandler) Finalise(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	var body struct {
		Captures []fieldwork.Capture `json:"captures"`
	}
	if !decode(w, r, &body) {
		return
	}
	subID := chi.URLParam(r, "submissionID")
	agg, err := h.engine.Finalise(r.Context(), caller, chi.URLParam(r, "taskID"), subID, body.Captures)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	respond(w, http.StatusOK, agg, agg.Submission(subID))
}

// Decide handles POST /api/tasks/{taskID}/submissions/{submissionID}/decision
func (h *SubmissionHandler) Decide(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	var body struct {
		Type       fieldwork.DecisionType `json:"type"`
		ReasonCode fieldwork.ReasonCode   `json:"reason_code,omitempty"`
		Comment    string                 `json:"comment,omitempty"`
	}
	if !decode(w, r, &body) {
		return
	}
	agg, err := h.engine.Decide(r.Context(), caller, chi.URLParam(r, "taskID"), chi.URLParam(r, "submissionID"), body.Type, body.ReasonCode, body.Comment)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	respond(w, http.StatusOK, agg, nil)
}

// DownloadURL handles GET /api/tasks/{taskID}/objects?key=
func (h *SubmissionHandler) DownloadURL(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	key := r.URL.Query().Get("key")
	signed, err := h.engine.DownloadURL(r.Context(), caller, chi.URLParam(r, "taskID"), key)
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
