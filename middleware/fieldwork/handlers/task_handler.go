package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"fieldproof-backend/core/fieldwork"
	fwengine "fieldproof-backend/middleware/fieldwork"
	"fieldproof-backend/middleware/fieldwork/middleware"
)

// TaskHandler handles task lifecycle endpoints
type TaskHandler struct {
	engine *fwengine.Engine
}

// NewTaskHandler creates a new task handler
func NewTaskHandler(engine *fwengine.Engine) *TaskHandler {
	return &TaskHandler{engine: engine}
}

// List handles GET /api/tasks
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := fieldwork.TaskFilter{
		Status:      fieldwork.TaskStatus(q.Get("status")),
		RequesterID: q.Get("requester"),
		WorkerID:    q.Get("worker"),
		Limit:       intFromQuery(r, "limit", 50),
		Offset:      intFromQuery(r, "offset", 0),
	}
	tasks, err := h.engine.ListTasks(r.Context(), filter)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*fieldwork.Aggregate{}
	}
	middleware.JSON(w, http.StatusOK, map[string]any{
		"tasks":         tasks,
		"total_matches": len(tasks),
	})
}

// Create handles POST /api/tasks
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	var body fieldwork.NewTaskInput
	if !decode(w, r, &body) {
		return
	}
	agg, err := h.engine.CreateTask(r.Context(), caller, body)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	respond(w, http.StatusCreated, agg, nil)
}

// Get handles GET /api/tasks/{taskID}
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	agg, err := h.engine.GetTask(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	respond(w, http.StatusOK, agg, nil)
}

// Publish handles POST /api/tasks/{taskID}/publish. A task whose funding is
// still unconfirmed comes back as 202 with a pending escrow.
func (h *TaskHandler) Publish(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	agg, err := h.engine.Publish(r.Context(), caller, chi.URLParam(r, "taskID"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	code := http.StatusOK
	if agg.Task.Status == fieldwork.TaskDraft {
		code = http.StatusAccepted
	}
	respond(w, code, agg, nil)
}

// Cancel handles POST /api/tasks/{taskID}/cancel
func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	agg, err := h.engine.Cancel(r.Context(), caller, chi.URLParam(r, "taskID"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	respond(w, http.StatusOK, agg, nil)
}

// QRCode handles GET /api/tasks/{taskID}/qr
func (h *TaskHandler) QRCode(w http.ResponseWriter, r *http.Request) {
	png, err := h.engine.TaskQRCode(r.Context(), chi.URLParam(r, "taskID"), intFromQuery(r, "size", 256))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(png)
}

// RetrySettlement handles POST /api/tasks/{taskID}/settlement/retry
func (h *TaskHandler) RetrySettlement(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	agg, err := h.engine.RetrySettlement(r.Context(), caller, chi.URLParam(r, "taskID"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	respond(w, http.StatusOK, agg, nil)
}

// Sweep handles POST /api/sweep. Operators use it to force a sweep between ticks.
func (h *TaskHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	if caller.Role != fieldwork.RoleOperator {
		middleware.WriteError(w, fieldwork.ErrNotAuthorized)
		return
	}
	rep, err := h.engine.Sweep(r.Context())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.JSON(w, http.StatusOK, rep)
}
