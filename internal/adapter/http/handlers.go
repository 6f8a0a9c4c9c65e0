package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/rewryte/rewryte/internal/domain"
	"github.com/rewryte/rewryte/internal/domain/event"
	"github.com/rewryte/rewryte/internal/domain/task"
	"github.com/rewryte/rewryte/internal/port/messagequeue"
	"github.com/rewryte/rewryte/internal/port/workflow"
	"github.com/rewryte/rewryte/internal/service"
)

// Pinger reports storage connectivity; *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Lifecycle *service.LifecycleService
	Dispatch  *service.DispatchService
	Queue     messagequeue.Queue
	Engine    workflow.Engine
	DB        Pinger
}

// CreateTask handles POST /api/v1/tasks
func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[task.CreateRequest](w, r)
	if !ok {
		return
	}

	t, err := h.Dispatch.Submit(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// ListTasks handles GET /api/v1/tasks
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.Lifecycle.List(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// GetTask handles GET /api/v1/tasks/{id}
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.Lifecycle.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// TaskAudit handles GET /api/v1/tasks/{id}/audit
func (h *Handlers) TaskAudit(w http.ResponseWriter, r *http.Request) {
	events, err := h.Lifecycle.Audit(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	if events == nil {
		events = []event.TaskEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// callbackResponse is the body returned for result callbacks.
type callbackResponse struct {
	Status  task.Status `json:"status"`
	Updated bool        `json:"updated"`
	Message string      `json:"message"`
}

// HandleResultCallback handles POST /api/v1/webhooks/result.
// The HMAC middleware has already authenticated the raw body.
func (h *Handlers) HandleResultCallback(w http.ResponseWriter, r *http.Request) {
	payload, ok := readJSON[task.ResultPayload](w, r)
	if !ok {
		return
	}
	if !requireField(w, payload.TaskID, "task_id") {
		return
	}

	out := h.Lifecycle.ApplyResultTransactionally(r.Context(), &payload)
	switch {
	case out.Success:
		writeJSON(w, http.StatusOK, callbackResponse{
			Status: out.Status, Updated: out.WasUpdated, Message: out.Message,
		})
	case errors.Is(out.Err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	case errors.Is(out.Err, domain.ErrValidation):
		// The payload shape was invalid; the task was forced to failed.
		writeJSON(w, http.StatusUnprocessableEntity, callbackResponse{
			Status: out.Status, Updated: out.WasUpdated, Message: out.Message,
		})
	case errors.Is(out.Err, domain.ErrConflict):
		writeJSON(w, http.StatusConflict, callbackResponse{
			Status: out.Status, Updated: false, Message: out.Message,
		})
	default:
		writeInternalError(w, out.Err)
	}
}

// healthResponse reports the availability of each dependency.
type healthResponse struct {
	Status   string `json:"status"`
	Postgres bool   `json:"postgres"`
	NATS     bool   `json:"nats"`
	Engine   bool   `json:"engine"`
}

// Health handles GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Postgres: h.DB != nil && h.DB.Ping(r.Context()) == nil,
		NATS:     h.Queue != nil && h.Queue.IsConnected(),
		Engine:   h.Engine != nil && h.Engine.IsAvailable(r.Context()),
	}
	resp.Status = "ok"
	status := http.StatusOK
	if !resp.Postgres || !resp.NATS || !resp.Engine {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
