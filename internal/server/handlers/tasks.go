package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cognicore/tagstream/pkg/tagstream/schedule"
)

// TaskHandler exposes the scheduler.
type TaskHandler struct {
	scheduler *schedule.Scheduler
}

// NewTaskHandler creates a task handler.
func NewTaskHandler(s *schedule.Scheduler) *TaskHandler {
	return &TaskHandler{scheduler: s}
}

// ListTasks returns the status of every registered task.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	statuses := h.scheduler.Status()
	out := make([]taskResponse, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, toTask(s))
	}
	respondWithJSON(w, http.StatusOK, out)
}

// RunTask triggers a task and waits for it. A task already running yields
// 409.
func (h *TaskHandler) RunTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.scheduler.Trigger(r.Context(), id); err != nil {
		respondWithError(w, statusFor(err), "Task failed", err)
		return
	}
	for _, s := range h.scheduler.Status() {
		if s.ID == id {
			respondWithJSON(w, http.StatusOK, toTask(s))
			return
		}
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"id": id})
}
