package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// resolveTaskRequest is the JSON body for POST /v1/tasks/{id}/resolve.
type resolveTaskRequest struct {
	Output json.RawMessage `json:"output"`
}

// rejectTaskRequest is the JSON body for POST /v1/tasks/{id}/reject.
type rejectTaskRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, _ *http.Request) {
	if s.human == nil {
		s.writeError(w, http.StatusNotFound, "human backend not deployed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.human.Pending())
}

// handleResolveTask completes a pending human task with the supplied output,
// unblocking the execution waiting on it.
func (s *Server) handleResolveTask(w http.ResponseWriter, r *http.Request) {
	if s.human == nil {
		s.writeError(w, http.StatusNotFound, "human backend not deployed")
		return
	}
	id := chi.URLParam(r, "id")

	var req resolveTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.human.Resolve(id, req.Output); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"task_id": id, "status": "resolved"})
}

func (s *Server) handleRejectTask(w http.ResponseWriter, r *http.Request) {
	if s.human == nil {
		s.writeError(w, http.StatusNotFound, "human backend not deployed")
		return
	}
	id := chi.URLParam(r, "id")

	var req rejectTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Reason == "" {
		req.Reason = "rejected"
	}

	if err := s.human.Reject(id, req.Reason); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"task_id": id, "status": "rejected"})
}
