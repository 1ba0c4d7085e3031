package api

import (
	"encoding/json"
	"net/http"
	"time"
)

// drainRequest is the optional JSON body for POST /v1/drain.
type drainRequest struct {
	TimeoutMS int `json:"timeout_ms"`
}

// handleDrain gracefully shuts down the engine instance: queued executions
// are failed, active ones get the timeout to finish, stragglers are aborted.
func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	timeout := s.drainTimeout

	var req drainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.TimeoutMS > 0 {
		timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}

	summary := s.engine.Drain(timeout)
	s.writeJSON(w, http.StatusOK, summary)
}
