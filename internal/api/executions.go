package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dot-do/functions-sub012/internal/model"
	"github.com/dot-do/functions-sub012/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// executeRequest is the JSON body for POST /v1/executions.
type executeRequest struct {
	FunctionID  string          `json:"function_id"`
	Version     string          `json:"version"`
	Flavor      string          `json:"flavor"`
	Payload     json.RawMessage `json:"payload"`
	Profile     string          `json:"profile"`
	TimeoutS    *int            `json:"timeout_s"`
	MaxAttempts *int            `json:"max_attempts"`
	Cache       *cacheReq       `json:"cache"`
}

type cacheReq struct {
	Enabled bool `json:"enabled"`
	TTLS    int  `json:"ttl_s"`
}

// listExecutionsResponse wraps the paginated list response.
type listExecutionsResponse struct {
	Executions []*model.Execution `json:"executions"`
	Total      int                `json:"total"`
	Limit      int                `json:"limit"`
	Offset     int                `json:"offset"`
}

// handleExecute runs one execution synchronously and returns its structured
// result. Capacity rejections map to 429 and shutdown to 503; every other
// outcome, success or failure, is a 200 whose body carries the result.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	execReq := &model.Request{
		FunctionID:  req.FunctionID,
		Version:     req.Version,
		Flavor:      req.Flavor,
		Payload:     req.Payload,
		Profile:     req.Profile,
		TimeoutS:    req.TimeoutS,
		MaxAttempts: req.MaxAttempts,
	}
	if req.Cache != nil {
		execReq.CacheEnabled = req.Cache.Enabled
		execReq.CacheTTLS = req.Cache.TTLS
	}

	result, err := s.engine.Execute(r.Context(), execReq)
	if err != nil {
		// Malformed request: fails fast before admission.
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.writeJSON(w, statusForResult(result), result)
}

// statusForResult maps engine failure kinds onto HTTP status codes.
func statusForResult(res *model.Result) int {
	if res.Error == nil {
		return http.StatusOK
	}
	switch res.Error.Name {
	case "CapacityError":
		return http.StatusTooManyRequests
	case "ShutdownError":
		return http.StatusServiceUnavailable
	default:
		return http.StatusOK
	}
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	exec, err := s.store.GetExecution(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	if err != nil {
		s.logger.Error("get execution", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get execution")
		return
	}

	s.writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	executions, total, err := s.store.ListExecutions(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list executions", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}

	if executions == nil {
		executions = []*model.Execution{}
	}

	s.writeJSON(w, http.StatusOK, listExecutionsResponse{
		Executions: executions,
		Total:      total,
		Limit:      limit,
		Offset:     offset,
	})
}

// handleAbortExecution requests cancellation of an active execution.
func (s *Server) handleAbortExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if !s.engine.Abort(id, "client request") {
		s.writeError(w, http.StatusNotFound, "execution is not active")
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]string{"execution_id": id, "status": "aborting"})
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
