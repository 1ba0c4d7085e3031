package api

import (
	"net/http"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Total         int            `json:"total"`
	ByStatus      map[string]int `json:"by_status"`
	ByFlavor      map[string]int `json:"by_flavor"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
	CacheHits     int            `json:"cache_hits"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetExecutionStats(r.Context())
	if err != nil {
		s.logger.Error("get execution stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:         stats.Total,
		ByStatus:      stats.CountByStatus,
		ByFlavor:      stats.CountByFlavor,
		AvgDurationMS: stats.AvgDurationMS,
		CacheHits:     stats.CacheHits,
	})
}
