package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.CacheStats())
}

// handleInvalidateCache removes one entry by its content key. There is no
// invalidate-by-function operation: the cache is content-addressed and keeps
// no function index. DELETE /v1/cache is the documented bulk alternative.
func (s *Server) handleInvalidateCache(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	s.engine.InvalidateCache(key)
	s.writeJSON(w, http.StatusOK, map[string]string{"invalidated": key})
}

func (s *Server) handlePurgeCache(w http.ResponseWriter, _ *http.Request) {
	s.engine.PurgeCache()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "purged"})
}
