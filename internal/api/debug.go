package api

import (
	"net/http"
	"time"

	"hookrelay/internal/buildinfo"
)

// DebugJSON reports build metadata and the non-secret runtime configuration.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	cfg := s.Info
	if cfg == nil {
		cfg = map[string]any{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"build":  buildinfo.Info(),
		"time":   time.Now().UTC().Format(time.RFC3339),
		"config": cfg,
	})
}
