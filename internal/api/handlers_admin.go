package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/helmwind/browserpilot/internal/domain/session/model"
	"github.com/helmwind/browserpilot/internal/safety"
)

type securityCheckRequest struct {
	Code   string `json:"code"`
	Strict *bool  `json:"strict,omitempty"`
}

type securityCheckResponse struct {
	safety.Verdict
	Sanitized string `json:"sanitized"`
}

// handleSecurityCheck grades a script without executing it. The configured
// strict mode applies unless the request overrides it.
func (s *Server) handleSecurityCheck(w http.ResponseWriter, r *http.Request) {
	var req securityCheckRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Code == "" {
		writeError(w, r, fmt.Errorf("%w: code required", model.ErrInvalidParams))
		return
	}

	strict := s.cfg.SafetyStrict
	if req.Strict != nil {
		strict = *req.Strict
	}
	writeJSON(w, http.StatusOK, securityCheckResponse{
		Verdict:   safety.Check(req.Code, strict),
		Sanitized: safety.Sanitize(req.Code),
	})
}

func (s *Server) handleAdminSessions(w http.ResponseWriter, _ *http.Request) {
	snap := s.pool.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(snap),
		"sessions": snap,
	})
}

type streamInfo struct {
	Key      model.Key `json:"key"`
	Kind     string    `json:"kind"`
	Started  time.Time `json:"started"`
	LastBeat time.Time `json:"last_beat"`
}

func (s *Server) handleAdminStreams(w http.ResponseWriter, _ *http.Request) {
	entries := s.streams.Snapshot()
	out := make([]streamInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, streamInfo{
			Key:      e.Key,
			Kind:     string(e.Kind),
			Started:  e.Started,
			LastBeat: e.LastBeat,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(out),
		"streams": out,
	})
}

func (s *Server) handleAdminStats(w http.ResponseWriter, _ *http.Request) {
	stats := s.pool.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions":       stats,
		"streams":        len(s.streams.Snapshot()),
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}
