package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/helmwind/browserpilot/internal/domain/session/model"
	"github.com/helmwind/browserpilot/internal/domain/session/pool"
)

// sessionKey resolves the session key from the authenticated tenant and the
// profile ID in the path.
func sessionKey(r *http.Request) (model.Key, error) {
	tenant, ok := tenantFrom(r.Context())
	if !ok {
		return model.Key{}, fmt.Errorf("%w: no tenant in context", model.ErrInvalidParams)
	}
	raw := chi.URLParam(r, "profileID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return model.Key{}, fmt.Errorf("%w: profile id %q", model.ErrInvalidParams, raw)
	}
	return model.Key{Tenant: tenant, Profile: model.ProfileID(id)}, nil
}

type createSessionRequest struct {
	Headless         bool          `json:"headless,omitempty"`
	ExpiresIn        model.Seconds `json:"expires_in,omitempty"`
	IdleTimeout      model.Seconds `json:"idle_timeout,omitempty"`
	HeartbeatTimeout model.Seconds `json:"heartbeat_timeout,omitempty"`
}

func (req createSessionRequest) options() pool.CreateOptions {
	opts := pool.CreateOptions{
		Headless:  req.Headless,
		ExpiresIn: req.ExpiresIn.Duration(),
	}
	if req.IdleTimeout > 0 || req.HeartbeatTimeout > 0 {
		policy := model.DefaultCleanupPolicy()
		if d := req.IdleTimeout.Duration(); d > 0 {
			policy.MaxIdle = d
		}
		if d := req.HeartbeatTimeout.Duration(); d > 0 {
			policy.MaxNoHeartbeat = d
		}
		opts.Policy = &policy
	}
	return opts
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	key, err := sessionKey(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req createSessionRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}

	existed := s.pool.Has(key)
	sess, err := s.pool.Create(r.Context(), key, req.options())
	if err != nil {
		writeError(w, r, err)
		return
	}

	code := http.StatusCreated
	if existed {
		code = http.StatusOK
	}
	writeJSON(w, code, sess.Status())
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	key, err := sessionKey(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := s.pool.Get(key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Status())
}

func (s *Server) handleReleaseSession(w http.ResponseWriter, r *http.Request) {
	key, err := sessionKey(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	force := r.URL.Query().Get("force") == "true"
	if err := s.pool.Release(r.Context(), key, force, model.RClientRelease); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"released": true})
}

type heartbeatRequest struct {
	ClientID string `json:"client_id"`
}

type heartbeatResponse struct {
	ServerTime    time.Time            `json:"server_time"`
	NextInterval  model.Seconds        `json:"next_interval"`
	ActiveClients int                  `json:"active_clients"`
	State         model.LifecycleState `json:"state"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	key, err := sessionKey(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req heartbeatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.ClientID == "" {
		writeError(w, r, fmt.Errorf("%w: client_id required", model.ErrInvalidParams))
		return
	}

	ack, err := s.pool.Heartbeat(key, req.ClientID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, heartbeatAck(ack))
}

func heartbeatAck(ack model.HeartbeatAck) heartbeatResponse {
	return heartbeatResponse{
		ServerTime:    ack.ServerTime,
		NextInterval:  model.Seconds(ack.NextInterval.Seconds()),
		ActiveClients: ack.ActiveClients,
		State:         ack.State,
	}
}

type manualStartRequest struct {
	Priority    model.Priority `json:"priority"`
	Reason      string         `json:"reason,omitempty"`
	EstDuration model.Seconds  `json:"estimated_duration,omitempty"`
}

func (s *Server) handleStartManual(w http.ResponseWriter, r *http.Request) {
	key, err := sessionKey(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req manualStartRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	sess, err := s.pool.Get(key)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := sess.StartManual(model.ManualRequest{
		Priority:    req.Priority,
		Reason:      req.Reason,
		EstDuration: req.EstDuration.Duration(),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type resumeRequest struct {
	Force  bool   `json:"force,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type resumeResponse struct {
	Resumed        bool          `json:"resumed"`
	ManualDuration model.Seconds `json:"manual_duration"`
}

func (s *Server) handleResumeAutomation(w http.ResponseWriter, r *http.Request) {
	key, err := sessionKey(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req resumeRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	sess, err := s.pool.Get(key)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := sess.ResumeAutomation(model.ResumeRequest{Force: req.Force, Reason: req.Reason})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resumeResponse{
		Resumed:        res.Resumed,
		ManualDuration: model.Seconds(res.Duration.Seconds()),
	})
}

type commandResponse struct {
	Kind       model.CommandKind `json:"type"`
	Data       any               `json:"data,omitempty"`
	DurationMS float64           `json:"duration_ms"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	key, err := sessionKey(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var cmd model.Command
	if err := decodeBody(r, &cmd); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.disp.Dispatch(r.Context(), key, cmd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, commandResponse{
		Kind:       res.Kind,
		Data:       res.Data,
		DurationMS: float64(res.Duration.Milliseconds()),
	})
}
