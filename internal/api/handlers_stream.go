package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/helmwind/browserpilot/internal/domain/session/model"
	"github.com/helmwind/browserpilot/internal/log"
	"github.com/helmwind/browserpilot/internal/stream"
	"github.com/helmwind/browserpilot/internal/webrtc"
)

// handleMJPEG serves a live multipart JPEG stream. Per-request fps, quality
// and w query parameters override the configured defaults.
func (s *Server) handleMJPEG(w http.ResponseWriter, r *http.Request) {
	key, err := sessionKey(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	params, err := mjpegParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// Resolve the session before committing to the multipart content type,
	// so missing sessions still get a JSON 404.
	if !s.pool.Has(key) {
		writeError(w, r, fmt.Errorf("session %s: %w", key, model.ErrSessionNotFound))
		return
	}

	w.Header().Set("Content-Type", stream.ContentType())
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusOK)

	if err := s.mjpeg.Serve(r.Context(), w, key, params); err != nil {
		s.logger.Warn().Err(err).
			Str(log.FieldSessionKey, key.String()).
			Str(log.FieldRequestID, log.RequestIDFromContext(r.Context())).
			Msg("mjpeg stream ended with error")
	}
}

func mjpegParams(r *http.Request) (stream.ServeParams, error) {
	var params stream.ServeParams
	q := r.URL.Query()

	parse := func(name string, max int) (int, error) {
		raw := q.Get(name)
		if raw == "" {
			return 0, nil
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > max {
			return 0, fmt.Errorf("%w: %s must be in 1..%d", model.ErrInvalidParams, name, max)
		}
		return n, nil
	}

	var err error
	if params.FPS, err = parse("fps", 30); err != nil {
		return stream.ServeParams{}, err
	}
	if params.Quality, err = parse("quality", 100); err != nil {
		return stream.ServeParams{}, err
	}
	if params.MaxWidth, err = parse("w", 4096); err != nil {
		return stream.ServeParams{}, err
	}
	if params.MaxHeight, err = parse("h", 4096); err != nil {
		return stream.ServeParams{}, err
	}
	return params, nil
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	key, err := sessionKey(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	offer, err := s.rtc.CreateOffer(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, offer)
}

type answerRequest struct {
	SDP string `json:"sdp"`
}

func (s *Server) handleWebRTCAnswer(w http.ResponseWriter, r *http.Request) {
	key, err := sessionKey(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req answerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.SDP == "" {
		writeError(w, r, fmt.Errorf("%w: sdp required", model.ErrInvalidParams))
		return
	}
	if err := s.rtc.SetAnswer(key, req.SDP); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"accepted": true})
}

func (s *Server) handleWebRTCAddCandidate(w http.ResponseWriter, r *http.Request) {
	key, err := sessionKey(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var cand webrtc.RemoteCandidate
	if err := decodeBody(r, &cand); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.rtc.AddRemoteCandidate(key, cand); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (s *Server) handleWebRTCCandidates(w http.ResponseWriter, r *http.Request) {
	key, err := sessionKey(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.rtc.LocalCandidates(key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleWebRTCClose(w http.ResponseWriter, r *http.Request) {
	key, err := sessionKey(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.rtc.Close(key)
	w.WriteHeader(http.StatusNoContent)
}
