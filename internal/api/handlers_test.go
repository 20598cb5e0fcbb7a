package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmwind/browserpilot/internal/config"
	"github.com/helmwind/browserpilot/internal/domain/session/model"
	"github.com/helmwind/browserpilot/internal/webrtc"
)

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Get(f.ts.URL + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeJSON(t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t, func(cfg *config.AppConfig) {
		cfg.AuthDisabled = false
		cfg.AuthSecret = "test-secret"
	})

	resp, err := http.Get(f.ts.URL + "/api/v1/sessions/42")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuthBearerToken(t *testing.T) {
	f := newFixture(t, func(cfg *config.AppConfig) {
		cfg.AuthDisabled = false
		cfg.AuthSecret = "test-secret"
	})

	req, err := http.NewRequest(http.MethodPost, f.ts.URL+"/api/v1/sessions/42", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "test-secret", 9))

	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// The tenant came from the token, not from any header.
	_, err = f.pool.Get(model.Key{Tenant: 9, Profile: 42})
	assert.NoError(t, err)
}

func TestAuthRejectsForgedToken(t *testing.T) {
	f := newFixture(t, func(cfg *config.AppConfig) {
		cfg.AuthDisabled = false
		cfg.AuthSecret = "test-secret"
	})

	req, err := http.NewRequest(http.MethodPost, f.ts.URL+"/api/v1/sessions/42", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "wrong-secret", 9))

	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateAndStatus(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.request(t, http.MethodPost, "/api/v1/sessions/42", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Creating again returns the existing session.
	resp = f.request(t, http.MethodPost, "/api/v1/sessions/42", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.request(t, http.MethodGet, "/api/v1/sessions/42", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeJSON(t, resp)
	assert.Equal(t, "active", body["state"])
}

func TestStatusUnknownSession(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.request(t, http.MethodGet, "/api/v1/sessions/42", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateUnknownProfile(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.request(t, http.MethodPost, "/api/v1/sessions/7", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateBadProfileID(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.request(t, http.MethodPost, "/api/v1/sessions/not-a-number", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHeartbeat(t *testing.T) {
	f := newFixture(t, nil)
	f.request(t, http.MethodPost, "/api/v1/sessions/42", nil)

	resp := f.request(t, http.MethodPost, "/api/v1/sessions/42/heartbeat",
		map[string]string{"client_id": "client-a"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeJSON(t, resp)
	assert.Equal(t, float64(1), body["active_clients"])

	// Missing client_id is rejected before touching the pool.
	resp = f.request(t, http.MethodPost, "/api/v1/sessions/42/heartbeat", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHeartbeatNeverCreates(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.request(t, http.MethodPost, "/api/v1/sessions/42/heartbeat",
		map[string]string{"client_id": "client-a"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.False(t, f.pool.Has(model.Key{Tenant: 1, Profile: 42}))
}

func TestCommandNavigate(t *testing.T) {
	f := newFixture(t, nil)
	f.request(t, http.MethodPost, "/api/v1/sessions/42", nil)

	resp := f.request(t, http.MethodPost, "/api/v1/sessions/42/commands", map[string]any{
		"type":   "navigate",
		"params": map[string]any{"url": "https://example.test/"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeJSON(t, resp)
	assert.Equal(t, "navigate", body["type"])
}

func TestCommandUnknownKind(t *testing.T) {
	f := newFixture(t, nil)
	f.request(t, http.MethodPost, "/api/v1/sessions/42", nil)

	resp := f.request(t, http.MethodPost, "/api/v1/sessions/42/commands",
		map[string]any{"type": "teleport"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCommandUnsafeScript(t *testing.T) {
	f := newFixture(t, nil)
	f.request(t, http.MethodPost, "/api/v1/sessions/42", nil)

	resp := f.request(t, http.MethodPost, "/api/v1/sessions/42/commands", map[string]any{
		"type":   "evaluate",
		"params": map[string]any{"code": "eval(payload)"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestManualFlow(t *testing.T) {
	f := newFixture(t, nil)
	f.request(t, http.MethodPost, "/api/v1/sessions/42", nil)

	resp := f.request(t, http.MethodPost, "/api/v1/sessions/42/manual/start",
		map[string]any{"reason": "operator takeover"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeJSON(t, resp)
	assert.Equal(t, true, body["granted"])
	assert.Equal(t, "high", body["priority"])

	resp = f.request(t, http.MethodPost, "/api/v1/sessions/42/manual/stop", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeJSON(t, resp)
	assert.Equal(t, true, body["resumed"])
}

func TestRelease(t *testing.T) {
	f := newFixture(t, nil)
	f.request(t, http.MethodPost, "/api/v1/sessions/42", nil)

	resp := f.request(t, http.MethodDelete, "/api/v1/sessions/42?force=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.request(t, http.MethodGet, "/api/v1/sessions/42", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSecurityCheck(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.request(t, http.MethodPost, "/api/v1/security/check",
		map[string]any{"code": "document.title"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeJSON(t, resp)
	assert.Equal(t, true, body["safe_to_run"])

	resp = f.request(t, http.MethodPost, "/api/v1/security/check",
		map[string]any{"code": "eval(document.cookie)"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeJSON(t, resp)
	assert.Equal(t, false, body["safe_to_run"])
}

func TestAdminStats(t *testing.T) {
	f := newFixture(t, nil)
	f.request(t, http.MethodPost, "/api/v1/sessions/42", nil)

	resp := f.request(t, http.MethodGet, "/api/v1/admin/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeJSON(t, resp)
	sessions, ok := body["sessions"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), sessions["total"])
}

func TestAdminSessions(t *testing.T) {
	f := newFixture(t, nil)
	f.request(t, http.MethodPost, "/api/v1/sessions/42", nil)

	resp := f.request(t, http.MethodGet, "/api/v1/admin/sessions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeJSON(t, resp)
	assert.Equal(t, float64(1), body["count"])
}

func TestMJPEGUnknownSession(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.request(t, http.MethodGet, "/api/v1/sessions/42/stream/mjpeg", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMJPEGBadParams(t *testing.T) {
	f := newFixture(t, nil)
	f.request(t, http.MethodPost, "/api/v1/sessions/42", nil)

	resp := f.request(t, http.MethodGet, "/api/v1/sessions/42/stream/mjpeg?fps=99", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebRTCCandidateWithoutOffer(t *testing.T) {
	f := newFixture(t, nil)
	f.request(t, http.MethodPost, "/api/v1/sessions/42", nil)

	// Candidates outrunning the offer are accepted and staged for the
	// negotiation that follows.
	resp := f.request(t, http.MethodPost, "/api/v1/sessions/42/webrtc/candidates",
		map[string]string{"candidate": "candidate:1 1 udp 2130706431 192.168.0.2 46243 typ host"})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, true, decodeJSON(t, resp)["accepted"])
}

func TestStatusForMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{model.ErrSessionNotFound, http.StatusNotFound},
		{model.ErrProfileNotFound, http.StatusNotFound},
		{webrtc.ErrNoNegotiation, http.StatusNotFound},
		{model.ErrInvalidParams, http.StatusBadRequest},
		{model.ErrUnknownCommand, http.StatusBadRequest},
		{model.ErrPriorityConflict, http.StatusConflict},
		{model.ErrManualModeRequired, http.StatusConflict},
		{model.ErrSessionTerminated, http.StatusConflict},
		{model.ErrScriptUnsafe, http.StatusUnprocessableEntity},
		{model.ErrPageClosed, http.StatusGone},
		{model.ErrFingerprintLimit, http.StatusTooManyRequests},
		{model.ErrDriverOpenFailed, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}
